package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFramePayload is the largest FromRadio/ToRadio message a node puts on the
// stream. Longer length fields mean we locked onto noise.
const MaxFramePayload = 512

var frameHeader = [2]byte{0x94, 0xC3}

type readFullFunc func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxFramePayload {
		return nil, fmt.Errorf("frame payload size %d out of range 1..%d", len(payload), MaxFramePayload)
	}

	frame := make([]byte, 4+len(payload))
	copy(frame, frameHeader[:])
	// #nosec G115 -- length is bounded by MaxFramePayload above.
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	return frame, nil
}

// readFrame returns the next payload on the stream. Bytes before a header,
// and headers carrying an impossible length, are skipped; the radio mixes
// frames with plain debug console output on serial links.
func readFrame(readFull readFullFunc) ([]byte, error) {
	for {
		if err := resyncToHeader(readFull); err != nil {
			return nil, err
		}

		var lenBuf [2]byte
		if err := readFull(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		ln := int(binary.BigEndian.Uint16(lenBuf[:]))
		if ln == 0 || ln > MaxFramePayload {
			continue
		}

		payload := make([]byte, ln)
		if err := readFull(payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}

		return payload, nil
	}
}

func resyncToHeader(readFull readFullFunc) error {
	var (
		buf  [1]byte
		prev byte
	)
	for {
		if err := readFull(buf[:]); err != nil {
			return fmt.Errorf("read frame header: %w", err)
		}
		if prev == frameHeader[0] && buf[0] == frameHeader[1] {
			return nil
		}
		prev = buf[0]
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
