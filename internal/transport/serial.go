package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialPort = "/dev/ttyUSB0"
	DefaultSerialBaud = 115200

	defaultSerialReadTimeout = 300 * time.Millisecond
)

type SerialTransport struct {
	portName string
	baudRate int

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	if portName == "" {
		portName = DefaultSerialPort
	}
	if baudRate == 0 {
		baudRate = DefaultSerialBaud
	}

	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("%s@%d", t.portName, t.baudRate)
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := transportLogger("serial", "port", t.portName, "baud", t.baudRate)

	if t.port != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	logger.Info("opening serial port")
	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		logger.Warn("open serial port failed", "error", err)

		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()

		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	logger.Info("serial port opened")

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		transportLogger("serial", "port", t.portName).Warn("close failed", "error", err)

		return err
	}

	return nil
}

func (t *SerialTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	port, err := t.currentPort()
	if err != nil {
		return nil, err
	}

	return readFrame(func(buf []byte) error {
		return readFullContext(ctx, port, buf)
	})
}

func (t *SerialTransport) WriteFrame(ctx context.Context, payload []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}

	return t.port, nil
}

// readFullContext polls r until buf is filled. Serial reads return 0 bytes on
// timeout, which is the point where ctx gets rechecked.
func readFullContext(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}

	return nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}
