package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/mesh"
	"meshreplier/internal/transport"
)

// MaxTextBytes is the largest text payload the firmware accepts.
const MaxTextBytes = 200

const (
	readTimeout       = 30 * time.Second
	writeTimeout      = 8 * time.Second
	keepAliveInterval = 25 * time.Second
	maxBackoff        = 15 * time.Second

	// maxIdleReads consecutive read timeouts mark the link as dead.
	maxIdleReads = 3

	// frameEventQueueSize bounds raw frame events waiting for the bus.
	frameEventQueueSize = 64
)

var ErrServiceStopped = errors.New("radio service stopped")

type sendRequest struct {
	reply  mesh.Reply
	result chan error
}

// Service owns the transport: it keeps the link up, decodes inbound frames onto
// the bus and serializes outbound writes.
type Service struct {
	logger    *slog.Logger
	transport transport.Transport
	codec     Codec
	bus       bus.MessageBus
	outbox    chan sendRequest
	stopped   chan struct{}
	// frames feeds raw.frame.* events to the bus off the read and write paths.
	frames chan connectors.RawFrame
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec Codec) *Service {
	return &Service{
		logger:    logger,
		transport: tr,
		codec:     codec,
		bus:       b,
		outbox:    make(chan sendRequest, 128),
		stopped:   make(chan struct{}),
		frames:    make(chan connectors.RawFrame, frameEventQueueSize),
	}
}

// Connect opens the transport once. Startup uses it to fail fast when the
// radio is missing; later drops are handled by the background connector.
func (s *Service) Connect(ctx context.Context) error {
	s.publishConnStatus(connectors.ConnectionStateConnecting, nil)
	if err := s.transport.Connect(ctx); err != nil {
		s.publishConnStatus(connectors.ConnectionStateDisconnected, err)

		return fmt.Errorf("connect %s transport: %w", s.transport.Name(), err)
	}

	return nil
}

func (s *Service) Start(ctx context.Context) {
	go s.runFrameEvents(ctx)
	go s.runOutbox(ctx)
	go s.runConnector(ctx)
}

// Close releases the transport. Safe to call after ctx cancellation.
func (s *Service) Close() error {
	return s.transport.Close()
}

// SendText queues reply for transmission and waits for the write result.
func (s *Service) SendText(ctx context.Context, reply mesh.Reply) error {
	if strings.TrimSpace(reply.Text) == "" {
		return errors.New("message body is empty")
	}
	if n := len(reply.Text); n > MaxTextBytes {
		return fmt.Errorf("message body exceeds %d bytes: %d", MaxTextBytes, n)
	}

	req := sendRequest{reply: reply, result: make(chan error, 1)}
	select {
	case s.outbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrServiceStopped
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrServiceStopped
	}
}

func (s *Service) runConnector(ctx context.Context) {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		s.publishConnStatus(connectors.ConnectionStateConnecting, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.publishConnStatus(connectors.ConnectionStateReconnecting, err)
			s.logger.Error("transport connect failed", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = time.Second
		s.publishConnStatus(connectors.ConnectionStateConnected, nil)
		if err := s.sendWantConfig(ctx); err != nil {
			s.logger.Warn("want_config send failed", "error", err)
		}

		keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
		go s.runKeepAlive(keepAliveCtx)
		err := s.runReader(ctx)
		cancelKeepAlive()
		_ = s.transport.Close()
		if ctx.Err() != nil {
			s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}
		s.logger.Warn("radio link lost", "error", err)
		s.publishConnStatus(connectors.ConnectionStateReconnecting, err)

		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *Service) runReader(ctx context.Context) error {
	idle := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		payload, err := s.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && isReadTimeout(err) {
				idle++
				if idle < maxIdleReads {
					s.logger.Debug("radio idle", "idle_reads", idle)
					continue
				}
				return fmt.Errorf("no frames for %s: %w", time.Duration(idle)*readTimeout, err)
			}
			return err
		}
		idle = 0

		s.emitFrame(connectors.FrameIn, payload)
		decoded, err := s.codec.DecodeFromRadio(payload)
		if err != nil {
			s.logger.Warn("decode fromradio failed", "error", err)
			continue
		}
		if decoded.WantConfigReady {
			s.logger.Info("initial config download completed", "config_id", decoded.ConfigCompleteID)
			s.bus.Publish(connectors.TopicConfigComplete, connectors.ConfigComplete{ID: decoded.ConfigCompleteID})
		}

		if decoded.LocalNode != nil {
			s.bus.Publish(connectors.TopicLocalNode, *decoded.LocalNode)
		}
		if decoded.NodeUpdate != nil {
			s.bus.Publish(connectors.TopicNodeInfo, *decoded.NodeUpdate)
		}
		if decoded.Packet != nil {
			s.bus.Publish(connectors.TopicMeshPacket, *decoded.Packet)
		}
	}
}

func (s *Service) runKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := s.codec.EncodeHeartbeat()
			if err != nil {
				s.logger.Debug("encode heartbeat failed", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = s.transport.WriteFrame(writeCtx, payload)
			cancel()
			if err != nil {
				s.logger.Debug("heartbeat write failed", "error", err)
				continue
			}
			s.emitFrame(connectors.FrameOut, payload)
		}
	}
}

func (s *Service) runOutbox(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.outbox:
			// The caller is released before any bus traffic: it may be the
			// goroutine the bus is waiting on to drain its subscription.
			payload, err := s.handleSend(ctx, req.reply)
			req.result <- err
			if err == nil {
				s.emitFrame(connectors.FrameOut, payload)
			}
		}
	}
}

func (s *Service) handleSend(ctx context.Context, reply mesh.Reply) ([]byte, error) {
	encoded, err := s.codec.EncodeText(reply)
	if err != nil {
		return nil, fmt.Errorf("encode outgoing message: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = s.transport.WriteFrame(writeCtx, encoded.Payload)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("send outgoing frame: %w", err)
	}
	s.logger.Debug("text sent", "to", reply.To.String(), "packet_id", encoded.PacketID, "want_ack", encoded.WantAck)

	return encoded.Payload, nil
}

// emitFrame queues a raw frame event without blocking. Frame events are
// diagnostics, so they are dropped when the queue is full.
func (s *Service) emitFrame(dir connectors.FrameDirection, payload []byte) {
	select {
	case s.frames <- rawFrame(dir, payload):
	default:
		s.logger.Debug("raw frame event dropped", "direction", dir, "len", len(payload))
	}
}

func (s *Service) runFrameEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frames:
			topic := connectors.TopicRawFrameIn
			if frame.Direction == connectors.FrameOut {
				topic = connectors.TopicRawFrameOut
			}
			s.bus.TryPublish(topic, frame)
		}
	}
}

func (s *Service) sendWantConfig(ctx context.Context) error {
	payload, err := s.codec.EncodeWantConfig()
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := s.transport.WriteFrame(writeCtx, payload); err != nil {
		return err
	}
	s.emitFrame(connectors.FrameOut, payload)

	return nil
}

func (s *Service) publishConnStatus(state connectors.ConnectionState, err error) {
	status := connectors.ConnStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(connectors.TopicConnStatus, status)
}

func rawFrame(dir connectors.FrameDirection, payload []byte) connectors.RawFrame {
	return connectors.RawFrame{Direction: dir, Hex: strings.ToUpper(hex.EncodeToString(payload)), Len: len(payload)}
}

func isReadTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}

func nextBackoff(d time.Duration) time.Duration {
	if d >= maxBackoff {
		return maxBackoff
	}
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}

	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
