package persistence

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultQueueCapacity = 256
	maxWriteAttempts     = 3
	retryStep            = 300 * time.Millisecond
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes database writes on one goroutine so bus consumers
// never block on sqlite.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
	}
}

// Enqueue never blocks the caller. When the buffer is full the command is
// handed off to a goroutine and may run out of order.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		w.logger.Warn("db write queue full", "cmd", name)
		go func() { w.queue <- cmd }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == maxWriteAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * retryStep):
		}
	}
}
