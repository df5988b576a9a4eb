// Package transport moves length-prefixed Meshtastic frames to and from a radio.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by frame operations before Connect succeeds.
var ErrNotConnected = errors.New("transport is not connected")

type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// StatusTargetResolver is implemented by transports that can describe their endpoint.
type StatusTargetResolver interface {
	StatusTarget() string
}

// Target returns a printable endpoint for tr, falling back to its name.
func Target(tr Transport) string {
	if r, ok := tr.(StatusTargetResolver); ok {
		if target := r.StatusTarget(); target != "" {
			return target
		}
	}

	return tr.Name()
}
