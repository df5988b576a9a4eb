// Package platform holds OS specific helpers for the replier process.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrStateLocked indicates another process already owns the state directory.
var ErrStateLocked = errors.New("state directory locked by another process")

// ErrStateLockUnsupported indicates the current platform has no lock backend implementation.
var ErrStateLockUnsupported = errors.New("state lock unsupported")

// StateLock represents an acquired lock on a state directory.
type StateLock interface {
	Path() string
	Release() error
}

// AcquireStateLock takes an exclusive, non-blocking lock on <dir>/<name>.lock.
// The lock is dropped by the OS when the holding process exits.
func AcquireStateLock(dir, name string) (StateLock, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("state lock: empty directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	return acquireStateLock(stateLockPath(dir, name))
}

func stateLockPath(dir, name string) string {
	return filepath.Join(dir, normalizeLockComponent(name, "instance")+".lock")
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
