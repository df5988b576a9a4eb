//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type unixStateLock struct {
	path string
	file *os.File
}

func acquireStateLock(path string) (StateLock, error) {
	// #nosec G304 -- path is built from the configured state directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if isUnixLockContention(err) {
			return nil, fmt.Errorf("%w: %s", ErrStateLocked, path)
		}

		return nil, fmt.Errorf("acquire state file lock: %w", err)
	}

	return &unixStateLock{path: path, file: file}, nil
}

func (l *unixStateLock) Path() string {
	return l.path
}

func (l *unixStateLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	fd := int(l.file.Fd())
	unlockErr := unix.Flock(fd, unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil && !errors.Is(unlockErr, unix.EBADF) {
		return fmt.Errorf("unlock state file lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close state lock file: %w", closeErr)
	}

	return nil
}

func isUnixLockContention(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}
