//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

func acquireStateLock(_ string) (StateLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrStateLockUnsupported, runtime.GOOS)
}
