package integrator

import (
	"errors"
	"os"
	"syscall"
)

// isCrossDeviceError reports whether err is the result of os.Rename failing
// because src and dst live on different filesystems (EXDEV), the one case
// that requires falling back to a copy+remove.
func isCrossDeviceError(err error) bool {
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return false
	}
	return errors.Is(linkErr.Err, syscall.EXDEV)
}
