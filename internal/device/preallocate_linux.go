//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for f using fallocate(2) where available,
// falling back to a plain truncate if the filesystem doesn't support it
// (e.g. tmpfs on some kernels, or FAT-mounted images).
func preallocate(f *os.File, size int64) error {
	if size == 0 {
		return f.Truncate(0)
	}
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == nil {
		return nil
	}
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		return f.Truncate(size)
	}
	return f.Truncate(size)
}
