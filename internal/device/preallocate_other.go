//go:build !linux

package device

import "os"

// preallocate reserves size bytes for f. Non-Linux targets have no portable
// fallocate-equivalent reachable from golang.org/x/sys without per-OS
// branches beyond what this module needs, so a sparse truncate is used; the
// image is fully zero-filled logically either way (reads past the
// previous EOF return zero bytes on every platform this targets).
func preallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}
