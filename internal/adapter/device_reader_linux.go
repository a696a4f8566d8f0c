//go:build linux

package adapter

import (
	"errors"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens a second handle with O_DIRECT for the sequential scan.
func openDirect(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_DIRECT, 0)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// adviseSequential tells the kernel the scan reads the device front to
// back exactly once, so read-ahead helps and caching does not.
func adviseSequential(f *os.File) {
	fd := int(f.Fd())

	if err := unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		slog.Debug("fadvise sequential failed", "error", err)
	}

	if err := unix.Fadvise(fd, 0, 0, unix.FADV_NOREUSE); err != nil {
		slog.Debug("fadvise noreuse failed", "error", err)
	}
}

// isAlignmentError reports whether a direct-I/O read was rejected for an
// unaligned buffer, offset, or length.
func isAlignmentError(err error) bool {
	return errors.Is(err, unix.EINVAL)
}
