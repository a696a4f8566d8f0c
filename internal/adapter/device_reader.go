// Package adapter contains device, output, and manifest adapters for the
// salvage CLI.
package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	m "salvage.dev/pkg/salvage/internal/model"
)

// DefaultBadSectorSkipUnit is the largest contiguous unreadable region the
// reader will zero-fill before giving up on the device.
const DefaultBadSectorSkipUnit = 1 * m.MiB

// DeviceReader abstracts read-only access to the source device so the
// carving engine can be tested against in-memory images. The source is
// never written.
type DeviceReader interface {
	// Path returns the device path as given at open time.
	Path() string

	// Size returns the device size in bytes.
	Size() uint64

	// BlockSize returns the logical block size used for alignment and
	// bad-sector probing.
	BlockSize() uint32

	// ReadNext fills buf from the current sequential position and
	// advances it. Returns io.EOF once the position reaches the end of
	// the device. Not safe for concurrent use; the scan producer is the
	// only sequential reader.
	ReadNext(ctx context.Context, buf []byte) (int, error)

	// Skip advances the sequential position by n bytes.
	Skip(n uint64)

	// ReadRange re-reads an arbitrary extent, used by validation and
	// extraction. Safe for concurrent use. May be served from the page
	// cache even when the sequential scan uses direct I/O.
	ReadRange(ctx context.Context, start m.ByteOffset, buf []byte) (int, error)

	Close() error
}

// LocalDeviceReader reads a block device or disk image through the
// local filesystem. Unreadable regions smaller than the bad-sector skip
// unit are zero-filled and logged; anything larger aborts the pass.
type LocalDeviceReader struct {
	path      string
	size      uint64
	blockSize uint32
	badUnit   uint64

	// seq serves ReadNext and may carry O_DIRECT; rnd serves ReadRange
	// and bad-sector probing through the page cache.
	seq io.ReaderAt
	rnd io.ReaderAt

	mu      sync.Mutex
	pos     uint64
	closers []io.Closer
}

// NewLocalDeviceReader opens path read-only. With directIO set the
// sequential handle bypasses the page cache on platforms that support it.
func NewLocalDeviceReader(path string, directIO bool) (*LocalDeviceReader, error) {
	rnd, err := os.Open(path)
	if err != nil {
		return nil, mapOpenError(path, err)
	}

	info, err := rnd.Stat()
	if err != nil {
		_ = rnd.Close()
		return nil, &m.DeviceError{Kind: m.DeviceNotFound, Path: path, Err: err}
	}

	if !readableDevice(info.Mode()) {
		_ = rnd.Close()
		return nil, &m.DeviceError{Kind: m.DeviceNotABlockDevice, Path: path}
	}

	// Regular stat sizes are zero for block devices; seek to the end
	// instead, which works for both devices and image files.
	end, err := rnd.Seek(0, io.SeekEnd)
	if err != nil {
		_ = rnd.Close()
		return nil, &m.DeviceError{Kind: m.DeviceUnreadable, Path: path, Err: err}
	}

	adviseSequential(rnd)

	r := &LocalDeviceReader{
		path:      path,
		size:      uint64(end),
		blockSize: blockSizeFor(path),
		badUnit:   DefaultBadSectorSkipUnit,
		seq:       rnd,
		rnd:       rnd,
		closers:   []io.Closer{rnd},
	}

	if directIO {
		seq, err := openDirect(path)
		if err != nil {
			slog.Warn("direct I/O unavailable, falling back to cached reads", "device", path, "error", err)
		} else if seq != nil {
			r.seq = seq
			r.closers = append(r.closers, seq)
		}
	}

	return r, nil
}

// NewDeviceFromReaderAt wraps an in-memory image as a device. Used by
// tests; read errors from src go through the same bad-sector repair as
// real devices.
func NewDeviceFromReaderAt(src io.ReaderAt, size uint64, path string) *LocalDeviceReader {
	return &LocalDeviceReader{
		path:      path,
		size:      size,
		blockSize: 512,
		badUnit:   DefaultBadSectorSkipUnit,
		seq:       src,
		rnd:       src,
	}
}

// Path implements DeviceReader.
func (r *LocalDeviceReader) Path() string {
	return r.path
}

// Size implements DeviceReader.
func (r *LocalDeviceReader) Size() uint64 {
	return r.size
}

// BlockSize implements DeviceReader.
func (r *LocalDeviceReader) BlockSize() uint32 {
	return r.blockSize
}

// ReadNext implements DeviceReader.
func (r *LocalDeviceReader) ReadNext(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	pos := r.pos
	r.mu.Unlock()

	if pos >= r.size {
		return 0, io.EOF
	}

	if remaining := r.size - pos; uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	n, err := r.readRepaired(r.seq, buf, pos)
	if err != nil && isAlignmentError(err) {
		// The direct handle rejects unaligned tails; retry cached.
		slog.Debug("direct read rejected, retrying through page cache", "device", r.path, "offset", pos)
		n, err = r.readRepaired(r.rnd, buf, pos)
	}

	r.mu.Lock()
	r.pos = pos + uint64(n)
	r.mu.Unlock()

	return n, err
}

// Skip implements DeviceReader.
func (r *LocalDeviceReader) Skip(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pos += n
	if r.pos > r.size {
		r.pos = r.size
	}
}

// ReadRange implements DeviceReader.
func (r *LocalDeviceReader) ReadRange(ctx context.Context, start m.ByteOffset, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if uint64(start) >= r.size {
		return 0, io.EOF
	}

	if remaining := r.size - uint64(start); uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	return r.readRepaired(r.rnd, buf, uint64(start))
}

// Close implements DeviceReader.
func (r *LocalDeviceReader) Close() error {
	var firstErr error

	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.closers = nil

	return firstErr
}

// readRepaired reads len(buf) bytes at off. On a read error it degrades
// to per-block probing: unreadable blocks are zero-filled until a
// contiguous bad run reaches the skip unit, which is fatal.
func (r *LocalDeviceReader) readRepaired(src io.ReaderAt, buf []byte, off uint64) (int, error) {
	n, err := src.ReadAt(buf, int64(off))
	if err == nil || err == io.EOF {
		return n, nil
	}

	slog.Warn("read error, probing per block", "device", r.path, "offset", off+uint64(n), "error", err)

	return r.probeBlocks(src, buf, off, n)
}

func (r *LocalDeviceReader) probeBlocks(src io.ReaderAt, buf []byte, off uint64, healthy int) (int, error) {
	block := int(r.blockSize)

	// Restart probing at the block containing the first unread byte.
	done := healthy - healthy%block

	var badRun uint64

	badStart := off

	for done < len(buf) {
		end := done + block
		if end > len(buf) {
			end = len(buf)
		}

		_, err := src.ReadAt(buf[done:end], int64(off)+int64(done))
		if err != nil && err != io.EOF {
			if badRun == 0 {
				badStart = off + uint64(done)
			}

			badRun += uint64(end - done)
			if badRun >= r.badUnit {
				return done, &m.DeviceError{Kind: m.DeviceUnreadable, Path: r.path, Offset: m.ByteOffset(badStart), Err: err}
			}

			zeroFill(buf[done:end])
		} else {
			if badRun > 0 {
				slog.Warn("zero-filled unreadable region", "device", r.path, "offset", badStart, "length", badRun)
			}

			badRun = 0
		}

		done = end
	}

	if badRun > 0 {
		slog.Warn("zero-filled unreadable region", "device", r.path, "offset", badStart, "length", badRun)
	}

	return len(buf), nil
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// blockSizeFor guesses the logical block size: modern block devices use
// 4096, disk images are treated as legacy 512.
func blockSizeFor(path string) uint32 {
	if strings.HasPrefix(path, "/dev/") {
		return 4096
	}

	return 512
}

func readableDevice(mode os.FileMode) bool {
	if mode.IsRegular() {
		return true
	}

	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}

func mapOpenError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return &m.DeviceError{Kind: m.DeviceNotFound, Path: path, Err: err}
	case os.IsPermission(err):
		return &m.DeviceError{Kind: m.DevicePermissionDenied, Path: path, Err: err}
	}

	return &m.DeviceError{Kind: m.DeviceUnreadable, Path: path, Err: fmt.Errorf("open: %w", err)}
}
