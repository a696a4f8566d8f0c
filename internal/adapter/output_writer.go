package adapter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/disk"

	m "salvage.dev/pkg/salvage/internal/model"
)

// minFreeSpace is the free-space floor below which extraction refuses to
// start. Recovered images routinely reach hundreds of megabytes.
const minFreeSpace = 64 * m.MiB

// OutputWriter creates recovered files in the output directory. It is
// the only component allowed to write there.
type OutputWriter interface {
	// Dir returns the output directory path.
	Dir() string

	// Create opens a new recovered file. Names never collide: a numeric
	// suffix is appended when a file of the derived name already exists.
	Create(format m.FileFormat, sequence int, headerOffset m.ByteOffset) (RecoveredSink, error)
}

// RecoveredSink is one in-flight output file. On success the caller
// commits; any other outcome must abort, which removes the partial file.
type RecoveredSink interface {
	// Name returns the path of the file being written.
	Name() string

	Write(p []byte) (int, error)

	// Commit flushes to durable storage and closes the file.
	Commit() error

	// Abort closes and removes the partial file. Safe after Commit.
	Abort()
}

// LocalOutputWriter writes recovered files under a single directory on
// the local filesystem.
type LocalOutputWriter struct {
	dir string
}

// NewLocalOutputWriter ensures dir exists, verifies it is writable and
// has breathing room, and returns a writer bound to it.
func NewLocalOutputWriter(dir string) (*LocalOutputWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &m.ResourceError{Path: dir, Err: err}
	}

	if usage, err := disk.Usage(dir); err != nil {
		slog.Debug("free space check unavailable", "dir", dir, "error", err)
	} else if usage.Free < minFreeSpace {
		return nil, &m.ResourceError{
			Path: dir,
			Err:  fmt.Errorf("only %d bytes free, need at least %d", usage.Free, uint64(minFreeSpace)),
		}
	}

	return &LocalOutputWriter{dir: dir}, nil
}

// Dir implements OutputWriter.
func (w *LocalOutputWriter) Dir() string {
	return w.dir
}

// FreeSpace reports the free bytes on the volume holding dir, walking
// up to the nearest existing parent so it works before the directory
// has been created.
func FreeSpace(dir string) (uint64, error) {
	for {
		usage, err := disk.Usage(dir)
		if err == nil {
			return usage.Free, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, err
		}

		dir = parent
	}
}

// Create implements OutputWriter.
func (w *LocalOutputWriter) Create(format m.FileFormat, sequence int, headerOffset m.ByteOffset) (RecoveredSink, error) {
	base := fmt.Sprintf("%s_%06d_0x%08x", format.Name(), sequence, uint64(headerOffset))
	ext := "." + format.Ext()

	name := filepath.Join(w.dir, base+ext)

	for attempt := 1; ; attempt++ {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			return &fileSink{file: f, name: name}, nil
		}

		if !os.IsExist(err) {
			slog.Error("failed to create output file", "path", name, "error", err)
			return nil, &m.ResourceError{Path: name, Err: err}
		}

		name = filepath.Join(w.dir, fmt.Sprintf("%s_%d%s", base, attempt, ext))
	}
}

type fileSink struct {
	file *os.File
	name string
	done bool
}

func (s *fileSink) Name() string {
	return s.name
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *fileSink) Commit() error {
	if err := s.file.Sync(); err != nil {
		slog.Error("failed to sync recovered file", "path", s.name, "error", err)
		_ = s.file.Close()

		return &m.ResourceError{Path: s.name, Err: err}
	}

	if err := s.file.Close(); err != nil {
		return &m.ResourceError{Path: s.name, Err: err}
	}

	s.done = true

	return nil
}

func (s *fileSink) Abort() {
	if s.done {
		return
	}

	_ = s.file.Close()

	if err := os.Remove(s.name); err != nil {
		slog.Warn("failed to remove partial file", "path", s.name, "error", err)
	}

	s.done = true
}
