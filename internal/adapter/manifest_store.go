package adapter

import (
	"path/filepath"

	m "salvage.dev/pkg/salvage/internal/model"
	"salvage.dev/pkg/salvage/pkg"
)

// ManifestFilename is the fixed name of the run manifest inside the
// output directory.
const ManifestFilename = "manifest.jsonl"

// ManifestStore records one line per recovered file. Entries are
// append-only and ordered by extraction sequence.
type ManifestStore interface {
	Append(entry m.ManifestEntry) error
	Len() uint64
	Path() string

	// Sync makes all appended entries durable.
	Sync() error
	Close() error
}

// LocalManifestStore persists the manifest as JSONL next to the
// recovered files.
type LocalManifestStore struct {
	lines pkg.Lines[m.ManifestEntry]
}

// NewLocalManifestStore creates (or truncates) manifest.jsonl in dir.
func NewLocalManifestStore(dir string) (*LocalManifestStore, error) {
	lines, err := pkg.NewLines[m.ManifestEntry](filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, &m.ResourceError{Path: dir, Err: err}
	}

	return &LocalManifestStore{lines: lines}, nil
}

// Append implements ManifestStore.
func (s *LocalManifestStore) Append(entry m.ManifestEntry) error {
	return s.lines.Append(entry)
}

// Len implements ManifestStore.
func (s *LocalManifestStore) Len() uint64 {
	return s.lines.Len()
}

// Path implements ManifestStore.
func (s *LocalManifestStore) Path() string {
	return s.lines.Path()
}

// Sync implements ManifestStore.
func (s *LocalManifestStore) Sync() error {
	return s.lines.Sync()
}

// Close implements ManifestStore.
func (s *LocalManifestStore) Close() error {
	return s.lines.Close()
}
