// Package pkg provides small reusable utilities for salvage.
package pkg

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Lines is a generic append-only JSONL store: one JSON document per line.
// It backs the recovery manifest and the scan report.
type Lines[T any] interface {
	Len() uint64
	Path() string
	Append(item T) error
	AppendBatch(items []T) error
	Get(index uint64) (T, error)
	Range(f func(index uint64, item T) error) error
	Sync() error
	Close() error
}

type linesImpl[T any] struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
	length  uint64
}

// NewLines creates (or truncates) a JSONL store at path.
func NewLines[T any](path string) (Lines[T], error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("failed to create lines store", "path", path, "error", err)
		return nil, fmt.Errorf("failed to create lines store: %w", err)
	}

	writer := bufio.NewWriter(file)

	return &linesImpl[T]{
		path:    path,
		file:    file,
		writer:  writer,
		encoder: json.NewEncoder(writer),
	}, nil
}

// Append implements Lines.
func (l *linesImpl[T]) Append(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(item); err != nil {
		slog.Error("failed to encode line", "path", l.path, "index", l.length, "error", err)
		return fmt.Errorf("failed to encode line: %w", err)
	}

	l.length++

	return nil
}

// AppendBatch implements Lines.
func (l *linesImpl[T]) AppendBatch(items []T) error {
	for _, item := range items {
		if err := l.Append(item); err != nil {
			return err
		}
	}

	return nil
}

// Path implements Lines.
func (l *linesImpl[T]) Path() string {
	return l.path
}

// Len implements Lines.
func (l *linesImpl[T]) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.length
}

// Get implements Lines. It re-reads the file from the start, so it is
// intended for tests and small stores, not hot paths.
func (l *linesImpl[T]) Get(index uint64) (T, error) {
	var zero T

	l.mu.Lock()
	defer l.mu.Unlock()

	if index >= l.length {
		return zero, fmt.Errorf("index %d out of bounds (length %d)", index, l.length)
	}

	if err := l.flushLocked(); err != nil {
		return zero, err
	}

	var item T

	err := l.scan(func(i uint64, decoded T) error {
		if i == index {
			item = decoded
			return errStopScan
		}

		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return zero, err
	}

	return item, nil
}

// Range implements Lines.
func (l *linesImpl[T]) Range(fn func(index uint64, item T) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.scan(fn)
}

// Sync flushes buffered lines and fsyncs the backing file.
func (l *linesImpl[T]) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.file.Sync(); err != nil {
		slog.Error("failed to sync lines store", "path", l.path, "error", err)
		return fmt.Errorf("failed to sync lines store: %w", err)
	}

	return nil
}

// Close implements Lines.
func (l *linesImpl[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.file.Close(); err != nil {
		slog.Error("failed to close lines store", "path", l.path, "error", err)
		return err
	}

	l.file = nil

	return nil
}

var errStopScan = errors.New("stop scan")

func (l *linesImpl[T]) flushLocked() error {
	if err := l.writer.Flush(); err != nil {
		slog.Error("failed to flush lines store", "path", l.path, "error", err)
		return fmt.Errorf("failed to flush lines store: %w", err)
	}

	return nil
}

func (l *linesImpl[T]) scan(fn func(index uint64, item T) error) error {
	file, err := os.Open(l.path)
	if err != nil {
		slog.Error("failed to open lines store for reading", "path", l.path, "error", err)
		return fmt.Errorf("failed to open lines store: %w", err)
	}

	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("failed to close lines store reader", "path", l.path, "error", err)
		}
	}()

	decoder := json.NewDecoder(file)

	for i := uint64(0); ; i++ {
		var item T

		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to decode line %d: %w", i, err)
		}

		if err := fn(i, item); err != nil {
			return err
		}
	}
}
