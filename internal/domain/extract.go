package domain

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"salvage.dev/pkg/salvage/internal/adapter"
	m "salvage.dev/pkg/salvage/internal/model"
)

// extractCopySize is the re-read granularity when copying ranges from
// the device into output files.
const extractCopySize = 64 * 1024

// sequencer hands out per-format extraction sequence numbers, starting
// at 1. Callers assign sequences in header-offset order so filenames
// sort the way the data lay on the device.
type sequencer struct {
	next map[m.FileFormat]int
}

func newSequencer() *sequencer {
	return &sequencer{next: map[m.FileFormat]int{}}
}

func (s *sequencer) take(format m.FileFormat) int {
	s.next[format]++

	return s.next[format]
}

// extractFiles writes the recovered files, re-reading every range from
// the device: scan buffers are long recycled by the time extraction
// runs. Files are written concurrently; sequence numbers are assigned
// up front in slice order.
func extractFiles(
	ctx context.Context,
	dev adapter.DeviceReader,
	writer adapter.OutputWriter,
	manifest adapter.ManifestStore,
	files []m.RecoveredFile,
	seq *sequencer,
	workers int,
	unsafe bool,
	counters *m.Counters,
) error {
	if workers < 1 {
		workers = 1
	}

	type job struct {
		file m.RecoveredFile
		seq  int
	}

	jobs := make([]job, len(files))
	for i, f := range files {
		jobs[i] = job{file: f, seq: seq.take(f.Format)}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for _, j := range jobs {
		j := j

		eg.Go(func() error {
			return extractOne(ctx, dev, writer, manifest, j.file, j.seq, unsafe, counters)
		})
	}

	return eg.Wait()
}

func extractOne(
	ctx context.Context,
	dev adapter.DeviceReader,
	writer adapter.OutputWriter,
	manifest adapter.ManifestStore,
	file m.RecoveredFile,
	seq int,
	unsafe bool,
	counters *m.Counters,
) error {
	sink, err := writer.Create(file.Format, seq, file.HeaderOffset())
	if err != nil {
		return err
	}

	buf := make([]byte, extractCopySize)

	var written uint64

	for _, rng := range file.Ranges {
		off := rng.Start
		remaining := rng.Length()

		for remaining > 0 {
			if err := ctx.Err(); err != nil {
				sink.Abort()

				return err
			}

			step := uint64(extractCopySize)
			if remaining < step {
				step = remaining
			}

			n, err := dev.ReadRange(ctx, off, buf[:step])
			if err != nil {
				sink.Abort()

				return err
			}

			if n == 0 {
				break
			}

			if _, err := sink.Write(buf[:n]); err != nil {
				sink.Abort()

				return &m.ResourceError{Path: sink.Name(), Err: err}
			}

			off += m.ByteOffset(n)
			remaining -= uint64(n)
			written += uint64(n)
		}
	}

	if err := sink.Commit(); err != nil {
		return err
	}

	entry := m.ManifestEntry{
		Sequence:     seq,
		Format:       file.Format,
		SourceOffset: file.HeaderOffset(),
		Length:       written,
		Fragments:    file.Fragments(),
		Validation:   file.Verdict,
		Unsafe:       unsafe,
		Path:         sink.Name(),
	}

	if err := manifest.Append(entry); err != nil {
		return fmt.Errorf("manifest append for %s: %w", sink.Name(), err)
	}

	counters.FilesExtracted.Add(1)

	slog.Debug("file extracted",
		"path", sink.Name(), "format", file.Format.Name(),
		"offset", file.HeaderOffset(), "length", written,
		"fragments", file.Fragments(), "validation", file.Verdict.String())

	return nil
}
