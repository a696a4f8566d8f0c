package domain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"salvage.dev/pkg/salvage/internal/adapter"
	m "salvage.dev/pkg/salvage/internal/model"
)

const (
	// DefaultChunkSize is the scan read granularity. Large chunks keep
	// the device streaming; the bounded queue caps memory at roughly
	// 2 * workers * chunk size.
	DefaultChunkSize = 16 * m.MiB

	maxScanWorkers = 8
)

// DefaultWorkers is the scan pool size: one worker per core, capped.
func DefaultWorkers() int {
	workers := runtime.NumCPU()
	if workers > maxScanWorkers {
		workers = maxScanWorkers
	}

	if workers < 1 {
		workers = 1
	}

	return workers
}

// scanChunk is one device window in flight. data starts with overlap
// bytes carried from the previous window so patterns straddling the
// boundary still match; fresh marks where the new bytes begin. buf is
// the backing array, returned to the recycle pool after scanning.
type scanChunk struct {
	base  m.ByteOffset
	data  []byte
	fresh int
	buf   []byte
}

// Scanner streams the device once, pattern-matching chunks on a worker
// pool, and fills a CandidateIndex.
type Scanner struct {
	dev       adapter.DeviceReader
	formats   []m.FileFormat
	workers   int
	chunkSize int
	counters  *m.Counters
}

// NewScanner builds a scanner over dev for the requested formats.
// Non-positive workers or chunkSize select the defaults.
func NewScanner(dev adapter.DeviceReader, formats []m.FileFormat, workers, chunkSize int, counters *m.Counters) *Scanner {
	if workers < 1 {
		workers = DefaultWorkers()
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Scanner{
		dev:       dev,
		formats:   formats,
		workers:   workers,
		chunkSize: chunkSize,
		counters:  counters,
	}
}

// Run scans the whole device into index. The index is finalized before
// returning, which merges the parallel worker outputs into per-kind
// offset order. Cancellation is honored at chunk boundaries.
func (s *Scanner) Run(ctx context.Context, index *CandidateIndex) error {
	overlap := ScanOverlap()
	sigs := SignaturesFor(s.formats)
	queueDepth := 2 * s.workers

	work := make(chan scanChunk, queueDepth)
	results := make(chan []m.Candidate, queueDepth)
	recycle := make(chan []byte, queueDepth+2)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(work)

		return s.produce(egCtx, work, recycle, overlap)
	})

	var scanners sync.WaitGroup

	scanners.Add(s.workers)

	for i := 0; i < s.workers; i++ {
		eg.Go(func() error {
			defer scanners.Done()

			for {
				select {
				case <-egCtx.Done():
					return egCtx.Err()
				case chunk, ok := <-work:
					if !ok {
						return nil
					}

					batch := scanBuffer(sigs, chunk, s.counters)
					s.counters.BytesProcessed.Add(uint64(len(chunk.data) - chunk.fresh))

					select {
					case recycle <- chunk.buf:
					default:
					}

					if len(batch) == 0 {
						continue
					}

					select {
					case <-egCtx.Done():
						return egCtx.Err()
					case results <- batch:
					}
				}
			}
		})
	}

	go func() {
		scanners.Wait()
		close(results)
	}()

	// Single collector keeps the index single-writer.
	for batch := range results {
		index.Append(batch)
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	index.Finalize()

	counts := index.Counts()
	slog.Debug("scan complete",
		"device", s.dev.Path(),
		"jpeg_headers", counts[m.HeaderJPEG], "jpeg_footers", counts[m.FooterJPEG],
		"png_headers", counts[m.HeaderPNG], "png_footers", counts[m.FooterPNG])

	return nil
}

func (s *Scanner) produce(ctx context.Context, work chan<- scanChunk, recycle <-chan []byte, overlap int) error {
	carry := make([]byte, overlap)
	carryLen := 0
	pos := m.ByteOffset(0)

	for {
		var buf []byte

		select {
		case buf = <-recycle:
		default:
			buf = make([]byte, s.chunkSize+overlap)
		}

		copy(buf, carry[:carryLen])

		n, err := s.dev.ReadNext(ctx, buf[carryLen:carryLen+s.chunkSize])
		if n > 0 {
			data := buf[:carryLen+n]
			chunk := scanChunk{
				base:  pos - m.ByteOffset(carryLen),
				data:  data,
				fresh: carryLen,
				buf:   buf,
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case work <- chunk:
			}

			carryLen = overlap
			if len(data) < overlap {
				carryLen = len(data)
			}

			copy(carry, data[len(data)-carryLen:])
			pos += m.ByteOffset(n)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}
	}
}

// scanBuffer finds every signature match in the chunk. Matches that lie
// entirely inside the carried overlap were counted by the previous
// chunk; they are still emitted so the index can keep whichever copy
// saw more context.
func scanBuffer(sigs []Signature, chunk scanChunk, counters *m.Counters) []m.Candidate {
	var out []m.Candidate

	for _, sig := range sigs {
		patLen := len(sig.Pattern)

		for idx := 0; ; {
			rel := bytes.Index(chunk.data[idx:], sig.Pattern)
			if rel < 0 {
				break
			}

			at := idx + rel

			cand := m.Candidate{
				Offset:     chunk.base + m.ByteOffset(at),
				Kind:       sig.Kind,
				Confidence: scoreCandidate(sig.Kind, chunk.data, at),
			}

			if !sig.Kind.IsHeader() {
				cand.EntropyBoundary = entropyBoundaryAfter(chunk.data, at+patLen)
			}

			out = append(out, cand)

			if at+patLen > chunk.fresh {
				counters.CountCandidate(sig.Kind)
			}

			idx = at + 1
		}
	}

	return out
}
