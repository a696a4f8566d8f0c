package domain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"

	m "salvage.dev/pkg/salvage/internal/model"
)

// The fast path fuses scanning, pairing, validation and extraction into
// one forward walk over the device. At most one header per format is in
// flight; the next footer of the same format closes it. There is no
// global assignment, no entropy analysis and no gap carving, so
// interleaved and fragmented files are lost in exchange for a single
// sequential pass.

// streamMatch is one signature hit inside the current chunk.
type streamMatch struct {
	at   int
	kind m.SignatureKind
}

func (e *Engine) runFast(ctx context.Context) error {
	e.pass.Store(1)
	e.setState(m.StateScanning)

	sigs := SignaturesFor(e.opts.Formats)
	overlap := ScanOverlap()

	chunkSize := e.opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	seq := newSequencer()
	open := map[m.FileFormat]m.ByteOffset{}

	buf := make([]byte, chunkSize+overlap)
	carryLen := 0
	pos := m.ByteOffset(0)

	for {
		n, err := e.dev.ReadNext(ctx, buf[carryLen:carryLen+chunkSize])
		if n > 0 {
			data := buf[:carryLen+n]
			base := pos - m.ByteOffset(carryLen)

			if werr := e.walkChunk(ctx, sigs, data, base, carryLen, open, seq); werr != nil {
				return werr
			}

			e.counters.BytesProcessed.Add(uint64(n))
			pos += m.ByteOffset(n)

			keep := overlap
			if len(data) < overlap {
				keep = len(data)
			}

			copy(buf, data[len(data)-keep:])
			carryLen = keep

			// Drop in-flight headers the walk has left too far behind:
			// any footer from here on would overrun the size limit.
			for format, at := range open {
				if uint64(pos-at) > e.opts.maxFileSize(format) {
					slog.Debug("in-flight header discarded",
						"format", format.Name(), "offset", at)
					delete(open, format)
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return err
		}
	}

	for format, at := range open {
		slog.Debug("in-flight header open at device end",
			"format", format.Name(), "offset", at)
	}

	return e.manifest.Sync()
}

// walkChunk replays the chunk's signature hits in device order against
// the per-format in-flight state, extracting each closed extent in
// place.
func (e *Engine) walkChunk(
	ctx context.Context,
	sigs []Signature,
	data []byte,
	base m.ByteOffset,
	fresh int,
	open map[m.FileFormat]m.ByteOffset,
	seq *sequencer,
) error {
	for _, match := range matchChunk(sigs, data, fresh) {
		abs := base + m.ByteOffset(match.at)
		e.counters.CountCandidate(match.kind)

		format := match.kind.Format()

		if match.kind.IsHeader() {
			// First open header wins until a footer or the size limit
			// closes it.
			if _, ok := open[format]; !ok {
				open[format] = abs
			}

			continue
		}

		start, ok := open[format]
		if !ok {
			continue
		}

		delete(open, format)

		end := abs + m.ByteOffset(SignatureLength(match.kind))
		if uint64(end-start) > e.opts.maxFileSize(format) {
			continue
		}

		e.counters.PairsMatched.Add(1)

		if err := e.emitStreamFile(ctx, m.ByteRange{Start: start, End: end}, format, seq); err != nil {
			return err
		}
	}

	return nil
}

// emitStreamFile validates the closed extent in place and extracts it
// unless rejected. Unsafe mode keeps rejects, like the multi-pass
// engine.
func (e *Engine) emitStreamFile(ctx context.Context, extent m.ByteRange, format m.FileFormat, seq *sequencer) error {
	report, err := validateRanges(ctx, e.dev, []m.ByteRange{extent}, format)
	if err != nil {
		return err
	}

	if report.verdict == m.VerdictRejected && !e.opts.Unsafe {
		slog.Debug("stream extent rejected",
			"format", format.Name(), "offset", extent.Start, "detail", report.detail)

		return nil
	}

	file := m.RecoveredFile{
		Format:  format,
		Ranges:  []m.ByteRange{extent},
		Verdict: report.verdict,
	}

	return extractOne(ctx, e.dev, e.writer, e.manifest, file, seq.take(format), e.opts.Unsafe, &e.counters)
}

// matchChunk collects every signature hit whose end reaches into the
// fresh region, in offset order, so headers and footers replay exactly
// as they lie on the device. Hits fully inside the carried overlap were
// handled by the previous chunk.
func matchChunk(sigs []Signature, data []byte, fresh int) []streamMatch {
	var out []streamMatch

	for _, sig := range sigs {
		patLen := len(sig.Pattern)

		for idx := 0; ; {
			rel := bytes.Index(data[idx:], sig.Pattern)
			if rel < 0 {
				break
			}

			at := idx + rel
			if at+patLen > fresh {
				out = append(out, streamMatch{at: at, kind: sig.Kind})
			}

			idx = at + 1
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].at != out[j].at {
			return out[i].at < out[j].at
		}

		return out[i].kind < out[j].kind
	})

	return out
}
