package domain

import (
	"context"
	"log/slog"
	"time"

	"salvage.dev/pkg/salvage/internal/adapter"
	m "salvage.dev/pkg/salvage/internal/model"
)

// Gap search parameters. Offsets and lengths are explored on a geometric
// ladder starting at one 4 KiB cluster and growing by 4x, which keeps
// the attempt count per footer logarithmic in the file size.
const (
	// DefaultBGCBudget bounds the wall-clock spent on one orphan.
	DefaultBGCBudget = 250 * time.Millisecond

	gapLadderBase   = 4096
	gapLadderFactor = 4
)

// gapHint carries what a failed pair validation learned: the footer the
// solver chose, the absolute offset where the structural walk derailed,
// and the naive extent. The gap, if the file is bifragmented, opens at
// or before the corruption point.
type gapHint struct {
	footer    m.Candidate
	corruptAt m.ByteOffset
	naive     m.ByteRange
}

// recoverOrphans attempts bifragment gap carving for every orphan
// header, in ascending offset order. Footers are claimed first-come;
// the per-orphan budget bounds the whole pass. Headers with a gap hint
// try the corruption-anchored search before the blind ladder, and fall
// back to writing the naive extent as a partial when no splice passes.
func recoverOrphans(
	ctx context.Context,
	dev adapter.DeviceReader,
	headers []m.Candidate,
	footers []m.Candidate,
	hints map[m.ByteOffset]gapHint,
	maxFileSize func(m.FileFormat) uint64,
	budget time.Duration,
	counters *m.Counters,
) ([]m.RecoveredFile, error) {
	if budget <= 0 {
		budget = DefaultBGCBudget
	}

	var files []m.RecoveredFile

	claimed := map[m.ByteOffset]bool{}

	for _, h := range headers {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		deadline := time.Now().Add(budget)

		var file *m.RecoveredFile

		var footerAt m.ByteOffset

		hint, hinted := hints[h.Offset]
		if hinted && !claimed[hint.footer.Offset] {
			f, err := carveHinted(ctx, dev, h, hint, deadline)
			if err != nil {
				return files, err
			}

			if f != nil {
				file, footerAt = f, hint.footer.Offset
			}
		}

		if file == nil {
			f, at, err := carveBifragment(ctx, dev, h, footers, claimed, maxFileSize(h.Kind.Format()), deadline)
			if err != nil {
				return files, err
			}

			if f != nil {
				file, footerAt = f, at
			}
		}

		if file == nil {
			counters.OrphansFailed.Add(1)

			if hinted && !claimed[hint.footer.Offset] {
				// No splice passed; keep the naive extent as a partial
				// rather than losing the readable head.
				claimed[hint.footer.Offset] = true
				files = append(files, m.RecoveredFile{
					Format:  h.Kind.Format(),
					Ranges:  []m.ByteRange{hint.naive},
					Verdict: m.VerdictPartiallyValid,
				})
			}

			continue
		}

		claimed[footerAt] = true
		files = append(files, *file)
		counters.OrphansRecovered.Add(1)

		slog.Debug("orphan recovered",
			"format", file.Format.Name(), "header", h.Offset, "fragments", file.Fragments())
	}

	return files, nil
}

// carveHinted resumes a pair whose naive validation derailed partway
// through. The head is cut on the cluster boundary at the corruption
// point and cluster-aligned tail starts are scanned toward the footer
// the solver already chose.
func carveHinted(
	ctx context.Context,
	dev adapter.DeviceReader,
	h m.Candidate,
	hint gapHint,
	deadline time.Time,
) (*m.RecoveredFile, error) {
	splitAt := hint.corruptAt &^ m.ByteOffset(gapLadderBase-1)
	if splitAt <= h.Offset {
		// Corruption inside the first cluster: the header itself is
		// suspect, nothing to stitch onto.
		return nil, nil
	}

	format := h.Kind.Format()

	for gapEnd := splitAt + gapLadderBase; gapEnd < hint.footer.Offset; gapEnd += gapLadderBase {
		if time.Now().After(deadline) {
			return nil, nil
		}

		head := m.ByteRange{Start: h.Offset, End: splitAt}
		tail := m.ByteRange{Start: gapEnd, End: hint.naive.End}

		verdict, err := trySplice(ctx, dev, format, deadline, head, tail)
		if err != nil {
			return nil, err
		}

		if verdict == m.VerdictPassed {
			return &m.RecoveredFile{
				Format:  format,
				Ranges:  []m.ByteRange{head, tail},
				Verdict: m.VerdictPassed,
			}, nil
		}
	}

	return nil, nil
}

// carveBifragment hypothesizes that the file starting at h was split by
// one contiguous overwritten gap. Candidate footers are tried nearest
// first; for each, gap start and gap length walk the geometric ladder
// and the spliced gather-list is validated. The first Passed splice
// wins.
func carveBifragment(
	ctx context.Context,
	dev adapter.DeviceReader,
	h m.Candidate,
	footers []m.Candidate,
	claimed map[m.ByteOffset]bool,
	maxSize uint64,
	deadline time.Time,
) (*m.RecoveredFile, m.ByteOffset, error) {
	format := h.Kind.Format()
	wantKind := footerKind(format)
	footerLen := uint64(SignatureLength(wantKind))

	for _, f := range footers {
		if claimed[f.Offset] || f.Kind != wantKind || f.Offset <= h.Offset {
			continue
		}

		if uint64(f.Offset-h.Offset) > maxSize {
			// Footers are sorted by offset; everything further is out
			// of range for this header too.
			break
		}

		fileEnd := f.Offset + m.ByteOffset(footerLen)

		// A contiguous extent the solver never tried (both ends were
		// orphaned) beats any splice.
		verdict, err := trySplice(ctx, dev, format, deadline, m.ByteRange{Start: h.Offset, End: fileEnd})
		if err != nil {
			return nil, 0, err
		}

		if verdict == m.VerdictPassed {
			return &m.RecoveredFile{
				Format:  format,
				Ranges:  []m.ByteRange{{Start: h.Offset, End: fileEnd}},
				Verdict: m.VerdictPassed,
			}, f.Offset, nil
		}

		for gapStart := m.ByteOffset(gapLadderBase); h.Offset+gapStart < f.Offset; gapStart *= gapLadderFactor {
			splitAt := h.Offset + gapStart

			for gapLen := m.ByteOffset(gapLadderBase); ; gapLen *= gapLadderFactor {
				gapEnd := splitAt + gapLen
				if gapEnd > f.Offset {
					break
				}

				if time.Now().After(deadline) {
					return nil, 0, nil
				}

				head := m.ByteRange{Start: h.Offset, End: splitAt}
				tail := m.ByteRange{Start: gapEnd, End: fileEnd}

				verdict, err := trySplice(ctx, dev, format, deadline, head, tail)
				if err != nil {
					return nil, 0, err
				}

				if verdict == m.VerdictPassed {
					return &m.RecoveredFile{
						Format:  format,
						Ranges:  []m.ByteRange{head, tail},
						Verdict: m.VerdictPassed,
					}, f.Offset, nil
				}
			}
		}
	}

	return nil, 0, nil
}

func trySplice(ctx context.Context, dev adapter.DeviceReader, format m.FileFormat, deadline time.Time, ranges ...m.ByteRange) (m.Verdict, error) {
	if time.Now().After(deadline) {
		return m.VerdictRejected, nil
	}

	report, err := validateRanges(ctx, dev, ranges, format)
	if err != nil {
		return m.VerdictRejected, err
	}

	return report.verdict, nil
}
