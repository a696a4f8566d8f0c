package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	m "salvage.dev/pkg/salvage/internal/model"
)

func TestRecoverOrphans(t *testing.T) {
	ctx := context.Background()

	t.Run("contiguous orphan extent needs no splice", func(t *testing.T) {
		jpeg := buildJPEG(64, 64, entropyPayload(20000, 90))

		img := newDiskImage(64 * 1024)
		img.place(8192, jpeg)

		headers := []m.Candidate{{Offset: 8192, Kind: m.HeaderJPEG, Confidence: 0.9}}
		footers := []m.Candidate{{Offset: m.ByteOffset(8192 + len(jpeg) - 2), Kind: m.FooterJPEG, Confidence: 0.7}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, footers, nil, defaultMax, time.Second, &counters)
		require.NoError(t, err)
		require.Len(t, files, 1)

		require.Equal(t, m.VerdictPassed, files[0].Verdict)
		require.Equal(t, []m.ByteRange{{Start: 8192, End: m.ByteOffset(8192 + len(jpeg))}}, files[0].Ranges)
		require.Equal(t, uint64(1), counters.OrphansRecovered.Load())
		require.Equal(t, uint64(0), counters.OrphansFailed.Load())
	})

	t.Run("bifragmented extent is stitched on the ladder", func(t *testing.T) {
		jpeg := buildJPEG(64, 64, entropyPayload(12000, 91))

		// First 4 KiB in place, one garbage cluster, then the rest.
		img := newDiskImage(64 * 1024)
		img.place(0, jpeg[:4096])
		img.place(4096, markerGarbage(4096))
		tailEnd := img.place(8192, jpeg[4096:])

		headers := []m.Candidate{{Offset: 0, Kind: m.HeaderJPEG, Confidence: 0.9}}
		footers := []m.Candidate{{Offset: m.ByteOffset(tailEnd - 2), Kind: m.FooterJPEG, Confidence: 0.7}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, footers, nil, defaultMax, time.Second, &counters)
		require.NoError(t, err)
		require.Len(t, files, 1)

		require.Equal(t, m.VerdictPassed, files[0].Verdict)
		require.Equal(t, []m.ByteRange{
			{Start: 0, End: 4096},
			{Start: 8192, End: m.ByteOffset(tailEnd)},
		}, files[0].Ranges)
		require.Equal(t, uint64(1), counters.OrphansRecovered.Load())
	})

	t.Run("png splice revalidates chunk crcs", func(t *testing.T) {
		png := buildPNG(256, 256, entropyPayload(20000, 92))

		img := newDiskImage(64 * 1024)
		img.place(0, png[:4096])
		img.place(4096, markerGarbage(4096))
		tailEnd := img.place(8192, png[4096:])

		headers := []m.Candidate{{Offset: 0, Kind: m.HeaderPNG, Confidence: 0.9}}
		footers := []m.Candidate{{Offset: m.ByteOffset(tailEnd - 8), Kind: m.FooterPNG, Confidence: 0.95}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, footers, nil, defaultMax, time.Second, &counters)
		require.NoError(t, err)
		require.Len(t, files, 1)

		require.Equal(t, m.VerdictPassed, files[0].Verdict)
		require.Equal(t, 2, files[0].Fragments())
	})

	t.Run("first passing header claims the footer", func(t *testing.T) {
		jpeg := buildJPEG(64, 64, entropyPayload(20000, 93))

		img := newDiskImage(64 * 1024)
		img.place(0, jpeg)
		img.place(30000, []byte{0xFF, 0xD8, 0xFF, 0xE0})

		headers := []m.Candidate{
			{Offset: 0, Kind: m.HeaderJPEG, Confidence: 0.9},
			{Offset: 30000, Kind: m.HeaderJPEG, Confidence: 0.6},
		}
		footers := []m.Candidate{{Offset: m.ByteOffset(len(jpeg) - 2), Kind: m.FooterJPEG, Confidence: 0.7}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, footers, nil, defaultMax, time.Second, &counters)
		require.NoError(t, err)

		// The earlier header wins the only footer; the second has
		// nothing left to try.
		require.Len(t, files, 1)
		require.Equal(t, m.ByteOffset(0), files[0].HeaderOffset())
		require.Equal(t, uint64(1), counters.OrphansRecovered.Load())
		require.Equal(t, uint64(1), counters.OrphansFailed.Load())
	})

	t.Run("hint anchors the gap at the corruption point", func(t *testing.T) {
		jpeg := buildJPEG(320, 240, entropyPayload(100*1024, 94))

		img := newDiskImage(256 * 1024)
		img.place(4096, jpeg)
		img.place(45056, markerGarbage(8192))

		naive := m.ByteRange{Start: 4096, End: m.ByteOffset(4096 + len(jpeg))}

		// Derive the hint exactly as pair validation would.
		report, err := validateRanges(ctx, img.device(), []m.ByteRange{naive}, m.FormatJPEG)
		require.NoError(t, err)
		require.Equal(t, m.VerdictPartiallyValid, report.verdict)
		require.Greater(t, report.corruptAt, 0)

		footer := m.Candidate{Offset: naive.End - 2, Kind: m.FooterJPEG, Confidence: 0.7}
		hints := map[m.ByteOffset]gapHint{
			4096: {
				footer:    footer,
				corruptAt: 4096 + m.ByteOffset(report.corruptAt),
				naive:     naive,
			},
		}

		headers := []m.Candidate{{Offset: 4096, Kind: m.HeaderJPEG, Confidence: 0.9}}

		var counters m.Counters

		// No footer pool: only the hinted search can succeed.
		files, err := recoverOrphans(ctx, img.device(), headers, nil, hints, defaultMax, time.Second, &counters)
		require.NoError(t, err)
		require.Len(t, files, 1)

		require.Equal(t, m.VerdictPassed, files[0].Verdict)
		require.Equal(t, []m.ByteRange{
			{Start: 4096, End: 45056},
			{Start: 53248, End: naive.End},
		}, files[0].Ranges)
	})

	t.Run("naive extent survives as a partial when no splice passes", func(t *testing.T) {
		jpeg := buildJPEG(320, 240, entropyPayload(100*1024, 95))

		img := newDiskImage(256 * 1024)
		img.place(4096, jpeg)

		// Everything from the corruption point to the footer is gone;
		// no tail start can complete the walk.
		footerOff := m.ByteOffset(4096 + len(jpeg) - 2)
		img.place(45056, markerGarbage(int(footerOff)-45056))

		naive := m.ByteRange{Start: 4096, End: footerOff + 2}

		report, err := validateRanges(ctx, img.device(), []m.ByteRange{naive}, m.FormatJPEG)
		require.NoError(t, err)
		require.Equal(t, m.VerdictPartiallyValid, report.verdict)

		hints := map[m.ByteOffset]gapHint{
			4096: {
				footer:    m.Candidate{Offset: footerOff, Kind: m.FooterJPEG, Confidence: 0.7},
				corruptAt: 4096 + m.ByteOffset(report.corruptAt),
				naive:     naive,
			},
		}

		headers := []m.Candidate{{Offset: 4096, Kind: m.HeaderJPEG, Confidence: 0.9}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, nil, hints, defaultMax, time.Second, &counters)
		require.NoError(t, err)
		require.Len(t, files, 1)

		require.Equal(t, m.VerdictPartiallyValid, files[0].Verdict)
		require.Equal(t, []m.ByteRange{naive}, files[0].Ranges)
		require.Equal(t, uint64(0), counters.OrphansRecovered.Load())
		require.Equal(t, uint64(1), counters.OrphansFailed.Load())
	})

	t.Run("exhausted budget abandons the orphan", func(t *testing.T) {
		jpeg := buildJPEG(64, 64, entropyPayload(20000, 96))

		img := newDiskImage(64 * 1024)
		img.place(0, jpeg)

		headers := []m.Candidate{{Offset: 0, Kind: m.HeaderJPEG, Confidence: 0.9}}
		footers := []m.Candidate{{Offset: m.ByteOffset(len(jpeg) - 2), Kind: m.FooterJPEG, Confidence: 0.7}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, footers, nil, defaultMax, time.Nanosecond, &counters)
		require.NoError(t, err)
		require.Empty(t, files)
		require.Equal(t, uint64(1), counters.OrphansFailed.Load())
	})

	t.Run("footer of another format is never claimed", func(t *testing.T) {
		jpeg := buildJPEG(64, 64, entropyPayload(20000, 97))

		img := newDiskImage(64 * 1024)
		img.place(0, jpeg)

		headers := []m.Candidate{{Offset: 0, Kind: m.HeaderJPEG, Confidence: 0.9}}
		footers := []m.Candidate{{Offset: m.ByteOffset(len(jpeg) - 2), Kind: m.FooterPNG, Confidence: 0.95}}

		var counters m.Counters

		files, err := recoverOrphans(ctx, img.device(), headers, footers, nil, defaultMax, time.Second, &counters)
		require.NoError(t, err)
		require.Empty(t, files)
		require.Equal(t, uint64(1), counters.OrphansFailed.Load())
	})

	t.Run("cancelled context stops the pass", func(t *testing.T) {
		img := newDiskImage(64 * 1024)
		img.place(0, buildJPEG(64, 64, entropyPayload(20000, 98)))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		headers := []m.Candidate{{Offset: 0, Kind: m.HeaderJPEG, Confidence: 0.9}}

		var counters m.Counters

		_, err := recoverOrphans(cancelled, img.device(), headers, nil, nil, defaultMax, time.Second, &counters)
		require.Error(t, err)
		require.True(t, m.IsCancelled(err))
	})
}
