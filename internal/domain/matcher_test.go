package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	m "salvage.dev/pkg/salvage/internal/model"
)

func defaultMax(f m.FileFormat) uint64 {
	return f.DefaultMaxFileSize()
}

func indexOf(candidates ...m.Candidate) *CandidateIndex {
	ix := NewCandidateIndex()
	ix.Append(candidates)
	ix.Finalize()

	return ix
}

func TestMatchCandidates(t *testing.T) {
	t.Run("nested candidates resolve first header to first footer", func(t *testing.T) {
		// Two headers before two footers with symmetric distances: the
		// totals tie, so the outcome must come from the deterministic
		// tie-break, not from map iteration order.
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 2000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 10000, Kind: m.FooterJPEG, Confidence: 0.7},
			m.Candidate{Offset: 11000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Len(t, asg.Pairs, 2)
		require.Equal(t, m.ByteOffset(1000), asg.Pairs[0].Header.Offset)
		require.Equal(t, m.ByteOffset(10000), asg.Pairs[0].Footer.Offset)
		require.Equal(t, m.ByteOffset(2000), asg.Pairs[1].Header.Offset)
		require.Equal(t, m.ByteOffset(11000), asg.Pairs[1].Footer.Offset)
		require.Empty(t, asg.OrphanHeaders)
		require.Empty(t, asg.OrphanFooters)
	})

	t.Run("closer footer wins when nothing else differs", func(t *testing.T) {
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 30000, Kind: m.FooterJPEG, Confidence: 0.7},
			m.Candidate{Offset: 200000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Len(t, asg.Pairs, 1)
		require.Equal(t, m.ByteOffset(30000), asg.Pairs[0].Footer.Offset)
		require.Len(t, asg.OrphanFooters, 1)
		require.Equal(t, m.ByteOffset(200000), asg.OrphanFooters[0].Offset)
	})

	t.Run("entropy boundary outweighs proximity", func(t *testing.T) {
		// The nearer footer sits mid-stream; the farther one is followed
		// by an entropy drop. The drop is worth far more than the small
		// proximity difference.
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 15000, Kind: m.FooterJPEG, Confidence: 0.7},
			m.Candidate{Offset: 25000, Kind: m.FooterJPEG, Confidence: 0.7, EntropyBoundary: true},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Len(t, asg.Pairs, 1)
		require.Equal(t, m.ByteOffset(25000), asg.Pairs[0].Footer.Offset)
	})

	t.Run("implausibly small extents are discounted", func(t *testing.T) {
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 1500, Kind: m.FooterJPEG, Confidence: 0.7},
			m.Candidate{Offset: 50000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Len(t, asg.Pairs, 1)
		require.Equal(t, m.ByteOffset(50000), asg.Pairs[0].Footer.Offset)
	})

	t.Run("footer before header never pairs", func(t *testing.T) {
		ix := indexOf(
			m.Candidate{Offset: 10000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 5000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Empty(t, asg.Pairs)
		require.Len(t, asg.OrphanHeaders, 1)
		require.Len(t, asg.OrphanFooters, 1)
	})

	t.Run("footer past the size limit never pairs", func(t *testing.T) {
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 20000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		small := func(m.FileFormat) uint64 { return 8192 }

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, small)

		require.Empty(t, asg.Pairs)
		require.Len(t, asg.OrphanHeaders, 1)
		require.Len(t, asg.OrphanFooters, 1)
	})

	t.Run("formats pair independently", func(t *testing.T) {
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 2000, Kind: m.HeaderPNG, Confidence: 0.99},
			m.Candidate{Offset: 9000, Kind: m.FooterJPEG, Confidence: 0.7},
			m.Candidate{Offset: 12000, Kind: m.FooterPNG, Confidence: 0.95},
		)

		asg := MatchCandidates(ix, m.Formats(), defaultMax)

		require.Len(t, asg.Pairs, 2)
		require.Equal(t, m.FormatJPEG, asg.Pairs[0].Format)
		require.Equal(t, m.ByteOffset(9000), asg.Pairs[0].Footer.Offset)
		require.Equal(t, m.FormatPNG, asg.Pairs[1].Format)
		require.Equal(t, m.ByteOffset(12000), asg.Pairs[1].Footer.Offset)
	})

	t.Run("surplus header becomes an orphan", func(t *testing.T) {
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 2000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 10000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Len(t, asg.Pairs, 1)
		require.Equal(t, m.ByteOffset(2000), asg.Pairs[0].Header.Offset)
		require.Len(t, asg.OrphanHeaders, 1)
		require.Equal(t, m.ByteOffset(1000), asg.OrphanHeaders[0].Offset)
	})

	t.Run("interleaved candidates favor the tighter pairing", func(t *testing.T) {
		// h1 h2 f1 h3 f2 on the device: pairing h2-f1 and h3-f2 beats
		// any assignment that spends f1 on h1, so h1 is the orphan.
		ix := indexOf(
			m.Candidate{Offset: 1000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 2000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 10000, Kind: m.FooterJPEG, Confidence: 0.7},
			m.Candidate{Offset: 12000, Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: 20000, Kind: m.FooterJPEG, Confidence: 0.7},
		)

		asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

		require.Len(t, asg.Pairs, 2)
		require.Equal(t, m.ByteOffset(2000), asg.Pairs[0].Header.Offset)
		require.Equal(t, m.ByteOffset(10000), asg.Pairs[0].Footer.Offset)
		require.Equal(t, m.ByteOffset(12000), asg.Pairs[1].Header.Offset)
		require.Equal(t, m.ByteOffset(20000), asg.Pairs[1].Footer.Offset)
		require.Len(t, asg.OrphanHeaders, 1)
		require.Equal(t, m.ByteOffset(1000), asg.OrphanHeaders[0].Offset)
		require.Empty(t, asg.OrphanFooters)
	})

	t.Run("same input yields the same assignment", func(t *testing.T) {
		candidates := []m.Candidate{
			{Offset: 100, Kind: m.HeaderJPEG, Confidence: 0.9},
			{Offset: 8000, Kind: m.HeaderJPEG, Confidence: 0.45},
			{Offset: 9000, Kind: m.FooterJPEG, Confidence: 0.7, EntropyBoundary: true},
			{Offset: 60000, Kind: m.HeaderJPEG, Confidence: 0.6},
			{Offset: 90000, Kind: m.FooterJPEG, Confidence: 0.35},
			{Offset: 120000, Kind: m.FooterJPEG, Confidence: 0.7},
			{Offset: 4000, Kind: m.HeaderPNG, Confidence: 0.99},
			{Offset: 70000, Kind: m.FooterPNG, Confidence: 0.95},
		}

		run := func() m.Assignment {
			ix := NewCandidateIndex()
			ix.Append(candidates)
			ix.Finalize()

			return MatchCandidates(ix, m.Formats(), defaultMax)
		}

		require.Equal(t, run(), run())
	})
}

func TestMatchCandidatesGreedyFallback(t *testing.T) {
	// One band holding more candidates than the exact solver accepts:
	// back-to-back extents whose natural pairing is each header with the
	// footer right after it.
	var candidates []m.Candidate

	for i := 0; i < hungarianBandCap+44; i++ {
		candidates = append(candidates,
			m.Candidate{Offset: m.ByteOffset(i * 8192), Kind: m.HeaderJPEG, Confidence: 0.9},
			m.Candidate{Offset: m.ByteOffset(i*8192 + 4096), Kind: m.FooterJPEG, Confidence: 0.7},
		)
	}

	ix := NewCandidateIndex()
	ix.Append(candidates)
	ix.Finalize()

	asg := MatchCandidates(ix, []m.FileFormat{m.FormatJPEG}, defaultMax)

	require.Len(t, asg.Pairs, hungarianBandCap+44)
	require.Empty(t, asg.OrphanHeaders)
	require.Empty(t, asg.OrphanFooters)

	for _, p := range asg.Pairs {
		require.Equal(t, p.Header.Offset+4096, p.Footer.Offset)
	}
}

func TestPartitionBands(t *testing.T) {
	t.Run("distant clusters form separate bands", func(t *testing.T) {
		headers := []m.Candidate{{Offset: 100}, {Offset: 200000}}
		footers := []m.Candidate{{Offset: 5000}, {Offset: 204000}}

		bands := partitionBands(headers, footers, 16384)

		require.Len(t, bands, 2)
		require.Equal(t, []int{0}, bands[0].headerIdx)
		require.Equal(t, []int{0}, bands[0].footerIdx)
		require.Equal(t, []int{1}, bands[1].headerIdx)
		require.Equal(t, []int{1}, bands[1].footerIdx)
	})

	t.Run("overlapping windows merge into one band", func(t *testing.T) {
		headers := []m.Candidate{{Offset: 0}, {Offset: 1000}}
		footers := []m.Candidate{{Offset: 5000}, {Offset: 6000}}

		bands := partitionBands(headers, footers, 16384)

		require.Len(t, bands, 1)
		require.Len(t, bands[0].headerIdx, 2)
		require.Len(t, bands[0].footerIdx, 2)
	})
}

func TestFooterWindow(t *testing.T) {
	footers := []m.Candidate{{Offset: 100}, {Offset: 5000}, {Offset: 16484}}

	// Exclusive below: the footer at the header offset itself is out.
	// Inclusive above: a footer exactly maxSize past the header is in.
	lo, end := footerWindow(footers, 100, 16384)

	require.Equal(t, 1, lo)
	require.Equal(t, 3, end)
}

func TestPairScore(t *testing.T) {
	t.Run("rejects a footer at or before the header", func(t *testing.T) {
		h := m.Candidate{Offset: 5000, Confidence: 0.9}

		require.Equal(t, float64(-1), pairScore(h, m.Candidate{Offset: 5000}, 1<<20))
		require.Equal(t, float64(-1), pairScore(h, m.Candidate{Offset: 400}, 1<<20))
	})

	t.Run("rejects an extent past the size limit", func(t *testing.T) {
		h := m.Candidate{Offset: 0, Confidence: 0.9}
		f := m.Candidate{Offset: 9000, Confidence: 0.7}

		require.Equal(t, float64(-1), pairScore(h, f, 8192))
	})

	t.Run("entropy boundary adds its full weight", func(t *testing.T) {
		h := m.Candidate{Offset: 0, Confidence: 0.9}
		plain := m.Candidate{Offset: 10000, Confidence: 0.7}
		marked := m.Candidate{Offset: 10000, Confidence: 0.7, EntropyBoundary: true}

		require.InDelta(t, weightEntropy, pairScore(h, marked, 1<<28)-pairScore(h, plain, 1<<28), 1e-12)
	})
}

func TestSizePenalty(t *testing.T) {
	const maxSize = 256 * m.MiB

	require.Equal(t, 1.0, sizePenalty(0, maxSize))
	require.Equal(t, 0.5, sizePenalty(minPlausibleFileSize/2, maxSize))
	require.Equal(t, 0.0, sizePenalty(minPlausibleFileSize, maxSize))
	require.Equal(t, 0.0, sizePenalty(maxSize/2, maxSize))
	require.Equal(t, 1.0, sizePenalty(maxSize, maxSize))
	require.Greater(t, sizePenalty(maxSize/2+maxSize/4, maxSize), 0.0)
}
