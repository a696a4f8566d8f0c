package domain

import (
	"log/slog"
	"sort"

	m "salvage.dev/pkg/salvage/internal/model"
)

// Edge weights of the pairing model. Confidence carries the scanner's
// context priors, proximity prefers the nearest footer, the entropy bit
// rewards footers that look like real file ends, and the size penalty
// discounts implausibly tiny or enormous extents.
const (
	weightConfidence  = 0.40
	weightProximity   = 0.25
	weightEntropy     = 0.25
	weightSizePenalty = 0.10

	// minPlausibleFileSize is the extent length below which the size
	// penalty ramps up; no real camera output is a few hundred bytes.
	minPlausibleFileSize = 4096

	// hungarianBandCap bounds the O(n^3) exact solver; larger bands
	// fall back to the greedy heuristic.
	hungarianBandCap = 256
)

// MatchCandidates pairs headers with footers independently per format.
// Within a locality band the assignment is optimal; bands above the cap
// are resolved greedily. Deterministic for a fixed index.
func MatchCandidates(index *CandidateIndex, formats []m.FileFormat, maxFileSize func(m.FileFormat) uint64) m.Assignment {
	var out m.Assignment

	for _, format := range formats {
		matchFormat(&out, index, format, maxFileSize(format))
	}

	sort.Slice(out.Pairs, func(i, j int) bool {
		return out.Pairs[i].Header.Offset < out.Pairs[j].Header.Offset
	})

	sort.Slice(out.OrphanHeaders, func(i, j int) bool {
		return out.OrphanHeaders[i].Offset < out.OrphanHeaders[j].Offset
	})

	sort.Slice(out.OrphanFooters, func(i, j int) bool {
		return out.OrphanFooters[i].Offset < out.OrphanFooters[j].Offset
	})

	return out
}

func matchFormat(out *m.Assignment, index *CandidateIndex, format m.FileFormat, maxSize uint64) {
	headers := index.Headers(format)
	footers := index.Footers(format)

	if len(headers) == 0 || len(footers) == 0 {
		out.OrphanHeaders = append(out.OrphanHeaders, headers...)
		out.OrphanFooters = append(out.OrphanFooters, footers...)

		return
	}

	bands := partitionBands(headers, footers, maxSize)

	pairedH := make([]bool, len(headers))
	pairedF := make([]bool, len(footers))

	for _, b := range bands {
		for _, p := range solveBand(headers, footers, b, format, maxSize) {
			out.Pairs = append(out.Pairs, p.pair)
			pairedH[p.headerIdx] = true
			pairedF[p.footerIdx] = true
		}
	}

	for i, h := range headers {
		if !pairedH[i] {
			out.OrphanHeaders = append(out.OrphanHeaders, h)
		}
	}

	for i, f := range footers {
		if !pairedF[i] {
			out.OrphanFooters = append(out.OrphanFooters, f)
		}
	}
}

// band is one connected component of the header-footer proximity graph,
// holding positions into the per-format candidate slices.
type band struct {
	headerIdx []int
	footerIdx []int
}

// partitionBands groups candidates into independent assignment problems.
// A header reaches every footer within maxSize past it; components are
// built with union-find, chaining each footer window once so the total
// work stays near-linear.
func partitionBands(headers, footers []m.Candidate, maxSize uint64) []band {
	total := len(headers) + len(footers)

	parent := make([]int, total)
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}

		return x
	}

	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	chainedTo := 0

	for hi, h := range headers {
		lo, end := footerWindow(footers, h.Offset, maxSize)
		if lo >= end {
			continue
		}

		union(hi, len(headers)+lo)

		start := lo
		if chainedTo > start {
			start = chainedTo
		}

		for j := start; j < end-1; j++ {
			union(len(headers)+j, len(headers)+j+1)
		}

		if end-1 > chainedTo {
			chainedTo = end - 1
		}
	}

	roots := map[int]int{}

	var bands []band

	add := func(node int) int {
		root := find(node)

		idx, ok := roots[root]
		if !ok {
			idx = len(bands)
			roots[root] = idx

			bands = append(bands, band{})
		}

		return idx
	}

	for hi := range headers {
		idx := add(hi)
		bands[idx].headerIdx = append(bands[idx].headerIdx, hi)
	}

	for fi := range footers {
		idx := add(len(headers) + fi)
		bands[idx].footerIdx = append(bands[idx].footerIdx, fi)
	}

	return bands
}

// footerWindow returns the half-open index range of footers with
// header offset < footer offset <= header offset + maxSize.
func footerWindow(footers []m.Candidate, headerOff m.ByteOffset, maxSize uint64) (int, int) {
	lo := sort.Search(len(footers), func(i int) bool {
		return footers[i].Offset > headerOff
	})

	end := sort.Search(len(footers), func(i int) bool {
		return uint64(footers[i].Offset) > uint64(headerOff)+maxSize
	})

	return lo, end
}

type bandPair struct {
	pair      m.Pair
	headerIdx int
	footerIdx int
}

func solveBand(headers, footers []m.Candidate, b band, format m.FileFormat, maxSize uint64) []bandPair {
	if len(b.headerIdx) == 0 || len(b.footerIdx) == 0 {
		return nil
	}

	if len(b.headerIdx) > hungarianBandCap || len(b.footerIdx) > hungarianBandCap {
		slog.Debug("band above exact-solver cap, using greedy assignment",
			"format", format.Name(), "headers", len(b.headerIdx), "footers", len(b.footerIdx))

		return greedyBand(headers, footers, b, format, maxSize)
	}

	score := make([][]float64, len(b.headerIdx))

	for i, hi := range b.headerIdx {
		score[i] = make([]float64, len(b.footerIdx))
		for j, fi := range b.footerIdx {
			score[i][j] = pairScore(headers[hi], footers[fi], maxSize)
		}
	}

	assigned := solveAssignment(score)

	var pairs []bandPair

	for i, j := range assigned {
		if j < 0 {
			continue
		}

		hi, fi := b.headerIdx[i], b.footerIdx[j]
		pairs = append(pairs, bandPair{
			pair: m.Pair{
				Header: headers[hi],
				Footer: footers[fi],
				Score:  score[i][j],
				Format: format,
			},
			headerIdx: hi,
			footerIdx: fi,
		})
	}

	return pairs
}

// greedyBand takes edges best-score-first, breaking ties on the smaller
// header offset, then the smaller footer offset.
func greedyBand(headers, footers []m.Candidate, b band, format m.FileFormat, maxSize uint64) []bandPair {
	type edge struct {
		hi, fi int
		score  float64
	}

	var edges []edge

	for _, hi := range b.headerIdx {
		for _, fi := range b.footerIdx {
			if s := pairScore(headers[hi], footers[fi], maxSize); s >= 0 {
				edges = append(edges, edge{hi: hi, fi: fi, score: s})
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].score != edges[j].score {
			return edges[i].score > edges[j].score
		}

		if headers[edges[i].hi].Offset != headers[edges[j].hi].Offset {
			return headers[edges[i].hi].Offset < headers[edges[j].hi].Offset
		}

		return footers[edges[i].fi].Offset < footers[edges[j].fi].Offset
	})

	takenH := map[int]bool{}
	takenF := map[int]bool{}

	var pairs []bandPair

	for _, e := range edges {
		if takenH[e.hi] || takenF[e.fi] {
			continue
		}

		takenH[e.hi] = true
		takenF[e.fi] = true

		pairs = append(pairs, bandPair{
			pair: m.Pair{
				Header: headers[e.hi],
				Footer: footers[e.fi],
				Score:  e.score,
				Format: format,
			},
			headerIdx: e.hi,
			footerIdx: e.fi,
		})
	}

	return pairs
}

// pairScore is the edge weight, or -1 when the pair is infeasible.
func pairScore(h, f m.Candidate, maxSize uint64) float64 {
	if f.Offset <= h.Offset {
		return -1
	}

	dist := uint64(f.Offset - h.Offset)
	if dist > maxSize {
		return -1
	}

	conf := float64(h.Confidence+f.Confidence) / 2

	prox := 1 - float64(dist)/float64(maxSize)

	var ent float64
	if f.EntropyBoundary {
		ent = 1
	}

	return weightConfidence*conf +
		weightProximity*prox +
		weightEntropy*ent -
		weightSizePenalty*sizePenalty(dist, maxSize)
}

// sizePenalty grows toward 1 for sub-4KiB extents and for extents past
// half the format limit.
func sizePenalty(dist, maxSize uint64) float64 {
	if dist < minPlausibleFileSize {
		return 1 - float64(dist)/minPlausibleFileSize
	}

	half := maxSize / 2
	if dist > half {
		return float64(dist-half) / float64(maxSize-half)
	}

	return 0
}
