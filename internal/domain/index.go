package domain

import (
	"sort"

	m "salvage.dev/pkg/salvage/internal/model"
)

// CandidateIndex stores scan candidates partitioned by kind, each slice
// sorted strictly ascending by offset after Finalize. It is built by a
// single collector goroutine during pass 1 and read-only afterwards.
type CandidateIndex struct {
	byKind    [m.KindCount][]m.Candidate
	finalized bool
}

// NewCandidateIndex returns an empty index.
func NewCandidateIndex() *CandidateIndex {
	return &CandidateIndex{}
}

// Append adds a batch of candidates in any order. Must not be called
// after Finalize.
func (ix *CandidateIndex) Append(batch []m.Candidate) {
	for _, c := range batch {
		ix.byKind[c.Kind] = append(ix.byKind[c.Kind], c)
	}
}

// Finalize sorts every kind by offset and collapses duplicates produced
// by chunk overlap. Duplicates keep the highest confidence seen and the
// union of entropy bits, so the surviving candidate is independent of
// worker scheduling.
func (ix *CandidateIndex) Finalize() {
	for kind := range ix.byKind {
		s := ix.byKind[kind]
		sort.Slice(s, func(i, j int) bool {
			if s[i].Offset != s[j].Offset {
				return s[i].Offset < s[j].Offset
			}

			return s[i].Confidence > s[j].Confidence
		})

		out := s[:0]

		for _, c := range s {
			if n := len(out); n > 0 && out[n-1].Offset == c.Offset {
				if c.Confidence > out[n-1].Confidence {
					out[n-1].Confidence = c.Confidence
				}

				out[n-1].EntropyBoundary = out[n-1].EntropyBoundary || c.EntropyBoundary

				continue
			}

			out = append(out, c)
		}

		ix.byKind[kind] = out
	}

	ix.finalized = true
}

// Headers returns the sorted header candidates of a format.
func (ix *CandidateIndex) Headers(format m.FileFormat) []m.Candidate {
	return ix.byKind[headerKind(format)]
}

// Footers returns the sorted footer candidates of a format.
func (ix *CandidateIndex) Footers(format m.FileFormat) []m.Candidate {
	return ix.byKind[footerKind(format)]
}

// FootersIn returns the footers of a format with lo < offset <= hi.
// The subrange aliases the index storage; callers must not mutate it.
func (ix *CandidateIndex) FootersIn(format m.FileFormat, lo, hi m.ByteOffset) []m.Candidate {
	footers := ix.Footers(format)

	first := sort.Search(len(footers), func(i int) bool {
		return footers[i].Offset > lo
	})

	last := sort.Search(len(footers), func(i int) bool {
		return footers[i].Offset > hi
	})

	return footers[first:last]
}

// Counts returns the candidate count per kind.
func (ix *CandidateIndex) Counts() [m.KindCount]uint64 {
	var counts [m.KindCount]uint64
	for kind := range ix.byKind {
		counts[kind] = uint64(len(ix.byKind[kind]))
	}

	return counts
}

func headerKind(format m.FileFormat) m.SignatureKind {
	if format == m.FormatPNG {
		return m.HeaderPNG
	}

	return m.HeaderJPEG
}

func footerKind(format m.FileFormat) m.SignatureKind {
	if format == m.FormatPNG {
		return m.FooterPNG
	}

	return m.FooterJPEG
}
