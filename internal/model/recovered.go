package model

import "fmt"

// Verdict classifies the structural validation of a recovered extent.
type Verdict int

// Verdict values.
const (
	// VerdictPassed means the extent parses cleanly end to end.
	VerdictPassed Verdict = iota
	// VerdictPartiallyValid means the leading structure is sound but the
	// tail is truncated or damaged.
	VerdictPartiallyValid
	// VerdictRejected means the extent is not a file of the claimed format.
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictPassed:
		return "passed"
	case VerdictPartiallyValid:
		return "partial"
	case VerdictRejected:
		return "rejected"
	}

	return "unknown"
}

// MarshalJSON encodes the verdict as its name.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON decodes a verdict name.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	switch s {
	case "passed":
		*v = VerdictPassed
	case "partial":
		*v = VerdictPartiallyValid
	case "rejected":
		*v = VerdictRejected
	default:
		return fmt.Errorf("unknown verdict %q", s)
	}

	return nil
}

// RecoveredFile is a validated extent ready for extraction. Ranges holds
// one contiguous range, or two disjoint fragments that are concatenated
// on write.
type RecoveredFile struct {
	Format  FileFormat
	Ranges  []ByteRange
	Verdict Verdict
}

// HeaderOffset returns the device offset of the file's first byte.
func (f RecoveredFile) HeaderOffset() ByteOffset {
	if len(f.Ranges) == 0 {
		return 0
	}

	return f.Ranges[0].Start
}

// Length returns the total number of bytes across all fragments.
func (f RecoveredFile) Length() uint64 {
	var n uint64
	for _, r := range f.Ranges {
		n += r.Length()
	}

	return n
}

// Fragments returns the fragment count (1 for contiguous, 2 for spliced).
func (f RecoveredFile) Fragments() int {
	return len(f.Ranges)
}

// ManifestEntry is one line of manifest.jsonl.
type ManifestEntry struct {
	Sequence     int        `json:"sequence"`
	Format       FileFormat `json:"format"`
	SourceOffset ByteOffset `json:"source_offset"`
	Length       uint64     `json:"length"`
	Fragments    int        `json:"fragments"`
	Validation   Verdict    `json:"validation"`
	Unsafe       bool       `json:"unsafe,omitempty"`
	Path         string     `json:"path"`
}
