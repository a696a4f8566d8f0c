// Package model defines the data structures shared by the carving engine.
package model

import "fmt"

// ByteOffset is an absolute byte position on the source device.
type ByteOffset uint64

// ByteRange is a half-open [Start, End) span of device bytes.
type ByteRange struct {
	Start ByteOffset
	End   ByteOffset
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() uint64 {
	if r.End <= r.Start {
		return 0
	}

	return uint64(r.End - r.Start)
}

// FileFormat identifies a recoverable image format.
type FileFormat int

// Supported formats.
const (
	FormatJPEG FileFormat = iota
	FormatPNG
)

const (
	// MiB is one mebibyte.
	MiB = 1 << 20

	defaultMaxJPEGSize = 256 * MiB
	defaultMaxPNGSize  = 512 * MiB
)

// Formats returns all supported formats in a stable order.
func Formats() []FileFormat {
	return []FileFormat{FormatJPEG, FormatPNG}
}

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (FileFormat, error) {
	switch s {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}

	return 0, &ConfigError{Option: "formats", Reason: fmt.Sprintf("unknown format %q", s)}
}

// Name returns the lowercase format name used in filenames and the manifest.
func (f FileFormat) Name() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	}

	return "unknown"
}

// Ext returns the output file extension without the dot.
func (f FileFormat) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	}

	return "bin"
}

// DefaultMaxFileSize returns the largest extent considered plausible for
// the format when no override is configured.
func (f FileFormat) DefaultMaxFileSize() uint64 {
	if f == FormatPNG {
		return defaultMaxPNGSize
	}

	return defaultMaxJPEGSize
}

// MarshalJSON encodes the format as its name.
func (f FileFormat) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.Name() + `"`), nil
}

// UnmarshalJSON decodes a format name.
func (f *FileFormat) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

// SignatureKind tags a candidate as a header or footer of a specific format.
type SignatureKind int

// The fixed signature kinds. The set is closed; adding a format means
// adding kinds here plus a validator.
const (
	HeaderJPEG SignatureKind = iota
	FooterJPEG
	HeaderPNG
	FooterPNG
)

// KindCount is the number of signature kinds.
const KindCount = 4

// Format returns the file format the kind belongs to.
func (k SignatureKind) Format() FileFormat {
	if k == HeaderPNG || k == FooterPNG {
		return FormatPNG
	}

	return FormatJPEG
}

// IsHeader reports whether the kind marks the start of a file.
func (k SignatureKind) IsHeader() bool {
	return k == HeaderJPEG || k == HeaderPNG
}

func (k SignatureKind) String() string {
	switch k {
	case HeaderJPEG:
		return "jpeg-header"
	case FooterJPEG:
		return "jpeg-footer"
	case HeaderPNG:
		return "png-header"
	case FooterPNG:
		return "png-footer"
	}

	return "unknown"
}

// Candidate is a signature match emitted by the scanner. Candidates are
// immutable once created.
type Candidate struct {
	Offset     ByteOffset    `json:"offset"`
	Kind       SignatureKind `json:"kind"`
	Confidence float32       `json:"confidence"`
	// EntropyBoundary is set on footers followed by a sharp entropy drop,
	// a strong hint that the boundary is a real end of file.
	EntropyBoundary bool `json:"entropy_boundary,omitempty"`
}

// Pair is one header/footer extent proposed by the solver.
type Pair struct {
	Header Candidate
	Footer Candidate
	Score  float64
	Format FileFormat
}

// Validate checks the structural invariants of the pair against the
// effective maximum file size for its format.
func (p Pair) Validate(maxFileSize uint64) error {
	if !p.Header.Kind.IsHeader() || p.Footer.Kind.IsHeader() {
		return fmt.Errorf("pair kinds inverted: %s, %s", p.Header.Kind, p.Footer.Kind)
	}

	if p.Header.Kind.Format() != p.Format || p.Footer.Kind.Format() != p.Format {
		return fmt.Errorf("pair mixes formats: %s, %s", p.Header.Kind, p.Footer.Kind)
	}

	if p.Footer.Offset <= p.Header.Offset {
		return fmt.Errorf("footer %d does not follow header %d", p.Footer.Offset, p.Header.Offset)
	}

	if uint64(p.Footer.Offset-p.Header.Offset) > maxFileSize {
		return fmt.Errorf("pair spans %d bytes, above the %d limit", p.Footer.Offset-p.Header.Offset, maxFileSize)
	}

	return nil
}

// Assignment is the solver output: disjoint pairs plus the candidates
// that found no partner.
type Assignment struct {
	Pairs         []Pair
	OrphanHeaders []Candidate
	OrphanFooters []Candidate
}
