// Package domain implements the carving engine: scanning, pairing,
// validation, gap carving, and extraction.
package domain

import (
	m "salvage.dev/pkg/salvage/internal/model"
)

// Signature is a compiled byte pattern bound to a signature kind. The
// set is fixed at construction; adding a format means adding signatures
// here plus a validator.
type Signature struct {
	Kind    m.SignatureKind
	Pattern []byte
}

var signatureTable = []Signature{
	{Kind: m.HeaderJPEG, Pattern: []byte{0xFF, 0xD8, 0xFF}},
	{Kind: m.FooterJPEG, Pattern: []byte{0xFF, 0xD9}},
	{Kind: m.HeaderPNG, Pattern: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{Kind: m.FooterPNG, Pattern: []byte{0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82}},
}

// Signatures returns the full signature set in a stable order.
func Signatures() []Signature {
	return signatureTable
}

// SignaturesFor returns the signatures of the requested formats only,
// preserving table order.
func SignaturesFor(formats []m.FileFormat) []Signature {
	wanted := map[m.FileFormat]bool{}
	for _, f := range formats {
		wanted[f] = true
	}

	var out []Signature

	for _, sig := range signatureTable {
		if wanted[sig.Kind.Format()] {
			out = append(out, sig)
		}
	}

	return out
}

// SignatureLength returns the pattern length for a kind. Footer lengths
// determine where a recovered extent ends.
func SignatureLength(kind m.SignatureKind) int {
	for _, sig := range signatureTable {
		if sig.Kind == kind {
			return len(sig.Pattern)
		}
	}

	return 0
}

// ScanOverlap is the chunk overlap needed so no match is lost at a
// chunk boundary: the longest pattern minus one.
func ScanOverlap() int {
	longest := 0
	for _, sig := range signatureTable {
		if len(sig.Pattern) > longest {
			longest = len(sig.Pattern)
		}
	}

	return longest - 1
}

// Confidence levels assigned from local byte context. The scanner sees
// only a bounded window, so these are priors for the solver, not
// verdicts.
const (
	confJPEGHeaderStrong = 0.90 // followed by a plausible first marker
	confJPEGHeaderWeak   = 0.45 // followed by an unlikely marker byte
	confJPEGHeaderBase   = 0.60 // context not visible (chunk edge)
	confJPEGFooter       = 0.70
	confJPEGFooterFill   = 0.35 // preceded by 0xFF, likely fill or scan data
	confPNGHeader        = 0.90
	confPNGHeaderIHDR    = 0.99 // immediately followed by an IHDR chunk header
	confPNGFooter        = 0.95 // pattern embeds the fixed IEND CRC
)

// scoreCandidate derives the confidence of a match at buf[at] from the
// surrounding bytes. Context that falls outside buf keeps the base
// confidence.
func scoreCandidate(kind m.SignatureKind, buf []byte, at int) float32 {
	switch kind {
	case m.HeaderJPEG:
		next := at + 3
		if next >= len(buf) {
			return confJPEGHeaderBase
		}

		if plausibleFirstMarker(buf[next]) {
			return confJPEGHeaderStrong
		}

		return confJPEGHeaderWeak

	case m.FooterJPEG:
		if at > 0 && buf[at-1] == 0xFF {
			return confJPEGFooterFill
		}

		return confJPEGFooter

	case m.HeaderPNG:
		// A real PNG opens with an IHDR chunk of exactly 13 data bytes.
		peek := at + 8
		if peek+8 <= len(buf) &&
			buf[peek] == 0 && buf[peek+1] == 0 && buf[peek+2] == 0 && buf[peek+3] == 13 &&
			string(buf[peek+4:peek+8]) == "IHDR" {
			return confPNGHeaderIHDR
		}

		return confPNGHeader

	case m.FooterPNG:
		return confPNGFooter
	}

	return 0
}

// plausibleFirstMarker reports whether b is a marker byte that commonly
// follows SOI: APPn, DQT, DHT, or COM.
func plausibleFirstMarker(b byte) bool {
	if b >= 0xE0 && b <= 0xEF {
		return true
	}

	return b == 0xDB || b == 0xC4 || b == 0xFE
}
