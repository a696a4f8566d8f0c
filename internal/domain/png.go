package domain

import (
	"encoding/binary"
	"hash/crc32"

	m "salvage.dev/pkg/salvage/internal/model"
)

// Chunk framing: 4-byte length, 4-byte type, data, 4-byte CRC.
const (
	pngSignatureLen  = 8
	pngChunkOverhead = 12
	pngMaxChunkLen   = 0x7FFFFFFF

	// minPNGSize is the signature plus an IHDR chunk plus an empty IEND.
	minPNGSize = pngSignatureLen + (pngChunkOverhead + 13) + pngChunkOverhead
)

// ihdrInfo is the decoded image header chunk.
type ihdrInfo struct {
	width       uint32
	height      uint32
	bitDepth    byte
	colorType   byte
	compression byte
	filter      byte
	interlace   byte
}

// valid applies the bit-depth matrix of the PNG spec: each color type
// admits a fixed set of depths; compression and filter have a single
// defined method; interlace is none or Adam7.
func (h ihdrInfo) valid() bool {
	if h.width == 0 || h.height == 0 {
		return false
	}

	if h.compression != 0 || h.filter != 0 || h.interlace > 1 {
		return false
	}

	switch h.colorType {
	case 0:
		return h.bitDepth == 1 || h.bitDepth == 2 || h.bitDepth == 4 || h.bitDepth == 8 || h.bitDepth == 16
	case 2, 4, 6:
		return h.bitDepth == 8 || h.bitDepth == 16
	case 3:
		return h.bitDepth == 1 || h.bitDepth == 2 || h.bitDepth == 4 || h.bitDepth == 8
	}

	return false
}

// pngReport is the result of a chunk walk over one candidate extent.
type pngReport struct {
	verdict   m.Verdict
	validEnd  int // length through the IEND chunk; 0 if never reached
	corruptAt int // first impossible byte, -1 when clean
	ihdr      *ihdrInfo
	chunks    int
	crcErrors int
	// firstCRCError is the chunk ordinal of the first CRC mismatch,
	// -1 when all checksums held.
	firstCRCError int
	truncated     bool
}

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// validatePNG verifies the 8-byte signature, then walks chunks verifying
// each CRC-32 (polynomial 0xEDB88320, reflected) over type plus data.
// The first chunk must be IHDR and the stream must terminate at an IEND
// with zero data length.
func validatePNG(data []byte) pngReport {
	report := pngReport{verdict: m.VerdictRejected, corruptAt: -1, firstCRCError: -1}

	if len(data) < minPNGSize {
		return report
	}

	for i := 0; i < pngSignatureLen; i++ {
		if data[i] != pngSignature[i] {
			return report
		}
	}

	var iend bool

	pos := pngSignatureLen

	for pos+pngChunkOverhead <= len(data) {
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		if length > pngMaxChunkLen {
			report.corruptAt = pos

			break
		}

		total := pngChunkOverhead + int(length)
		if pos+total > len(data) {
			report.truncated = true
			report.corruptAt = pos

			break
		}

		chunkType := string(data[pos+4 : pos+8])

		stored := binary.BigEndian.Uint32(data[pos+8+int(length) : pos+total])
		if crc32.ChecksumIEEE(data[pos+4:pos+8+int(length)]) != stored {
			report.crcErrors++
			if report.firstCRCError < 0 {
				report.firstCRCError = report.chunks
			}
		}

		if report.chunks == 0 {
			if chunkType != "IHDR" || length != 13 {
				report.corruptAt = pos

				break
			}

			report.ihdr = decodeIHDR(data[pos+8 : pos+8+13])
		}

		report.chunks++

		if chunkType == "IEND" {
			if length != 0 {
				report.corruptAt = pos

				break
			}

			report.validEnd = pos + total
			iend = true

			break
		}

		pos += total
	}

	if !iend && report.corruptAt < 0 {
		// Ran out of bytes between chunks.
		report.truncated = true
		report.corruptAt = len(data)
	}

	ihdrSound := report.ihdr != nil && report.ihdr.valid() && report.firstCRCError != 0

	switch {
	case iend && ihdrSound && report.crcErrors == 0 && report.corruptAt < 0:
		report.verdict = m.VerdictPassed
	case ihdrSound && report.chunks > 0:
		report.verdict = m.VerdictPartiallyValid
	default:
		report.verdict = m.VerdictRejected
	}

	return report
}

func decodeIHDR(b []byte) *ihdrInfo {
	return &ihdrInfo{
		width:       binary.BigEndian.Uint32(b[0:4]),
		height:      binary.BigEndian.Uint32(b[4:8]),
		bitDepth:    b[8],
		colorType:   b[9],
		compression: b[10],
		filter:      b[11],
		interlace:   b[12],
	}
}
