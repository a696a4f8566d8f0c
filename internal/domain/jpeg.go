package domain

import m "salvage.dev/pkg/salvage/internal/model"

// JPEG marker bytes (the second byte of an FF xx marker).
const (
	markerTEM  = 0x01
	markerSOF2 = 0xC2
	markerDHT  = 0xC4
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerDQT  = 0xDB
	markerDRI  = 0xDD
)

// jpegReport is the result of a marker-stream walk over one candidate
// extent. The verdict is a pure function of the bytes.
type jpegReport struct {
	verdict  m.Verdict
	validEnd int // length through the terminating EOI; 0 if never reached
	// corruptAt is the offset of the first byte that cannot belong to a
	// well-formed stream, -1 when the walk stayed consistent.
	corruptAt   int
	sosSeen     bool
	width       int
	height      int
	progressive bool
	truncated   bool
}

// validateJPEG walks the marker stream from SOI. Length-bearing segments
// carry a big-endian 16-bit length that includes the two length bytes
// but not the marker. Entropy-coded data after SOS is skipped honoring
// FF 00 stuffing and RST0-7 restarts, until EOI or the next marker.
func validateJPEG(data []byte) jpegReport {
	report := jpegReport{verdict: m.VerdictRejected, corruptAt: -1}

	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return report
	}

	var (
		dqtSeen    bool
		sofSeen    bool
		orderOK    = true
		restartOK  = true
		restartSeq int
		eoi        bool
	)

	pos := 2

walk:
	for pos+1 < len(data) {
		if data[pos] != 0xFF {
			report.corruptAt = pos
			break
		}

		marker := data[pos+1]

		switch {
		case marker == 0xFF:
			// Fill byte; the real marker follows.
			pos++

		case marker == 0x00:
			// Stuffed FF outside a scan. Tolerated, not meaningful.
			pos += 2

		case marker == markerEOI:
			report.validEnd = pos + 2
			eoi = true

			break walk

		case isStandaloneMarker(marker):
			pos += 2

		default:
			if pos+3 >= len(data) {
				report.truncated = true
				report.corruptAt = pos

				break walk
			}

			segLen := int(data[pos+2])<<8 | int(data[pos+3])
			if segLen < 2 {
				report.corruptAt = pos

				break walk
			}

			if pos+2+segLen > len(data) {
				report.truncated = true
				report.corruptAt = pos

				break walk
			}

			switch {
			case marker == markerDQT:
				dqtSeen = true

			case isSOFMarker(marker):
				sofSeen = true
				if !dqtSeen {
					orderOK = false
				}

				if marker == markerSOF2 {
					report.progressive = true
				}

				if segLen >= 7 {
					report.height = int(data[pos+5])<<8 | int(data[pos+6])
					report.width = int(data[pos+7])<<8 | int(data[pos+8])
				}

			case marker == markerSOS:
				if !sofSeen {
					orderOK = false
				}

				report.sosSeen = true
				pos += 2 + segLen

				next, end := walkEntropyScan(data, pos, &restartSeq, &restartOK)
				if end > 0 {
					report.validEnd = end
					eoi = true

					break walk
				}

				if next+1 >= len(data) {
					report.truncated = true
					report.corruptAt = len(data)

					break walk
				}

				// A non-restart marker ended the scan: resume the
				// marker walk there (progressive streams interleave
				// further DHT/SOS segments).
				pos = next

				continue
			}

			pos += 2 + segLen
		}
	}

	if !eoi && report.corruptAt < 0 {
		report.truncated = true
		report.corruptAt = len(data)
	}

	switch {
	case eoi && report.sosSeen && report.corruptAt < 0 && orderOK && restartOK:
		report.verdict = m.VerdictPassed
	case report.sosSeen:
		report.verdict = m.VerdictPartiallyValid
	default:
		report.verdict = m.VerdictRejected
	}

	return report
}

// walkEntropyScan advances through entropy-coded data starting at pos.
// Returns the position of the marker that ended the scan and, when that
// marker is EOI, the exclusive end offset of the stream.
func walkEntropyScan(data []byte, pos int, restartSeq *int, restartOK *bool) (int, int) {
	for pos+1 < len(data) {
		if data[pos] != 0xFF {
			pos++

			continue
		}

		next := data[pos+1]

		switch {
		case next == 0x00:
			// Stuffed FF: a literal 0xFF byte of compressed data.
			pos += 2

		case next == 0xFF:
			pos++

		case next >= 0xD0 && next <= 0xD7:
			if int(next-0xD0) != *restartSeq%8 {
				*restartOK = false
			}

			*restartSeq++
			pos += 2

		case next == markerEOI:
			return pos + 2, pos + 2

		default:
			return pos, 0
		}
	}

	return len(data), 0
}

// isSOFMarker reports whether the marker starts a frame header. C4, C8
// and CC sit in the SOF range but are DHT, JPG and DAC.
func isSOFMarker(b byte) bool {
	if b < 0xC0 || b > 0xCF {
		return false
	}

	return b != markerDHT && b != 0xC8 && b != 0xCC
}

// isStandaloneMarker reports whether the marker carries no length field.
func isStandaloneMarker(b byte) bool {
	if b >= 0xD0 && b <= 0xD7 {
		return true
	}

	return b == markerTEM || b == markerSOI
}
