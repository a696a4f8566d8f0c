package domain

import (
	"context"
	"fmt"

	"salvage.dev/pkg/salvage/internal/adapter"
	m "salvage.dev/pkg/salvage/internal/model"
)

// validationReport is the format-independent verdict for one extent.
// corruptAt is relative to the gathered bytes, -1 when clean.
type validationReport struct {
	verdict   m.Verdict
	corruptAt int
	detail    string
}

// validateBytes classifies data as a file of the given format. Pure:
// the verdict depends only on the bytes.
func validateBytes(data []byte, format m.FileFormat) validationReport {
	if format == m.FormatPNG {
		r := validatePNG(data)

		detail := fmt.Sprintf("%d chunks", r.chunks)
		if r.ihdr != nil {
			detail = fmt.Sprintf("%dx%d depth %d color %d, %s", r.ihdr.width, r.ihdr.height, r.ihdr.bitDepth, r.ihdr.colorType, detail)
		}

		if r.crcErrors > 0 {
			detail += fmt.Sprintf(", %d crc errors", r.crcErrors)
		}

		return validationReport{verdict: r.verdict, corruptAt: r.corruptAt, detail: detail}
	}

	r := validateJPEG(data)

	detail := "no frame header"
	if r.width > 0 {
		detail = fmt.Sprintf("%dx%d", r.width, r.height)
	}

	if r.progressive {
		detail += " progressive"
	}

	if r.truncated {
		detail += ", truncated"
	}

	return validationReport{verdict: r.verdict, corruptAt: r.corruptAt, detail: detail}
}

// validateRanges re-reads a gather-list of one contiguous extent or two
// spliced fragments and validates the concatenation.
func validateRanges(ctx context.Context, dev adapter.DeviceReader, ranges []m.ByteRange, format m.FileFormat) (validationReport, error) {
	data, err := gatherRanges(ctx, dev, ranges)
	if err != nil {
		return validationReport{verdict: m.VerdictRejected, corruptAt: -1}, err
	}

	return validateBytes(data, format), nil
}

// gatherRanges concatenates the ranges into one buffer. Reads come from
// the device, never from scan buffers, which may have been recycled.
func gatherRanges(ctx context.Context, dev adapter.DeviceReader, ranges []m.ByteRange) ([]byte, error) {
	var total uint64
	for _, r := range ranges {
		total += r.Length()
	}

	buf := make([]byte, total)
	at := 0

	for _, r := range ranges {
		want := int(r.Length())

		n, err := dev.ReadRange(ctx, r.Start, buf[at:at+want])
		if err != nil {
			return nil, err
		}

		at += n

		if n < want {
			// Range reaches past the device end; nothing follows.
			break
		}
	}

	return buf[:at], nil
}
