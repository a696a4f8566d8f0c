package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	m "salvage.dev/pkg/salvage/internal/model"
)

func TestValidateBytes(t *testing.T) {
	t.Run("reports jpeg dimensions", func(t *testing.T) {
		report := validateBytes(buildJPEG(640, 480, entropyPayload(1000, 30)), m.FormatJPEG)

		require.Equal(t, m.VerdictPassed, report.verdict)
		require.Equal(t, "640x480", report.detail)
	})

	t.Run("reports a missing frame header", func(t *testing.T) {
		report := validateBytes(entropyPayload(1000, 31), m.FormatJPEG)

		require.Equal(t, m.VerdictRejected, report.verdict)
		require.Equal(t, "no frame header", report.detail)
	})

	t.Run("marks a truncated jpeg", func(t *testing.T) {
		jpeg := buildJPEG(64, 64, entropyPayload(2000, 32))

		report := validateBytes(jpeg[:len(jpeg)-300], m.FormatJPEG)

		require.Equal(t, m.VerdictPartiallyValid, report.verdict)
		require.Equal(t, "64x64, truncated", report.detail)
	})

	t.Run("reports png geometry and chunk count", func(t *testing.T) {
		report := validateBytes(buildPNG(800, 600, entropyPayload(1000, 33)), m.FormatPNG)

		require.Equal(t, m.VerdictPassed, report.verdict)
		require.Equal(t, "800x600 depth 8 color 6, 3 chunks", report.detail)
	})

	t.Run("counts png crc errors", func(t *testing.T) {
		data := buildPNG(32, 32, entropyPayload(1000, 34))
		data[pngSignatureLen+pngChunkOverhead+13+8+5] ^= 0x01

		report := validateBytes(data, m.FormatPNG)

		require.Equal(t, m.VerdictPartiallyValid, report.verdict)
		require.Contains(t, report.detail, ", 1 crc errors")
	})
}

func TestGatherRanges(t *testing.T) {
	t.Run("concatenates fragments in order", func(t *testing.T) {
		img := newDiskImage(64 * 1024)
		img.place(4096, []byte("first-fragment"))
		img.place(16384, []byte("second-fragment"))

		data, err := gatherRanges(context.Background(), img.device(), []m.ByteRange{
			{Start: 4096, End: 4096 + 14},
			{Start: 16384, End: 16384 + 15},
		})

		require.NoError(t, err)
		require.Equal(t, []byte("first-fragmentsecond-fragment"), data)
	})

	t.Run("clamps a range past the device end", func(t *testing.T) {
		img := newDiskImage(8192)
		img.place(8000, []byte{1, 2, 3, 4})

		data, err := gatherRanges(context.Background(), img.device(), []m.ByteRange{
			{Start: 8000, End: 9000},
		})

		require.NoError(t, err)
		require.Len(t, data, 192)
		require.Equal(t, []byte{1, 2, 3, 4}, data[:4])
	})

	t.Run("fails when a fragment starts past the device end", func(t *testing.T) {
		img := newDiskImage(4096)

		_, err := gatherRanges(context.Background(), img.device(), []m.ByteRange{
			{Start: 8192, End: 8200},
		})

		require.Error(t, err)
	})
}

func TestValidateRanges(t *testing.T) {
	t.Run("passes a spliced jpeg whose fragments sit apart", func(t *testing.T) {
		jpeg := buildJPEG(128, 128, entropyPayload(6000, 35))
		head, tail := jpeg[:2048], jpeg[2048:]

		img := newDiskImage(128 * 1024)
		img.place(4096, head)
		img.place(65536, tail)

		// Garbage fills the on-disk gap; the gather list skips it.
		img.place(4096+len(head), entropyPayload(1024, 36))

		report, err := validateRanges(context.Background(), img.device(), []m.ByteRange{
			{Start: 4096, End: m.ByteOffset(4096 + len(head))},
			{Start: 65536, End: m.ByteOffset(65536 + len(tail))},
		}, m.FormatJPEG)

		require.NoError(t, err)
		require.Equal(t, m.VerdictPassed, report.verdict)
		require.Equal(t, "128x128", report.detail)
	})

	t.Run("rejects the same extents read contiguously", func(t *testing.T) {
		jpeg := buildJPEG(128, 128, entropyPayload(6000, 35))

		img := newDiskImage(128 * 1024)
		img.place(4096, jpeg[:2048])
		img.place(4096+2048, entropyPayload(1024, 36))

		report, err := validateRanges(context.Background(), img.device(), []m.ByteRange{
			{Start: 4096, End: 4096 + 2048 + 1024},
		}, m.FormatJPEG)

		require.NoError(t, err)
		require.NotEqual(t, m.VerdictPassed, report.verdict)
	})
}
