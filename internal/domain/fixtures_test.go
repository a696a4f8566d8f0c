package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"
	"testing"

	"salvage.dev/pkg/salvage/internal/adapter"
	m "salvage.dev/pkg/salvage/internal/model"
)

// Builders for the synthetic images used across the carving tests. The
// JPEG builder emits a minimal baseline stream whose entropy payload
// carries no 0xFF bytes, so the only footer pattern inside the file is
// its own EOI and every planted decoy is explicit. The PNG builder
// computes real chunk CRCs.

// entropyPayload returns n deterministic high-entropy bytes, none of
// them 0xFF. xorshift32 keeps the tests free of global RNG state.
func entropyPayload(n int, seed uint32) []byte {
	state := seed | 1
	b := make([]byte, n)

	for i := range b {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5

		b[i] = byte(state % 255)
	}

	return b
}

// appendJPEGSegment appends an FF-marker segment whose big-endian
// 16-bit length covers data plus the two length bytes.
func appendJPEGSegment(b []byte, marker byte, data []byte) []byte {
	b = append(b, 0xFF, marker)
	b = append(b, byte((len(data)+2)>>8), byte(len(data)+2))

	return append(b, data...)
}

// jpegPrefix builds SOI through SOS for a baseline three-component
// frame of the given dimensions.
func jpegPrefix(width, height int) []byte {
	b := []byte{0xFF, markerSOI}

	b = appendJPEGSegment(b, 0xE0, []byte{'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0})

	dqt := make([]byte, 65)
	for i := 1; i < len(dqt); i++ {
		dqt[i] = 16
	}

	b = appendJPEGSegment(b, markerDQT, dqt)

	sof := []byte{
		8,
		byte(height >> 8), byte(height),
		byte(width >> 8), byte(width),
		3,
		1, 0x22, 0,
		2, 0x11, 1,
		3, 0x11, 1,
	}
	b = appendJPEGSegment(b, 0xC0, sof)

	dht := make([]byte, 18)
	dht[2] = 1
	b = appendJPEGSegment(b, markerDHT, dht)

	return appendJPEGSegment(b, markerSOS, []byte{3, 1, 0x00, 2, 0x11, 3, 0x11, 0, 0x3F, 0})
}

// buildJPEG assembles a structurally valid baseline JPEG around the
// given entropy payload.
func buildJPEG(width, height int, payload []byte) []byte {
	b := jpegPrefix(width, height)
	b = append(b, payload...)

	return append(b, 0xFF, markerEOI)
}

// buildExifJPEG is buildJPEG with a leading APP1 segment carrying an
// embedded EOI, the way EXIF thumbnails do. A raw scan sees the decoy
// footer; the marker walk skips it by segment length.
func buildExifJPEG(payload []byte) []byte {
	b := []byte{0xFF, markerSOI}

	app1 := append([]byte("Exif\x00\x00"), 0x12, 0x34, 0xFF, markerEOI, 0x56, 0x78)
	b = appendJPEGSegment(b, 0xE1, app1)

	b = append(b, jpegPrefix(64, 64)[2:]...)
	b = append(b, payload...)

	return append(b, 0xFF, markerEOI)
}

// pngChunk frames one chunk: length, type, data, CRC-32 over type and
// data.
func pngChunk(typ string, data []byte) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	b = append(b, typ...)
	b = append(b, data...)

	return binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b[4:]))
}

// buildPNG assembles signature, IHDR (8-bit RGBA), a single IDAT
// holding payload, and IEND.
func buildPNG(width, height uint32, payload []byte) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8
	ihdr[9] = 6

	b := append([]byte{}, pngSignature...)
	b = append(b, pngChunk("IHDR", ihdr)...)
	b = append(b, pngChunk("IDAT", payload)...)

	return append(b, pngChunk("IEND", nil)...)
}

// diskImage is a synthetic device image: file extents placed over a
// zero-filled background.
type diskImage struct {
	data []byte
}

func newDiskImage(size int) *diskImage {
	return &diskImage{data: make([]byte, size)}
}

// place copies b into the image at off and returns the end offset.
func (d *diskImage) place(off int, b []byte) int {
	copy(d.data[off:], b)

	return off + len(b)
}

func (d *diskImage) device() *adapter.LocalDeviceReader {
	return adapter.NewDeviceFromReaderAt(bytes.NewReader(d.data), uint64(len(d.data)), "test-image")
}

// newTestEngine wires an engine over img with real output and manifest
// stores rooted in a fresh temp dir.
func newTestEngine(t *testing.T, img *diskImage, opts Options) (*Engine, string) {
	t.Helper()

	dir := t.TempDir()

	writer, err := adapter.NewLocalOutputWriter(dir)
	if err != nil {
		t.Fatalf("output writer: %v", err)
	}

	manifest, err := adapter.NewLocalManifestStore(dir)
	if err != nil {
		t.Fatalf("manifest store: %v", err)
	}

	t.Cleanup(func() { _ = manifest.Close() })

	return NewEngine(img.device(), writer, manifest, opts), dir
}

// readManifest decodes manifest.jsonl entries in file order.
func readManifest(t *testing.T, dir string) []m.ManifestEntry {
	t.Helper()

	data, err := os.ReadFile(dir + "/" + adapter.ManifestFilename)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	var entries []m.ManifestEntry

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e m.ManifestEntry
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("decode manifest: %v", err)
		}

		entries = append(entries, e)
	}

	return entries
}
