package domain

import "math"

// Entropy parameters. The boundary threshold is empirical: compressed
// image payload sits near 8 bits per byte, while slack space, text and
// zero-fill sit well below.
const (
	entropyWindow    = 4096
	entropySpan      = 2 * entropyWindow
	entropyThreshold = 1.5
	entropyMinSample = 256
)

// shannonEntropy returns the byte entropy of b in bits, in [0, 8].
func shannonEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}

	var counts [256]uint32

	for _, c := range b {
		counts[c]++
	}

	total := float64(len(b))

	var h float64

	for _, n := range counts {
		if n == 0 {
			continue
		}

		p := float64(n) / total
		h -= p * math.Log2(p)
	}

	return h
}

// entropyBoundaryAfter reports whether the entropy drops by at least the
// threshold within the span following position end (typically the last
// byte of a footer pattern). Windows clipped below the minimum sample
// size yield no signal.
func entropyBoundaryAfter(buf []byte, end int) bool {
	lo := end - entropyWindow
	if lo < 0 {
		lo = 0
	}

	if end-lo < entropyMinSample {
		return false
	}

	before := shannonEntropy(buf[lo:end])

	for start := end; start < end+entropySpan && start < len(buf); start += entropyWindow {
		stop := start + entropyWindow
		if stop > len(buf) {
			stop = len(buf)
		}

		if stop-start < entropyMinSample {
			break
		}

		if before-shannonEntropy(buf[start:stop]) >= entropyThreshold {
			return true
		}
	}

	return false
}
