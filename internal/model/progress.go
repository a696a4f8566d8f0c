package model

import (
	"sync/atomic"
	"time"
)

// EngineState is the multi-pass engine's lifecycle state. Transitions are
// strictly forward; no state is re-entered within a run.
type EngineState int32

// Engine states in transition order.
const (
	StateIdle EngineState = iota
	StateScanning
	StateIndexed
	StateMatching
	StateValidating
	StateExtracting
	StateOrphanRecovery
	StateDone
	StateAborted
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateIndexed:
		return "indexed"
	case StateMatching:
		return "matching"
	case StateValidating:
		return "validating"
	case StateExtracting:
		return "extracting"
	case StateOrphanRecovery:
		return "orphan-recovery"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}

	return "unknown"
}

// Counters holds the run's progress counters. All fields are updated
// atomically; the struct is shared across pipeline workers.
type Counters struct {
	BytesProcessed   atomic.Uint64
	HeadersJPEG      atomic.Uint64
	HeadersPNG       atomic.Uint64
	FootersJPEG      atomic.Uint64
	FootersPNG       atomic.Uint64
	PairsMatched     atomic.Uint64
	FilesExtracted   atomic.Uint64
	OrphansRecovered atomic.Uint64
	OrphansFailed    atomic.Uint64
}

// CountCandidate bumps the header or footer counter matching the kind.
func (c *Counters) CountCandidate(kind SignatureKind) {
	switch kind {
	case HeaderJPEG:
		c.HeadersJPEG.Add(1)
	case HeaderPNG:
		c.HeadersPNG.Add(1)
	case FooterJPEG:
		c.FootersJPEG.Add(1)
	case FooterPNG:
		c.FootersPNG.Add(1)
	}
}

// Snapshot freezes the counters into a progress event.
func (c *Counters) Snapshot(pass int, state EngineState, bytesTotal uint64, elapsed time.Duration) ProgressEvent {
	return ProgressEvent{
		Pass:           pass,
		State:          state,
		BytesProcessed: c.BytesProcessed.Load(),
		BytesTotal:     bytesTotal,
		HeadersFound: map[FileFormat]uint64{
			FormatJPEG: c.HeadersJPEG.Load(),
			FormatPNG:  c.HeadersPNG.Load(),
		},
		FootersFound: map[FileFormat]uint64{
			FormatJPEG: c.FootersJPEG.Load(),
			FormatPNG:  c.FootersPNG.Load(),
		},
		PairsMatched:     c.PairsMatched.Load(),
		FilesExtracted:   c.FilesExtracted.Load(),
		OrphansRecovered: c.OrphansRecovered.Load(),
		OrphansFailed:    c.OrphansFailed.Load(),
		Elapsed:          elapsed,
	}
}

// ProgressEvent is a point-in-time view of a run, emitted to the UI at
// most 10 times per second.
type ProgressEvent struct {
	Pass             int
	State            EngineState
	BytesProcessed   uint64
	BytesTotal       uint64
	HeadersFound     map[FileFormat]uint64
	FootersFound     map[FileFormat]uint64
	PairsMatched     uint64
	FilesExtracted   uint64
	OrphansRecovered uint64
	OrphansFailed    uint64
	Elapsed          time.Duration
}

// RunStats summarizes a completed recovery run.
type RunStats struct {
	Device           string
	DeviceSize       uint64
	BytesScanned     uint64
	Headers          map[FileFormat]uint64
	Footers          map[FileFormat]uint64
	PairsMatched     int
	PairsRejected    int
	FilesExtracted   int
	OrphansRecovered int
	OrphansFailed    int
	Elapsed          time.Duration
}

// ScanStats summarizes a signature census pass. The yaml tags shape the
// optional summary artifact written by the scan command.
type ScanStats struct {
	Device       string `yaml:"device"`
	DeviceSize   uint64 `yaml:"device_size"`
	BytesScanned uint64 `yaml:"bytes_scanned"`
	HeadersJPEG  uint64 `yaml:"headers_jpeg"`
	FootersJPEG  uint64 `yaml:"footers_jpeg"`
	HeadersPNG   uint64 `yaml:"headers_png"`
	FootersPNG   uint64 `yaml:"footers_png"`
	ElapsedMS    int64  `yaml:"elapsed_ms"`
}
