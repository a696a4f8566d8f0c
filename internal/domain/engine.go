package domain

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"salvage.dev/pkg/salvage/internal/adapter"
	m "salvage.dev/pkg/salvage/internal/model"
)

const (
	// progressInterval throttles the event stream to at most 10 Hz.
	progressInterval = 100 * time.Millisecond

	eventBuffer = 32
)

// Mode selects the carving strategy.
type Mode int

const (
	// ModeMultiPass scans the whole device, solves the global
	// header/footer assignment, validates and extracts, then attempts
	// gap carving for the leftovers. Best recovery rate.
	ModeMultiPass Mode = iota

	// ModeFast fuses scan, pairing and extraction into a single forward
	// walk. Roughly twice as fast; fragmented files are lost.
	ModeFast
)

// Options configures a recovery run.
type Options struct {
	// Formats to carve for. Empty means all supported formats.
	Formats []m.FileFormat

	Mode Mode

	// Unsafe writes every assigned pair whatever its verdict. The
	// manifest records the real verdict plus the unsafe flag.
	Unsafe bool

	// MaxFileSize overrides the per-format extent limit when non-zero.
	MaxFileSize uint64

	// BGCBudget is the wall-clock budget per orphan header during gap
	// carving. Zero means DefaultBGCBudget.
	BGCBudget time.Duration

	// Workers bounds scan and validation parallelism. Zero means
	// DefaultWorkers.
	Workers int

	// ChunkSize is the scan read size. Zero means DefaultChunkSize.
	ChunkSize int
}

func (o Options) maxFileSize(format m.FileFormat) uint64 {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}

	return format.DefaultMaxFileSize()
}

// Engine drives one recovery run: scan, match, validate, extract,
// orphan recovery. Construct with NewEngine, consume Events from a
// separate goroutine, then call Run exactly once.
type Engine struct {
	dev      adapter.DeviceReader
	writer   adapter.OutputWriter
	manifest adapter.ManifestStore
	opts     Options

	counters m.Counters
	state    atomic.Int32
	pass     atomic.Int32
	rejected atomic.Uint64
	events   chan m.ProgressEvent
	started  time.Time
}

// NewEngine wires a run against the given device and output sinks.
func NewEngine(dev adapter.DeviceReader, writer adapter.OutputWriter, manifest adapter.ManifestStore, opts Options) *Engine {
	if len(opts.Formats) == 0 {
		opts.Formats = m.Formats()
	}

	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers()
	}

	if opts.BGCBudget <= 0 {
		opts.BGCBudget = DefaultBGCBudget
	}

	return &Engine{
		dev:      dev,
		writer:   writer,
		manifest: manifest,
		opts:     opts,
		events:   make(chan m.ProgressEvent, eventBuffer),
	}
}

// Events returns the progress stream. Events are dropped rather than
// queued when the consumer lags; the channel is closed when Run
// returns.
func (e *Engine) Events() <-chan m.ProgressEvent {
	return e.events
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() m.EngineState {
	return m.EngineState(e.state.Load())
}

// setState advances the lifecycle. Transitions are strictly forward;
// a stale transition loses the race and is dropped.
func (e *Engine) setState(s m.EngineState) {
	for {
		cur := e.state.Load()
		if int32(s) <= cur {
			return
		}

		if e.state.CompareAndSwap(cur, int32(s)) {
			slog.Debug("engine state", "state", s.String())

			return
		}
	}
}

// Run executes the configured recovery. The returned stats are valid
// even when err is non-nil and reflect the work completed before the
// failure.
func (e *Engine) Run(ctx context.Context) (m.RunStats, error) {
	e.started = time.Now()

	stopProgress := e.startProgress()
	defer stopProgress()

	slog.Info("recovery started",
		"device", e.dev.Path(), "size", e.dev.Size(),
		"formats", formatNames(e.opts.Formats),
		"fast", e.opts.Mode == ModeFast, "unsafe", e.opts.Unsafe,
		"workers", e.opts.Workers)

	var err error
	if e.opts.Mode == ModeFast {
		err = e.runFast(ctx)
	} else {
		err = e.runMultiPass(ctx)
	}

	if err != nil {
		e.state.Store(int32(m.StateAborted))

		if m.IsCancelled(err) {
			slog.Info("recovery cancelled", "device", e.dev.Path())
		} else {
			slog.Error("recovery failed", "device", e.dev.Path(), "error", err)
		}

		return e.stats(), err
	}

	e.setState(m.StateDone)

	stats := e.stats()
	slog.Info("recovery complete",
		"device", e.dev.Path(), "files", stats.FilesExtracted,
		"orphans_recovered", stats.OrphansRecovered, "elapsed", stats.Elapsed)

	return stats, nil
}

func (e *Engine) runMultiPass(ctx context.Context) error {
	e.pass.Store(1)
	e.setState(m.StateScanning)

	index := NewCandidateIndex()

	scanner := NewScanner(e.dev, e.opts.Formats, e.opts.Workers, e.opts.ChunkSize, &e.counters)
	if err := scanner.Run(ctx, index); err != nil {
		return err
	}

	e.setState(m.StateIndexed)

	e.pass.Store(2)
	e.setState(m.StateMatching)

	assignment := MatchCandidates(index, e.opts.Formats, e.opts.maxFileSize)
	e.counters.PairsMatched.Store(uint64(len(assignment.Pairs)))

	slog.Info("assignment solved",
		"pairs", len(assignment.Pairs),
		"orphan_headers", len(assignment.OrphanHeaders),
		"orphan_footers", len(assignment.OrphanFooters))

	e.setState(m.StateValidating)

	accepted, failed, err := e.validatePairs(ctx, assignment.Pairs)
	if err != nil {
		return err
	}

	e.pass.Store(3)
	e.setState(m.StateExtracting)

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].HeaderOffset() < accepted[j].HeaderOffset()
	})

	seq := newSequencer()
	if err := extractFiles(ctx, e.dev, e.writer, e.manifest, accepted, seq, e.opts.Workers, e.opts.Unsafe, &e.counters); err != nil {
		return err
	}

	e.setState(m.StateOrphanRecovery)

	if err := e.recoverLeftovers(ctx, assignment, failed, seq); err != nil {
		return err
	}

	return e.manifest.Sync()
}

// failedPair is a matched pair the validator did not pass, kept for the
// orphan-recovery phase together with what the walk learned.
type failedPair struct {
	pair   m.Pair
	report validationReport
}

// validatePairs re-reads and validates every assigned pair, bounded by
// the worker limit. Passed pairs become recovered files; the rest come
// back as failures unless unsafe mode keeps them.
func (e *Engine) validatePairs(ctx context.Context, pairs []m.Pair) ([]m.RecoveredFile, []failedPair, error) {
	reports := make([]validationReport, len(pairs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.Workers)

	for i, p := range pairs {
		i, p := i, p

		eg.Go(func() error {
			report, err := validateRanges(egCtx, e.dev, []m.ByteRange{pairRange(p)}, p.Format)
			if err != nil {
				return err
			}

			reports[i] = report

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var accepted []m.RecoveredFile

	var failed []failedPair

	for i, p := range pairs {
		report := reports[i]

		switch {
		case report.verdict == m.VerdictPassed:
			accepted = append(accepted, m.RecoveredFile{
				Format:  p.Format,
				Ranges:  []m.ByteRange{pairRange(p)},
				Verdict: m.VerdictPassed,
			})
		case e.opts.Unsafe:
			slog.Warn("keeping unvalidated pair",
				"format", p.Format.Name(), "header", p.Header.Offset,
				"verdict", report.verdict.String(), "detail", report.detail)

			accepted = append(accepted, m.RecoveredFile{
				Format:  p.Format,
				Ranges:  []m.ByteRange{pairRange(p)},
				Verdict: report.verdict,
			})
		default:
			e.rejected.Add(1)

			slog.Debug("pair failed validation",
				"format", p.Format.Name(), "header", p.Header.Offset,
				"footer", p.Footer.Offset, "verdict", report.verdict.String(),
				"detail", report.detail)

			failed = append(failed, failedPair{pair: p, report: report})
		}
	}

	return accepted, failed, nil
}

// recoverLeftovers runs bifragment gap carving over the orphan pool:
// the solver's unmatched candidates plus both ends of every failed
// pair. Partial walks keep their corruption offsets as gap hints.
func (e *Engine) recoverLeftovers(ctx context.Context, assignment m.Assignment, failed []failedPair, seq *sequencer) error {
	headers := assignment.OrphanHeaders
	footers := assignment.OrphanFooters

	hints := map[m.ByteOffset]gapHint{}

	for _, fp := range failed {
		headers = append(headers, fp.pair.Header)
		footers = append(footers, fp.pair.Footer)

		if fp.report.verdict == m.VerdictPartiallyValid && fp.report.corruptAt > 0 {
			hints[fp.pair.Header.Offset] = gapHint{
				footer:    fp.pair.Footer,
				corruptAt: fp.pair.Header.Offset + m.ByteOffset(fp.report.corruptAt),
				naive:     pairRange(fp.pair),
			}
		}
	}

	if len(headers) == 0 {
		return nil
	}

	sort.Slice(headers, func(i, j int) bool { return headers[i].Offset < headers[j].Offset })
	sort.Slice(footers, func(i, j int) bool { return footers[i].Offset < footers[j].Offset })

	files, err := recoverOrphans(ctx, e.dev, headers, footers, hints, e.opts.maxFileSize, e.opts.BGCBudget, &e.counters)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return nil
	}

	return extractFiles(ctx, e.dev, e.writer, e.manifest, files, seq, e.opts.Workers, e.opts.Unsafe, &e.counters)
}

// startProgress launches the throttled event publisher. The returned
// stop function publishes one final snapshot, closes the event channel
// and waits for the publisher to exit.
func (e *Engine) startProgress() func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				e.publish()
				close(e.events)

				return
			case <-ticker.C:
				e.publish()
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// publish snapshots the counters onto the event channel without
// blocking; a slow consumer sees fewer, fresher events.
func (e *Engine) publish() {
	ev := e.counters.Snapshot(int(e.pass.Load()), e.State(), e.dev.Size(), time.Since(e.started))

	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) stats() m.RunStats {
	return m.RunStats{
		Device:       e.dev.Path(),
		DeviceSize:   e.dev.Size(),
		BytesScanned: e.counters.BytesProcessed.Load(),
		Headers: map[m.FileFormat]uint64{
			m.FormatJPEG: e.counters.HeadersJPEG.Load(),
			m.FormatPNG:  e.counters.HeadersPNG.Load(),
		},
		Footers: map[m.FileFormat]uint64{
			m.FormatJPEG: e.counters.FootersJPEG.Load(),
			m.FormatPNG:  e.counters.FootersPNG.Load(),
		},
		PairsMatched:     int(e.counters.PairsMatched.Load()),
		PairsRejected:    int(e.rejected.Load()),
		FilesExtracted:   int(e.counters.FilesExtracted.Load()),
		OrphansRecovered: int(e.counters.OrphansRecovered.Load()),
		OrphansFailed:    int(e.counters.OrphansFailed.Load()),
		Elapsed:          time.Since(e.started),
	}
}

func pairRange(p m.Pair) m.ByteRange {
	return m.ByteRange{
		Start: p.Header.Offset,
		End:   p.Footer.Offset + m.ByteOffset(SignatureLength(p.Footer.Kind)),
	}
}

func formatNames(formats []m.FileFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Name()
	}

	return names
}
