package controller

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"salvage.dev/pkg/salvage/internal/domain"
	m "salvage.dev/pkg/salvage/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	stateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Faint(true)
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

const (
	defaultBarWidth = 50
	maxBarWidth     = 72
)

// TUI implements UI with a live Bubble Tea view: a progress bar over
// the device plus the running counters. Summaries print as plain
// tables after the live view exits, so they stay in the scrollback.
type TUI struct {
	output  io.Writer
	program *tea.Program
	done    chan struct{}
	runErr  error
}

// NewTUI creates a new TUI writing to output.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start launches the live view in the background.
func (p *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var cfg StartConfig
	for _, opt := range options {
		opt(&cfg)
	}

	p.program = tea.NewProgram(newRecoveryModel(cfg.device, cfg.cancel), tea.WithOutput(p.output))
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		if _, err := p.program.Run(); err != nil {
			p.runErr = err
		}
	}()

	return nil
}

// Close asks the live view to quit.
func (p *TUI) Close(_ context.Context) {
	if p.program == nil {
		return
	}

	p.program.Quit()
}

// Wait blocks until the live view has released the terminal.
func (p *TUI) Wait(ctx context.Context) {
	if p.done == nil {
		return
	}

	select {
	case <-p.done:
	case <-ctx.Done():
	}
}

// DisplayProgress feeds one event into the live view.
func (p *TUI) DisplayProgress(ctx context.Context, ev m.ProgressEvent) {
	if p.program == nil || ctx.Err() != nil {
		return
	}

	p.program.Send(progressMsg(ev))
}

// DisplayDeviceInfo prints the inspection summary without a live view.
func (p *TUI) DisplayDeviceInfo(ctx context.Context, info DeviceInfo) {
	if err := ctx.Err(); err != nil {
		return
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(info.Path) + "\n")
	fmt.Fprintf(&b, "%s %s (%d bytes)\n", labelStyle.Render("size:"), formatBytes(info.Size), info.Size)
	fmt.Fprintf(&b, "%s %d bytes\n", labelStyle.Render("block size:"), info.BlockSize)
	fmt.Fprintf(&b, "%s %s at %d MB/s\n", labelStyle.Render("estimated scan:"), info.EstScanTime.Round(scanTimeRounding), scanRateMBps)
	fmt.Fprintf(&b, "%s %s (%s free)\n", labelStyle.Render("output dir:"), info.OutputDir, formatBytes(info.OutputFree))

	_, _ = fmt.Fprint(p.output, b.String())
}

// DisplaySignatures prints the signature table.
func (p *TUI) DisplaySignatures(ctx context.Context, sigs []domain.Signature) {
	if err := ctx.Err(); err != nil {
		return
	}

	_, _ = fmt.Fprintf(p.output, "\n%s", renderSignatureTable(sigs))
}

// DisplayScanSummary prints the census totals.
func (p *TUI) DisplayScanSummary(ctx context.Context, stats m.ScanStats) {
	if err := ctx.Err(); err != nil {
		return
	}

	_, _ = fmt.Fprintf(p.output, "\n%s", renderScanTable(stats))
	_, _ = fmt.Fprintf(p.output, "Scanned %s of %s in %dms\n",
		formatBytes(stats.BytesScanned), stats.Device, stats.ElapsedMS)
}

// DisplayRunSummary prints the recovery totals after the live view has
// quit.
func (p *TUI) DisplayRunSummary(ctx context.Context, stats m.RunStats, manifestPath string) {
	if err := ctx.Err(); err != nil {
		return
	}

	_, _ = fmt.Fprintf(p.output, "\n%s", renderRunTable(stats))
	_, _ = fmt.Fprintf(p.output, "Scanned %s of %s in %s\n",
		formatBytes(stats.BytesScanned), stats.Device, stats.Elapsed.Round(scanTimeRounding))
	_, _ = fmt.Fprintf(p.output, "Manifest: %s\n", manifestPath)
}

// progressMsg delivers one engine event to the model.
type progressMsg m.ProgressEvent

// recoveryModel is the Bubble Tea model for a running recovery.
type recoveryModel struct {
	device   string
	ev       m.ProgressEvent
	bar      progress.Model
	width    int
	quitting bool
	cancel   func()
}

func newRecoveryModel(device string, cancel func()) recoveryModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultBarWidth

	return recoveryModel{
		device: device,
		bar:    bar,
		cancel: cancel,
	}
}

func (rm recoveryModel) Init() tea.Cmd {
	return nil
}

func (rm recoveryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		rm.width = msg.Width

		rm.bar.Width = msg.Width - 8
		if rm.bar.Width > maxBarWidth {
			rm.bar.Width = maxBarWidth
		}

		if rm.bar.Width < 10 {
			rm.bar.Width = 10
		}

		return rm, nil

	case progressMsg:
		rm.ev = m.ProgressEvent(msg)

		return rm, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			rm.quitting = true

			if rm.cancel != nil {
				rm.cancel()
			}

			return rm, tea.Quit
		}
	}

	return rm, nil
}

func (rm recoveryModel) View() string {
	if rm.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString("  " + titleStyle.Render("salvage") + " " + labelStyle.Render(rm.device) + "\n\n")

	pct := 0.0
	if rm.ev.BytesTotal > 0 {
		pct = float64(rm.ev.BytesProcessed) / float64(rm.ev.BytesTotal)
	}

	fmt.Fprintf(&b, "  %s\n", rm.bar.ViewAs(pct))
	fmt.Fprintf(&b, "  %s pass %d, %s / %s\n",
		stateStyle.Render(fmt.Sprintf("[%s]", rm.ev.State)), rm.ev.Pass,
		formatBytes(rm.ev.BytesProcessed), formatBytes(rm.ev.BytesTotal))

	fmt.Fprintf(&b, "  %s %d jpeg + %d png\n",
		labelStyle.Render("headers:"),
		rm.ev.HeadersFound[m.FormatJPEG], rm.ev.HeadersFound[m.FormatPNG])
	fmt.Fprintf(&b, "  %s %d jpeg + %d png\n",
		labelStyle.Render("footers:"),
		rm.ev.FootersFound[m.FormatJPEG], rm.ev.FootersFound[m.FormatPNG])
	fmt.Fprintf(&b, "  %s %d matched, %d extracted\n",
		labelStyle.Render("files:"), rm.ev.PairsMatched, rm.ev.FilesExtracted)

	if rm.ev.OrphansRecovered > 0 || rm.ev.OrphansFailed > 0 {
		fmt.Fprintf(&b, "  %s %d recovered, %d failed\n",
			labelStyle.Render("orphans:"), rm.ev.OrphansRecovered, rm.ev.OrphansFailed)
	}

	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("elapsed:"), rm.ev.Elapsed.Round(scanTimeRounding))

	b.WriteString("\n" + helpStyle.Render("  q: abort") + "\n")

	return b.String()
}
