package controller

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"salvage.dev/pkg/salvage/internal/domain"
	m "salvage.dev/pkg/salvage/internal/model"
)

// SimpleUI implements UI using cobra Command's output, one plain line
// at a time. Safe for pipes, CI logs and --plain runs.
type SimpleUI struct {
	cmd *cobra.Command

	lastState  m.EngineState
	lastDecile int
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd, lastDecile: -1}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// DisplayProgress prints a line on state changes and every tenth of the
// device, keeping pipe output readable at the 10 Hz event rate.
func (s *SimpleUI) DisplayProgress(ctx context.Context, ev m.ProgressEvent) {
	if err := ctx.Err(); err != nil {
		return
	}

	decile := -1
	if ev.BytesTotal > 0 {
		decile = int(10 * ev.BytesProcessed / ev.BytesTotal)
	}

	if ev.State == s.lastState && decile == s.lastDecile {
		return
	}

	s.lastState = ev.State
	s.lastDecile = decile

	s.printf("[%s] pass %d: %s / %s, headers %d, footers %d, files %d\n",
		ev.State, ev.Pass,
		formatBytes(ev.BytesProcessed), formatBytes(ev.BytesTotal),
		sumCounts(ev.HeadersFound), sumCounts(ev.FootersFound), ev.FilesExtracted)
}

// DisplayDeviceInfo prints the inspection summary.
func (s *SimpleUI) DisplayDeviceInfo(ctx context.Context, info DeviceInfo) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Device:          %s\n", info.Path)
	s.printf("Size:            %s (%d bytes)\n", formatBytes(info.Size), info.Size)
	s.printf("Block size:      %d bytes\n", info.BlockSize)
	s.printf("Estimated scan:  %s at %d MB/s\n", info.EstScanTime.Round(scanTimeRounding), scanRateMBps)
	s.printf("Output dir:      %s (%s free)\n", info.OutputDir, formatBytes(info.OutputFree))
}

// DisplaySignatures prints the signature table.
func (s *SimpleUI) DisplaySignatures(ctx context.Context, sigs []domain.Signature) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("\n%s", renderSignatureTable(sigs))
}

// DisplayScanSummary prints the census totals.
func (s *SimpleUI) DisplayScanSummary(ctx context.Context, stats m.ScanStats) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("\n%s", renderScanTable(stats))
	s.printf("Scanned %s of %s in %dms\n",
		formatBytes(stats.BytesScanned), stats.Device, stats.ElapsedMS)
}

// DisplayRunSummary prints the recovery totals and the manifest path.
func (s *SimpleUI) DisplayRunSummary(ctx context.Context, stats m.RunStats, manifestPath string) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("\n%s", renderRunTable(stats))
	s.printf("Scanned %s of %s in %s\n",
		formatBytes(stats.BytesScanned), stats.Device, stats.Elapsed.Round(scanTimeRounding))
	s.printf("Manifest: %s\n", manifestPath)
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

const (
	// scanRateMBps is the sequential throughput assumed when estimating
	// scan time for the info command.
	scanRateMBps = 150

	scanTimeRounding = 100 * time.Millisecond
)

func renderSignatureTable(sigs []domain.Signature) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Kind", "Format", "Pattern", "Bytes"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
	})

	for _, sig := range sigs {
		table.Append([]string{
			sig.Kind.String(),
			sig.Kind.Format().Name(),
			fmt.Sprintf("% X", sig.Pattern),
			fmt.Sprintf("%d", len(sig.Pattern)),
		})
	}

	table.Render()

	return tableBuffer.String()
}

func renderScanTable(stats m.ScanStats) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Format", "Headers", "Footers"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
	})

	table.Append([]string{"jpeg", fmt.Sprintf("%d", stats.HeadersJPEG), fmt.Sprintf("%d", stats.FootersJPEG)})
	table.Append([]string{"png", fmt.Sprintf("%d", stats.HeadersPNG), fmt.Sprintf("%d", stats.FootersPNG)})

	table.SetFooter([]string{
		"Total",
		fmt.Sprintf("%d", stats.HeadersJPEG+stats.HeadersPNG),
		fmt.Sprintf("%d", stats.FootersJPEG+stats.FootersPNG),
	})

	table.Render()

	return tableBuffer.String()
}

func renderRunTable(stats m.RunStats) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Metric", "Count"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	table.Append([]string{"jpeg headers / footers", fmt.Sprintf("%d / %d", stats.Headers[m.FormatJPEG], stats.Footers[m.FormatJPEG])})
	table.Append([]string{"png headers / footers", fmt.Sprintf("%d / %d", stats.Headers[m.FormatPNG], stats.Footers[m.FormatPNG])})
	table.Append([]string{"pairs matched", fmt.Sprintf("%d", stats.PairsMatched)})
	table.Append([]string{"pairs rejected", fmt.Sprintf("%d", stats.PairsRejected)})
	table.Append([]string{"orphans recovered", fmt.Sprintf("%d", stats.OrphansRecovered)})
	table.Append([]string{"orphans failed", fmt.Sprintf("%d", stats.OrphansFailed)})

	table.SetFooter([]string{"Files extracted", fmt.Sprintf("%d", stats.FilesExtracted)})

	table.Render()

	return tableBuffer.String()
}

func sumCounts(counts map[m.FileFormat]uint64) uint64 {
	var n uint64
	for _, c := range counts {
		n += c
	}

	return n
}

func formatBytes(n uint64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := uint64(unit), 0
	for x := n / unit; x >= unit; x /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
