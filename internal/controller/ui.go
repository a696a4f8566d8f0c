// Package controller provides the output surfaces for recovery runs:
// a live terminal UI and a plain printer for pipes and CI logs.
package controller

import (
	"context"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"salvage.dev/pkg/salvage/internal/domain"
	m "salvage.dev/pkg/salvage/internal/model"
)

// DeviceInfo is the inspection summary shown by the info command.
type DeviceInfo struct {
	Path        string
	Size        uint64
	BlockSize   int
	EstScanTime time.Duration
	OutputDir   string
	OutputFree  uint64
}

// EstimateScanTime predicts how long a sequential pass over size bytes
// takes at the assumed scanRateMBps throughput.
func EstimateScanTime(size uint64) time.Duration {
	const bytesPerSecond = scanRateMBps * 1000 * 1000

	return time.Duration(float64(size) / bytesPerSecond * float64(time.Second))
}

// StartOption is a functional option for the Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	device string
	cancel func()
}

// WithDevice labels the run with the device path.
func WithDevice(path string) StartOption {
	return func(c *StartConfig) {
		c.device = path
	}
}

// WithCancel wires the UI's abort key to the run's cancellation.
func WithCancel(cancel func()) StartOption {
	return func(c *StartConfig) {
		c.cancel = cancel
	}
}

// UI is the display surface for recovery runs. Implementations are
// driven from a single goroutine.
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context) // Wait for the UI to finish drawing.
	DisplayProgress(ctx context.Context, ev m.ProgressEvent)
	DisplayDeviceInfo(ctx context.Context, info DeviceInfo)
	DisplaySignatures(ctx context.Context, sigs []domain.Signature)
	DisplayScanSummary(ctx context.Context, stats m.ScanStats)
	DisplayRunSummary(ctx context.Context, stats m.RunStats, manifestPath string)
}

// NewUI picks the display surface: the live TUI on a terminal, plain
// output everywhere else.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether f is an interactive terminal.
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
