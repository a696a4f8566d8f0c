package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"salvage.dev/pkg/salvage/internal/adapter"
	"salvage.dev/pkg/salvage/internal/domain"
	m "salvage.dev/pkg/salvage/internal/model"
	"salvage.dev/pkg/salvage/pkg"
)

var scanReportFlag string
var scanSummaryFlag string

const scanLongDescription = `Scan a device for JPEG and PNG signatures without extracting anything.

The scan is a read-only census: it reports how many header and footer
candidates each format has on the device, which is usually enough to
decide whether a full recovery run is worth the time. The optional
--report flag dumps every candidate as JSON lines for offline triage,
and --summary writes the aggregate counts as YAML.

Examples:
  salvage scan /dev/sdb1
  salvage scan --report candidates.jsonl --summary census.yaml disk.img`

// scanCmd represents the scan command.
var scanCmd = newScanCmd()

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <device>",
		Short: "Count signature candidates on a device without extracting",
		Long:  scanLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0])
		},
	}

	configureScanFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func configureScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&scanReportFlag, reportFlagName, "", "write every candidate as JSON lines to this path")
	cmd.Flags().StringVar(&scanSummaryFlag, summaryFlagName, "", "write the census summary as YAML to this path")
}

func runScan(cmd *cobra.Command, devicePath string) error {
	formats, err := parseFormats(viper.GetStringSlice(formatsConfigKey))
	if err != nil {
		return err
	}

	dev, err := adapter.NewLocalDeviceReader(devicePath, false)
	if err != nil {
		return err
	}

	defer func() {
		_ = dev.Close()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var counters m.Counters

	index := domain.NewCandidateIndex()
	started := time.Now()

	err = domain.NewScanner(dev, formats, 0, 0, &counters).Run(ctx, index)
	if err != nil {
		if m.IsCancelled(err) {
			cmd.Println("scan aborted")
			return nil
		}

		return err
	}

	stats := m.ScanStats{
		Device:       dev.Path(),
		DeviceSize:   dev.Size(),
		BytesScanned: counters.BytesProcessed.Load(),
		HeadersJPEG:  counters.HeadersJPEG.Load(),
		FootersJPEG:  counters.FootersJPEG.Load(),
		HeadersPNG:   counters.HeadersPNG.Load(),
		FootersPNG:   counters.FootersPNG.Load(),
		ElapsedMS:    time.Since(started).Milliseconds(),
	}

	if scanReportFlag != "" {
		if err := writeCandidateReport(scanReportFlag, formats, index); err != nil {
			return err
		}

		cmd.Printf("candidate report written to %s\n", scanReportFlag)
	}

	if scanSummaryFlag != "" {
		if err := writeScanSummary(scanSummaryFlag, stats); err != nil {
			return err
		}

		cmd.Printf("scan summary written to %s\n", scanSummaryFlag)
	}

	ui.DisplayScanSummary(ctx, stats)

	return nil
}

// writeCandidateReport dumps every indexed candidate as JSON lines,
// headers before footers within each format, in offset order.
func writeCandidateReport(path string, formats []m.FileFormat, index *domain.CandidateIndex) error {
	report, err := pkg.NewLines[m.Candidate](path)
	if err != nil {
		return err
	}

	for _, format := range formats {
		if err := report.AppendBatch(index.Headers(format)); err != nil {
			return err
		}

		if err := report.AppendBatch(index.Footers(format)); err != nil {
			return err
		}
	}

	return report.Close()
}

func writeScanSummary(path string, stats m.ScanStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode scan summary: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
