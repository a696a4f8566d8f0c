package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"salvage.dev/pkg/salvage/internal/adapter"
	"salvage.dev/pkg/salvage/internal/controller"
	"salvage.dev/pkg/salvage/internal/domain"
	m "salvage.dev/pkg/salvage/internal/model"
)

var fastFlag bool
var unsafeFlag bool
var workersFlag int
var bgcBudgetFlag time.Duration
var maxFileSizeFlag uint64
var directIOFlag bool

const recoverLongDescription = `Recover deleted JPEG and PNG files from a raw block device or disk
image. The device is scanned signature by signature, headers and
footers are paired into candidate files, every candidate is validated
structurally and the survivors are written to the output directory
along with a manifest.jsonl describing their provenance.

The default multi-pass mode also attempts bifragment gap carving for
headers whose file was split by an overwrite. --fast trades that (and
all fragment handling) for a single sequential pass.

Reads never modify the device. Ctrl-C aborts cleanly: finished files
are kept, half-written ones are removed.`

// recoverCmd represents the recover command.
var recoverCmd = newRecoverCmd()

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <device>",
		Short: "Carve recoverable files out of a device",
		Long:  recoverLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, args[0])
		},
	}

	configureRecoverFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func configureRecoverFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&fastFlag, fastFlagName, false, "single-pass carve: roughly twice as fast, loses fragmented files")
	cmd.Flags().BoolVar(&unsafeFlag, unsafeFlagName, false, "write every matched pair even when validation fails")

	cmd.Flags().IntVarP(&workersFlag, workersFlagName, "p", viper.GetInt(workersConfigKey), "scan and validation workers (0 = one per core, capped)")
	bindFlagToConfig(cmd.Flags().Lookup(workersFlagName), workersConfigKey)

	cmd.Flags().DurationVar(&bgcBudgetFlag, bgcBudgetFlagName, viper.GetDuration(bgcBudgetConfigKey), "time budget per orphan during gap carving")
	bindFlagToConfig(cmd.Flags().Lookup(bgcBudgetFlagName), bgcBudgetConfigKey)

	cmd.Flags().Uint64Var(&maxFileSizeFlag, maxFileSizeFlagName, viper.GetUint64(maxFileSizeConfigKey), "largest extent considered one file, in bytes (0 = per-format default)")
	bindFlagToConfig(cmd.Flags().Lookup(maxFileSizeFlagName), maxFileSizeConfigKey)

	cmd.Flags().BoolVar(&directIOFlag, directIOFlagName, viper.GetBool(directIOConfigKey), "bypass the page cache with O_DIRECT where supported")
	bindFlagToConfig(cmd.Flags().Lookup(directIOFlagName), directIOConfigKey)
}

func runRecover(cmd *cobra.Command, devicePath string) error {
	formats, err := parseFormats(viper.GetStringSlice(formatsConfigKey))
	if err != nil {
		return err
	}

	outputDir := viper.GetString(outputFlagName)

	dev, err := adapter.NewLocalDeviceReader(devicePath, viper.GetBool(directIOConfigKey))
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	writer, err := adapter.NewLocalOutputWriter(outputDir)
	if err != nil {
		return err
	}

	manifest, err := adapter.NewLocalManifestStore(outputDir)
	if err != nil {
		return err
	}
	defer func() { _ = manifest.Close() }()

	mode := domain.ModeMultiPass
	if fastFlag {
		mode = domain.ModeFast
	}

	engine := domain.NewEngine(dev, writer, manifest, domain.Options{
		Formats:     formats,
		Mode:        mode,
		Unsafe:      unsafeFlag,
		MaxFileSize: viper.GetUint64(maxFileSizeConfigKey),
		BGCBudget:   viper.GetDuration(bgcBudgetConfigKey),
		Workers:     viper.GetInt(workersConfigKey),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ui.Start(ctx, controller.WithDevice(devicePath), controller.WithCancel(stop)); err != nil {
		return err
	}

	displayDone := make(chan struct{})

	go func() {
		defer close(displayDone)

		for ev := range engine.Events() {
			ui.DisplayProgress(ctx, ev)
		}
	}()

	stats, runErr := engine.Run(ctx)
	<-displayDone

	ui.Close(ctx)
	ui.Wait(context.Background())

	switch {
	case runErr == nil:
		ui.DisplayRunSummary(ctx, stats, manifest.Path())

		return nil
	case m.IsCancelled(runErr):
		cmd.Printf("recovery aborted: %d files kept in %s\n", stats.FilesExtracted, outputDir)

		return nil
	default:
		return runErr
	}
}
