package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"salvage.dev/pkg/salvage/internal/adapter"
	"salvage.dev/pkg/salvage/internal/controller"
)

const infoLongDescription = `Inspect a device before committing to a recovery run: its size, block
size, an estimated scan time, and the free space left in the output
directory. No data is read beyond the device metadata.`

// infoCmd represents the info command.
var infoCmd = newInfoCmd()

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <device>",
		Short: "Show device details and a scan time estimate",
		Long:  infoLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, args[0])
		},
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, devicePath string) error {
	dev, err := adapter.NewLocalDeviceReader(devicePath, false)
	if err != nil {
		return err
	}

	defer func() {
		_ = dev.Close()
	}()

	outputDir := viper.GetString(outputFlagName)

	free, err := adapter.FreeSpace(outputDir)
	if err != nil {
		slog.Debug("failed to stat output dir free space", "dir", outputDir, "error", err)
	}

	ui.DisplayDeviceInfo(cmd.Context(), controller.DeviceInfo{
		Path:        dev.Path(),
		Size:        dev.Size(),
		BlockSize:   int(dev.BlockSize()),
		EstScanTime: controller.EstimateScanTime(dev.Size()),
		OutputDir:   outputDir,
		OutputFree:  free,
	})

	return nil
}
