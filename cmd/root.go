// Package cmd provides the root command and CLI setup for salvage.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"salvage.dev/pkg/salvage/internal/controller"
	m "salvage.dev/pkg/salvage/internal/model"
)

var ui controller.UI

// outputDirFlag is a root-level flag shared by commands that write
// recovered files or reports.
var outputDirFlag string

// formatsFlag selects the file formats to carve for.
var formatsFlag []string

// verboseFlag raises the log level to debug.
var verboseFlag bool

// plainFlag forces plain line output even on a terminal.
var plainFlag bool

// logFileFlag overrides the log file path.
var logFileFlag string

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
}

const rootLongDescription = `Salvage carves deleted JPEG and PNG files straight out of raw block
devices and disk images. It never mounts a filesystem: the device is
read as an opaque byte stream, headers and footers are paired into
candidate files, validated structurally and written out together with
a manifest describing where each file came from.

Typical use:
  salvage scan /dev/sdb              count signatures, write nothing
  salvage recover /dev/sdb -o ./out  carve everything recoverable
  salvage recover disk.img --fast    single-pass carve of an image file`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "salvage",
		Short: "Forensic image recovery from raw block devices",
		Long:  rootLongDescription,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogger(logFileFlag, verboseFlag)

			if plainFlag {
				ui = controller.NewSimpleUI(cmd.Root())
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().
		StringVarP(
			&outputDirFlag, outputFlagName, "o",
			viper.GetString(outputFlagName),
			"output directory for recovered files and the manifest",
		)
	bindFlagToConfig(cmd.PersistentFlags().Lookup(outputFlagName), outputFlagName)

	cmd.PersistentFlags().StringSliceVarP(&formatsFlag, formatsFlagName, "f", viper.GetStringSlice(formatsConfigKey), "file formats to carve (jpeg, png)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(formatsFlagName), formatsConfigKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)

	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file path (default "+defaultLogFilename+")")

	cmd.PersistentFlags().BoolVar(&plainFlag, plainFlagName, false, "plain line output instead of the live view")
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// parseFormats converts and validates the configured format names.
func parseFormats(names []string) ([]m.FileFormat, error) {
	if len(names) == 0 {
		return m.Formats(), nil
	}

	seen := map[m.FileFormat]bool{}
	formats := make([]m.FileFormat, 0, len(names))

	for _, name := range names {
		format, err := m.ParseFormat(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}

		if seen[format] {
			continue
		}

		seen[format] = true
		formats = append(formats, format)
	}

	return formats, nil
}
