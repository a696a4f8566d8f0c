package cmd

import (
	"github.com/spf13/cobra"

	"salvage.dev/pkg/salvage/internal/domain"
)

const formatsLongDescription = `List the file formats salvage can carve and the byte signatures it
scans for. Header signatures mark where a file may begin, footer
signatures where it may end; everything between a matched pair is a
candidate file.`

// formatsCmd represents the formats command.
var formatsCmd = newFormatsCmd()

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported file formats and their signatures",
		Long:  formatsLongDescription,
		Run: func(cmd *cobra.Command, _ []string) {
			ui.DisplaySignatures(cmd.Context(), domain.Signatures())
		},
	}
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}
