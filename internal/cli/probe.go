package cli

import (
	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var probeCmd = &cobra.Command{
	Use:   "probe [asset]",
	Short: "Query every source once for an asset and print the spread",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ProbeOptions{}
		if len(args) == 1 {
			opts.Asset = args[0]
		}
		return getApp().Probe(cmd.Context(), opts)
	},
}
