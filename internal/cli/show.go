package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var (
	showLimit int
	showAsset string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently recorded opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Asset: showAsset,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of opportunities to display")
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Only show this asset")
}
