package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var (
	simulateAsset   string
	simulateSources []string
	simulatePublish bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate PRICE...",
	Short: "用给定价格模拟一次检测, '-' 表示该数据源无报价",
	Example: `  arbwatcher simulate 100 98.5 -
  arbwatcher simulate --sources ORCA,RAYDIUM 1.02 1.0 --publish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("至少需要一个价格")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Asset:   simulateAsset,
			Sources: simulateSources,
			Prices:  args,
			Publish: simulatePublish,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "Asset key (defaults to the first configured asset)")
	simulateCmd.Flags().StringSliceVar(&simulateSources, "sources", nil, "Source names, one per price (defaults to sources.enabled)")
	simulateCmd.Flags().BoolVar(&simulatePublish, "publish", false, "Also deliver the result through the configured sinks and alert channels")
}
