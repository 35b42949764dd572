package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "derivsim",
	Short: "A derivatives pricing and margin simulator",
	Long: `Derivsim prices options and futures and runs margin accounts against them.

It provides tools for:
  - Black-Scholes prices and Greeks for single contracts or whole chains
  - Scripted replays of orders, price moves and daily settlements
  - Margin calls, top-ups and liquidation on overdue calls
  - Journals of fills, settlements and margin calls (CSV or SQLite)
  - Engine checkpoints and Prometheus metrics

Complete documentation is available at https://github.com/rustyeddy/derivatives`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
