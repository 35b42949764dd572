package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/derivatives/config"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "List and quote the option chains of a config",
	Long: `Generate every configured option chain and quote it at the
configured spot and volatility, skew applied.

Example:
  derivsim chain -f sim.yaml -u SPX`,
	Args: cobra.NoArgs,
	RunE: runChain,
}

var (
	chainConfigPath string
	chainUnderlying string
)

func init() {
	rootCmd.AddCommand(chainCmd)

	chainCmd.Flags().StringVarP(&chainConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	chainCmd.Flags().StringVarP(&chainUnderlying, "underlying", "u", "", "only this underlying")
	chainCmd.MarkFlagRequired("config")
}

func runChain(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(chainConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	start, err := cfg.StartTime(time.Now)
	if err != nil {
		return err
	}
	now := func() time.Time { return start }
	cat, feed, _, _, err := cfg.BuildMarket(now, start)
	if err != nil {
		return fmt.Errorf("build market: %w", err)
	}
	k := pricing.NewKernel(cfg.Kernel)
	ctx := context.Background()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "| Contract | Strike | Expiry | Vol | Price | Delta | Gamma | Theta | Vega |")
	fmt.Fprintln(out, "|----------+--------+--------+-----+-------+-------+-------+-------+------|")
	for _, oc := range cat.Options() {
		if chainUnderlying != "" && oc.Underlying != chainUnderlying {
			continue
		}
		spot, err := feed.CurrentPrice(ctx, oc.Underlying)
		if err != nil {
			return err
		}
		vol, err := feed.ImpliedVolatility(ctx, oc.Underlying)
		if err != nil {
			return err
		}
		res, err := cat.Quote(k, oc, spot, vol, cfg.Engine.RiskFreeRate, start)
		if err != nil {
			return fmt.Errorf("quote %s: %w", oc.ID, err)
		}
		fmt.Fprintf(out, "| %s | %s | %s | %.4f | %.2f | %.4f | %.6f | %.4f | %.4f |\n",
			oc.ID, oc.Strike, oc.Expiry.Format(time.DateOnly),
			cat.Skew().EffectiveVol(oc, spot, vol),
			res.Price, res.Greeks.Delta, res.Greeks.Gamma, res.Greeks.Theta, res.Greeks.Vega)
	}
	return nil
}
