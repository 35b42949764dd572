package cmd

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/derivatives/pricing"
	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Price one option and print its Greeks",
	Long: `Run the Black-Scholes kernel once.

Example:
  derivsim price --spot 100 --strike 105 --years 0.5 --vol 0.25 --kind put`,
	Args: cobra.NoArgs,
	RunE: runPrice,
}

var (
	priceSpot    float64
	priceStrike  float64
	priceYears   float64
	priceRate    float64
	priceVol     float64
	priceKind    string
	priceMinTick float64
)

func init() {
	rootCmd.AddCommand(priceCmd)

	priceCmd.Flags().Float64Var(&priceSpot, "spot", 100, "underlying price")
	priceCmd.Flags().Float64Var(&priceStrike, "strike", 100, "strike price")
	priceCmd.Flags().Float64Var(&priceYears, "years", 1, "time to expiry in years")
	priceCmd.Flags().Float64Var(&priceRate, "rate", 0.05, "risk-free rate")
	priceCmd.Flags().Float64Var(&priceVol, "vol", 0.2, "annualised volatility")
	priceCmd.Flags().StringVar(&priceKind, "kind", "call", "call or put")
	priceCmd.Flags().Float64Var(&priceMinTick, "min-tick", pricing.DefaultConfig().MinTick, "price floor")
}

func runPrice(cmd *cobra.Command, args []string) error {
	kind := pricing.Kind(strings.ToUpper(priceKind))
	if !kind.Valid() {
		return fmt.Errorf("kind %q must be call or put", priceKind)
	}
	k := pricing.NewKernel(pricing.Config{MinTick: priceMinTick})
	res, err := k.PriceAndGreeks(pricing.Inputs{
		Spot:   priceSpot,
		Strike: priceStrike,
		T:      priceYears,
		Rate:   priceRate,
		Vol:    priceVol,
		Kind:   kind,
	})
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s S=%.4f K=%.4f T=%.4fy r=%.4f vol=%.4f\n", kind, priceSpot, priceStrike, priceYears, priceRate, priceVol)
	fmt.Fprintf(out, "  Price: %.4f\n", res.Price)
	fmt.Fprintf(out, "  Delta: %.4f\n", res.Greeks.Delta)
	fmt.Fprintf(out, "  Gamma: %.6f\n", res.Greeks.Gamma)
	fmt.Fprintf(out, "  Theta: %.4f /day\n", res.Greeks.Theta)
	fmt.Fprintf(out, "  Vega:  %.4f /vol pt\n", res.Greeks.Vega)
	fmt.Fprintf(out, "  Rho:   %.4f /rate pt\n", res.Greeks.Rho)
	return nil
}
