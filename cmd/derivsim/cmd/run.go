package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rustyeddy/derivatives/checkpoint"
	"github.com/rustyeddy/derivatives/config"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/replay"
	"github.com/rustyeddy/derivatives/sim"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation from a config file",
	Long: `Build an engine from a configuration file, replay a CSV script through
it and print every account's positions and margin.

Script columns are time,event,p1,p2,p3,p4 with events PRICE, ADVANCE,
DEPOSIT, OPTION, FUTURES, EXERCISE, MTM, SETTLE and EXPIRE.

Examples:
  derivsim run -f sim.yaml -s scenario.csv
  derivsim run -f sim.yaml -s scenario.csv --checkpoint eod.yaml --report run.org
  derivsim run -f sim.yaml --restore eod.db -s next-day.csv --metrics-addr :9102`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runConfigPath  string
	runScriptPath  string
	runCheckpoint  string
	runRestore     string
	runMetricsAddr string
	runReportPath  string
	runWalkSigma   float64
	runWalkSeed    int64
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().StringVarP(&runScriptPath, "script", "s", "", "CSV event script to replay")
	runCmd.Flags().StringVar(&runCheckpoint, "checkpoint", "", "save the final state here (.yaml, .json or .db)")
	runCmd.Flags().StringVar(&runRestore, "restore", "", "restore a checkpoint before the script")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "write an Org run report to this file")
	runCmd.Flags().Float64Var(&runWalkSigma, "walk-sigma", 0, "per-step sigma of the random walk behind ADVANCE rows")
	runCmd.Flags().Int64Var(&runWalkSeed, "walk-seed", 1, "random walk seed")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runCheckpoint != "" {
		cfg.Checkpoint.Path = runCheckpoint
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start, err := cfg.StartTime(time.Now)
	if err != nil {
		return err
	}
	clock := replay.NewClock(start)
	tally := &replay.Tally{}
	rt, err := cfg.Build(ctx, clock.Now, sim.WithListener(tally.Listener()))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running simulation with config: %s\n", runConfigPath)
	fmt.Fprintf(out, "  Start: %s\n", start.Format(time.RFC3339))
	fmt.Fprintf(out, "  Contracts: %d options, %d futures\n", len(rt.Catalog.Options()), len(rt.Futures))
	fmt.Fprintf(out, "  Accounts: %d\n\n", len(rt.Engine.Accounts()))

	if runRestore != "" {
		snap, err := checkpoint.Load(ctx, runRestore, cfg.Checkpoint.Name)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if err := rt.Engine.Restore(ctx, snap); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		fmt.Fprintf(out, "Restored %s (taken %s)\n", runRestore, snap.TakenAt.Format(time.RFC3339))
	}

	g, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.Metrics.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			rt.Log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var res replay.Result
	g.Go(func() error {
		if srv != nil {
			defer srv.Shutdown(context.Background())
		}
		if runScriptPath == "" {
			return nil
		}
		feed, err := replay.NewCSVEventsFeed(runScriptPath, time.Time{}, time.Time{})
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer feed.Close()

		runner := &replay.Runner{Engine: rt.Engine, Feed: rt.Feed, Clock: clock, Log: rt.Log}
		if runWalkSigma > 0 {
			runner.Process = market.NewRandomWalk(runWalkSeed, runWalkSigma, decimal.RequireFromString("0.01"))
		}
		res, err = runner.Run(gctx, feed)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := printAccounts(ctx, out, rt.Engine); err != nil {
		return err
	}
	if runScriptPath != "" {
		fmt.Fprintf(out, "\nReplay: %d rows, %d fills, %d rejected, %d settlements, %d margin calls, %d liquidations\n",
			res.Rows, res.Fills, len(res.Rejected), len(res.Settles), tally.Calls(), tally.Liquidated())
		for _, r := range res.Rejected {
			fmt.Fprintf(out, "  line %d %s: %s\n", r.Line, r.Event, r.Code)
		}
	}

	if runReportPath != "" {
		rep, err := replay.Report(ctx, rt.Engine, runScriptPath, res, tally)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		if err := rep.WriteOrgFile(runReportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(out, "\nReport saved to: %s\n", runReportPath)
	}

	if cfg.Checkpoint.Path != "" {
		snap, err := rt.Engine.Checkpoint(ctx)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		if err := checkpoint.Save(ctx, cfg.Checkpoint.Path, cfg.Checkpoint.Name, snap); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		fmt.Fprintf(out, "Checkpoint saved to: %s\n", cfg.Checkpoint.Path)
	}
	return nil
}

func printAccounts(ctx context.Context, out io.Writer, e *sim.Engine) error {
	fmt.Fprintln(out, "Final Results:")
	for _, acct := range e.Accounts() {
		sum, err := e.PositionSummary(ctx, acct)
		if err != nil {
			return fmt.Errorf("summarise %s: %w", acct, err)
		}
		m := sum.Margin
		fmt.Fprintf(out, "  %s [%s]\n", acct, m.State)
		fmt.Fprintf(out, "    Balance: $%s  Variation: $%s  Equity: $%s\n",
			m.Balance.StringFixed(2), m.Variation.StringFixed(2), m.Equity.StringFixed(2))
		fmt.Fprintf(out, "    Margin Used: $%s  Maintenance: $%s  Available: $%s\n",
			m.MarginUsed.StringFixed(2), m.Maintenance.StringFixed(2), m.Available.StringFixed(2))
		if m.PendingCall != nil {
			fmt.Fprintf(out, "    Margin Call: $%s due %s\n",
				m.PendingCall.Amount.StringFixed(2), m.PendingCall.Deadline.Format(time.RFC3339))
		}
		for _, p := range sum.Futures {
			fmt.Fprintf(out, "    %s %+d @ %s (mark %s, unrealized $%s)\n",
				p.ContractID, p.Quantity, p.AvgPrice, p.Price, p.Unrealized.StringFixed(2))
		}
		for _, p := range sum.Options {
			fmt.Fprintf(out, "    %s %+d @ %s (mark %s, delta %.3f)\n",
				p.ContractID, p.Quantity, p.AvgPremium, p.Mark, p.Greeks.Delta)
		}
		if len(sum.Options) > 0 {
			fmt.Fprintf(out, "    Portfolio delta %.2f gamma %.4f vega %.2f\n", sum.Greeks.Delta, sum.Greeks.Gamma, sum.Greeks.Vega)
		}
	}
	return nil
}
