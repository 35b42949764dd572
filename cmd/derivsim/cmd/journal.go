package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query journal data",
	Long: `Query and display records from a SQLite journal written by "derivsim run".

Subcommands:
  fill     - Get details of a specific fill by ID
  fills    - List fills, optionally for one account or day
  calls    - List margin call transitions
  realized - Realized P&L per account

Examples:
  derivsim journal fill <fill-id>
  derivsim journal fills --account SIM-001 --day 2024-01-15
  derivsim journal calls -d ./derivsim.db`,
}

var journalFillCmd = &cobra.Command{
	Use:   "fill <fill-id>",
	Short: "Get details of a specific fill",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalFill,
}

var journalFillsCmd = &cobra.Command{
	Use:   "fills",
	Short: "List fills",
	Args:  cobra.NoArgs,
	RunE:  runJournalFills,
}

var journalCallsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List margin call transitions",
	Args:  cobra.NoArgs,
	RunE:  runJournalCalls,
}

var journalRealizedCmd = &cobra.Command{
	Use:   "realized",
	Short: "Realized P&L per account",
	Args:  cobra.NoArgs,
	RunE:  runJournalRealized,
}

var (
	journalDBPath  string
	journalAccount string
	journalDay     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalFillCmd)
	journalCmd.AddCommand(journalFillsCmd)
	journalCmd.AddCommand(journalCallsCmd)
	journalCmd.AddCommand(journalRealizedCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./derivsim.db", "path to SQLite journal DB")
	journalFillsCmd.Flags().StringVarP(&journalAccount, "account", "a", "", "only this account")
	journalFillsCmd.Flags().StringVar(&journalDay, "day", "", "only this day (YYYY-MM-DD, local time)")
	journalCallsCmd.Flags().StringVarP(&journalAccount, "account", "a", "", "only this account")
}

func runJournalFill(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetFill(args[0])
	if err != nil {
		return fmt.Errorf("get fill: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatFillOrg(rec))
	return nil
}

func runJournalFills(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start := time.Unix(0, 0)
	end := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if journalDay != "" {
		start, end, err = dayBounds(time.Local, journalDay)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
	}

	recs, err := j.ListFills(journalAccount, start, end)
	if err != nil {
		return fmt.Errorf("query fills: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatFillsOrg(recs))
	return nil
}

func runJournalCalls(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.ListMarginCalls(journalAccount)
	if err != nil {
		return fmt.Errorf("query margin calls: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), journal.FormatCallsOrg(recs))
	return nil
}

func runJournalRealized(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	byAcct, err := j.RealizedByAccount()
	if err != nil {
		return fmt.Errorf("query realized: %w", err)
	}
	accounts := make([]string, 0, len(byAcct))
	for a := range byAcct {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "| Account | Realized |")
	fmt.Fprintln(out, "|---------+----------|")
	for _, a := range accounts {
		fmt.Fprintf(out, "| %s | %s |\n", a, byAcct[a].StringFixed(2))
	}
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
