package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "journal")
	j, err := NewCSV(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	tests := map[string][]string{
		"fills.csv":        fillsHeader,
		"settlements.csv":  settlementsHeader,
		"margin_calls.csv": callsHeader,
		"equity.csv":       equityHeader,
	}
	for name, want := range tests {
		rows := readCSV(t, filepath.Join(dir, name))
		require.Len(t, rows, 1, name)
		assert.Equal(t, want, rows[0], name)
	}
}

func TestCSVJournalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("EST", -5*3600))
	require.NoError(t, j.RecordFill(FillRecord{
		FillID: "F1", Time: at, Account: "acct-1", ContractID: "SPX-20240315-100-C",
		Kind: FillOption, Quantity: 2, Price: dec("3.5"), Cash: dec("-700"), Realized: dec("0"),
	}))
	require.NoError(t, j.RecordSettlement(SettlementRecord{Time: at, ContractID: "CL", Price: dec("80.01"), Accounts: 3, Failed: 1}))
	require.NoError(t, j.RecordMarginCall(MarginCallRecord{
		CallID: "mc_1", Time: at, Account: "acct-1", Status: "PENDING",
		Amount: dec("6000"), Maintenance: dec("15000"), Equity: dec("14000"), Deadline: at.Add(time.Hour),
	}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		Time: at, Account: "acct-1", Balance: dec("1"), Variation: dec("2"), Equity: dec("3"), MarginUsed: dec("4"), Available: dec("-1"),
	}))
	require.NoError(t, j.Close())

	fills := readCSV(t, filepath.Join(dir, "fills.csv"))
	require.Len(t, fills, 2)
	assert.Equal(t, []string{"F1", "2024-01-02T08:04:05Z", "acct-1", "SPX-20240315-100-C", "OPTION", "2", "3.5", "-700", "0"}, fills[1])

	settle := readCSV(t, filepath.Join(dir, "settlements.csv"))
	assert.Equal(t, []string{"2024-01-02T08:04:05Z", "CL", "80.01", "3", "1"}, settle[1])

	calls := readCSV(t, filepath.Join(dir, "margin_calls.csv"))
	assert.Equal(t, "2024-01-02T09:04:05Z", calls[1][7])

	eq := readCSV(t, filepath.Join(dir, "equity.csv"))
	assert.Equal(t, "-1", eq[1][6])
}

func TestMultiAndMemory(t *testing.T) {
	t.Parallel()

	a, b := &Memory{}, &Memory{}
	m := Multi{a, b, Nop{}}
	require.NoError(t, m.RecordFill(FillRecord{FillID: "1"}))
	require.NoError(t, m.RecordMarginCall(MarginCallRecord{Account: "x"}))
	require.NoError(t, m.RecordMarginCall(MarginCallRecord{Account: "y"}))
	require.NoError(t, m.Close())

	assert.Equal(t, 1, a.FillCount())
	assert.Equal(t, 1, b.FillCount())
	assert.Len(t, b.CallsFor("x"), 1)
	assert.True(t, a.Closed && b.Closed)
}
