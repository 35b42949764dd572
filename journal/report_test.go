package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportOrg(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	r := &RunReport{
		RunID:       "run-1",
		Created:     start,
		Script:      "scenario.csv",
		Start:       start,
		End:         start.Add(8 * time.Hour),
		Fills:       4,
		Settlements: 1,
		MarginCalls: 1,
		Accounts: []AccountSummary{
			{Account: "acct-1", State: "MARGIN_CALL", Equity: dec("14000"), Variation: dec("-6000"), MarginUsed: dec("20000"), Realized: dec("0")},
		},
		Notes: []string{"settled CL at 79.40"},
	}

	var buf bytes.Buffer
	require.NoError(t, r.WriteOrg(&buf))
	out := buf.String()

	assert.Contains(t, out, "* RUN: scenario.csv")
	assert.Contains(t, out, ":RUN_ID:      run-1")
	assert.Contains(t, out, ":FILLS:       4")
	assert.Contains(t, out, "| acct-1 | MARGIN_CALL | 14000.00 | -6000.00 | 20000.00 | 0.00 |")
	assert.Contains(t, out, "- settled CL at 79.40")

	path := filepath.Join(t.TempDir(), "run.org")
	require.NoError(t, r.WriteOrgFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
}

func TestRunReportDefaults(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, (&RunReport{}).WriteOrg(&buf))
	assert.Contains(t, buf.String(), "(no script)")
	assert.Contains(t, buf.String(), "(run-id?)")
	assert.NotContains(t, buf.String(), "Observations")
}

func TestFormatFillsAndCallsOrg(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	fills := []FillRecord{
		{FillID: "01HV0000000000000000000000", Time: at, Account: "acct-1", ContractID: "CL-FUT", Kind: FillFutures, Quantity: 10, Price: dec("100"), Cash: dec("0"), Realized: dec("0")},
		{FillID: "f2", Time: at, Account: "acct-1", ContractID: "SPX-20250102-100-C", Kind: FillOption, Quantity: -2, Price: dec("10.45"), Cash: dec("2090"), Realized: dec("0")},
	}
	out := FormatFillsOrg(fills)
	assert.Contains(t, out, "** FUTURES CL-FUT +10 (01HV0000)")
	assert.Contains(t, out, "** OPTION SPX-20250102-100-C -2 (f2)")
	assert.Contains(t, out, ":CASH: 2090.00")
	assert.Contains(t, out, ":TIME: 2024-01-02T09:00:00Z")

	calls := FormatCallsOrg([]MarginCallRecord{
		{CallID: "mc_01HV", Time: at, Account: "acct-1", Status: "PENDING", Amount: dec("6000"), Equity: dec("14000"), Maintenance: dec("15000"), Deadline: at.Add(time.Hour)},
	})
	assert.Contains(t, calls, "| 2024-01-02T09:00:00Z | acct-1 | mc_01HV | PENDING | 6000.00 | 14000.00 | 15000.00 | 2024-01-02T10:00:00Z |")
}
