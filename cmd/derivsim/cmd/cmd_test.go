package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyeddy/derivatives/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed.
// Flag variables are package globals, so every run resets them first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	runScriptPath, runCheckpoint, runRestore = "", "", ""
	runMetricsAddr, runReportPath = "", ""
	runWalkSigma, runWalkSeed = 0, 1
	journalAccount, journalDay = "", ""

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")
	assert.FileExists(t, path)

	out, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Underlying: SPX @ 4500")
	assert.Contains(t, out, "Futures: CL-FUT on CL (margin 6000.00 / 5000.00)")
}

func TestPriceCommand(t *testing.T) {
	out, err := execute(t, "price", "--spot", "100", "--strike", "100", "--years", "1", "--rate", "0.05", "--vol", "0.2", "--kind", "call")
	require.NoError(t, err)
	assert.Contains(t, out, "CALL S=100.0000")
	assert.Contains(t, out, "Price: 10.45")

	_, err = execute(t, "price", "--kind", "straddle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be call or put")
}

func TestRunScriptThenQueryJournal(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "derivsim.db")

	cfg := config.Default()
	cfg.Engine.Start = "2024-01-02T09:00:00Z"
	cfg.Journal = config.JournalConfig{Type: "sqlite", DBPath: db}
	cfg.Logging.Level = "error"
	cfgPath := filepath.Join(dir, "sim.yaml")
	require.NoError(t, cfg.SaveToFile(cfgPath))

	script := filepath.Join(dir, "script.csv")
	require.NoError(t, os.WriteFile(script, []byte(`time,event,p1,p2,p3,p4
2024-01-02T09:00:00Z,PRICE,CL,75
2024-01-02T09:01:00Z,FUTURES,SIM-001,CL-FUT,2
2024-01-02T12:00:00Z,PRICE,CL,74
2024-01-02T12:00:00Z,MTM
2024-01-02T16:00:00Z,SETTLE
`), 0o644))

	snap := filepath.Join(dir, "eod.yaml")
	report := filepath.Join(dir, "run.org")
	out, err := execute(t, "run", "-f", cfgPath, "-s", script, "--checkpoint", snap, "--report", report)
	require.NoError(t, err)
	assert.Contains(t, out, "Final Results:")
	assert.Contains(t, out, "SIM-001")
	assert.Contains(t, out, "CL-FUT +2")
	assert.Contains(t, out, "Replay: 5 rows, 1 fills, 0 rejected, 1 settlements")
	assert.FileExists(t, snap)
	assert.FileExists(t, report)

	out, err = execute(t, "journal", "fills", "-d", db, "--account", "SIM-001")
	require.NoError(t, err)
	assert.Contains(t, out, ":CONTRACT: CL-FUT")
	assert.Contains(t, out, ":QUANTITY: 2")

	out, err = execute(t, "journal", "realized", "-d", db)
	require.NoError(t, err)
	assert.Contains(t, out, "| SIM-001 |")

	out, err = execute(t, "run", "-f", cfgPath, "--restore", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored "+snap)
	assert.Contains(t, out, "CL-FUT +2")
}
