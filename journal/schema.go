package journal

// Decimal amounts are stored as TEXT to keep them exact.
const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	fill_id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	account TEXT NOT NULL,
	contract_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price TEXT NOT NULL,
	cash TEXT NOT NULL,
	realized TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_account ON fills(account, time);

CREATE TABLE IF NOT EXISTS settlements (
	time DATETIME NOT NULL,
	contract_id TEXT NOT NULL,
	price TEXT NOT NULL,
	accounts INTEGER NOT NULL,
	failed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS margin_calls (
	call_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	account TEXT NOT NULL,
	status TEXT NOT NULL,
	amount TEXT NOT NULL,
	maintenance TEXT NOT NULL,
	equity TEXT NOT NULL,
	deadline DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_margin_calls_account ON margin_calls(account, time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	account TEXT NOT NULL,
	balance TEXT NOT NULL,
	variation TEXT NOT NULL,
	equity TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	available TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
