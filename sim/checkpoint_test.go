package sim

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/derivatives/checkpoint"
	"github.com/rustyeddy/derivatives/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "acct-1", "50000")
	f.deposit(t, "acct-2", "20000")
	f.futures(t, "acct-1", 10, "100")
	f.futures(t, "acct-2", -4, "100")
	_, err := f.e.PlaceOptionOrder(ctx, OptionOrder{Account: "acct-1", ContractID: f.call, Quantity: 3})
	require.NoError(t, err)
	sold, err := f.e.PlaceOptionOrder(ctx, OptionOrder{Account: "acct-2", ContractID: f.put, Quantity: -1})
	require.NoError(t, err)
	require.True(t, sold.MarginDelta.IsPositive())
	f.feed.SetPrice("CL", dec("97"), t0)
	_, err = f.e.DailySettlement(ctx)
	require.NoError(t, err)

	snap, err := f.e.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, snap.AccountIDs())
	assert.Len(t, snap.Contracts, 3)

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, checkpoint.SaveFile(path, snap))
	loaded, err := checkpoint.LoadFile(path)
	require.NoError(t, err)

	cat := market.NewCatalog(market.WithCatalogClock(f.clock.Now))
	restored := NewEngine(cat, f.feed, WithClock(f.clock.Now))
	require.NoError(t, restored.Restore(ctx, loaded))
	assert.Equal(t, f.e.Accounts(), restored.Accounts())

	for _, id := range f.e.Accounts() {
		want, got := mustStatus(t, f.e, id), mustStatus(t, restored, id)
		assert.True(t, want.Equity.Equal(got.Equity), id)
		assert.True(t, want.MarginUsed.Equal(got.MarginUsed), id)
		assert.True(t, want.Maintenance.Equal(got.Maintenance), id)
		assert.Equal(t, want.State, got.State, id)
	}

	fc, err := cat.Futures(f.fut)
	require.NoError(t, err)
	p, ok := fc.Settlement()
	require.True(t, ok)
	assertDec(t, "97", p)
	oc, err := cat.Option(f.call)
	require.NoError(t, err)
	assert.Equal(t, int64(3), oc.OpenInterest())

	// both engines mark the same move identically
	f.feed.SetPrice("CL", dec("99"), t0)
	for _, id := range f.e.Accounts() {
		a, err := f.e.MarkToMarket(ctx, id)
		require.NoError(t, err)
		b, err := restored.MarkToMarket(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Variation.Equal(b.Variation), id)
	}
	assertDec(t, "-1000", mustStatus(t, restored, "acct-1").Variation)

	sum, err := restored.PositionSummary(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, sum.Options, 1)
	assert.Equal(t, int64(3), sum.Options[0].Quantity)

	// buying back the restored short releases the margin it was sold with
	before := mustStatus(t, restored, "acct-2").MarginUsed
	back, err := restored.PlaceOptionOrder(ctx, OptionOrder{Account: "acct-2", ContractID: f.put, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, back.MarginDelta.Neg().Equal(sold.MarginDelta))
	assert.True(t, before.Sub(sold.MarginDelta).Equal(mustStatus(t, restored, "acct-2").MarginUsed))
}

func TestRestoreWaitsForHeldAccounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "acct-1", "20000")
	f.futures(t, "acct-1", 2, "100")
	snap, err := f.e.Checkpoint(ctx)
	require.NoError(t, err)
	f.deposit(t, "acct-2", "500")

	held, err := f.e.lookup("acct-1", false)
	require.NoError(t, err)
	require.NoError(t, held.acquire(ctx))

	// a restore that cannot drain the accounts changes nothing
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.e.Restore(short, snap), context.DeadlineExceeded)
	assert.Equal(t, []string{"acct-1", "acct-2"}, f.e.Accounts())
	assert.False(t, held.retired)

	done := make(chan error, 1)
	go func() { done <- f.e.Restore(ctx, snap) }()
	select {
	case err := <-done:
		t.Fatalf("restore finished while an account was held: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	// the holder's change lands on the account being replaced
	held.acct.Credit(dec("1000000"))
	held.release()
	require.NoError(t, <-done)
	assert.True(t, held.retired)
	assert.Equal(t, []string{"acct-1"}, f.e.Accounts())
	assertDec(t, "20000", mustStatus(t, f.e, "acct-1").Equity)

	st, err := f.e.Deposit(ctx, "acct-1", dec("100"))
	require.NoError(t, err)
	assertDec(t, "20100", st.Equity)

	_, err = f.e.MarginStatus(ctx, "acct-2")
	requireCode(t, err, CodeAccountNotFound)
}

func TestCheckpointSQLiteStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "acct-1", "20000")
	f.futures(t, "acct-1", 5, "100")

	st, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "ckpt.db"))
	require.NoError(t, err)
	defer st.Close()

	snap, err := f.e.Checkpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, "eod", snap))

	loaded, err := st.Load(ctx, "eod")
	require.NoError(t, err)
	restored := NewEngine(market.NewCatalog(market.WithCatalogClock(f.clock.Now)), f.feed, WithClock(f.clock.Now))
	require.NoError(t, restored.Restore(ctx, loaded))

	// the restored account keeps trading against its reserved margin
	_, err = restored.PlaceFuturesOrder(ctx, FuturesOrder{Account: "acct-1", ContractID: f.fut, Quantity: 6})
	requireCode(t, err, CodeInsufficientMargin)
	_, err = restored.PlaceFuturesOrder(ctx, FuturesOrder{Account: "acct-1", ContractID: f.fut, Quantity: 5})
	require.NoError(t, err)
}

func TestRestoreRejectsBadSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := checkpoint.New(t0)
	s.Version = 7
	assert.ErrorIs(t, f.e.Restore(context.Background(), s), checkpoint.ErrUnsupportedVersion)
}
