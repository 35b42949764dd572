package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) add(kind string) func(margin.Call) {
	return func(margin.Call) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, kind)
	}
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func (r *recorder) listener() Listener {
	return Listener{
		OnMarginCall:    r.add("call"),
		OnMarginCallMet: r.add("met"),
		OnLiquidation:   r.add("liquidated"),
	}
}

func TestMarkToMarketIssuesOneCall(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	f := newFixture(t, WithListener(rec.listener()))
	ctx := context.Background()
	f.deposit(t, "acct-1", "20000")
	f.futures(t, "acct-1", 10, "100")

	f.feed.SetPrice("CL", dec("94"), t0)
	res, err := f.e.MarkToMarket(ctx, "acct-1")
	require.NoError(t, err)
	assertDec(t, "-6000", res.Variation)
	assertDec(t, "14000", res.Equity)
	assertDec(t, "15000", res.Maintenance)
	require.Len(t, res.Events, 1)

	c := res.Events[0].Call
	assert.Equal(t, margin.EventCallIssued, res.Events[0].Kind)
	assertDec(t, "6000", c.Amount)
	assert.Equal(t, t0.Add(time.Hour), c.Deadline)
	assert.Equal(t, margin.CallPending, c.Status)

	// same price again: nothing moves and no second call
	res, err = f.e.MarkToMarket(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Variation.IsZero())
	assert.Empty(t, res.Events)

	st := mustStatus(t, f.e, "acct-1")
	assert.Equal(t, margin.StateMarginCall, st.State)
	require.NotNil(t, st.PendingCall)
	assert.Len(t, st.Calls, 1)
	assert.Equal(t, []string{"call"}, rec.events())

	// topping up to maintenance meets the call
	st, err = f.e.TopUp(ctx, "acct-1", dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, margin.StateFunded, st.State)
	assert.Nil(t, st.PendingCall)
	assert.Equal(t, []string{"call", "met"}, rec.events())

	calls := f.journal.CallsFor("acct-1")
	require.Len(t, calls, 2)
	assert.Equal(t, "PENDING", calls[0].Status)
	assert.Equal(t, "MET", calls[1].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MarginCalls.WithLabelValues("PENDING")))
}

func TestMarginCallDeadlineLiquidates(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	f := newFixture(t, WithListener(rec.listener()))
	ctx := context.Background()
	f.deposit(t, "acct-1", "20000")
	f.futures(t, "acct-1", 10, "100")
	f.feed.SetPrice("CL", dec("94"), t0)
	_, err := f.e.MarkToMarket(ctx, "acct-1")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	events, err := f.e.ExpireMarginCalls(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	f.clock.Advance(31 * time.Minute)
	events, err = f.e.ExpireMarginCalls(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, margin.EventLiquidated, events[0].Kind)
	assert.Equal(t, []string{"call", "liquidated"}, rec.events())

	st := mustStatus(t, f.e, "acct-1")
	assert.Equal(t, margin.StateLiquidated, st.State)

	_, err = f.e.PlaceFuturesOrder(ctx, FuturesOrder{Account: "acct-1", ContractID: f.fut, Quantity: -10})
	requireCode(t, err, CodeAccountLiquidated)

	// cash can still come in, but the account stays liquidated
	st, err = f.e.Deposit(ctx, "acct-1", dec("50000"))
	require.NoError(t, err)
	assert.Equal(t, margin.StateLiquidated, st.State)
}

func TestDailySettlementTwiceAddsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "long", "20000")
	f.deposit(t, "short", "20000")
	f.deposit(t, "idle", "100")
	f.futures(t, "long", 10, "100")
	f.futures(t, "short", -10, "100")

	f.feed.SetPrice("CL", dec("101.004"), t0)
	rep, err := f.e.DailySettlement(ctx)
	require.NoError(t, err)
	assertDec(t, "101", rep.Prices[f.fut])
	require.Len(t, rep.Marks, 2)
	assert.Empty(t, rep.Failed)
	assert.Equal(t, "long", rep.Marks[0].Account)
	assertDec(t, "1000", rep.Marks[0].Variation)
	assertDec(t, "-1000", rep.Marks[1].Variation)
	assert.True(t, rep.Variation.IsZero())

	fc, err := f.cat.Futures(f.fut)
	require.NoError(t, err)
	p, ok := fc.Settlement()
	require.True(t, ok)
	assertDec(t, "101", p)
	assert.Equal(t, int64(0), fc.Volume())
	assert.Equal(t, int64(20), fc.OpenInterest())

	rep, err = f.e.DailySettlement(ctx)
	require.NoError(t, err)
	for _, m := range rep.Marks {
		assert.True(t, m.Variation.IsZero(), m.Account)
	}

	assertDec(t, "21000", mustStatus(t, f.e, "long").Equity)
	assertDec(t, "19000", mustStatus(t, f.e, "short").Equity)
	assert.Len(t, f.journal.Settlements, 2)
	assert.Equal(t, 2, f.journal.Settlements[0].Accounts)
}

func TestDailySettlementClampsToLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "acct-1", "20000")
	f.futures(t, "acct-1", 1, "100")

	_, err := f.e.DailySettlement(ctx)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	f.feed.SetPrice("CL", dec("125"), f.clock.Now())
	rep, err := f.e.DailySettlement(ctx)
	require.NoError(t, err)
	assertDec(t, "110", rep.Prices[f.fut])
	require.Len(t, rep.Marks, 1)
	assertDec(t, "1000", rep.Marks[0].Variation)

	// rerunning the session with an unchanged feed fixes the same price
	for i := 0; i < 2; i++ {
		rep, err = f.e.DailySettlement(ctx)
		require.NoError(t, err)
		assertDec(t, "110", rep.Prices[f.fut])
		require.Len(t, rep.Marks, 1)
		assert.True(t, rep.Marks[0].Variation.IsZero())
	}
	assertDec(t, "21000", mustStatus(t, f.e, "acct-1").Equity)

	// intraday marks use the band around the last settlement
	f.feed.SetPrice("CL", dec("90"), f.clock.Now())
	res, err := f.e.MarkToMarket(ctx, "acct-1")
	require.NoError(t, err)
	assertDec(t, "-1000", res.Variation)

	// a refix later in the session is banded around the prior session
	f.feed.SetPrice("CL", dec("85"), f.clock.Now())
	rep, err = f.e.DailySettlement(ctx)
	require.NoError(t, err)
	assertDec(t, "90", rep.Prices[f.fut])
	assertDec(t, "-1000", rep.Marks[0].Variation)
	assertDec(t, "19000", mustStatus(t, f.e, "acct-1").Equity)
}

func TestDailySettlementIsolatesSlowAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithConfig(Config{SweepTimeout: 30 * time.Millisecond, SweepConcurrency: 2}))
	ctx := context.Background()
	f.deposit(t, "fast", "20000")
	f.deposit(t, "stuck", "20000")
	f.futures(t, "fast", 1, "100")
	f.futures(t, "stuck", 1, "100")

	stuck, err := f.e.lookup("stuck", false)
	require.NoError(t, err)
	require.NoError(t, stuck.acquire(ctx))

	f.feed.SetPrice("CL", dec("102"), t0)
	rep, err := f.e.DailySettlement(ctx)
	stuck.release()
	require.NoError(t, err)

	require.Len(t, rep.Marks, 1)
	assert.Equal(t, "fast", rep.Marks[0].Account)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "stuck", rep.Failed[0].Account)
	assert.Equal(t, "timeout", rep.Failed[0].Reason)
	assert.ErrorIs(t, rep.Failed[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweepFailures.WithLabelValues("timeout")))

	assert.True(t, mustStatus(t, f.e, "stuck").Variation.IsZero())
	assertDec(t, "200", mustStatus(t, f.e, "fast").Variation)
}

func TestDailySettlementIsolatesMissingPrice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ng, err := f.cat.RegisterFutures(market.FuturesSpec{
		Underlying: "NG", ContractSize: dec("10"), TickSize: dec("0.001"),
		MarginRequirement: dec("500"), MaintenanceMargin: dec("400"),
		Expiry: t0.AddDate(0, 2, 0),
	})
	require.NoError(t, err)

	f.deposit(t, "cl", "20000")
	f.deposit(t, "ng", "20000")
	f.futures(t, "cl", 1, "100")
	_, err = f.e.PlaceFuturesOrder(ctx, FuturesOrder{Account: "ng", ContractID: ng, Quantity: 2, Price: ptr(dec("3.1"))})
	require.NoError(t, err)

	rep, err := f.e.DailySettlement(ctx)
	require.NoError(t, err)
	assert.Contains(t, rep.Skipped, ng)
	assert.ErrorIs(t, rep.Skipped[ng], ErrNoMarketData)
	require.Len(t, rep.Marks, 1)
	assert.Equal(t, "cl", rep.Marks[0].Account)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "ng", rep.Failed[0].Account)
	assert.Equal(t, "error", rep.Failed[0].Reason)
}

func TestDailySettlementRaisesCalls(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	f := newFixture(t, WithListener(rec.listener()))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		f.deposit(t, id, "20000")
		f.futures(t, id, 10, "100")
	}

	f.feed.SetPrice("CL", dec("93"), t0)
	rep, err := f.e.DailySettlement(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Marks, 3)
	for _, m := range rep.Marks {
		require.Len(t, m.Events, 1, m.Account)
		assertDec(t, "7000", m.Events[0].Call.Amount)
	}
	assert.Equal(t, []string{"call", "call", "call"}, rec.events())

	_, err = f.e.DailySettlement(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.events(), 3)
}

func TestDailySettlementExpiresOptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithConfig(Config{ExerciseWindow: time.Hour}))
	ctx := context.Background()
	exp := t0.Add(2 * time.Hour)
	_, err := f.cat.GenerateChain("SPX", dec("100"), []time.Time{exp},
		market.StrikeBand{Low: 0.9, High: 1.1, Step: 0.1}, market.ChainSpec{})
	require.NoError(t, err)
	option := func(strike string, kind pricing.Kind) *market.OptionContract {
		oc, err := f.cat.Option(market.OptionID("SPX", exp, dec(strike), kind))
		require.NoError(t, err)
		return oc
	}
	itmCall, itmPut, otmPut := option("90", pricing.Call), option("110", pricing.Put), option("100", pricing.Put)

	f.deposit(t, "long", "10000")
	f.deposit(t, "short", "10000")
	for _, o := range []OptionOrder{
		{Account: "long", ContractID: itmCall.ID, Quantity: 2},
		{Account: "long", ContractID: otmPut.ID, Quantity: 1},
		{Account: "short", ContractID: itmPut.ID, Quantity: -1},
	} {
		_, err := f.e.PlaceOptionOrder(ctx, o)
		require.NoError(t, err)
	}
	require.True(t, mustStatus(t, f.e, "short").MarginUsed.IsPositive())
	longBefore, shortBefore := mustStatus(t, f.e, "long"), mustStatus(t, f.e, "short")

	// still inside the exercise window nothing expires
	f.clock.Advance(150 * time.Minute)
	rep, err := f.e.DailySettlement(ctx)
	require.NoError(t, err)
	for _, m := range rep.Marks {
		assert.Empty(t, m.Expired, m.Account)
	}

	f.clock.Advance(time.Hour)
	f.feed.SetPrice("SPX", dec("105"), f.clock.Now())
	rep, err = f.e.DailySettlement(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Marks, 2)
	assert.Equal(t, "long", rep.Marks[0].Account)
	require.Len(t, rep.Marks[0].Expired, 2)
	require.Len(t, rep.Marks[1].Expired, 1)

	long := mustStatus(t, f.e, "long")
	assert.True(t, long.Balance.Equal(longBefore.Balance.Add(dec("3000"))))
	short := mustStatus(t, f.e, "short")
	assert.True(t, short.Balance.Equal(shortBefore.Balance.Sub(dec("500"))))
	assert.True(t, short.MarginUsed.IsZero())
	assert.True(t, short.Maintenance.IsZero())

	for _, acct := range []string{"long", "short"} {
		sum, err := f.e.PositionSummary(ctx, acct)
		require.NoError(t, err)
		assert.Empty(t, sum.Options, acct)
	}
	for _, oc := range []*market.OptionContract{itmCall, itmPut, otmPut} {
		assert.Equal(t, int64(0), oc.OpenInterest(), oc.ID)
	}

	kinds := map[journal.FillKind]int{}
	for _, fill := range f.journal.Fills {
		kinds[fill.Kind]++
	}
	assert.Equal(t, 3, kinds[journal.FillExpiry])

	// a later sweep has nothing left to expire
	rep, err = f.e.DailySettlement(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Marks)
}
