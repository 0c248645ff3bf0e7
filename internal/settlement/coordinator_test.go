package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-core-go/internal/eventlog"
	"vault-core-go/internal/ledger"
	"vault-core-go/internal/models"
	"vault-core-go/internal/store"
)

type fixture struct {
	shares   *ledger.ShareLedger
	reserves *ledger.ReserveTracker
	events   *eventlog.Log
	journal  *fakeJournal
	clock    *fakeClock
	coord    *Coordinator
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeJournal struct {
	records []store.RecordSettlementParams
	err     error
}

func (j *fakeJournal) RecordSettlement(_ context.Context, params store.RecordSettlementParams) error {
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, params)
	return nil
}

func (j *fakeJournal) SettlementHistory(context.Context, string, string, int, int) ([]store.JournalEntry, error) {
	return nil, nil
}

func (j *fakeJournal) NetPosition(context.Context, string, models.AssetClass) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (j *fakeJournal) Close() error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		shares:   ledger.NewShareLedger(),
		reserves: ledger.NewReserveTracker(),
		events:   eventlog.New(0),
		journal:  &fakeJournal{},
		clock:    &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.coord = NewCoordinator(f.shares, f.reserves, f.events,
		WithJournal(f.journal),
		WithClock(f.clock.Now),
		WithForceResolveThreshold(30*time.Minute))
	return f
}

func amt(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// fund confirms a deposit so the account holds shares and the reserve is
// backed, then returns with no open settlement.
func (f *fixture) fund(t *testing.T, account string, asset models.AssetClass, amount decimal.Decimal) {
	t.Helper()
	ps, _, err := f.coord.BeginDeposit(context.Background(), account, asset, amount, "adapter")
	require.NoError(t, err)
	require.NoError(t, f.coord.ResolveDeposit(context.Background(), ps.Id, true))
}

func TestDepositDoesNotCreditUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ps, instruction, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "usdc.custody.near")
	require.NoError(t, err)

	assert.Equal(t, models.StateAwaitingConfirmation, ps.State)
	assert.Equal(t, models.DirectionDeposit, instruction.Direction)
	assert.Equal(t, "usdc.custody.near", instruction.Adapter)
	assert.True(t, instruction.Amount.Equal(amt(t, "100")))

	// Nothing minted or credited before the confirmation.
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).IsZero())
	assert.True(t, f.reserves.Balance(models.AssetUSDC).IsZero())

	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))

	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "100")))
	assert.True(t, f.shares.TotalSupply(models.AssetUSDC).Equal(amt(t, "100")))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(amt(t, "100")))
}

func TestFailedDepositLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)
	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, false))

	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).IsZero())
	assert.True(t, f.reserves.Balance(models.AssetUSDC).IsZero())

	events := f.events.Query(nil, 0, 0)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFailed, events[0].Kind)
	assert.True(t, events[0].ShareDelta.IsZero())

	// The slot is free again.
	_, _, err = f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "50"), "adapter")
	require.NoError(t, err)
}

func TestOneOpenSettlementPerAccountAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)

	_, _, err = f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "50"), "adapter")
	assert.ErrorIs(t, err, ErrSettlementInProgress)

	// A withdrawal against the same pair is blocked too.
	_, _, err = f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "10"), amt(t, "10"), "adapter")
	assert.ErrorIs(t, err, ErrSettlementInProgress)

	// Other pairs are unaffected.
	_, _, err = f.coord.BeginDeposit(ctx, "alice", models.AssetWNEAR, amt(t, "1"), "adapter")
	require.NoError(t, err)
	_, _, err = f.coord.BeginDeposit(ctx, "bob", models.AssetUSDC, amt(t, "1"), "adapter")
	require.NoError(t, err)

	// Resolving frees the slot.
	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))
	_, _, err = f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "50"), "adapter")
	require.NoError(t, err)
}

func TestWithdrawDebitsSpeculatively(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", models.AssetUSDC, amt(t, "100"))

	ps, instruction, err := f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "60"), amt(t, "60"), "adapter")
	require.NoError(t, err)

	// Burn and debit applied before custody answers.
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "40")))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(amt(t, "40")))
	assert.Equal(t, models.DirectionWithdraw, instruction.Direction)
	assert.True(t, instruction.Amount.Equal(amt(t, "60")))

	require.NoError(t, f.coord.ResolveWithdraw(ctx, ps.Id, true))

	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "40")))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(amt(t, "40")))

	events := f.events.Query(nil, 1, 0)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventWithdrawn, events[0].Kind)
	assert.True(t, events[0].ShareDelta.Equal(amt(t, "60")))
}

func TestFailedWithdrawCompensatesExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", models.AssetUSDC, amt(t, "50"))

	ps, _, err := f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "50"), amt(t, "50"), "adapter")
	require.NoError(t, err)

	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).IsZero())
	assert.True(t, f.reserves.Balance(models.AssetUSDC).IsZero())

	require.NoError(t, f.coord.ResolveWithdraw(ctx, ps.Id, false))

	// Pre-withdrawal state restored exactly.
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "50")))
	assert.True(t, f.shares.TotalSupply(models.AssetUSDC).Equal(amt(t, "50")))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(amt(t, "50")))

	events := f.events.Query(nil, 1, 0)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFailed, events[0].Kind)

	// And the slot is open for the retry.
	_, _, err = f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "50"), amt(t, "50"), "adapter")
	require.NoError(t, err)
}

func TestWithdrawRequiresSufficientSharesAndReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", models.AssetUSDC, amt(t, "100"))

	_, _, err := f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "101"), amt(t, "101"), "adapter")
	assert.ErrorIs(t, err, ledger.ErrInsufficientShares)

	// Shares suffice but the payout exceeds what custody holds for the asset.
	_, _, err = f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "100"), amt(t, "150"), "adapter")
	assert.ErrorIs(t, err, ledger.ErrInsufficientReserve)

	// Nothing was debited by the rejected attempts.
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "100")))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(amt(t, "100")))
}

func TestBeginRejectsInvalidAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, bad := range []string{"0", "-5", "1.5"} {
		_, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, bad), "adapter")
		assert.ErrorIs(t, err, ErrInvalidAmount, "deposit amount %s", bad)

		_, _, err = f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, bad), amt(t, "1"), "adapter")
		assert.ErrorIs(t, err, ErrInvalidAmount, "withdraw shares %s", bad)
	}
}

func TestRepeatedCallbackIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)
	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))

	// The duplicate delivery must not double-credit.
	err = f.coord.ResolveDeposit(ctx, ps.Id, true)
	assert.ErrorIs(t, err, ErrDoubleResolution)
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "100")))

	// A conflicting outcome for the same settlement is rejected the same way.
	err = f.coord.ResolveDeposit(ctx, ps.Id, false)
	assert.ErrorIs(t, err, ErrDoubleResolution)
}

func TestResolveUnknownSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.coord.ResolveDeposit(ctx, 42, true)
	assert.ErrorIs(t, err, ErrUnknownSettlement)
	err = f.coord.ResolveWithdraw(ctx, 42, true)
	assert.ErrorIs(t, err, ErrUnknownSettlement)
}

func TestResolveDirectionMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)

	err = f.coord.ResolveWithdraw(ctx, ps.Id, true)
	assert.ErrorIs(t, err, ErrDirectionMismatch)

	// The mismatch must not consume the settlement.
	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))
}

func TestForceResolveHonorsThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", models.AssetUSDC, amt(t, "100"))

	ps, _, err := f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "100"), amt(t, "100"), "adapter")
	require.NoError(t, err)

	err = f.coord.ForceResolve(ctx, ps.Id)
	assert.ErrorIs(t, err, ErrForceResolveTooEarly)

	f.clock.Advance(29 * time.Minute)
	err = f.coord.ForceResolve(ctx, ps.Id)
	assert.ErrorIs(t, err, ErrForceResolveTooEarly)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.coord.ForceResolve(ctx, ps.Id))

	// Force-resolution fails the settlement, so the withdrawal compensates.
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "100")))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(amt(t, "100")))

	err = f.coord.ForceResolve(ctx, ps.Id)
	assert.ErrorIs(t, err, ErrDoubleResolution)
}

func TestForceResolveUnknownSettlement(t *testing.T) {
	f := newFixture(t)

	err := f.coord.ForceResolve(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnknownSettlement)
}

func TestPendingQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.coord.Pending("alice", models.AssetUSDC)
	assert.False(t, ok)

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)
	_, _, err = f.coord.BeginDeposit(ctx, "bob", models.AssetWNEAR, amt(t, "5"), "adapter")
	require.NoError(t, err)

	got, ok := f.coord.Pending("alice", models.AssetUSDC)
	require.True(t, ok)
	assert.Equal(t, ps.Id, got.Id)
	assert.Equal(t, models.StateAwaitingConfirmation, got.State)

	assert.Len(t, f.coord.ListPending(), 2)

	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))
	_, ok = f.coord.Pending("alice", models.AssetUSDC)
	assert.False(t, ok)
	assert.Len(t, f.coord.ListPending(), 1)
}

func TestJournalRecordsOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", models.AssetUSDC, amt(t, "100"))

	ps, _, err := f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "30"), amt(t, "30"), "adapter")
	require.NoError(t, err)
	require.NoError(t, f.coord.ResolveWithdraw(ctx, ps.Id, true))

	require.Len(t, f.journal.records, 2)

	deposit := f.journal.records[0]
	assert.Equal(t, models.EventDeposited, deposit.Outcome)
	assert.Equal(t, models.DirectionDeposit, deposit.Direction)
	assert.True(t, deposit.Amount.Equal(amt(t, "100")))

	withdraw := f.journal.records[1]
	assert.Equal(t, models.EventWithdrawn, withdraw.Outcome)
	assert.Equal(t, "alice", withdraw.Account)
	assert.True(t, withdraw.Amount.Equal(amt(t, "30")))
	assert.True(t, withdraw.ShareDelta.Equal(amt(t, "30")))
}

func TestJournalFailureDoesNotFailResolution(t *testing.T) {
	f := newFixture(t)
	f.journal.err = context.DeadlineExceeded
	ctx := context.Background()

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)

	// The in-memory commit is authoritative: resolution succeeds and the
	// ledger is credited even though the journal write failed.
	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))
	assert.True(t, f.shares.BalanceOf("alice", models.AssetUSDC).Equal(amt(t, "100")))
}

func TestSupplyMatchesSumOfBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "alice", models.AssetUSDC, amt(t, "100"))
	f.fund(t, "bob", models.AssetUSDC, amt(t, "200"))

	ps, _, err := f.coord.BeginWithdraw(ctx, "bob", models.AssetUSDC, amt(t, "75"), amt(t, "75"), "adapter")
	require.NoError(t, err)
	require.NoError(t, f.coord.ResolveWithdraw(ctx, ps.Id, true))

	ps, _, err = f.coord.BeginWithdraw(ctx, "alice", models.AssetUSDC, amt(t, "10"), amt(t, "10"), "adapter")
	require.NoError(t, err)
	require.NoError(t, f.coord.ResolveWithdraw(ctx, ps.Id, false))

	total := f.shares.BalanceOf("alice", models.AssetUSDC).Add(f.shares.BalanceOf("bob", models.AssetUSDC))
	assert.True(t, f.shares.TotalSupply(models.AssetUSDC).Equal(total))
	assert.True(t, f.reserves.Balance(models.AssetUSDC).Equal(total))
}

func TestEventTimestampsUseResolutionTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ps, _, err := f.coord.BeginDeposit(ctx, "alice", models.AssetUSDC, amt(t, "100"), "adapter")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.coord.ResolveDeposit(ctx, ps.Id, true))

	events := f.events.Query(nil, 1, 0)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(f.clock.Now().UnixNano()), events[0].Timestamp)
}

func TestStateTransitionTable(t *testing.T) {
	cases := []struct {
		from, to models.SettlementState
		ok       bool
	}{
		{models.StateInitiated, models.StateAwaitingConfirmation, true},
		{models.StateInitiated, models.StateConfirmed, false},
		{models.StateAwaitingConfirmation, models.StateConfirmed, true},
		{models.StateAwaitingConfirmation, models.StateFailed, true},
		{models.StateConfirmed, models.StateFailed, false},
		{models.StateConfirmed, models.StateAwaitingConfirmation, false},
		{models.StateFailed, models.StateConfirmed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, isValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
