/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-core-go/internal/custody"
	"vault-core-go/internal/eventlog"
	"vault-core-go/internal/ledger"
	"vault-core-go/internal/models"
	"vault-core-go/internal/store"
)

// terminalRetention bounds how many resolved settlements stay addressable by
// id for deduplicating repeated custody callbacks.
const terminalRetention = 4096

type pairKey struct {
	account string
	asset   models.AssetClass
}

// Coordinator orchestrates deposits and withdrawals as two-phase operations
// spanning a local ledger mutation and an external custody leg.
//
// Deposits are confirm-before-credit: nothing is minted until custody
// confirms the inbound transfer. Withdrawals are speculative-debit with
// compensation: shares are burned and the reserve debited up front, so a
// second withdrawal cannot double-spend while the external leg is
// outstanding, and the exact inverse mutation is applied if custody reports
// failure.
//
// The one-open-settlement-per-(account, asset) rule is the whole concurrency
// control mechanism; the mutex only serializes message handling.
type Coordinator struct {
	mu       sync.Mutex
	shares   *ledger.ShareLedger
	reserves *ledger.ReserveTracker
	events   *eventlog.Log
	journal  store.SettlementJournal
	clock    func() time.Time

	forceResolveAfter time.Duration

	nextId        uint64
	open          map[pairKey]uint64
	settlements   map[uint64]*models.PendingSettlement
	resolvedOrder []uint64
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithJournal attaches a durable settlement journal. Journal writes happen
// after the local state commit and never fail a resolution.
func WithJournal(journal store.SettlementJournal) Option {
	return func(c *Coordinator) { c.journal = journal }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithForceResolveThreshold sets the minimum age before an open settlement is
// eligible for operator force-resolution.
func WithForceResolveThreshold(threshold time.Duration) Option {
	return func(c *Coordinator) { c.forceResolveAfter = threshold }
}

func NewCoordinator(shares *ledger.ShareLedger, reserves *ledger.ReserveTracker, events *eventlog.Log, opts ...Option) *Coordinator {
	c := &Coordinator{
		shares:      shares,
		reserves:    reserves,
		events:      events,
		clock:       time.Now,
		open:        make(map[pairKey]uint64),
		settlements: make(map[uint64]*models.PendingSettlement),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginDeposit opens a deposit settlement and returns the inbound transfer
// instruction to issue to custody. No ledger state changes until the
// confirmation arrives.
func (c *Coordinator) BeginDeposit(ctx context.Context, account string, asset models.AssetClass, amount decimal.Decimal, binding string) (*models.PendingSettlement, custody.TransferInstruction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validateAmount(amount); err != nil {
		return nil, custody.TransferInstruction{}, err
	}
	if id, exists := c.open[pairKey{account, asset}]; exists {
		return nil, custody.TransferInstruction{}, fmt.Errorf("%w: settlement %d is open", ErrSettlementInProgress, id)
	}

	ps := c.openSettlement(account, asset, amount, amount, models.DirectionDeposit)

	zap.L().Info("Deposit settlement opened",
		zap.Uint64("settlement_id", ps.Id),
		zap.String("account", account),
		zap.String("asset", string(asset)),
		zap.String("amount", amount.String()))

	snapshot := *ps
	return &snapshot, custody.TransferInstruction{
		SettlementId: ps.Id,
		Direction:    models.DirectionDeposit,
		Asset:        asset,
		Adapter:      binding,
		Amount:       amount,
	}, nil
}

// BeginWithdraw opens a withdrawal settlement. The share burn and reserve
// debit are applied immediately; payout is the asset amount leaving custody
// after any fee adjustment, computed by the caller before this check.
func (c *Coordinator) BeginWithdraw(ctx context.Context, account string, asset models.AssetClass, shareAmount, payout decimal.Decimal, binding string) (*models.PendingSettlement, custody.TransferInstruction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validateAmount(shareAmount); err != nil {
		return nil, custody.TransferInstruction{}, err
	}
	if err := validateAmount(payout); err != nil {
		return nil, custody.TransferInstruction{}, err
	}
	if id, exists := c.open[pairKey{account, asset}]; exists {
		return nil, custody.TransferInstruction{}, fmt.Errorf("%w: settlement %d is open", ErrSettlementInProgress, id)
	}
	if c.shares.BalanceOf(account, asset).LessThan(shareAmount) {
		return nil, custody.TransferInstruction{}, ledger.ErrInsufficientShares
	}
	if c.reserves.Balance(asset).LessThan(payout) {
		return nil, custody.TransferInstruction{}, ledger.ErrInsufficientReserve
	}

	// Speculative leg. Both mutations were validated above, so neither can
	// fail and leave the other half-applied.
	if err := c.shares.Burn(account, asset, shareAmount); err != nil {
		return nil, custody.TransferInstruction{}, fmt.Errorf("failed to burn shares: %w", err)
	}
	if err := c.reserves.Debit(asset, payout); err != nil {
		return nil, custody.TransferInstruction{}, fmt.Errorf("failed to debit reserve: %w", err)
	}

	ps := c.openSettlement(account, asset, payout, shareAmount, models.DirectionWithdraw)

	zap.L().Info("Withdrawal settlement opened",
		zap.Uint64("settlement_id", ps.Id),
		zap.String("account", account),
		zap.String("asset", string(asset)),
		zap.String("share_amount", shareAmount.String()),
		zap.String("payout", payout.String()))

	snapshot := *ps
	return &snapshot, custody.TransferInstruction{
		SettlementId: ps.Id,
		Direction:    models.DirectionWithdraw,
		Asset:        asset,
		Adapter:      binding,
		Amount:       payout,
	}, nil
}

// ResolveDeposit applies the custody outcome for a deposit settlement. On
// success the shares are minted and the reserve credited; on failure no
// ledger mutation occurs. Either way a settlement event is appended and the
// slot for the (account, asset) pair is freed.
func (c *Coordinator) ResolveDeposit(ctx context.Context, id uint64, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ps, err := c.resolvable(id, models.DirectionDeposit)
	if err != nil {
		return err
	}
	if err := checkTransition(ps, terminalState(success)); err != nil {
		return err
	}

	if success {
		if !c.shares.CanMint(ps.Account, ps.Asset, ps.ShareAmount) || !c.reserves.CanCredit(ps.Asset, ps.Amount) {
			return fmt.Errorf("cannot credit deposit settlement %d: %w", id, ledger.ErrOverflow)
		}
		if err := c.shares.Mint(ps.Account, ps.Asset, ps.ShareAmount); err != nil {
			return fmt.Errorf("failed to mint shares: %w", err)
		}
		if err := c.reserves.Credit(ps.Asset, ps.Amount); err != nil {
			return fmt.Errorf("failed to credit reserve: %w", err)
		}
		c.finalize(ctx, ps, models.StateConfirmed, models.EventDeposited, ps.ShareAmount)

		zap.L().Info("Deposit settlement confirmed",
			zap.Uint64("settlement_id", id),
			zap.String("account", ps.Account),
			zap.String("asset", string(ps.Asset)),
			zap.String("amount", ps.Amount.String()),
			zap.String("new_balance", c.shares.BalanceOf(ps.Account, ps.Asset).String()))
		return nil
	}

	c.finalize(ctx, ps, models.StateFailed, models.EventFailed, decimal.Zero)

	zap.L().Warn("Deposit settlement failed - no credit applied",
		zap.Uint64("settlement_id", id),
		zap.String("account", ps.Account),
		zap.String("asset", string(ps.Asset)),
		zap.String("amount", ps.Amount.String()))
	return nil
}

// ResolveWithdraw applies the custody outcome for a withdrawal settlement.
// On failure the speculative burn and debit are compensated with their exact
// inverse, restoring pre-withdrawal state.
func (c *Coordinator) ResolveWithdraw(ctx context.Context, id uint64, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ps, err := c.resolvable(id, models.DirectionWithdraw)
	if err != nil {
		return err
	}
	if err := checkTransition(ps, terminalState(success)); err != nil {
		return err
	}

	if success {
		c.finalize(ctx, ps, models.StateConfirmed, models.EventWithdrawn, ps.ShareAmount)

		zap.L().Info("Withdrawal settlement confirmed",
			zap.Uint64("settlement_id", id),
			zap.String("account", ps.Account),
			zap.String("asset", string(ps.Asset)),
			zap.String("payout", ps.Amount.String()))
		return nil
	}

	// Compensation: exact inverse of the speculative mutation. The burned
	// shares and debited payout always fit back, so neither call can fail.
	if err := c.shares.Mint(ps.Account, ps.Asset, ps.ShareAmount); err != nil {
		return fmt.Errorf("failed to compensate shares: %w", err)
	}
	if err := c.reserves.Credit(ps.Asset, ps.Amount); err != nil {
		return fmt.Errorf("failed to compensate reserve: %w", err)
	}
	c.finalize(ctx, ps, models.StateFailed, models.EventFailed, decimal.Zero)

	zap.L().Warn("Withdrawal settlement failed - compensated",
		zap.Uint64("settlement_id", id),
		zap.String("account", ps.Account),
		zap.String("asset", string(ps.Asset)),
		zap.String("restored_shares", ps.ShareAmount.String()),
		zap.String("restored_reserve", ps.Amount.String()))
	return nil
}

// ForceResolve resolves an open settlement as failed. It is the only
// administrative override into the state machine, for unblocking an
// (account, asset) pair whose custody callback never arrived. The settlement
// must be older than the configured inactivity threshold.
func (c *Coordinator) ForceResolve(ctx context.Context, id uint64) error {
	c.mu.Lock()
	direction, err := func() (models.SettlementDirection, error) {
		ps, ok := c.settlements[id]
		if !ok {
			return "", fmt.Errorf("%w: %d", ErrUnknownSettlement, id)
		}
		if ps.State.Terminal() {
			return "", fmt.Errorf("%w: settlement %d is %s", ErrDoubleResolution, id, ps.State)
		}
		if age := c.clock().Sub(ps.CreatedAt); age < c.forceResolveAfter {
			return "", fmt.Errorf("%w: settlement %d is %s old", ErrForceResolveTooEarly, id, age)
		}
		return ps.Direction, nil
	}()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	zap.L().Warn("Force-resolving stale settlement as failed", zap.Uint64("settlement_id", id))

	if direction == models.DirectionDeposit {
		return c.ResolveDeposit(ctx, id, false)
	}
	return c.ResolveWithdraw(ctx, id, false)
}

// Pending returns the open settlement for an (account, asset) pair, if any.
func (c *Coordinator) Pending(account string, asset models.AssetClass) (models.PendingSettlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.open[pairKey{account, asset}]
	if !ok {
		return models.PendingSettlement{}, false
	}
	return *c.settlements[id], true
}

// ListPending returns a snapshot of every open settlement.
func (c *Coordinator) ListPending() []models.PendingSettlement {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.PendingSettlement, 0, len(c.open))
	for _, id := range c.open {
		out = append(out, *c.settlements[id])
	}
	return out
}

func (c *Coordinator) openSettlement(account string, asset models.AssetClass, amount, shareAmount decimal.Decimal, direction models.SettlementDirection) *models.PendingSettlement {
	c.nextId++
	ps := &models.PendingSettlement{
		Id:          c.nextId,
		Account:     account,
		Asset:       asset,
		Amount:      amount,
		ShareAmount: shareAmount,
		Direction:   direction,
		State:       models.StateInitiated,
		CreatedAt:   c.clock(),
	}
	// The external instruction is issued as soon as begin returns, so the
	// record moves straight to awaiting confirmation.
	ps.State = models.StateAwaitingConfirmation
	c.settlements[ps.Id] = ps
	c.open[pairKey{account, asset}] = ps.Id
	return ps
}

// resolvable fetches a settlement for resolution, enforcing the terminal-state
// guard that deduplicates at-least-once custody callbacks.
func (c *Coordinator) resolvable(id uint64, direction models.SettlementDirection) (*models.PendingSettlement, error) {
	ps, ok := c.settlements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSettlement, id)
	}
	if ps.Direction != direction {
		return nil, fmt.Errorf("%w: settlement %d is a %s", ErrDirectionMismatch, id, ps.Direction)
	}
	if ps.State.Terminal() {
		return nil, fmt.Errorf("%w: settlement %d is %s", ErrDoubleResolution, id, ps.State)
	}
	return ps, nil
}

// finalize commits the terminal transition, frees the (account, asset) slot,
// appends the settlement event, and records the outcome in the journal.
func (c *Coordinator) finalize(ctx context.Context, ps *models.PendingSettlement, state models.SettlementState, kind models.EventKind, shareDelta decimal.Decimal) {
	ps.State = state
	delete(c.open, pairKey{ps.Account, ps.Asset})
	c.retainResolved(ps.Id)

	resolvedAt := c.clock()
	c.events.Append(models.SettlementEvent{
		Kind:       kind,
		Account:    ps.Account,
		Asset:      ps.Asset,
		Amount:     ps.Amount,
		ShareDelta: shareDelta,
		Timestamp:  uint64(resolvedAt.UnixNano()),
	})

	if c.journal == nil {
		return
	}
	err := c.journal.RecordSettlement(ctx, store.RecordSettlementParams{
		SettlementId: ps.Id,
		Account:      ps.Account,
		Asset:        ps.Asset,
		Direction:    ps.Direction,
		Outcome:      kind,
		Amount:       ps.Amount,
		ShareDelta:   shareDelta,
		CreatedAt:    ps.CreatedAt,
		ResolvedAt:   resolvedAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSettlement) {
			zap.L().Debug("Settlement already journaled", zap.Uint64("settlement_id", ps.Id))
			return
		}
		// The in-memory commit is authoritative; a journal miss is an audit
		// gap, not a settlement failure.
		zap.L().Error("Failed to journal settlement outcome",
			zap.Uint64("settlement_id", ps.Id),
			zap.Error(err))
	}
}

// retainResolved keeps terminal records addressable for callback dedupe,
// pruning the oldest once retention is exceeded.
func (c *Coordinator) retainResolved(id uint64) {
	c.resolvedOrder = append(c.resolvedOrder, id)
	if len(c.resolvedOrder) > terminalRetention {
		evicted := c.resolvedOrder[0]
		c.resolvedOrder = c.resolvedOrder[1:]
		delete(c.settlements, evicted)
	}
}

func terminalState(success bool) models.SettlementState {
	if success {
		return models.StateConfirmed
	}
	return models.StateFailed
}

// checkTransition is the fatal invariant guard: it must pass before any
// resolution mutation so an illegal transition aborts with nothing committed.
func checkTransition(ps *models.PendingSettlement, to models.SettlementState) error {
	if !isValidTransition(ps.State, to) {
		return &InvalidStateTransitionError{SettlementId: ps.Id, FromState: ps.State, ToState: to}
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 || !amount.IsInteger() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	return nil
}
