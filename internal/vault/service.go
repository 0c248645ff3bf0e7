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

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-core-go/internal/custody"
	"vault-core-go/internal/eventlog"
	"vault-core-go/internal/ledger"
	"vault-core-go/internal/models"
	"vault-core-go/internal/settlement"
)

// Sentinel errors for vault policy and admin checks
var (
	ErrVaultPaused      = errors.New("vault is paused")
	ErrUnauthorized     = errors.New("caller is not the vault owner")
	ErrUnsupportedAsset = errors.New("asset has no custody adapter binding")
	ErrBelowMinimum     = errors.New("amount below minimum deposit")
	ErrAboveMaximum     = errors.New("amount exceeds maximum deposit")
	ErrCapacityExceeded = errors.New("deposit exceeds asset capacity")
)

const bpsDenominator = 10_000

// Service is the public vault surface: it validates requests against global
// policy, delegates settlement to the coordinator, issues custody
// instructions, and answers queries. It owns the vault configuration.
type Service struct {
	mu       sync.RWMutex
	config   models.VaultConfig
	policies map[models.AssetClass]models.AssetPolicy

	coordinator *settlement.Coordinator
	adapter     custody.Adapter
	shares      *ledger.ShareLedger
	reserves    *ledger.ReserveTracker
	events      *eventlog.Log
}

// Deps carries the collaborators composed into a Service.
type Deps struct {
	Config      models.VaultConfig
	Policies    []models.AssetPolicy
	Coordinator *settlement.Coordinator
	Adapter     custody.Adapter
	Shares      *ledger.ShareLedger
	Reserves    *ledger.ReserveTracker
	Events      *eventlog.Log
}

func NewService(deps Deps) *Service {
	policies := make(map[models.AssetClass]models.AssetPolicy, len(deps.Policies))
	for _, policy := range deps.Policies {
		policies[policy.Asset] = policy
	}
	return &Service{
		config:      deps.Config,
		policies:    policies,
		coordinator: deps.Coordinator,
		adapter:     deps.Adapter,
		shares:      deps.Shares,
		reserves:    deps.Reserves,
		events:      deps.Events,
	}
}

// Deposit validates policy and opens a deposit settlement, issuing the
// inbound custody transfer. Shares are credited only when the custody
// confirmation arrives.
func (s *Service) Deposit(ctx context.Context, account string, asset models.AssetClass, amount decimal.Decimal) (uint64, error) {
	policy, err := s.depositPolicy(asset, amount)
	if err != nil {
		return 0, err
	}

	ps, instruction, err := s.coordinator.BeginDeposit(ctx, account, asset, amount, policy.Adapter)
	if err != nil {
		return 0, err
	}

	if err := s.adapter.InitiateTransfer(ctx, instruction); err != nil {
		// The external leg never left; fail the settlement so the slot frees
		// immediately instead of waiting for operator recovery.
		if resolveErr := s.coordinator.ResolveDeposit(ctx, ps.Id, false); resolveErr != nil {
			zap.L().Error("Failed to abort deposit after custody initiation error",
				zap.Uint64("settlement_id", ps.Id),
				zap.Error(resolveErr))
		}
		return 0, fmt.Errorf("failed to initiate custody transfer: %w", err)
	}

	return ps.Id, nil
}

// Withdraw validates policy, applies the fee-adjusted redemption rate, and
// opens a withdrawal settlement with its outbound custody transfer.
func (s *Service) Withdraw(ctx context.Context, account string, asset models.AssetClass, shareAmount decimal.Decimal) (uint64, error) {
	s.mu.RLock()
	paused := s.config.Paused
	feeBps := s.config.FeeBps
	s.mu.RUnlock()

	if paused {
		return 0, ErrVaultPaused
	}
	policy, ok := s.policies[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	payout := redemptionPayout(shareAmount, feeBps)

	ps, instruction, err := s.coordinator.BeginWithdraw(ctx, account, asset, shareAmount, payout, policy.Adapter)
	if err != nil {
		return 0, err
	}

	if err := s.adapter.InitiateTransfer(ctx, instruction); err != nil {
		// Compensates the speculative burn and debit.
		if resolveErr := s.coordinator.ResolveWithdraw(ctx, ps.Id, false); resolveErr != nil {
			zap.L().Error("Failed to abort withdrawal after custody initiation error",
				zap.Uint64("settlement_id", ps.Id),
				zap.Error(resolveErr))
		}
		return 0, fmt.Errorf("failed to initiate custody transfer: %w", err)
	}

	return ps.Id, nil
}

// ResolveDepositCallback delivers a custody outcome for a deposit settlement.
// Invoked exclusively by the custody adapter integration layer.
func (s *Service) ResolveDepositCallback(ctx context.Context, id uint64, success bool) error {
	return s.coordinator.ResolveDeposit(ctx, id, success)
}

// ResolveWithdrawCallback delivers a custody outcome for a withdrawal
// settlement. Invoked exclusively by the custody adapter integration layer.
func (s *Service) ResolveWithdrawCallback(ctx context.Context, id uint64, success bool) error {
	return s.coordinator.ResolveWithdraw(ctx, id, success)
}

// GetReserve returns the tracked custody reserve for one asset.
func (s *Service) GetReserve(asset models.AssetClass) decimal.Decimal {
	return s.reserves.Balance(asset)
}

// GetShares returns the account's share balance for one asset.
func (s *Service) GetShares(account string, asset models.AssetClass) decimal.Decimal {
	return s.shares.BalanceOf(account, asset)
}

// GetTotalShares returns the account's shares summed across all assets.
func (s *Service) GetTotalShares(account string) decimal.Decimal {
	return s.shares.TotalSharesOf(account)
}

// GetTotalSupply returns the share supply for one asset.
func (s *Service) GetTotalSupply(asset models.AssetClass) decimal.Decimal {
	return s.shares.TotalSupply(asset)
}

// GetEvents returns settlement events newest first, optionally filtered by kind.
func (s *Service) GetEvents(kind *models.EventKind, limit, offset int) []models.SettlementEvent {
	return s.events.Query(kind, limit, offset)
}

// PendingSettlements returns a snapshot of every open settlement.
func (s *Service) PendingSettlements() []models.PendingSettlement {
	return s.coordinator.ListPending()
}

// Config returns a copy of the current vault configuration.
func (s *Service) Config() models.VaultConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Policy returns the policy bound to an asset class.
func (s *Service) Policy(asset models.AssetClass) (models.AssetPolicy, bool) {
	policy, ok := s.policies[asset]
	return policy, ok
}

// SetPaused toggles the paused flag. Owner only; takes effect synchronously.
func (s *Service) SetPaused(caller string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.config.Owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	s.config.Paused = paused

	zap.L().Info("Vault pause flag updated",
		zap.String("caller", caller),
		zap.Bool("paused", paused))
	return nil
}

// UpdateConfig applies the non-nil fields of the update. Owner only.
func (s *Service) UpdateConfig(caller string, update models.VaultConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.config.Owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}

	if update.Owner != nil {
		s.config.Owner = *update.Owner
	}
	if update.Paused != nil {
		s.config.Paused = *update.Paused
	}
	if update.FeeBps != nil {
		if *update.FeeBps >= bpsDenominator {
			return fmt.Errorf("fee must be below %d basis points, got %d", bpsDenominator, *update.FeeBps)
		}
		s.config.FeeBps = *update.FeeBps
	}

	zap.L().Info("Vault config updated",
		zap.String("caller", caller),
		zap.String("owner", s.config.Owner),
		zap.Bool("paused", s.config.Paused),
		zap.Uint16("fee_bps", s.config.FeeBps))
	return nil
}

// ForceResolve fails a stale open settlement to unblock its (account, asset)
// pair. Owner only; the only administrative override into the state machine.
func (s *Service) ForceResolve(ctx context.Context, caller string, id uint64) error {
	s.mu.RLock()
	owner := s.config.Owner
	s.mu.RUnlock()

	if caller != owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return s.coordinator.ForceResolve(ctx, id)
}

// depositPolicy runs the deposit-side policy gate: paused flag, adapter
// binding, min/max limits, and remaining capacity, strictly before any
// settlement state is created.
func (s *Service) depositPolicy(asset models.AssetClass, amount decimal.Decimal) (models.AssetPolicy, error) {
	s.mu.RLock()
	paused := s.config.Paused
	s.mu.RUnlock()

	if paused {
		return models.AssetPolicy{}, ErrVaultPaused
	}
	policy, ok := s.policies[asset]
	if !ok {
		return models.AssetPolicy{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if policy.MinDeposit.IsPositive() && amount.LessThan(policy.MinDeposit) {
		return models.AssetPolicy{}, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, policy.MinDeposit.String())
	}
	if policy.MaxDeposit.IsPositive() && amount.GreaterThan(policy.MaxDeposit) {
		return models.AssetPolicy{}, fmt.Errorf("%w: maximum is %s", ErrAboveMaximum, policy.MaxDeposit.String())
	}
	if policy.Capacity.IsPositive() {
		if s.reserves.Balance(asset).Add(amount).GreaterThan(policy.Capacity) {
			return models.AssetPolicy{}, fmt.Errorf("%w: capacity is %s", ErrCapacityExceeded, policy.Capacity.String())
		}
	}
	return policy, nil
}

// redemptionPayout converts shares to the asset amount leaving custody.
// The core redeems 1:1; the fee is the pluggable multiplier, floored so the
// vault never rounds in the withdrawer's favor.
func redemptionPayout(shareAmount decimal.Decimal, feeBps uint16) decimal.Decimal {
	if feeBps == 0 {
		return shareAmount
	}
	keepBps := decimal.NewFromInt(int64(bpsDenominator - feeBps))
	return shareAmount.Mul(keepBps).Div(decimal.NewFromInt(bpsDenominator)).Floor()
}
