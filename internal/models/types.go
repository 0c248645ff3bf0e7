package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass identifies a supported custody asset kind. The enumeration is
// closed: adding a member requires a custody adapter binding in the policy
// file, so unknown symbols are rejected at parse time.
type AssetClass string

const (
	AssetWNEAR AssetClass = "WNEAR"
	AssetUSDC  AssetClass = "USDC"
	AssetUSDT  AssetClass = "USDT"
)

// SupportedAssets returns every member of the closed AssetClass enumeration.
func SupportedAssets() []AssetClass {
	return []AssetClass{AssetWNEAR, AssetUSDC, AssetUSDT}
}

// ParseAssetClass validates a symbol against the closed enumeration.
func ParseAssetClass(symbol string) (AssetClass, error) {
	for _, asset := range SupportedAssets() {
		if string(asset) == symbol {
			return asset, nil
		}
	}
	return "", fmt.Errorf("unsupported asset class: %q", symbol)
}

// SettlementDirection distinguishes the two legs a settlement can move funds in.
type SettlementDirection string

const (
	DirectionDeposit  SettlementDirection = "Deposit"
	DirectionWithdraw SettlementDirection = "Withdraw"
)

// SettlementState is the lifecycle state of a pending settlement.
// Legal transitions: Initiated -> AwaitingExternalConfirmation -> Confirmed | Failed.
type SettlementState string

const (
	StateInitiated            SettlementState = "Initiated"
	StateAwaitingConfirmation SettlementState = "AwaitingExternalConfirmation"
	StateConfirmed            SettlementState = "Confirmed"
	StateFailed               SettlementState = "Failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SettlementState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// PendingSettlement is the mutual-exclusion unit spanning a deposit or
// withdrawal's local and external legs. At most one open settlement exists
// per (account, asset) pair.
type PendingSettlement struct {
	Id          uint64              `json:"id"`
	Account     string              `json:"account"`
	Asset       AssetClass          `json:"asset"`
	Amount      decimal.Decimal     `json:"amount"`
	ShareAmount decimal.Decimal     `json:"share_amount"`
	Direction   SettlementDirection `json:"direction"`
	State       SettlementState     `json:"state"`
	CreatedAt   time.Time           `json:"created_at"`
}

// EventKind classifies settlement outcomes recorded in the event log.
type EventKind string

const (
	EventDeposited EventKind = "Deposited"
	EventWithdrawn EventKind = "Withdrawn"
	EventFailed    EventKind = "Failed"
)

// SettlementEvent is the record appended to the event log for every resolved
// settlement. Amounts marshal as strings, so the JSON form is safe for
// uint128-scale values consumed by external indexers.
type SettlementEvent struct {
	Kind       EventKind       `json:"kind"`
	Account    string          `json:"account"`
	Asset      AssetClass      `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	ShareDelta decimal.Decimal `json:"share_delta"`
	Timestamp  uint64          `json:"timestamp"`
}

// VaultConfig is the owner-mutable vault policy root.
type VaultConfig struct {
	Owner  string `json:"owner"`
	Paused bool   `json:"paused"`
	FeeBps uint16 `json:"fee_bps"`
}

// VaultConfigUpdate carries optional field updates for UpdateConfig.
// Nil fields are left unchanged.
type VaultConfigUpdate struct {
	Owner  *string
	Paused *bool
	FeeBps *uint16
}

// AssetPolicy binds an asset class to its custody adapter and deposit limits.
type AssetPolicy struct {
	Asset      AssetClass
	Adapter    string
	MinDeposit decimal.Decimal
	MaxDeposit decimal.Decimal
	Capacity   decimal.Decimal
}
