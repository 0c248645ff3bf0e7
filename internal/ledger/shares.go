package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"vault-core-go/internal/models"
)

// Sentinel errors for ledger operations
var (
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInsufficientReserve = errors.New("insufficient reserve")
	ErrOverflow            = errors.New("amount exceeds numeric domain")
)

// maxAmount bounds every counter to the uint128 domain used by the
// on-chain share representation (2^128 - 1).
var maxAmount = decimal.RequireFromString("340282366920938463463374607431768211455")

// ShareLedger tracks per-account, per-asset share balances and per-asset
// total supply. It never touches reserves or the event log; the settlement
// coordinator is its only mutator.
type ShareLedger struct {
	mu       sync.RWMutex
	balances map[shareKey]decimal.Decimal
	supply   map[models.AssetClass]decimal.Decimal
}

type shareKey struct {
	account string
	asset   models.AssetClass
}

func NewShareLedger() *ShareLedger {
	return &ShareLedger{
		balances: make(map[shareKey]decimal.Decimal),
		supply:   make(map[models.AssetClass]decimal.Decimal),
	}
}

// Mint increases the account's balance and the asset's total supply by amount.
// Fails with ErrOverflow if either counter would leave the uint128 domain.
func (l *ShareLedger) Mint(account string, asset models.AssetClass, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := shareKey{account: account, asset: asset}
	newBalance := l.balances[key].Add(amount)
	newSupply := l.supply[asset].Add(amount)
	if newBalance.GreaterThan(maxAmount) || newSupply.GreaterThan(maxAmount) {
		return ErrOverflow
	}

	l.balances[key] = newBalance
	l.supply[asset] = newSupply
	return nil
}

// Burn decreases the account's balance and the asset's total supply by amount.
// Fails with ErrInsufficientShares if the account balance is too small; no
// counter is touched on failure.
func (l *ShareLedger) Burn(account string, asset models.AssetClass, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := shareKey{account: account, asset: asset}
	balance := l.balances[key]
	if balance.LessThan(amount) {
		return ErrInsufficientShares
	}

	l.balances[key] = balance.Sub(amount)
	l.supply[asset] = l.supply[asset].Sub(amount)
	return nil
}

// CanMint reports whether Mint would stay inside the numeric domain.
func (l *ShareLedger) CanMint(account string, asset models.AssetClass, amount decimal.Decimal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := shareKey{account: account, asset: asset}
	return !l.balances[key].Add(amount).GreaterThan(maxAmount) &&
		!l.supply[asset].Add(amount).GreaterThan(maxAmount)
}

// BalanceOf returns the account's share balance for one asset.
func (l *ShareLedger) BalanceOf(account string, asset models.AssetClass) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[shareKey{account: account, asset: asset}]
}

// TotalSupply returns the share supply for one asset. Supply is tracked
// per asset, matching independent per-asset reserves.
func (l *ShareLedger) TotalSupply(asset models.AssetClass) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[asset]
}

// TotalSharesOf sums the account's shares across every asset class.
func (l *ShareLedger) TotalSharesOf(account string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, asset := range models.SupportedAssets() {
		total = total.Add(l.balances[shareKey{account: account, asset: asset}])
	}
	return total
}
