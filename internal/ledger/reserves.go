package ledger

import (
	"sync"

	"github.com/shopspring/decimal"

	"vault-core-go/internal/models"
)

// ReserveTracker mirrors the amount of each asset believed held in external
// custody. Credit and Debit are its only mutators and both are driven by
// confirmed settlements (or the speculative withdraw leg and its
// compensation).
type ReserveTracker struct {
	mu       sync.RWMutex
	reserves map[models.AssetClass]decimal.Decimal
}

func NewReserveTracker() *ReserveTracker {
	return &ReserveTracker{
		reserves: make(map[models.AssetClass]decimal.Decimal),
	}
}

// Credit increases the asset reserve. Fails with ErrOverflow past the
// uint128 domain.
func (r *ReserveTracker) Credit(asset models.AssetClass, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newReserve := r.reserves[asset].Add(amount)
	if newReserve.GreaterThan(maxAmount) {
		return ErrOverflow
	}
	r.reserves[asset] = newReserve
	return nil
}

// Debit decreases the asset reserve. Fails with ErrInsufficientReserve if the
// reserve would go negative; the reserve is untouched on failure.
func (r *ReserveTracker) Debit(asset models.AssetClass, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reserve := r.reserves[asset]
	if reserve.LessThan(amount) {
		return ErrInsufficientReserve
	}
	r.reserves[asset] = reserve.Sub(amount)
	return nil
}

// CanCredit reports whether Credit would stay inside the numeric domain.
func (r *ReserveTracker) CanCredit(asset models.AssetClass, amount decimal.Decimal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.reserves[asset].Add(amount).GreaterThan(maxAmount)
}

// Balance returns the tracked reserve for one asset.
func (r *ReserveTracker) Balance(asset models.AssetClass) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reserves[asset]
}
