package custody

import (
	"context"

	"github.com/shopspring/decimal"

	"vault-core-go/internal/models"
)

// TransferInstruction is the external-transfer order produced when a
// settlement is opened. It carries everything the custody side needs; the
// coordinator must not share any other state across the async boundary.
type TransferInstruction struct {
	SettlementId uint64
	Direction    models.SettlementDirection
	Asset        models.AssetClass
	Adapter      string
	Amount       decimal.Decimal
}

// ResolveFunc delivers a custody outcome back into the settlement layer.
// Implementations guarantee at-least-once delivery per instruction; the
// coordinator's terminal-state guard deduplicates repeats.
type ResolveFunc func(ctx context.Context, settlementId uint64, direction models.SettlementDirection, success bool)

// Adapter is the external custody system (token contract or yield strategy).
// InitiateTransfer must not block on the external leg; the matching outcome
// arrives later through the bound ResolveFunc.
type Adapter interface {
	InitiateTransfer(ctx context.Context, instruction TransferInstruction) error
}
