package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"vault-core-go/internal/models"
)

// Sentinel errors shared across all journal implementations.
var (
	ErrDuplicateSettlement = errors.New("duplicate settlement record")
	ErrSettlementNotFound  = errors.New("no settlement record found")
)

// RecordSettlementParams captures one resolved settlement for the durable
// audit trail. SettlementId plus Outcome identify a record; recording the
// same pair twice returns ErrDuplicateSettlement.
type RecordSettlementParams struct {
	SettlementId uint64
	Account      string
	Asset        models.AssetClass
	Direction    models.SettlementDirection
	Outcome      models.EventKind
	Amount       decimal.Decimal
	ShareDelta   decimal.Decimal
	CreatedAt    time.Time
	ResolvedAt   time.Time
}

// JournalEntry is a settlement row read back from the journal.
type JournalEntry struct {
	Id           string
	SettlementId uint64
	Account      string
	Asset        models.AssetClass
	Direction    models.SettlementDirection
	Outcome      models.EventKind
	Amount       decimal.Decimal
	ShareDelta   decimal.Decimal
	CreatedAt    time.Time
	ResolvedAt   time.Time
}

// SettlementJournal defines the contract every durable journal backend must
// satisfy. The core is storage-engine agnostic; SQLite is the shipped backend.
type SettlementJournal interface {
	RecordSettlement(ctx context.Context, params RecordSettlementParams) error
	SettlementHistory(ctx context.Context, account string, asset string, limit, offset int) ([]JournalEntry, error)
	NetPosition(ctx context.Context, account string, asset models.AssetClass) (decimal.Decimal, error)
	Close() error
}
