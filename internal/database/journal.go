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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-core-go/internal/models"
	"vault-core-go/internal/store"
)

// Compile-time check: *Journal must satisfy store.SettlementJournal.
var _ store.SettlementJournal = (*Journal)(nil)

// Journal is the SQLite settlement journal: the durable audit trail of every
// resolved settlement, queryable by account and asset.
type Journal struct {
	db *sql.DB
}

func NewJournal(ctx context.Context, cfg models.DatabaseConfig) (*Journal, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite settlement journal", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	journal := &Journal{db: db}
	if err := journal.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Settlement journal initialized successfully")
	return journal, nil
}

// NewJournalWithDB wraps an existing connection. Used by tests with an
// in-memory database.
func NewJournalWithDB(db *sql.DB) (*Journal, error) {
	journal := &Journal{db: db}
	if err := journal.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return journal, nil
}

func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		zap.L().Warn("Failed to close journal connection", zap.Error(err))
		return err
	}
	return nil
}

func (j *Journal) initSchema() error {
	schema := `
	-- Resolved settlements (immutable audit trail)
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		settlement_id INTEGER NOT NULL,
		account TEXT NOT NULL,
		asset TEXT NOT NULL,
		direction TEXT NOT NULL,
		outcome TEXT NOT NULL,
		amount TEXT NOT NULL,
		share_delta TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP NOT NULL,
		UNIQUE(settlement_id, outcome)
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_account_asset ON settlements(account, asset);
	CREATE INDEX IF NOT EXISTS idx_settlements_resolved_at ON settlements(resolved_at);
	CREATE INDEX IF NOT EXISTS idx_settlements_outcome ON settlements(outcome);
	`

	_, err := j.db.Exec(schema)
	return err
}

// RecordSettlement appends one resolved settlement. Repeated records for the
// same settlement outcome return store.ErrDuplicateSettlement.
func (j *Journal) RecordSettlement(ctx context.Context, params store.RecordSettlementParams) error {
	var existingId string
	err := j.db.QueryRowContext(ctx, queryCheckDuplicateSettlement, params.SettlementId, string(params.Outcome)).Scan(&existingId)
	if err == nil {
		return fmt.Errorf("%w: settlement %d outcome %s", store.ErrDuplicateSettlement, params.SettlementId, params.Outcome)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for duplicate settlement: %w", err)
	}

	_, err = j.db.ExecContext(ctx, queryInsertSettlement,
		uuid.New().String(), params.SettlementId, params.Account, string(params.Asset),
		string(params.Direction), string(params.Outcome),
		params.Amount.String(), params.ShareDelta.String(),
		params.CreatedAt, params.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	zap.L().Debug("Settlement journaled",
		zap.Uint64("settlement_id", params.SettlementId),
		zap.String("account", params.Account),
		zap.String("asset", string(params.Asset)),
		zap.String("outcome", string(params.Outcome)))
	return nil
}

// SettlementHistory returns resolved settlements newest first, optionally
// filtered by account and asset (empty string matches all).
func (j *Journal) SettlementHistory(ctx context.Context, account string, asset string, limit, offset int) ([]store.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, querySettlementHistory, account, account, asset, asset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []store.JournalEntry
	for rows.Next() {
		var entry store.JournalEntry
		var assetStr, directionStr, outcomeStr, amountStr, shareDeltaStr string

		err := rows.Scan(&entry.Id, &entry.SettlementId, &entry.Account, &assetStr,
			&directionStr, &outcomeStr, &amountStr, &shareDeltaStr,
			&entry.CreatedAt, &entry.ResolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}

		entry.Asset = models.AssetClass(assetStr)
		entry.Direction = models.SettlementDirection(directionStr)
		entry.Outcome = models.EventKind(outcomeStr)

		entry.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		entry.ShareDelta, err = decimal.NewFromString(shareDeltaStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse share delta '%s': %w", shareDeltaStr, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlement rows: %w", err)
	}

	return entries, nil
}

// NetPosition sums confirmed settlements for an account and asset: deposits
// in, withdrawals out. Amounts are summed in Go; SQLite would coerce the
// uint128-scale strings to floats.
func (j *Journal) NetPosition(ctx context.Context, account string, asset models.AssetClass) (decimal.Decimal, error) {
	rows, err := j.db.QueryContext(ctx, queryNetPositionRows, account, string(asset))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	position := decimal.Zero
	for rows.Next() {
		var outcomeStr, directionStr, amountStr string
		if err := rows.Scan(&outcomeStr, &directionStr, &amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan settlement: %w", err)
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}

		switch models.EventKind(outcomeStr) {
		case models.EventDeposited:
			position = position.Add(amount)
		case models.EventWithdrawn:
			position = position.Sub(amount)
		case models.EventFailed:
			// Failed settlements never moved funds.
		}
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating settlement rows: %w", err)
	}

	return position, nil
}
