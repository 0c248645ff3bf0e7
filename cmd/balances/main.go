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

package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"vault-core-go/internal/common"
	"vault-core-go/internal/config"
	"vault-core-go/internal/models"
	"vault-core-go/internal/store"
)

type reportStats struct {
	totalEntries int
	confirmed    int
	failed       int
}

func printEntry(entry store.JournalEntry, isLast bool) {
	symbol := common.BoxPrefix(isLast)

	fmt.Printf("%s #%-6d %-9s %-10s %-8s %20s (shares %s, resolved: %s)\n",
		symbol,
		entry.SettlementId,
		entry.Direction,
		entry.Outcome,
		entry.Asset,
		entry.Amount.String(),
		entry.ShareDelta.String(),
		entry.ResolvedAt.Format("2006-01-02 15:04:05"))
}

func printAccountHeader(account string, entryCount int) {
	fmt.Printf("\n┌─ Account: %s\n", account)
	fmt.Printf("│  Settlements: %d\n", entryCount)
	common.PrintBoxSeparator(78)
}

func printNetPositions(ctx context.Context, journal store.SettlementJournal, account string, logger *zap.Logger) {
	for _, asset := range models.SupportedAssets() {
		position, err := journal.NetPosition(ctx, account, asset)
		if err != nil {
			logger.Error("Failed to compute net position",
				zap.String("account", account),
				zap.String("asset", string(asset)),
				zap.Error(err))
			continue
		}
		if position.IsZero() {
			continue
		}
		fmt.Printf("│  net %-8s: %20s\n", asset, position.String())
	}
}

func generateReport(ctx context.Context, journal store.SettlementJournal, account, asset string, limit int, logger *zap.Logger) (reportStats, error) {
	stats := reportStats{}

	entries, err := journal.SettlementHistory(ctx, account, asset, limit, 0)
	if err != nil {
		return stats, fmt.Errorf("failed to query settlement history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo settlement records found.")
		return stats, nil
	}

	// Group rows per account, preserving first-seen order.
	groups := make(map[string][]store.JournalEntry)
	var order []string
	for _, entry := range entries {
		stats.totalEntries++
		switch entry.Outcome {
		case models.EventFailed:
			stats.failed++
		default:
			stats.confirmed++
		}

		if _, seen := groups[entry.Account]; !seen {
			order = append(order, entry.Account)
		}
		groups[entry.Account] = append(groups[entry.Account], entry)
	}

	for _, acc := range order {
		group := groups[acc]
		printAccountHeader(acc, len(group))
		for i, entry := range group {
			printEntry(entry, i == len(group)-1)
		}
		printNetPositions(ctx, journal, acc, logger)
	}

	return stats, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	accountFlag := flag.String("account", "", "Filter by a specific account (optional)")
	assetFlag := flag.String("asset", "", "Filter by a specific asset symbol (optional)")
	limitFlag := flag.Int("limit", 100, "Maximum number of settlement records to show")
	flag.Parse()

	asset := *assetFlag
	if asset != "" {
		if _, err := models.ParseAssetClass(asset); err != nil {
			logger.Fatal("Invalid asset filter", zap.String("asset", asset), zap.Error(err))
		}
	}

	logger.Info("Starting settlement report")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to journal", zap.String("path", cfg.Database.Path))
	journal, err := common.InitializeJournalOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize journal", zap.Error(err))
	}
	defer journal.Close()

	common.PrintHeader("SETTLEMENT JOURNAL REPORT", common.DefaultWidth)

	stats, err := generateReport(ctx, journal, *accountFlag, asset, *limitFlag, logger)
	if err != nil {
		logger.Fatal("Failed to generate report", zap.Error(err))
	}

	summary := fmt.Sprintf("SUMMARY: %d settlements (%d confirmed, %d failed)",
		stats.totalEntries, stats.confirmed, stats.failed)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Settlement report completed",
		zap.Int("entries", stats.totalEntries),
		zap.Int("confirmed", stats.confirmed),
		zap.Int("failed", stats.failed))
}
