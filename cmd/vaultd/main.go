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
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vault-core-go/internal/common"
	"vault-core-go/internal/config"
	"vault-core-go/internal/models"
)

func main() {
	policyFile := flag.String("policy", "", "Optional path to the asset policy file (overrides POLICY_FILE)")
	sweepStale := flag.Bool("sweep-stale", false, "Force-resolve settlements older than the inactivity threshold (overrides SWEEP_STALE_SETTLEMENTS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *policyFile != "" {
		cfg.Vault.PolicyFile = *policyFile
	}
	if *sweepStale {
		cfg.Daemon.SweepStale = true
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting vault daemon")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	zap.L().Info("Vault daemon running",
		zap.Duration("reconcile_interval", cfg.Daemon.ReconcileInterval),
		zap.Duration("force_resolve_after", cfg.Vault.ForceResolveAfter),
		zap.Bool("sweep_stale", cfg.Daemon.SweepStale))
	zap.L().Info("Press Ctrl+C to stop")

	done := make(chan struct{})
	go reconcileLoop(ctx, services, cfg, done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping vault daemon...")
	cancel()

	shutdownTimer := time.NewTimer(30 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-done:
		zap.L().Info("Vault daemon stopped gracefully")
	case <-shutdownTimer.C:
		zap.L().Warn("Forced shutdown after timeout")
	}
}

// reconcileLoop periodically reports per-asset reserve against share supply
// and handles settlements whose custody callback never arrived.
func reconcileLoop(ctx context.Context, services *common.Services, cfg *models.Config, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.Daemon.ReconcileInterval)
	defer ticker.Stop()

	reconcile(ctx, services, cfg)

	for {
		select {
		case <-ticker.C:
			reconcile(ctx, services, cfg)
		case <-ctx.Done():
			return
		}
	}
}

func reconcile(ctx context.Context, services *common.Services, cfg *models.Config) {
	for _, asset := range models.SupportedAssets() {
		reserve := services.Vault.GetReserve(asset)
		supply := services.Vault.GetTotalSupply(asset)
		if reserve.IsZero() && supply.IsZero() {
			continue
		}
		zap.L().Info("Reconciliation snapshot",
			zap.String("asset", string(asset)),
			zap.String("reserve", reserve.String()),
			zap.String("total_supply", supply.String()))
	}

	owner := services.Vault.Config().Owner
	for _, pending := range services.Vault.PendingSettlements() {
		age := time.Since(pending.CreatedAt)
		if age < cfg.Vault.ForceResolveAfter {
			continue
		}

		zap.L().Warn("Settlement exceeded inactivity threshold",
			zap.Uint64("settlement_id", pending.Id),
			zap.String("account", pending.Account),
			zap.String("asset", string(pending.Asset)),
			zap.Duration("age", age))

		if !cfg.Daemon.SweepStale {
			continue
		}
		if err := services.Vault.ForceResolve(ctx, owner, pending.Id); err != nil {
			zap.L().Error("Failed to force-resolve stale settlement",
				zap.Uint64("settlement_id", pending.Id),
				zap.Error(err))
		}
	}
}
