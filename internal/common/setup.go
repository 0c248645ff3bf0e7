package common

import (
	"context"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"vault-core-go/internal/custody"
	"vault-core-go/internal/database"
	"vault-core-go/internal/eventlog"
	"vault-core-go/internal/ledger"
	"vault-core-go/internal/models"
	"vault-core-go/internal/settlement"
	"vault-core-go/internal/vault"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles everything a vault binary needs.
type Services struct {
	Journal     *database.Journal
	Shares      *ledger.ShareLedger
	Reserves    *ledger.ReserveTracker
	Events      *eventlog.Log
	Coordinator *settlement.Coordinator
	Adapter     *custody.SimAdapter
	Vault       *vault.Service
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices builds the full vault composition: settlement journal,
// ledgers, event log, coordinator, simulated custody adapter, and the vault
// service, with custody confirmations bound back into the resolve callbacks.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	journal, err := database.NewJournal(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading vault asset policies", zap.String("file", cfg.Vault.PolicyFile))
	policies, err := LoadVaultPolicies(cfg.Vault.PolicyFile)
	if err != nil {
		closeJournal(journal)
		return nil, err
	}

	shares := ledger.NewShareLedger()
	reserves := ledger.NewReserveTracker()
	events := eventlog.New(cfg.Vault.EventLogCapacity)

	coordinator := settlement.NewCoordinator(shares, reserves, events,
		settlement.WithJournal(journal),
		settlement.WithForceResolveThreshold(cfg.Vault.ForceResolveAfter))

	adapter := custody.NewSimAdapter(cfg.Custody)

	vaultService := vault.NewService(vault.Deps{
		Config: models.VaultConfig{
			Owner:  cfg.Vault.Owner,
			FeeBps: cfg.Vault.FeeBps,
		},
		Policies:    policies,
		Coordinator: coordinator,
		Adapter:     adapter,
		Shares:      shares,
		Reserves:    reserves,
		Events:      events,
	})

	adapter.Bind(func(ctx context.Context, settlementId uint64, direction models.SettlementDirection, success bool) {
		var err error
		if direction == models.DirectionDeposit {
			err = vaultService.ResolveDepositCallback(ctx, settlementId, success)
		} else {
			err = vaultService.ResolveWithdrawCallback(ctx, settlementId, success)
		}
		if err != nil {
			zap.L().Error("Custody confirmation rejected",
				zap.Uint64("settlement_id", settlementId),
				zap.String("direction", string(direction)),
				zap.Bool("success", success),
				zap.Error(err))
		}
	})

	zap.L().Info("Vault services initialized",
		zap.String("owner", cfg.Vault.Owner),
		zap.Uint16("fee_bps", cfg.Vault.FeeBps),
		zap.Int("assets", len(policies)))

	return &Services{
		Journal:     journal,
		Shares:      shares,
		Reserves:    reserves,
		Events:      events,
		Coordinator: coordinator,
		Adapter:     adapter,
		Vault:       vaultService,
	}, nil
}

// InitializeJournalOnly opens just the settlement journal, for read-only
// reporting tools.
func InitializeJournalOnly(ctx context.Context, cfg *models.Config) (*database.Journal, error) {
	return database.NewJournal(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.Adapter != nil {
		cs.Adapter.Close()
	}
	if cs.Journal != nil {
		closeJournal(cs.Journal)
	}
}

func closeJournal(journal *database.Journal) {
	if err := journal.Close(); err != nil {
		zap.L().Warn("Failed to close settlement journal", zap.Error(err))
	}
}

// isIgnorableSyncError filters the EINVAL zap emits when stderr is not
// syncable (tty/pipe).
func isIgnorableSyncError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl for device") ||
		strings.Contains(msg, "bad file descriptor")
}
