package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "settlements.db", cfg.Database.Path)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 5*time.Second, cfg.Database.PingTimeout)

	assert.Equal(t, "vault-admin", cfg.Vault.Owner)
	assert.Equal(t, uint16(0), cfg.Vault.FeeBps)
	assert.Equal(t, "vault-assets.yaml", cfg.Vault.PolicyFile)
	assert.Equal(t, 1000, cfg.Vault.EventLogCapacity)
	assert.Equal(t, 30*time.Minute, cfg.Vault.ForceResolveAfter)

	assert.Equal(t, 2*time.Second, cfg.Custody.ConfirmLatency)
	assert.Equal(t, 0.0, cfg.Custody.FailureRate)

	assert.Equal(t, time.Minute, cfg.Daemon.ReconcileInterval)
	assert.False(t, cfg.Daemon.SweepStale)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/vault-test.db")
	t.Setenv("VAULT_OWNER", "ops.near")
	t.Setenv("VAULT_FEE_BPS", "250")
	t.Setenv("FORCE_RESOLVE_AFTER", "2h")
	t.Setenv("CUSTODY_FAILURE_RATE", "0.25")
	t.Setenv("SWEEP_STALE_SETTLEMENTS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vault-test.db", cfg.Database.Path)
	assert.Equal(t, "ops.near", cfg.Vault.Owner)
	assert.Equal(t, uint16(250), cfg.Vault.FeeBps)
	assert.Equal(t, 2*time.Hour, cfg.Vault.ForceResolveAfter)
	assert.Equal(t, 0.25, cfg.Custody.FailureRate)
	assert.True(t, cfg.Daemon.SweepStale)
}

func TestLoadRejectsInvalidFailureRate(t *testing.T) {
	t.Setenv("CUSTODY_FAILURE_RATE", "1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidFee(t *testing.T) {
	t.Setenv("VAULT_FEE_BPS", "10000")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("FORCE_RESOLVE_AFTER", "soon")

	_, err := Load()
	assert.Error(t, err)
}
