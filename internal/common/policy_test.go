package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-core-go/internal/models"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault-assets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadVaultPolicies(t *testing.T) {
	path := writePolicyFile(t, `
assets:
  - symbol: USDC
    adapter: usdc.custody.near
    min_deposit: "1000000"
    max_deposit: "1000000000000"
    capacity: "100000000000000"
  - symbol: WNEAR
    adapter: wnear.custody.near
`)

	policies, err := LoadVaultPolicies(path)
	require.NoError(t, err)
	require.Len(t, policies, 2)

	usdc := policies[0]
	assert.Equal(t, models.AssetUSDC, usdc.Asset)
	assert.Equal(t, "usdc.custody.near", usdc.Adapter)
	assert.True(t, usdc.MinDeposit.Equal(decimal.RequireFromString("1000000")))
	assert.True(t, usdc.MaxDeposit.Equal(decimal.RequireFromString("1000000000000")))
	assert.True(t, usdc.Capacity.Equal(decimal.RequireFromString("100000000000000")))

	// Omitted limits disable the corresponding checks.
	wnear := policies[1]
	assert.Equal(t, models.AssetWNEAR, wnear.Asset)
	assert.True(t, wnear.MinDeposit.IsZero())
	assert.True(t, wnear.MaxDeposit.IsZero())
	assert.True(t, wnear.Capacity.IsZero())
}

func TestLoadVaultPoliciesRejectsUnknownSymbol(t *testing.T) {
	path := writePolicyFile(t, `
assets:
  - symbol: DOGE
    adapter: doge.custody.near
`)

	_, err := LoadVaultPolicies(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported asset class")
}

func TestLoadVaultPoliciesRejectsDuplicateAsset(t *testing.T) {
	path := writePolicyFile(t, `
assets:
  - symbol: USDC
    adapter: usdc.custody.near
  - symbol: USDC
    adapter: other.custody.near
`)

	_, err := LoadVaultPolicies(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bound twice")
}

func TestLoadVaultPoliciesRequiresAdapter(t *testing.T) {
	path := writePolicyFile(t, `
assets:
  - symbol: USDC
`)

	_, err := LoadVaultPolicies(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing adapter binding")
}

func TestLoadVaultPoliciesRejectsBadLimits(t *testing.T) {
	for _, bad := range []string{`"-5"`, `"1.5"`, `"abc"`} {
		path := writePolicyFile(t, `
assets:
  - symbol: USDC
    adapter: usdc.custody.near
    min_deposit: `+bad+`
`)
		_, err := LoadVaultPolicies(path)
		assert.Error(t, err, "min_deposit %s", bad)
	}
}

func TestLoadVaultPoliciesRejectsEmptyFile(t *testing.T) {
	path := writePolicyFile(t, "assets: []\n")

	_, err := LoadVaultPolicies(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defines no assets")
}

func TestLoadVaultPoliciesMissingFile(t *testing.T) {
	_, err := LoadVaultPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
