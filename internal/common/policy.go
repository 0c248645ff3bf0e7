package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"vault-core-go/internal/models"
)

type policyEntry struct {
	Symbol     string `yaml:"symbol"`
	Adapter    string `yaml:"adapter"`
	MinDeposit string `yaml:"min_deposit"`
	MaxDeposit string `yaml:"max_deposit"`
	Capacity   string `yaml:"capacity"`
}

type policyFile struct {
	Assets []policyEntry `yaml:"assets"`
}

// LoadVaultPolicies reads the per-asset policy file: each entry binds a
// member of the closed asset enumeration to its custody adapter and deposit
// limits. Zero or omitted limits disable the corresponding check.
func LoadVaultPolicies(policyPath string) ([]models.AssetPolicy, error) {
	var path string
	if filepath.IsAbs(policyPath) {
		path = policyPath
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, policyPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", policyPath, err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", policyPath, err)
	}
	if len(file.Assets) == 0 {
		return nil, fmt.Errorf("%s defines no assets", policyPath)
	}

	policies := make([]models.AssetPolicy, 0, len(file.Assets))
	seen := make(map[models.AssetClass]bool)
	for i, entry := range file.Assets {
		asset, err := models.ParseAssetClass(entry.Symbol)
		if err != nil {
			return nil, fmt.Errorf("asset at index %d: %w", i, err)
		}
		if seen[asset] {
			return nil, fmt.Errorf("asset %s bound twice", asset)
		}
		seen[asset] = true
		if entry.Adapter == "" {
			return nil, fmt.Errorf("asset %s missing adapter binding", asset)
		}

		policy := models.AssetPolicy{Asset: asset, Adapter: entry.Adapter}
		if policy.MinDeposit, err = parseLimit(entry.MinDeposit); err != nil {
			return nil, fmt.Errorf("asset %s min_deposit: %w", asset, err)
		}
		if policy.MaxDeposit, err = parseLimit(entry.MaxDeposit); err != nil {
			return nil, fmt.Errorf("asset %s max_deposit: %w", asset, err)
		}
		if policy.Capacity, err = parseLimit(entry.Capacity); err != nil {
			return nil, fmt.Errorf("asset %s capacity: %w", asset, err)
		}

		policies = append(policies, policy)
	}

	return policies, nil
}

func parseLimit(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	limit, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if limit.IsNegative() || !limit.IsInteger() {
		return decimal.Zero, fmt.Errorf("amount %q must be a non-negative integer", raw)
	}
	return limit, nil
}
