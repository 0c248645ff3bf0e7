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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"vault-core-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	forceResolveAfter, err := getEnvDuration("FORCE_RESOLVE_AFTER", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	confirmLatency, err := getEnvDuration("CUSTODY_CONFIRM_LATENCY", 2*time.Second)
	if err != nil {
		return nil, err
	}

	reconcileInterval, err := getEnvDuration("RECONCILE_INTERVAL", 1*time.Minute)
	if err != nil {
		return nil, err
	}

	failureRate, err := getEnvFloat("CUSTODY_FAILURE_RATE", 0.0)
	if err != nil {
		return nil, err
	}
	if failureRate < 0 || failureRate > 1 {
		return nil, fmt.Errorf("CUSTODY_FAILURE_RATE must be within [0,1], got %v", failureRate)
	}

	feeBps := getEnvInt("VAULT_FEE_BPS", 0)
	if feeBps < 0 || feeBps >= 10_000 {
		return nil, fmt.Errorf("VAULT_FEE_BPS must be within [0,10000), got %d", feeBps)
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "settlements.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Vault: models.VaultRuntimeConfig{
			Owner:             getEnvString("VAULT_OWNER", "vault-admin"),
			FeeBps:            uint16(feeBps),
			PolicyFile:        getEnvString("POLICY_FILE", "vault-assets.yaml"),
			EventLogCapacity:  getEnvInt("EVENT_LOG_CAPACITY", 1000),
			ForceResolveAfter: forceResolveAfter,
		},
		Custody: models.CustodyConfig{
			ConfirmLatency: confirmLatency,
			FailureRate:    failureRate,
		},
		Daemon: models.DaemonConfig{
			ReconcileInterval: reconcileInterval,
			SweepStale:        getEnvBool("SWEEP_STALE_SETTLEMENTS", false),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float for %s: %q (%w)", key, value, err)
		}
		return floatValue, nil
	}
	return defaultValue, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
