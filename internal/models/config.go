package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Vault    VaultRuntimeConfig
	Custody  CustodyConfig
	Daemon   DaemonConfig
}

// DatabaseConfig holds settlement journal connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// VaultRuntimeConfig holds vault bootstrap settings
type VaultRuntimeConfig struct {
	Owner             string
	FeeBps            uint16
	PolicyFile        string
	EventLogCapacity  int
	ForceResolveAfter time.Duration
}

// CustodyConfig holds simulated custody adapter settings
type CustodyConfig struct {
	ConfirmLatency time.Duration
	FailureRate    float64
}

// DaemonConfig holds vaultd reconciliation loop settings
type DaemonConfig struct {
	ReconcileInterval time.Duration
	SweepStale        bool
}
