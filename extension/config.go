package extension

import (
	"time"

	"github.com/xraph/feeledger/gateway/midtrans"
)

// Store driver names accepted in Config.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the fee ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.feeledger" or "feeledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Driver selects the store built around the grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo". Without a grove.DB the
	// in-memory store is used.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// SweepInterval is how often stale payment attempts are re-queried
	// with their gateway (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// SweepBatch is the number of attempts one sweep examines (default: 100).
	SweepBatch int `json:"sweep_batch" mapstructure:"sweep_batch" yaml:"sweep_batch"`

	// SweepRate caps gateway re-queries per second (default: 10).
	SweepRate float64 `json:"sweep_rate" mapstructure:"sweep_rate" yaml:"sweep_rate"`

	// AttemptExpiry is how long an attempt unknown to its gateway stays
	// open before it is failed (default: 24h).
	AttemptExpiry time.Duration `json:"attempt_expiry" mapstructure:"attempt_expiry" yaml:"attempt_expiry"`

	// DefaulterRefreshInterval controls how often the defaulter snapshot
	// is rebuilt (default: 15m).
	DefaulterRefreshInterval time.Duration `json:"defaulter_refresh_interval" mapstructure:"defaulter_refresh_interval" yaml:"defaulter_refresh_interval"`

	// GatewayTimeout bounds each gateway call (default: 10s).
	GatewayTimeout time.Duration `json:"gateway_timeout" mapstructure:"gateway_timeout" yaml:"gateway_timeout"`

	// SummaryCacheSize is the number of student summaries kept in memory
	// (default: 1024).
	SummaryCacheSize int `json:"summary_cache_size" mapstructure:"summary_cache_size" yaml:"summary_cache_size"`

	// Midtrans enables the Midtrans gateway when set.
	Midtrans *midtrans.Config `json:"midtrans,omitempty" mapstructure:"midtrans" yaml:"midtrans,omitempty"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:                   DriverMemory,
		SweepInterval:            time.Minute,
		SweepBatch:               100,
		SweepRate:                10,
		AttemptExpiry:            24 * time.Hour,
		DefaulterRefreshInterval: 15 * time.Minute,
		GatewayTimeout:           10 * time.Second,
		SummaryCacheSize:         1024,
	}
}
