package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/store"
)

// Option configures the fee ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the fee ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store from db using the configured driver.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.Driver = driver
	}
}

// WithEngineOption passes a feeledger.Option through to the underlying engine.
func WithEngineOption(opt feeledger.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a fee ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, feeledger.WithPlugin(p))
	}
}

// WithGateway registers a payment gateway.
func WithGateway(g gateway.Gateway) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, feeledger.WithGateway(g))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSweepInterval sets how often the reconciliation sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithDefaulterRefreshInterval sets how often the defaulter snapshot is rebuilt.
func WithDefaulterRefreshInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.DefaulterRefreshInterval = d }
}
