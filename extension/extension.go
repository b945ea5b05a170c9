// Package extension provides the Forge extension adapter for the fee ledger.
//
// It implements the forge.Extension interface to integrate the fee ledger
// engine into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.feeledger" or
// "feeledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/gateway/midtrans"
	"github.com/xraph/feeledger/store"
	"github.com/xraph/feeledger/store/memory"
	"github.com/xraph/feeledger/store/mongo"
	"github.com/xraph/feeledger/store/postgres"
	"github.com/xraph/feeledger/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "feeledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Student fee ledger and payment reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the fee ledger engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *feeledger.Engine
	store      store.Store
	groveDB    *grove.DB
	engineOpts []feeledger.Option
}

// New creates a new fee ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *feeledger.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := buildStore(e.config.Driver, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}

	e.engine = feeledger.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*feeledger.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("feeledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("feeledger: engine not initialized")
	}
	return e.engine.Health(ctx)
}

// buildStore picks the store backend for driver. A nil db always yields
// the in-memory store.
func buildStore(driver string, db *grove.DB) (store.Store, error) {
	if db == nil {
		if driver != "" && driver != DriverMemory {
			return nil, fmt.Errorf("feeledger: driver %q needs a grove database", driver)
		}
		return memory.New(), nil
	}

	switch driver {
	case DriverPostgres:
		return postgres.New(db), nil
	case DriverSQLite:
		return sqlite.New(db), nil
	case DriverMongo:
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("feeledger: unknown store driver %q", driver)
	}
}

// buildEngineOpts constructs feeledger.Option values from the resolved config.
func (e *Extension) buildEngineOpts() ([]feeledger.Option, error) {
	cfg := e.config
	opts := make([]feeledger.Option, 0, len(e.engineOpts)+10)

	opts = append(opts,
		feeledger.WithSweepInterval(cfg.SweepInterval),
		feeledger.WithSweepBatch(cfg.SweepBatch),
		feeledger.WithSweepRate(cfg.SweepRate, max(int(cfg.SweepRate)/2, 1)),
		feeledger.WithAttemptExpiry(cfg.AttemptExpiry),
		feeledger.WithDefaulterRefreshInterval(cfg.DefaulterRefreshInterval),
		feeledger.WithGatewayTimeout(cfg.GatewayTimeout),
		feeledger.WithSummaryCacheSize(cfg.SummaryCacheSize),
	)
	if cfg.DisableMigrate {
		opts = append(opts, feeledger.WithSkipMigrate())
	}

	if cfg.Midtrans != nil {
		gw, err := midtrans.New(*cfg.Midtrans)
		if err != nil {
			return nil, err
		}
		opts = append(opts, feeledger.WithGateway(gw))
	}

	// Pass-through engine options win over config-derived ones.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("feeledger: configuration is required but not found in config files; " +
				"ensure 'extensions.feeledger' or 'feeledger' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("feeledger: configuration loaded",
		forge.F("driver", e.config.Driver),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("defaulter_refresh_interval", e.config.DefaulterRefreshInterval),
		forge.F("midtrans", e.config.Midtrans != nil),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.feeledger", "feeledger"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("feeledger: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("feeledger: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.SweepBatch == 0 {
		cfg.SweepBatch = defaults.SweepBatch
	}
	if cfg.SweepRate == 0 {
		cfg.SweepRate = defaults.SweepRate
	}
	if cfg.AttemptExpiry == 0 {
		cfg.AttemptExpiry = defaults.AttemptExpiry
	}
	if cfg.DefaulterRefreshInterval == 0 {
		cfg.DefaulterRefreshInterval = defaults.DefaulterRefreshInterval
	}
	if cfg.GatewayTimeout == 0 {
		cfg.GatewayTimeout = defaults.GatewayTimeout
	}
	if cfg.SummaryCacheSize == 0 {
		cfg.SummaryCacheSize = defaults.SummaryCacheSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.SweepBatch == 0 {
		yamlConfig.SweepBatch = programmaticConfig.SweepBatch
	}
	if yamlConfig.SweepRate == 0 {
		yamlConfig.SweepRate = programmaticConfig.SweepRate
	}
	if yamlConfig.AttemptExpiry == 0 {
		yamlConfig.AttemptExpiry = programmaticConfig.AttemptExpiry
	}
	if yamlConfig.DefaulterRefreshInterval == 0 {
		yamlConfig.DefaulterRefreshInterval = programmaticConfig.DefaulterRefreshInterval
	}
	if yamlConfig.GatewayTimeout == 0 {
		yamlConfig.GatewayTimeout = programmaticConfig.GatewayTimeout
	}
	if yamlConfig.SummaryCacheSize == 0 {
		yamlConfig.SummaryCacheSize = programmaticConfig.SummaryCacheSize
	}
	if yamlConfig.Midtrans == nil {
		yamlConfig.Midtrans = programmaticConfig.Midtrans
	}

	return mergeWithDefaults(yamlConfig)
}
