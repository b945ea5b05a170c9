package feeledger

import (
	"log/slog"
	"time"

	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/structure"
)

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithGateway registers a payment gateway under its Name.
func WithGateway(g gateway.Gateway) Option {
	return func(e *Engine) {
		e.gateways[g.Name()] = g
	}
}

// WithClock overrides the time source. Tests use it to pin "today".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithDefaultPolicy sets the policy captured into structures whose catalog
// carries none.
func WithDefaultPolicy(p structure.Policy) Option {
	return func(e *Engine) {
		e.defaultPolicy = p
	}
}

// WithAuthorizer replaces the capability check run before every operation.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) {
		e.authorizer = a
	}
}

// WithSweepInterval sets how often the reconciliation sweep runs. Zero
// disables the background sweep; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = d
	}
}

// WithSweepBatch sets how many attempts one sweep examines.
func WithSweepBatch(n int) Option {
	return func(e *Engine) {
		e.sweepBatch = n
	}
}

// WithSweepRate limits gateway re-queries to perSecond with the given burst.
func WithSweepRate(perSecond float64, burst int) Option {
	return func(e *Engine) {
		e.sweepRate = perSecond
		e.sweepBurst = burst
	}
}

// WithSweepStaleAfter sets how long an attempt must sit untouched before
// the sweep re-queries it.
func WithSweepStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.sweepStaleAfter = d
	}
}

// WithAttemptExpiry sets when an attempt the gateway has no record of is
// failed for good.
func WithAttemptExpiry(d time.Duration) Option {
	return func(e *Engine) {
		e.attemptExpiry = d
	}
}

// WithDefaulterRefreshInterval sets how often the defaulter snapshot is
// rebuilt. Zero disables the background refresh.
func WithDefaulterRefreshInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.defaulterInterval = d
	}
}

// WithDefaulterWorkers bounds the parallelism of the defaulter refresh.
func WithDefaulterWorkers(n int) Option {
	return func(e *Engine) {
		e.defaulterWorkers = n
	}
}

// WithConflictRetries bounds how often a ledger append retries after losing
// the per-student write race.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		e.conflictRetries = n
	}
}

// WithGatewayTimeout bounds each gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.gatewayTimeout = d
	}
}

// WithGatewayRetries bounds initiate retries on transient gateway errors.
func WithGatewayRetries(n int) Option {
	return func(e *Engine) {
		e.gatewayRetries = n
	}
}

// WithSummaryCacheSize sets the summary cache capacity. Zero disables it.
func WithSummaryCacheSize(n int) Option {
	return func(e *Engine) {
		e.summaryCacheSize = n
	}
}

// WithSkipMigrate makes Start leave the schema alone.
func WithSkipMigrate() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}
