package feeledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/store"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/summary"
)

// Engine is the fee ledger and payment reconciliation engine.
type Engine struct {
	store      store.Store
	plugins    *plugin.Registry
	logger     *slog.Logger
	gateways   map[string]gateway.Gateway
	clock      func() time.Time
	authorizer Authorizer
	validate   *validator.Validate

	defaultPolicy structure.Policy
	summaries     *summary.Cache
	locks         *keyedMutex
	refresh       singleflight.Group
	sweepLimiter  *rate.Limiter

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Configuration
	sweepInterval     time.Duration
	sweepBatch        int
	sweepRate         float64
	sweepBurst        int
	sweepStaleAfter   time.Duration
	attemptExpiry     time.Duration
	defaulterInterval time.Duration
	defaulterWorkers  int
	conflictRetries   int
	gatewayTimeout    time.Duration
	gatewayRetries    int
	summaryCacheSize  int
	skipMigrate       bool
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		gateways:          make(map[string]gateway.Gateway),
		clock:             time.Now,
		authorizer:        CapabilityAuthorizer{},
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		defaultPolicy:     structure.DefaultPolicy(),
		locks:             newKeyedMutex(),
		stopChan:          make(chan struct{}),
		sweepInterval:     time.Minute,
		sweepBatch:        100,
		sweepRate:         10,
		sweepBurst:        5,
		sweepStaleAfter:   2 * time.Minute,
		attemptExpiry:     24 * time.Hour,
		defaulterInterval: 15 * time.Minute,
		defaulterWorkers:  8,
		conflictRetries:   5,
		gatewayTimeout:    10 * time.Second,
		gatewayRetries:    3,
		summaryCacheSize:  1024,
	}

	for _, opt := range opts {
		opt(e)
	}

	cache, err := summary.NewCache(e.summaryCacheSize)
	if err != nil {
		e.logger.Warn("summary cache disabled", "error", err)
		cache, _ = summary.NewCache(0) //nolint:errcheck // size zero never fails
	}
	e.summaries = cache
	e.sweepLimiter = rate.NewLimiter(rate.Limit(e.sweepRate), max(e.sweepBurst, 1))

	return e
}

// Start migrates the store, unless WithSkipMigrate was given, and begins
// background workers.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	if e.sweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepWorker(workerCtx)
	}
	if e.defaulterInterval > 0 {
		e.wg.Add(1)
		go e.defaulterWorker(workerCtx)
	}

	e.logger.Info("fee ledger started",
		"gateways", len(e.gateways),
		"sweep_interval", e.sweepInterval,
		"defaulter_interval", e.defaulterInterval,
		"summary_cache", e.summaryCacheSize,
	)

	return nil
}

// Stop shuts down background workers and closes the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		if e.cancel != nil {
			e.cancel()
		}
	})
	e.wg.Wait()

	e.plugins.EmitShutdown(context.Background())

	return e.store.Close()
}

// Health reports whether the store is reachable.
func (e *Engine) Health(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

func (e *Engine) now() time.Time { return e.clock().UTC() }

func (e *Engine) sweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx, SystemActor); err != nil {
				e.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

func (e *Engine) defaulterWorker(ctx context.Context) {
	defer e.wg.Done()

	if _, err := e.RefreshDefaulters(ctx, SystemActor); err != nil {
		e.logger.Error("defaulter refresh failed", "error", err)
	}

	ticker := time.NewTicker(e.defaulterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, err := e.RefreshDefaulters(ctx, SystemActor); err != nil {
				e.logger.Error("defaulter refresh failed", "error", err)
			}
		}
	}
}

// keyedMutex serializes work per key. Locks are reference counted and
// dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
