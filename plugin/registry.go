package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
)

// hookTimeout bounds every plugin call.
const hookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                   []OnInit
	onShutdown               []OnShutdown
	onStructureCompiled      []OnStructureCompiled
	onScheduleGenerated      []OnScheduleGenerated
	onEntryAppended          []OnEntryAppended
	onDuplicateEvent         []OnDuplicateEvent
	onPaymentInitiated       []OnPaymentInitiated
	onPaymentReconciled      []OnPaymentReconciled
	onPaymentFailed          []OnPaymentFailed
	onReconciliationMismatch []OnReconciliationMismatch
	onReviewResolved         []OnReviewResolved
	onSweepCompleted         []OnSweepCompleted
	onDefaultersRefreshed    []OnDefaultersRefreshed
	onAdminAction            []OnAdminAction
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnStructureCompiled); ok {
		r.onStructureCompiled = append(r.onStructureCompiled, v)
	}
	if v, ok := p.(OnScheduleGenerated); ok {
		r.onScheduleGenerated = append(r.onScheduleGenerated, v)
	}
	if v, ok := p.(OnEntryAppended); ok {
		r.onEntryAppended = append(r.onEntryAppended, v)
	}
	if v, ok := p.(OnDuplicateEvent); ok {
		r.onDuplicateEvent = append(r.onDuplicateEvent, v)
	}
	if v, ok := p.(OnPaymentInitiated); ok {
		r.onPaymentInitiated = append(r.onPaymentInitiated, v)
	}
	if v, ok := p.(OnPaymentReconciled); ok {
		r.onPaymentReconciled = append(r.onPaymentReconciled, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnReconciliationMismatch); ok {
		r.onReconciliationMismatch = append(r.onReconciliationMismatch, v)
	}
	if v, ok := p.(OnReviewResolved); ok {
		r.onReviewResolved = append(r.onReviewResolved, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}
	if v, ok := p.(OnDefaultersRefreshed); ok {
		r.onDefaultersRefreshed = append(r.onDefaultersRefreshed, v)
	}
	if v, ok := p.(OnAdminAction); ok {
		r.onAdminAction = append(r.onAdminAction, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnStructureCompiled", reflect.TypeOf((*OnStructureCompiled)(nil)).Elem()},
	{"OnScheduleGenerated", reflect.TypeOf((*OnScheduleGenerated)(nil)).Elem()},
	{"OnEntryAppended", reflect.TypeOf((*OnEntryAppended)(nil)).Elem()},
	{"OnDuplicateEvent", reflect.TypeOf((*OnDuplicateEvent)(nil)).Elem()},
	{"OnPaymentInitiated", reflect.TypeOf((*OnPaymentInitiated)(nil)).Elem()},
	{"OnPaymentReconciled", reflect.TypeOf((*OnPaymentReconciled)(nil)).Elem()},
	{"OnPaymentFailed", reflect.TypeOf((*OnPaymentFailed)(nil)).Elem()},
	{"OnReconciliationMismatch", reflect.TypeOf((*OnReconciliationMismatch)(nil)).Elem()},
	{"OnReviewResolved", reflect.TypeOf((*OnReviewResolved)(nil)).Elem()},
	{"OnSweepCompleted", reflect.TypeOf((*OnSweepCompleted)(nil)).Elem()},
	{"OnDefaultersRefreshed", reflect.TypeOf((*OnDefaultersRefreshed)(nil)).Elem()},
	{"OnAdminAction", reflect.TypeOf((*OnAdminAction)(nil)).Elem()},
}

func implementedInterfaces(p Plugin) []string {
	var out []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in the snapshot taken by list, logging
// failures. Hooks never fail the operation that triggered them.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list func() []T, fn func(T) error) {
	r.mu.RLock()
	plugins := list()
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	emit(ctx, r, "OnInit", func() []OnInit { return r.onInit }, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func() []OnShutdown { return r.onShutdown }, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitStructureCompiled emits a structure compiled event.
func (r *Registry) EmitStructureCompiled(ctx context.Context, fs *structure.FeeStructure) {
	emit(ctx, r, "OnStructureCompiled", func() []OnStructureCompiled { return r.onStructureCompiled }, func(p OnStructureCompiled) error {
		return p.OnStructureCompiled(ctx, fs)
	})
}

// EmitScheduleGenerated emits a schedule generated event.
func (r *Registry) EmitScheduleGenerated(ctx context.Context, s *schedule.Schedule) {
	emit(ctx, r, "OnScheduleGenerated", func() []OnScheduleGenerated { return r.onScheduleGenerated }, func(p OnScheduleGenerated) error {
		return p.OnScheduleGenerated(ctx, s)
	})
}

// EmitEntryAppended emits an entry appended event.
func (r *Registry) EmitEntryAppended(ctx context.Context, e *entry.Entry) {
	emit(ctx, r, "OnEntryAppended", func() []OnEntryAppended { return r.onEntryAppended }, func(p OnEntryAppended) error {
		return p.OnEntryAppended(ctx, e)
	})
}

// EmitDuplicateEvent emits a duplicate event.
func (r *Registry) EmitDuplicateEvent(ctx context.Context, key string, existing id.EntryID) {
	emit(ctx, r, "OnDuplicateEvent", func() []OnDuplicateEvent { return r.onDuplicateEvent }, func(p OnDuplicateEvent) error {
		return p.OnDuplicateEvent(ctx, key, existing)
	})
}

// EmitPaymentInitiated emits a payment initiated event.
func (r *Registry) EmitPaymentInitiated(ctx context.Context, a *payment.Attempt) {
	emit(ctx, r, "OnPaymentInitiated", func() []OnPaymentInitiated { return r.onPaymentInitiated }, func(p OnPaymentInitiated) error {
		return p.OnPaymentInitiated(ctx, a)
	})
}

// EmitPaymentReconciled emits a payment reconciled event.
func (r *Registry) EmitPaymentReconciled(ctx context.Context, a *payment.Attempt, entries []*entry.Entry) {
	emit(ctx, r, "OnPaymentReconciled", func() []OnPaymentReconciled { return r.onPaymentReconciled }, func(p OnPaymentReconciled) error {
		return p.OnPaymentReconciled(ctx, a, entries)
	})
}

// EmitPaymentFailed emits a payment failed event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, a *payment.Attempt, reason string) {
	emit(ctx, r, "OnPaymentFailed", func() []OnPaymentFailed { return r.onPaymentFailed }, func(p OnPaymentFailed) error {
		return p.OnPaymentFailed(ctx, a, reason)
	})
}

// EmitReconciliationMismatch emits a reconciliation mismatch event.
func (r *Registry) EmitReconciliationMismatch(ctx context.Context, item *payment.ReviewItem) {
	emit(ctx, r, "OnReconciliationMismatch", func() []OnReconciliationMismatch { return r.onReconciliationMismatch }, func(p OnReconciliationMismatch) error {
		return p.OnReconciliationMismatch(ctx, item)
	})
}

// EmitReviewResolved emits a review resolved event.
func (r *Registry) EmitReviewResolved(ctx context.Context, item *payment.ReviewItem) {
	emit(ctx, r, "OnReviewResolved", func() []OnReviewResolved { return r.onReviewResolved }, func(p OnReviewResolved) error {
		return p.OnReviewResolved(ctx, item)
	})
}

// EmitSweepCompleted emits a sweep completed event.
func (r *Registry) EmitSweepCompleted(ctx context.Context, checked, settled int, elapsed time.Duration) {
	emit(ctx, r, "OnSweepCompleted", func() []OnSweepCompleted { return r.onSweepCompleted }, func(p OnSweepCompleted) error {
		return p.OnSweepCompleted(ctx, checked, settled, elapsed)
	})
}

// EmitDefaultersRefreshed emits a defaulters refreshed event.
func (r *Registry) EmitDefaultersRefreshed(ctx context.Context, rows int, elapsed time.Duration) {
	emit(ctx, r, "OnDefaultersRefreshed", func() []OnDefaultersRefreshed { return r.onDefaultersRefreshed }, func(p OnDefaultersRefreshed) error {
		return p.OnDefaultersRefreshed(ctx, rows, elapsed)
	})
}

// EmitAdminAction emits an admin action event.
func (r *Registry) EmitAdminAction(ctx context.Context, action *AdminAction) {
	emit(ctx, r, "OnAdminAction", func() []OnAdminAction { return r.onAdminAction }, func(p OnAdminAction) error {
		return p.OnAdminAction(ctx, action)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the reconciliation pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(hookTimeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
