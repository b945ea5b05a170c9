// Package plugin provides an extensible plugin system for the fee ledger.
// Plugins hook into lifecycle events; they observe and never alter the
// outcome of an engine operation.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Structure and schedule hooks
// ──────────────────────────────────────────────────

// OnStructureCompiled is called when a fee structure is frozen for a student.
type OnStructureCompiled interface {
	Plugin
	OnStructureCompiled(ctx context.Context, fs *structure.FeeStructure) error
}

// OnScheduleGenerated is called when a schedule is generated or regenerated.
type OnScheduleGenerated interface {
	Plugin
	OnScheduleGenerated(ctx context.Context, s *schedule.Schedule) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended is called once for every entry appended to a ledger.
type OnEntryAppended interface {
	Plugin
	OnEntryAppended(ctx context.Context, e *entry.Entry) error
}

// OnDuplicateEvent is called when an append is skipped because its
// idempotency key was already recorded.
type OnDuplicateEvent interface {
	Plugin
	OnDuplicateEvent(ctx context.Context, key string, existing id.EntryID) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentInitiated is called after a gateway accepted an attempt.
type OnPaymentInitiated interface {
	Plugin
	OnPaymentInitiated(ctx context.Context, a *payment.Attempt) error
}

// OnPaymentReconciled is called when a payment produced ledger entries.
type OnPaymentReconciled interface {
	Plugin
	OnPaymentReconciled(ctx context.Context, a *payment.Attempt, entries []*entry.Entry) error
}

// OnPaymentFailed is called when an attempt is marked FAILED.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, a *payment.Attempt, reason string) error
}

// OnReconciliationMismatch is called when a callback is routed to review.
type OnReconciliationMismatch interface {
	Plugin
	OnReconciliationMismatch(ctx context.Context, item *payment.ReviewItem) error
}

// OnReviewResolved is called when an operator resolves a review item.
type OnReviewResolved interface {
	Plugin
	OnReviewResolved(ctx context.Context, item *payment.ReviewItem) error
}

// OnSweepCompleted is called after each reconciliation sweep.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, checked, settled int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Reporting hooks
// ──────────────────────────────────────────────────

// OnDefaultersRefreshed is called after the defaulter snapshot is rewritten.
type OnDefaultersRefreshed interface {
	Plugin
	OnDefaultersRefreshed(ctx context.Context, rows int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Admin actions
// ──────────────────────────────────────────────────

// AdminAction describes an operator action with the acting identity.
type AdminAction struct {
	Action       string
	ActorID      string
	StudentFeeID id.StudentFeeID
	ResourceID   string
	Reason       string
	Amount       int64
	Currency     string
	Err          error
	Metadata     map[string]string
}

// OnAdminAction is called for every admin action, successful or not.
type OnAdminAction interface {
	Plugin
	OnAdminAction(ctx context.Context, action *AdminAction) error
}
