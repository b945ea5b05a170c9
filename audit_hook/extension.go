// Package audithook bridges fee ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/structure"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnAdminAction            = (*Extension)(nil)
	_ plugin.OnStructureCompiled      = (*Extension)(nil)
	_ plugin.OnDuplicateEvent         = (*Extension)(nil)
	_ plugin.OnPaymentInitiated       = (*Extension)(nil)
	_ plugin.OnPaymentReconciled      = (*Extension)(nil)
	_ plugin.OnPaymentFailed          = (*Extension)(nil)
	_ plugin.OnReconciliationMismatch = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges fee ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Admin actions
// ──────────────────────────────────────────────────

// OnAdminAction implements plugin.OnAdminAction. Every operator action is
// recorded with its actor, including the ones that were rejected.
func (e *Extension) OnAdminAction(ctx context.Context, a *plugin.AdminAction) error {
	resource, ok := adminResources[a.Action]
	if !ok {
		resource = ResourceStudentFee
	}

	severity, outcome := SeverityInfo, OutcomeSuccess
	if a.Err != nil {
		severity, outcome = SeverityWarning, OutcomeFailure
	}

	kv := []any{"student_fee_id", a.StudentFeeID.String()}
	if a.Amount != 0 {
		kv = append(kv, "amount", a.Amount, "currency", a.Currency)
	}
	if a.Reason != "" {
		kv = append(kv, "admin_reason", a.Reason)
	}
	for k, v := range a.Metadata {
		kv = append(kv, k, v)
	}

	return e.record(ctx, a.Action, severity, outcome,
		resource, a.ResourceID, a.ActorID, CategoryAdmin, a.Err,
		kv...,
	)
}

// ──────────────────────────────────────────────────
// Structure and ledger hooks
// ──────────────────────────────────────────────────

// OnStructureCompiled implements plugin.OnStructureCompiled.
func (e *Extension) OnStructureCompiled(ctx context.Context, fs *structure.FeeStructure) error {
	return e.record(ctx, ActionStructureCompiled, SeverityInfo, OutcomeSuccess,
		ResourceStudentFee, fs.ID.String(), fs.CreatedBy, CategoryFees, nil,
		"student_id", fs.StudentID,
		"catalog_id", fs.CatalogID.String(),
		"catalog_version", fs.CatalogVersion,
		"base_amount", fs.BaseAmount,
	)
}

// OnDuplicateEvent implements plugin.OnDuplicateEvent.
func (e *Extension) OnDuplicateEvent(ctx context.Context, key string, existing id.EntryID) error {
	return e.record(ctx, ActionDuplicateEvent, SeverityInfo, OutcomeSuccess,
		ResourceEntry, existing.String(), "", CategoryLedger, nil,
		"idempotency_key", key,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentInitiated implements plugin.OnPaymentInitiated.
func (e *Extension) OnPaymentInitiated(ctx context.Context, a *payment.Attempt) error {
	return e.record(ctx, ActionPaymentInitiated, SeverityInfo, OutcomeSuccess,
		ResourceAttempt, a.ID.String(), a.InitiatedBy, CategoryPayment, nil,
		"student_fee_id", a.StudentFeeID.String(),
		"gateway", a.Gateway,
		"amount", a.Amount,
	)
}

// OnPaymentReconciled implements plugin.OnPaymentReconciled.
func (e *Extension) OnPaymentReconciled(ctx context.Context, a *payment.Attempt, entries []*entry.Entry) error {
	return e.record(ctx, ActionPaymentReconciled, SeverityInfo, OutcomeSuccess,
		ResourceAttempt, a.ID.String(), "", CategoryPayment, nil,
		"student_fee_id", a.StudentFeeID.String(),
		"gateway_txn_id", a.GatewayTxnID,
		"amount", a.Amount,
		"entries", len(entries),
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, a *payment.Attempt, reason string) error {
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourceAttempt, a.ID.String(), "", CategoryPayment, nil,
		"student_fee_id", a.StudentFeeID.String(),
		"gateway", a.Gateway,
		"failure_reason", reason,
	)
}

// OnReconciliationMismatch implements plugin.OnReconciliationMismatch.
func (e *Extension) OnReconciliationMismatch(ctx context.Context, item *payment.ReviewItem) error {
	return e.record(ctx, ActionReconciliationMismatch, SeverityCritical, OutcomeFailure,
		ResourceReview, item.ID.String(), "", CategoryReconciliation, nil,
		"kind", string(item.Kind),
		"attempt_id", item.AttemptID.String(),
		"gateway_txn_id", item.GatewayTxnID,
		"expected_amount", item.ExpectedAmount,
		"received_amount", item.ReceivedAmount,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, actorID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		ActorID:    actorID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
