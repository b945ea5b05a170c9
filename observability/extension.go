// Package observability provides a metrics extension for the fee ledger that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnInit                   = (*MetricsExtension)(nil)
	_ plugin.OnStructureCompiled      = (*MetricsExtension)(nil)
	_ plugin.OnScheduleGenerated      = (*MetricsExtension)(nil)
	_ plugin.OnEntryAppended          = (*MetricsExtension)(nil)
	_ plugin.OnDuplicateEvent         = (*MetricsExtension)(nil)
	_ plugin.OnPaymentInitiated       = (*MetricsExtension)(nil)
	_ plugin.OnPaymentReconciled      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed          = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationMismatch = (*MetricsExtension)(nil)
	_ plugin.OnReviewResolved         = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted         = (*MetricsExtension)(nil)
	_ plugin.OnDefaultersRefreshed    = (*MetricsExtension)(nil)
	_ plugin.OnAdminAction            = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a fee ledger plugin to track fee and payment metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Structure metrics
	StructuresCompiled Counter
	SchedulesGenerated Counter

	// Ledger metrics
	EntriesCharge     Counter
	EntriesConcession Counter
	EntriesFine       Counter
	EntriesPayment    Counter
	EntriesCredit     Counter
	DuplicateEvents   Counter

	// Payment metrics
	PaymentsInitiated  Counter
	PaymentsReconciled Counter
	PaymentsFailed     Counter
	PaymentAmount      Histogram

	// Reconciliation metrics
	Mismatches      Counter
	ReviewsResolved Counter
	SweepChecked    Counter
	SweepSettled    Counter
	SweepLatency    Histogram

	// Reporting metrics
	DefaulterRows    Histogram
	DefaulterLatency Histogram

	// Admin metrics
	AdminActions Counter
	AdminDenied  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		StructuresCompiled: factory.Counter("feeledger.structure.compiled"),
		SchedulesGenerated: factory.Counter("feeledger.schedule.generated"),

		EntriesCharge:     factory.Counter("feeledger.entry.charge"),
		EntriesConcession: factory.Counter("feeledger.entry.concession"),
		EntriesFine:       factory.Counter("feeledger.entry.fine"),
		EntriesPayment:    factory.Counter("feeledger.entry.payment"),
		EntriesCredit:     factory.Counter("feeledger.entry.credit"),
		DuplicateEvents:   factory.Counter("feeledger.entry.duplicate"),

		PaymentsInitiated:  factory.Counter("feeledger.payment.initiated"),
		PaymentsReconciled: factory.Counter("feeledger.payment.reconciled"),
		PaymentsFailed:     factory.Counter("feeledger.payment.failed"),
		PaymentAmount:      factory.Histogram("feeledger.payment.amount_minor"),

		Mismatches:      factory.Counter("feeledger.reconcile.mismatch"),
		ReviewsResolved: factory.Counter("feeledger.review.resolved"),
		SweepChecked:    factory.Counter("feeledger.sweep.checked"),
		SweepSettled:    factory.Counter("feeledger.sweep.settled"),
		SweepLatency:    factory.Histogram("feeledger.sweep.latency_ms"),

		DefaulterRows:    factory.Histogram("feeledger.defaulters.rows"),
		DefaulterLatency: factory.Histogram("feeledger.defaulters.latency_ms"),

		AdminActions: factory.Counter("feeledger.admin.actions"),
		AdminDenied:  factory.Counter("feeledger.admin.denied"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Structure hooks
// ──────────────────────────────────────────────────

// OnStructureCompiled implements plugin.OnStructureCompiled.
func (m *MetricsExtension) OnStructureCompiled(_ context.Context, _ *structure.FeeStructure) error {
	m.StructuresCompiled.Inc()
	return nil
}

// OnScheduleGenerated implements plugin.OnScheduleGenerated.
func (m *MetricsExtension) OnScheduleGenerated(_ context.Context, _ *schedule.Schedule) error {
	m.SchedulesGenerated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended implements plugin.OnEntryAppended.
func (m *MetricsExtension) OnEntryAppended(_ context.Context, e *entry.Entry) error {
	switch e.Type {
	case entry.TypeCharge:
		m.EntriesCharge.Inc()
	case entry.TypeConcession:
		m.EntriesConcession.Inc()
	case entry.TypeFine:
		m.EntriesFine.Inc()
	case entry.TypePayment:
		m.EntriesPayment.Inc()
	case entry.TypeCredit:
		m.EntriesCredit.Inc()
	}
	return nil
}

// OnDuplicateEvent implements plugin.OnDuplicateEvent.
func (m *MetricsExtension) OnDuplicateEvent(_ context.Context, _ string, _ id.EntryID) error {
	m.DuplicateEvents.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentInitiated implements plugin.OnPaymentInitiated.
func (m *MetricsExtension) OnPaymentInitiated(_ context.Context, _ *payment.Attempt) error {
	m.PaymentsInitiated.Inc()
	return nil
}

// OnPaymentReconciled implements plugin.OnPaymentReconciled.
func (m *MetricsExtension) OnPaymentReconciled(_ context.Context, a *payment.Attempt, _ []*entry.Entry) error {
	m.PaymentsReconciled.Inc()
	m.PaymentAmount.Observe(float64(a.Amount))
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ *payment.Attempt, _ string) error {
	m.PaymentsFailed.Inc()
	return nil
}

// OnReconciliationMismatch implements plugin.OnReconciliationMismatch.
func (m *MetricsExtension) OnReconciliationMismatch(_ context.Context, _ *payment.ReviewItem) error {
	m.Mismatches.Inc()
	return nil
}

// OnReviewResolved implements plugin.OnReviewResolved.
func (m *MetricsExtension) OnReviewResolved(_ context.Context, _ *payment.ReviewItem) error {
	m.ReviewsResolved.Inc()
	return nil
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, checked, settled int, elapsed time.Duration) error {
	m.SweepChecked.Add(float64(checked))
	m.SweepSettled.Add(float64(settled))
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Reporting and admin hooks
// ──────────────────────────────────────────────────

// OnDefaultersRefreshed implements plugin.OnDefaultersRefreshed.
func (m *MetricsExtension) OnDefaultersRefreshed(_ context.Context, rows int, elapsed time.Duration) error {
	m.DefaulterRows.Observe(float64(rows))
	m.DefaulterLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnAdminAction implements plugin.OnAdminAction.
func (m *MetricsExtension) OnAdminAction(_ context.Context, a *plugin.AdminAction) error {
	m.AdminActions.Inc()
	if a.Err != nil {
		m.AdminDenied.Inc()
	}
	return nil
}
