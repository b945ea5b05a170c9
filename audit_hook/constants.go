package audithook

// Admin action constants. The values match plugin.AdminAction.Action as
// emitted by the engine.
const (
	ActionCreateCatalog        = "create_catalog"
	ActionUpdateCatalog        = "update_catalog"
	ActionCreateSlab           = "create_slab"
	ActionUpdateSlab           = "update_slab"
	ActionApplyConcession      = "apply_concession"
	ActionApplyFine            = "apply_fine"
	ActionReverseEntry         = "reverse_entry"
	ActionRegenerateSchedule   = "regenerate_schedule"
	ActionRecordOfflinePayment = "record_offline_payment"
	ActionResolveReview        = "resolve_review"
)

// Lifecycle action constants.
const (
	// Structure actions
	ActionStructureCompiled = "structure.compiled"

	// Ledger actions
	ActionDuplicateEvent = "ledger.duplicate_event"

	// Payment actions
	ActionPaymentInitiated       = "payment.initiated"
	ActionPaymentReconciled      = "payment.reconciled"
	ActionPaymentFailed          = "payment.failed"
	ActionReconciliationMismatch = "reconciliation.mismatch"
)

// Resource constants for audit events.
const (
	ResourceCatalog    = "catalog"
	ResourceSlab       = "slab"
	ResourceStudentFee = "student_fee"
	ResourceSchedule   = "schedule"
	ResourceEntry      = "entry"
	ResourceAttempt    = "payment_attempt"
	ResourceReview     = "review_item"
)

// Category constants for audit events.
const (
	CategoryFees           = "fees"
	CategoryLedger         = "ledger"
	CategoryPayment        = "payment"
	CategoryReconciliation = "reconciliation"
	CategoryAdmin          = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// adminResources maps each admin action to the resource it touches.
var adminResources = map[string]string{
	ActionCreateCatalog:        ResourceCatalog,
	ActionUpdateCatalog:        ResourceCatalog,
	ActionCreateSlab:           ResourceSlab,
	ActionUpdateSlab:           ResourceSlab,
	ActionApplyConcession:      ResourceEntry,
	ActionApplyFine:            ResourceEntry,
	ActionReverseEntry:         ResourceEntry,
	ActionRegenerateSchedule:   ResourceSchedule,
	ActionRecordOfflinePayment: ResourceEntry,
	ActionResolveReview:        ResourceReview,
}
