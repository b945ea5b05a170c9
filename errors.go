package feeledger

import (
	"errors"
	"fmt"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("feeledger: not found")
	ErrAlreadyExists = errors.New("feeledger: already exists")
	ErrInvalidInput  = errors.New("feeledger: invalid input")
	ErrForbidden     = errors.New("feeledger: forbidden")

	// Configuration errors
	ErrCatalogNotFound = errors.New("feeledger: fee catalog not found")
	ErrSlabNotFound    = errors.New("feeledger: scholarship slab not found")

	// Structure and schedule errors
	ErrStructureNotFound = errors.New("feeledger: fee structure not found")
	ErrScheduleNotFound  = errors.New("feeledger: schedule not found")

	// Ledger errors
	ErrEntryNotFound           = errors.New("feeledger: ledger entry not found")
	ErrConcurrencyConflict     = errors.New("feeledger: concurrent ledger write")
	ErrDuplicateIdempotencyKey = errors.New("feeledger: duplicate idempotency key")

	// Payment errors
	ErrAttemptNotFound         = errors.New("feeledger: payment attempt not found")
	ErrAttemptTerminal         = errors.New("feeledger: payment attempt is terminal")
	ErrGatewayTxnConflict      = errors.New("feeledger: gateway transaction already bound to another attempt")
	ErrGatewayNotConfigured    = errors.New("feeledger: gateway not configured")
	ErrOnlinePaymentsDisabled  = errors.New("feeledger: online payments disabled for this fee structure")
	ErrOfflinePaymentsDisabled = errors.New("feeledger: offline payments disabled for this fee structure")
	ErrReconciliationMismatch  = errors.New("feeledger: reconciliation mismatch")

	// Review queue errors
	ErrReviewItemNotFound = errors.New("feeledger: review item not found")
	ErrReviewResolved     = errors.New("feeledger: review item already resolved")

	// Store errors
	ErrStoreClosed     = errors.New("feeledger: store is closed")
	ErrMigrationFailed = errors.New("feeledger: migration failed")
)

// ConfigurationError means no active fee configuration matches an enrollment.
// It blocks the triggering workflow.
type ConfigurationError struct {
	ProgramID    string
	BatchID      string
	AcademicYear string
	Reason       string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("feeledger: configuration error for program %q batch %q year %q: %s",
		e.ProgramID, e.BatchID, e.AcademicYear, e.Reason)
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("feeledger: validation failed for %s: %s", e.Field, e.Message)
}

// ConcurrencyConflictError is returned when a ledger append kept losing the
// per-student write race after every retry.
type ConcurrencyConflictError struct {
	StudentFeeID id.StudentFeeID
	Attempts     int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("feeledger: ledger append for %s lost the write race %d times", e.StudentFeeID, e.Attempts)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// ReconciliationMismatchError is returned when a callback disagrees with the
// attempt the engine initiated. The callback is held for operator review.
type ReconciliationMismatchError struct {
	ReviewID  id.ReviewID
	AttemptID id.AttemptID
	Kind      payment.ReviewKind
	Expected  int64
	Received  int64
}

func (e *ReconciliationMismatchError) Error() string {
	return fmt.Sprintf("feeledger: reconciliation mismatch (%s) on attempt %s: expected %d, received %d; held for review %s",
		e.Kind, e.AttemptID, e.Expected, e.Received, e.ReviewID)
}

func (e *ReconciliationMismatchError) Unwrap() error { return ErrReconciliationMismatch }

// DuplicateEvent describes an event that was already applied. It is
// reported on results and is never a failure.
type DuplicateEvent struct {
	Key     string
	EntryID id.EntryID
	Source  string
}

func (e *DuplicateEvent) Error() string {
	return fmt.Sprintf("feeledger: duplicate event %s (already applied as %s)", e.Key, e.EntryID)
}

// PaymentFailure is the user-facing error of a failed payment flow.
type PaymentFailure struct {
	AttemptID id.AttemptID
	Err       error
}

// PaymentFailureMessage is shown to payers whenever a payment fails.
const PaymentFailureMessage = "installment remains pending and is safe to retry; no double charge"

func (e *PaymentFailure) Error() string {
	return "payment failed: " + PaymentFailureMessage
}

func (e *PaymentFailure) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "feeledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("feeledger: %d errors occurred (first: %v)", len(e.Errors), e.Errors[0])
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns the multi-error, or nil when empty.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCatalogNotFound) ||
		errors.Is(err, ErrSlabNotFound) ||
		errors.Is(err, ErrStructureNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrReviewItemNotFound)
}

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfiguration returns true if err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
