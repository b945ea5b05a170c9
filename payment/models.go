// Package payment models payment attempts and the operator review queue.
package payment

import (
	"time"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

// State is the reconciliation state of a payment attempt.
type State string

const (
	StateInitiated        State = "INITIATED"
	StateCallbackReceived State = "CALLBACK_RECEIVED"
	StateSuccess          State = "SUCCESS"
	StateFailed           State = "FAILED"
	StateAmbiguous        State = "AMBIGUOUS"
)

// Attempt is one gateway payment initiated by the engine.
//
// A FAILED attempt is Provisional when it was failed locally (a UI
// cancellation or an initiate that never got a definitive answer). The
// sweep keeps re-querying provisional failures because the gateway may
// still settle the charge.
//
// Version increases on every stored change and guards concurrent writers.
type Attempt struct {
	types.Entity
	ID            id.AttemptID    `json:"id"`
	StudentFeeID  id.StudentFeeID `json:"student_fee_id"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Gateway       string          `json:"gateway"`
	State         State           `json:"state"`
	Version       int             `json:"version"`
	Provisional   bool            `json:"provisional,omitempty"`
	GatewayTxnID  string          `json:"gateway_txn_id,omitempty"`
	GatewayRef    string          `json:"gateway_ref,omitempty"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	EntryID       id.EntryID      `json:"entry_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	InitiatedBy   string          `json:"initiated_by"`
	Checks        int             `json:"checks"`
	LastCheckedAt *time.Time      `json:"last_checked_at,omitempty"`
}

// Terminal reports whether the attempt can no longer change.
func (a *Attempt) Terminal() bool {
	switch a.State {
	case StateSuccess:
		return true
	case StateFailed:
		return !a.Provisional
	}
	return false
}

// NeedsSweep reports whether the sweep should re-query the gateway.
func (a *Attempt) NeedsSweep() bool {
	return !a.Terminal()
}

// CanTransition reports whether the attempt may move to next.
func (a *Attempt) CanTransition(next State) bool {
	if a.Terminal() {
		return false
	}
	switch a.State {
	case StateInitiated:
		return next != StateInitiated
	case StateCallbackReceived:
		return next == StateSuccess || next == StateFailed || next == StateAmbiguous
	case StateAmbiguous:
		return next == StateSuccess || next == StateFailed || next == StateCallbackReceived
	case StateFailed:
		return next == StateSuccess || next == StateFailed
	}
	return false
}

// SweepOpts selects attempts for the reconciliation sweep.
type SweepOpts struct {
	// UpdatedBefore excludes attempts touched more recently, so the sweep
	// does not race an in-flight initiate or callback.
	UpdatedBefore time.Time
	Limit         int
}

// ReviewKind classifies why a callback was routed to an operator.
type ReviewKind string

const (
	ReviewSignatureMismatch ReviewKind = "signature_mismatch"
	ReviewAmountMismatch    ReviewKind = "amount_mismatch"
	ReviewTxnConflict       ReviewKind = "txn_conflict"
)

// ReviewStatus is the state of a review item.
type ReviewStatus string

const (
	ReviewOpen     ReviewStatus = "open"
	ReviewResolved ReviewStatus = "resolved"
)

// ReviewItem is a reconciliation mismatch held for manual review. Mismatches
// are never resolved automatically; resolving records the operator's
// decision and posts no money.
type ReviewItem struct {
	types.Entity
	ID             id.ReviewID       `json:"id"`
	Kind           ReviewKind        `json:"kind"`
	Status         ReviewStatus      `json:"status"`
	AttemptID      id.AttemptID      `json:"attempt_id"`
	StudentFeeID   id.StudentFeeID   `json:"student_fee_id"`
	Gateway        string            `json:"gateway"`
	GatewayTxnID   string            `json:"gateway_txn_id"`
	ExpectedAmount int64             `json:"expected_amount"`
	ReceivedAmount int64             `json:"received_amount"`
	Detail         string            `json:"detail"`
	Payload        map[string]string `json:"payload,omitempty"`
	Resolution     string            `json:"resolution,omitempty"`
	ResolvedBy     string            `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// ReviewListOpts filters review queue listings.
type ReviewListOpts struct {
	Status    ReviewStatus
	AttemptID id.AttemptID
	Limit     int
	Offset    int
}
