// Package gateway defines the single contract every payment gateway adapter
// satisfies. Vendor protocol details stay inside the adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

// Status is a gateway's view of a transaction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
	// StatusAmbiguous means the gateway gave no definitive answer (for
	// example a fraud challenge still under review).
	StatusAmbiguous Status = "ambiguous"
)

// ErrUnknownTransaction is returned by Query when the gateway has no
// record of the attempt.
var ErrUnknownTransaction = errors.New("gateway: unknown transaction")

// InitiateRequest asks a gateway to start collecting Amount for an attempt.
// AttemptID doubles as the gateway order reference.
type InitiateRequest struct {
	AttemptID    id.AttemptID
	StudentFeeID id.StudentFeeID
	Amount       types.Money
	Description  string
	Customer     *Customer
}

// Customer is optional payer detail forwarded to the gateway.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// InitiateResponse carries where to send the payer.
type InitiateResponse struct {
	PaymentURL string
	Reference  string
}

// Callback is a gateway notification about an attempt, normalized.
// Payload keeps the raw fields an adapter needs to verify Signature.
type Callback struct {
	Gateway      string
	GatewayTxnID string
	AttemptID    id.AttemptID
	Amount       types.Money
	Status       Status
	Signature    string
	Payload      map[string]string
}

// StatusResult is the answer to a status re-query.
type StatusResult struct {
	GatewayTxnID string
	Amount       types.Money
	Status       Status
}

// Gateway is the contract the reconciliation engine drives.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)
	Query(ctx context.Context, attemptID id.AttemptID) (*StatusResult, error)
	VerifySignature(cb *Callback) bool
}

// Error is a failed gateway call. Transient errors (network failures,
// timeouts, 5xx) are retried with backoff; terminal ones fail the attempt.
type Error struct {
	Gateway    string
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: %s failed (%s, status %d): %v", e.Gateway, e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s failed (%s): %v", e.Gateway, e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying. Context deadline
// errors are transient; cancellation is not.
func IsTransient(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ClassifyStatus maps an HTTP status code to transient or terminal.
func ClassifyStatus(code int) bool {
	return code == 0 || code == 408 || code == 429 || code >= 500
}
