// Package entry defines the append-only ledger entry and the fold that
// derives every monetary total from it.
//
// Sign convention: CHARGE and FINE are positive, CONCESSION, PAYMENT and
// CREDIT are negative. An offsetting entry of the same type with the
// opposite sign reverses a concession or a fine.
package entry

import (
	"time"

	"github.com/xraph/feeledger/id"
)

// Type is the kind of monetary event an entry records.
type Type string

const (
	TypeCharge     Type = "CHARGE"
	TypeConcession Type = "CONCESSION"
	TypeFine       Type = "FINE"
	TypePayment    Type = "PAYMENT"
	TypeCredit     Type = "CREDIT"
)

// Valid reports whether t is a known entry type.
func (t Type) Valid() bool {
	switch t {
	case TypeCharge, TypeConcession, TypeFine, TypePayment, TypeCredit:
		return true
	}
	return false
}

// Settles reports whether entries of this type count toward paid_amount.
func (t Type) Settles() bool {
	return t == TypePayment || t == TypeCredit
}

// Mode is how a payment reached the institution.
type Mode string

const (
	ModeOnline       Mode = "online"
	ModeCash         Mode = "cash"
	ModeCheque       Mode = "cheque"
	ModeBankTransfer Mode = "bank_transfer"
	ModeCardPOS      Mode = "card_pos"
	ModeOther        Mode = "other"
)

// Offline reports whether m is a staff-recorded mode.
func (m Mode) Offline() bool {
	switch m {
	case ModeCash, ModeCheque, ModeBankTransfer, ModeCardPOS, ModeOther:
		return true
	}
	return false
}

// Entry is one immutable ledger event for a student fee.
type Entry struct {
	ID             id.EntryID        `json:"id"`
	StudentFeeID   id.StudentFeeID   `json:"student_fee_id"`
	Seq            int64             `json:"seq"`
	Type           Type              `json:"type"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Reference      string            `json:"reference,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Mode           Mode              `json:"payment_mode,omitempty"`
	AttemptID      id.AttemptID      `json:"attempt_id,omitempty"`
	Gateway        string            `json:"gateway,omitempty"`
	GatewayTxnID   string            `json:"gateway_txn_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	ReversesID     id.EntryID        `json:"reverses_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CreatedBy      string            `json:"created_by"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Magnitude returns the absolute amount of the entry.
func (e *Entry) Magnitude() int64 {
	if e.Amount < 0 {
		return -e.Amount
	}
	return e.Amount
}

// Signed returns magnitude with the sign its type carries when it adds to
// the obligation (CHARGE, FINE) or reduces it (the rest).
func Signed(t Type, magnitude int64) int64 {
	if magnitude < 0 {
		magnitude = -magnitude
	}
	switch t {
	case TypeCharge, TypeFine:
		return magnitude
	default:
		return -magnitude
	}
}

// ListOpts filters entry listings.
type ListOpts struct {
	Types  []Type
	Limit  int
	Offset int
}
