package entry

import (
	"time"
)

// Totals is the result of folding a student fee's entries in insertion order.
type Totals struct {
	Base       int64 `json:"base_amount"`
	Concession int64 `json:"concession_amount"`
	Fine       int64 `json:"fine_amount"`
	Paid       int64 `json:"paid_amount"`
	Credit     int64 `json:"credit_amount"`
	TotalFee   int64 `json:"total_fee"`
	Balance    int64 `json:"balance"`

	Payments      int        `json:"payments"`
	LastSeq       int64      `json:"last_seq"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`
}

// Fold derives totals from entries. Entries must be in insertion order.
//
//	total_fee = base - concession + fine
//	paid      = -(sum of PAYMENT and CREDIT)
//	balance   = total_fee - paid
func Fold(entries []*Entry) Totals {
	var t Totals
	for _, e := range entries {
		switch e.Type {
		case TypeCharge:
			t.Base += e.Amount
		case TypeConcession:
			t.Concession -= e.Amount
		case TypeFine:
			t.Fine += e.Amount
		case TypePayment:
			t.Paid -= e.Amount
			t.Payments++
			at := e.CreatedAt
			t.LastPaymentAt = &at
		case TypeCredit:
			t.Paid -= e.Amount
			t.Credit -= e.Amount
		}
		if e.Seq > t.LastSeq {
			t.LastSeq = e.Seq
		}
	}
	t.TotalFee = t.Base - t.Concession + t.Fine
	t.Balance = t.TotalFee - t.Paid
	return t
}

// Remaining is the amount still payable, floored at zero.
func (t Totals) Remaining() int64 {
	if t.Balance < 0 {
		return 0
	}
	return t.Balance
}
