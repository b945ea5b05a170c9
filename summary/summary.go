// Package summary projects a student fee's ledger into the read model
// presented to callers. Every field is derived from the ledger fold and
// the schedule; nothing here is a source of truth.
package summary

import (
	"time"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

// InstallmentStatus is the derived status of an installment.
type InstallmentStatus string

const (
	StatusPending       InstallmentStatus = "pending"
	StatusPartiallyPaid InstallmentStatus = "partially_paid"
	StatusPaid          InstallmentStatus = "paid"
	StatusOverdue       InstallmentStatus = "overdue"
)

// Installment is an installment with its derived allocation and status.
type Installment struct {
	ID              id.InstallmentID  `json:"id"`
	Seq             int               `json:"seq"`
	DueDate         time.Time         `json:"due_date"`
	ScheduledAmount int64             `json:"scheduled_amount"`
	Amount          int64             `json:"amount"`
	Mandatory       bool              `json:"mandatory"`
	Applied         int64             `json:"applied"`
	Outstanding     int64             `json:"outstanding"`
	Status          InstallmentStatus `json:"status"`
	DaysOverdue     int               `json:"days_overdue,omitempty"`
}

// Allocation is the share of one payment applied to one installment.
type Allocation struct {
	InstallmentSeq int   `json:"installment_seq"`
	Amount         int64 `json:"amount"`
}

// Payment is a PAYMENT or CREDIT entry with its allocation breakdown.
type Payment struct {
	EntryID      id.EntryID   `json:"entry_id"`
	Type         entry.Type   `json:"type"`
	Amount       int64        `json:"amount"`
	Mode         entry.Mode   `json:"payment_mode"`
	Reference    string       `json:"reference,omitempty"`
	AttemptID    id.AttemptID `json:"attempt_id,omitempty"`
	GatewayTxnID string       `json:"gateway_txn_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CreatedBy    string       `json:"created_by"`
	Allocations  []Allocation `json:"allocations"`
	Unallocated  int64        `json:"unallocated"`
}

// StudentFeeSummary is the cached projection of one student fee.
type StudentFeeSummary struct {
	StudentFeeID        id.StudentFeeID `json:"student_fee_id"`
	StudentID           string          `json:"student_id"`
	AcademicYear        string          `json:"academic_year"`
	Currency            string          `json:"currency"`
	BaseAmount          int64           `json:"base_amount"`
	TotalFee            int64           `json:"total_fee"`
	ConcessionAmount    int64           `json:"concession_amount"`
	FineAmount          int64           `json:"fine_amount"`
	PaidAmount          int64           `json:"paid_amount"`
	CreditAmount        int64           `json:"credit_amount"`
	Balance             int64           `json:"balance"`
	IsBlocked           bool            `json:"is_blocked"`
	OverdueInstallments int             `json:"overdue_installments"`
	Installments        []Installment   `json:"installments"`
	Payments            []Payment       `json:"payments"`
	LastPaymentAt       *time.Time      `json:"last_payment_at,omitempty"`
	LedgerSeq           int64           `json:"ledger_seq"`
	ScheduleVersion     int             `json:"schedule_version,omitempty"`
	AsOf                time.Time       `json:"as_of"`
}

// Total returns total_fee as Money.
func (s *StudentFeeSummary) Total() types.Money { return types.New(s.TotalFee, s.Currency) }

// Due returns the balance as Money.
func (s *StudentFeeSummary) Due() types.Money { return types.New(s.Balance, s.Currency) }

// Project builds the summary for fs as of today. sched may be nil when no
// schedule has been generated yet.
func Project(fs *structure.FeeStructure, sched *schedule.Schedule, entries []*entry.Entry, today time.Time) *StudentFeeSummary {
	today = types.Date(today)
	totals := entry.Fold(entries)

	out := &StudentFeeSummary{
		StudentFeeID:     fs.ID,
		StudentID:        fs.StudentID,
		AcademicYear:     fs.AcademicYear,
		Currency:         fs.Currency,
		BaseAmount:       totals.Base,
		TotalFee:         totals.TotalFee,
		ConcessionAmount: totals.Concession,
		FineAmount:       totals.Fine,
		PaidAmount:       totals.Paid,
		CreditAmount:     totals.Credit,
		Balance:          totals.Balance,
		LastPaymentAt:    totals.LastPaymentAt,
		LedgerSeq:        totals.LastSeq,
		AsOf:             today,
		Installments:     []Installment{},
		Payments:         []Payment{},
	}

	var installments []Installment
	if sched != nil {
		out.ScheduleVersion = sched.Version
		amounts := Effective(sched, totals)
		installments = make([]Installment, len(sched.Installments))
		for i, in := range sched.Installments {
			installments[i] = Installment{
				ID:              in.ID,
				Seq:             in.Seq,
				DueDate:         in.DueDate,
				ScheduledAmount: in.Amount,
				Amount:          amounts[i],
				Mandatory:       in.Mandatory,
			}
		}
	}

	out.Payments = Allocate(installments, entries)

	for i := range installments {
		in := &installments[i]
		in.Outstanding = in.Amount - in.Applied
		in.Status = status(in, today)
		if in.Status == StatusOverdue {
			in.DaysOverdue = types.DaysBetween(in.DueDate, today)
			out.OverdueInstallments++
		}
	}
	if installments != nil {
		out.Installments = installments
	}
	out.IsBlocked = Blocked(out.Installments, fs.Policy, today)
	return out
}

// Effective returns the installment amounts after concessions and fines
// recorded since the schedule was generated. Increases land on the final
// installment; decreases are absorbed latest-installment-first. The result
// depends only on totals, never on entry order, and sums to total_fee.
func Effective(s *schedule.Schedule, t entry.Totals) []int64 {
	amounts := make([]int64, len(s.Installments))
	for i, in := range s.Installments {
		amounts[i] = in.Amount
	}
	if len(amounts) == 0 {
		return amounts
	}

	dConcession := t.Concession - s.BasisConcession
	dFine := t.Fine - s.BasisFine
	var increase, decrease int64
	if dFine > 0 {
		increase += dFine
	} else {
		decrease -= dFine
	}
	if dConcession > 0 {
		decrease += dConcession
	} else {
		increase -= dConcession
	}

	amounts[len(amounts)-1] += increase
	for i := len(amounts) - 1; i >= 0 && decrease > 0; i-- {
		take := min(amounts[i], decrease)
		amounts[i] -= take
		decrease -= take
	}
	return amounts
}

// Allocate applies settling entries to installments oldest-due-first, in
// ledger insertion order, and records each payment's breakdown on the
// installments' Applied field. Installments must be ordered by due date.
func Allocate(installments []Installment, entries []*entry.Entry) []Payment {
	payments := []Payment{}
	next := 0
	for _, e := range entries {
		if !e.Type.Settles() {
			continue
		}
		p := Payment{
			EntryID:      e.ID,
			Type:         e.Type,
			Amount:       e.Magnitude(),
			Mode:         e.Mode,
			Reference:    e.Reference,
			AttemptID:    e.AttemptID,
			GatewayTxnID: e.GatewayTxnID,
			CreatedAt:    e.CreatedAt,
			CreatedBy:    e.CreatedBy,
			Allocations:  []Allocation{},
		}
		remaining := p.Amount
		for remaining > 0 && next < len(installments) {
			in := &installments[next]
			open := in.Amount - in.Applied
			if open <= 0 {
				next++
				continue
			}
			take := min(open, remaining)
			in.Applied += take
			remaining -= take
			p.Allocations = append(p.Allocations, Allocation{InstallmentSeq: in.Seq, Amount: take})
		}
		p.Unallocated = remaining
		payments = append(payments, p)
	}
	return payments
}

func status(in *Installment, today time.Time) InstallmentStatus {
	switch {
	case in.Applied >= in.Amount:
		return StatusPaid
	case in.DueDate.Before(today):
		return StatusOverdue
	case in.Applied > 0:
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}

// Blocked reports whether the student is blocked: blocking is enabled and
// some mandatory installment has been overdue for longer than the grace period.
func Blocked(installments []Installment, policy structure.Policy, today time.Time) bool {
	if !policy.BlockingEnabled {
		return false
	}
	for _, in := range installments {
		if in.Status != StatusOverdue || !in.Mandatory {
			continue
		}
		if types.DaysBetween(in.DueDate, today) > policy.GracePeriodDays {
			return true
		}
	}
	return false
}
