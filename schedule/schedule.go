// Package schedule splits a frozen fee total into dated installments.
//
// All arithmetic is in integer minor units. The remainder of the division is
// assigned to the final installment, so the amounts of every generated
// schedule sum to the total exactly.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

// MaxInstallments is the largest supported installment count.
const MaxInstallments = 12

var (
	ErrInvalidCount     = errors.New("schedule: installment count must be between 1 and 12")
	ErrNegativeTotal    = errors.New("schedule: total must not be negative")
	ErrDueDateCount     = errors.New("schedule: due date count does not match installment count")
	ErrDueDatesNotAfter = errors.New("schedule: due dates must be strictly increasing")
	ErrMissingFirstDue  = errors.New("schedule: first due date is required")
)

// Installment is one scheduled partial obligation. Its status is never
// stored; see the summary package for the derived view.
type Installment struct {
	ID        id.InstallmentID `json:"id"`
	Seq       int              `json:"seq"`
	DueDate   time.Time        `json:"due_date"`
	Amount    int64            `json:"amount"`
	Mandatory bool             `json:"mandatory"`
}

// Schedule is the generated installment plan for one student fee.
//
// BasisConcession and BasisFine record the ledger totals the schedule was
// built from. Later concessions and fines are applied against these to
// derive the effective schedule.
type Schedule struct {
	types.Entity
	ID              id.ScheduleID   `json:"id"`
	StudentFeeID    id.StudentFeeID `json:"student_fee_id"`
	Currency        string          `json:"currency"`
	Total           int64           `json:"total"`
	BasisConcession int64           `json:"basis_concession"`
	BasisFine       int64           `json:"basis_fine"`
	Installments    []Installment   `json:"installments"`
	Version         int             `json:"version"`
	Reason          string          `json:"reason,omitempty"`
	GeneratedBy     string          `json:"generated_by"`
}

// Basis is the ledger state a schedule is generated from.
type Basis struct {
	Total      int64
	Concession int64
	Fine       int64
}

// Split divides total into n amounts. Every amount but the last is
// total/n; the last carries the remainder.
func Split(total int64, n int) ([]int64, error) {
	if n < 1 || n > MaxInstallments {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}
	if total < 0 {
		return nil, ErrNegativeTotal
	}
	each := total / int64(n)
	out := make([]int64, n)
	for i := 0; i < n-1; i++ {
		out[i] = each
	}
	out[n-1] = total - each*int64(n-1)
	return out, nil
}

// DueDates resolves the plan's due dates. Explicit dates win; otherwise
// dates are spaced IntervalMonths apart from FirstDue, clamped to the last
// day of shorter months.
func DueDates(plan structure.InstallmentPlan) ([]time.Time, error) {
	n := plan.Count
	if n == 0 {
		n = len(plan.DueDates)
	}
	if n < 1 || n > MaxInstallments {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}

	var dates []time.Time
	if len(plan.DueDates) > 0 {
		if len(plan.DueDates) != n {
			return nil, fmt.Errorf("%w: %d dates for %d installments", ErrDueDateCount, len(plan.DueDates), n)
		}
		dates = make([]time.Time, n)
		for i, d := range plan.DueDates {
			dates[i] = types.Date(d)
		}
	} else {
		if plan.FirstDue.IsZero() {
			return nil, ErrMissingFirstDue
		}
		first := types.Date(plan.FirstDue)
		dates = make([]time.Time, n)
		for i := range dates {
			dates[i] = addMonths(first, i*plan.IntervalMonths)
		}
	}

	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("%w: installment %d (%s) is not after installment %d (%s)",
				ErrDueDatesNotAfter, i+1, dates[i].Format(time.DateOnly), i, dates[i-1].Format(time.DateOnly))
		}
	}
	return dates, nil
}

// Build generates a schedule for fs splitting basis.Total per the
// structure's frozen installment plan.
func Build(fs *structure.FeeStructure, basis Basis, actor, reason string, now time.Time) (*Schedule, error) {
	dates, err := DueDates(fs.Plan)
	if err != nil {
		return nil, err
	}
	amounts, err := Split(basis.Total, len(dates))
	if err != nil {
		return nil, err
	}

	installments := make([]Installment, len(dates))
	for i := range dates {
		installments[i] = Installment{
			ID:        id.NewInstallmentID(),
			Seq:       i + 1,
			DueDate:   dates[i],
			Amount:    amounts[i],
			Mandatory: fs.Plan.IsMandatory(i + 1),
		}
	}

	return &Schedule{
		Entity:          types.NewEntity(now),
		ID:              id.NewScheduleID(),
		StudentFeeID:    fs.ID,
		Currency:        fs.Currency,
		Total:           basis.Total,
		BasisConcession: basis.Concession,
		BasisFine:       basis.Fine,
		Installments:    installments,
		Version:         1,
		Reason:          reason,
		GeneratedBy:     actor,
	}, nil
}

// Sum returns the sum of installment amounts.
func (s *Schedule) Sum() int64 {
	var total int64
	for _, in := range s.Installments {
		total += in.Amount
	}
	return total
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := target.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, 0, 0, 0, 0, time.UTC)
}
