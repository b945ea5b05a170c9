// Package defaulter defines the materialized defaulter report refreshed in
// the background and read by dashboards.
package defaulter

import (
	"sort"
	"time"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/summary"
)

// Row is one student with an outstanding balance.
type Row struct {
	StudentFeeID        id.StudentFeeID `json:"student_fee_id"`
	StudentID           string          `json:"student_id"`
	Name                string          `json:"name"`
	AdmissionNumber     string          `json:"admission_number"`
	ProgramID           string          `json:"program"`
	BatchID             string          `json:"batch,omitempty"`
	AcademicYear        string          `json:"year"`
	Currency            string          `json:"currency"`
	TotalDue            int64           `json:"total_due"`
	OverdueInstallments int             `json:"overdue_installments"`
	IsBlocked           bool            `json:"is_blocked"`
	LastPaymentDate     *time.Time      `json:"last_payment_date,omitempty"`
	AsOf                time.Time       `json:"as_of"`
}

// Report is a page of the most recent snapshot.
type Report struct {
	AsOf  time.Time `json:"as_of"`
	Total int       `json:"total"`
	Rows  []*Row    `json:"rows"`
}

// ListOpts filters the report.
type ListOpts struct {
	ProgramID    string
	AcademicYear string
	MinDue       int64
	OnlyOverdue  bool
	OnlyBlocked  bool
	Limit        int
	Offset       int
}

// FromSummary builds a row for s, or returns nil when nothing is due.
func FromSummary(fs *structure.FeeStructure, s *summary.StudentFeeSummary, asOf time.Time) *Row {
	if s.Balance <= 0 {
		return nil
	}
	return &Row{
		StudentFeeID:        fs.ID,
		StudentID:           fs.StudentID,
		Name:                fs.StudentName,
		AdmissionNumber:     fs.AdmissionNumber,
		ProgramID:           fs.ProgramID,
		BatchID:             fs.BatchID,
		AcademicYear:        fs.AcademicYear,
		Currency:            fs.Currency,
		TotalDue:            s.Balance,
		OverdueInstallments: s.OverdueInstallments,
		IsBlocked:           s.IsBlocked,
		LastPaymentDate:     s.LastPaymentAt,
		AsOf:                asOf,
	}
}

// Match reports whether r passes the filters in opts.
func (r *Row) Match(opts ListOpts) bool {
	if opts.ProgramID != "" && r.ProgramID != opts.ProgramID {
		return false
	}
	if opts.AcademicYear != "" && r.AcademicYear != opts.AcademicYear {
		return false
	}
	if r.TotalDue < opts.MinDue {
		return false
	}
	if opts.OnlyOverdue && r.OverdueInstallments == 0 {
		return false
	}
	if opts.OnlyBlocked && !r.IsBlocked {
		return false
	}
	return true
}

// Sort orders rows by amount due, largest first, then by admission number.
func Sort(rows []*Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalDue != rows[j].TotalDue {
			return rows[i].TotalDue > rows[j].TotalDue
		}
		return rows[i].AdmissionNumber < rows[j].AdmissionNumber
	})
}

// Page applies opts to an already sorted snapshot.
func Page(rows []*Row, asOf time.Time, opts ListOpts) *Report {
	matched := make([]*Row, 0, len(rows))
	for _, r := range rows {
		if r.Match(opts) {
			matched = append(matched, r)
		}
	}
	rep := &Report{AsOf: asOf, Total: len(matched)}
	start := min(opts.Offset, len(matched))
	end := len(matched)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	rep.Rows = matched[start:end]
	return rep
}
