package defaulter

import (
	"testing"
	"time"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/summary"
)

func TestFromSummary(t *testing.T) {
	fs := &structure.FeeStructure{
		ID: id.NewStudentFeeID(), StudentID: "stu-1", StudentName: "Asha",
		AdmissionNumber: "ADM-1", ProgramID: "bsc", AcademicYear: "2026", Currency: "inr",
	}
	asOf := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if r := FromSummary(fs, &summary.StudentFeeSummary{Balance: 0}, asOf); r != nil {
		t.Errorf("settled student should not be a row, got %+v", r)
	}
	if r := FromSummary(fs, &summary.StudentFeeSummary{Balance: -50}, asOf); r != nil {
		t.Errorf("student in credit should not be a row, got %+v", r)
	}

	r := FromSummary(fs, &summary.StudentFeeSummary{Balance: 20000, OverdueInstallments: 1, IsBlocked: true}, asOf)
	if r == nil {
		t.Fatal("expected a row")
	}
	if r.TotalDue != 20000 || r.Name != "Asha" || r.AdmissionNumber != "ADM-1" || !r.IsBlocked {
		t.Errorf("unexpected row: %+v", r)
	}
}

func TestPage(t *testing.T) {
	rows := []*Row{
		{AdmissionNumber: "A3", ProgramID: "bsc", AcademicYear: "2026", TotalDue: 500},
		{AdmissionNumber: "A1", ProgramID: "bsc", AcademicYear: "2026", TotalDue: 9000, OverdueInstallments: 2, IsBlocked: true},
		{AdmissionNumber: "A2", ProgramID: "mba", AcademicYear: "2026", TotalDue: 9000, OverdueInstallments: 1},
		{AdmissionNumber: "A4", ProgramID: "bsc", AcademicYear: "2025", TotalDue: 100},
	}
	Sort(rows)
	if rows[0].AdmissionNumber != "A1" || rows[1].AdmissionNumber != "A2" {
		t.Fatalf("sort order: %s, %s", rows[0].AdmissionNumber, rows[1].AdmissionNumber)
	}

	tests := []struct {
		name  string
		opts  ListOpts
		total int
		first string
		size  int
	}{
		{"all", ListOpts{}, 4, "A1", 4},
		{"program", ListOpts{ProgramID: "bsc"}, 3, "A1", 3},
		{"year", ListOpts{AcademicYear: "2025"}, 1, "A4", 1},
		{"min due", ListOpts{MinDue: 1000}, 2, "A1", 2},
		{"overdue only", ListOpts{OnlyOverdue: true}, 2, "A1", 2},
		{"blocked only", ListOpts{OnlyBlocked: true}, 1, "A1", 1},
		{"paged", ListOpts{Limit: 2, Offset: 1}, 4, "A2", 2},
		{"offset past end", ListOpts{Offset: 10}, 4, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Page(rows, time.Time{}, tt.opts)
			if rep.Total != tt.total {
				t.Errorf("Total: got %d, want %d", rep.Total, tt.total)
			}
			if len(rep.Rows) != tt.size {
				t.Fatalf("rows: got %d, want %d", len(rep.Rows), tt.size)
			}
			if tt.size > 0 && rep.Rows[0].AdmissionNumber != tt.first {
				t.Errorf("first: got %s, want %s", rep.Rows[0].AdmissionNumber, tt.first)
			}
		})
	}
}
