package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/structure"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplitExactSum(t *testing.T) {
	totals := []int64{0, 1, 7, 99, 100, 150, 1000, 30000, 99999, 1234567, 9999999999}
	for _, total := range totals {
		for n := 1; n <= MaxInstallments; n++ {
			amounts, err := Split(total, n)
			if err != nil {
				t.Fatalf("Split(%d, %d): %v", total, n, err)
			}
			if len(amounts) != n {
				t.Fatalf("Split(%d, %d): got %d amounts", total, n, len(amounts))
			}
			var sum int64
			for _, a := range amounts {
				if a < 0 {
					t.Errorf("Split(%d, %d): negative amount %d", total, n, a)
				}
				sum += a
			}
			if sum != total {
				t.Errorf("Split(%d, %d): sum got %d, want %d", total, n, sum, total)
			}
		}
	}
}

func TestSplitRemainderOnLast(t *testing.T) {
	amounts, err := Split(100, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{33, 33, 34}
	for i := range want {
		if amounts[i] != want[i] {
			t.Errorf("installment %d: got %d, want %d", i+1, amounts[i], want[i])
		}
	}
}

func TestSplitInvalid(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		n     int
		want  error
	}{
		{"zero count", 100, 0, ErrInvalidCount},
		{"thirteen", 100, 13, ErrInvalidCount},
		{"negative total", -1, 3, ErrNegativeTotal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Split(tt.total, tt.n); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDueDates(t *testing.T) {
	tests := []struct {
		name    string
		plan    structure.InstallmentPlan
		want    []time.Time
		wantErr error
	}{
		{
			name: "monthly cadence",
			plan: structure.InstallmentPlan{Count: 3, FirstDue: date(2026, 1, 10), IntervalMonths: 1},
			want: []time.Time{date(2026, 1, 10), date(2026, 2, 10), date(2026, 3, 10)},
		},
		{
			name: "clamps to end of month",
			plan: structure.InstallmentPlan{Count: 3, FirstDue: date(2026, 1, 31), IntervalMonths: 1},
			want: []time.Time{date(2026, 1, 31), date(2026, 2, 28), date(2026, 3, 31)},
		},
		{
			name: "quarterly across year end",
			plan: structure.InstallmentPlan{Count: 2, FirstDue: date(2026, 11, 15), IntervalMonths: 3},
			want: []time.Time{date(2026, 11, 15), date(2027, 2, 15)},
		},
		{
			name: "explicit dates",
			plan: structure.InstallmentPlan{DueDates: []time.Time{date(2026, 4, 1), date(2026, 9, 1)}},
			want: []time.Time{date(2026, 4, 1), date(2026, 9, 1)},
		},
		{
			name:    "explicit dates out of order",
			plan:    structure.InstallmentPlan{DueDates: []time.Time{date(2026, 9, 1), date(2026, 4, 1)}},
			wantErr: ErrDueDatesNotAfter,
		},
		{
			name:    "zero interval",
			plan:    structure.InstallmentPlan{Count: 2, FirstDue: date(2026, 1, 1)},
			wantErr: ErrDueDatesNotAfter,
		},
		{
			name:    "count mismatch",
			plan:    structure.InstallmentPlan{Count: 3, DueDates: []time.Time{date(2026, 4, 1)}},
			wantErr: ErrDueDateCount,
		},
		{
			name:    "missing first due",
			plan:    structure.InstallmentPlan{Count: 2, IntervalMonths: 1},
			wantErr: ErrMissingFirstDue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DueDates(tt.plan)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d dates, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("date %d: got %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuild(t *testing.T) {
	fs := &structure.FeeStructure{
		ID:       id.NewStudentFeeID(),
		Currency: "inr",
		Plan: structure.InstallmentPlan{
			Count: 3, FirstDue: date(2026, 1, 10), IntervalMonths: 1, Optional: []int{3},
		},
	}
	s, err := Build(fs, Basis{Total: 30000}, "admin", "", date(2026, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if s.Sum() != 30000 {
		t.Errorf("Sum: got %d, want 30000", s.Sum())
	}
	if s.Version != 1 {
		t.Errorf("Version: got %d, want 1", s.Version)
	}
	for i, in := range s.Installments {
		if in.Seq != i+1 {
			t.Errorf("installment %d: seq %d", i, in.Seq)
		}
		if in.Amount != 10000 {
			t.Errorf("installment %d: amount %d", i, in.Amount)
		}
	}
	if !s.Installments[0].Mandatory || s.Installments[2].Mandatory {
		t.Errorf("mandatory flags: got %v/%v", s.Installments[0].Mandatory, s.Installments[2].Mandatory)
	}
}

func BenchmarkSplit(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Split(1234567, 12)
	}
}
