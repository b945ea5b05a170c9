package feeledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/summary"
)

func TestEnrollCompilesStructureAndSchedule(t *testing.T) {
	f := newFixture(t)
	f.catalog()

	out := f.enroll("s1")

	if out.Structure.BaseAmount != 30000 {
		t.Errorf("base amount: got %d, want 30000", out.Structure.BaseAmount)
	}
	if out.Structure.Policy.GracePeriodDays != 7 {
		t.Errorf("captured grace period: got %d, want 7", out.Structure.Policy.GracePeriodDays)
	}
	if got := len(out.Schedule.Installments); got != 3 {
		t.Fatalf("installments: got %d, want 3", got)
	}
	for i, in := range out.Schedule.Installments {
		if in.Amount != 10000 {
			t.Errorf("installment %d amount: got %d, want 10000", i+1, in.Amount)
		}
	}
	wantDue := []time.Time{date(2026, time.January, 10), date(2026, time.February, 10), date(2026, time.March, 10)}
	for i, in := range out.Schedule.Installments {
		if !in.DueDate.Equal(wantDue[i]) {
			t.Errorf("installment %d due: got %v, want %v", i+1, in.DueDate, wantDue[i])
		}
	}

	charges := f.entries(out.Structure.ID, entry.TypeCharge)
	if len(charges) != 2 {
		t.Errorf("charge entries: got %d, want 2", len(charges))
	}

	s := f.summary(out.Structure.ID)
	if s.TotalFee != 30000 || s.Balance != 30000 || s.PaidAmount != 0 {
		t.Errorf("summary: got total=%d balance=%d paid=%d", s.TotalFee, s.Balance, s.PaidAmount)
	}
}

func TestEnrollIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.catalog()

	first := f.enroll("s1")
	second := f.enroll("s1")

	if first.Structure.ID.String() != second.Structure.ID.String() {
		t.Errorf("structure ID: got %s, want %s", second.Structure.ID, first.Structure.ID)
	}
	if first.Schedule.ID.String() != second.Schedule.ID.String() {
		t.Errorf("schedule ID: got %s, want %s", second.Schedule.ID, first.Schedule.ID)
	}
	if got := len(f.entries(first.Structure.ID)); got != 2 {
		t.Errorf("entries after redelivered enrollment: got %d, want 2", got)
	}
}

func TestCatalogEditDoesNotTouchFrozenStructures(t *testing.T) {
	f := newFixture(t)
	c := f.catalog()
	before := f.enroll("s1")

	c.Heads[0].Amount = 45000
	if err := f.engine.UpdateCatalog(f.ctx, admin, c); err != nil {
		t.Fatalf("UpdateCatalog: %v", err)
	}
	if c.Version != 2 {
		t.Errorf("catalog version: got %d, want 2", c.Version)
	}

	if got := f.summary(before.Structure.ID).TotalFee; got != 30000 {
		t.Errorf("frozen total after catalog edit: got %d, want 30000", got)
	}
	if got := f.enroll("s2").Structure.BaseAmount; got != 50000 {
		t.Errorf("new enrollment base: got %d, want 50000", got)
	}

	stale := *c
	stale.Version = 1
	if err := f.engine.UpdateCatalog(f.ctx, admin, &stale); !errors.Is(err, feeledger.ErrConcurrencyConflict) {
		t.Errorf("stale catalog update: got %v, want ErrConcurrencyConflict", err)
	}
}

func TestEnrollWithoutCatalog(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Enroll(f.ctx, admin, structure.Enrollment{
		StudentID:    "s1",
		ProgramID:    "unknown",
		AcademicYear: year,
	}, id.SlabID{})

	var cerr *feeledger.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want *ConfigurationError", err)
	}
	if cerr.ProgramID != "unknown" {
		t.Errorf("program: got %q, want %q", cerr.ProgramID, "unknown")
	}
}

func TestEnrollPrefersBatchCatalog(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	f.catalog(func(c *structure.Catalog) {
		c.BatchID = "2025-evening"
		c.Heads = []structure.FeeHead{{Code: "tuition", Name: "Tuition", Amount: 18000}}
	})

	tests := []struct {
		batch string
		want  int64
	}{
		{"2025-evening", 18000},
		{"2025-morning", 30000},
		{"", 30000},
	}

	for _, tt := range tests {
		t.Run("batch "+tt.batch, func(t *testing.T) {
			fs, err := f.engine.CompileStructure(f.ctx, admin, structure.Enrollment{
				StudentID:    "s-" + tt.batch,
				ProgramID:    program,
				BatchID:      tt.batch,
				AcademicYear: year,
			}, id.SlabID{})
			if err != nil {
				t.Fatalf("CompileStructure: %v", err)
			}
			if fs.BaseAmount != tt.want {
				t.Errorf("base: got %d, want %d", fs.BaseAmount, tt.want)
			}
		})
	}
}

func TestEnrollWithScholarshipSlab(t *testing.T) {
	f := newFixture(t)
	f.catalog()

	slab := &structure.Slab{
		Name:    "Merit 10%",
		Kind:    structure.SlabPercent,
		Percent: decimal.NewFromInt(10),
	}
	if err := f.engine.CreateSlab(f.ctx, admin, slab); err != nil {
		t.Fatalf("CreateSlab: %v", err)
	}

	out := f.enrollWithSlab("s1", slab.ID)

	s := f.summary(out.Structure.ID)
	if s.ConcessionAmount != 3000 || s.TotalFee != 27000 {
		t.Errorf("summary: got concession=%d total=%d, want 3000 and 27000", s.ConcessionAmount, s.TotalFee)
	}
	for i, in := range out.Schedule.Installments {
		if in.Amount != 9000 {
			t.Errorf("installment %d: got %d, want 9000", i+1, in.Amount)
		}
	}

	res, err := f.engine.ApplyConcession(f.ctx, admin, out.Structure.ID, slab.ID, "again")
	if err != nil {
		t.Fatalf("ApplyConcession: %v", err)
	}
	if res.Duplicate == nil {
		t.Error("reapplying the enrollment slab: want a duplicate event")
	}
}

func TestEnrollIneligibleSlab(t *testing.T) {
	f := newFixture(t)
	f.catalog()

	slab := &structure.Slab{
		Name:    "Low income",
		Kind:    structure.SlabFixed,
		Fixed:   5000,
		MaxBase: 20000,
	}
	if err := f.engine.CreateSlab(f.ctx, admin, slab); err != nil {
		t.Fatalf("CreateSlab: %v", err)
	}

	_, err := f.engine.Enroll(f.ctx, admin, structure.Enrollment{
		StudentID:    "s1",
		ProgramID:    program,
		AcademicYear: year,
	}, slab.ID)
	if !feeledger.IsValidation(err) {
		t.Errorf("got %v, want a validation error", err)
	}
}

func TestCatalogValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*structure.Catalog)
	}{
		{"no heads", func(c *structure.Catalog) { c.Heads = nil }},
		{"negative head", func(c *structure.Catalog) { c.Heads[0].Amount = -1 }},
		{"duplicate head", func(c *structure.Catalog) { c.Heads[1].Code = c.Heads[0].Code }},
		{"thirteen installments", func(c *structure.Catalog) { c.Plan.Count = 13 }},
		{"missing first due", func(c *structure.Catalog) { c.Plan.FirstDue = time.Time{} }},
		{"bad currency", func(c *structure.Catalog) { c.Currency = "rupees" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &structure.Catalog{
				ProgramID:    program,
				AcademicYear: year,
				Currency:     "inr",
				Heads: []structure.FeeHead{
					{Code: "tuition", Amount: 100},
					{Code: "lab", Amount: 100},
				},
				Plan: structure.InstallmentPlan{Count: 2, FirstDue: date(2026, time.January, 10), IntervalMonths: 1},
			}
			tt.mutate(c)
			if err := f.engine.CreateCatalog(f.ctx, admin, c); !feeledger.IsValidation(err) {
				t.Errorf("got %v, want a validation error", err)
			}
		})
	}
}

func TestRegenerateSchedule(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	if _, err := f.engine.RegenerateSchedule(f.ctx, admin, sf.ID, " "); !feeledger.IsValidation(err) {
		t.Errorf("blank reason: got %v, want a validation error", err)
	}

	if _, err := f.engine.ApplyFine(f.ctx, admin, sf.ID, 3000, "late-jan", "late registration"); err != nil {
		t.Fatalf("ApplyFine: %v", err)
	}

	sched, err := f.engine.RegenerateSchedule(f.ctx, admin, sf.ID, "fold registration fine into installments")
	if err != nil {
		t.Fatalf("RegenerateSchedule: %v", err)
	}
	if sched.Version != 2 {
		t.Errorf("version: got %d, want 2", sched.Version)
	}
	for i, in := range sched.Installments {
		if in.Amount != 11000 {
			t.Errorf("installment %d: got %d, want 11000", i+1, in.Amount)
		}
	}
	if a, ok := f.events.action("regenerate_schedule"); !ok || a.ActorID != admin.ID || a.Err != nil {
		t.Errorf("admin action: got %+v (recorded %v)", a, ok)
	}

	if _, err := f.engine.RecordOfflinePayment(f.ctx, admin, feeledger.OfflinePayment{
		StudentFeeID: sf.ID, Amount: 1000, Mode: entry.ModeCash, Reference: "rcpt-1",
	}); err != nil {
		t.Fatalf("RecordOfflinePayment: %v", err)
	}

	_, err = f.engine.RegenerateSchedule(f.ctx, admin, sf.ID, "again")
	var verr *feeledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("regenerate after payment: got %v, want *ValidationError", err)
	}
	if got := f.events.count("regenerate_schedule"); got != 2 {
		t.Errorf("audited regenerations: got %d, want 2", got)
	}
}

func TestBlockingEvaluation(t *testing.T) {
	tests := []struct {
		name     string
		today    time.Time
		optional []int
		blocking bool
		want     bool
	}{
		{"before due", date(2026, time.January, 5), nil, true, false},
		{"within grace", date(2026, time.January, 17), nil, true, false},
		{"overdue by ten days", date(2026, time.January, 20), nil, true, true},
		{"non-mandatory overdue", date(2026, time.January, 20), []int{1}, true, false},
		{"blocking disabled", date(2026, time.January, 20), nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog(func(c *structure.Catalog) {
				c.Plan.Optional = tt.optional
				c.Policy.BlockingEnabled = tt.blocking
			})
			sf := f.enroll("s1").Structure

			f.clock.Set(tt.today)
			got, err := f.engine.IsBlocked(f.ctx, admin, sf.ID)
			if err != nil {
				t.Fatalf("IsBlocked: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsBlocked: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyCapturedAtAssignment(t *testing.T) {
	f := newFixture(t)
	c := f.catalog()
	sf := f.enroll("s1").Structure

	c.Policy.GracePeriodDays = 60
	if err := f.engine.UpdateCatalog(f.ctx, admin, c); err != nil {
		t.Fatalf("UpdateCatalog: %v", err)
	}

	f.clock.Set(date(2026, time.January, 20))
	s := f.summary(sf.ID)
	if !s.IsBlocked {
		t.Error("blocked: got false, want true under the captured seven day grace period")
	}
	if s.Installments[0].Status != summary.StatusOverdue {
		t.Errorf("status: got %s, want overdue", s.Installments[0].Status)
	}
}
