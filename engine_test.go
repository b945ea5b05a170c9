package feeledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/gateway/gatewaytest"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/store/memory"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/summary"
)

const (
	gatewayName = "testpay"
	program     = "bsc-cs"
	year        = "2025-26"
)

var admin = feeledger.Actor{ID: "registrar", Capabilities: []feeledger.Capability{feeledger.CapAll}}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	gw     *gatewaytest.Gateway
	clock  *testClock
	events *recorder
	engine *feeledger.Engine
}

func newFixture(t *testing.T, opts ...feeledger.Option) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memory.New(),
		gw:     gatewaytest.New(gatewayName, "whsec_test"),
		clock:  &testClock{now: date(2026, time.January, 1)},
		events: &recorder{},
	}

	base := []feeledger.Option{
		feeledger.WithClock(f.clock.Now),
		feeledger.WithGateway(f.gw),
		feeledger.WithPlugin(f.events),
		feeledger.WithSweepInterval(0),
		feeledger.WithDefaulterRefreshInterval(0),
		feeledger.WithSweepRate(1000, 100),
	}
	f.engine = feeledger.New(f.store, append(base, opts...)...)
	return f
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// catalog creates an active catalog of 30000 split into three monthly
// installments from 10 January 2026.
func (f *fixture) catalog(mutate ...func(*structure.Catalog)) *structure.Catalog {
	f.t.Helper()
	c := &structure.Catalog{
		ProgramID:    program,
		AcademicYear: year,
		Currency:     "inr",
		Heads: []structure.FeeHead{
			{Code: "tuition", Name: "Tuition", Amount: 25000},
			{Code: "lab", Name: "Lab", Amount: 5000},
		},
		Plan: structure.InstallmentPlan{
			Count:          3,
			FirstDue:       date(2026, time.January, 10),
			IntervalMonths: 1,
		},
		Policy: &structure.Policy{
			GracePeriodDays:       7,
			BlockingEnabled:       true,
			OnlinePaymentEnabled:  true,
			OfflinePaymentEnabled: true,
		},
	}
	for _, m := range mutate {
		m(c)
	}
	if err := f.engine.CreateCatalog(f.ctx, admin, c); err != nil {
		f.t.Fatalf("CreateCatalog: %v", err)
	}
	return c
}

func (f *fixture) enroll(studentID string) *feeledger.Enrolled {
	f.t.Helper()
	return f.enrollWithSlab(studentID, id.SlabID{})
}

func (f *fixture) enrollWithSlab(studentID string, slabID id.SlabID) *feeledger.Enrolled {
	f.t.Helper()
	out, err := f.engine.Enroll(f.ctx, admin, structure.Enrollment{
		StudentID:       studentID,
		StudentName:     "Student " + studentID,
		AdmissionNumber: "ADM-" + studentID,
		ProgramID:       program,
		AcademicYear:    year,
	}, slabID)
	if err != nil {
		f.t.Fatalf("Enroll(%s): %v", studentID, err)
	}
	return out
}

func (f *fixture) summary(sfID id.StudentFeeID) *summary.StudentFeeSummary {
	f.t.Helper()
	s, err := f.engine.GetSummary(f.ctx, admin, sfID)
	if err != nil {
		f.t.Fatalf("GetSummary: %v", err)
	}
	return s
}

func (f *fixture) entries(sfID id.StudentFeeID, types ...entry.Type) []*entry.Entry {
	f.t.Helper()
	out, err := f.engine.ListEntries(f.ctx, admin, sfID, entry.ListOpts{Types: types})
	if err != nil {
		f.t.Fatalf("ListEntries: %v", err)
	}
	return out
}

func (f *fixture) initiate(sfID id.StudentFeeID, amount int64) *payment.Attempt {
	f.t.Helper()
	a, err := f.engine.InitiatePayment(f.ctx, admin, feeledger.InitiateRequest{
		StudentFeeID: sfID,
		Gateway:      gatewayName,
		Amount:       amount,
	})
	if err != nil {
		f.t.Fatalf("InitiatePayment: %v", err)
	}
	return a
}

func (f *fixture) attempt(attemptID id.AttemptID) *payment.Attempt {
	f.t.Helper()
	a, err := f.engine.GetAttempt(f.ctx, admin, attemptID)
	if err != nil {
		f.t.Fatalf("GetAttempt: %v", err)
	}
	return a
}

// recorder is a plugin that counts the hooks it receives.
type recorder struct {
	mu         sync.Mutex
	appended   int
	duplicates int
	reconciled int
	failed     int
	mismatches int
	actions    []plugin.AdminAction
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnEntryAppended(context.Context, *entry.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended++
	return nil
}

func (r *recorder) OnDuplicateEvent(context.Context, string, id.EntryID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicates++
	return nil
}

func (r *recorder) OnPaymentReconciled(context.Context, *payment.Attempt, []*entry.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciled++
	return nil
}

func (r *recorder) OnPaymentFailed(context.Context, *payment.Attempt, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	return nil
}

func (r *recorder) OnReconciliationMismatch(context.Context, *payment.ReviewItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mismatches++
	return nil
}

func (r *recorder) OnAdminAction(_ context.Context, a *plugin.AdminAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, *a)
	return nil
}

func (r *recorder) action(name string) (plugin.AdminAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.Action == name {
			return a, true
		}
	}
	return plugin.AdminAction{}, false
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if a.Action == name {
			n++
		}
	}
	return n
}

func TestEngineStartStop(t *testing.T) {
	f := newFixture(t,
		feeledger.WithSweepInterval(10*time.Millisecond),
		feeledger.WithDefaulterRefreshInterval(10*time.Millisecond),
	)

	if err := f.engine.Start(f.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Health(f.ctx); err != nil {
		t.Errorf("Health before stop: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := f.engine.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.engine.Health(f.ctx); !errors.Is(err, feeledger.ErrStoreClosed) {
		t.Errorf("Health after stop: got %v, want ErrStoreClosed", err)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	clerk := feeledger.Actor{ID: "clerk", Capabilities: []feeledger.Capability{feeledger.CapRead}}
	anonymous := feeledger.Actor{}

	tests := []struct {
		name string
		call func() error
	}{
		{"fine without capability", func() error {
			_, err := f.engine.ApplyFine(f.ctx, clerk, sf.ID, 100, "", "late")
			return err
		}},
		{"offline payment without capability", func() error {
			_, err := f.engine.RecordOfflinePayment(f.ctx, clerk, feeledger.OfflinePayment{
				StudentFeeID: sf.ID, Amount: 100, Mode: entry.ModeCash, Reference: "r1",
			})
			return err
		}},
		{"regenerate without capability", func() error {
			_, err := f.engine.RegenerateSchedule(f.ctx, clerk, sf.ID, "typo")
			return err
		}},
		{"anonymous read", func() error {
			_, err := f.engine.GetSummary(f.ctx, anonymous, sf.ID)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, feeledger.ErrForbidden) {
				t.Errorf("got %v, want ErrForbidden", err)
			}
		})
	}

	if _, err := f.engine.GetSummary(f.ctx, clerk, sf.ID); err != nil {
		t.Errorf("read with fees.read: %v", err)
	}
	if got := len(f.entries(sf.ID, entry.TypeFine, entry.TypePayment)); got != 0 {
		t.Errorf("entries after denied writes: got %d, want 0", got)
	}
}

func TestCustomAuthorizer(t *testing.T) {
	var asked []feeledger.Capability
	f := newFixture(t, feeledger.WithAuthorizer(feeledger.AuthorizerFunc(
		func(_ context.Context, _ feeledger.Actor, c feeledger.Capability) error {
			asked = append(asked, c)
			return nil
		})))

	c := f.catalog()
	if _, err := f.engine.GetCatalog(f.ctx, feeledger.Actor{}, c.ID); err != nil {
		t.Fatalf("GetCatalog: %v", err)
	}
	if len(asked) != 2 || asked[0] != feeledger.CapCatalogManage || asked[1] != feeledger.CapRead {
		t.Errorf("capabilities asked: got %v", asked)
	}
}

func TestSummaryCacheSharedStore(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	other := feeledger.New(f.store,
		feeledger.WithClock(f.clock.Now),
		feeledger.WithSweepInterval(0),
		feeledger.WithDefaulterRefreshInterval(0),
	)

	if got := f.summary(sf.ID).PaidAmount; got != 0 {
		t.Fatalf("paid before: got %d, want 0", got)
	}

	if _, err := other.RecordOfflinePayment(f.ctx, admin, feeledger.OfflinePayment{
		StudentFeeID: sf.ID,
		Amount:       10000,
		Mode:         entry.ModeCash,
		Reference:    "RCT-OTHER",
	}); err != nil {
		t.Fatalf("RecordOfflinePayment via second engine: %v", err)
	}

	s := f.summary(sf.ID)
	if s.PaidAmount != 10000 || s.Balance != 20000 {
		t.Errorf("summary after append elsewhere: got paid=%d balance=%d, want 10000 and 20000", s.PaidAmount, s.Balance)
	}

	f.clock.Set(date(2026, time.March, 1))
	if _, err := f.engine.RefreshDefaulters(f.ctx, admin); err != nil {
		t.Fatalf("RefreshDefaulters: %v", err)
	}
	report, err := f.engine.DefaulterReport(f.ctx, admin, defaulter.ListOpts{})
	if err != nil {
		t.Fatalf("DefaulterReport: %v", err)
	}
	if len(report.Rows) != 1 || report.Rows[0].TotalDue != 20000 {
		t.Errorf("defaulter rows: got %+v, want one row due 20000", report.Rows)
	}
}
