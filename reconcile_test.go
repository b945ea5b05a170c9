package feeledger_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/gateway/gatewaytest"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/types"
)

func inr(amount int64) types.Money { return types.New(amount, "INR") }

func TestInitiatePayment(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	a := f.initiate(sf.ID, 0)
	if a.State != payment.StateInitiated {
		t.Errorf("state: got %s, want INITIATED", a.State)
	}
	if a.Amount != 30000 {
		t.Errorf("default amount: got %d, want the remaining 30000", a.Amount)
	}
	if a.PaymentURL == "" || a.GatewayRef == "" {
		t.Errorf("gateway response not stored: url=%q ref=%q", a.PaymentURL, a.GatewayRef)
	}
	req, ok := f.gw.Initiated(a.ID)
	if !ok {
		t.Fatal("gateway never saw the attempt")
	}
	if req.Amount.Amount != 30000 {
		t.Errorf("gateway amount: got %d, want 30000", req.Amount.Amount)
	}

	attempts, err := f.engine.ListAttempts(f.ctx, admin, sf.ID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Errorf("attempts: got %d, want 1", len(attempts))
	}
}

func TestInitiatePaymentRefusals(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	tests := []struct {
		name  string
		req   feeledger.InitiateRequest
		check func(error) bool
	}{
		{"unknown gateway", feeledger.InitiateRequest{StudentFeeID: sf.ID, Gateway: "nope", Amount: 100},
			func(err error) bool { return errors.Is(err, feeledger.ErrGatewayNotConfigured) }},
		{"no gateway", feeledger.InitiateRequest{StudentFeeID: sf.ID, Amount: 100},
			feeledger.IsValidation},
		{"negative amount", feeledger.InitiateRequest{StudentFeeID: sf.ID, Gateway: gatewayName, Amount: -1},
			feeledger.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.InitiatePayment(f.ctx, admin, tt.req); !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	f.payOffline(sf.ID, 30000, "RCT-FULL")
	_, err := f.engine.InitiatePayment(f.ctx, admin, feeledger.InitiateRequest{StudentFeeID: sf.ID, Gateway: gatewayName})
	if !feeledger.IsValidation(err) {
		t.Errorf("paying a settled fee: got %v, want a validation error", err)
	}
}

func TestInitiatePaymentRetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	f.gw.FailInitiate(gatewaytest.Transient("timeout"), gatewaytest.Transient("502"))
	a := f.initiate(sf.ID, 10000)

	if got := f.gw.InitiateCalls(); got != 3 {
		t.Errorf("initiate calls: got %d, want 3", got)
	}
	if a.State != payment.StateInitiated || a.PaymentURL == "" {
		t.Errorf("attempt after retries: got state=%s url=%q", a.State, a.PaymentURL)
	}
}

func TestInitiatePaymentFailure(t *testing.T) {
	tests := []struct {
		name        string
		errs        []error
		provisional bool
	}{
		{"terminal", []error{gatewaytest.Terminal("card declined")}, false},
		{"transient exhausted", []error{
			gatewaytest.Transient("down"), gatewaytest.Transient("down"), gatewaytest.Transient("down"),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog()
			sf := f.enroll("s1").Structure

			f.gw.FailInitiate(tt.errs...)
			_, err := f.engine.InitiatePayment(f.ctx, admin, feeledger.InitiateRequest{
				StudentFeeID: sf.ID,
				Gateway:      gatewayName,
				Amount:       10000,
			})

			var pf *feeledger.PaymentFailure
			if !errors.As(err, &pf) {
				t.Fatalf("got %v, want *PaymentFailure", err)
			}
			if !strings.Contains(err.Error(), "safe to retry") {
				t.Errorf("message: got %q", err.Error())
			}

			a := f.attempt(pf.AttemptID)
			if a.State != payment.StateFailed || a.Provisional != tt.provisional {
				t.Errorf("attempt: got state=%s provisional=%v, want FAILED provisional=%v", a.State, a.Provisional, tt.provisional)
			}
			if got := f.summary(sf.ID).Balance; got != 30000 {
				t.Errorf("balance after failed payment: got %d, want 30000", got)
			}
			if f.events.failed != 1 {
				t.Errorf("failed events: got %d, want 1", f.events.failed)
			}
		})
	}
}

func TestCallbackSettlesOnce(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	cb := f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess)

	first, err := f.engine.HandleCallback(f.ctx, cb)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(first.Entries) != 1 || first.Duplicate != nil {
		t.Fatalf("first delivery: got %d entries, duplicate=%v", len(first.Entries), first.Duplicate)
	}
	if first.Attempt.State != payment.StateSuccess || first.Attempt.GatewayTxnID != "txn-1" {
		t.Errorf("attempt: got state=%s txn=%q", first.Attempt.State, first.Attempt.GatewayTxnID)
	}
	if first.Attempt.EntryID.String() != first.Entries[0].ID.String() {
		t.Errorf("attempt entry: got %s, want %s", first.Attempt.EntryID, first.Entries[0].ID)
	}

	for i := 0; i < 3; i++ {
		again, err := f.engine.HandleCallback(f.ctx, cb)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i+1, err)
		}
		if len(again.Entries) != 0 || again.Duplicate == nil {
			t.Errorf("redelivery %d: got %d entries, duplicate=%v", i+1, len(again.Entries), again.Duplicate)
		}
	}

	payments := f.entries(sf.ID, entry.TypePayment)
	if len(payments) != 1 {
		t.Fatalf("payment entries: got %d, want 1", len(payments))
	}
	p := payments[0]
	if p.Mode != entry.ModeOnline || p.GatewayTxnID != "txn-1" || p.CreatedBy != feeledger.SystemActor.ID {
		t.Errorf("payment entry: got mode=%s txn=%q by=%q", p.Mode, p.GatewayTxnID, p.CreatedBy)
	}
	if f.events.reconciled != 1 {
		t.Errorf("reconciled events: got %d, want 1", f.events.reconciled)
	}
}

func TestConcurrentDuplicateCallbacks(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	other := f.enroll("s2").Structure
	a := f.initiate(sf.ID, 10000)

	cb := f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.HandleCallback(f.ctx, cb)
			if err != nil {
				t.Errorf("HandleCallback: %v", err)
				return
			}
			if len(res.Entries) > 0 {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("deliveries that posted: got %d, want 1", applied)
	}
	if got := len(f.entries(sf.ID, entry.TypePayment)); got != 1 {
		t.Errorf("payment entries: got %d, want 1", got)
	}
	if got := f.attempt(a.ID).State; got != payment.StateSuccess {
		t.Errorf("attempt state: got %s, want SUCCESS", got)
	}

	f.clock.Set(date(2026, 3, 1))
	if _, err := f.engine.RefreshDefaulters(f.ctx, admin); err != nil {
		t.Fatalf("RefreshDefaulters: %v", err)
	}
	report, err := f.engine.DefaulterReport(f.ctx, admin, defaulter.ListOpts{})
	if err != nil {
		t.Fatalf("DefaulterReport: %v", err)
	}
	due := map[string]int64{}
	for _, r := range report.Rows {
		due[r.StudentFeeID.String()] = r.TotalDue
	}
	if due[sf.ID.String()] != 20000 {
		t.Errorf("defaulter row for payer: got %d, want 20000", due[sf.ID.String()])
	}
	if due[other.ID.String()] != 30000 {
		t.Errorf("defaulter row for non-payer: got %d, want 30000", due[other.ID.String()])
	}
}

func TestSettlementOrdering(t *testing.T) {
	tests := []struct {
		name string
		// run delivers the reports for one 10000 attempt and returns the
		// outcome of the last one.
		run         func(f *fixture, a *payment.Attempt) (*feeledger.Reconciled, error)
		wantKind    payment.ReviewKind
		wantTxnID   string
		wantPaid    int64
		wantPayment int
	}{
		{
			name: "sweep without txn id then callback",
			run: func(f *fixture, a *payment.Attempt) (*feeledger.Reconciled, error) {
				f.gw.SetStatus(a.ID, gateway.StatusSuccess, "", inr(10000))
				f.clock.Advance(5 * time.Minute)
				if rep := f.sweep(); rep.Settled != 1 {
					f.t.Fatalf("sweep settled: got %d, want 1", rep.Settled)
				}
				return f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess))
			},
			wantTxnID:   "txn-1",
			wantPaid:    10000,
			wantPayment: 1,
		},
		{
			name: "callback then sweep without txn id",
			run: func(f *fixture, a *payment.Attempt) (*feeledger.Reconciled, error) {
				if _, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusPending)); err != nil {
					f.t.Fatalf("pending callback: %v", err)
				}
				f.gw.SetStatus(a.ID, gateway.StatusSuccess, "", inr(10000))
				f.clock.Advance(5 * time.Minute)
				f.sweep()
				return f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess))
			},
			wantTxnID:   "txn-1",
			wantPaid:    10000,
			wantPayment: 1,
		},
		{
			name: "second txn on a settled attempt",
			run: func(f *fixture, a *payment.Attempt) (*feeledger.Reconciled, error) {
				if _, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess)); err != nil {
					f.t.Fatalf("first callback: %v", err)
				}
				return f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-2", inr(10000), gateway.StatusSuccess))
			},
			wantKind:    payment.ReviewTxnConflict,
			wantTxnID:   "txn-1",
			wantPaid:    10000,
			wantPayment: 1,
		},
		{
			name: "second txn on an attempt awaiting settlement",
			run: func(f *fixture, a *payment.Attempt) (*feeledger.Reconciled, error) {
				if _, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusPending)); err != nil {
					f.t.Fatalf("pending callback: %v", err)
				}
				return f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-2", inr(10000), gateway.StatusSuccess))
			},
			wantKind:  payment.ReviewTxnConflict,
			wantTxnID: "txn-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog()
			sf := f.enroll("s1").Structure
			a := f.initiate(sf.ID, 10000)

			res, err := tt.run(f, a)
			if tt.wantKind != "" {
				var mismatch *feeledger.ReconciliationMismatchError
				if !errors.As(err, &mismatch) || mismatch.Kind != tt.wantKind {
					t.Fatalf("got %v, want a %s mismatch", err, tt.wantKind)
				}
			} else {
				if err != nil {
					t.Fatalf("last report: %v", err)
				}
				if res.Duplicate == nil || len(res.Entries) != 0 {
					t.Errorf("last report: got %d entries, duplicate=%v, want a duplicate", len(res.Entries), res.Duplicate)
				}
			}

			if got := len(f.entries(sf.ID, entry.TypePayment, entry.TypeCredit)); got != tt.wantPayment {
				t.Errorf("settling entries: got %d, want %d", got, tt.wantPayment)
			}
			if got := f.summary(sf.ID).PaidAmount; got != tt.wantPaid {
				t.Errorf("paid: got %d, want %d", got, tt.wantPaid)
			}
			if got := f.attempt(a.ID).GatewayTxnID; got != tt.wantTxnID {
				t.Errorf("attempt txn: got %q, want %q", got, tt.wantTxnID)
			}
		})
	}
}

func TestConcurrentCallbackAndSweep(t *testing.T) {
	tests := []struct {
		name     string
		sweepTxn string
	}{
		{"sweep reports the txn", "txn-1"},
		{"sweep reports no txn", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog()
			sf := f.enroll("s1").Structure
			a := f.initiate(sf.ID, 10000)

			f.gw.SetStatus(a.ID, gateway.StatusSuccess, tt.sweepTxn, inr(10000))
			f.clock.Advance(5 * time.Minute)
			cb := f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess)

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					if _, err := f.engine.HandleCallback(f.ctx, cb); err != nil {
						t.Errorf("HandleCallback: %v", err)
					}
				}()
				go func() {
					defer wg.Done()
					if _, err := f.engine.Sweep(f.ctx, admin); err != nil {
						t.Errorf("Sweep: %v", err)
					}
				}()
			}
			wg.Wait()

			if got := len(f.entries(sf.ID, entry.TypePayment, entry.TypeCredit)); got != 1 {
				t.Errorf("settling entries: got %d, want 1", got)
			}
			if got := f.summary(sf.ID).PaidAmount; got != 10000 {
				t.Errorf("paid: got %d, want 10000", got)
			}
			got := f.attempt(a.ID)
			if got.State != payment.StateSuccess || got.GatewayTxnID != "txn-1" {
				t.Errorf("attempt: got state=%s txn=%q, want SUCCESS txn-1", got.State, got.GatewayTxnID)
			}
		})
	}
}

func TestCallbackAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	cb := f.gw.Callback(a.ID, "txn-1", inr(9000), gateway.StatusSuccess)

	var first *feeledger.ReconciliationMismatchError
	_, err := f.engine.HandleCallback(f.ctx, cb)
	if !errors.As(err, &first) {
		t.Fatalf("got %v, want *ReconciliationMismatchError", err)
	}
	if first.Kind != payment.ReviewAmountMismatch || first.Expected != 10000 || first.Received != 9000 {
		t.Errorf("mismatch: got kind=%s expected=%d received=%d", first.Kind, first.Expected, first.Received)
	}

	// A redelivery lands on the same review item.
	var second *feeledger.ReconciliationMismatchError
	if _, err := f.engine.HandleCallback(f.ctx, cb); !errors.As(err, &second) {
		t.Fatalf("redelivery: got %v, want *ReconciliationMismatchError", err)
	}
	if second.ReviewID.String() != first.ReviewID.String() {
		t.Errorf("review item: got %s, want %s", second.ReviewID, first.ReviewID)
	}

	items, err := f.engine.ListReviewItems(f.ctx, admin, payment.ReviewListOpts{Status: payment.ReviewOpen})
	if err != nil {
		t.Fatalf("ListReviewItems: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("open review items: got %d, want 1", len(items))
	}
	if f.events.mismatches != 1 {
		t.Errorf("mismatch events: got %d, want 1", f.events.mismatches)
	}
	if got := len(f.entries(sf.ID, entry.TypePayment, entry.TypeCredit)); got != 0 {
		t.Errorf("money posted for a mismatch: got %d entries", got)
	}

	resolved, err := f.engine.ResolveReviewItem(f.ctx, admin, first.ReviewID, "short payment refunded by gateway")
	if err != nil {
		t.Fatalf("ResolveReviewItem: %v", err)
	}
	if resolved.Status != payment.ReviewResolved || resolved.ResolvedBy != admin.ID || resolved.ResolvedAt == nil {
		t.Errorf("resolved item: got status=%s by=%q at=%v", resolved.Status, resolved.ResolvedBy, resolved.ResolvedAt)
	}
	if _, err := f.engine.ResolveReviewItem(f.ctx, admin, first.ReviewID, "again"); !errors.Is(err, feeledger.ErrReviewResolved) {
		t.Errorf("resolving twice: got %v, want ErrReviewResolved", err)
	}
	if got := f.events.count("resolve_review"); got != 2 {
		t.Errorf("audited resolutions: got %d, want 2", got)
	}
}

func TestCallbackBadSignature(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	cb := f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess)
	cb.Signature = "00ff"

	var mismatch *feeledger.ReconciliationMismatchError
	if _, err := f.engine.HandleCallback(f.ctx, cb); !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want *ReconciliationMismatchError", err)
	}
	if mismatch.Kind != payment.ReviewSignatureMismatch {
		t.Errorf("kind: got %s, want signature_mismatch", mismatch.Kind)
	}
	if got := f.attempt(a.ID).State; got != payment.StateInitiated {
		t.Errorf("attempt state: got %s, want INITIATED", got)
	}
	if got := len(f.entries(sf.ID, entry.TypePayment)); got != 0 {
		t.Errorf("payment entries: got %d, want 0", got)
	}
}

func TestCallbackStates(t *testing.T) {
	tests := []struct {
		status gateway.Status
		want   payment.State
	}{
		{gateway.StatusPending, payment.StateCallbackReceived},
		{gateway.StatusAmbiguous, payment.StateAmbiguous},
		{gateway.StatusFailed, payment.StateFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t)
			f.catalog()
			sf := f.enroll("s1").Structure
			a := f.initiate(sf.ID, 10000)

			res, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), tt.status))
			if err != nil {
				t.Fatalf("HandleCallback: %v", err)
			}
			if res.Attempt.State != tt.want {
				t.Errorf("state: got %s, want %s", res.Attempt.State, tt.want)
			}
			if len(res.Entries) != 0 {
				t.Errorf("entries: got %d, want 0", len(res.Entries))
			}
		})
	}
}

func TestSuccessAfterTerminalFailureIsHeld(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	if _, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusFailed)); err != nil {
		t.Fatalf("failure callback: %v", err)
	}

	var mismatch *feeledger.ReconciliationMismatchError
	_, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess))
	if !errors.As(err, &mismatch) || mismatch.Kind != payment.ReviewTxnConflict {
		t.Fatalf("got %v, want a txn_conflict mismatch", err)
	}
	if got := len(f.entries(sf.ID, entry.TypePayment)); got != 0 {
		t.Errorf("payment entries: got %d, want 0", got)
	}
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	cancelled, err := f.engine.CancelPayment(f.ctx, admin, a.ID, "closed the tab")
	if err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}
	if cancelled.State != payment.StateFailed || !cancelled.Provisional {
		t.Errorf("cancelled: got state=%s provisional=%v", cancelled.State, cancelled.Provisional)
	}
	if cancelled.FailureReason != "cancelled: closed the tab" {
		t.Errorf("reason: got %q", cancelled.FailureReason)
	}

	// The gateway charged the card anyway; the late callback still settles.
	res, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess))
	if err != nil {
		t.Fatalf("late callback: %v", err)
	}
	if res.Attempt.State != payment.StateSuccess || len(res.Entries) != 1 {
		t.Errorf("late callback: got state=%s entries=%d", res.Attempt.State, len(res.Entries))
	}

	if _, err := f.engine.CancelPayment(f.ctx, admin, a.ID, ""); !errors.Is(err, feeledger.ErrAttemptTerminal) {
		t.Errorf("cancel after success: got %v, want ErrAttemptTerminal", err)
	}
}
