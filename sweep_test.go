package feeledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/gateway/gatewaytest"
	"github.com/xraph/feeledger/payment"
)

func (f *fixture) sweep() *feeledger.SweepReport {
	f.t.Helper()
	rep, err := f.engine.Sweep(f.ctx, admin)
	if err != nil {
		f.t.Fatalf("Sweep: %v", err)
	}
	return rep
}

func TestSweepSettlesAmbiguousAttempt(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	res, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-9", inr(10000), gateway.StatusAmbiguous))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Attempt.State != payment.StateAmbiguous {
		t.Fatalf("state: got %s, want AMBIGUOUS", res.Attempt.State)
	}

	f.gw.SetStatus(a.ID, gateway.StatusSuccess, "txn-9", inr(10000))
	f.clock.Advance(5 * time.Minute)

	rep := f.sweep()
	if rep.Checked != 1 || rep.Settled != 1 {
		t.Errorf("report: got checked=%d settled=%d, want 1 and 1", rep.Checked, rep.Settled)
	}
	if got := f.attempt(a.ID).State; got != payment.StateSuccess {
		t.Errorf("state after sweep: got %s, want SUCCESS", got)
	}

	// The webhook arrives after the sweep already settled the payment.
	late, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-9", inr(10000), gateway.StatusSuccess))
	if err != nil {
		t.Fatalf("late callback: %v", err)
	}
	if late.Duplicate == nil || len(late.Entries) != 0 {
		t.Errorf("late callback: got %d entries, duplicate=%v", len(late.Entries), late.Duplicate)
	}
	if got := len(f.entries(sf.ID, entry.TypePayment)); got != 1 {
		t.Errorf("payment entries: got %d, want 1", got)
	}

	f.clock.Advance(5 * time.Minute)
	if rep := f.sweep(); rep.Checked != 0 {
		t.Errorf("second sweep checked %d settled attempts", rep.Checked)
	}
}

func TestSweepAfterCallbackIsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	// The payer is still on the gateway page when the first callback arrives.
	if _, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusPending)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if _, err := f.engine.RecordOfflinePayment(f.ctx, admin, feeledger.OfflinePayment{
		StudentFeeID: sf.ID, Amount: 2000, Mode: entry.ModeCash, Reference: "RCT-1",
	}); err != nil {
		t.Fatalf("RecordOfflinePayment: %v", err)
	}

	f.gw.SetStatus(a.ID, gateway.StatusSuccess, "txn-1", inr(10000))
	f.clock.Advance(5 * time.Minute)
	f.sweep()

	res, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(10000), gateway.StatusSuccess))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Duplicate == nil {
		t.Error("callback after sweep: want a duplicate event")
	}
	if got := f.summary(sf.ID).PaidAmount; got != 12000 {
		t.Errorf("paid: got %d, want 12000", got)
	}
}

func TestSweepLeavesPendingAttempts(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	if rep := f.sweep(); rep.Checked != 0 {
		t.Errorf("fresh attempt swept: checked=%d", rep.Checked)
	}

	f.clock.Advance(5 * time.Minute)
	rep := f.sweep()
	if rep.Checked != 1 || rep.Settled != 0 {
		t.Errorf("report: got checked=%d settled=%d, want 1 and 0", rep.Checked, rep.Settled)
	}

	got := f.attempt(a.ID)
	if got.State != payment.StateInitiated {
		t.Errorf("state: got %s, want INITIATED", got.State)
	}
	if got.Checks != 1 || got.LastCheckedAt == nil {
		t.Errorf("check bookkeeping: got checks=%d last=%v", got.Checks, got.LastCheckedAt)
	}
}

func TestSweepSettlesCancelledAttempt(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	if _, err := f.engine.CancelPayment(f.ctx, admin, a.ID, ""); err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}

	f.gw.SetStatus(a.ID, gateway.StatusSuccess, "txn-5", inr(10000))
	f.clock.Advance(5 * time.Minute)

	rep := f.sweep()
	if rep.Settled != 1 {
		t.Errorf("settled: got %d, want 1", rep.Settled)
	}
	got := f.attempt(a.ID)
	if got.State != payment.StateSuccess || got.Provisional {
		t.Errorf("attempt: got state=%s provisional=%v, want SUCCESS", got.State, got.Provisional)
	}
	if got := f.summary(sf.ID).Balance; got != 20000 {
		t.Errorf("balance: got %d, want 20000", got)
	}
}

func TestSweepExpiresUnknownAttempts(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure

	f.gw.FailInitiate(gatewaytest.Transient("reset"), gatewaytest.Transient("reset"), gatewaytest.Transient("reset"))
	_, err := f.engine.InitiatePayment(f.ctx, admin, feeledger.InitiateRequest{
		StudentFeeID: sf.ID, Gateway: gatewayName, Amount: 10000,
	})
	var pf *feeledger.PaymentFailure
	if !errors.As(err, &pf) {
		t.Fatalf("got %v, want *PaymentFailure", err)
	}

	f.clock.Advance(5 * time.Minute)
	rep := f.sweep()
	if rep.Checked != 1 || rep.Failed != 0 {
		t.Errorf("young attempt: got checked=%d failed=%d", rep.Checked, rep.Failed)
	}
	if a := f.attempt(pf.AttemptID); !a.Provisional {
		t.Error("young unknown attempt lost its provisional flag")
	}

	f.clock.Advance(25 * time.Hour)
	rep = f.sweep()
	if rep.Failed != 1 {
		t.Errorf("expired attempt: got failed=%d, want 1", rep.Failed)
	}
	a := f.attempt(pf.AttemptID)
	if a.State != payment.StateFailed || a.Provisional {
		t.Errorf("expired attempt: got state=%s provisional=%v", a.State, a.Provisional)
	}

	f.clock.Advance(5 * time.Minute)
	if rep := f.sweep(); rep.Checked != 0 {
		t.Errorf("terminal attempt swept again: checked=%d", rep.Checked)
	}
}

func TestSweepOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		script  func(f *fixture, a *payment.Attempt)
		want    payment.State
		checked int
		failed  int
	}{
		{
			name: "gateway failure",
			script: func(f *fixture, a *payment.Attempt) {
				f.gw.SetStatus(a.ID, gateway.StatusFailed, "txn-1", inr(a.Amount))
			},
			want:    payment.StateFailed,
			checked: 1,
			failed:  1,
		},
		{
			name: "transient query error",
			script: func(f *fixture, _ *payment.Attempt) {
				f.gw.FailQuery(gatewaytest.Transient("gateway busy"))
			},
			want:    payment.StateInitiated,
			checked: 1,
		},
		{
			name: "still ambiguous",
			script: func(f *fixture, a *payment.Attempt) {
				f.gw.SetStatus(a.ID, gateway.StatusAmbiguous, "txn-1", inr(a.Amount))
			},
			want:    payment.StateInitiated,
			checked: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog()
			sf := f.enroll("s1").Structure
			a := f.initiate(sf.ID, 10000)

			tt.script(f, a)
			f.clock.Advance(5 * time.Minute)

			rep := f.sweep()
			if rep.Checked != tt.checked || rep.Failed != tt.failed {
				t.Errorf("report: got checked=%d failed=%d, want %d and %d", rep.Checked, rep.Failed, tt.checked, tt.failed)
			}
			if got := f.attempt(a.ID).State; got != tt.want {
				t.Errorf("state: got %s, want %s", got, tt.want)
			}
			if got := len(f.entries(sf.ID, entry.TypePayment)); got != 0 {
				t.Errorf("payment entries: got %d, want 0", got)
			}
		})
	}
}

func TestSweepSkipsAttemptsUnderReview(t *testing.T) {
	f := newFixture(t)
	f.catalog()
	sf := f.enroll("s1").Structure
	a := f.initiate(sf.ID, 10000)

	if _, err := f.engine.HandleCallback(f.ctx, f.gw.Callback(a.ID, "txn-1", inr(12000), gateway.StatusSuccess)); err == nil {
		t.Fatal("mismatched callback accepted")
	}

	f.gw.SetStatus(a.ID, gateway.StatusSuccess, "txn-1", inr(12000))
	f.clock.Advance(5 * time.Minute)

	rep := f.sweep()
	if rep.Skipped != 1 || rep.Checked != 0 {
		t.Errorf("report: got skipped=%d checked=%d, want 1 and 0", rep.Skipped, rep.Checked)
	}
	if got := f.gw.QueryCalls(); got != 0 {
		t.Errorf("gateway queried for an attempt under review: %d calls", got)
	}
	if got := len(f.entries(sf.ID, entry.TypePayment)); got != 0 {
		t.Errorf("payment entries: got %d, want 0", got)
	}
}

func TestSweepRequiresCapability(t *testing.T) {
	f := newFixture(t)
	clerk := feeledger.Actor{ID: "clerk", Capabilities: []feeledger.Capability{feeledger.CapRead}}

	if _, err := f.engine.Sweep(f.ctx, clerk); !errors.Is(err, feeledger.ErrForbidden) {
		t.Errorf("Sweep: got %v, want ErrForbidden", err)
	}
	if _, err := f.engine.RefreshDefaulters(f.ctx, clerk); !errors.Is(err, feeledger.ErrForbidden) {
		t.Errorf("RefreshDefaulters: got %v, want ErrForbidden", err)
	}
}
