package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/store"
	"github.com/xraph/feeledger/store/memory"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

var _ store.Store = (*memory.Store)(nil)

func newEntry(sfID id.StudentFeeID, seq int64, typ entry.Type, amount int64, key string) *entry.Entry {
	return &entry.Entry{
		ID:             id.NewEntryID(),
		StudentFeeID:   sfID,
		Seq:            seq,
		Type:           typ,
		Amount:         amount,
		Currency:       "inr",
		IdempotencyKey: key,
	}
}

func TestAppendEntries(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	sfID := id.NewStudentFeeID()

	opening := []*entry.Entry{
		newEntry(sfID, 1, entry.TypeCharge, 25000, "charge:tuition"),
		newEntry(sfID, 2, entry.TypeCharge, 5000, "charge:lab"),
	}
	if err := s.AppendEntries(ctx, sfID, 0, opening); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}

	tests := []struct {
		name        string
		expectedSeq int64
		entries     []*entry.Entry
		want        error
	}{
		{"stale sequence", 0, []*entry.Entry{newEntry(sfID, 1, entry.TypeFine, 100, "")}, feeledger.ErrConcurrencyConflict},
		{"gap in batch", 2, []*entry.Entry{newEntry(sfID, 4, entry.TypeFine, 100, "")}, feeledger.ErrConcurrencyConflict},
		{"taken key", 2, []*entry.Entry{newEntry(sfID, 3, entry.TypeCharge, 100, "charge:lab")}, feeledger.ErrDuplicateIdempotencyKey},
		{"key repeated in batch", 2, []*entry.Entry{
			newEntry(sfID, 3, entry.TypePayment, -100, "manual:r1"),
			newEntry(sfID, 4, entry.TypeCredit, -100, "manual:r1"),
		}, feeledger.ErrDuplicateIdempotencyKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AppendEntries(ctx, sfID, tt.expectedSeq, tt.entries); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	got, err := s.ListEntries(ctx, sfID)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries after rejected batches: got %d, want 2", len(got))
	}

	got[0].Amount = 1
	again, _ := s.ListEntries(ctx, sfID)
	if again[0].Amount != 25000 {
		t.Errorf("stored entry mutated through a returned copy: got %d", again[0].Amount)
	}

	byKey, err := s.GetEntryByKey(ctx, "charge:lab")
	if err != nil {
		t.Fatalf("GetEntryByKey: %v", err)
	}
	if byKey.Seq != 2 {
		t.Errorf("entry by key: got seq %d, want 2", byKey.Seq)
	}
	if _, err := s.GetEntryByKey(ctx, "charge:library"); !errors.Is(err, feeledger.ErrEntryNotFound) {
		t.Errorf("unknown key: got %v, want ErrEntryNotFound", err)
	}
}

func TestUpdateAttempt(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	newAttempt := func() *payment.Attempt {
		a := &payment.Attempt{
			Entity:       types.NewEntity(now),
			ID:           id.NewAttemptID(),
			StudentFeeID: id.NewStudentFeeID(),
			Amount:       10000,
			Currency:     "inr",
			Gateway:      "testpay",
			State:        payment.StateInitiated,
			Version:      1,
		}
		if err := s.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
		return a
	}

	a := newAttempt()
	b := newAttempt()

	next := *a
	next.State = payment.StateCallbackReceived
	next.GatewayTxnID = "txn-1"
	next.Version = 2
	if err := s.UpdateAttempt(ctx, &next, 1); err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}

	stale := *a
	stale.State = payment.StateFailed
	stale.Version = 2
	if err := s.UpdateAttempt(ctx, &stale, 1); !errors.Is(err, feeledger.ErrConcurrencyConflict) {
		t.Errorf("stale update: got %v, want ErrConcurrencyConflict", err)
	}

	stolen := *b
	stolen.GatewayTxnID = "txn-1"
	stolen.Version = 2
	if err := s.UpdateAttempt(ctx, &stolen, 1); !errors.Is(err, feeledger.ErrGatewayTxnConflict) {
		t.Errorf("second attempt on the same txn: got %v, want ErrGatewayTxnConflict", err)
	}

	owner, err := s.GetAttemptByGatewayTxn(ctx, "testpay", "txn-1")
	if err != nil {
		t.Fatalf("GetAttemptByGatewayTxn: %v", err)
	}
	if owner.ID.String() != a.ID.String() {
		t.Errorf("txn owner: got %s, want %s", owner.ID, a.ID)
	}

	// Two writers that leave the state alone still race on the version.
	withURL := *b
	withURL.PaymentURL = "https://pay.example/b"
	withURL.Version = 2
	if err := s.UpdateAttempt(ctx, &withURL, 1); err != nil {
		t.Fatalf("UpdateAttempt url: %v", err)
	}
	checked := *b
	checked.Checks = 1
	checked.Version = 2
	if err := s.UpdateAttempt(ctx, &checked, 1); !errors.Is(err, feeledger.ErrConcurrencyConflict) {
		t.Errorf("same-state stale update: got %v, want ErrConcurrencyConflict", err)
	}
	got, err := s.GetAttempt(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.PaymentURL != "https://pay.example/b" || got.Version != 2 {
		t.Errorf("stored attempt: got url=%q version=%d, want url kept at version 2", got.PaymentURL, got.Version)
	}
}

func TestListAttemptsForSweep(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	add := func(state payment.State, provisional bool, updated time.Time) id.AttemptID {
		a := &payment.Attempt{
			Entity:      types.Entity{CreatedAt: updated, UpdatedAt: updated},
			ID:          id.NewAttemptID(),
			State:       state,
			Provisional: provisional,
			Gateway:     "testpay",
		}
		if err := s.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
		return a.ID
	}

	older := add(payment.StateAmbiguous, false, base)
	old := add(payment.StateInitiated, false, base.Add(time.Minute))
	add(payment.StateInitiated, false, base.Add(time.Hour))
	add(payment.StateSuccess, false, base)
	add(payment.StateFailed, false, base)
	cancelled := add(payment.StateFailed, true, base.Add(2*time.Minute))

	got, err := s.ListAttemptsForSweep(ctx, payment.SweepOpts{UpdatedBefore: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("ListAttemptsForSweep: %v", err)
	}
	want := []id.AttemptID{older, old, cancelled}
	if len(got) != len(want) {
		t.Fatalf("attempts: got %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID.String() != w.String() {
			t.Errorf("attempt %d: got %s, want %s", i, got[i].ID, w)
		}
	}

	limited, _ := s.ListAttemptsForSweep(ctx, payment.SweepOpts{UpdatedBefore: base.Add(30 * time.Minute), Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited: got %d, want 1", len(limited))
	}
}

func TestCatalogScope(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	add := func(batch string, status structure.Status) *structure.Catalog {
		c := &structure.Catalog{
			ID:           id.NewCatalogID(),
			ProgramID:    "bsc-cs",
			BatchID:      batch,
			AcademicYear: "2025-26",
			Status:       status,
			Version:      1,
		}
		if err := s.CreateCatalog(ctx, c); err != nil {
			t.Fatalf("CreateCatalog: %v", err)
		}
		return c
	}

	wide := add("", structure.StatusActive)
	evening := add("evening", structure.StatusActive)

	dup := &structure.Catalog{ID: id.NewCatalogID(), ProgramID: "bsc-cs", BatchID: "evening", AcademicYear: "2025-26", Status: structure.StatusActive}
	if err := s.CreateCatalog(ctx, dup); !errors.Is(err, feeledger.ErrAlreadyExists) {
		t.Errorf("second active catalog in scope: got %v, want ErrAlreadyExists", err)
	}

	tests := []struct {
		batch string
		want  id.CatalogID
	}{
		{"", wide.ID},
		{"evening", evening.ID},
	}
	for _, tt := range tests {
		got, err := s.GetActiveCatalog(ctx, "bsc-cs", tt.batch, "2025-26")
		if err != nil {
			t.Fatalf("GetActiveCatalog(%q): %v", tt.batch, err)
		}
		if got.ID.String() != tt.want.String() {
			t.Errorf("batch %q: got %s, want %s", tt.batch, got.ID, tt.want)
		}
	}
	if _, err := s.GetActiveCatalog(ctx, "bsc-cs", "morning", "2025-26"); !errors.Is(err, feeledger.ErrCatalogNotFound) {
		t.Errorf("unknown batch: got %v, want ErrCatalogNotFound", err)
	}

	wide.Version = 2
	if err := s.UpdateCatalog(ctx, wide, 1); err != nil {
		t.Fatalf("UpdateCatalog: %v", err)
	}
	if err := s.UpdateCatalog(ctx, wide, 1); !errors.Is(err, feeledger.ErrConcurrencyConflict) {
		t.Errorf("stale catalog update: got %v, want ErrConcurrencyConflict", err)
	}
}

func TestSaveSchedule(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	sfID := id.NewStudentFeeID()

	sc := &schedule.Schedule{
		ID:           id.NewScheduleID(),
		StudentFeeID: sfID,
		Version:      1,
		Installments: []schedule.Installment{{ID: id.NewInstallmentID(), Seq: 1, Amount: 30000}},
	}
	if err := s.SaveSchedule(ctx, sc, 0); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
	if err := s.SaveSchedule(ctx, sc, 0); !errors.Is(err, feeledger.ErrAlreadyExists) {
		t.Errorf("second create: got %v, want ErrAlreadyExists", err)
	}

	sc.Version = 2
	if err := s.SaveSchedule(ctx, sc, 1); err != nil {
		t.Fatalf("SaveSchedule v2: %v", err)
	}
	if err := s.SaveSchedule(ctx, sc, 1); !errors.Is(err, feeledger.ErrConcurrencyConflict) {
		t.Errorf("stale save: got %v, want ErrConcurrencyConflict", err)
	}

	got, err := s.GetSchedule(ctx, sfID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	got.Installments[0].Amount = 1
	again, _ := s.GetSchedule(ctx, sfID)
	if again.Version != 2 || again.Installments[0].Amount != 30000 {
		t.Errorf("stored schedule: got version=%d amount=%d", again.Version, again.Installments[0].Amount)
	}
}

func TestClose(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, feeledger.ErrStoreClosed) {
		t.Errorf("Ping after Close: got %v, want ErrStoreClosed", err)
	}
}
