package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/feeledger/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"StudentFeeID", id.NewStudentFeeID, "sfee_"},
		{"CatalogID", id.NewCatalogID, "fcat_"},
		{"SlabID", id.NewSlabID, "slab_"},
		{"ScheduleID", id.NewScheduleID, "sched_"},
		{"InstallmentID", id.NewInstallmentID, "inst_"},
		{"EntryID", id.NewEntryID, "lent_"},
		{"AttemptID", id.NewAttemptID, "patt_"},
		{"ReviewID", id.NewReviewID, "rev_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"StudentFeeID", id.NewStudentFeeID, id.ParseStudentFeeID},
		{"CatalogID", id.NewCatalogID, id.ParseCatalogID},
		{"SlabID", id.NewSlabID, id.ParseSlabID},
		{"ScheduleID", id.NewScheduleID, id.ParseScheduleID},
		{"InstallmentID", id.NewInstallmentID, id.ParseInstallmentID},
		{"EntryID", id.NewEntryID, id.ParseEntryID},
		{"AttemptID", id.NewAttemptID, id.ParseAttemptID},
		{"ReviewID", id.NewReviewID, id.ParseReviewID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	attempt := id.NewAttemptID().String()
	if _, err := id.ParseStudentFeeID(attempt); err == nil {
		t.Error("expected an attempt ID to be rejected as a student fee ID")
	}
	entry := id.NewEntryID().String()
	if _, err := id.ParseAttemptID(entry); err == nil {
		t.Error("expected an entry ID to be rejected as an attempt ID")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("nil ID string: got %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("nil ID value: got %v, %v", v, err)
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewStudentFeeID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back id.ID
	if err := back.UnmarshalText(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.String() != original.String() {
		t.Errorf("got %q, want %q", back.String(), original.String())
	}

	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil || !empty.IsNil() {
		t.Errorf("empty text should decode to Nil, got %v (%v)", empty, err)
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewEntryID()
	v, err := original.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var fromString id.ID
	if err := fromString.Scan(v); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("scan string mismatch")
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("scan nil: %v", err)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		s := id.NewEntryID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}
