// Package id defines TypeID-based identity types for fee ledger entities.
//
// Every entity uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all fee ledger entity types.
const (
	PrefixStudentFee  Prefix = "sfee"  // Frozen fee structure for one student and academic year
	PrefixCatalog     Prefix = "fcat"  // Program/batch fee configuration
	PrefixSlab        Prefix = "slab"  // Scholarship slab
	PrefixSchedule    Prefix = "sched" // Installment schedule
	PrefixInstallment Prefix = "inst"  // Installment
	PrefixEntry       Prefix = "lent"  // Ledger entry
	PrefixAttempt     Prefix = "patt"  // Payment attempt
	PrefixReview      Prefix = "rev"   // Operator review item
)

// ID is the primary identifier type for all fee ledger entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "sfee_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// StudentFeeID is a type-safe identifier for frozen student fee structures (prefix: "sfee").
type StudentFeeID = ID

// CatalogID is a type-safe identifier for fee catalogs (prefix: "fcat").
type CatalogID = ID

// SlabID is a type-safe identifier for scholarship slabs (prefix: "slab").
type SlabID = ID

// ScheduleID is a type-safe identifier for installment schedules (prefix: "sched").
type ScheduleID = ID

// InstallmentID is a type-safe identifier for installments (prefix: "inst").
type InstallmentID = ID

// EntryID is a type-safe identifier for ledger entries (prefix: "lent").
type EntryID = ID

// AttemptID is a type-safe identifier for payment attempts (prefix: "patt").
type AttemptID = ID

// ReviewID is a type-safe identifier for review items (prefix: "rev").
type ReviewID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewStudentFeeID generates a new unique studentFee ID.
func NewStudentFeeID() ID { return New(PrefixStudentFee) }

// NewCatalogID generates a new unique catalog ID.
func NewCatalogID() ID { return New(PrefixCatalog) }

// NewSlabID generates a new unique slab ID.
func NewSlabID() ID { return New(PrefixSlab) }

// NewScheduleID generates a new unique schedule ID.
func NewScheduleID() ID { return New(PrefixSchedule) }

// NewInstallmentID generates a new unique installment ID.
func NewInstallmentID() ID { return New(PrefixInstallment) }

// NewEntryID generates a new unique entry ID.
func NewEntryID() ID { return New(PrefixEntry) }

// NewAttemptID generates a new unique attempt ID.
func NewAttemptID() ID { return New(PrefixAttempt) }

// NewReviewID generates a new unique review ID.
func NewReviewID() ID { return New(PrefixReview) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseStudentFeeID parses a string and validates the "sfee" prefix.
func ParseStudentFeeID(s string) (ID, error) { return ParseWithPrefix(s, PrefixStudentFee) }

// ParseCatalogID parses a string and validates the "fcat" prefix.
func ParseCatalogID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCatalog) }

// ParseSlabID parses a string and validates the "slab" prefix.
func ParseSlabID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSlab) }

// ParseScheduleID parses a string and validates the "sched" prefix.
func ParseScheduleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSchedule) }

// ParseInstallmentID parses a string and validates the "inst" prefix.
func ParseInstallmentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInstallment) }

// ParseEntryID parses a string and validates the "lent" prefix.
func ParseEntryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEntry) }

// ParseAttemptID parses a string and validates the "patt" prefix.
func ParseAttemptID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAttempt) }

// ParseReviewID parses a string and validates the "rev" prefix.
func ParseReviewID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReview) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
