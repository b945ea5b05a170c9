// Package store defines the unified persistence contract of the fee ledger.
package store

import (
	"context"
	"time"

	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
)

// Store is the unified storage interface for all fee ledger entities.
// Methods are declared explicitly rather than by embedding per-entity
// interfaces so that names stay unambiguous.
//
// Implementations return the feeledger sentinel errors: ErrNotFound
// variants for missing records, ErrAlreadyExists for unique violations,
// ErrConcurrencyConflict for lost compare-and-swap races and
// ErrDuplicateIdempotencyKey for ledger key collisions.
type Store interface {
	// Catalog methods
	CreateCatalog(ctx context.Context, c *structure.Catalog) error
	GetCatalog(ctx context.Context, catalogID id.CatalogID) (*structure.Catalog, error)
	// GetActiveCatalog matches batchID exactly; an empty batchID selects
	// the program-wide catalog.
	GetActiveCatalog(ctx context.Context, programID, batchID, academicYear string) (*structure.Catalog, error)
	ListCatalogs(ctx context.Context, programID, academicYear string) ([]*structure.Catalog, error)
	// UpdateCatalog stores c if the stored version equals expectedVersion.
	UpdateCatalog(ctx context.Context, c *structure.Catalog, expectedVersion int) error

	// Slab methods
	CreateSlab(ctx context.Context, s *structure.Slab) error
	GetSlab(ctx context.Context, slabID id.SlabID) (*structure.Slab, error)
	ListSlabs(ctx context.Context, activeOnly bool) ([]*structure.Slab, error)
	UpdateSlab(ctx context.Context, s *structure.Slab) error

	// Structure methods. A student has at most one structure per academic year.
	CreateStructure(ctx context.Context, fs *structure.FeeStructure) error
	GetStructure(ctx context.Context, sfID id.StudentFeeID) (*structure.FeeStructure, error)
	GetStructureByStudent(ctx context.Context, studentID, academicYear string) (*structure.FeeStructure, error)
	ListStructures(ctx context.Context, opts structure.ListOpts) ([]*structure.FeeStructure, error)

	// Schedule methods. SaveSchedule creates when expectedVersion is zero
	// and replaces the schedule at expectedVersion otherwise.
	SaveSchedule(ctx context.Context, s *schedule.Schedule, expectedVersion int) error
	GetSchedule(ctx context.Context, sfID id.StudentFeeID) (*schedule.Schedule, error)

	// Ledger methods. AppendEntries atomically appends entries when the
	// ledger's last sequence number equals expectedSeq. Either every entry
	// lands or none does.
	AppendEntries(ctx context.Context, sfID id.StudentFeeID, expectedSeq int64, entries []*entry.Entry) error
	ListEntries(ctx context.Context, sfID id.StudentFeeID) ([]*entry.Entry, error)
	GetEntry(ctx context.Context, entryID id.EntryID) (*entry.Entry, error)
	GetEntryByKey(ctx context.Context, key string) (*entry.Entry, error)
	// LedgerHead reports the last sequence number and schedule version of
	// a student fee. Both are zero when nothing was written yet.
	LedgerHead(ctx context.Context, sfID id.StudentFeeID) (*LedgerHead, error)

	// Payment attempt methods. UpdateAttempt stores a if the stored
	// version equals expectedVersion.
	CreateAttempt(ctx context.Context, a *payment.Attempt) error
	GetAttempt(ctx context.Context, attemptID id.AttemptID) (*payment.Attempt, error)
	GetAttemptByGatewayTxn(ctx context.Context, gateway, txnID string) (*payment.Attempt, error)
	UpdateAttempt(ctx context.Context, a *payment.Attempt, expectedVersion int) error
	ListAttempts(ctx context.Context, sfID id.StudentFeeID) ([]*payment.Attempt, error)
	ListAttemptsForSweep(ctx context.Context, opts payment.SweepOpts) ([]*payment.Attempt, error)

	// Review queue methods
	CreateReviewItem(ctx context.Context, item *payment.ReviewItem) error
	GetReviewItem(ctx context.Context, reviewID id.ReviewID) (*payment.ReviewItem, error)
	ListReviewItems(ctx context.Context, opts payment.ReviewListOpts) ([]*payment.ReviewItem, error)
	UpdateReviewItem(ctx context.Context, item *payment.ReviewItem) error

	// Defaulter snapshot methods. ReplaceDefaulters swaps the whole snapshot.
	ReplaceDefaulters(ctx context.Context, asOf time.Time, rows []*defaulter.Row) error
	ListDefaulters(ctx context.Context, opts defaulter.ListOpts) (*defaulter.Report, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// LedgerHead marks how far a student fee's ledger and schedule have
// advanced. A projection built at the same head is current.
type LedgerHead struct {
	Seq             int64
	ScheduleVersion int
}
