// Package memory is an in-memory Store for tests and single-process use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/store"
	"github.com/xraph/feeledger/structure"
)

var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by one RWMutex. Returned
// records are copies, so callers can modify them freely.
type Store struct {
	mu sync.RWMutex

	catalogs   map[string]*structure.Catalog
	slabs      map[string]*structure.Slab
	structures map[string]*structure.FeeStructure
	schedules  map[string]*schedule.Schedule

	// Ledger storage: entries per student fee in sequence order, plus
	// global indexes by entry ID and idempotency key.
	ledgers   map[string][]*entry.Entry
	entries   map[string]*entry.Entry
	entryKeys map[string]*entry.Entry

	attempts    map[string]*payment.Attempt
	attemptTxns map[string]string
	reviews     map[string]*payment.ReviewItem

	defaulters     []*defaulter.Row
	defaultersAsOf time.Time

	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		catalogs:    make(map[string]*structure.Catalog),
		slabs:       make(map[string]*structure.Slab),
		structures:  make(map[string]*structure.FeeStructure),
		schedules:   make(map[string]*schedule.Schedule),
		ledgers:     make(map[string][]*entry.Entry),
		entries:     make(map[string]*entry.Entry),
		entryKeys:   make(map[string]*entry.Entry),
		attempts:    make(map[string]*payment.Attempt),
		attemptTxns: make(map[string]string),
		reviews:     make(map[string]*payment.ReviewItem),
	}
}

// ──────────────────────────────────────────────────
// Catalog Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateCatalog(_ context.Context, c *structure.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.catalogs[c.ID.String()]; exists {
		return feeledger.ErrAlreadyExists
	}
	if c.Status == structure.StatusActive {
		for _, other := range s.catalogs {
			if sameCatalogScope(other, c) && other.Status == structure.StatusActive {
				return feeledger.ErrAlreadyExists
			}
		}
	}
	s.catalogs[c.ID.String()] = c.Clone()
	return nil
}

func (s *Store) GetCatalog(_ context.Context, catalogID id.CatalogID) (*structure.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.catalogs[catalogID.String()]; ok {
		return c.Clone(), nil
	}
	return nil, feeledger.ErrCatalogNotFound
}

func (s *Store) GetActiveCatalog(_ context.Context, programID, batchID, academicYear string) (*structure.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.catalogs {
		if c.Status == structure.StatusActive && c.ProgramID == programID &&
			c.BatchID == batchID && c.AcademicYear == academicYear {
			return c.Clone(), nil
		}
	}
	return nil, feeledger.ErrCatalogNotFound
}

func (s *Store) ListCatalogs(_ context.Context, programID, academicYear string) ([]*structure.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*structure.Catalog, 0)
	for _, c := range s.catalogs {
		if (programID == "" || c.ProgramID == programID) && (academicYear == "" || c.AcademicYear == academicYear) {
			result = append(result, c.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateCatalog(_ context.Context, c *structure.Catalog, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.catalogs[c.ID.String()]
	if !ok {
		return feeledger.ErrCatalogNotFound
	}
	if existing.Version != expectedVersion {
		return feeledger.ErrConcurrencyConflict
	}
	if c.Status == structure.StatusActive {
		for _, other := range s.catalogs {
			if other.ID.String() != c.ID.String() && sameCatalogScope(other, c) && other.Status == structure.StatusActive {
				return feeledger.ErrAlreadyExists
			}
		}
	}
	s.catalogs[c.ID.String()] = c.Clone()
	return nil
}

func sameCatalogScope(a, b *structure.Catalog) bool {
	return a.ProgramID == b.ProgramID && a.BatchID == b.BatchID && a.AcademicYear == b.AcademicYear
}

// ──────────────────────────────────────────────────
// Slab Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateSlab(_ context.Context, sl *structure.Slab) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slabs[sl.ID.String()]; exists {
		return feeledger.ErrAlreadyExists
	}
	cp := *sl
	s.slabs[sl.ID.String()] = &cp
	return nil
}

func (s *Store) GetSlab(_ context.Context, slabID id.SlabID) (*structure.Slab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sl, ok := s.slabs[slabID.String()]; ok {
		cp := *sl
		return &cp, nil
	}
	return nil, feeledger.ErrSlabNotFound
}

func (s *Store) ListSlabs(_ context.Context, activeOnly bool) ([]*structure.Slab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*structure.Slab, 0, len(s.slabs))
	for _, sl := range s.slabs {
		if activeOnly && sl.Status != structure.StatusActive {
			continue
		}
		cp := *sl
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) UpdateSlab(_ context.Context, sl *structure.Slab) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slabs[sl.ID.String()]; !ok {
		return feeledger.ErrSlabNotFound
	}
	cp := *sl
	s.slabs[sl.ID.String()] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Structure Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateStructure(_ context.Context, fs *structure.FeeStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.structures[fs.ID.String()]; exists {
		return feeledger.ErrAlreadyExists
	}
	for _, other := range s.structures {
		if other.StudentID == fs.StudentID && other.AcademicYear == fs.AcademicYear {
			return feeledger.ErrAlreadyExists
		}
	}
	s.structures[fs.ID.String()] = fs.Clone()
	return nil
}

func (s *Store) GetStructure(_ context.Context, sfID id.StudentFeeID) (*structure.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fs, ok := s.structures[sfID.String()]; ok {
		return fs.Clone(), nil
	}
	return nil, feeledger.ErrStructureNotFound
}

func (s *Store) GetStructureByStudent(_ context.Context, studentID, academicYear string) (*structure.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, fs := range s.structures {
		if fs.StudentID == studentID && fs.AcademicYear == academicYear {
			return fs.Clone(), nil
		}
	}
	return nil, feeledger.ErrStructureNotFound
}

func (s *Store) ListStructures(_ context.Context, opts structure.ListOpts) ([]*structure.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*structure.FeeStructure, 0)
	for _, fs := range s.structures {
		if opts.ProgramID != "" && fs.ProgramID != opts.ProgramID {
			continue
		}
		if opts.AcademicYear != "" && fs.AcademicYear != opts.AcademicYear {
			continue
		}
		result = append(result, fs.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })

	return page(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Schedule Store implementation
// ──────────────────────────────────────────────────

func (s *Store) SaveSchedule(_ context.Context, sc *schedule.Schedule, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sc.StudentFeeID.String()
	existing, ok := s.schedules[key]
	switch {
	case expectedVersion == 0 && ok:
		return feeledger.ErrAlreadyExists
	case expectedVersion != 0 && !ok:
		return feeledger.ErrScheduleNotFound
	case expectedVersion != 0 && existing.Version != expectedVersion:
		return feeledger.ErrConcurrencyConflict
	}
	cp := *sc
	cp.Installments = append([]schedule.Installment(nil), sc.Installments...)
	s.schedules[key] = &cp
	return nil
}

func (s *Store) GetSchedule(_ context.Context, sfID id.StudentFeeID) (*schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.schedules[sfID.String()]
	if !ok {
		return nil, feeledger.ErrScheduleNotFound
	}
	cp := *sc
	cp.Installments = append([]schedule.Installment(nil), sc.Installments...)
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Ledger Store implementation
// ──────────────────────────────────────────────────

func (s *Store) LedgerHead(_ context.Context, sfID id.StudentFeeID) (*store.LedgerHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head := &store.LedgerHead{}
	if ledger := s.ledgers[sfID.String()]; len(ledger) > 0 {
		head.Seq = ledger[len(ledger)-1].Seq
	}
	if sc, ok := s.schedules[sfID.String()]; ok {
		head.ScheduleVersion = sc.Version
	}
	return head, nil
}

func (s *Store) AppendEntries(_ context.Context, sfID id.StudentFeeID, expectedSeq int64, entries []*entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sfID.String()
	ledger := s.ledgers[key]
	var last int64
	if n := len(ledger); n > 0 {
		last = ledger[n-1].Seq
	}
	if last != expectedSeq {
		return feeledger.ErrConcurrencyConflict
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Seq != expectedSeq+int64(i)+1 {
			return feeledger.ErrConcurrencyConflict
		}
		if e.IdempotencyKey == "" {
			continue
		}
		if _, dup := s.entryKeys[e.IdempotencyKey]; dup || seen[e.IdempotencyKey] {
			return feeledger.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		cp := *e
		ledger = append(ledger, &cp)
		s.entries[cp.ID.String()] = &cp
		if cp.IdempotencyKey != "" {
			s.entryKeys[cp.IdempotencyKey] = &cp
		}
	}
	s.ledgers[key] = ledger
	return nil
}

func (s *Store) ListEntries(_ context.Context, sfID id.StudentFeeID) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.ledgers[sfID.String()]
	result := make([]*entry.Entry, len(ledger))
	for i, e := range ledger {
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

func (s *Store) GetEntry(_ context.Context, entryID id.EntryID) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[entryID.String()]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, feeledger.ErrEntryNotFound
}

func (s *Store) GetEntryByKey(_ context.Context, key string) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entryKeys[key]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, feeledger.ErrEntryNotFound
}

// ──────────────────────────────────────────────────
// Payment attempt Store implementation
// ──────────────────────────────────────────────────

func txnKey(gateway, txnID string) string { return gateway + "\x00" + txnID }

func (s *Store) CreateAttempt(_ context.Context, a *payment.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attempts[a.ID.String()]; exists {
		return feeledger.ErrAlreadyExists
	}
	if a.GatewayTxnID != "" {
		if _, taken := s.attemptTxns[txnKey(a.Gateway, a.GatewayTxnID)]; taken {
			return feeledger.ErrGatewayTxnConflict
		}
		s.attemptTxns[txnKey(a.Gateway, a.GatewayTxnID)] = a.ID.String()
	}
	cp := *a
	s.attempts[a.ID.String()] = &cp
	return nil
}

func (s *Store) GetAttempt(_ context.Context, attemptID id.AttemptID) (*payment.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.attempts[attemptID.String()]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, feeledger.ErrAttemptNotFound
}

func (s *Store) GetAttemptByGatewayTxn(_ context.Context, gateway, txnID string) (*payment.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if attemptID, ok := s.attemptTxns[txnKey(gateway, txnID)]; ok {
		cp := *s.attempts[attemptID]
		return &cp, nil
	}
	return nil, feeledger.ErrAttemptNotFound
}

func (s *Store) UpdateAttempt(_ context.Context, a *payment.Attempt, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.attempts[a.ID.String()]
	if !ok {
		return feeledger.ErrAttemptNotFound
	}
	if existing.Version != expectedVersion {
		return feeledger.ErrConcurrencyConflict
	}
	if a.GatewayTxnID != "" && a.GatewayTxnID != existing.GatewayTxnID {
		k := txnKey(a.Gateway, a.GatewayTxnID)
		if owner, taken := s.attemptTxns[k]; taken && owner != a.ID.String() {
			return feeledger.ErrGatewayTxnConflict
		}
		s.attemptTxns[k] = a.ID.String()
	}
	cp := *a
	s.attempts[a.ID.String()] = &cp
	return nil
}

func (s *Store) ListAttempts(_ context.Context, sfID id.StudentFeeID) ([]*payment.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Attempt, 0)
	for _, a := range s.attempts {
		if a.StudentFeeID.String() == sfID.String() {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListAttemptsForSweep(_ context.Context, opts payment.SweepOpts) ([]*payment.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Attempt, 0)
	for _, a := range s.attempts {
		if !a.NeedsSweep() {
			continue
		}
		if !opts.UpdatedBefore.IsZero() && !a.UpdatedAt.Before(opts.UpdatedBefore) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })

	return page(result, 0, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Review queue Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateReviewItem(_ context.Context, item *payment.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reviews[item.ID.String()]; exists {
		return feeledger.ErrAlreadyExists
	}
	cp := *item
	s.reviews[item.ID.String()] = &cp
	return nil
}

func (s *Store) GetReviewItem(_ context.Context, reviewID id.ReviewID) (*payment.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, ok := s.reviews[reviewID.String()]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, feeledger.ErrReviewItemNotFound
}

func (s *Store) ListReviewItems(_ context.Context, opts payment.ReviewListOpts) ([]*payment.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.ReviewItem, 0)
	for _, item := range s.reviews {
		if opts.Status != "" && item.Status != opts.Status {
			continue
		}
		if !opts.AttemptID.IsNil() && item.AttemptID.String() != opts.AttemptID.String() {
			continue
		}
		cp := *item
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateReviewItem(_ context.Context, item *payment.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviews[item.ID.String()]; !ok {
		return feeledger.ErrReviewItemNotFound
	}
	cp := *item
	s.reviews[item.ID.String()] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Defaulter snapshot Store implementation
// ──────────────────────────────────────────────────

func (s *Store) ReplaceDefaulters(_ context.Context, asOf time.Time, rows []*defaulter.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]*defaulter.Row, len(rows))
	for i, r := range rows {
		cp := *r
		snapshot[i] = &cp
	}
	defaulter.Sort(snapshot)
	s.defaulters = snapshot
	s.defaultersAsOf = asOf
	return nil
}

func (s *Store) ListDefaulters(_ context.Context, opts defaulter.ListOpts) (*defaulter.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep := defaulter.Page(s.defaulters, s.defaultersAsOf, opts)
	rows := make([]*defaulter.Row, len(rep.Rows))
	for i, r := range rep.Rows {
		cp := *r
		rows[i] = &cp
	}
	rep.Rows = rows
	return rep, nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return feeledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
