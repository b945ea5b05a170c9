package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	feestore "github.com/xraph/feeledger/store"
	"github.com/xraph/feeledger/structure"
)

// Collection name constants.
const (
	colCatalogs      = "feeledger_catalogs"
	colSlabs         = "feeledger_slabs"
	colStructures    = "feeledger_student_fees"
	colSchedules     = "feeledger_schedules"
	colLedgerHeads   = "feeledger_ledger_heads"
	colEntries       = "feeledger_entries"
	colAttempts      = "feeledger_payment_attempts"
	colReviews       = "feeledger_review_items"
	colDefaulters    = "feeledger_defaulters"
	colDefaulterRuns = "feeledger_defaulter_runs"
)

// compile-time interface check
var _ feestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// MongoDB has no multi-document atomicity outside replica-set
// transactions, so each ledger keeps a head document with its last
// sequence number. An append first advances the head with a
// compare-and-swap, then inserts the entries; a failed insert rolls the
// head back.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all fee ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %w", feeledger.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) CreateCatalog(ctx context.Context, c *structure.Catalog) error {
	_, err := s.mdb.NewInsert(toCatalogModel(c)).Exec(ctx)
	if err != nil {
		return classify(err, "create catalog")
	}
	return nil
}

func (s *Store) GetCatalog(ctx context.Context, catalogID id.CatalogID) (*structure.Catalog, error) {
	var m catalogModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": catalogID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrCatalogNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get catalog: %w", err)
	}
	return fromCatalogModel(&m)
}

func (s *Store) GetActiveCatalog(ctx context.Context, programID, batchID, academicYear string) (*structure.Catalog, error) {
	var m catalogModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"program_id":    programID,
			"batch_id":      batchID,
			"academic_year": academicYear,
			"status":        string(structure.StatusActive),
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrCatalogNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get active catalog: %w", err)
	}
	return fromCatalogModel(&m)
}

func (s *Store) ListCatalogs(ctx context.Context, programID, academicYear string) ([]*structure.Catalog, error) {
	var models []catalogModel

	filter := bson.M{}
	if programID != "" {
		filter["program_id"] = programID
	}
	if academicYear != "" {
		filter["academic_year"] = academicYear
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list catalogs: %w", err)
	}

	result := make([]*structure.Catalog, len(models))
	for i := range models {
		c, err := fromCatalogModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) UpdateCatalog(ctx context.Context, c *structure.Catalog, expectedVersion int) error {
	m := toCatalogModel(c)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return classify(err, "update catalog")
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetCatalog(ctx, c.ID); err != nil {
			return err
		}
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

// ==================== Slab Store ====================

func (s *Store) CreateSlab(ctx context.Context, sl *structure.Slab) error {
	_, err := s.mdb.NewInsert(toSlabModel(sl)).Exec(ctx)
	if err != nil {
		return classify(err, "create slab")
	}
	return nil
}

func (s *Store) GetSlab(ctx context.Context, slabID id.SlabID) (*structure.Slab, error) {
	var m slabModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": slabID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrSlabNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get slab: %w", err)
	}
	return fromSlabModel(&m)
}

func (s *Store) ListSlabs(ctx context.Context, activeOnly bool) ([]*structure.Slab, error) {
	var models []slabModel

	filter := bson.M{}
	if activeOnly {
		filter["status"] = string(structure.StatusActive)
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list slabs: %w", err)
	}

	result := make([]*structure.Slab, len(models))
	for i := range models {
		sl, err := fromSlabModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sl
	}
	return result, nil
}

func (s *Store) UpdateSlab(ctx context.Context, sl *structure.Slab) error {
	m := toSlabModel(sl)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("feeledger/mongo: update slab: %w", err)
	}
	if res.MatchedCount() == 0 {
		return feeledger.ErrSlabNotFound
	}
	return nil
}

// ==================== Structure Store ====================

func (s *Store) CreateStructure(ctx context.Context, fs *structure.FeeStructure) error {
	_, err := s.mdb.NewInsert(toStructureModel(fs)).Exec(ctx)
	if err != nil {
		return classify(err, "create structure")
	}
	return nil
}

func (s *Store) GetStructure(ctx context.Context, sfID id.StudentFeeID) (*structure.FeeStructure, error) {
	var m structureModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": sfID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrStructureNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get structure: %w", err)
	}
	return fromStructureModel(&m)
}

func (s *Store) GetStructureByStudent(ctx context.Context, studentID, academicYear string) (*structure.FeeStructure, error) {
	var m structureModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"student_id": studentID, "academic_year": academicYear}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrStructureNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get structure by student: %w", err)
	}
	return fromStructureModel(&m)
}

func (s *Store) ListStructures(ctx context.Context, opts structure.ListOpts) ([]*structure.FeeStructure, error) {
	var models []structureModel

	filter := bson.M{}
	if opts.ProgramID != "" {
		filter["program_id"] = opts.ProgramID
	}
	if opts.AcademicYear != "" {
		filter["academic_year"] = opts.AcademicYear
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list structures: %w", err)
	}

	result := make([]*structure.FeeStructure, len(models))
	for i := range models {
		fs, err := fromStructureModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = fs
	}
	return result, nil
}

// ==================== Schedule Store ====================

func (s *Store) SaveSchedule(ctx context.Context, sc *schedule.Schedule, expectedVersion int) error {
	m := toScheduleModel(sc)
	if expectedVersion == 0 {
		_, err := s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			return classify(err, "create schedule")
		}
		return nil
	}

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("feeledger/mongo: save schedule: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetSchedule(ctx, sc.StudentFeeID); err != nil {
			return err
		}
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, sfID id.StudentFeeID) (*schedule.Schedule, error) {
	var m scheduleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": sfID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get schedule: %w", err)
	}
	return fromScheduleModel(&m)
}

// ==================== Ledger Store ====================

// LedgerHead reads the last inserted entry rather than the head document,
// which runs ahead of the entries while an append is in flight.
func (s *Store) LedgerHead(ctx context.Context, sfID id.StudentFeeID) (*feestore.LedgerHead, error) {
	head := &feestore.LedgerHead{}

	var last struct {
		Seq int64 `bson:"seq"`
	}
	err := s.mdb.Collection(colEntries).FindOne(ctx,
		bson.M{"student_fee_id": sfID.String()},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetProjection(bson.M{"seq": 1}),
	).Decode(&last)
	switch {
	case err == nil:
		head.Seq = last.Seq
	case !isNoDocuments(err):
		return nil, fmt.Errorf("feeledger/mongo: ledger head: %w", err)
	}

	var sched struct {
		Version int `bson:"version"`
	}
	err = s.mdb.Collection(colSchedules).FindOne(ctx,
		bson.M{"_id": sfID.String()},
		options.FindOne().SetProjection(bson.M{"version": 1}),
	).Decode(&sched)
	switch {
	case err == nil:
		head.ScheduleVersion = sched.Version
	case !isNoDocuments(err):
		return nil, fmt.Errorf("feeledger/mongo: schedule version: %w", err)
	}
	return head, nil
}

func (s *Store) AppendEntries(ctx context.Context, sfID id.StudentFeeID, expectedSeq int64, entries []*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	keys := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	docs := make([]any, len(entries))
	for i, e := range entries {
		if e.Seq != expectedSeq+int64(i)+1 {
			return feeledger.ErrConcurrencyConflict
		}
		if k := e.IdempotencyKey; k != "" {
			if seen[k] {
				return feeledger.ErrDuplicateIdempotencyKey
			}
			seen[k] = true
			keys = append(keys, k)
		}
		docs[i] = toEntryModel(e)
	}

	if len(keys) > 0 {
		n, err := s.mdb.Collection(colEntries).CountDocuments(ctx, bson.M{"idempotency_key": bson.M{"$in": keys}})
		if err != nil {
			return fmt.Errorf("feeledger/mongo: check idempotency keys: %w", err)
		}
		if n > 0 {
			return feeledger.ErrDuplicateIdempotencyKey
		}
	}

	next := expectedSeq + int64(len(entries))
	if err := s.advanceHead(ctx, sfID.String(), expectedSeq, next); err != nil {
		return err
	}

	if _, err := s.mdb.Collection(colEntries).InsertMany(ctx, docs); err != nil {
		s.rollbackAppend(ctx, sfID.String(), entries, next, expectedSeq)
		return classify(err, "append entries")
	}
	return nil
}

// advanceHead moves the ledger head from expected to next. The first
// append creates the head; a concurrent creator loses on the _id index.
func (s *Store) advanceHead(ctx context.Context, sfID string, expected, next int64) error {
	col := s.mdb.Collection(colLedgerHeads)
	now := time.Now().UTC()

	if expected == 0 {
		_, err := col.InsertOne(ctx, &ledgerHeadModel{ID: sfID, Seq: next, UpdatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return feeledger.ErrConcurrencyConflict
		}
		if err != nil {
			return fmt.Errorf("feeledger/mongo: create ledger head: %w", err)
		}
		return nil
	}

	res, err := col.UpdateOne(ctx,
		bson.M{"_id": sfID, "seq": expected},
		bson.M{"$set": bson.M{"seq": next, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("feeledger/mongo: advance ledger head: %w", err)
	}
	if res.MatchedCount == 0 {
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

// rollbackAppend removes whatever part of a failed batch landed and moves
// the head back, so the next writer sees the ledger as it was.
func (s *Store) rollbackAppend(ctx context.Context, sfID string, entries []*entry.Entry, from, to int64) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID.String()
	}
	_, _ = s.mdb.Collection(colEntries).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}) //nolint:errcheck // best-effort

	if to == 0 {
		_, _ = s.mdb.Collection(colLedgerHeads).DeleteOne(ctx, bson.M{"_id": sfID, "seq": from}) //nolint:errcheck // best-effort
		return
	}
	_, _ = s.mdb.Collection(colLedgerHeads).UpdateOne(ctx, //nolint:errcheck // best-effort
		bson.M{"_id": sfID, "seq": from},
		bson.M{"$set": bson.M{"seq": to}},
	)
}

func (s *Store) ListEntries(ctx context.Context, sfID id.StudentFeeID) ([]*entry.Entry, error) {
	var models []entryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"student_fee_id": sfID.String()}).
		Sort(bson.D{{Key: "seq", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list entries: %w", err)
	}

	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*entry.Entry, error) {
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": entryID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) GetEntryByKey(ctx context.Context, key string) (*entry.Entry, error) {
	if key == "" {
		return nil, feeledger.ErrEntryNotFound
	}
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"idempotency_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get entry by key: %w", err)
	}
	return fromEntryModel(&m)
}

// ==================== Payment attempt Store ====================

func (s *Store) CreateAttempt(ctx context.Context, a *payment.Attempt) error {
	_, err := s.mdb.NewInsert(toAttemptModel(a)).Exec(ctx)
	if err != nil {
		return classify(err, "create attempt")
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*payment.Attempt, error) {
	var m attemptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": attemptID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get attempt: %w", err)
	}
	return fromAttemptModel(&m)
}

func (s *Store) GetAttemptByGatewayTxn(ctx context.Context, gateway, txnID string) (*payment.Attempt, error) {
	var m attemptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"gateway": gateway, "gateway_txn_id": txnID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get attempt by txn: %w", err)
	}
	return fromAttemptModel(&m)
}

func (s *Store) UpdateAttempt(ctx context.Context, a *payment.Attempt, expectedVersion int) error {
	m := toAttemptModel(a)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return classify(err, "update attempt")
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetAttempt(ctx, a.ID); err != nil {
			return err
		}
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, sfID id.StudentFeeID) ([]*payment.Attempt, error) {
	var models []attemptModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"student_fee_id": sfID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list attempts: %w", err)
	}
	return fromAttemptModels(models)
}

func (s *Store) ListAttemptsForSweep(ctx context.Context, opts payment.SweepOpts) ([]*payment.Attempt, error) {
	var models []attemptModel

	filter := bson.M{
		"$or": bson.A{
			bson.M{"state": bson.M{"$nin": bson.A{string(payment.StateSuccess), string(payment.StateFailed)}}},
			bson.M{"state": string(payment.StateFailed), "provisional": true},
		},
	}
	if !opts.UpdatedBefore.IsZero() {
		filter["updated_at"] = bson.M{"$lt": opts.UpdatedBefore}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "updated_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list attempts for sweep: %w", err)
	}
	return fromAttemptModels(models)
}

func fromAttemptModels(models []attemptModel) ([]*payment.Attempt, error) {
	result := make([]*payment.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== Review queue Store ====================

func (s *Store) CreateReviewItem(ctx context.Context, item *payment.ReviewItem) error {
	_, err := s.mdb.NewInsert(toReviewModel(item)).Exec(ctx)
	if err != nil {
		return classify(err, "create review item")
	}
	return nil
}

func (s *Store) GetReviewItem(ctx context.Context, reviewID id.ReviewID) (*payment.ReviewItem, error) {
	var m reviewModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": reviewID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, feeledger.ErrReviewItemNotFound
		}
		return nil, fmt.Errorf("feeledger/mongo: get review item: %w", err)
	}
	return fromReviewModel(&m)
}

func (s *Store) ListReviewItems(ctx context.Context, opts payment.ReviewListOpts) ([]*payment.ReviewItem, error) {
	var models []reviewModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.AttemptID.IsNil() {
		filter["attempt_id"] = opts.AttemptID.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list review items: %w", err)
	}

	result := make([]*payment.ReviewItem, len(models))
	for i := range models {
		item, err := fromReviewModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = item
	}
	return result, nil
}

func (s *Store) UpdateReviewItem(ctx context.Context, item *payment.ReviewItem) error {
	m := toReviewModel(item)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("feeledger/mongo: update review item: %w", err)
	}
	if res.MatchedCount() == 0 {
		return feeledger.ErrReviewItemNotFound
	}
	return nil
}

// ==================== Defaulter snapshot Store ====================

// ReplaceDefaulters writes a new snapshot generation, publishes it through
// the runs collection and then prunes older generations.
func (s *Store) ReplaceDefaulters(ctx context.Context, asOf time.Time, rows []*defaulter.Row) error {
	generation := asOf.UnixNano()
	col := s.mdb.Collection(colDefaulters)

	if _, err := col.DeleteMany(ctx, bson.M{"generation": generation}); err != nil {
		return fmt.Errorf("feeledger/mongo: clear defaulter generation: %w", err)
	}
	if len(rows) > 0 {
		docs := make([]any, len(rows))
		for i, r := range rows {
			docs[i] = toDefaulterModel(generation, r)
		}
		if _, err := col.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("feeledger/mongo: insert defaulters: %w", err)
		}
	}

	_, err := s.mdb.Collection(colDefaulterRuns).UpdateOne(ctx,
		bson.M{"_id": generation},
		bson.M{"$set": bson.M{"as_of": asOf, "row_count": len(rows)}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("feeledger/mongo: publish defaulter run: %w", err)
	}

	if _, err := col.DeleteMany(ctx, bson.M{"generation": bson.M{"$lt": generation}}); err != nil {
		return fmt.Errorf("feeledger/mongo: prune defaulters: %w", err)
	}
	if _, err := s.mdb.Collection(colDefaulterRuns).DeleteMany(ctx, bson.M{"_id": bson.M{"$lt": generation}}); err != nil {
		return fmt.Errorf("feeledger/mongo: prune defaulter runs: %w", err)
	}
	return nil
}

func (s *Store) ListDefaulters(ctx context.Context, opts defaulter.ListOpts) (*defaulter.Report, error) {
	var run defaulterRunModel
	err := s.mdb.NewFind(&run).
		Sort(bson.D{{Key: "_id", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return &defaulter.Report{Rows: []*defaulter.Row{}}, nil
		}
		return nil, fmt.Errorf("feeledger/mongo: latest defaulter run: %w", err)
	}

	filter := bson.M{"generation": run.Generation}
	if opts.ProgramID != "" {
		filter["program_id"] = opts.ProgramID
	}
	if opts.AcademicYear != "" {
		filter["academic_year"] = opts.AcademicYear
	}
	if opts.MinDue > 0 {
		filter["total_due"] = bson.M{"$gte": opts.MinDue}
	}
	if opts.OnlyOverdue {
		filter["overdue_installments"] = bson.M{"$gt": 0}
	}
	if opts.OnlyBlocked {
		filter["is_blocked"] = true
	}

	total, err := s.mdb.Collection(colDefaulters).CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("feeledger/mongo: count defaulters: %w", err)
	}

	var models []defaulterModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "total_due", Value: -1}, {Key: "admission_number", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("feeledger/mongo: list defaulters: %w", err)
	}

	rep := &defaulter.Report{AsOf: run.AsOf.UTC(), Total: int(total), Rows: make([]*defaulter.Row, len(models))}
	for i := range models {
		r, err := fromDefaulterModel(&models[i])
		if err != nil {
			return nil, err
		}
		rep.Rows[i] = r
	}
	return rep, nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// classify maps duplicate key errors onto the store sentinels using the
// name of the violated index.
func classify(err error, op string) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("feeledger/mongo: %s: %w", op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "uniq_entries_seq"):
		return feeledger.ErrConcurrencyConflict
	case strings.Contains(msg, "uniq_entries_idempotency_key"):
		return feeledger.ErrDuplicateIdempotencyKey
	case strings.Contains(msg, "uniq_attempts_gateway_txn"):
		return feeledger.ErrGatewayTxnConflict
	default:
		return fmt.Errorf("%w: %s", feeledger.ErrAlreadyExists, op)
	}
}

func formatGeneration(g int64) string {
	return strconv.FormatInt(g, 36)
}

// migrationIndexes returns the index definitions for all fee ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	nonEmpty := func(field string) bson.M { return bson.M{field: bson.M{"$gt": ""}} }

	return map[string][]mongo.IndexModel{
		colCatalogs: {
			{
				Keys: bson.D{{Key: "program_id", Value: 1}, {Key: "batch_id", Value: 1}, {Key: "academic_year", Value: 1}},
				Options: options.Index().SetName("uniq_catalogs_active_scope").SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(structure.StatusActive)}),
			},
		},
		colSlabs: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "name", Value: 1}}},
		},
		colStructures: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "academic_year", Value: 1}},
				Options: options.Index().SetName("uniq_structures_student_year").SetUnique(true),
			},
			{Keys: bson.D{{Key: "program_id", Value: 1}, {Key: "academic_year", Value: 1}}},
		},
		colEntries: {
			{
				Keys:    bson.D{{Key: "student_fee_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetName("uniq_entries_seq").SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetName("uniq_entries_idempotency_key").SetUnique(true).
					SetPartialFilterExpression(nonEmpty("idempotency_key")),
			},
		},
		colAttempts: {
			{
				Keys: bson.D{{Key: "gateway", Value: 1}, {Key: "gateway_txn_id", Value: 1}},
				Options: options.Index().SetName("uniq_attempts_gateway_txn").SetUnique(true).
					SetPartialFilterExpression(nonEmpty("gateway_txn_id")),
			},
			{Keys: bson.D{{Key: "student_fee_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "updated_at", Value: 1}}},
		},
		colReviews: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "attempt_id", Value: 1}}},
		},
		colDefaulters: {
			{Keys: bson.D{{Key: "generation", Value: 1}, {Key: "total_due", Value: -1}, {Key: "admission_number", Value: 1}}},
		},
	}
}
