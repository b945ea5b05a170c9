package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	feestore "github.com/xraph/feeledger/store"
	"github.com/xraph/feeledger/structure"
)

// compile-time interface check
var _ feestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Ledger appends rely on the unique (student_fee_id, seq) constraint for
// optimistic concurrency and on a partial unique index for idempotency
// keys, so every append is a single multi-row INSERT.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("feeledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", feeledger.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(toCatalogModel(c)).Exec(ctx)
	return classify(err)
}

func (s *Store) GetCatalog(ctx context.Context, catalogID id.CatalogID) (*structure.Catalog, error) {
	m := new(catalogModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", catalogID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrCatalogNotFound
		}
		return nil, err
	}
	return fromCatalogModel(m)
}

func (s *Store) GetActiveCatalog(ctx context.Context, programID, batchID, academicYear string) (*structure.Catalog, error) {
	m := new(catalogModel)
	err := s.pg.NewSelect(m).
		Where("program_id = $1", programID).
		Where("batch_id = $2", batchID).
		Where("academic_year = $3", academicYear).
		Where("status = $4", string(structure.StatusActive)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrCatalogNotFound
		}
		return nil, err
	}
	return fromCatalogModel(m)
}

func (s *Store) ListCatalogs(ctx context.Context, programID, academicYear string) ([]*structure.Catalog, error) {
	var models []catalogModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if programID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("program_id = $%d", argIdx), programID)
	}
	if academicYear != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("academic_year = $%d", argIdx), academicYear)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.pg.NewUpdate((*catalogModel)(nil)).
		Set("currency = $1", m.Currency).
		Set("heads = $2", m.Heads).
		Set("plan = $3", m.Plan).
		Set("policy = $4", m.Policy).
		Set("status = $5", m.Status).
		Set("version = $6", m.Version).
		Set("updated_at = $7", m.UpdatedAt).
		Where("id = $8", m.ID).
		Where("version = $9", expectedVersion).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetCatalog(ctx, c.ID); err != nil {
			return err
		}
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

// ==================== Slab Store ====================

func (s *Store) CreateSlab(ctx context.Context, sl *structure.Slab) error {
	_, err := s.pg.NewInsert(toSlabModel(sl)).Exec(ctx)
	return classify(err)
}

func (s *Store) GetSlab(ctx context.Context, slabID id.SlabID) (*structure.Slab, error) {
	m := new(slabModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", slabID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrSlabNotFound
		}
		return nil, err
	}
	return fromSlabModel(m)
}

func (s *Store) ListSlabs(ctx context.Context, activeOnly bool) ([]*structure.Slab, error) {
	var models []slabModel
	q := s.pg.NewSelect(&models)
	if activeOnly {
		q = q.Where("status = $1", string(structure.StatusActive))
	}
	q = q.OrderExpr("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.pg.NewUpdate(toSlabModel(sl)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return feeledger.ErrSlabNotFound
	}
	return nil
}

// ==================== Structure Store ====================

func (s *Store) CreateStructure(ctx context.Context, fs *structure.FeeStructure) error {
	_, err := s.pg.NewInsert(toStructureModel(fs)).Exec(ctx)
	return classify(err)
}

func (s *Store) GetStructure(ctx context.Context, sfID id.StudentFeeID) (*structure.FeeStructure, error) {
	m := new(structureModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", sfID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrStructureNotFound
		}
		return nil, err
	}
	return fromStructureModel(m)
}

func (s *Store) GetStructureByStudent(ctx context.Context, studentID, academicYear string) (*structure.FeeStructure, error) {
	m := new(structureModel)
	err := s.pg.NewSelect(m).
		Where("student_id = $1", studentID).
		Where("academic_year = $2", academicYear).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrStructureNotFound
		}
		return nil, err
	}
	return fromStructureModel(m)
}

func (s *Store) ListStructures(ctx context.Context, opts structure.ListOpts) ([]*structure.FeeStructure, error) {
	var models []structureModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.ProgramID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("program_id = $%d", argIdx), opts.ProgramID)
	}
	if opts.AcademicYear != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("academic_year = $%d", argIdx), opts.AcademicYear)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
		_, err := s.pg.NewInsert(m).Exec(ctx)
		return classify(err)
	}

	res, err := s.pg.NewUpdate((*scheduleModel)(nil)).
		Set("id = $1", m.ID).
		Set("total = $2", m.Total).
		Set("basis_concession = $3", m.BasisConcession).
		Set("basis_fine = $4", m.BasisFine).
		Set("installments = $5", m.Installments).
		Set("version = $6", m.Version).
		Set("reason = $7", m.Reason).
		Set("generated_by = $8", m.GeneratedBy).
		Set("updated_at = $9", m.UpdatedAt).
		Where("student_fee_id = $10", m.StudentFeeID).
		Where("version = $11", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSchedule(ctx, sc.StudentFeeID); err != nil {
			return err
		}
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, sfID id.StudentFeeID) (*schedule.Schedule, error) {
	m := new(scheduleModel)
	err := s.pg.NewSelect(m).
		Where("student_fee_id = $1", sfID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrScheduleNotFound
		}
		return nil, err
	}
	return fromScheduleModel(m)
}

// ==================== Ledger Store ====================

func (s *Store) LedgerHead(ctx context.Context, sfID id.StudentFeeID) (*feestore.LedgerHead, error) {
	head := &feestore.LedgerHead{}
	err := s.pg.NewRaw(`
		SELECT COALESCE(MAX(seq), 0) FROM feeledger_entries WHERE student_fee_id = $1
	`, sfID.String()).Scan(ctx, &head.Seq)
	if err != nil {
		return nil, err
	}
	err = s.pg.NewRaw(`
		SELECT COALESCE(MAX(version), 0) FROM feeledger_schedules WHERE student_fee_id = $1
	`, sfID.String()).Scan(ctx, &head.ScheduleVersion)
	if err != nil {
		return nil, err
	}
	return head, nil
}

func (s *Store) AppendEntries(ctx context.Context, sfID id.StudentFeeID, expectedSeq int64, entries []*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var last int64
	err := s.pg.NewRaw(`
		SELECT COALESCE(MAX(seq), 0) FROM feeledger_entries WHERE student_fee_id = $1
	`, sfID.String()).Scan(ctx, &last)
	if err != nil {
		return err
	}
	if last != expectedSeq {
		return feeledger.ErrConcurrencyConflict
	}

	models := make([]entryModel, len(entries))
	for i, e := range entries {
		if e.Seq != expectedSeq+int64(i)+1 {
			return feeledger.ErrConcurrencyConflict
		}
		models[i] = *toEntryModel(e)
	}

	// One statement: a racing writer that took the same sequence numbers
	// fails the whole batch on feeledger_entries_seq_key.
	_, err = s.pg.NewInsert(&models).Exec(ctx)
	return classify(err)
}

func (s *Store) ListEntries(ctx context.Context, sfID id.StudentFeeID) ([]*entry.Entry, error) {
	var models []entryModel
	err := s.pg.NewSelect(&models).
		Where("student_fee_id = $1", sfID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	m := new(entryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", entryID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) GetEntryByKey(ctx context.Context, key string) (*entry.Entry, error) {
	if key == "" {
		return nil, feeledger.ErrEntryNotFound
	}
	m := new(entryModel)
	err := s.pg.NewSelect(m).
		Where("idempotency_key = $1", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

// ==================== Payment attempt Store ====================

func (s *Store) CreateAttempt(ctx context.Context, a *payment.Attempt) error {
	_, err := s.pg.NewInsert(toAttemptModel(a)).Exec(ctx)
	return classify(err)
}

func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*payment.Attempt, error) {
	m := new(attemptModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", attemptID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) GetAttemptByGatewayTxn(ctx context.Context, gateway, txnID string) (*payment.Attempt, error) {
	m := new(attemptModel)
	err := s.pg.NewSelect(m).
		Where("gateway = $1", gateway).
		Where("gateway_txn_id = $2", txnID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) UpdateAttempt(ctx context.Context, a *payment.Attempt, expectedVersion int) error {
	m := toAttemptModel(a)
	res, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("state = $1", m.State).
		Set("provisional = $2", m.Provisional).
		Set("gateway_txn_id = $3", m.GatewayTxnID).
		Set("gateway_ref = $4", m.GatewayRef).
		Set("payment_url = $5", m.PaymentURL).
		Set("entry_id = $6", m.EntryID).
		Set("failure_reason = $7", m.FailureReason).
		Set("checks = $8", m.Checks).
		Set("last_checked_at = $9", m.LastCheckedAt).
		Set("version = $10", m.Version).
		Set("updated_at = $11", m.UpdatedAt).
		Where("id = $12", m.ID).
		Where("version = $13", expectedVersion).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetAttempt(ctx, a.ID); err != nil {
			return err
		}
		return feeledger.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, sfID id.StudentFeeID) ([]*payment.Attempt, error) {
	var models []attemptModel
	err := s.pg.NewSelect(&models).
		Where("student_fee_id = $1", sfID.String()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ListAttemptsForSweep(ctx context.Context, opts payment.SweepOpts) ([]*payment.Attempt, error) {
	var models []attemptModel
	q := s.pg.NewSelect(&models).
		Where("state <> $1", string(payment.StateSuccess)).
		Where("(state <> $2 OR provisional)", string(payment.StateFailed))
	if !opts.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < $3", opts.UpdatedBefore)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("updated_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	_, err := s.pg.NewInsert(toReviewModel(item)).Exec(ctx)
	return classify(err)
}

func (s *Store) GetReviewItem(ctx context.Context, reviewID id.ReviewID) (*payment.ReviewItem, error) {
	m := new(reviewModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", reviewID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, feeledger.ErrReviewItemNotFound
		}
		return nil, err
	}
	return fromReviewModel(m)
}

func (s *Store) ListReviewItems(ctx context.Context, opts payment.ReviewListOpts) ([]*payment.ReviewItem, error) {
	var models []reviewModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.AttemptID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("attempt_id = $%d", argIdx), opts.AttemptID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.pg.NewUpdate(toReviewModel(item)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return feeledger.ErrReviewItemNotFound
	}
	return nil
}

// ==================== Defaulter snapshot Store ====================

// ReplaceDefaulters writes a new snapshot generation, publishes it through
// feeledger_defaulter_runs and then prunes older generations. Readers only
// see the rows of the latest published run.
func (s *Store) ReplaceDefaulters(ctx context.Context, asOf time.Time, rows []*defaulter.Row) error {
	generation := asOf.UnixNano()

	_, err := s.pg.NewDelete((*defaulterModel)(nil)).
		Where("generation = $1", generation).
		Exec(ctx)
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		models := make([]defaulterModel, len(rows))
		for i, r := range rows {
			models[i] = *toDefaulterModel(generation, r)
		}
		if _, err := s.pg.NewInsert(&models).Exec(ctx); err != nil {
			return err
		}
	}

	run := &defaulterRunModel{Generation: generation, AsOf: asOf, RowCount: len(rows)}
	_, err = s.pg.NewInsert(run).
		OnConflict("(generation) DO UPDATE").
		Set("as_of = EXCLUDED.as_of").
		Set("row_count = EXCLUDED.row_count").
		Exec(ctx)
	if err != nil {
		return err
	}

	if _, err := s.pg.NewDelete((*defaulterModel)(nil)).Where("generation < $1", generation).Exec(ctx); err != nil {
		return err
	}
	_, err = s.pg.NewDelete((*defaulterRunModel)(nil)).Where("generation < $1", generation).Exec(ctx)
	return err
}

func (s *Store) ListDefaulters(ctx context.Context, opts defaulter.ListOpts) (*defaulter.Report, error) {
	run := new(defaulterRunModel)
	err := s.pg.NewSelect(run).
		OrderExpr("generation DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return &defaulter.Report{Rows: []*defaulter.Row{}}, nil
		}
		return nil, err
	}

	where, args := defaulterFilter(run.Generation, opts)

	var total int
	err = s.pg.NewRaw("SELECT COUNT(*) FROM feeledger_defaulters WHERE "+where, args...).Scan(ctx, &total)
	if err != nil {
		return nil, err
	}

	var models []defaulterModel
	q := s.pg.NewSelect(&models).Where(where, args...)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("total_due DESC, admission_number ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	rep := &defaulter.Report{AsOf: run.AsOf, Total: total, Rows: make([]*defaulter.Row, len(models))}
	for i := range models {
		r, err := fromDefaulterModel(&models[i])
		if err != nil {
			return nil, err
		}
		rep.Rows[i] = r
	}
	return rep, nil
}

// defaulterFilter renders opts as one WHERE expression with positional
// arguments, shared by the count and the page query.
func defaulterFilter(generation int64, opts defaulter.ListOpts) (string, []any) {
	where := "generation = $1"
	args := []any{generation}

	add := func(expr string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+expr, len(args))
	}
	if opts.ProgramID != "" {
		add("program_id = $%d", opts.ProgramID)
	}
	if opts.AcademicYear != "" {
		add("academic_year = $%d", opts.AcademicYear)
	}
	if opts.MinDue > 0 {
		add("total_due >= $%d", opts.MinDue)
	}
	if opts.OnlyOverdue {
		where += " AND overdue_installments > 0"
	}
	if opts.OnlyBlocked {
		where += " AND is_blocked"
	}
	return where, args
}

// ==================== Helpers ====================

const uniqueViolation = "23505"

// classify maps unique violations onto the store sentinels. The constraint
// name tells a lost sequence race from a replayed idempotency key.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "feeledger_entries_seq_key":
		return feeledger.ErrConcurrencyConflict
	case "feeledger_entries_idempotency_key":
		return feeledger.ErrDuplicateIdempotencyKey
	case "feeledger_attempts_gateway_txn":
		return feeledger.ErrGatewayTxnConflict
	default:
		return fmt.Errorf("%w: %s", feeledger.ErrAlreadyExists, pgErr.ConstraintName)
	}
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
