package mongo

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

// ==================== Catalog models ====================

type feeHeadModel struct {
	Code   string `bson:"code"`
	Name   string `bson:"name"`
	Amount int64  `bson:"amount"`
}

type planModel struct {
	Count          int         `bson:"count"`
	FirstDue       time.Time   `bson:"first_due"`
	IntervalMonths int         `bson:"interval_months"`
	DueDates       []time.Time `bson:"due_dates,omitempty"`
	Optional       []int       `bson:"optional,omitempty"`
}

type policyModel struct {
	GracePeriodDays       int  `bson:"grace_period_days"`
	BlockingEnabled       bool `bson:"blocking_enabled"`
	OnlinePaymentEnabled  bool `bson:"online_payment_enabled"`
	OfflinePaymentEnabled bool `bson:"offline_payment_enabled"`
}

type catalogModel struct {
	grove.BaseModel `grove:"table:feeledger_catalogs"`

	ID           string         `grove:"id,pk"         bson:"_id"`
	ProgramID    string         `grove:"program_id"    bson:"program_id"`
	BatchID      string         `grove:"batch_id"      bson:"batch_id"`
	AcademicYear string         `grove:"academic_year" bson:"academic_year"`
	Currency     string         `grove:"currency"      bson:"currency"`
	Heads        []feeHeadModel `grove:"heads"         bson:"heads"`
	Plan         planModel      `grove:"plan"          bson:"plan"`
	Policy       *policyModel   `grove:"policy"        bson:"policy,omitempty"`
	Status       string         `grove:"status"        bson:"status"`
	Version      int            `grove:"version"       bson:"version"`
	CreatedAt    time.Time      `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time      `grove:"updated_at"    bson:"updated_at"`
}

func toHeadModels(heads []structure.FeeHead) []feeHeadModel {
	out := make([]feeHeadModel, len(heads))
	for i, h := range heads {
		out[i] = feeHeadModel{Code: h.Code, Name: h.Name, Amount: h.Amount}
	}
	return out
}

func fromHeadModels(models []feeHeadModel) []structure.FeeHead {
	out := make([]structure.FeeHead, len(models))
	for i, h := range models {
		out[i] = structure.FeeHead{Code: h.Code, Name: h.Name, Amount: h.Amount}
	}
	return out
}

func toPlanModel(p structure.InstallmentPlan) planModel {
	return planModel{
		Count:          p.Count,
		FirstDue:       p.FirstDue,
		IntervalMonths: p.IntervalMonths,
		DueDates:       p.DueDates,
		Optional:       p.Optional,
	}
}

func fromPlanModel(m planModel) structure.InstallmentPlan {
	return structure.InstallmentPlan{
		Count:          m.Count,
		FirstDue:       m.FirstDue.UTC(),
		IntervalMonths: m.IntervalMonths,
		DueDates:       utcDates(m.DueDates),
		Optional:       m.Optional,
	}
}

func toPolicyModel(p structure.Policy) policyModel {
	return policyModel(p)
}

func toCatalogModel(c *structure.Catalog) *catalogModel {
	m := &catalogModel{
		ID:           c.ID.String(),
		ProgramID:    c.ProgramID,
		BatchID:      c.BatchID,
		AcademicYear: c.AcademicYear,
		Currency:     c.Currency,
		Heads:        toHeadModels(c.Heads),
		Plan:         toPlanModel(c.Plan),
		Status:       string(c.Status),
		Version:      c.Version,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.Policy != nil {
		p := toPolicyModel(*c.Policy)
		m.Policy = &p
	}
	return m
}

func fromCatalogModel(m *catalogModel) (*structure.Catalog, error) {
	catalogID, err := id.ParseCatalogID(m.ID)
	if err != nil {
		return nil, err
	}

	c := &structure.Catalog{
		Entity:       types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:           catalogID,
		ProgramID:    m.ProgramID,
		BatchID:      m.BatchID,
		AcademicYear: m.AcademicYear,
		Currency:     m.Currency,
		Heads:        fromHeadModels(m.Heads),
		Plan:         fromPlanModel(m.Plan),
		Status:       structure.Status(m.Status),
		Version:      m.Version,
	}
	if m.Policy != nil {
		p := structure.Policy(*m.Policy)
		c.Policy = &p
	}
	return c, nil
}

// ==================== Slab models ====================

type slabModel struct {
	grove.BaseModel `grove:"table:feeledger_slabs"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	Name        string    `grove:"name"         bson:"name"`
	Kind        string    `grove:"kind"         bson:"kind"`
	Percent     string    `grove:"percent"      bson:"percent"`
	Fixed       int64     `grove:"fixed"        bson:"fixed"`
	MaxDiscount int64     `grove:"max_discount" bson:"max_discount"`
	MinBase     int64     `grove:"min_base"     bson:"min_base"`
	MaxBase     int64     `grove:"max_base"     bson:"max_base"`
	Status      string    `grove:"status"       bson:"status"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toSlabModel(s *structure.Slab) *slabModel {
	return &slabModel{
		ID:          s.ID.String(),
		Name:        s.Name,
		Kind:        string(s.Kind),
		Percent:     s.Percent.String(),
		Fixed:       s.Fixed,
		MaxDiscount: s.MaxDiscount,
		MinBase:     s.MinBase,
		MaxBase:     s.MaxBase,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromSlabModel(m *slabModel) (*structure.Slab, error) {
	slabID, err := id.ParseSlabID(m.ID)
	if err != nil {
		return nil, err
	}
	pct, err := decimal.NewFromString(m.Percent)
	if err != nil {
		return nil, err
	}

	return &structure.Slab{
		Entity:      types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:          slabID,
		Name:        m.Name,
		Kind:        structure.SlabKind(m.Kind),
		Percent:     pct,
		Fixed:       m.Fixed,
		MaxDiscount: m.MaxDiscount,
		MinBase:     m.MinBase,
		MaxBase:     m.MaxBase,
		Status:      structure.Status(m.Status),
	}, nil
}

// ==================== Structure models ====================

type structureModel struct {
	grove.BaseModel `grove:"table:feeledger_student_fees"`

	ID              string         `grove:"id,pk"            bson:"_id"`
	StudentID       string         `grove:"student_id"       bson:"student_id"`
	StudentName     string         `grove:"student_name"     bson:"student_name"`
	AdmissionNumber string         `grove:"admission_number" bson:"admission_number"`
	ProgramID       string         `grove:"program_id"       bson:"program_id"`
	BatchID         string         `grove:"batch_id"         bson:"batch_id"`
	AcademicYear    string         `grove:"academic_year"    bson:"academic_year"`
	CatalogID       string         `grove:"catalog_id"       bson:"catalog_id"`
	CatalogVersion  int            `grove:"catalog_version"  bson:"catalog_version"`
	Currency        string         `grove:"currency"         bson:"currency"`
	Heads           []feeHeadModel `grove:"heads"            bson:"heads"`
	BaseAmount      int64          `grove:"base_amount"      bson:"base_amount"`
	SlabID          string         `grove:"slab_id"          bson:"slab_id"`
	Plan            planModel      `grove:"plan"             bson:"plan"`
	Policy          policyModel    `grove:"policy"           bson:"policy"`
	CreatedBy       string         `grove:"created_by"       bson:"created_by"`
	CreatedAt       time.Time      `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"       bson:"updated_at"`
}

func toStructureModel(fs *structure.FeeStructure) *structureModel {
	return &structureModel{
		ID:              fs.ID.String(),
		StudentID:       fs.StudentID,
		StudentName:     fs.StudentName,
		AdmissionNumber: fs.AdmissionNumber,
		ProgramID:       fs.ProgramID,
		BatchID:         fs.BatchID,
		AcademicYear:    fs.AcademicYear,
		CatalogID:       fs.CatalogID.String(),
		CatalogVersion:  fs.CatalogVersion,
		Currency:        fs.Currency,
		Heads:           toHeadModels(fs.Heads),
		BaseAmount:      fs.BaseAmount,
		SlabID:          fs.SlabID.String(),
		Plan:            toPlanModel(fs.Plan),
		Policy:          toPolicyModel(fs.Policy),
		CreatedBy:       fs.CreatedBy,
		CreatedAt:       fs.CreatedAt,
		UpdatedAt:       fs.UpdatedAt,
	}
}

func fromStructureModel(m *structureModel) (*structure.FeeStructure, error) {
	sfID, err := id.ParseStudentFeeID(m.ID)
	if err != nil {
		return nil, err
	}
	catalogID, err := id.ParseCatalogID(m.CatalogID)
	if err != nil {
		return nil, err
	}
	slabID, err := optionalID(m.SlabID, id.ParseSlabID)
	if err != nil {
		return nil, err
	}

	return &structure.FeeStructure{
		Entity:          types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:              sfID,
		StudentID:       m.StudentID,
		StudentName:     m.StudentName,
		AdmissionNumber: m.AdmissionNumber,
		ProgramID:       m.ProgramID,
		BatchID:         m.BatchID,
		AcademicYear:    m.AcademicYear,
		CatalogID:       catalogID,
		CatalogVersion:  m.CatalogVersion,
		Currency:        m.Currency,
		Heads:           fromHeadModels(m.Heads),
		BaseAmount:      m.BaseAmount,
		SlabID:          slabID,
		Plan:            fromPlanModel(m.Plan),
		Policy:          structure.Policy(m.Policy),
		CreatedBy:       m.CreatedBy,
	}, nil
}

// ==================== Schedule models ====================

type installmentModel struct {
	ID        string    `bson:"id"`
	Seq       int       `bson:"seq"`
	DueDate   time.Time `bson:"due_date"`
	Amount    int64     `bson:"amount"`
	Mandatory bool      `bson:"mandatory"`
}

type scheduleModel struct {
	grove.BaseModel `grove:"table:feeledger_schedules"`

	ID              string             `grove:"id,pk"            bson:"_id"`
	ScheduleID      string             `grove:"schedule_id"      bson:"schedule_id"`
	Currency        string             `grove:"currency"         bson:"currency"`
	Total           int64              `grove:"total"            bson:"total"`
	BasisConcession int64              `grove:"basis_concession" bson:"basis_concession"`
	BasisFine       int64              `grove:"basis_fine"       bson:"basis_fine"`
	Installments    []installmentModel `grove:"installments"     bson:"installments"`
	Version         int                `grove:"version"          bson:"version"`
	Reason          string             `grove:"reason"           bson:"reason"`
	GeneratedBy     string             `grove:"generated_by"     bson:"generated_by"`
	CreatedAt       time.Time          `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time          `grove:"updated_at"       bson:"updated_at"`
}

// toScheduleModel keys the document by student fee: a student fee has
// exactly one schedule, replaced in place on regeneration.
func toScheduleModel(s *schedule.Schedule) *scheduleModel {
	installments := make([]installmentModel, len(s.Installments))
	for i, inst := range s.Installments {
		installments[i] = installmentModel{
			ID:        inst.ID.String(),
			Seq:       inst.Seq,
			DueDate:   inst.DueDate,
			Amount:    inst.Amount,
			Mandatory: inst.Mandatory,
		}
	}

	return &scheduleModel{
		ID:              s.StudentFeeID.String(),
		ScheduleID:      s.ID.String(),
		Currency:        s.Currency,
		Total:           s.Total,
		BasisConcession: s.BasisConcession,
		BasisFine:       s.BasisFine,
		Installments:    installments,
		Version:         s.Version,
		Reason:          s.Reason,
		GeneratedBy:     s.GeneratedBy,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func fromScheduleModel(m *scheduleModel) (*schedule.Schedule, error) {
	scheduleID, err := id.ParseScheduleID(m.ScheduleID)
	if err != nil {
		return nil, err
	}
	sfID, err := id.ParseStudentFeeID(m.ID)
	if err != nil {
		return nil, err
	}

	installments := make([]schedule.Installment, len(m.Installments))
	for i, inst := range m.Installments {
		instID, err := id.ParseInstallmentID(inst.ID)
		if err != nil {
			return nil, err
		}
		installments[i] = schedule.Installment{
			ID:        instID,
			Seq:       inst.Seq,
			DueDate:   inst.DueDate.UTC(),
			Amount:    inst.Amount,
			Mandatory: inst.Mandatory,
		}
	}

	return &schedule.Schedule{
		Entity:          types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:              scheduleID,
		StudentFeeID:    sfID,
		Currency:        m.Currency,
		Total:           m.Total,
		BasisConcession: m.BasisConcession,
		BasisFine:       m.BasisFine,
		Installments:    installments,
		Version:         m.Version,
		Reason:          m.Reason,
		GeneratedBy:     m.GeneratedBy,
	}, nil
}

// ==================== Entry models ====================

// ledgerHeadModel holds the last sequence number of one ledger. Appends
// advance it with a compare-and-swap before inserting the entries.
type ledgerHeadModel struct {
	grove.BaseModel `grove:"table:feeledger_ledger_heads"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	Seq       int64     `grove:"seq"        bson:"seq"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

type entryModel struct {
	grove.BaseModel `grove:"table:feeledger_entries"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	StudentFeeID   string            `grove:"student_fee_id"  bson:"student_fee_id"`
	Seq            int64             `grove:"seq"             bson:"seq"`
	Type           string            `grove:"type"            bson:"type"`
	Amount         int64             `grove:"amount"          bson:"amount"`
	Currency       string            `grove:"currency"        bson:"currency"`
	Reference      string            `grove:"reference"       bson:"reference,omitempty"`
	Reason         string            `grove:"reason"          bson:"reason,omitempty"`
	Mode           string            `grove:"payment_mode"    bson:"payment_mode,omitempty"`
	AttemptID      string            `grove:"attempt_id"      bson:"attempt_id,omitempty"`
	Gateway        string            `grove:"gateway"         bson:"gateway,omitempty"`
	GatewayTxnID   string            `grove:"gateway_txn_id"  bson:"gateway_txn_id,omitempty"`
	IdempotencyKey string            `grove:"idempotency_key" bson:"idempotency_key,omitempty"`
	ReversesID     string            `grove:"reverses_id"     bson:"reverses_id,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	CreatedBy      string            `grove:"created_by"      bson:"created_by"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:             e.ID.String(),
		StudentFeeID:   e.StudentFeeID.String(),
		Seq:            e.Seq,
		Type:           string(e.Type),
		Amount:         e.Amount,
		Currency:       e.Currency,
		Reference:      e.Reference,
		Reason:         e.Reason,
		Mode:           string(e.Mode),
		AttemptID:      e.AttemptID.String(),
		Gateway:        e.Gateway,
		GatewayTxnID:   e.GatewayTxnID,
		IdempotencyKey: e.IdempotencyKey,
		ReversesID:     e.ReversesID.String(),
		CreatedAt:      e.CreatedAt,
		CreatedBy:      e.CreatedBy,
		Metadata:       e.Metadata,
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	sfID, err := id.ParseStudentFeeID(m.StudentFeeID)
	if err != nil {
		return nil, err
	}
	attemptID, err := optionalID(m.AttemptID, id.ParseAttemptID)
	if err != nil {
		return nil, err
	}
	reversesID, err := optionalID(m.ReversesID, id.ParseEntryID)
	if err != nil {
		return nil, err
	}

	return &entry.Entry{
		ID:             entryID,
		StudentFeeID:   sfID,
		Seq:            m.Seq,
		Type:           entry.Type(m.Type),
		Amount:         m.Amount,
		Currency:       m.Currency,
		Reference:      m.Reference,
		Reason:         m.Reason,
		Mode:           entry.Mode(m.Mode),
		AttemptID:      attemptID,
		Gateway:        m.Gateway,
		GatewayTxnID:   m.GatewayTxnID,
		IdempotencyKey: m.IdempotencyKey,
		ReversesID:     reversesID,
		CreatedAt:      m.CreatedAt.UTC(),
		CreatedBy:      m.CreatedBy,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Payment attempt models ====================

type attemptModel struct {
	grove.BaseModel `grove:"table:feeledger_payment_attempts"`

	ID            string     `grove:"id,pk"           bson:"_id"`
	StudentFeeID  string     `grove:"student_fee_id"  bson:"student_fee_id"`
	Amount        int64      `grove:"amount"          bson:"amount"`
	Currency      string     `grove:"currency"        bson:"currency"`
	Gateway       string     `grove:"gateway"         bson:"gateway"`
	State         string     `grove:"state"           bson:"state"`
	Version       int        `grove:"version"         bson:"version"`
	Provisional   bool       `grove:"provisional"     bson:"provisional"`
	GatewayTxnID  string     `grove:"gateway_txn_id"  bson:"gateway_txn_id,omitempty"`
	GatewayRef    string     `grove:"gateway_ref"     bson:"gateway_ref"`
	PaymentURL    string     `grove:"payment_url"     bson:"payment_url"`
	EntryID       string     `grove:"entry_id"        bson:"entry_id"`
	FailureReason string     `grove:"failure_reason"  bson:"failure_reason"`
	InitiatedBy   string     `grove:"initiated_by"    bson:"initiated_by"`
	Checks        int        `grove:"checks"          bson:"checks"`
	LastCheckedAt *time.Time `grove:"last_checked_at" bson:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `grove:"created_at"      bson:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"      bson:"updated_at"`
}

func toAttemptModel(a *payment.Attempt) *attemptModel {
	return &attemptModel{
		ID:            a.ID.String(),
		StudentFeeID:  a.StudentFeeID.String(),
		Amount:        a.Amount,
		Currency:      a.Currency,
		Gateway:       a.Gateway,
		State:         string(a.State),
		Version:       a.Version,
		Provisional:   a.Provisional,
		GatewayTxnID:  a.GatewayTxnID,
		GatewayRef:    a.GatewayRef,
		PaymentURL:    a.PaymentURL,
		EntryID:       a.EntryID.String(),
		FailureReason: a.FailureReason,
		InitiatedBy:   a.InitiatedBy,
		Checks:        a.Checks,
		LastCheckedAt: a.LastCheckedAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*payment.Attempt, error) {
	attemptID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, err
	}
	sfID, err := id.ParseStudentFeeID(m.StudentFeeID)
	if err != nil {
		return nil, err
	}
	entryID, err := optionalID(m.EntryID, id.ParseEntryID)
	if err != nil {
		return nil, err
	}

	return &payment.Attempt{
		Entity:        types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:            attemptID,
		StudentFeeID:  sfID,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Gateway:       m.Gateway,
		State:         payment.State(m.State),
		Version:       m.Version,
		Provisional:   m.Provisional,
		GatewayTxnID:  m.GatewayTxnID,
		GatewayRef:    m.GatewayRef,
		PaymentURL:    m.PaymentURL,
		EntryID:       entryID,
		FailureReason: m.FailureReason,
		InitiatedBy:   m.InitiatedBy,
		Checks:        m.Checks,
		LastCheckedAt: m.LastCheckedAt,
	}, nil
}

// ==================== Review models ====================

type reviewModel struct {
	grove.BaseModel `grove:"table:feeledger_review_items"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	Kind           string            `grove:"kind"            bson:"kind"`
	Status         string            `grove:"status"          bson:"status"`
	AttemptID      string            `grove:"attempt_id"      bson:"attempt_id"`
	StudentFeeID   string            `grove:"student_fee_id"  bson:"student_fee_id"`
	Gateway        string            `grove:"gateway"         bson:"gateway"`
	GatewayTxnID   string            `grove:"gateway_txn_id"  bson:"gateway_txn_id"`
	ExpectedAmount int64             `grove:"expected_amount" bson:"expected_amount"`
	ReceivedAmount int64             `grove:"received_amount" bson:"received_amount"`
	Detail         string            `grove:"detail"          bson:"detail"`
	Payload        map[string]string `grove:"payload"         bson:"payload,omitempty"`
	Resolution     string            `grove:"resolution"      bson:"resolution,omitempty"`
	ResolvedBy     string            `grove:"resolved_by"     bson:"resolved_by,omitempty"`
	ResolvedAt     *time.Time        `grove:"resolved_at"     bson:"resolved_at,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toReviewModel(r *payment.ReviewItem) *reviewModel {
	return &reviewModel{
		ID:             r.ID.String(),
		Kind:           string(r.Kind),
		Status:         string(r.Status),
		AttemptID:      r.AttemptID.String(),
		StudentFeeID:   r.StudentFeeID.String(),
		Gateway:        r.Gateway,
		GatewayTxnID:   r.GatewayTxnID,
		ExpectedAmount: r.ExpectedAmount,
		ReceivedAmount: r.ReceivedAmount,
		Detail:         r.Detail,
		Payload:        r.Payload,
		Resolution:     r.Resolution,
		ResolvedBy:     r.ResolvedBy,
		ResolvedAt:     r.ResolvedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromReviewModel(m *reviewModel) (*payment.ReviewItem, error) {
	reviewID, err := id.ParseReviewID(m.ID)
	if err != nil {
		return nil, err
	}
	attemptID, err := optionalID(m.AttemptID, id.ParseAttemptID)
	if err != nil {
		return nil, err
	}
	sfID, err := optionalID(m.StudentFeeID, id.ParseStudentFeeID)
	if err != nil {
		return nil, err
	}

	return &payment.ReviewItem{
		Entity:         types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:             reviewID,
		Kind:           payment.ReviewKind(m.Kind),
		Status:         payment.ReviewStatus(m.Status),
		AttemptID:      attemptID,
		StudentFeeID:   sfID,
		Gateway:        m.Gateway,
		GatewayTxnID:   m.GatewayTxnID,
		ExpectedAmount: m.ExpectedAmount,
		ReceivedAmount: m.ReceivedAmount,
		Detail:         m.Detail,
		Payload:        m.Payload,
		Resolution:     m.Resolution,
		ResolvedBy:     m.ResolvedBy,
		ResolvedAt:     m.ResolvedAt,
	}, nil
}

// ==================== Defaulter models ====================

type defaulterRunModel struct {
	grove.BaseModel `grove:"table:feeledger_defaulter_runs"`

	Generation int64     `grove:"generation,pk" bson:"_id"`
	AsOf       time.Time `grove:"as_of"         bson:"as_of"`
	RowCount   int       `grove:"row_count"     bson:"row_count"`
}

type defaulterModel struct {
	grove.BaseModel `grove:"table:feeledger_defaulters"`

	ID                  string     `grove:"id,pk"                bson:"_id"`
	Generation          int64      `grove:"generation"           bson:"generation"`
	StudentFeeID        string     `grove:"student_fee_id"       bson:"student_fee_id"`
	StudentID           string     `grove:"student_id"           bson:"student_id"`
	Name                string     `grove:"name"                 bson:"name"`
	AdmissionNumber     string     `grove:"admission_number"     bson:"admission_number"`
	ProgramID           string     `grove:"program_id"           bson:"program_id"`
	BatchID             string     `grove:"batch_id"             bson:"batch_id"`
	AcademicYear        string     `grove:"academic_year"        bson:"academic_year"`
	Currency            string     `grove:"currency"             bson:"currency"`
	TotalDue            int64      `grove:"total_due"            bson:"total_due"`
	OverdueInstallments int        `grove:"overdue_installments" bson:"overdue_installments"`
	IsBlocked           bool       `grove:"is_blocked"           bson:"is_blocked"`
	LastPaymentDate     *time.Time `grove:"last_payment_date"    bson:"last_payment_date,omitempty"`
	AsOf                time.Time  `grove:"as_of"                bson:"as_of"`
}

func toDefaulterModel(generation int64, r *defaulter.Row) *defaulterModel {
	return &defaulterModel{
		ID:                  r.StudentFeeID.String() + "@" + formatGeneration(generation),
		Generation:          generation,
		StudentFeeID:        r.StudentFeeID.String(),
		StudentID:           r.StudentID,
		Name:                r.Name,
		AdmissionNumber:     r.AdmissionNumber,
		ProgramID:           r.ProgramID,
		BatchID:             r.BatchID,
		AcademicYear:        r.AcademicYear,
		Currency:            r.Currency,
		TotalDue:            r.TotalDue,
		OverdueInstallments: r.OverdueInstallments,
		IsBlocked:           r.IsBlocked,
		LastPaymentDate:     r.LastPaymentDate,
		AsOf:                r.AsOf,
	}
}

func fromDefaulterModel(m *defaulterModel) (*defaulter.Row, error) {
	sfID, err := id.ParseStudentFeeID(m.StudentFeeID)
	if err != nil {
		return nil, err
	}

	return &defaulter.Row{
		StudentFeeID:        sfID,
		StudentID:           m.StudentID,
		Name:                m.Name,
		AdmissionNumber:     m.AdmissionNumber,
		ProgramID:           m.ProgramID,
		BatchID:             m.BatchID,
		AcademicYear:        m.AcademicYear,
		Currency:            m.Currency,
		TotalDue:            m.TotalDue,
		OverdueInstallments: m.OverdueInstallments,
		IsBlocked:           m.IsBlocked,
		LastPaymentDate:     m.LastPaymentDate,
		AsOf:                m.AsOf.UTC(),
	}, nil
}

// optionalID parses an ID field that stores "" for the Nil ID.
func optionalID(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}

// utcDates restores the UTC location BSON datetimes lose on decode.
func utcDates(ts []time.Time) []time.Time {
	if ts == nil {
		return nil
	}
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.UTC()
	}
	return out
}
