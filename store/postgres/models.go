package postgres

import (
	"encoding/json"
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

type catalogModel struct {
	grove.BaseModel `grove:"table:feeledger_catalogs"`

	ID           string          `grove:"id,pk"`
	ProgramID    string          `grove:"program_id"`
	BatchID      string          `grove:"batch_id"`
	AcademicYear string          `grove:"academic_year"`
	Currency     string          `grove:"currency"`
	Heads        json.RawMessage `grove:"heads,type:jsonb"`
	Plan         json.RawMessage `grove:"plan,type:jsonb"`
	Policy       json.RawMessage `grove:"policy,type:jsonb"`
	Status       string          `grove:"status"`
	Version      int             `grove:"version"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
}

func toCatalogModel(c *structure.Catalog) *catalogModel {
	heads, _ := json.Marshal(c.Heads) //nolint:errcheck // plain structs
	plan, _ := json.Marshal(c.Plan)   //nolint:errcheck // plain structs
	var policy json.RawMessage
	if c.Policy != nil {
		policy, _ = json.Marshal(c.Policy) //nolint:errcheck // plain structs
	}

	return &catalogModel{
		ID:           c.ID.String(),
		ProgramID:    c.ProgramID,
		BatchID:      c.BatchID,
		AcademicYear: c.AcademicYear,
		Currency:     c.Currency,
		Heads:        heads,
		Plan:         plan,
		Policy:       policy,
		Status:       string(c.Status),
		Version:      c.Version,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func fromCatalogModel(m *catalogModel) (*structure.Catalog, error) {
	catalogID, err := id.ParseCatalogID(m.ID)
	if err != nil {
		return nil, err
	}

	c := &structure.Catalog{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           catalogID,
		ProgramID:    m.ProgramID,
		BatchID:      m.BatchID,
		AcademicYear: m.AcademicYear,
		Currency:     m.Currency,
		Status:       structure.Status(m.Status),
		Version:      m.Version,
	}
	if err := json.Unmarshal(m.Heads, &c.Heads); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.Plan, &c.Plan); err != nil {
		return nil, err
	}
	if len(m.Policy) > 0 && string(m.Policy) != "null" {
		c.Policy = new(structure.Policy)
		if err := json.Unmarshal(m.Policy, c.Policy); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ==================== Slab models ====================

type slabModel struct {
	grove.BaseModel `grove:"table:feeledger_slabs"`

	ID          string    `grove:"id,pk"`
	Name        string    `grove:"name"`
	Kind        string    `grove:"kind"`
	Percent     string    `grove:"percent"`
	Fixed       int64     `grove:"fixed"`
	MaxDiscount int64     `grove:"max_discount"`
	MinBase     int64     `grove:"min_base"`
	MaxBase     int64     `grove:"max_base"`
	Status      string    `grove:"status"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
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
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
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

	ID              string          `grove:"id,pk"`
	StudentID       string          `grove:"student_id"`
	StudentName     string          `grove:"student_name"`
	AdmissionNumber string          `grove:"admission_number"`
	ProgramID       string          `grove:"program_id"`
	BatchID         string          `grove:"batch_id"`
	AcademicYear    string          `grove:"academic_year"`
	CatalogID       string          `grove:"catalog_id"`
	CatalogVersion  int             `grove:"catalog_version"`
	Currency        string          `grove:"currency"`
	Heads           json.RawMessage `grove:"heads,type:jsonb"`
	BaseAmount      int64           `grove:"base_amount"`
	SlabID          string          `grove:"slab_id"`
	Plan            json.RawMessage `grove:"plan,type:jsonb"`
	Policy          json.RawMessage `grove:"policy,type:jsonb"`
	CreatedBy       string          `grove:"created_by"`
	CreatedAt       time.Time       `grove:"created_at"`
	UpdatedAt       time.Time       `grove:"updated_at"`
}

func toStructureModel(fs *structure.FeeStructure) *structureModel {
	heads, _ := json.Marshal(fs.Heads)   //nolint:errcheck // plain structs
	plan, _ := json.Marshal(fs.Plan)     //nolint:errcheck // plain structs
	policy, _ := json.Marshal(fs.Policy) //nolint:errcheck // plain structs

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
		Heads:           heads,
		BaseAmount:      fs.BaseAmount,
		SlabID:          fs.SlabID.String(),
		Plan:            plan,
		Policy:          policy,
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

	fs := &structure.FeeStructure{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
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
		BaseAmount:      m.BaseAmount,
		SlabID:          slabID,
		CreatedBy:       m.CreatedBy,
	}
	if err := json.Unmarshal(m.Heads, &fs.Heads); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.Plan, &fs.Plan); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.Policy, &fs.Policy); err != nil {
		return nil, err
	}
	return fs, nil
}

// ==================== Schedule models ====================

type scheduleModel struct {
	grove.BaseModel `grove:"table:feeledger_schedules"`

	ID              string          `grove:"id,pk"`
	StudentFeeID    string          `grove:"student_fee_id"`
	Currency        string          `grove:"currency"`
	Total           int64           `grove:"total"`
	BasisConcession int64           `grove:"basis_concession"`
	BasisFine       int64           `grove:"basis_fine"`
	Installments    json.RawMessage `grove:"installments,type:jsonb"`
	Version         int             `grove:"version"`
	Reason          string          `grove:"reason"`
	GeneratedBy     string          `grove:"generated_by"`
	CreatedAt       time.Time       `grove:"created_at"`
	UpdatedAt       time.Time       `grove:"updated_at"`
}

func toScheduleModel(s *schedule.Schedule) *scheduleModel {
	installments, _ := json.Marshal(s.Installments) //nolint:errcheck // plain structs

	return &scheduleModel{
		ID:              s.ID.String(),
		StudentFeeID:    s.StudentFeeID.String(),
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
	scheduleID, err := id.ParseScheduleID(m.ID)
	if err != nil {
		return nil, err
	}
	sfID, err := id.ParseStudentFeeID(m.StudentFeeID)
	if err != nil {
		return nil, err
	}

	s := &schedule.Schedule{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              scheduleID,
		StudentFeeID:    sfID,
		Currency:        m.Currency,
		Total:           m.Total,
		BasisConcession: m.BasisConcession,
		BasisFine:       m.BasisFine,
		Version:         m.Version,
		Reason:          m.Reason,
		GeneratedBy:     m.GeneratedBy,
	}
	if err := json.Unmarshal(m.Installments, &s.Installments); err != nil {
		return nil, err
	}
	return s, nil
}

// ==================== Entry models ====================

type entryModel struct {
	grove.BaseModel `grove:"table:feeledger_entries"`

	ID             string            `grove:"id,pk"`
	StudentFeeID   string            `grove:"student_fee_id"`
	Seq            int64             `grove:"seq"`
	Type           string            `grove:"type"`
	Amount         int64             `grove:"amount"`
	Currency       string            `grove:"currency"`
	Reference      string            `grove:"reference"`
	Reason         string            `grove:"reason"`
	Mode           string            `grove:"payment_mode"`
	AttemptID      string            `grove:"attempt_id"`
	Gateway        string            `grove:"gateway"`
	GatewayTxnID   string            `grove:"gateway_txn_id"`
	IdempotencyKey string            `grove:"idempotency_key"`
	ReversesID     string            `grove:"reverses_id"`
	CreatedAt      time.Time         `grove:"created_at"`
	CreatedBy      string            `grove:"created_by"`
	Metadata       map[string]string `grove:"metadata,type:jsonb"`
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
		CreatedAt:      m.CreatedAt,
		CreatedBy:      m.CreatedBy,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Payment attempt models ====================

type attemptModel struct {
	grove.BaseModel `grove:"table:feeledger_payment_attempts"`

	ID            string     `grove:"id,pk"`
	StudentFeeID  string     `grove:"student_fee_id"`
	Amount        int64      `grove:"amount"`
	Currency      string     `grove:"currency"`
	Gateway       string     `grove:"gateway"`
	State         string     `grove:"state"`
	Version       int        `grove:"version"`
	Provisional   bool       `grove:"provisional"`
	GatewayTxnID  string     `grove:"gateway_txn_id"`
	GatewayRef    string     `grove:"gateway_ref"`
	PaymentURL    string     `grove:"payment_url"`
	EntryID       string     `grove:"entry_id"`
	FailureReason string     `grove:"failure_reason"`
	InitiatedBy   string     `grove:"initiated_by"`
	Checks        int        `grove:"checks"`
	LastCheckedAt *time.Time `grove:"last_checked_at"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
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
		Entity:        types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
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

	ID             string            `grove:"id,pk"`
	Kind           string            `grove:"kind"`
	Status         string            `grove:"status"`
	AttemptID      string            `grove:"attempt_id"`
	StudentFeeID   string            `grove:"student_fee_id"`
	Gateway        string            `grove:"gateway"`
	GatewayTxnID   string            `grove:"gateway_txn_id"`
	ExpectedAmount int64             `grove:"expected_amount"`
	ReceivedAmount int64             `grove:"received_amount"`
	Detail         string            `grove:"detail"`
	Payload        map[string]string `grove:"payload,type:jsonb"`
	Resolution     string            `grove:"resolution"`
	ResolvedBy     string            `grove:"resolved_by"`
	ResolvedAt     *time.Time        `grove:"resolved_at"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
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
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
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

	Generation int64     `grove:"generation,pk"`
	AsOf       time.Time `grove:"as_of"`
	RowCount   int       `grove:"row_count"`
}

type defaulterModel struct {
	grove.BaseModel `grove:"table:feeledger_defaulters"`

	Generation          int64      `grove:"generation,pk"`
	StudentFeeID        string     `grove:"student_fee_id,pk"`
	StudentID           string     `grove:"student_id"`
	Name                string     `grove:"name"`
	AdmissionNumber     string     `grove:"admission_number"`
	ProgramID           string     `grove:"program_id"`
	BatchID             string     `grove:"batch_id"`
	AcademicYear        string     `grove:"academic_year"`
	Currency            string     `grove:"currency"`
	TotalDue            int64      `grove:"total_due"`
	OverdueInstallments int        `grove:"overdue_installments"`
	IsBlocked           bool       `grove:"is_blocked"`
	LastPaymentDate     *time.Time `grove:"last_payment_date"`
	AsOf                time.Time  `grove:"as_of"`
}

func toDefaulterModel(generation int64, r *defaulter.Row) *defaulterModel {
	return &defaulterModel{
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
		AsOf:                m.AsOf,
	}, nil
}

// optionalID parses an ID column that stores "" for the Nil ID.
func optionalID(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}
