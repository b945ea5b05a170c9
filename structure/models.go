// Package structure models fee configuration and the frozen per-student
// fee structure compiled from it.
//
// A Catalog is the admin-maintained fee configuration for a program (and
// optionally a batch) in one academic year. It may be edited at any time.
// A FeeStructure is an immutable snapshot taken when a student is enrolled:
// later catalog edits never reach it.
package structure

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

// Status is the lifecycle status of a catalog or slab.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// FeeHead is one named component of the payable amount (tuition, lab, transport).
type FeeHead struct {
	Code   string `json:"code" validate:"required"`
	Name   string `json:"name"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

// InstallmentPlan describes how the payable total is split into installments.
// Either DueDates is given explicitly, or Count installments are spaced
// IntervalMonths apart starting at FirstDue.
type InstallmentPlan struct {
	Count          int         `json:"count" validate:"min=1,max=12"`
	FirstDue       time.Time   `json:"first_due"`
	IntervalMonths int         `json:"interval_months" validate:"gte=0"`
	DueDates       []time.Time `json:"due_dates,omitempty"`
	// Optional lists 1-based sequence numbers of installments that are not mandatory.
	Optional []int `json:"optional,omitempty"`
}

// IsMandatory reports whether installment seq (1-based) is mandatory.
func (p InstallmentPlan) IsMandatory(seq int) bool {
	for _, o := range p.Optional {
		if o == seq {
			return false
		}
	}
	return true
}

func (p InstallmentPlan) clone() InstallmentPlan {
	out := p
	if p.DueDates != nil {
		out.DueDates = append([]time.Time(nil), p.DueDates...)
	}
	if p.Optional != nil {
		out.Optional = append([]int(nil), p.Optional...)
	}
	return out
}

// Policy is the configuration value object captured into every structure
// at assignment time. Computations read the captured copy, never a live one.
type Policy struct {
	GracePeriodDays       int  `json:"grace_period_days" validate:"gte=0"`
	BlockingEnabled       bool `json:"blocking_enabled"`
	OnlinePaymentEnabled  bool `json:"online_payment_enabled"`
	OfflinePaymentEnabled bool `json:"offline_payment_enabled"`
}

// DefaultPolicy returns the policy used when a catalog does not carry one.
func DefaultPolicy() Policy {
	return Policy{
		GracePeriodDays:       7,
		BlockingEnabled:       true,
		OnlinePaymentEnabled:  true,
		OfflinePaymentEnabled: true,
	}
}

// Catalog is the fee configuration for a program/batch and academic year.
type Catalog struct {
	types.Entity
	ID           id.CatalogID    `json:"id"`
	ProgramID    string          `json:"program_id" validate:"required"`
	BatchID      string          `json:"batch_id,omitempty"`
	AcademicYear string          `json:"academic_year" validate:"required"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	Heads        []FeeHead       `json:"heads" validate:"required,min=1,dive"`
	Plan         InstallmentPlan `json:"plan"`
	Policy       *Policy         `json:"policy,omitempty"`
	Status       Status          `json:"status"`
	Version      int             `json:"version"`
}

// Clone returns a deep copy of c.
func (c *Catalog) Clone() *Catalog {
	out := *c
	out.Heads = append([]FeeHead(nil), c.Heads...)
	out.Plan = c.Plan.clone()
	if c.Policy != nil {
		p := *c.Policy
		out.Policy = &p
	}
	return &out
}

// BaseAmount returns the sum of all fee heads in minor units.
func (c *Catalog) BaseAmount() int64 {
	var total int64
	for _, h := range c.Heads {
		total += h.Amount
	}
	return total
}

// SlabKind selects how a scholarship slab computes its discount.
type SlabKind string

const (
	SlabPercent SlabKind = "percent"
	SlabFixed   SlabKind = "fixed"
)

// Slab is an admin-defined scholarship/discount rule.
type Slab struct {
	types.Entity
	ID      id.SlabID       `json:"id"`
	Name    string          `json:"name" validate:"required"`
	Kind    SlabKind        `json:"kind" validate:"oneof=percent fixed"`
	Percent decimal.Decimal `json:"percent"`
	Fixed   int64           `json:"fixed" validate:"gte=0"`
	// MaxDiscount caps a percent discount; zero means uncapped.
	MaxDiscount int64 `json:"max_discount" validate:"gte=0"`
	// Eligibility range on the base amount. MaxBase zero means unbounded.
	MinBase int64  `json:"min_base" validate:"gte=0"`
	MaxBase int64  `json:"max_base" validate:"gte=0"`
	Status  Status `json:"status"`
}

// Eligible reports whether a base amount falls within the slab's range.
func (s *Slab) Eligible(base int64) bool {
	if s.Status != StatusActive {
		return false
	}
	if base < s.MinBase {
		return false
	}
	return s.MaxBase == 0 || base <= s.MaxBase
}

// Discount returns the concession this slab grants on base. The result never
// exceeds base.
func (s *Slab) Discount(base types.Money) types.Money {
	base = types.New(base.Amount, base.Currency)
	var d types.Money
	switch s.Kind {
	case SlabPercent:
		d = base.Percent(s.Percent)
		if s.MaxDiscount > 0 {
			d = d.Min(types.New(s.MaxDiscount, base.Currency))
		}
	case SlabFixed:
		d = types.New(s.Fixed, base.Currency)
	default:
		d = types.Zero(base.Currency)
	}
	d = d.Min(base)
	if d.IsNegative() {
		return types.Zero(base.Currency)
	}
	return d
}

// Enrollment is the inbound event that triggers structure compilation.
type Enrollment struct {
	StudentID       string `json:"student_id" validate:"required"`
	StudentName     string `json:"student_name"`
	AdmissionNumber string `json:"admission_number"`
	ProgramID       string `json:"program_id" validate:"required"`
	BatchID         string `json:"batch_id"`
	AcademicYear    string `json:"academic_year" validate:"required"`
}

// FeeStructure is the frozen, per-student payable snapshot for one academic year.
type FeeStructure struct {
	types.Entity
	ID              id.StudentFeeID `json:"id"`
	StudentID       string          `json:"student_id"`
	StudentName     string          `json:"student_name"`
	AdmissionNumber string          `json:"admission_number"`
	ProgramID       string          `json:"program_id"`
	BatchID         string          `json:"batch_id,omitempty"`
	AcademicYear    string          `json:"academic_year"`
	CatalogID       id.CatalogID    `json:"catalog_id"`
	CatalogVersion  int             `json:"catalog_version"`
	Currency        string          `json:"currency"`
	Heads           []FeeHead       `json:"heads"`
	BaseAmount      int64           `json:"base_amount"`
	SlabID          id.SlabID       `json:"slab_id,omitempty"`
	Plan            InstallmentPlan `json:"plan"`
	Policy          Policy          `json:"policy"`
	CreatedBy       string          `json:"created_by"`
}

// Clone returns a deep copy of fs.
func (fs *FeeStructure) Clone() *FeeStructure {
	out := *fs
	out.Heads = append([]FeeHead(nil), fs.Heads...)
	out.Plan = fs.Plan.clone()
	return &out
}

// Base returns the frozen base amount as Money.
func (fs *FeeStructure) Base() types.Money {
	return types.New(fs.BaseAmount, fs.Currency)
}

// ListOpts filters structure listings.
type ListOpts struct {
	ProgramID    string
	AcademicYear string
	Limit        int
	Offset       int
}
