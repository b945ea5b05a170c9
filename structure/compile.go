package structure

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

var (
	// ErrCatalogInactive is returned when compiling against an archived catalog.
	ErrCatalogInactive = errors.New("structure: catalog is not active")
	// ErrSlabNotEligible is returned when the opted slab does not apply to the base amount.
	ErrSlabNotEligible = errors.New("structure: scholarship slab not eligible")
	// ErrEmptyCatalog is returned when a catalog carries no fee heads.
	ErrEmptyCatalog = errors.New("structure: catalog has no fee heads")
)

// Compiled is the result of compiling an enrollment.
type Compiled struct {
	Structure *FeeStructure
	// Concession is the opted slab's discount at compile time (zero without a slab).
	Concession types.Money
}

// Compile freezes a FeeStructure from a catalog and an optional slab.
// The catalog's policy is copied; when it has none, fallback is copied instead.
// Compile is pure: it does not persist anything.
func Compile(e Enrollment, c *Catalog, slab *Slab, fallback Policy, actor string, now time.Time) (*Compiled, error) {
	if c.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrCatalogInactive, c.ID)
	}
	if len(c.Heads) == 0 {
		return nil, ErrEmptyCatalog
	}

	heads := make([]FeeHead, len(c.Heads))
	copy(heads, c.Heads)

	policy := fallback
	if c.Policy != nil {
		policy = *c.Policy
	}

	fs := &FeeStructure{
		Entity:          types.NewEntity(now),
		ID:              id.NewStudentFeeID(),
		StudentID:       e.StudentID,
		StudentName:     e.StudentName,
		AdmissionNumber: e.AdmissionNumber,
		ProgramID:       e.ProgramID,
		BatchID:         e.BatchID,
		AcademicYear:    e.AcademicYear,
		CatalogID:       c.ID,
		CatalogVersion:  c.Version,
		Currency:        c.Currency,
		Heads:           heads,
		BaseAmount:      c.BaseAmount(),
		Plan:            c.Plan.clone(),
		Policy:          policy,
		CreatedBy:       actor,
	}

	out := &Compiled{Structure: fs, Concession: types.Zero(fs.Currency)}
	if slab != nil {
		if !slab.Eligible(fs.BaseAmount) {
			return nil, fmt.Errorf("%w: %s", ErrSlabNotEligible, slab.ID)
		}
		fs.SlabID = slab.ID
		out.Concession = slab.Discount(fs.Base())
	}
	return out, nil
}
