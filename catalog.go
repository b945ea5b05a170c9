package feeledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

var hundred = decimal.NewFromInt(100)

// CreateCatalog stores a new fee catalog. Only one catalog may be active per
// program, batch and academic year.
func (e *Engine) CreateCatalog(ctx context.Context, actor Actor, c *structure.Catalog) error {
	if err := e.authorize(ctx, actor, CapCatalogManage); err != nil {
		return err
	}
	if err := e.validateCatalog(c); err != nil {
		return err
	}

	if c.ID.IsNil() {
		c.ID = id.NewCatalogID()
	}
	if c.Status == "" {
		c.Status = structure.StatusActive
	}
	c.Currency = strings.ToLower(c.Currency)
	c.Version = 1
	c.Entity = types.NewEntity(e.now())

	err := e.store.CreateCatalog(ctx, c)
	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:     "create_catalog",
		ActorID:    actor.ID,
		ResourceID: c.ID.String(),
		Amount:     c.BaseAmount(),
		Currency:   c.Currency,
		Err:        err,
	})
	if err != nil {
		return fmt.Errorf("feeledger: create catalog: %w", err)
	}

	e.logger.Info("fee catalog created",
		"catalog_id", c.ID.String(),
		"program_id", c.ProgramID,
		"batch_id", c.BatchID,
		"academic_year", c.AcademicYear,
	)
	return nil
}

// UpdateCatalog replaces a catalog's fee heads, plan, policy or status. The
// write succeeds only against the version the caller read, and bumps it.
// Structures already compiled from the catalog are never touched.
func (e *Engine) UpdateCatalog(ctx context.Context, actor Actor, c *structure.Catalog) error {
	if err := e.authorize(ctx, actor, CapCatalogManage); err != nil {
		return err
	}
	if err := e.validateCatalog(c); err != nil {
		return err
	}

	expected := c.Version
	c.Version = expected + 1
	c.Currency = strings.ToLower(c.Currency)
	c.Touch(e.now())

	err := e.store.UpdateCatalog(ctx, c, expected)
	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:     "update_catalog",
		ActorID:    actor.ID,
		ResourceID: c.ID.String(),
		Amount:     c.BaseAmount(),
		Currency:   c.Currency,
		Err:        err,
	})
	if err != nil {
		c.Version = expected
		return fmt.Errorf("feeledger: update catalog %s: %w", c.ID, err)
	}
	return nil
}

// GetCatalog returns a catalog by ID.
func (e *Engine) GetCatalog(ctx context.Context, actor Actor, catalogID id.CatalogID) (*structure.Catalog, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.GetCatalog(ctx, catalogID)
}

// ListCatalogs lists catalogs of a program in an academic year.
func (e *Engine) ListCatalogs(ctx context.Context, actor Actor, programID, academicYear string) ([]*structure.Catalog, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.ListCatalogs(ctx, programID, academicYear)
}

// CreateSlab stores a new scholarship slab.
func (e *Engine) CreateSlab(ctx context.Context, actor Actor, s *structure.Slab) error {
	if err := e.authorize(ctx, actor, CapCatalogManage); err != nil {
		return err
	}
	if err := e.validateSlab(s); err != nil {
		return err
	}

	if s.ID.IsNil() {
		s.ID = id.NewSlabID()
	}
	if s.Status == "" {
		s.Status = structure.StatusActive
	}
	s.Entity = types.NewEntity(e.now())

	err := e.store.CreateSlab(ctx, s)
	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:     "create_slab",
		ActorID:    actor.ID,
		ResourceID: s.ID.String(),
		Err:        err,
	})
	if err != nil {
		return fmt.Errorf("feeledger: create slab: %w", err)
	}
	return nil
}

// UpdateSlab replaces a slab definition. Concessions already applied keep
// the amount computed when they were applied.
func (e *Engine) UpdateSlab(ctx context.Context, actor Actor, s *structure.Slab) error {
	if err := e.authorize(ctx, actor, CapCatalogManage); err != nil {
		return err
	}
	if err := e.validateSlab(s); err != nil {
		return err
	}
	s.Touch(e.now())

	err := e.store.UpdateSlab(ctx, s)
	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:     "update_slab",
		ActorID:    actor.ID,
		ResourceID: s.ID.String(),
		Err:        err,
	})
	return err
}

// GetSlab returns a slab by ID.
func (e *Engine) GetSlab(ctx context.Context, actor Actor, slabID id.SlabID) (*structure.Slab, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.GetSlab(ctx, slabID)
}

// ListSlabs lists scholarship slabs.
func (e *Engine) ListSlabs(ctx context.Context, actor Actor, activeOnly bool) ([]*structure.Slab, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.ListSlabs(ctx, activeOnly)
}

func (e *Engine) validateCatalog(c *structure.Catalog) error {
	if err := e.validateStruct(c); err != nil {
		return err
	}
	if c.Plan.Count < 1 || c.Plan.Count > schedule.MaxInstallments {
		return &ValidationError{Field: "Plan.Count", Message: fmt.Sprintf("must be between 1 and %d", schedule.MaxInstallments)}
	}
	if _, err := schedule.DueDates(c.Plan); err != nil {
		return &ValidationError{Field: "Plan", Message: err.Error()}
	}
	seen := make(map[string]bool, len(c.Heads))
	for _, h := range c.Heads {
		if seen[h.Code] {
			return &ValidationError{Field: "Heads", Message: fmt.Sprintf("duplicate fee head %q", h.Code)}
		}
		seen[h.Code] = true
	}
	if c.Policy != nil {
		if err := e.validateStruct(c.Policy); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateSlab(s *structure.Slab) error {
	if err := e.validateStruct(s); err != nil {
		return err
	}
	switch s.Kind {
	case structure.SlabPercent:
		if s.Percent.IsNegative() || s.Percent.GreaterThan(hundred) {
			return &ValidationError{Field: "Percent", Message: "must be between 0 and 100"}
		}
	case structure.SlabFixed:
		if s.Fixed <= 0 {
			return &ValidationError{Field: "Fixed", Message: "must be positive"}
		}
	}
	if s.MaxBase != 0 && s.MaxBase < s.MinBase {
		return &ValidationError{Field: "MaxBase", Message: "must not be below MinBase"}
	}
	return nil
}

func (e *Engine) emitAdmin(ctx context.Context, action *plugin.AdminAction) {
	if action.Err != nil {
		e.logger.Warn("admin action failed",
			"action", action.Action,
			"actor", action.ActorID,
			"resource_id", action.ResourceID,
			"error", action.Err,
		)
	}
	e.plugins.EmitAdminAction(ctx, action)
}
