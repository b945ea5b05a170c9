package feeledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/schedule"
	"github.com/xraph/feeledger/structure"
)

// Enrolled is the outcome of Enroll.
type Enrolled struct {
	Structure *structure.FeeStructure `json:"structure"`
	Schedule  *schedule.Schedule      `json:"schedule"`
}

// Enroll handles an enrollment event: it compiles the student's fee
// structure and generates its installment schedule. Both steps are
// idempotent, so a redelivered enrollment returns the existing records.
func (e *Engine) Enroll(ctx context.Context, actor Actor, en structure.Enrollment, slabID id.SlabID) (*Enrolled, error) {
	fs, err := e.CompileStructure(ctx, actor, en, slabID)
	if err != nil {
		return nil, err
	}
	sched, err := e.GenerateSchedule(ctx, actor, fs.ID)
	if err != nil {
		return nil, err
	}
	return &Enrolled{Structure: fs, Schedule: sched}, nil
}

// CompileStructure freezes the fee structure for a student and academic
// year and records its opening CHARGE and CONCESSION entries. A student who
// already has a structure for the year gets the existing one back.
//
// The active batch-specific catalog wins over the program-wide one. When
// neither exists a *ConfigurationError is returned.
func (e *Engine) CompileStructure(ctx context.Context, actor Actor, en structure.Enrollment, slabID id.SlabID) (*structure.FeeStructure, error) {
	if err := e.authorize(ctx, actor, CapStructureAssign); err != nil {
		return nil, err
	}
	if err := e.validateStruct(&en); err != nil {
		return nil, err
	}

	existing, err := e.store.GetStructureByStudent(ctx, en.StudentID, en.AcademicYear)
	switch {
	case err == nil:
		if err := e.recordOpening(ctx, existing, actor.ID); err != nil {
			return nil, err
		}
		return existing, nil
	case !IsNotFound(err):
		return nil, fmt.Errorf("feeledger: lookup structure: %w", err)
	}

	catalog, err := e.resolveCatalog(ctx, en)
	if err != nil {
		return nil, err
	}

	var slab *structure.Slab
	if !slabID.IsNil() {
		slab, err = e.store.GetSlab(ctx, slabID)
		if err != nil {
			if IsNotFound(err) {
				return nil, &ValidationError{Field: "slab_id", Message: "unknown scholarship slab " + slabID.String()}
			}
			return nil, err
		}
	}

	compiled, err := structure.Compile(en, catalog, slab, e.defaultPolicy, actor.ID, e.now())
	if err != nil {
		switch {
		case errors.Is(err, structure.ErrSlabNotEligible):
			return nil, &ValidationError{Field: "slab_id", Message: err.Error()}
		case errors.Is(err, structure.ErrCatalogInactive), errors.Is(err, structure.ErrEmptyCatalog):
			return nil, &ConfigurationError{
				ProgramID:    en.ProgramID,
				BatchID:      en.BatchID,
				AcademicYear: en.AcademicYear,
				Reason:       err.Error(),
			}
		}
		return nil, err
	}
	fs := compiled.Structure

	if err := e.store.CreateStructure(ctx, fs); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("feeledger: create structure: %w", err)
		}
		// Lost a race with a redelivered enrollment.
		fs, err = e.store.GetStructureByStudent(ctx, en.StudentID, en.AcademicYear)
		if err != nil {
			return nil, err
		}
		if err := e.recordOpening(ctx, fs, actor.ID); err != nil {
			return nil, err
		}
		return fs, nil
	}

	if err := e.recordOpening(ctx, fs, actor.ID); err != nil {
		return nil, err
	}

	e.logger.Info("fee structure compiled",
		"student_fee_id", fs.ID.String(),
		"student_id", fs.StudentID,
		"academic_year", fs.AcademicYear,
		"catalog_id", fs.CatalogID.String(),
		"base_amount", fs.BaseAmount,
		"concession", compiled.Concession.Amount,
	)
	e.plugins.EmitStructureCompiled(ctx, fs)

	return fs, nil
}

// resolveCatalog prefers the batch catalog and falls back to the
// program-wide one.
func (e *Engine) resolveCatalog(ctx context.Context, en structure.Enrollment) (*structure.Catalog, error) {
	if en.BatchID != "" {
		c, err := e.store.GetActiveCatalog(ctx, en.ProgramID, en.BatchID, en.AcademicYear)
		if err == nil {
			return c, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}

	c, err := e.store.GetActiveCatalog(ctx, en.ProgramID, "", en.AcademicYear)
	if err == nil {
		return c, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	e.logger.Error("no active fee catalog for enrollment",
		"student_id", en.StudentID,
		"program_id", en.ProgramID,
		"batch_id", en.BatchID,
		"academic_year", en.AcademicYear,
	)
	return nil, &ConfigurationError{
		ProgramID:    en.ProgramID,
		BatchID:      en.BatchID,
		AcademicYear: en.AcademicYear,
		Reason:       "no active fee catalog",
	}
}

// recordOpening appends the CHARGE entry of every fee head and the opted
// slab's CONCESSION. Entries already on the ledger are skipped, so it can
// be repeated after a partial failure.
func (e *Engine) recordOpening(ctx context.Context, fs *structure.FeeStructure, actor string) error {
	var slab *structure.Slab
	if !fs.SlabID.IsNil() {
		s, err := e.store.GetSlab(ctx, fs.SlabID)
		if err != nil {
			return fmt.Errorf("feeledger: load slab for opening entries: %w", err)
		}
		slab = s
	}

	_, err := e.appendEntries(ctx, fs.ID, "", "enrollment", actor,
		func(fs *structure.FeeStructure, existing []*entry.Entry, totals entry.Totals) ([]*entry.Entry, error) {
			var batch []*entry.Entry
			for _, h := range fs.Heads {
				key := entry.ChargeKey(fs.ID, h.Code)
				if h.Amount <= 0 || hasKey(existing, key) {
					continue
				}
				batch = append(batch, &entry.Entry{
					Type:           entry.TypeCharge,
					Amount:         h.Amount,
					Reference:      h.Code,
					Reason:         h.Name,
					IdempotencyKey: key,
				})
			}
			if slab != nil {
				key := entry.ConcessionKey(fs.ID, slab.ID)
				if discount := slab.Discount(fs.Base()); discount.IsPositive() && !hasKey(existing, key) {
					batch = append(batch, &entry.Entry{
						Type:           entry.TypeConcession,
						Amount:         entry.Signed(entry.TypeConcession, discount.Amount),
						Reference:      slab.ID.String(),
						Reason:         "scholarship: " + slab.Name,
						IdempotencyKey: key,
					})
				}
			}
			return batch, nil
		})
	return err
}

// GetStructure returns a fee structure by ID.
func (e *Engine) GetStructure(ctx context.Context, actor Actor, sfID id.StudentFeeID) (*structure.FeeStructure, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.GetStructure(ctx, sfID)
}

// GetStudentStructure returns a student's fee structure for an academic year.
func (e *Engine) GetStudentStructure(ctx context.Context, actor Actor, studentID, academicYear string) (*structure.FeeStructure, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.GetStructureByStudent(ctx, studentID, academicYear)
}

// ListStructures lists fee structures.
func (e *Engine) ListStructures(ctx context.Context, actor Actor, opts structure.ListOpts) ([]*structure.FeeStructure, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.ListStructures(ctx, opts)
}

// GenerateSchedule splits the structure's current total into installments.
// A schedule that already exists is returned unchanged.
func (e *Engine) GenerateSchedule(ctx context.Context, actor Actor, sfID id.StudentFeeID) (*schedule.Schedule, error) {
	if err := e.authorize(ctx, actor, CapStructureAssign); err != nil {
		return nil, err
	}

	existing, err := e.store.GetSchedule(ctx, sfID)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	fs, err := e.store.GetStructure(ctx, sfID)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, sfID)
	if err != nil {
		return nil, err
	}

	sched, err := e.buildSchedule(fs, entry.Fold(entries), actor.ID, "")
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveSchedule(ctx, sched, 0); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return e.store.GetSchedule(ctx, sfID)
		}
		return nil, fmt.Errorf("feeledger: save schedule: %w", err)
	}

	e.summaries.Invalidate(sfID)
	e.logger.Info("installment schedule generated",
		"student_fee_id", sfID.String(),
		"installments", len(sched.Installments),
		"total", sched.Total,
	)
	e.plugins.EmitScheduleGenerated(ctx, sched)

	return sched, nil
}

// RegenerateSchedule replaces a schedule, folding concessions and fines
// recorded since it was generated into a fresh split. It is refused with a
// *ValidationError once any payment or credit exists on the ledger.
func (e *Engine) RegenerateSchedule(ctx context.Context, actor Actor, sfID id.StudentFeeID, reason string) (*schedule.Schedule, error) {
	if err := e.authorize(ctx, actor, CapScheduleRegen); err != nil {
		return nil, err
	}
	if err := requireReason(reason); err != nil {
		return nil, err
	}

	sched, err := e.regenerate(ctx, actor, sfID, reason)
	action := &plugin.AdminAction{
		Action:       "regenerate_schedule",
		ActorID:      actor.ID,
		StudentFeeID: sfID,
		Reason:       reason,
		Err:          err,
	}
	if sched != nil {
		action.ResourceID = sched.ID.String()
		action.Amount = sched.Total
		action.Currency = sched.Currency
	}
	e.emitAdmin(ctx, action)
	if err != nil {
		return nil, err
	}

	e.logger.Info("installment schedule regenerated",
		"student_fee_id", sfID.String(),
		"version", sched.Version,
		"actor", actor.ID,
		"reason", reason,
	)
	e.plugins.EmitScheduleGenerated(ctx, sched)
	return sched, nil
}

func (e *Engine) regenerate(ctx context.Context, actor Actor, sfID id.StudentFeeID, reason string) (*schedule.Schedule, error) {
	// Hold the ledger lock so no payment lands between the check and the save.
	unlock := e.locks.Lock(sfID.String())
	defer unlock()

	old, err := e.store.GetSchedule(ctx, sfID)
	if err != nil {
		return nil, err
	}
	fs, err := e.store.GetStructure(ctx, sfID)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, sfID)
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		if en.Type.Settles() {
			return nil, &ValidationError{
				Field:   "student_fee_id",
				Message: "schedule cannot be regenerated after payments were recorded",
			}
		}
	}

	next, err := e.buildSchedule(fs, entry.Fold(entries), actor.ID, reason)
	if err != nil {
		return nil, err
	}
	next.ID = old.ID
	next.CreatedAt = old.CreatedAt
	next.Version = old.Version + 1

	if err := e.store.SaveSchedule(ctx, next, old.Version); err != nil {
		return nil, fmt.Errorf("feeledger: save schedule: %w", err)
	}
	e.summaries.Invalidate(sfID)
	return next, nil
}

func (e *Engine) buildSchedule(fs *structure.FeeStructure, totals entry.Totals, actor, reason string) (*schedule.Schedule, error) {
	sched, err := schedule.Build(fs, schedule.Basis{
		Total:      totals.TotalFee,
		Concession: totals.Concession,
		Fine:       totals.Fine,
	}, actor, reason, e.now())
	if err != nil {
		return nil, &ValidationError{Field: "plan", Message: err.Error()}
	}
	return sched, nil
}
