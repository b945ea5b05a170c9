package feeledger

import (
	"context"
	"time"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/summary"
)

// GetSummary returns the fee summary of a student fee as of today. The
// summary is a projection of the ledger; cached copies are dropped on every
// append, checked against the stored ledger head before use and never
// outlive the day they were computed for.
func (e *Engine) GetSummary(ctx context.Context, actor Actor, sfID id.StudentFeeID) (*summary.StudentFeeSummary, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.summaryFor(ctx, sfID, e.now())
}

// GetStudentSummary returns the fee summary of a student for an academic year.
func (e *Engine) GetStudentSummary(ctx context.Context, actor Actor, studentID, academicYear string) (*summary.StudentFeeSummary, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	fs, err := e.store.GetStructureByStudent(ctx, studentID, academicYear)
	if err != nil {
		return nil, err
	}
	return e.summaryFor(ctx, fs.ID, e.now())
}

// IsBlocked reports whether a student fee is blocked today.
func (e *Engine) IsBlocked(ctx context.Context, actor Actor, sfID id.StudentFeeID) (bool, error) {
	s, err := e.GetSummary(ctx, actor, sfID)
	if err != nil {
		return false, err
	}
	return s.IsBlocked, nil
}

// ListEntries returns a student fee's ledger in insertion order.
func (e *Engine) ListEntries(ctx context.Context, actor Actor, sfID id.StudentFeeID, opts entry.ListOpts) ([]*entry.Entry, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, sfID)
	if err != nil {
		return nil, err
	}
	if len(opts.Types) > 0 {
		filtered := entries[:0]
		for _, en := range entries {
			for _, t := range opts.Types {
				if en.Type == t {
					filtered = append(filtered, en)
					break
				}
			}
		}
		entries = filtered
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return []*entry.Entry{}, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// summaryFor serves a cached summary only while the store still reports
// the ledger head it was projected from; another engine sharing the store
// may have appended since.
func (e *Engine) summaryFor(ctx context.Context, sfID id.StudentFeeID, today time.Time) (*summary.StudentFeeSummary, error) {
	if s, ok := e.summaries.Get(sfID, today); ok {
		head, err := e.store.LedgerHead(ctx, sfID)
		if err != nil {
			return nil, err
		}
		if head.Seq == s.LedgerSeq && head.ScheduleVersion == s.ScheduleVersion {
			return s, nil
		}
		e.summaries.Invalidate(sfID)
	}

	version := e.summaries.Begin()
	s, err := e.project(ctx, sfID, today)
	if err != nil {
		return nil, err
	}
	e.summaries.Put(version, s)
	return s, nil
}

func (e *Engine) project(ctx context.Context, sfID id.StudentFeeID, today time.Time) (*summary.StudentFeeSummary, error) {
	fs, err := e.store.GetStructure(ctx, sfID)
	if err != nil {
		return nil, err
	}

	sched, err := e.store.GetSchedule(ctx, sfID)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	if err != nil {
		sched = nil
	}

	entries, err := e.store.ListEntries(ctx, sfID)
	if err != nil {
		return nil, err
	}
	return summary.Project(fs, sched, entries, today), nil
}
