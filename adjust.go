package feeledger

import (
	"context"
	"fmt"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/structure"
)

// ApplyConcession grants a scholarship slab's discount on a student fee.
// The discount is computed from the frozen base amount, and the total
// concession can never exceed it. Applying the same slab twice is a
// duplicate event.
func (e *Engine) ApplyConcession(ctx context.Context, actor Actor, sfID id.StudentFeeID, slabID id.SlabID, reason string) (*AppendResult, error) {
	if err := e.authorize(ctx, actor, CapConcessionApply); err != nil {
		return nil, err
	}
	if err := requireReason(reason); err != nil {
		return nil, err
	}

	slab, err := e.store.GetSlab(ctx, slabID)
	if err != nil {
		if IsNotFound(err) {
			return nil, &ValidationError{Field: "slab_id", Message: "unknown scholarship slab " + slabID.String()}
		}
		return nil, err
	}

	var granted int64
	res, err := e.appendEntries(ctx, sfID, entry.ConcessionKey(sfID, slabID), "admin", actor.ID,
		func(fs *structure.FeeStructure, _ []*entry.Entry, totals entry.Totals) ([]*entry.Entry, error) {
			if !slab.Eligible(fs.BaseAmount) {
				return nil, &ValidationError{Field: "slab_id", Message: fmt.Sprintf("slab %s is not eligible for base amount %d", slab.ID, fs.BaseAmount)}
			}
			discount := slab.Discount(fs.Base())
			if !discount.IsPositive() {
				return nil, &ValidationError{Field: "slab_id", Message: "slab grants no discount"}
			}
			if totals.Concession+discount.Amount > totals.Base {
				return nil, &ValidationError{Field: "slab_id", Message: "total concession would exceed the base amount"}
			}
			granted = discount.Amount
			return []*entry.Entry{{
				Type:           entry.TypeConcession,
				Amount:         entry.Signed(entry.TypeConcession, discount.Amount),
				Reference:      slab.ID.String(),
				Reason:         reason,
				IdempotencyKey: entry.ConcessionKey(fs.ID, slab.ID),
			}}, nil
		})

	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:       "apply_concession",
		ActorID:      actor.ID,
		StudentFeeID: sfID,
		ResourceID:   slabID.String(),
		Reason:       reason,
		Amount:       granted,
		Err:          err,
	})
	return res, err
}

// ApplyFine charges a fine. When reference is set it is the fine's
// idempotency reference: the same reference is never charged twice.
func (e *Engine) ApplyFine(ctx context.Context, actor Actor, sfID id.StudentFeeID, amount int64, reference, reason string) (*AppendResult, error) {
	if err := e.authorize(ctx, actor, CapFineApply); err != nil {
		return nil, err
	}
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	if err := requireReason(reason); err != nil {
		return nil, err
	}

	var key string
	if reference != "" {
		key = entry.FineKey(sfID, reference)
	}

	res, err := e.appendEntries(ctx, sfID, key, "admin", actor.ID,
		func(fs *structure.FeeStructure, _ []*entry.Entry, _ entry.Totals) ([]*entry.Entry, error) {
			return []*entry.Entry{{
				Type:           entry.TypeFine,
				Amount:         entry.Signed(entry.TypeFine, amount),
				Reference:      reference,
				Reason:         reason,
				IdempotencyKey: key,
			}}, nil
		})

	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:       "apply_fine",
		ActorID:      actor.ID,
		StudentFeeID: sfID,
		ResourceID:   reference,
		Reason:       reason,
		Amount:       amount,
		Err:          err,
	})
	return res, err
}

// ReverseEntry offsets a CONCESSION or FINE with an entry of the same type
// and opposite sign. Payments are never reversed here, and a reversal
// cannot itself be reversed.
func (e *Engine) ReverseEntry(ctx context.Context, actor Actor, entryID id.EntryID, reason string) (*AppendResult, error) {
	if err := e.authorize(ctx, actor, CapEntryReverse); err != nil {
		return nil, err
	}
	if err := requireReason(reason); err != nil {
		return nil, err
	}

	target, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if target.Type != entry.TypeConcession && target.Type != entry.TypeFine {
		return nil, &ValidationError{Field: "entry_id", Message: fmt.Sprintf("%s entries cannot be reversed", target.Type)}
	}
	if !target.ReversesID.IsNil() {
		return nil, &ValidationError{Field: "entry_id", Message: "a reversal cannot be reversed"}
	}

	key := entry.ReverseKey(entryID)
	res, err := e.appendEntries(ctx, target.StudentFeeID, key, "admin", actor.ID,
		func(_ *structure.FeeStructure, _ []*entry.Entry, _ entry.Totals) ([]*entry.Entry, error) {
			return []*entry.Entry{{
				Type:           target.Type,
				Amount:         -target.Amount,
				Reference:      target.Reference,
				Reason:         reason,
				ReversesID:     target.ID,
				IdempotencyKey: key,
			}}, nil
		})

	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:       "reverse_entry",
		ActorID:      actor.ID,
		StudentFeeID: target.StudentFeeID,
		ResourceID:   entryID.String(),
		Reason:       reason,
		Amount:       target.Magnitude(),
		Currency:     target.Currency,
		Err:          err,
	})
	return res, err
}
