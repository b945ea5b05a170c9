package feeledger

import (
	"context"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/plugin"
)

// ListReviewItems lists the operator review queue.
func (e *Engine) ListReviewItems(ctx context.Context, actor Actor, opts payment.ReviewListOpts) ([]*payment.ReviewItem, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.ListReviewItems(ctx, opts)
}

// GetReviewItem returns a review item by ID.
func (e *Engine) GetReviewItem(ctx context.Context, actor Actor, reviewID id.ReviewID) (*payment.ReviewItem, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.GetReviewItem(ctx, reviewID)
}

// ResolveReviewItem closes a review item with the operator's decision. It
// posts no money: an operator who accepts a payment records it through
// RecordOfflinePayment, which keeps the ledger's idempotency discipline.
func (e *Engine) ResolveReviewItem(ctx context.Context, actor Actor, reviewID id.ReviewID, resolution string) (*payment.ReviewItem, error) {
	if err := e.authorize(ctx, actor, CapReviewResolve); err != nil {
		return nil, err
	}
	if err := requireReason(resolution); err != nil {
		return nil, err
	}

	item, err := e.store.GetReviewItem(ctx, reviewID)
	if err == nil && item.Status != payment.ReviewOpen {
		err = ErrReviewResolved
	}
	if err == nil {
		now := e.now()
		item.Status = payment.ReviewResolved
		item.Resolution = resolution
		item.ResolvedBy = actor.ID
		item.ResolvedAt = &now
		item.Touch(now)
		err = e.store.UpdateReviewItem(ctx, item)
	}

	action := &plugin.AdminAction{
		Action:     "resolve_review",
		ActorID:    actor.ID,
		ResourceID: reviewID.String(),
		Reason:     resolution,
		Err:        err,
	}
	if item != nil {
		action.StudentFeeID = item.StudentFeeID
		action.Amount = item.ReceivedAmount
	}
	e.emitAdmin(ctx, action)
	if err != nil {
		return nil, err
	}

	e.logger.Info("review item resolved",
		"review_id", reviewID.String(),
		"attempt_id", item.AttemptID.String(),
		"actor", actor.ID,
	)
	e.plugins.EmitReviewResolved(ctx, item)
	return item, nil
}
