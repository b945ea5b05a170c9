package feeledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

// Reconciled is the outcome of processing a callback or a sweep re-query.
type Reconciled struct {
	Attempt   *payment.Attempt `json:"attempt"`
	Entries   []*entry.Entry   `json:"entries,omitempty"`
	Duplicate *DuplicateEvent  `json:"duplicate,omitempty"`
}

// observation is what a gateway reported about an attempt, from either a
// callback or a status re-query.
type observation struct {
	TxnID   string
	Amount  types.Money
	Status  gateway.Status
	Payload map[string]string
	Source  string
}

// HandleCallback processes a gateway notification. The signature is checked
// first, and the amount is compared with the attempt the engine initiated;
// any mismatch is held for operator review and returned as a
// *ReconciliationMismatchError. A successful payment produces its ledger
// entries exactly once no matter how often, or in which order, the
// callback and the sweep report it; repeats come back as a Duplicate.
func (e *Engine) HandleCallback(ctx context.Context, cb *gateway.Callback) (*Reconciled, error) {
	g, ok := e.gateways[cb.Gateway]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotConfigured, cb.Gateway)
	}

	a, err := e.callbackAttempt(ctx, cb)
	if err != nil {
		return nil, err
	}

	obs := observation{
		TxnID:   cb.GatewayTxnID,
		Amount:  cb.Amount,
		Status:  cb.Status,
		Payload: cb.Payload,
		Source:  "callback",
	}

	if !g.VerifySignature(cb) {
		return nil, e.holdForReview(ctx, a, payment.ReviewSignatureMismatch, obs, "callback signature does not verify")
	}

	e.logger.Debug("gateway callback received",
		"attempt_id", a.ID.String(),
		"gateway", cb.Gateway,
		"gateway_txn_id", cb.GatewayTxnID,
		"status", string(cb.Status),
	)
	return e.reconcile(ctx, a, obs)
}

func (e *Engine) callbackAttempt(ctx context.Context, cb *gateway.Callback) (*payment.Attempt, error) {
	if !cb.AttemptID.IsNil() {
		return e.store.GetAttempt(ctx, cb.AttemptID)
	}
	if cb.GatewayTxnID != "" {
		return e.store.GetAttemptByGatewayTxn(ctx, cb.Gateway, cb.GatewayTxnID)
	}
	return nil, &ValidationError{Field: "attempt_id", Message: "callback names no attempt or transaction"}
}

// reconcile moves an attempt according to what the gateway reported. It is
// shared by the callback path and the sweep.
func (e *Engine) reconcile(ctx context.Context, a *payment.Attempt, obs observation) (*Reconciled, error) {
	if obs.TxnID == "" {
		obs.TxnID = a.GatewayTxnID
	}

	switch obs.Status {
	case gateway.StatusSuccess:
		return e.settle(ctx, a, obs)
	case gateway.StatusFailed:
		failed, err := e.failAttempt(ctx, a, obs, "gateway reported failure")
		return &Reconciled{Attempt: failed}, err
	case gateway.StatusAmbiguous:
		updated, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
			if !next.CanTransition(payment.StateAmbiguous) || next.State == payment.StateFailed {
				return false, nil
			}
			next.State = payment.StateAmbiguous
			bindTxn(next, obs)
			return true, nil
		})
		return &Reconciled{Attempt: updated}, err
	default:
		updated, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
			if obs.Source != "callback" || !next.CanTransition(payment.StateCallbackReceived) || next.State == payment.StateFailed {
				return false, nil
			}
			next.State = payment.StateCallbackReceived
			bindTxn(next, obs)
			return true, nil
		})
		return &Reconciled{Attempt: updated}, err
	}
}

// settle applies a successful payment: it posts PAYMENT (and CREDIT for any
// excess) under the attempt's idempotency key, then marks the attempt
// SUCCESS. The key names the attempt rather than the gateway transaction,
// so a sweep result without a transaction id and the later callback land
// on the same key. Posting comes first so an attempt in SUCCESS always has
// its entries; a crash in between is repaired by the next report, which
// finds the key taken and only completes the attempt.
func (e *Engine) settle(ctx context.Context, a *payment.Attempt, obs observation) (*Reconciled, error) {
	if obs.Amount.Amount != a.Amount || (obs.Amount.Currency != "" && !strings.EqualFold(obs.Amount.Currency, a.Currency)) {
		return nil, e.holdForReview(ctx, a, payment.ReviewAmountMismatch, obs,
			fmt.Sprintf("gateway reported %s, attempt expects %s", obs.Amount, types.New(a.Amount, a.Currency)))
	}
	if a.State == payment.StateFailed && !a.Provisional {
		return nil, e.holdForReview(ctx, a, payment.ReviewTxnConflict, obs, "success reported for an attempt that failed terminally")
	}
	if a.GatewayTxnID != "" && obs.TxnID != "" && a.GatewayTxnID != obs.TxnID {
		return nil, e.holdForReview(ctx, a, payment.ReviewTxnConflict, obs,
			"attempt already bound to gateway transaction "+a.GatewayTxnID)
	}

	key := entry.GatewayKey(a.Gateway, a.ID)
	if a.State == payment.StateSuccess {
		return e.settledAgain(ctx, a, obs, key)
	}

	if obs.TxnID != "" {
		if owner, err := e.store.GetAttemptByGatewayTxn(ctx, a.Gateway, obs.TxnID); err == nil && owner.ID.String() != a.ID.String() {
			return nil, e.holdForReview(ctx, a, payment.ReviewTxnConflict, obs,
				"gateway transaction already bound to attempt "+owner.ID.String())
		} else if err != nil && !IsNotFound(err) {
			return nil, err
		}
	}

	if obs.Source == "callback" {
		var err error
		a, err = e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
			if next.State != payment.StateInitiated && next.State != payment.StateAmbiguous {
				return false, nil
			}
			next.State = payment.StateCallbackReceived
			bindTxn(next, obs)
			return true, nil
		})
		if err != nil {
			if errors.Is(err, ErrGatewayTxnConflict) {
				return nil, e.holdForReview(ctx, a, payment.ReviewTxnConflict, obs, err.Error())
			}
			return nil, err
		}
	}

	reference := obs.TxnID
	if reference == "" {
		reference = a.ID.String()
	}
	res, err := e.appendEntries(ctx, a.StudentFeeID, key, obs.Source, SystemActor.ID,
		func(_ *structure.FeeStructure, _ []*entry.Entry, totals entry.Totals) ([]*entry.Entry, error) {
			return settlement(totals, a.Amount, key, entry.Entry{
				Mode:         entry.ModeOnline,
				Reference:    reference,
				AttemptID:    a.ID,
				Gateway:      a.Gateway,
				GatewayTxnID: obs.TxnID,
			}), nil
		})
	if err != nil {
		return nil, err
	}

	entryID := id.EntryID{}
	switch {
	case len(res.Entries) > 0:
		entryID = res.Entries[0].ID
	case res.Duplicate != nil:
		entryID = res.Duplicate.EntryID
	}

	settled, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		if next.State == payment.StateSuccess {
			return completeSettled(next, obs), nil
		}
		next.State = payment.StateSuccess
		next.Provisional = false
		next.FailureReason = ""
		bindTxn(next, obs)
		next.EntryID = entryID
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrGatewayTxnConflict) {
			return nil, e.holdForReview(ctx, a, payment.ReviewTxnConflict, obs, err.Error())
		}
		return nil, err
	}

	out := &Reconciled{Attempt: settled, Entries: res.Entries, Duplicate: res.Duplicate}
	if len(res.Entries) > 0 {
		e.logger.Info("payment reconciled",
			"attempt_id", a.ID.String(),
			"student_fee_id", a.StudentFeeID.String(),
			"gateway_txn_id", obs.TxnID,
			"amount", a.Amount,
			"source", obs.Source,
		)
		e.plugins.EmitPaymentReconciled(ctx, settled, res.Entries)
	}
	return out, nil
}

// settledAgain answers a success report for an attempt that already
// settled. Nothing is posted; a transaction id the first report lacked is
// recorded on the attempt.
func (e *Engine) settledAgain(ctx context.Context, a *payment.Attempt, obs observation, key string) (*Reconciled, error) {
	updated, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		return completeSettled(next, obs), nil
	})
	if err != nil {
		if errors.Is(err, ErrGatewayTxnConflict) {
			return nil, e.holdForReview(ctx, a, payment.ReviewTxnConflict, obs, err.Error())
		}
		return nil, err
	}

	dup := &DuplicateEvent{Key: key, EntryID: updated.EntryID, Source: obs.Source}
	e.reportDuplicate(ctx, dup)
	return &Reconciled{Attempt: updated, Duplicate: dup}, nil
}

// completeSettled fills in what a later report knows about a settled
// attempt. It reports whether anything changed.
func completeSettled(a *payment.Attempt, obs observation) bool {
	if a.GatewayTxnID != "" || obs.TxnID == "" {
		return false
	}
	a.GatewayTxnID = obs.TxnID
	return true
}

// failAttempt marks an attempt FAILED for good.
func (e *Engine) failAttempt(ctx context.Context, a *payment.Attempt, obs observation, reason string) (*payment.Attempt, error) {
	changed := false
	failed, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		changed = false
		if !next.CanTransition(payment.StateFailed) {
			return false, nil
		}
		next.State = payment.StateFailed
		next.Provisional = false
		next.FailureReason = reason
		bindTxn(next, obs)
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.logger.Info("payment attempt failed",
			"attempt_id", a.ID.String(),
			"student_fee_id", a.StudentFeeID.String(),
			"reason", reason,
			"source", obs.Source,
		)
		e.plugins.EmitPaymentFailed(ctx, failed, reason)
	}
	return failed, nil
}

func bindTxn(a *payment.Attempt, obs observation) {
	if a.GatewayTxnID == "" && obs.TxnID != "" {
		a.GatewayTxnID = obs.TxnID
	}
}

// holdForReview routes a mismatch to the operator review queue. Mismatches
// are never resolved automatically. An open item of the same kind for the
// same transaction is reused so redeliveries do not flood the queue.
func (e *Engine) holdForReview(ctx context.Context, a *payment.Attempt, kind payment.ReviewKind, obs observation, detail string) error {
	item, err := e.openReview(ctx, a, kind, obs)
	if err != nil {
		return err
	}

	if item == nil {
		item = &payment.ReviewItem{
			Entity:         types.NewEntity(e.now()),
			ID:             id.NewReviewID(),
			Kind:           kind,
			Status:         payment.ReviewOpen,
			AttemptID:      a.ID,
			StudentFeeID:   a.StudentFeeID,
			Gateway:        a.Gateway,
			GatewayTxnID:   obs.TxnID,
			ExpectedAmount: a.Amount,
			ReceivedAmount: obs.Amount.Amount,
			Detail:         detail,
			Payload:        reviewPayload(obs),
		}
		if err := e.store.CreateReviewItem(ctx, item); err != nil {
			return fmt.Errorf("feeledger: create review item: %w", err)
		}
		e.plugins.EmitReconciliationMismatch(ctx, item)
	}

	e.logger.Warn("reconciliation mismatch held for review",
		"review_id", item.ID.String(),
		"kind", string(kind),
		"attempt_id", a.ID.String(),
		"student_fee_id", a.StudentFeeID.String(),
		"gateway_txn_id", obs.TxnID,
		"expected", a.Amount,
		"received", obs.Amount.Amount,
		"source", obs.Source,
	)

	return &ReconciliationMismatchError{
		ReviewID:  item.ID,
		AttemptID: a.ID,
		Kind:      kind,
		Expected:  a.Amount,
		Received:  obs.Amount.Amount,
	}
}

func (e *Engine) openReview(ctx context.Context, a *payment.Attempt, kind payment.ReviewKind, obs observation) (*payment.ReviewItem, error) {
	items, err := e.store.ListReviewItems(ctx, payment.ReviewListOpts{
		Status:    payment.ReviewOpen,
		AttemptID: a.ID,
	})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Kind == kind && it.GatewayTxnID == obs.TxnID && it.ReceivedAmount == obs.Amount.Amount {
			return it, nil
		}
	}
	return nil, nil
}

func reviewPayload(obs observation) map[string]string {
	out := make(map[string]string, len(obs.Payload)+4)
	for k, v := range obs.Payload {
		out[k] = v
	}
	out["source"] = obs.Source
	out["status"] = string(obs.Status)
	out["amount"] = strconv.FormatInt(obs.Amount.Amount, 10)
	out["currency"] = obs.Amount.Currency
	return out
}
