package feeledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/plugin"
	"github.com/xraph/feeledger/structure"
	"github.com/xraph/feeledger/types"
)

// OfflinePayment is a receipt recorded by staff.
type OfflinePayment struct {
	StudentFeeID id.StudentFeeID   `json:"student_fee_id"`
	Amount       int64             `json:"amount" validate:"gt=0"`
	Mode         entry.Mode        `json:"payment_mode" validate:"required,oneof=cash cheque bank_transfer card_pos other"`
	Reference    string            `json:"reference" validate:"required"`
	Note         string            `json:"note,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RecordOfflinePayment appends a staff-recorded payment. The receipt
// reference is the idempotency reference, so the same receipt is never
// entered twice. Any amount beyond the balance is recorded as CREDIT.
func (e *Engine) RecordOfflinePayment(ctx context.Context, actor Actor, p OfflinePayment) (*AppendResult, error) {
	if err := e.authorize(ctx, actor, CapOfflinePayment); err != nil {
		return nil, err
	}
	if err := e.validateStruct(&p); err != nil {
		return nil, err
	}

	key := entry.ManualKey(p.StudentFeeID, p.Reference)
	res, err := e.appendEntries(ctx, p.StudentFeeID, key, "offline", actor.ID,
		func(fs *structure.FeeStructure, _ []*entry.Entry, totals entry.Totals) ([]*entry.Entry, error) {
			if !fs.Policy.OfflinePaymentEnabled {
				return nil, ErrOfflinePaymentsDisabled
			}
			return settlement(totals, p.Amount, key, entry.Entry{
				Mode:      p.Mode,
				Reference: p.Reference,
				Reason:    p.Note,
				Metadata:  p.Metadata,
			}), nil
		})

	e.emitAdmin(ctx, &plugin.AdminAction{
		Action:       "record_offline_payment",
		ActorID:      actor.ID,
		StudentFeeID: p.StudentFeeID,
		ResourceID:   p.Reference,
		Amount:       p.Amount,
		Err:          err,
		Metadata:     map[string]string{"payment_mode": string(p.Mode)},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Entries) > 0 {
		e.logger.Info("offline payment recorded",
			"student_fee_id", p.StudentFeeID.String(),
			"amount", p.Amount,
			"payment_mode", string(p.Mode),
			"reference", p.Reference,
		)
	}
	return res, nil
}

// settlement splits a received amount into a PAYMENT up to the remaining
// balance and a CREDIT for the excess. Whichever entry comes first carries
// key, so a redelivery always collides on it.
func settlement(totals entry.Totals, amount int64, key string, tmpl entry.Entry) []*entry.Entry {
	applied := min(amount, totals.Remaining())
	excess := amount - applied

	var out []*entry.Entry
	if applied > 0 {
		p := tmpl
		p.Type = entry.TypePayment
		p.Amount = entry.Signed(entry.TypePayment, applied)
		p.IdempotencyKey = key
		out = append(out, &p)
	}
	if excess > 0 {
		c := tmpl
		c.Type = entry.TypeCredit
		c.Amount = entry.Signed(entry.TypeCredit, excess)
		c.IdempotencyKey = key
		if applied > 0 {
			c.IdempotencyKey = entry.CreditKey(key)
		}
		out = append(out, &c)
	}
	return out
}

// InitiateRequest starts an online payment.
type InitiateRequest struct {
	StudentFeeID id.StudentFeeID `json:"student_fee_id"`
	Gateway      string          `json:"gateway" validate:"required"`
	// Amount in minor units; zero pays the remaining balance.
	Amount      int64             `json:"amount" validate:"gte=0"`
	Description string            `json:"description,omitempty"`
	Customer    *gateway.Customer `json:"customer,omitempty"`
}

// errAttemptAdvanced stops initiate retries once a callback moved the attempt.
var errAttemptAdvanced = errors.New("feeledger: attempt advanced during initiate")

// InitiatePayment persists a payment attempt and asks the gateway for a
// payment URL. Transient gateway errors are retried with backoff under a
// per-call timeout. An attempt that a callback already advanced is never
// initiated again.
//
// On failure the attempt is marked FAILED and a *PaymentFailure is returned.
// If any call may have reached the gateway the failure is provisional and
// the sweep keeps verifying it.
func (e *Engine) InitiatePayment(ctx context.Context, actor Actor, req InitiateRequest) (*payment.Attempt, error) {
	if err := e.authorize(ctx, actor, CapPaymentInitiate); err != nil {
		return nil, err
	}
	if err := e.validateStruct(&req); err != nil {
		return nil, err
	}
	g, ok := e.gateways[req.Gateway]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotConfigured, req.Gateway)
	}

	fs, err := e.store.GetStructure(ctx, req.StudentFeeID)
	if err != nil {
		return nil, err
	}
	if !fs.Policy.OnlinePaymentEnabled {
		return nil, ErrOnlinePaymentsDisabled
	}

	amount := req.Amount
	if amount == 0 {
		entries, err := e.store.ListEntries(ctx, fs.ID)
		if err != nil {
			return nil, err
		}
		amount = entry.Fold(entries).Remaining()
		if amount == 0 {
			return nil, &ValidationError{Field: "amount", Message: "nothing is due"}
		}
	}

	now := e.now()
	a := &payment.Attempt{
		Entity:       types.NewEntity(now),
		ID:           id.NewAttemptID(),
		StudentFeeID: fs.ID,
		Amount:       amount,
		Currency:     fs.Currency,
		Gateway:      g.Name(),
		State:        payment.StateInitiated,
		Version:      1,
		InitiatedBy:  actor.ID,
	}
	if err := e.store.CreateAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("feeledger: create attempt: %w", err)
	}

	greq := &gateway.InitiateRequest{
		AttemptID:    a.ID,
		StudentFeeID: fs.ID,
		Amount:       types.New(amount, fs.Currency),
		Description:  req.Description,
		Customer:     req.Customer,
	}

	tries := 0
	reachedGateway := false
	resp, err := backoff.Retry(ctx, func() (*gateway.InitiateResponse, error) {
		tries++
		if tries > 1 {
			cur, err := e.store.GetAttempt(ctx, a.ID)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			if cur.State != payment.StateInitiated {
				return nil, backoff.Permanent(errAttemptAdvanced)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
		defer cancel()

		r, err := g.Initiate(callCtx, greq)
		if err == nil {
			return r, nil
		}
		if gateway.IsTransient(err) {
			reachedGateway = true
			e.logger.Warn("gateway initiate failed, retrying",
				"attempt_id", a.ID.String(),
				"gateway", g.Name(),
				"try", tries,
				"error", err,
			)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(e.gatewayBackOff()),
		backoff.WithMaxTries(uint(max(e.gatewayRetries, 1))),
	)

	if errors.Is(err, errAttemptAdvanced) {
		return e.store.GetAttempt(ctx, a.ID)
	}
	if err != nil {
		return nil, e.failInitiate(ctx, a, err, reachedGateway)
	}

	updated, uerr := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		if next.State != payment.StateInitiated {
			return false, nil
		}
		next.GatewayRef = resp.Reference
		next.PaymentURL = resp.PaymentURL
		return true, nil
	})
	if uerr != nil {
		return nil, uerr
	}
	if updated.PaymentURL == "" {
		updated.PaymentURL = resp.PaymentURL
	}

	e.logger.Info("payment initiated",
		"attempt_id", a.ID.String(),
		"student_fee_id", fs.ID.String(),
		"gateway", g.Name(),
		"amount", amount,
	)
	e.plugins.EmitPaymentInitiated(ctx, updated)

	return updated, nil
}

func (e *Engine) gatewayBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (e *Engine) failInitiate(ctx context.Context, a *payment.Attempt, cause error, provisional bool) error {
	failed, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		if next.State != payment.StateInitiated {
			return false, nil
		}
		next.State = payment.StateFailed
		next.Provisional = provisional
		next.FailureReason = cause.Error()
		return true, nil
	})
	if err != nil {
		e.logger.Error("failed to record failed payment attempt",
			"attempt_id", a.ID.String(),
			"error", err,
		)
	} else if failed.State == payment.StateFailed {
		e.plugins.EmitPaymentFailed(ctx, failed, cause.Error())
	}

	e.logger.Warn("payment initiate failed",
		"attempt_id", a.ID.String(),
		"student_fee_id", a.StudentFeeID.String(),
		"gateway", a.Gateway,
		"provisional", provisional,
		"error", cause,
	)
	return &PaymentFailure{AttemptID: a.ID, Err: cause}
}

// CancelPayment marks an attempt FAILED on behalf of the payer. It cannot
// cancel a charge at the gateway, so the failure stays provisional and the
// sweep still settles the attempt if the gateway reports success.
func (e *Engine) CancelPayment(ctx context.Context, actor Actor, attemptID id.AttemptID, reason string) (*payment.Attempt, error) {
	if err := e.authorize(ctx, actor, CapPaymentInitiate); err != nil {
		return nil, err
	}

	a, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	cancelled, err := e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		switch next.State {
		case payment.StateSuccess:
			return false, ErrAttemptTerminal
		case payment.StateFailed:
			return false, nil
		}
		next.State = payment.StateFailed
		next.Provisional = true
		next.FailureReason = "cancelled"
		if reason != "" {
			next.FailureReason = "cancelled: " + reason
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("payment cancelled",
		"attempt_id", attemptID.String(),
		"student_fee_id", cancelled.StudentFeeID.String(),
		"actor", actor.ID,
	)
	e.plugins.EmitPaymentFailed(ctx, cancelled, cancelled.FailureReason)
	return cancelled, nil
}

// GetAttempt returns a payment attempt by ID.
func (e *Engine) GetAttempt(ctx context.Context, actor Actor, attemptID id.AttemptID) (*payment.Attempt, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.GetAttempt(ctx, attemptID)
}

// ListAttempts returns the payment attempts of a student fee.
func (e *Engine) ListAttempts(ctx context.Context, actor Actor, sfID id.StudentFeeID) ([]*payment.Attempt, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.ListAttempts(ctx, sfID)
}

// transition applies mutate to a copy of the attempt and saves it with a
// compare-and-swap on the state it was read in. On a lost race it re-reads
// and tries again. mutate returns false to leave the attempt as it is.
func (e *Engine) transition(ctx context.Context, a *payment.Attempt, mutate func(*payment.Attempt) (bool, error)) (*payment.Attempt, error) {
	tries := max(e.conflictRetries, 1)
	for i := 0; i < tries; i++ {
		next := *a
		ok, err := mutate(&next)
		if err != nil {
			return a, err
		}
		if !ok {
			return a, nil
		}
		next.Touch(e.now())
		next.Version = a.Version + 1

		err = e.store.UpdateAttempt(ctx, &next, a.Version)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return a, err
		}

		a, err = e.store.GetAttempt(ctx, a.ID)
		if err != nil {
			return nil, err
		}
	}
	return a, &ConcurrencyConflictError{StudentFeeID: a.StudentFeeID, Attempts: tries}
}
