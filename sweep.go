package feeledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/feeledger/gateway"
	"github.com/xraph/feeledger/payment"
)

// SweepReport summarizes one reconciliation sweep.
type SweepReport struct {
	Checked int           `json:"checked"`
	Settled int           `json:"settled"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Elapsed time.Duration `json:"elapsed"`
}

// Sweep re-queries the gateway for every attempt that has not reached a
// terminal state (including provisional failures) and has been quiet for
// the configured staleness window. Results go through the same settle path
// as callbacks, so a payment reported by both is applied once. Gateway
// calls are rate limited. Attempts with an open review item are left to
// the operator.
func (e *Engine) Sweep(ctx context.Context, actor Actor) (*SweepReport, error) {
	if err := e.authorize(ctx, actor, CapReconcile); err != nil {
		return nil, err
	}

	start := time.Now()
	now := e.now()

	attempts, err := e.store.ListAttemptsForSweep(ctx, payment.SweepOpts{
		UpdatedBefore: now.Add(-e.sweepStaleAfter),
		Limit:         e.sweepBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("feeledger: list attempts for sweep: %w", err)
	}

	report := &SweepReport{}
	var errs MultiError

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}

		outcome, err := e.sweepOne(ctx, a)
		switch outcome {
		case sweepSettled:
			report.Checked++
			report.Settled++
		case sweepFailed:
			report.Checked++
			report.Failed++
		case sweepChecked:
			report.Checked++
		case sweepSkipped:
			report.Skipped++
		}
		if err != nil {
			errs.Add(fmt.Errorf("attempt %s: %w", a.ID, err))
		}
	}

	report.Elapsed = time.Since(start)
	if report.Checked > 0 || errs.HasErrors() {
		e.logger.Info("reconciliation sweep completed",
			"checked", report.Checked,
			"settled", report.Settled,
			"failed", report.Failed,
			"skipped", report.Skipped,
			"errors", len(errs.Errors),
			"elapsed", report.Elapsed,
		)
	}
	e.plugins.EmitSweepCompleted(ctx, report.Checked, report.Settled, report.Elapsed)

	return report, errs.ErrOrNil()
}

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepChecked
	sweepSettled
	sweepFailed
)

func (e *Engine) sweepOne(ctx context.Context, a *payment.Attempt) (sweepOutcome, error) {
	open, err := e.store.ListReviewItems(ctx, payment.ReviewListOpts{
		Status:    payment.ReviewOpen,
		AttemptID: a.ID,
		Limit:     1,
	})
	if err != nil {
		return sweepSkipped, err
	}
	if len(open) > 0 {
		return sweepSkipped, nil
	}

	g, ok := e.gateways[a.Gateway]
	if !ok {
		e.logger.Warn("sweep skipped attempt for unconfigured gateway",
			"attempt_id", a.ID.String(),
			"gateway", a.Gateway,
		)
		return sweepSkipped, nil
	}

	if err := e.sweepLimiter.Wait(ctx); err != nil {
		return sweepSkipped, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	res, err := g.Query(callCtx, a.ID)
	cancel()

	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrUnknownTransaction):
			return e.sweepUnknown(ctx, a)
		case gateway.IsTransient(err):
			e.logger.Warn("gateway re-query failed, will retry next sweep",
				"attempt_id", a.ID.String(),
				"gateway", a.Gateway,
				"error", err,
			)
			_, terr := e.markChecked(ctx, a)
			return sweepChecked, terr
		default:
			return sweepChecked, err
		}
	}

	switch res.Status {
	case gateway.StatusSuccess:
		out, err := e.reconcile(ctx, a, observation{
			TxnID:  res.GatewayTxnID,
			Amount: res.Amount,
			Status: res.Status,
			Source: "sweep",
		})
		if err != nil {
			var mismatch *ReconciliationMismatchError
			if errors.As(err, &mismatch) {
				return sweepChecked, nil
			}
			return sweepChecked, err
		}
		if len(out.Entries) > 0 || out.Duplicate != nil {
			return sweepSettled, nil
		}
		return sweepChecked, nil
	case gateway.StatusFailed:
		_, err := e.reconcile(ctx, a, observation{TxnID: res.GatewayTxnID, Amount: res.Amount, Status: res.Status, Source: "sweep"})
		return sweepFailed, err
	default:
		_, err := e.markChecked(ctx, a)
		return sweepChecked, err
	}
}

// sweepUnknown handles an attempt the gateway has no record of. The payer
// may still be on the payment page, so only attempts older than the expiry
// are failed.
func (e *Engine) sweepUnknown(ctx context.Context, a *payment.Attempt) (sweepOutcome, error) {
	if e.now().Sub(a.CreatedAt) < e.attemptExpiry {
		_, err := e.markChecked(ctx, a)
		return sweepChecked, err
	}
	_, err := e.failAttempt(ctx, a, observation{Source: "sweep"}, "expired: gateway has no record of the transaction")
	return sweepFailed, err
}

// markChecked records a re-query without changing state.
func (e *Engine) markChecked(ctx context.Context, a *payment.Attempt) (*payment.Attempt, error) {
	return e.transition(ctx, a, func(next *payment.Attempt) (bool, error) {
		if next.Terminal() {
			return false, nil
		}
		now := e.now()
		next.Checks++
		next.LastCheckedAt = &now
		return true, nil
	})
}
