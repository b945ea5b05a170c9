package feeledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/structure"
)

// AppendResult reports the outcome of a ledger append. Exactly one of
// Entries or Duplicate is set when the append was attempted; both are empty
// when there was nothing to append.
type AppendResult struct {
	Entries   []*entry.Entry  `json:"entries,omitempty"`
	Duplicate *DuplicateEvent `json:"duplicate,omitempty"`
}

// buildFunc derives the entries to append from the current ledger. It runs
// again after every lost write race, against the fresh ledger.
type buildFunc func(fs *structure.FeeStructure, existing []*entry.Entry, totals entry.Totals) ([]*entry.Entry, error)

// appendEntries is the single write path into a ledger. Appends for one
// student fee are serialized in-process by a keyed lock and across
// processes by the store's compare-and-append on the last sequence number;
// a lost race is retried with backoff against the refreshed ledger.
func (e *Engine) appendEntries(ctx context.Context, sfID id.StudentFeeID, key, source, actor string, build buildFunc) (*AppendResult, error) {
	unlock := e.locks.Lock(sfID.String())
	defer unlock()

	if key != "" {
		dup, err := e.duplicateOf(ctx, key, source)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			e.reportDuplicate(ctx, dup)
			return &AppendResult{Duplicate: dup}, nil
		}
	}

	fs, err := e.store.GetStructure(ctx, sfID)
	if err != nil {
		return nil, err
	}

	tries := 0
	op := func() (*AppendResult, error) {
		tries++

		existing, err := e.store.ListEntries(ctx, sfID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		totals := entry.Fold(existing)

		batch, err := build(fs, existing, totals)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if len(batch) == 0 {
			return &AppendResult{}, nil
		}

		now := e.now()
		for i, en := range batch {
			if en.ID.IsNil() {
				en.ID = id.NewEntryID()
			}
			en.StudentFeeID = sfID
			en.Seq = totals.LastSeq + int64(i) + 1
			if en.Currency == "" {
				en.Currency = fs.Currency
			}
			en.CreatedAt = now
			if en.CreatedBy == "" {
				en.CreatedBy = actor
			}
		}

		err = e.store.AppendEntries(ctx, sfID, totals.LastSeq, batch)
		switch {
		case err == nil:
			return &AppendResult{Entries: batch}, nil
		case errors.Is(err, ErrConcurrencyConflict):
			e.logger.Debug("ledger append lost write race",
				"student_fee_id", sfID.String(),
				"attempt", tries,
			)
			return nil, err
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			dup, lookupErr := e.duplicateInBatch(ctx, key, source, batch)
			if lookupErr != nil {
				return nil, backoff.Permanent(lookupErr)
			}
			if dup == nil {
				return nil, backoff.Permanent(err)
			}
			return &AppendResult{Duplicate: dup}, nil
		default:
			return nil, backoff.Permanent(err)
		}
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.conflictBackOff()),
		backoff.WithMaxTries(uint(max(e.conflictRetries, 1))),
	)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			e.logger.Error("ledger append gave up after write conflicts",
				"student_fee_id", sfID.String(),
				"attempts", tries,
			)
			return nil, &ConcurrencyConflictError{StudentFeeID: sfID, Attempts: tries}
		}
		return nil, err
	}

	if res.Duplicate != nil {
		e.reportDuplicate(ctx, res.Duplicate)
		return res, nil
	}

	if len(res.Entries) > 0 {
		e.summaries.Invalidate(sfID)
		for _, en := range res.Entries {
			e.logger.Debug("ledger entry appended",
				"student_fee_id", sfID.String(),
				"entry_id", en.ID.String(),
				"type", string(en.Type),
				"amount", en.Amount,
				"seq", en.Seq,
			)
			e.plugins.EmitEntryAppended(ctx, en)
		}
	}

	return res, nil
}

func (e *Engine) conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}

// duplicateOf returns a DuplicateEvent when key is already recorded.
func (e *Engine) duplicateOf(ctx context.Context, key, source string) (*DuplicateEvent, error) {
	existing, err := e.store.GetEntryByKey(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &DuplicateEvent{Key: key, EntryID: existing.ID, Source: source}, nil
}

// duplicateInBatch finds which key of a rejected batch was already recorded.
func (e *Engine) duplicateInBatch(ctx context.Context, key, source string, batch []*entry.Entry) (*DuplicateEvent, error) {
	if key != "" {
		return e.duplicateOf(ctx, key, source)
	}
	for _, en := range batch {
		if en.IdempotencyKey == "" {
			continue
		}
		dup, err := e.duplicateOf(ctx, en.IdempotencyKey, source)
		if err != nil || dup != nil {
			return dup, err
		}
	}
	return nil, nil
}

func (e *Engine) reportDuplicate(ctx context.Context, dup *DuplicateEvent) {
	e.logger.Info("duplicate event ignored",
		"idempotency_key", dup.Key,
		"entry_id", dup.EntryID.String(),
		"source", dup.Source,
	)
	e.plugins.EmitDuplicateEvent(ctx, dup.Key, dup.EntryID)
}

// hasKey reports whether any entry in entries carries key.
func hasKey(entries []*entry.Entry, key string) bool {
	for _, en := range entries {
		if en.IdempotencyKey == key {
			return true
		}
	}
	return false
}
