package feeledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/feeledger/defaulter"
	"github.com/xraph/feeledger/structure"
)

const structurePage = 500

// RefreshDefaulters rebuilds the defaulter snapshot from every ledger and
// replaces the stored one in a single write. Concurrent calls share one
// refresh. It returns the number of rows written.
func (e *Engine) RefreshDefaulters(ctx context.Context, actor Actor) (int, error) {
	if err := e.authorize(ctx, actor, CapDefaultersRefresh); err != nil {
		return 0, err
	}
	v, err, shared := e.refresh.Do("defaulters", func() (any, error) {
		return e.refreshDefaulters(ctx)
	})
	if err != nil {
		return 0, err
	}
	if shared {
		e.logger.Debug("defaulter refresh joined an in-flight run")
	}
	return v.(int), nil
}

func (e *Engine) refreshDefaulters(ctx context.Context) (int, error) {
	start := time.Now()
	asOf := e.now()

	var (
		mu   sync.Mutex
		rows []*defaulter.Row
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.defaulterWorkers, 1))

	for offset := 0; ; offset += structurePage {
		page, err := e.store.ListStructures(gctx, structure.ListOpts{Limit: structurePage, Offset: offset})
		if err != nil {
			_ = g.Wait() //nolint:errcheck // the listing error is the one reported
			return 0, fmt.Errorf("feeledger: list structures: %w", err)
		}

		for _, fs := range page {
			g.Go(func() error {
				s, err := e.summaryFor(gctx, fs.ID, asOf)
				if err != nil {
					return fmt.Errorf("summary %s: %w", fs.ID, err)
				}
				if row := defaulter.FromSummary(fs, s, asOf); row != nil {
					mu.Lock()
					rows = append(rows, row)
					mu.Unlock()
				}
				return nil
			})
		}

		if len(page) < structurePage {
			break
		}
	}

	if err := g.Wait(); err != nil {
		e.logger.Error("defaulter refresh aborted", "error", err)
		return 0, err
	}

	defaulter.Sort(rows)
	if err := e.store.ReplaceDefaulters(ctx, asOf, rows); err != nil {
		return 0, fmt.Errorf("feeledger: replace defaulters: %w", err)
	}

	elapsed := time.Since(start)
	e.logger.Info("defaulter snapshot refreshed",
		"rows", len(rows),
		"as_of", asOf,
		"elapsed", elapsed,
	)
	e.plugins.EmitDefaultersRefreshed(ctx, len(rows), elapsed)

	return len(rows), nil
}

// DefaulterReport reads the last defaulter snapshot. It never recomputes;
// Report.AsOf tells how fresh the snapshot is.
func (e *Engine) DefaulterReport(ctx context.Context, actor Actor, opts defaulter.ListOpts) (*defaulter.Report, error) {
	if err := e.authorize(ctx, actor, CapRead); err != nil {
		return nil, err
	}
	return e.store.ListDefaulters(ctx, opts)
}
