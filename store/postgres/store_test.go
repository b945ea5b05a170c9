package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/feeledger"
	"github.com/xraph/feeledger/defaulter"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"seq race", &pgconn.PgError{Code: "23505", ConstraintName: "feeledger_entries_seq_key"}, feeledger.ErrConcurrencyConflict},
		{"replayed key", &pgconn.PgError{Code: "23505", ConstraintName: "feeledger_entries_idempotency_key"}, feeledger.ErrDuplicateIdempotencyKey},
		{"gateway txn", &pgconn.PgError{Code: "23505", ConstraintName: "feeledger_attempts_gateway_txn"}, feeledger.ErrGatewayTxnConflict},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "feeledger_catalogs_pkey"}, feeledger.ErrAlreadyExists},
		{"wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "feeledger_entries_seq_key"}), feeledger.ErrConcurrencyConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	check := &pgconn.PgError{Code: "23514", ConstraintName: "feeledger_entries_sign"}
	if got := classify(check); got != error(check) {
		t.Errorf("check violation: got %v, want it unchanged", got)
	}
}

func TestDefaulterFilter(t *testing.T) {
	where, args := defaulterFilter(42, defaulter.ListOpts{
		ProgramID:   "bsc-cs",
		MinDue:      1000,
		OnlyOverdue: true,
		OnlyBlocked: true,
	})

	wantWhere := "generation = $1 AND program_id = $2 AND total_due >= $3 AND overdue_installments > 0 AND is_blocked"
	if where != wantWhere {
		t.Errorf("where: got %q, want %q", where, wantWhere)
	}
	if len(args) != 3 {
		t.Fatalf("args: got %d, want 3", len(args))
	}
	if args[0] != int64(42) || args[1] != "bsc-cs" || args[2] != int64(1000) {
		t.Errorf("args: got %v", args)
	}
}
