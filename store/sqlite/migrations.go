package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the fee ledger store (SQLite).
var Migrations = migrate.NewGroup("feeledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_feeledger_catalogs",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS feeledger_catalogs (
    id            TEXT PRIMARY KEY,
    program_id    TEXT NOT NULL,
    batch_id      TEXT NOT NULL DEFAULT '',
    academic_year TEXT NOT NULL,
    currency      TEXT NOT NULL,
    heads         TEXT NOT NULL DEFAULT '[]',
    plan          TEXT NOT NULL DEFAULT '{}',
    policy        TEXT,
    status        TEXT NOT NULL DEFAULT 'active',
    version       INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_feeledger_catalogs_active_scope
    ON feeledger_catalogs (program_id, batch_id, academic_year) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS feeledger_slabs (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    percent      TEXT NOT NULL DEFAULT '0',
    fixed        INTEGER NOT NULL DEFAULT 0,
    max_discount INTEGER NOT NULL DEFAULT 0,
    min_base     INTEGER NOT NULL DEFAULT 0,
    max_base     INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'active',
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS feeledger_slabs;
DROP TABLE IF EXISTS feeledger_catalogs;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_feeledger_student_fees",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS feeledger_student_fees (
    id               TEXT PRIMARY KEY,
    student_id       TEXT NOT NULL,
    student_name     TEXT NOT NULL DEFAULT '',
    admission_number TEXT NOT NULL DEFAULT '',
    program_id       TEXT NOT NULL,
    batch_id         TEXT NOT NULL DEFAULT '',
    academic_year    TEXT NOT NULL,
    catalog_id       TEXT NOT NULL,
    catalog_version  INTEGER NOT NULL,
    currency         TEXT NOT NULL,
    heads            TEXT NOT NULL DEFAULT '[]',
    base_amount      INTEGER NOT NULL,
    slab_id          TEXT NOT NULL DEFAULT '',
    plan             TEXT NOT NULL DEFAULT '{}',
    policy           TEXT NOT NULL DEFAULT '{}',
    created_by       TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_feeledger_student_fees_student_year ON feeledger_student_fees (student_id, academic_year);
CREATE INDEX IF NOT EXISTS idx_feeledger_student_fees_program ON feeledger_student_fees (program_id, academic_year);

CREATE TABLE IF NOT EXISTS feeledger_schedules (
    id               TEXT PRIMARY KEY,
    student_fee_id   TEXT NOT NULL UNIQUE,
    currency         TEXT NOT NULL,
    total            INTEGER NOT NULL,
    basis_concession INTEGER NOT NULL DEFAULT 0,
    basis_fine       INTEGER NOT NULL DEFAULT 0,
    installments     TEXT NOT NULL DEFAULT '[]',
    version          INTEGER NOT NULL DEFAULT 1,
    reason           TEXT NOT NULL DEFAULT '',
    generated_by     TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS feeledger_schedules;
DROP TABLE IF EXISTS feeledger_student_fees;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_feeledger_entries",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS feeledger_entries (
    id              TEXT PRIMARY KEY,
    student_fee_id  TEXT NOT NULL,
    seq             INTEGER NOT NULL,
    type            TEXT NOT NULL,
    amount          INTEGER NOT NULL,
    currency        TEXT NOT NULL,
    reference       TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL DEFAULT '',
    payment_mode    TEXT NOT NULL DEFAULT '',
    attempt_id      TEXT NOT NULL DEFAULT '',
    gateway         TEXT NOT NULL DEFAULT '',
    gateway_txn_id  TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL DEFAULT '',
    reverses_id     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    created_by      TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    UNIQUE (student_fee_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS feeledger_entries_idempotency_key
    ON feeledger_entries (idempotency_key) WHERE idempotency_key <> '';

CREATE TRIGGER IF NOT EXISTS trg_feeledger_entries_no_update
BEFORE UPDATE ON feeledger_entries
BEGIN
    SELECT RAISE(ABORT, 'feeledger_entries is append-only');
END;

CREATE TRIGGER IF NOT EXISTS trg_feeledger_entries_no_delete
BEFORE DELETE ON feeledger_entries
BEGIN
    SELECT RAISE(ABORT, 'feeledger_entries is append-only');
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS feeledger_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_feeledger_payment_attempts",
			Version: "20250601000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS feeledger_payment_attempts (
    id              TEXT PRIMARY KEY,
    student_fee_id  TEXT NOT NULL,
    amount          INTEGER NOT NULL,
    currency        TEXT NOT NULL,
    gateway         TEXT NOT NULL,
    state           TEXT NOT NULL,
    version         INTEGER NOT NULL DEFAULT 1,
    provisional     INTEGER NOT NULL DEFAULT 0,
    gateway_txn_id  TEXT NOT NULL DEFAULT '',
    gateway_ref     TEXT NOT NULL DEFAULT '',
    payment_url     TEXT NOT NULL DEFAULT '',
    entry_id        TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    initiated_by    TEXT NOT NULL DEFAULT '',
    checks          INTEGER NOT NULL DEFAULT 0,
    last_checked_at TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS feeledger_attempts_gateway_txn
    ON feeledger_payment_attempts (gateway, gateway_txn_id) WHERE gateway_txn_id <> '';
CREATE INDEX IF NOT EXISTS idx_feeledger_attempts_student_fee ON feeledger_payment_attempts (student_fee_id);
CREATE INDEX IF NOT EXISTS idx_feeledger_attempts_updated ON feeledger_payment_attempts (updated_at);

CREATE TABLE IF NOT EXISTS feeledger_review_items (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'open',
    attempt_id      TEXT NOT NULL DEFAULT '',
    student_fee_id  TEXT NOT NULL DEFAULT '',
    gateway         TEXT NOT NULL DEFAULT '',
    gateway_txn_id  TEXT NOT NULL DEFAULT '',
    expected_amount INTEGER NOT NULL DEFAULT 0,
    received_amount INTEGER NOT NULL DEFAULT 0,
    detail          TEXT NOT NULL DEFAULT '',
    payload         TEXT NOT NULL DEFAULT '{}',
    resolution      TEXT NOT NULL DEFAULT '',
    resolved_by     TEXT NOT NULL DEFAULT '',
    resolved_at     TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_feeledger_reviews_status ON feeledger_review_items (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS feeledger_review_items;
DROP TABLE IF EXISTS feeledger_payment_attempts;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_feeledger_defaulters",
			Version: "20250601000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS feeledger_defaulter_runs (
    generation INTEGER PRIMARY KEY,
    as_of      TEXT NOT NULL,
    row_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feeledger_defaulters (
    generation           INTEGER NOT NULL,
    student_fee_id       TEXT NOT NULL,
    student_id           TEXT NOT NULL,
    name                 TEXT NOT NULL DEFAULT '',
    admission_number     TEXT NOT NULL DEFAULT '',
    program_id           TEXT NOT NULL,
    batch_id             TEXT NOT NULL DEFAULT '',
    academic_year        TEXT NOT NULL,
    currency             TEXT NOT NULL,
    total_due            INTEGER NOT NULL,
    overdue_installments INTEGER NOT NULL DEFAULT 0,
    is_blocked           INTEGER NOT NULL DEFAULT 0,
    last_payment_date    TEXT,
    as_of                TEXT NOT NULL,
    PRIMARY KEY (generation, student_fee_id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS feeledger_defaulters;
DROP TABLE IF EXISTS feeledger_defaulter_runs;
`)
				return err
			},
		},
	)
}
