package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the fee ledger store.
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
    heads         JSONB NOT NULL DEFAULT '[]',
    plan          JSONB NOT NULL DEFAULT '{}',
    policy        JSONB,
    status        TEXT NOT NULL DEFAULT 'active',
    version       INT NOT NULL DEFAULT 1,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_feeledger_catalogs_active_scope
    ON feeledger_catalogs (program_id, batch_id, academic_year) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_feeledger_catalogs_program_year ON feeledger_catalogs (program_id, academic_year);

CREATE TABLE IF NOT EXISTS feeledger_slabs (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    percent      TEXT NOT NULL DEFAULT '0',
    fixed        BIGINT NOT NULL DEFAULT 0,
    max_discount BIGINT NOT NULL DEFAULT 0,
    min_base     BIGINT NOT NULL DEFAULT 0,
    max_base     BIGINT NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'active',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    catalog_id       TEXT NOT NULL REFERENCES feeledger_catalogs (id),
    catalog_version  INT NOT NULL,
    currency         TEXT NOT NULL,
    heads            JSONB NOT NULL DEFAULT '[]',
    base_amount      BIGINT NOT NULL,
    slab_id          TEXT NOT NULL DEFAULT '',
    plan             JSONB NOT NULL DEFAULT '{}',
    policy           JSONB NOT NULL DEFAULT '{}',
    created_by       TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_feeledger_student_fees_student_year ON feeledger_student_fees (student_id, academic_year);
CREATE INDEX IF NOT EXISTS idx_feeledger_student_fees_program ON feeledger_student_fees (program_id, academic_year);

CREATE TABLE IF NOT EXISTS feeledger_schedules (
    id               TEXT PRIMARY KEY,
    student_fee_id   TEXT NOT NULL UNIQUE REFERENCES feeledger_student_fees (id),
    currency         TEXT NOT NULL,
    total            BIGINT NOT NULL,
    basis_concession BIGINT NOT NULL DEFAULT 0,
    basis_fine       BIGINT NOT NULL DEFAULT 0,
    installments     JSONB NOT NULL DEFAULT '[]',
    version          INT NOT NULL DEFAULT 1,
    reason           TEXT NOT NULL DEFAULT '',
    generated_by     TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    student_fee_id  TEXT NOT NULL REFERENCES feeledger_student_fees (id),
    seq             BIGINT NOT NULL,
    type            TEXT NOT NULL,
    amount          BIGINT NOT NULL,
    currency        TEXT NOT NULL,
    reference       TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL DEFAULT '',
    payment_mode    TEXT NOT NULL DEFAULT '',
    attempt_id      TEXT NOT NULL DEFAULT '',
    gateway         TEXT NOT NULL DEFAULT '',
    gateway_txn_id  TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL DEFAULT '',
    reverses_id     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by      TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    CONSTRAINT feeledger_entries_seq_key UNIQUE (student_fee_id, seq),
    CONSTRAINT feeledger_entries_sign CHECK (
        (type IN ('CHARGE', 'FINE') AND amount > 0) OR
        (type IN ('PAYMENT', 'CREDIT') AND amount < 0) OR
        (type = 'CONCESSION' AND amount <> 0) OR
        (type = 'FINE' AND reverses_id <> '' AND amount < 0)
    )
);

CREATE UNIQUE INDEX IF NOT EXISTS feeledger_entries_idempotency_key
    ON feeledger_entries (idempotency_key) WHERE idempotency_key <> '';
CREATE INDEX IF NOT EXISTS idx_feeledger_entries_attempt ON feeledger_entries (attempt_id) WHERE attempt_id <> '';

CREATE OR REPLACE FUNCTION feeledger_entries_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'feeledger_entries is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_feeledger_entries_immutable ON feeledger_entries;
CREATE TRIGGER trg_feeledger_entries_immutable
    BEFORE UPDATE OR DELETE ON feeledger_entries
    FOR EACH ROW EXECUTE FUNCTION feeledger_entries_immutable();
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS feeledger_entries;
DROP FUNCTION IF EXISTS feeledger_entries_immutable();
`)
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
    student_fee_id  TEXT NOT NULL REFERENCES feeledger_student_fees (id),
    amount          BIGINT NOT NULL,
    currency        TEXT NOT NULL,
    gateway         TEXT NOT NULL,
    state           TEXT NOT NULL,
    version         INTEGER NOT NULL DEFAULT 1,
    provisional     BOOLEAN NOT NULL DEFAULT FALSE,
    gateway_txn_id  TEXT NOT NULL DEFAULT '',
    gateway_ref     TEXT NOT NULL DEFAULT '',
    payment_url     TEXT NOT NULL DEFAULT '',
    entry_id        TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    initiated_by    TEXT NOT NULL DEFAULT '',
    checks          INT NOT NULL DEFAULT 0,
    last_checked_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS feeledger_attempts_gateway_txn
    ON feeledger_payment_attempts (gateway, gateway_txn_id) WHERE gateway_txn_id <> '';
CREATE INDEX IF NOT EXISTS idx_feeledger_attempts_student_fee ON feeledger_payment_attempts (student_fee_id, created_at);
CREATE INDEX IF NOT EXISTS idx_feeledger_attempts_sweep
    ON feeledger_payment_attempts (updated_at) WHERE state <> 'SUCCESS';

CREATE TABLE IF NOT EXISTS feeledger_review_items (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'open',
    attempt_id      TEXT NOT NULL DEFAULT '',
    student_fee_id  TEXT NOT NULL DEFAULT '',
    gateway         TEXT NOT NULL DEFAULT '',
    gateway_txn_id  TEXT NOT NULL DEFAULT '',
    expected_amount BIGINT NOT NULL DEFAULT 0,
    received_amount BIGINT NOT NULL DEFAULT 0,
    detail          TEXT NOT NULL DEFAULT '',
    payload         JSONB NOT NULL DEFAULT '{}',
    resolution      TEXT NOT NULL DEFAULT '',
    resolved_by     TEXT NOT NULL DEFAULT '',
    resolved_at     TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_feeledger_reviews_status ON feeledger_review_items (status, created_at);
CREATE INDEX IF NOT EXISTS idx_feeledger_reviews_attempt ON feeledger_review_items (attempt_id);
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
    generation BIGINT PRIMARY KEY,
    as_of      TIMESTAMPTZ NOT NULL,
    row_count  INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feeledger_defaulters (
    generation           BIGINT NOT NULL,
    student_fee_id       TEXT NOT NULL,
    student_id           TEXT NOT NULL,
    name                 TEXT NOT NULL DEFAULT '',
    admission_number     TEXT NOT NULL DEFAULT '',
    program_id           TEXT NOT NULL,
    batch_id             TEXT NOT NULL DEFAULT '',
    academic_year        TEXT NOT NULL,
    currency             TEXT NOT NULL,
    total_due            BIGINT NOT NULL,
    overdue_installments INT NOT NULL DEFAULT 0,
    is_blocked           BOOLEAN NOT NULL DEFAULT FALSE,
    last_payment_date    TIMESTAMPTZ,
    as_of                TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (generation, student_fee_id)
);

CREATE INDEX IF NOT EXISTS idx_feeledger_defaulters_order
    ON feeledger_defaulters (generation, total_due DESC, admission_number);
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
