package postgres

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. The partial unique index on
// saga_executions enforces at most one active execution per order at the
// database level; order_events carries a BIGSERIAL seq that breaks
// recorded_at ties in the total per-order event order.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                          TEXT PRIMARY KEY,
	customer_id                 TEXT NOT NULL,
	total_amount_in_minor_units BIGINT NOT NULL,
	status                      TEXT NOT NULL,
	created_at                  TIMESTAMPTZ NOT NULL,
	updated_at                  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	id                        TEXT PRIMARY KEY,
	order_id                  TEXT NOT NULL REFERENCES orders(id),
	product_id                TEXT NOT NULL,
	product_name              TEXT NOT NULL DEFAULT '',
	quantity                  INT NOT NULL,
	unit_price_in_minor_units BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id);

CREATE TABLE IF NOT EXISTS saga_executions (
	id                        TEXT PRIMARY KEY,
	order_id                  TEXT NOT NULL REFERENCES orders(id),
	current_step_index        INT NOT NULL DEFAULT 0,
	status                    TEXT NOT NULL,
	failed_step_index         INT,
	failure_reason            TEXT NOT NULL DEFAULT '',
	trace_id                  TEXT NOT NULL DEFAULT '',
	is_retry                  BOOLEAN NOT NULL DEFAULT FALSE,
	started_at                TIMESTAMPTZ NOT NULL,
	completed_at              TIMESTAMPTZ,
	compensation_started_at   TIMESTAMPTZ,
	compensation_completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_saga_executions_order ON saga_executions (order_id);
CREATE INDEX IF NOT EXISTS idx_saga_executions_status ON saga_executions (status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_saga_executions_active
	ON saga_executions (order_id)
	WHERE status IN ('PENDING', 'IN_PROGRESS', 'COMPENSATING');

CREATE TABLE IF NOT EXISTS step_executions (
	id             TEXT PRIMARY KEY,
	execution_id   TEXT NOT NULL REFERENCES saga_executions(id),
	step_name      TEXT NOT NULL,
	step_index     INT NOT NULL,
	status         TEXT NOT NULL,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	compensated_at TIMESTAMPTZ,
	error_code     TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	result_payload JSONB,
	CONSTRAINT uq_step_executions_index UNIQUE (execution_id, step_index)
);
CREATE INDEX IF NOT EXISTS idx_step_executions_execution ON step_executions (execution_id);

CREATE TABLE IF NOT EXISTS order_events (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL,
	order_id     TEXT NOT NULL REFERENCES orders(id),
	execution_id TEXT NOT NULL DEFAULT '',
	event_type   TEXT NOT NULL,
	step_name    TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	details      JSONB,
	error        JSONB,
	recorded_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events (order_id, recorded_at, seq);

CREATE TABLE IF NOT EXISTS retry_attempts (
	id                     TEXT PRIMARY KEY,
	order_id               TEXT NOT NULL REFERENCES orders(id),
	original_execution_id  TEXT NOT NULL,
	retry_execution_id     TEXT NOT NULL DEFAULT '',
	attempt_number         INT NOT NULL,
	resumed_from_step_name TEXT NOT NULL DEFAULT '',
	skipped_step_names     JSONB,
	outcome                TEXT NOT NULL DEFAULT '',
	failure_reason         TEXT NOT NULL DEFAULT '',
	initiated_at           TIMESTAMPTZ NOT NULL,
	completed_at           TIMESTAMPTZ,
	CONSTRAINT uq_retry_attempts_number UNIQUE (order_id, attempt_number)
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
