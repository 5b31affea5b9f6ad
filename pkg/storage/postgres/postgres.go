// Package postgres implements the saga persistence gateway on PostgreSQL
// using pgx. Every multi-row operation runs in a transaction and every
// guarded status change is a conditional UPDATE, so the database is the
// single serialization point between competing workers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/orderflow/pkg/saga"
)

// Config holds the connection settings for the gateway pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Gateway is the PostgreSQL saga.Gateway implementation.
type Gateway struct {
	pool *pgxpool.Pool
}

// Open connects a pool with the given config and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

// NewGateway wraps an existing pool.
func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// InsertOrder persists an order with its items and the creation event in one
// transaction.
func (g *Gateway) InsertOrder(ctx context.Context, order *saga.Order, items []saga.OrderItem, created *saga.Event) error {
	if order == nil {
		return fmt.Errorf("order cannot be nil")
	}
	err := g.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, customer_id, total_amount_in_minor_units, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, order.CustomerID, order.TotalAmountInMinorUnits, string(order.Status), order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range items {
			_, err := tx.Exec(ctx, `
				INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price_in_minor_units)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				items[i].ID, items[i].OrderID, items[i].ProductID, items[i].ProductName, items[i].Quantity, items[i].UnitPriceInMinorUnits,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return insertEventTx(ctx, tx, created)
	})
	if err != nil {
		return err
	}
	order.MarkPersisted()
	return nil
}

// GetOrder returns an order with its items.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*saga.Order, []saga.OrderItem, error) {
	var order saga.Order
	var status string
	err := g.pool.QueryRow(ctx, `
		SELECT id, customer_id, total_amount_in_minor_units, status, created_at, updated_at
		FROM orders WHERE id = $1`, orderID,
	).Scan(&order.ID, &order.CustomerID, &order.TotalAmountInMinorUnits, &status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("order %s: %w", orderID, saga.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("get order: %w", err)
	}
	order.Status = saga.OrderStatus(status)

	rows, err := g.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price_in_minor_units
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []saga.OrderItem
	for rows.Next() {
		var item saga.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceInMinorUnits); err != nil {
			return nil, nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate order items: %w", err)
	}
	return &order, items, nil
}

// UpdateOrderStatus performs a guarded order status change.
func (g *Gateway) UpdateOrderStatus(ctx context.Context, orderID string, from, to saga.OrderStatus) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		return updateOrderStatusTx(ctx, tx, orderID, from, to, time.Now().UTC())
	})
}

func updateOrderStatusTx(ctx context.Context, tx pgx.Tx, orderID string, from, to saga.OrderStatus, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		orderID, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s: %w", orderID, saga.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check order status: %w", err)
		}
		return fmt.Errorf("order %s is %s, expected %s: %w", orderID, current, from, saga.ErrVersionConflict)
	}
	return nil
}

// InsertExecution persists a new execution. The partial unique index rejects
// a second active execution for the same order.
func (g *Gateway) InsertExecution(ctx context.Context, exec *saga.Execution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO saga_executions (
			id, order_id, current_step_index, status, failed_step_index, failure_reason,
			trace_id, is_retry, started_at, completed_at, compensation_started_at, compensation_completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exec.ID, exec.OrderID, exec.CurrentStepIndex, string(exec.Status), exec.FailedStepIndex, exec.FailureReason,
		exec.TraceID, exec.IsRetry, exec.StartedAt, exec.CompletedAt, exec.CompensationStartedAt, exec.CompensationCompletedAt,
	)
	if err != nil {
		if constraintViolated(err, "uq_saga_executions_active") {
			return fmt.Errorf("order %s: %w", exec.OrderID, saga.ErrExecutionActive)
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	exec.MarkPersisted()
	return nil
}

const executionColumns = `
	id, order_id, current_step_index, status, failed_step_index, failure_reason,
	trace_id, is_retry, started_at, completed_at, compensation_started_at, compensation_completed_at`

// GetExecution returns one execution by id.
func (g *Gateway) GetExecution(ctx context.Context, executionID string) (*saga.Execution, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM saga_executions WHERE id = $1`, executionID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", executionID, saga.ErrNotFound)
		}
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns all executions for an order, oldest first.
func (g *Gateway) ListExecutions(ctx context.Context, orderID string) ([]*saga.Execution, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM saga_executions
		WHERE order_id = $1 ORDER BY started_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListActiveExecutions returns executions the crash-recovery sweep must resume.
func (g *Gateway) ListActiveExecutions(ctx context.Context) ([]*saga.Execution, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM saga_executions
		WHERE status IN ($1, $2, $3) ORDER BY started_at, id`,
		string(saga.ExecutionPending), string(saga.ExecutionInProgress), string(saga.ExecutionCompensating))
	if err != nil {
		return nil, fmt.Errorf("list active executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// LoadExecutionForResume returns the latest execution for an order with its
// step executions in index order.
func (g *Gateway) LoadExecutionForResume(ctx context.Context, orderID string) (*saga.Execution, []*saga.StepExecution, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT `+executionColumns+` FROM saga_executions
		WHERE order_id = $1 ORDER BY started_at DESC, id DESC LIMIT 1`, orderID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("order %s has no executions: %w", orderID, saga.ErrNotFound)
		}
		return nil, nil, err
	}
	steps, err := g.ListStepExecutions(ctx, exec.ID)
	if err != nil {
		return nil, nil, err
	}
	return exec, steps, nil
}

const stepColumns = `
	id, execution_id, step_name, step_index, status, started_at, completed_at,
	compensated_at, error_code, error_message, result_payload`

// ListStepExecutions returns the step executions of one execution.
func (g *Gateway) ListStepExecutions(ctx context.Context, executionID string) ([]*saga.StepExecution, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT `+stepColumns+` FROM step_executions
		WHERE execution_id = $1 ORDER BY step_index`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	var steps []*saga.StepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step executions: %w", err)
	}
	return steps, nil
}

// InsertStepExecution persists a step row as-is.
func (g *Gateway) InsertStepExecution(ctx context.Context, step *saga.StepExecution) error {
	if step == nil {
		return fmt.Errorf("step execution cannot be nil")
	}
	return g.inTx(ctx, func(tx pgx.Tx) error {
		return insertStepTx(ctx, tx, step)
	})
}

func insertStepTx(ctx context.Context, tx pgx.Tx, step *saga.StepExecution) error {
	payload, err := marshalJSONB(step.ResultPayload)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO step_executions (
			id, execution_id, step_name, step_index, status, started_at, completed_at,
			compensated_at, error_code, error_message, result_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		step.ID, step.ExecutionID, step.StepName, step.StepIndex, string(step.Status),
		step.StartedAt, step.CompletedAt, step.CompensatedAt, step.ErrorCode, step.ErrorMessage, payload,
	)
	if err != nil {
		if constraintViolated(err, "uq_step_executions_index") {
			return fmt.Errorf("execution %s already has step index %d", step.ExecutionID, step.StepIndex)
		}
		return fmt.Errorf("insert step execution: %w", err)
	}
	return nil
}

// RecordStepStart inserts the step row and appends the event atomically.
func (g *Gateway) RecordStepStart(ctx context.Context, step *saga.StepExecution, event *saga.Event) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertStepTx(ctx, tx, step); err != nil {
			return err
		}
		return insertEventTx(ctx, tx, event)
	})
}

// RecordStepCompletion marks the step COMPLETED, bumps the execution cursor,
// and appends the event, guarded by the execution being IN_PROGRESS.
func (g *Gateway) RecordStepCompletion(ctx context.Context, step *saga.StepExecution, event *saga.Event) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM saga_executions WHERE id = $1 FOR UPDATE`, step.ExecutionID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("execution %s: %w", step.ExecutionID, saga.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock execution: %w", err)
		}
		if saga.ExecutionStatus(status) != saga.ExecutionInProgress {
			return fmt.Errorf("execution %s is %s: %w", step.ExecutionID, status, saga.ErrVersionConflict)
		}
		if err := updateStepTx(ctx, tx, step, saga.StepCompleted); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE saga_executions SET current_step_index = $2 WHERE id = $1`,
			step.ExecutionID, step.StepIndex+1); err != nil {
			return fmt.Errorf("bump step cursor: %w", err)
		}
		return insertEventTx(ctx, tx, event)
	})
}

// RecordStepFailure marks the step FAILED and applies the execution
// transition plus the event in one transaction.
func (g *Gateway) RecordStepFailure(ctx context.Context, step *saga.StepExecution, tr saga.ExecutionTransition, event *saga.Event) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		tr.Event = event
		if err := transitionTx(ctx, tx, step.ExecutionID, tr); err != nil {
			return err
		}
		return updateStepTx(ctx, tx, step, saga.StepFailed)
	})
}

// MarkStepCompensating flips a COMPLETED step to COMPENSATING.
func (g *Gateway) MarkStepCompensating(ctx context.Context, stepExecutionID string, at time.Time) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE step_executions SET status = $2
		WHERE id = $1 AND status = $3`,
		stepExecutionID, string(saga.StepCompensating), string(saga.StepCompleted))
	if err != nil {
		return fmt.Errorf("mark step compensating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s is not COMPLETED: %w", stepExecutionID, saga.ErrVersionConflict)
	}
	return nil
}

// RecordStepCompensated marks the step COMPENSATED and appends the event.
func (g *Gateway) RecordStepCompensated(ctx context.Context, step *saga.StepExecution, event *saga.Event) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateStepTx(ctx, tx, step, saga.StepCompensated); err != nil {
			return err
		}
		return insertEventTx(ctx, tx, event)
	})
}

// RecordCompensationFailure marks the step FAILED with the compensation
// error and appends the anomaly event.
func (g *Gateway) RecordCompensationFailure(ctx context.Context, step *saga.StepExecution, event *saga.Event) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateStepTx(ctx, tx, step, saga.StepFailed); err != nil {
			return err
		}
		return insertEventTx(ctx, tx, event)
	})
}

func updateStepTx(ctx context.Context, tx pgx.Tx, step *saga.StepExecution, to saga.StepStatus) error {
	payload, err := marshalJSONB(step.ResultPayload)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE step_executions SET
			status = $2,
			started_at = $3,
			completed_at = $4,
			compensated_at = $5,
			error_code = $6,
			error_message = $7,
			result_payload = $8
		WHERE id = $1`,
		step.ID, string(to), step.StartedAt, step.CompletedAt, step.CompensatedAt,
		step.ErrorCode, step.ErrorMessage, payload)
	if err != nil {
		return fmt.Errorf("update step execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step execution %s: %w", step.ID, saga.ErrNotFound)
	}
	return nil
}

// TransitionExecution applies a guarded execution transition.
func (g *Gateway) TransitionExecution(ctx context.Context, executionID string, tr saga.ExecutionTransition) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		return transitionTx(ctx, tx, executionID, tr)
	})
}

func transitionTx(ctx context.Context, tx pgx.Tx, executionID string, tr saga.ExecutionTransition) error {
	var status, orderID string
	err := tx.QueryRow(ctx, `SELECT status, order_id FROM saga_executions WHERE id = $1 FOR UPDATE`, executionID).
		Scan(&status, &orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("execution %s: %w", executionID, saga.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock execution: %w", err)
	}
	if saga.ExecutionStatus(status) != tr.From {
		return fmt.Errorf("execution %s is %s, expected %s: %w", executionID, status, tr.From, saga.ErrVersionConflict)
	}
	if err := tr.From.ValidateTransition(tr.To); err != nil {
		return err
	}
	if tr.OrderStatus != "" {
		at := time.Now().UTC()
		if tr.Event != nil {
			at = tr.Event.RecordedAt
		}
		if err := updateOrderStatusTx(ctx, tx, orderID, tr.OrderFrom, tr.OrderStatus, at); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `
		UPDATE saga_executions SET
			status = $2,
			failed_step_index = COALESCE($3, failed_step_index),
			failure_reason = CASE WHEN $4::text <> '' THEN $4 ELSE failure_reason END,
			completed_at = COALESCE($5, completed_at),
			compensation_started_at = COALESCE($6, compensation_started_at),
			compensation_completed_at = COALESCE($7, compensation_completed_at)
		WHERE id = $1`,
		executionID, string(tr.To), tr.FailedStepIndex, tr.FailureReason,
		tr.CompletedAt, tr.CompensationStartedAt, tr.CompensationCompletedAt)
	if err != nil {
		return fmt.Errorf("transition execution: %w", err)
	}
	if err := insertEventTx(ctx, tx, tr.Event); err != nil {
		return err
	}
	for _, evt := range tr.Events {
		if err := insertEventTx(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvent appends a single lifecycle event outside any transition.
func (g *Gateway) AppendEvent(ctx context.Context, event *saga.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return g.inTx(ctx, func(tx pgx.Tx) error {
		return insertEventTx(ctx, tx, event)
	})
}

func insertEventTx(ctx context.Context, tx pgx.Tx, event *saga.Event) error {
	if event == nil {
		return nil
	}
	details, err := marshalJSONB(event.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	var errInfo []byte
	if event.Error != nil {
		errInfo, err = json.Marshal(event.Error)
		if err != nil {
			return fmt.Errorf("marshal event error: %w", err)
		}
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO order_events (id, order_id, execution_id, event_type, step_name, outcome, details, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		event.ID, event.OrderID, event.ExecutionID, string(event.Type), event.StepName,
		string(event.Outcome), details, errInfo, event.RecordedAt,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns all events for an order in (recorded_at, seq) order.
func (g *Gateway) ListEvents(ctx context.Context, orderID string) ([]*saga.Event, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT seq, id, order_id, execution_id, event_type, step_name, outcome, details, error, recorded_at
		FROM order_events WHERE order_id = $1
		ORDER BY recorded_at, seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*saga.Event
	for rows.Next() {
		var event saga.Event
		var typ, outcome string
		var details, errInfo []byte
		if err := rows.Scan(&event.Seq, &event.ID, &event.OrderID, &event.ExecutionID, &typ,
			&event.StepName, &outcome, &details, &errInfo, &event.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = saga.EventType(typ)
		event.Outcome = saga.Outcome(outcome)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		if len(errInfo) > 0 {
			event.Error = &saga.ErrorInfo{}
			if err := json.Unmarshal(errInfo, event.Error); err != nil {
				return nil, fmt.Errorf("unmarshal event error: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// InsertRetryAttempt persists a retry attempt.
func (g *Gateway) InsertRetryAttempt(ctx context.Context, attempt *saga.RetryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("retry attempt cannot be nil")
	}
	skipped, err := marshalJSONB(attempt.SkippedStepNames)
	if err != nil {
		return fmt.Errorf("marshal skipped step names: %w", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO retry_attempts (
			id, order_id, original_execution_id, retry_execution_id, attempt_number,
			resumed_from_step_name, skipped_step_names, outcome, failure_reason, initiated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.ID, attempt.OrderID, attempt.OriginalExecutionID, attempt.RetryExecutionID, attempt.AttemptNumber,
		attempt.ResumedFromStepName, skipped, string(attempt.Outcome), attempt.FailureReason, attempt.InitiatedAt, attempt.CompletedAt,
	)
	if err != nil {
		if constraintViolated(err, "uq_retry_attempts_number") {
			return fmt.Errorf("order %s attempt %d: %w", attempt.OrderID, attempt.AttemptNumber, saga.ErrDuplicateAttempt)
		}
		return fmt.Errorf("insert retry attempt: %w", err)
	}
	return nil
}

// SetRetryExecution records the retry execution id on an attempt.
func (g *Gateway) SetRetryExecution(ctx context.Context, attemptID, executionID string) error {
	tag, err := g.pool.Exec(ctx, `UPDATE retry_attempts SET retry_execution_id = $2 WHERE id = $1`, attemptID, executionID)
	if err != nil {
		return fmt.Errorf("set retry execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry attempt %s: %w", attemptID, saga.ErrNotFound)
	}
	return nil
}

// CompleteRetryAttempt records the terminal outcome of an attempt.
func (g *Gateway) CompleteRetryAttempt(ctx context.Context, attemptID string, outcome saga.RetryOutcome, reason string, completedAt time.Time) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE retry_attempts SET outcome = $2, failure_reason = $3, completed_at = $4
		WHERE id = $1`,
		attemptID, string(outcome), reason, completedAt)
	if err != nil {
		return fmt.Errorf("complete retry attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry attempt %s: %w", attemptID, saga.ErrNotFound)
	}
	return nil
}

// ListRetryAttempts returns all retry attempts for an order, oldest first.
func (g *Gateway) ListRetryAttempts(ctx context.Context, orderID string) ([]*saga.RetryAttempt, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, order_id, original_execution_id, retry_execution_id, attempt_number,
			   resumed_from_step_name, skipped_step_names, outcome, failure_reason, initiated_at, completed_at
		FROM retry_attempts WHERE order_id = $1 ORDER BY attempt_number`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list retry attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*saga.RetryAttempt
	for rows.Next() {
		var attempt saga.RetryAttempt
		var outcome string
		var skipped []byte
		if err := rows.Scan(&attempt.ID, &attempt.OrderID, &attempt.OriginalExecutionID, &attempt.RetryExecutionID,
			&attempt.AttemptNumber, &attempt.ResumedFromStepName, &skipped, &outcome,
			&attempt.FailureReason, &attempt.InitiatedAt, &attempt.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan retry attempt: %w", err)
		}
		attempt.Outcome = saga.RetryOutcome(outcome)
		if len(skipped) > 0 {
			if err := json.Unmarshal(skipped, &attempt.SkippedStepNames); err != nil {
				return nil, fmt.Errorf("unmarshal skipped step names: %w", err)
			}
		}
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry attempts: %w", err)
	}
	return attempts, nil
}

// Healthy reports whether the database is reachable.
func (g *Gateway) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return g.pool.Ping(ctx) == nil
}

// Close releases the pool.
func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

// Pool exposes the underlying pool for schema management.
func (g *Gateway) Pool() *pgxpool.Pool {
	return g.pool
}

func (g *Gateway) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanExecution(row pgx.Row) (*saga.Execution, error) {
	var exec saga.Execution
	var status string
	err := row.Scan(&exec.ID, &exec.OrderID, &exec.CurrentStepIndex, &status, &exec.FailedStepIndex,
		&exec.FailureReason, &exec.TraceID, &exec.IsRetry, &exec.StartedAt, &exec.CompletedAt,
		&exec.CompensationStartedAt, &exec.CompensationCompletedAt)
	if err != nil {
		return nil, err
	}
	exec.Status = saga.ExecutionStatus(status)
	return &exec, nil
}

func scanExecutions(rows pgx.Rows) ([]*saga.Execution, error) {
	var out []*saga.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func scanStep(rows pgx.Rows) (*saga.StepExecution, error) {
	var step saga.StepExecution
	var status string
	var payload []byte
	err := rows.Scan(&step.ID, &step.ExecutionID, &step.StepName, &step.StepIndex, &status,
		&step.StartedAt, &step.CompletedAt, &step.CompensatedAt, &step.ErrorCode, &step.ErrorMessage, &payload)
	if err != nil {
		return nil, fmt.Errorf("scan step execution: %w", err)
	}
	step.Status = saga.StepStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &step.ResultPayload); err != nil {
			return nil, fmt.Errorf("unmarshal result payload: %w", err)
		}
	}
	return &step, nil
}

func marshalJSONB(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return json.Marshal(v)
}

func constraintViolated(err error, name string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == name
}
