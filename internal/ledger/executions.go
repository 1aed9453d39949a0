package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hedgeengine/internal/models"
)

// ErrExecutionNotFound is returned when an execution id has no row.
var ErrExecutionNotFound = errors.New("execution not found")

// ExecutionRepository is the data access layer for executions.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func createPendingExecution(tx *sql.Tx, symbol string, shares int64, direction models.Direction) (*models.Execution, error) {
	now := time.Now().UTC()
	res, err := tx.Exec(`
		INSERT INTO executions (symbol, shares, direction, broker_order_id, status, submitted_at)
		VALUES (?, ?, ?, '', ?, ?)`,
		symbol, shares, string(direction), string(models.ExecutionPending), now)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create execution id: %w", err)
	}
	return &models.Execution{
		ID: id, Symbol: symbol, Shares: shares, Direction: direction,
		Status: models.ExecutionPending, SubmittedAt: now,
	}, nil
}

func getExecutionTx(tx *sql.Tx, id int64) (*models.Execution, error) {
	const query = `
		SELECT id, symbol, shares, direction, broker_order_id, fill_price_cents, status, submitted_at, executed_at
		FROM executions WHERE id = ?`
	return scanExecution(tx.QueryRow(query, id))
}

// GetByID returns a single execution.
func (r *ExecutionRepository) GetByID(id int64) (*models.Execution, error) {
	const query = `
		SELECT id, symbol, shares, direction, broker_order_id, fill_price_cents, status, submitted_at, executed_at
		FROM executions WHERE id = ?`
	return scanExecution(r.db.QueryRow(query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		exec      models.Execution
		direction string
		status    string
		fillCents sql.NullInt64
		executed  sql.NullTime
	)
	err := row.Scan(&exec.ID, &exec.Symbol, &exec.Shares, &direction, &exec.BrokerOrderID,
		&fillCents, &status, &exec.SubmittedAt, &executed)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Direction = models.Direction(direction)
	exec.Status = models.ExecutionStatus(status)
	if fillCents.Valid {
		exec.FillPriceCents = &fillCents.Int64
	}
	if executed.Valid {
		exec.ExecutedAt = &executed.Time
	}
	return &exec, nil
}

// SetBrokerOrderID records the broker-assigned order id once submitted.
func (r *ExecutionRepository) SetBrokerOrderID(id int64, brokerOrderID string) error {
	res, err := r.db.Exec(`UPDATE executions SET broker_order_id = ? WHERE id = ?`, brokerOrderID, id)
	if err != nil {
		return fmt.Errorf("set broker order id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func finalizeExecutionTx(tx *sql.Tx, id int64, terminal models.ExecutionStatus, fillPriceCents *int64) error {
	if terminal != models.ExecutionCompleted && terminal != models.ExecutionFailed {
		return fmt.Errorf("finalize execution: invalid terminal state %q", terminal)
	}
	now := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE executions
		SET status = ?, fill_price_cents = ?, executed_at = ?
		WHERE id = ? AND status = ?`,
		string(terminal), fillPriceCents, now, id, string(models.ExecutionPending))
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finalize execution %d: %w (or already terminal)", id, ErrExecutionNotFound)
	}
	return nil
}

// Completed returns every execution that finished COMPLETED, ordered
// by executed_at, for the P&L Projector's replay.
func (r *ExecutionRepository) Completed() ([]*models.Execution, error) {
	const query = `
		SELECT id, symbol, shares, direction, broker_order_id, fill_price_cents, status, submitted_at, executed_at
		FROM executions WHERE status = ? ORDER BY executed_at ASC`

	rows, err := r.db.Query(query, string(models.ExecutionCompleted))
	if err != nil {
		return nil, fmt.Errorf("query completed executions: %w", err)
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// PendingExecutions returns every execution currently in PENDING state,
// for the poller's status sweep.
func (r *ExecutionRepository) PendingExecutions() ([]*models.Execution, error) {
	const query = `
		SELECT id, symbol, shares, direction, broker_order_id, fill_price_cents, status, submitted_at, executed_at
		FROM executions WHERE status = ? ORDER BY submitted_at ASC`

	rows, err := r.db.Query(query, string(models.ExecutionPending))
	if err != nil {
		return nil, fmt.Errorf("query pending executions: %w", err)
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}
