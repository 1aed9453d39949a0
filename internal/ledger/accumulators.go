package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/models"
)

// AccumulatorRepository is the data access layer for accumulators.
// Rows are created lazily on first trade for a symbol.
type AccumulatorRepository struct {
	db *sql.DB
}

// NewAccumulatorRepository creates a new accumulator repository.
func NewAccumulatorRepository(db *sql.DB) *AccumulatorRepository {
	return &AccumulatorRepository{db: db}
}

// getForUpdate loads (creating if absent) the accumulator row for
// symbol within tx. SQLite's single-writer transaction already
// serializes this read-modify-write; no explicit row lock is needed.
func getOrCreateAccumulator(tx *sql.Tx, symbol string) (*models.Accumulator, error) {
	acc, err := queryAccumulator(tx, symbol)
	if err == nil {
		return acc, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO accumulators (symbol, net_position, accumulated_long, accumulated_short, pending_execution_id, updated_at)
		VALUES (?, '0', '0', '0', NULL, ?)`, symbol, now)
	if err != nil {
		return nil, fmt.Errorf("create accumulator: %w", err)
	}

	return &models.Accumulator{
		Symbol:           symbol,
		NetPosition:      decimal.Zero,
		AccumulatedLong:  decimal.Zero,
		AccumulatedShort: decimal.Zero,
		UpdatedAt:        now,
	}, nil
}

func queryAccumulator(tx *sql.Tx, symbol string) (*models.Accumulator, error) {
	const query = `
		SELECT symbol, net_position, accumulated_long, accumulated_short, pending_execution_id, updated_at
		FROM accumulators WHERE symbol = ?`

	var (
		acc         models.Accumulator
		netPos      string
		accLong     string
		accShort    string
		pendingID   sql.NullInt64
	)
	err := tx.QueryRow(query, symbol).Scan(&acc.Symbol, &netPos, &accLong, &accShort, &pendingID, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	acc.NetPosition, err = decimal.NewFromString(netPos)
	if err != nil {
		return nil, fmt.Errorf("parse net_position: %w", err)
	}
	acc.AccumulatedLong, err = decimal.NewFromString(accLong)
	if err != nil {
		return nil, fmt.Errorf("parse accumulated_long: %w", err)
	}
	acc.AccumulatedShort, err = decimal.NewFromString(accShort)
	if err != nil {
		return nil, fmt.Errorf("parse accumulated_short: %w", err)
	}
	if pendingID.Valid {
		acc.PendingExecutionID = &pendingID.Int64
	}
	return &acc, nil
}

func saveAccumulator(tx *sql.Tx, acc *models.Accumulator) error {
	acc.UpdatedAt = time.Now().UTC()
	_, err := tx.Exec(`
		UPDATE accumulators
		SET net_position = ?, accumulated_long = ?, accumulated_short = ?, pending_execution_id = ?, updated_at = ?
		WHERE symbol = ?`,
		acc.NetPosition.String(), acc.AccumulatedLong.String(), acc.AccumulatedShort.String(),
		acc.PendingExecutionID, acc.UpdatedAt, acc.Symbol)
	if err != nil {
		return fmt.Errorf("save accumulator: %w", err)
	}
	return nil
}

// Get returns the current accumulator snapshot for symbol, or a zeroed
// Flat accumulator if none has been created yet.
func (r *AccumulatorRepository) Get(symbol string) (*models.Accumulator, error) {
	const query = `
		SELECT symbol, net_position, accumulated_long, accumulated_short, pending_execution_id, updated_at
		FROM accumulators WHERE symbol = ?`

	var (
		acc       models.Accumulator
		netPos    string
		accLong   string
		accShort  string
		pendingID sql.NullInt64
	)
	err := r.db.QueryRow(query, symbol).Scan(&acc.Symbol, &netPos, &accLong, &accShort, &pendingID, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.Accumulator{Symbol: symbol, NetPosition: decimal.Zero, AccumulatedLong: decimal.Zero, AccumulatedShort: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get accumulator: %w", err)
	}

	if acc.NetPosition, err = decimal.NewFromString(netPos); err != nil {
		return nil, err
	}
	if acc.AccumulatedLong, err = decimal.NewFromString(accLong); err != nil {
		return nil, err
	}
	if acc.AccumulatedShort, err = decimal.NewFromString(accShort); err != nil {
		return nil, err
	}
	if pendingID.Valid {
		acc.PendingExecutionID = &pendingID.Int64
	}
	return &acc, nil
}

// All returns every accumulator row, used at startup to rehydrate the
// Conductor's in-memory symbol states.
func (r *AccumulatorRepository) All() ([]*models.Accumulator, error) {
	rows, err := r.db.Query(`SELECT symbol, net_position, accumulated_long, accumulated_short, pending_execution_id, updated_at FROM accumulators`)
	if err != nil {
		return nil, fmt.Errorf("list accumulators: %w", err)
	}
	defer rows.Close()

	var out []*models.Accumulator
	for rows.Next() {
		var (
			acc       models.Accumulator
			netPos    string
			accLong   string
			accShort  string
			pendingID sql.NullInt64
		)
		if err := rows.Scan(&acc.Symbol, &netPos, &accLong, &accShort, &pendingID, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		if acc.NetPosition, err = decimal.NewFromString(netPos); err != nil {
			return nil, err
		}
		if acc.AccumulatedLong, err = decimal.NewFromString(accLong); err != nil {
			return nil, err
		}
		if acc.AccumulatedShort, err = decimal.NewFromString(accShort); err != nil {
			return nil, err
		}
		if pendingID.Valid {
			acc.PendingExecutionID = &pendingID.Int64
		}
		out = append(out, &acc)
	}
	return out, rows.Err()
}
