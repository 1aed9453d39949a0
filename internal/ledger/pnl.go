package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"hedgeengine/internal/models"
)

// PnlRepository is the data access layer for metrics_pnl, written
// exclusively by the P&L Projector.
type PnlRepository struct {
	db *sql.DB
}

// NewPnlRepository creates a new P&L repository.
func NewPnlRepository(db *sql.DB) *PnlRepository {
	return &PnlRepository{db: db}
}

// Checkpoint returns MAX(timestamp) across all metrics_pnl rows, or the
// zero time if the table is empty.
func (r *PnlRepository) Checkpoint() (time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRow(`SELECT MAX(timestamp) FROM metrics_pnl`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("pnl checkpoint: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// Insert writes one PnlMetric row within a transaction driven by the
// caller; the unique (trade_type, trade_id) constraint makes repeated
// replay of the same trade a no-op rather than a double-count.
func (r *PnlRepository) Insert(tx *sql.Tx, m *models.PnlMetric) error {
	_, err := tx.Exec(`
		INSERT INTO metrics_pnl (trade_type, trade_id, symbol, timestamp, direction, quantity, price, realized_pnl, cumulative_pnl, net_position_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_type, trade_id) DO NOTHING`,
		m.TradeType, m.TradeID, m.Symbol, m.Timestamp, string(m.Direction), m.Quantity, m.Price,
		m.RealizedPnl, m.CumulativePnl, m.NetPositionAfter)
	if err != nil {
		return fmt.Errorf("insert pnl metric: %w", err)
	}
	return nil
}

// ForSymbol returns every PnlMetric row for symbol in timestamp order,
// used by tests verifying the literal FIFO scenario.
func (r *PnlRepository) ForSymbol(symbol string) ([]*models.PnlMetric, error) {
	rows, err := r.db.Query(`
		SELECT id, trade_type, trade_id, symbol, timestamp, direction, quantity, price, realized_pnl, cumulative_pnl, net_position_after
		FROM metrics_pnl WHERE symbol = ? ORDER BY timestamp ASC, id ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query pnl for symbol: %w", err)
	}
	defer rows.Close()

	var out []*models.PnlMetric
	for rows.Next() {
		var (
			m         models.PnlMetric
			direction string
			realized  sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.TradeType, &m.TradeID, &m.Symbol, &m.Timestamp, &direction,
			&m.Quantity, &m.Price, &realized, &m.CumulativePnl, &m.NetPositionAfter); err != nil {
			return nil, err
		}
		m.Direction = models.Direction(direction)
		if realized.Valid {
			m.RealizedPnl = &realized.Float64
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
