package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"hedgeengine/internal/models"
)

// AlertRepository is the data access layer for the alerts table.
//
// Adapted from the teacher's notification repository: Create, GetRecent,
// DeleteOlderThan survive unchanged in shape; PairID-scoped lookups are
// replaced by the hedge engine's per-symbol scoping.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create records a new alert.
func (r *AlertRepository) Create(a *models.Alert) error {
	var metaJSON []byte
	if len(a.Meta) > 0 {
		var err error
		metaJSON, err = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(a.Meta)
		if err != nil {
			return fmt.Errorf("marshal alert meta: %w", err)
		}
	}

	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	res, err := r.db.Exec(`
		INSERT INTO alerts (timestamp, type, severity, symbol, message, meta)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Timestamp, a.Type, a.Severity, a.Symbol, a.Message, nullableJSON(metaJSON))
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create alert id: %w", err)
	}
	a.ID = id
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// GetRecent returns the last limit alerts, newest first, used by the
// health endpoint's degraded-state summary.
func (r *AlertRepository) GetRecent(limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		var (
			a      models.Alert
			symbol sql.NullString
			meta   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Type, &a.Severity, &symbol, &a.Message, &meta); err != nil {
			return nil, err
		}
		if symbol.Valid {
			a.Symbol = &symbol.String
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &a.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal alert meta: %w", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes alerts older than cutoff.
func (r *AlertRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM alerts WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old alerts: %w", err)
	}
	return res.RowsAffected()
}
