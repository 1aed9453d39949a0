package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hedgeengine/internal/models"
)

// ErrLockHeld is returned when a symbol dispatch is already in flight.
var ErrLockHeld = errors.New("symbol lock already held")

// LockRepository is the ledger-side half of the per-symbol dispatch
// lock. The conductor pairs this with an in-process sync.Mutex to
// cover the same-process case cheaply; the ledger row is the
// cross-process source of truth.
type LockRepository struct {
	db *sql.DB
}

// NewLockRepository creates a new lock repository.
func NewLockRepository(db *sql.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire inserts a symbol_locks row. Fails with ErrLockHeld if one
// already exists.
func (r *LockRepository) Acquire(symbol string) (*models.SymbolLock, error) {
	now := time.Now().UTC()
	_, err := r.db.Exec(`INSERT INTO symbol_locks (symbol, acquired_at) VALUES (?, ?)`, symbol, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, symbol, err)
	}
	return &models.SymbolLock{Symbol: symbol, AcquiredAt: now}, nil
}

// Release removes the symbol_locks row.
func (r *LockRepository) Release(symbol string) error {
	_, err := r.db.Exec(`DELETE FROM symbol_locks WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("release lock for %s: %w", symbol, err)
	}
	return nil
}

// Get returns the lock row for symbol, if any.
func (r *LockRepository) Get(symbol string) (*models.SymbolLock, error) {
	var lock models.SymbolLock
	err := r.db.QueryRow(`SELECT symbol, acquired_at FROM symbol_locks WHERE symbol = ?`, symbol).
		Scan(&lock.Symbol, &lock.AcquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock for %s: %w", symbol, err)
	}
	return &lock, nil
}

// All returns every currently held lock, used by the health endpoint to
// report lock age.
func (r *LockRepository) All() ([]*models.SymbolLock, error) {
	rows, err := r.db.Query(`SELECT symbol, acquired_at FROM symbol_locks`)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []*models.SymbolLock
	for rows.Next() {
		var lock models.SymbolLock
		if err := rows.Scan(&lock.Symbol, &lock.AcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, &lock)
	}
	return out, rows.Err()
}
