package ledger

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/models"
)

// TradeRepository is the data access layer for onchain_trades.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository creates a new trade repository.
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// InsertResult reports whether insertTradeIfNew wrote a new row.
type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
)

// insertIfNew inserts a trade within tx, tolerating the (tx_hash,
// log_index) unique constraint so repeated delivery of the same log is
// idempotent.
func insertTradeIfNew(tx *sql.Tx, trade *models.OnchainTrade) (InsertResult, error) {
	const query = `
		INSERT INTO onchain_trades (tx_hash, log_index, symbol, direction, quantity, price_usdc, block_number, block_timestamp)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM onchain_trades WHERE tx_hash = ? AND log_index = ?
		)`

	res, err := tx.Exec(query,
		trade.TxHash, trade.LogIndex, trade.Symbol, string(trade.Direction),
		trade.Quantity.String(), trade.PriceUsdc.String(), trade.BlockNumber, trade.BlockTimestamp,
		trade.TxHash, trade.LogIndex,
	)
	if err != nil {
		return Duplicate, fmt.Errorf("insert onchain trade: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Duplicate, fmt.Errorf("insert onchain trade rows affected: %w", err)
	}
	if affected == 0 {
		return Duplicate, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Duplicate, fmt.Errorf("insert onchain trade last id: %w", err)
	}
	trade.ID = id
	return Inserted, nil
}

// InsertIfNew is the standalone entry point used outside a dispatch
// transaction (e.g. by tests and by extraction paths that never cross
// a hedge threshold).
func (r *TradeRepository) InsertIfNew(trade *models.OnchainTrade) (InsertResult, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return Duplicate, fmt.Errorf("begin: %w", err)
	}
	result, err := insertTradeIfNew(tx, trade)
	if err != nil {
		_ = tx.Rollback()
		return Duplicate, err
	}
	if err := tx.Commit(); err != nil {
		return Duplicate, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// Recent returns the most recently persisted trades, newest block
// first, used by the Event Ingestor to resume backfill/subscription
// from one past the highest persisted block number.
func (r *TradeRepository) Recent(limit int) ([]*models.OnchainTrade, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := r.db.Query(`
		SELECT id, tx_hash, log_index, symbol, direction, quantity, price_usdc, block_number, block_timestamp, created_at
		FROM onchain_trades
		ORDER BY block_number DESC, log_index DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var out []*models.OnchainTrade
	for rows.Next() {
		var (
			t         models.OnchainTrade
			direction string
			quantity  string
			price     string
		)
		if err := rows.Scan(&t.ID, &t.TxHash, &t.LogIndex, &t.Symbol, &direction, &quantity, &price,
			&t.BlockNumber, &t.BlockTimestamp, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent trade: %w", err)
		}
		t.Direction = models.Direction(direction)
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if t.PriceUsdc, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// All returns every persisted trade across all symbols, ordered by
// (block_timestamp, block_number, log_index), for the P&L Projector's
// full-history replay.
func (r *TradeRepository) All() ([]*models.OnchainTrade, error) {
	rows, err := r.db.Query(`
		SELECT id, tx_hash, log_index, symbol, direction, quantity, price_usdc, block_number, block_timestamp, created_at
		FROM onchain_trades
		ORDER BY block_timestamp ASC, block_number ASC, log_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("query all trades: %w", err)
	}
	defer rows.Close()

	var out []*models.OnchainTrade
	for rows.Next() {
		var (
			t        models.OnchainTrade
			direction string
			quantity string
			price    string
		)
		if err := rows.Scan(&t.ID, &t.TxHash, &t.LogIndex, &t.Symbol, &direction, &quantity, &price,
			&t.BlockNumber, &t.BlockTimestamp, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Direction = models.Direction(direction)
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if t.PriceUsdc, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// OldestContributingTrades returns trades for symbol not yet fully
// attributed to an execution, oldest-first by (block_timestamp,
// block_number, log_index), for FIFO link attribution.
func oldestUnlinkedTrades(tx *sql.Tx, symbol string, limit int) ([]*models.OnchainTrade, error) {
	const query = `
		SELECT id, tx_hash, log_index, symbol, direction, quantity, price_usdc, block_number, block_timestamp, created_at
		FROM onchain_trades
		WHERE symbol = ?
		ORDER BY block_timestamp ASC, block_number ASC, log_index ASC`

	rows, err := tx.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query unlinked trades: %w", err)
	}
	defer rows.Close()

	var candidates []*models.OnchainTrade
	for rows.Next() {
		var (
			t         models.OnchainTrade
			direction string
			quantity  string
			price     string
		)
		if err := rows.Scan(&t.ID, &t.TxHash, &t.LogIndex, &t.Symbol, &direction, &quantity, &price,
			&t.BlockNumber, &t.BlockTimestamp, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan unlinked trade: %w", err)
		}
		t.Direction = models.Direction(direction)
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if t.PriceUsdc, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		candidates = append(candidates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*models.OnchainTrade
	for _, t := range candidates {
		linked, err := linkedShares(tx, t.ID)
		if err != nil {
			return nil, err
		}
		if linked.GreaterThanOrEqual(t.Quantity) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// linkedShares sums contributed_shares already attributed to trade,
// using decimal arithmetic throughout - no binary-float intermediate.
func linkedShares(tx *sql.Tx, tradeID int64) (decimal.Decimal, error) {
	rows, err := tx.Query(`SELECT contributed_shares FROM execution_links WHERE trade_id = ?`, tradeID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query linked shares: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, fmt.Errorf("scan linked shares: %w", err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse linked shares: %w", err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}
