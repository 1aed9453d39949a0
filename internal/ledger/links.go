package ledger

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/models"
)

// LinkRepository is the data access layer for execution_links.
type LinkRepository struct {
	db *sql.DB
}

// NewLinkRepository creates a new link repository.
func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func insertLink(tx *sql.Tx, tradeID, executionID int64, shares decimal.Decimal) error {
	_, err := tx.Exec(`
		INSERT INTO execution_links (trade_id, execution_id, contributed_shares)
		VALUES (?, ?, ?)`, tradeID, executionID, shares.String())
	if err != nil {
		return fmt.Errorf("insert execution link: %w", err)
	}
	return nil
}

// ForExecution returns every link attributed to execution id, used to
// verify the link-sum invariant and to drive FIFO P&L replay.
func (r *LinkRepository) ForExecution(executionID int64) ([]*models.ExecutionLink, error) {
	rows, err := r.db.Query(`
		SELECT id, trade_id, execution_id, contributed_shares
		FROM execution_links WHERE execution_id = ?`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query execution links: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionLink
	for rows.Next() {
		var (
			link  models.ExecutionLink
			share string
		)
		if err := rows.Scan(&link.ID, &link.TradeID, &link.ExecutionID, &share); err != nil {
			return nil, err
		}
		if link.ContributedShares, err = decimal.NewFromString(share); err != nil {
			return nil, err
		}
		out = append(out, &link)
	}
	return out, rows.Err()
}

// attributeFIFO attributes exactly `whole` shares to the oldest
// unlinked trades for symbol, oldest-first, the final link carrying the
// fractional remainder so the sum equals whole exactly.
func attributeFIFO(tx *sql.Tx, symbol string, executionID int64, whole decimal.Decimal) error {
	remaining := whole
	for !remaining.IsZero() {
		candidates, err := oldestUnlinkedTrades(tx, symbol, 1)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return fmt.Errorf("attribute fifo links: no unlinked trades remain for %s with %s shares outstanding", symbol, remaining.String())
		}
		trade := candidates[0]

		already, err := linkedShares(tx, trade.ID)
		if err != nil {
			return err
		}
		available := trade.Quantity.Sub(already)
		if available.LessThanOrEqual(decimal.Zero) {
			continue
		}

		take := available
		if take.GreaterThan(remaining) {
			take = remaining
		}

		if err := insertLink(tx, trade.ID, executionID, take); err != nil {
			return err
		}
		remaining = remaining.Sub(take)
	}
	return nil
}
