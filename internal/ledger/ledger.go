// Package ledger is the durable, transactional store of on-chain fills,
// hedge executions, per-symbol accumulators, execution<->fill audit
// links, encrypted broker credentials, symbol locks, and P&L metrics.
// The Ledger is the single source of truth; every cross-row invariant
// is enforced inside a single serializable transaction.
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/database"
	"hedgeengine/internal/models"
)

// Ledger is the facade over the per-entity repositories, implementing
// the transactional primitives described in spec section 4.2.
type Ledger struct {
	db *database.DB

	Trades      *TradeRepository
	Executions  *ExecutionRepository
	Accumulators *AccumulatorRepository
	Links       *LinkRepository
	Credentials *CredentialsRepository
	Locks       *LockRepository
	Pnl         *PnlRepository
	Alerts      *AlertRepository
}

// New wires a Ledger over an already-opened, migrated database.
func New(db *database.DB) *Ledger {
	conn := db.Conn()
	return &Ledger{
		db:           db,
		Trades:       NewTradeRepository(conn),
		Executions:   NewExecutionRepository(conn),
		Accumulators: NewAccumulatorRepository(conn),
		Links:        NewLinkRepository(conn),
		Credentials:  NewCredentialsRepository(conn),
		Locks:        NewLockRepository(conn),
		Pnl:          NewPnlRepository(conn),
		Alerts:       NewAlertRepository(conn),
	}
}

// DB exposes the underlying database, used by the health endpoint and
// the P&L projector's own transactional writes.
func (l *Ledger) DB() *database.DB { return l.db }

// InsertTradeIfNew inserts trade if its (tx_hash, log_index) has not
// been seen before; repeated delivery of the same log is a no-op.
func (l *Ledger) InsertTradeIfNew(trade *models.OnchainTrade) (InsertResult, error) {
	return l.Trades.InsertIfNew(trade)
}

// DispatchIntent is returned by ApplyTradeAndMaybeDispatch when a
// whole-share threshold was crossed and a fresh PENDING execution was
// reserved for the dispatcher to transmit.
type DispatchIntent struct {
	ExecutionID int64
	Symbol      string
	Direction   models.Direction
	Shares      int64
}

// ApplyTradeAndMaybeDispatch inserts trade, updates the symbol's
// accumulator, and - if a whole-share threshold is now crossed and no
// execution is already pending for the symbol - reserves a PENDING
// Execution plus its ExecutionLinks, all within one transaction. It
// returns nil, nil if the trade was a duplicate or did not cross a
// threshold.
func (l *Ledger) ApplyTradeAndMaybeDispatch(trade *models.OnchainTrade) (*DispatchIntent, error) {
	var intent *DispatchIntent

	err := database.WithTransaction(l.db.Conn(), func(tx *sql.Tx) error {
		result, err := insertTradeIfNew(tx, trade)
		if err != nil {
			return err
		}
		if result == Duplicate {
			return nil
		}

		acc, err := getOrCreateAccumulator(tx, trade.Symbol)
		if err != nil {
			return err
		}

		delta := trade.SignedQuantity()
		acc.NetPosition = acc.NetPosition.Add(delta)
		if delta.IsPositive() {
			acc.AccumulatedLong = acc.AccumulatedLong.Add(delta)
		} else if delta.IsNegative() {
			acc.AccumulatedShort = acc.AccumulatedShort.Add(delta.Neg())
		}

		if acc.HasPending() {
			return saveAccumulator(tx, acc)
		}

		absPos := acc.NetPosition.Abs()
		if absPos.LessThan(decimal.NewFromInt(1)) {
			return saveAccumulator(tx, acc)
		}

		whole := absPos.Truncate(0)
		direction := models.DirectionSell
		if acc.NetPosition.IsNegative() {
			direction = models.DirectionBuy
		}

		wholeShares := whole.IntPart()
		exec, err := createPendingExecution(tx, trade.Symbol, wholeShares, direction)
		if err != nil {
			return err
		}

		if err := attributeFIFO(tx, trade.Symbol, exec.ID, whole); err != nil {
			return err
		}

		signedWhole := whole
		if direction == models.DirectionBuy {
			signedWhole = whole.Neg()
		}
		acc.NetPosition = acc.NetPosition.Sub(signedWhole)
		acc.PendingExecutionID = &exec.ID
		if err := saveAccumulator(tx, acc); err != nil {
			return err
		}

		intent = &DispatchIntent{
			ExecutionID: exec.ID,
			Symbol:      trade.Symbol,
			Direction:   direction,
			Shares:      wholeShares,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply trade and maybe dispatch: %w", err)
	}
	return intent, nil
}

// FinalizeExecution transitions a PENDING execution to a terminal state
// and clears the accumulator's pending_execution_id, atomically. When
// terminal is FAILED, the whole-share count is re-added to the
// accumulator with the opposite sign of the executed direction,
// restoring the exposure the failed dispatch would have hedged.
func (l *Ledger) FinalizeExecution(id int64, terminal models.ExecutionStatus, fillPriceCents *int64) error {
	return database.WithTransaction(l.db.Conn(), func(tx *sql.Tx) error {
		exec, err := getExecutionTx(tx, id)
		if err != nil {
			return err
		}

		if err := finalizeExecutionTx(tx, id, terminal, fillPriceCents); err != nil {
			return err
		}

		acc, err := getOrCreateAccumulator(tx, exec.Symbol)
		if err != nil {
			return err
		}
		acc.PendingExecutionID = nil

		if terminal == models.ExecutionFailed {
			// Undo exactly the subtraction applied at dispatch time
			// (NetPosition -= signedWhole, where signedWhole is +whole
			// for a SELL hedge and -whole for a BUY hedge).
			restore := decimal.NewFromInt(exec.Shares)
			if exec.Direction == models.DirectionBuy {
				restore = restore.Neg()
			}
			acc.NetPosition = acc.NetPosition.Add(restore)
		}

		return saveAccumulator(tx, acc)
	})
}

// PendingExecutions returns every execution currently PENDING, polled
// periodically by the Execution Poller.
func (l *Ledger) PendingExecutions() ([]*models.Execution, error) {
	return l.Executions.PendingExecutions()
}
