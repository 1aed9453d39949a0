package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/database"
	"hedgeengine/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: filepath.Join(dir, "test.db"), Profile: database.ProfileStandard})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func testTrade(symbol string, logIndex int64) *models.OnchainTrade {
	return &models.OnchainTrade{
		TxHash:         "0xAA",
		LogIndex:       logIndex,
		Symbol:         symbol,
		Direction:      models.DirectionSell,
		Quantity:       decimal.NewFromFloat(0.4),
		PriceUsdc:      decimal.NewFromFloat(100),
		BlockNumber:    logIndex,
		BlockTimestamp: time.Unix(1700000000+logIndex, 0).UTC(),
	}
}

// TestTradeRepositoryInsertIfNewDeduplicates checks the (tx_hash,
// log_index) unique constraint makes redelivery of the same log a
// reported no-op rather than a second row.
func TestTradeRepositoryInsertIfNewDeduplicates(t *testing.T) {
	led := New(newTestDB(t))

	trade := testTrade("AAPLx", 3)
	result, err := led.Trades.InsertIfNew(trade)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if result != Inserted {
		t.Fatalf("first insert result = %v, want Inserted", result)
	}

	dup := testTrade("AAPLx", 3)
	result, err = led.Trades.InsertIfNew(dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if result != Duplicate {
		t.Fatalf("duplicate insert result = %v, want Duplicate", result)
	}

	trades, err := led.Trades.All()
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades persisted = %d, want 1", len(trades))
	}
}

// TestTradeRepositoryInsertIfNewAllowsDistinctLogIndex checks that two
// different log indices within the same transaction hash are both
// accepted, since the unique key is the pair, not the tx_hash alone.
func TestTradeRepositoryInsertIfNewAllowsDistinctLogIndex(t *testing.T) {
	led := New(newTestDB(t))

	if _, err := led.Trades.InsertIfNew(testTrade("AAPLx", 1)); err != nil {
		t.Fatalf("insert log_index=1: %v", err)
	}
	if _, err := led.Trades.InsertIfNew(testTrade("AAPLx", 2)); err != nil {
		t.Fatalf("insert log_index=2: %v", err)
	}

	trades, err := led.Trades.All()
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades persisted = %d, want 2", len(trades))
	}
}

// TestLockRepositoryAcquireRelease checks the ledger-side symbol lock:
// a second Acquire while one is held fails with ErrLockHeld, and
// Release clears the row so a subsequent Acquire succeeds.
func TestLockRepositoryAcquireRelease(t *testing.T) {
	led := New(newTestDB(t))

	if _, err := led.Locks.Acquire("MSFTx"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := led.Locks.Acquire("MSFTx"); err == nil {
		t.Fatal("second acquire while held did not error")
	}

	lock, err := led.Locks.Get("MSFTx")
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock == nil {
		t.Fatal("lock row missing while held")
	}

	if err := led.Locks.Release("MSFTx"); err != nil {
		t.Fatalf("release: %v", err)
	}

	lock, err = led.Locks.Get("MSFTx")
	if err != nil {
		t.Fatalf("get lock after release: %v", err)
	}
	if lock != nil {
		t.Fatal("lock row still present after release")
	}

	if _, err := led.Locks.Acquire("MSFTx"); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

// TestPnlInsertIsIdempotent checks the (trade_type, trade_id) unique
// constraint: replaying the same source trade's P&L row twice leaves
// exactly one row and does not error.
func TestPnlInsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	led := New(db)

	metric := &models.PnlMetric{
		TradeType:        models.PnlTradeTypeOnchain,
		TradeID:          1,
		Symbol:           "MSFTx",
		Timestamp:        time.Unix(1700000000, 0).UTC(),
		Direction:        models.DirectionBuy,
		Quantity:         100,
		Price:            10.00,
		CumulativePnl:    0,
		NetPositionAfter: -100,
	}

	tx, err := db.Conn().Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := led.Pnl.Insert(tx, metric); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := led.Pnl.Insert(tx, metric); err != nil {
		t.Fatalf("replayed insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rows, err := led.Pnl.ForSymbol("MSFTx")
	if err != nil {
		t.Fatalf("for symbol: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("pnl rows for symbol = %d, want 1", len(rows))
	}
}

// TestFinalizeExecutionFailedRestoresExposure checks the ledger-level
// invariant directly: FAILing a PENDING execution re-adds its
// whole-share count to the accumulator with the opposite sign of the
// executed direction, and clears pending_execution_id.
func TestFinalizeExecutionFailedRestoresExposure(t *testing.T) {
	led := New(newTestDB(t))

	intent, err := led.ApplyTradeAndMaybeDispatch(testTrade("TSLAx", 1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	trade2 := testTrade("TSLAx", 2)
	trade2.Quantity = decimal.NewFromFloat(0.6)
	intent, err = led.ApplyTradeAndMaybeDispatch(trade2)
	if err != nil {
		t.Fatalf("apply second trade: %v", err)
	}
	if intent == nil {
		t.Fatal("expected a dispatch intent once net position crosses 1.0")
	}

	acc, err := led.Accumulators.Get("TSLAx")
	if err != nil {
		t.Fatalf("get accumulator before finalize: %v", err)
	}
	if acc.PendingExecutionID == nil {
		t.Fatal("pending_execution_id not set after dispatch")
	}

	if err := led.FinalizeExecution(intent.ExecutionID, models.ExecutionFailed, nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	acc, err = led.Accumulators.Get("TSLAx")
	if err != nil {
		t.Fatalf("get accumulator after finalize: %v", err)
	}
	if acc.PendingExecutionID != nil {
		t.Error("pending_execution_id still set after FAILED finalize")
	}
	if !acc.NetPosition.Equal(decimal.NewFromInt(1)) {
		t.Errorf("net position after restore = %s, want 1 (exposure restored)", acc.NetPosition)
	}

	exec, err := led.Executions.GetByID(intent.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if exec.Status != models.ExecutionFailed {
		t.Errorf("execution status = %s, want FAILED", exec.Status)
	}
}
