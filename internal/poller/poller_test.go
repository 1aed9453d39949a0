package poller

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/broker"
	"hedgeengine/internal/database"
	"hedgeengine/internal/ledger"
	"hedgeengine/internal/models"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
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
	return ledger.New(db)
}

// stubBroker reports whatever status is configured for every handle,
// regardless of which execution is being polled.
type stubBroker struct {
	status *broker.OrderStatus
	err    error
	calls  int
}

func (s *stubBroker) Name() string { return "stub" }

func (s *stubBroker) PlaceMarketOrder(ctx context.Context, executionID int64, symbol string, direction models.Direction, wholeShares int64) (*broker.OrderHandle, error) {
	return &broker.OrderHandle{BrokerOrderID: "order-1"}, nil
}

func (s *stubBroker) GetOrderStatus(ctx context.Context, handle *broker.OrderHandle) (*broker.OrderStatus, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.status, nil
}

func seedPendingExecution(t *testing.T, led *ledger.Ledger, symbol string, brokerOrderID string) *models.Execution {
	t.Helper()
	trade := &models.OnchainTrade{
		TxHash: "0xseed", LogIndex: 1, Symbol: symbol,
		Direction: models.DirectionSell, Quantity: decimal.NewFromInt(1), PriceUsdc: decimal.NewFromInt(100),
		BlockNumber: 1, BlockTimestamp: time.Now().UTC(),
	}
	intent, err := led.ApplyTradeAndMaybeDispatch(trade)
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	if intent == nil {
		t.Fatalf("seed trade did not cross dispatch threshold")
	}
	if brokerOrderID != "" {
		if err := led.Executions.SetBrokerOrderID(intent.ExecutionID, brokerOrderID); err != nil {
			t.Fatalf("set broker order id: %v", err)
		}
	}
	exec, err := led.Executions.GetByID(intent.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	return exec
}

// TestSweepFinalizesFilledExecution checks that a FILLED status
// transitions the execution to COMPLETED with the reported fill price.
func TestSweepFinalizesFilledExecution(t *testing.T) {
	led := newTestLedger(t)
	seedPendingExecution(t, led, "AAPLx", "order-1")

	b := &stubBroker{status: &broker.OrderStatus{Kind: broker.StatusFilled, FillPriceCents: 15000}}
	p := New(Config{Interval: time.Second, StuckAfter: time.Hour}, led, b)
	p.Sweep(context.Background())

	pending, err := led.Executions.PendingExecutions()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending executions after fill = %d, want 0", len(pending))
	}
	if b.calls != 1 {
		t.Errorf("GetOrderStatus called %d times, want 1", b.calls)
	}
}

// TestSweepFinalizesRejectedExecution checks that a REJECTED status
// FAILs the execution and, when Fatal, raises an alert.
func TestSweepFinalizesRejectedExecution(t *testing.T) {
	led := newTestLedger(t)
	seedPendingExecution(t, led, "MSFTx", "order-1")

	b := &stubBroker{status: &broker.OrderStatus{Kind: broker.StatusRejected, Fatal: true, RejectReason: "bad symbol"}}
	p := New(Config{Interval: time.Second, StuckAfter: time.Hour}, led, b)
	p.Sweep(context.Background())

	pending, err := led.Executions.PendingExecutions()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending executions after rejection = %d, want 0", len(pending))
	}

	alerts, err := led.Alerts.GetRecent(10)
	if err != nil {
		t.Fatalf("get alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 for a fatal rejection", len(alerts))
	}
}

// TestSweepNeverFinalizesPendingStatus checks that a PENDING status
// leaves the execution untouched, even well past StuckAfter - the
// poller only ever warns on stuck executions, never force-finalizes.
func TestSweepNeverFinalizesPendingStatus(t *testing.T) {
	led := newTestLedger(t)
	seedPendingExecution(t, led, "TSLAx", "order-1")

	b := &stubBroker{status: &broker.OrderStatus{Kind: broker.StatusPending}}
	p := New(Config{Interval: time.Second, StuckAfter: time.Nanosecond}, led, b)
	p.Sweep(context.Background())

	pending, err := led.Executions.PendingExecutions()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending executions = %d, want 1 (stuck is a warning, not a forced terminal state)", len(pending))
	}
}

// TestSweepSkipsExecutionWithoutBrokerOrderID checks that an execution
// never successfully submitted (empty BrokerOrderID) is not polled.
func TestSweepSkipsExecutionWithoutBrokerOrderID(t *testing.T) {
	led := newTestLedger(t)
	seedPendingExecution(t, led, "NFLXx", "")

	b := &stubBroker{status: &broker.OrderStatus{Kind: broker.StatusFilled, FillPriceCents: 10000}}
	p := New(Config{Interval: time.Second, StuckAfter: time.Hour}, led, b)
	p.Sweep(context.Background())

	if b.calls != 0 {
		t.Errorf("GetOrderStatus called %d times, want 0 (never submitted)", b.calls)
	}
	pending, err := led.Executions.PendingExecutions()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending executions = %d, want 1 (left untouched)", len(pending))
	}
}

// TestNextIntervalStaysWithinJitterBounds checks the +/- 1/3 uniform
// jitter bound around the configured interval.
func TestNextIntervalStaysWithinJitterBounds(t *testing.T) {
	p := New(Config{Interval: 300 * time.Millisecond, StuckAfter: time.Hour}, nil, nil)
	lower := 200 * time.Millisecond
	upper := 400 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := p.nextInterval()
		if d < lower || d > upper {
			t.Fatalf("nextInterval() = %v, want within [%v, %v]", d, lower, upper)
		}
	}
}
