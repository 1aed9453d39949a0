package pnl

import (
	"testing"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// decEqual compares with decimal equality, tolerating -0 vs 0 representation.
func decEqual(a, b decimal.Decimal) bool {
	return a.Equal(b)
}

func realizedStr(r *decimal.Decimal) string {
	if r == nil {
		return "NULL"
	}
	return r.StringFixed(2)
}

// TestApplyFIFOLiteralSequence replays the literal MSFTx fill sequence
// from the FIFO scenario and checks the realized/cumulative/net
// sequence trade by trade.
func TestApplyFIFOLiteralSequence(t *testing.T) {
	type step struct {
		direction     models.Direction
		quantity      string
		price         string
		wantRealized  string
		wantCumulative string
		wantNet       string
	}

	steps := []step{
		{models.DirectionBuy, "100", "10.00", "NULL", "0", "100"},
		{models.DirectionBuy, "50", "12.00", "NULL", "0", "150"},
		{models.DirectionSell, "80", "11.00", "80.00", "80", "70"},
		{models.DirectionSell, "60", "9.50", "-110.00", "-30", "10"},
		{models.DirectionBuy, "30", "12.20", "NULL", "-30", "40"},
		{models.DirectionSell, "70", "12.00", "-6.00", "-36", "-30"},
		{models.DirectionBuy, "20", "11.50", "10.00", "-26", "-10"},
	}

	book := &bookState{}
	for i, s := range steps {
		realized, net := applyFIFO(book, s.direction, dec(s.quantity), dec(s.price))

		if got := realizedStr(realized); got != s.wantRealized {
			t.Errorf("step %d: realized = %s, want %s", i, got, s.wantRealized)
		}
		if !decEqual(book.cumulativePnl, dec(s.wantCumulative)) {
			t.Errorf("step %d: cumulative = %s, want %s", i, book.cumulativePnl.String(), s.wantCumulative)
		}
		if !decEqual(net, dec(s.wantNet)) {
			t.Errorf("step %d: net = %s, want %s", i, net.String(), s.wantNet)
		}
	}
}

// TestApplyFIFOSameDirectionNeverRealizes checks that a run of trades
// all in the same direction never produces a non-nil realized P&L and
// never changes cumulativePnl.
func TestApplyFIFOSameDirectionNeverRealizes(t *testing.T) {
	book := &bookState{}
	qtys := []string{"10", "5", "7", "3"}
	for _, q := range qtys {
		realized, _ := applyFIFO(book, models.DirectionBuy, dec(q), dec("100.00"))
		if realized != nil {
			t.Fatalf("same-direction accumulation produced non-nil realized pnl: %v", realized)
		}
	}
	if !book.cumulativePnl.IsZero() {
		t.Fatalf("cumulativePnl changed with no opposite-direction trade: %s", book.cumulativePnl)
	}
}

// TestApplyFIFOExactClose checks that closing exactly the outstanding
// inventory leaves an empty lot queue and a zero net position.
func TestApplyFIFOExactClose(t *testing.T) {
	book := &bookState{}
	applyFIFO(book, models.DirectionBuy, dec("10"), dec("100.00"))
	realized, net := applyFIFO(book, models.DirectionSell, dec("10"), dec("110.00"))

	if realized == nil {
		t.Fatal("expected non-nil realized pnl on full close")
	}
	if !decEqual(*realized, dec("100")) {
		t.Errorf("realized = %s, want 100", realized.String())
	}
	if !net.IsZero() {
		t.Errorf("net after exact close = %s, want 0", net.String())
	}
	if len(book.lots) != 0 {
		t.Errorf("expected no residual lots after exact close, got %d", len(book.lots))
	}
}

// TestApplyFIFOResidueFlipsDirection checks that a trade larger than
// the outstanding inventory consumes it all and opens a new lot in the
// new direction for the residual quantity.
func TestApplyFIFOResidueFlipsDirection(t *testing.T) {
	book := &bookState{}
	applyFIFO(book, models.DirectionBuy, dec("10"), dec("100.00"))
	_, net := applyFIFO(book, models.DirectionSell, dec("15"), dec("105.00"))

	if !decEqual(net, dec("-5")) {
		t.Fatalf("net after residue flip = %s, want -5", net.String())
	}
	if len(book.lots) != 1 {
		t.Fatalf("expected exactly one residual lot, got %d", len(book.lots))
	}
	if book.lots[0].direction != models.DirectionSell {
		t.Errorf("residual lot direction = %s, want SELL", book.lots[0].direction)
	}
	if !decEqual(book.lots[0].remaining, dec("5")) {
		t.Errorf("residual lot remaining = %s, want 5", book.lots[0].remaining.String())
	}
}

// TestApplyFIFOOldestLotsConsumedFirst checks strict FIFO ordering: the
// earliest lot's cost basis determines realized P&L before later lots
// are touched at all.
func TestApplyFIFOOldestLotsConsumedFirst(t *testing.T) {
	book := &bookState{}
	applyFIFO(book, models.DirectionBuy, dec("5"), dec("10.00"))
	applyFIFO(book, models.DirectionBuy, dec("5"), dec("20.00"))

	// Closing only 5 shares should realize against the 10.00 lot, not the 20.00 one.
	realized, _ := applyFIFO(book, models.DirectionSell, dec("5"), dec("15.00"))
	if realized == nil || !decEqual(*realized, dec("25")) {
		t.Fatalf("realized = %v, want 25 (closed against the 10.00 lot first)", realized)
	}
	if len(book.lots) != 1 || !decEqual(book.lots[0].cost, dec("20.00")) {
		t.Fatalf("expected only the 20.00 lot to remain, got %+v", book.lots)
	}
}
