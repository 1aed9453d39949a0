// Package pnl implements the FIFO realized profit-and-loss projector:
// an independent consumer of the trade tables that never mutates
// OnchainTrade or Execution rows, replaying history into an in-memory
// lot queue and writing one PnlMetric row per trade.
package pnl

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/internal/database"
	"hedgeengine/internal/ledger"
	"hedgeengine/internal/models"
)

// event is one combined, time-ordered entry from either OnchainTrade
// or Execution, the unit the FIFO replay consumes.
type event struct {
	tradeType string
	id        int64
	symbol    string
	timestamp time.Time
	direction models.Direction
	quantity  decimal.Decimal
	price     decimal.Decimal
}

// lot is one FIFO inventory entry: a quantity acquired at a cost.
type lot struct {
	direction models.Direction
	remaining decimal.Decimal
	cost      decimal.Decimal
}

// bookState is one symbol's FIFO lot queue plus its running cumulative
// realized P&L, rebuilt entirely in memory.
type bookState struct {
	lots          []lot
	cumulativePnl decimal.Decimal
}

// Projector replays the trade log into per-symbol FIFO books and
// writes PnlMetric rows for every trade after its checkpoint.
type Projector struct {
	ledger *ledger.Ledger
	books  map[string]*bookState
}

// New builds a Projector over led.
func New(led *ledger.Ledger) *Projector {
	return &Projector{ledger: led, books: make(map[string]*bookState)}
}

// Run performs one full checkpoint-resume replay cycle: it loads the
// checkpoint, replays everything up to it silently to rebuild the
// in-memory books, then applies and persists every trade after it.
func (p *Projector) Run() error {
	checkpoint, err := p.ledger.Pnl.Checkpoint()
	if err != nil {
		return fmt.Errorf("pnl run: %w", err)
	}

	events, err := p.loadEvents()
	if err != nil {
		return fmt.Errorf("pnl run: %w", err)
	}

	p.books = make(map[string]*bookState)
	var toApply []event
	for _, e := range events {
		if !e.timestamp.After(checkpoint) {
			p.replaySilently(e)
			continue
		}
		toApply = append(toApply, e)
	}

	for _, e := range toApply {
		if err := p.applyAndPersist(e); err != nil {
			return fmt.Errorf("pnl run: %w", err)
		}
	}
	return nil
}

// loadEvents reads every OnchainTrade and completed Execution and
// returns them ordered by (timestamp, trade_type, id), matching the
// projector's required replay order exactly.
func (p *Projector) loadEvents() ([]event, error) {
	trades, err := p.ledger.Trades.All()
	if err != nil {
		return nil, err
	}
	execs, err := p.ledger.Executions.Completed()
	if err != nil {
		return nil, err
	}

	events := make([]event, 0, len(trades)+len(execs))
	for _, t := range trades {
		events = append(events, event{
			tradeType: models.PnlTradeTypeOnchain,
			id:        t.ID,
			symbol:    t.Symbol,
			timestamp: t.BlockTimestamp,
			direction: t.Direction,
			quantity:  t.Quantity,
			price:     t.PriceUsdc,
		})
	}
	for _, e := range execs {
		if e.ExecutedAt == nil || e.FillPriceCents == nil {
			continue
		}
		events = append(events, event{
			tradeType: models.PnlTradeTypeExecution,
			id:        e.ID,
			symbol:    e.Symbol,
			timestamp: *e.ExecutedAt,
			direction: e.Direction,
			quantity:  decimal.NewFromInt(e.Shares),
			price:     decimal.NewFromInt(*e.FillPriceCents).Div(decimal.NewFromInt(100)),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].timestamp.Equal(events[j].timestamp) {
			return events[i].timestamp.Before(events[j].timestamp)
		}
		if events[i].tradeType != events[j].tradeType {
			return events[i].tradeType < events[j].tradeType
		}
		return events[i].id < events[j].id
	})
	return events, nil
}

// replaySilently applies e to its symbol's book without writing a
// PnlMetric row, used to rebuild inventory state up to the checkpoint.
func (p *Projector) replaySilently(e event) {
	book := p.bookFor(e.symbol)
	applyFIFO(book, e.direction, e.quantity, e.price)
}

// applyAndPersist applies e to its symbol's book and writes the
// resulting PnlMetric row transactionally; the (trade_type, trade_id)
// unique constraint makes a repeated call for the same event a no-op.
func (p *Projector) applyAndPersist(e event) error {
	book := p.bookFor(e.symbol)
	realized, netAfter := applyFIFO(book, e.direction, e.quantity, e.price)

	var realizedF *float64
	if realized != nil {
		f, _ := realized.Float64()
		realizedF = &f
	}
	qtyF, _ := e.quantity.Float64()
	priceF, _ := e.price.Float64()
	cumF, _ := book.cumulativePnl.Float64()
	netF, _ := netAfter.Float64()

	metric := &models.PnlMetric{
		TradeType:        e.tradeType,
		TradeID:          e.id,
		Symbol:           e.symbol,
		Timestamp:        e.timestamp,
		Direction:        e.direction,
		Quantity:         qtyF,
		Price:            priceF,
		RealizedPnl:      realizedF,
		CumulativePnl:    cumF,
		NetPositionAfter: netF,
	}

	return database.WithTransaction(p.ledger.DB().Conn(), func(tx *sql.Tx) error {
		return p.ledger.Pnl.Insert(tx, metric)
	})
}

func (p *Projector) bookFor(symbol string) *bookState {
	b, ok := p.books[symbol]
	if !ok {
		b = &bookState{}
		p.books[symbol] = b
	}
	return b
}

// applyFIFO consumes or extends book's lot queue for one trade of the
// given direction/quantity/price, returning the realized P&L (nil if
// the trade strictly increased |position|) and the net position after
// the trade, signed positive for long and negative for short.
func applyFIFO(book *bookState, direction models.Direction, quantity, price decimal.Decimal) (*decimal.Decimal, decimal.Decimal) {
	var realized *decimal.Decimal
	remaining := quantity

	opposite := func(d models.Direction) bool {
		return len(book.lots) > 0 && book.lots[0].direction != d
	}

	if opposite(direction) {
		total := decimal.Zero
		for remaining.IsPositive() && len(book.lots) > 0 {
			head := &book.lots[0]
			consumed := decimal.Min(remaining, head.remaining)

			var pnl decimal.Decimal
			if head.direction == models.DirectionBuy {
				pnl = price.Sub(head.cost).Mul(consumed)
			} else {
				pnl = head.cost.Sub(price).Mul(consumed)
			}
			total = total.Add(pnl)

			head.remaining = head.remaining.Sub(consumed)
			remaining = remaining.Sub(consumed)
			if head.remaining.IsZero() {
				book.lots = book.lots[1:]
			}
		}
		book.cumulativePnl = book.cumulativePnl.Add(total)
		realized = &total

		if remaining.IsPositive() {
			book.lots = append(book.lots, lot{direction: direction, remaining: remaining, cost: price})
		}
	} else {
		book.lots = append(book.lots, lot{direction: direction, remaining: quantity, cost: price})
	}

	return realized, netPosition(book)
}

// netPosition sums the book's lots signed by direction (long positive,
// short negative), the running net_position_after value.
func netPosition(book *bookState) decimal.Decimal {
	net := decimal.Zero
	for _, l := range book.lots {
		if l.direction == models.DirectionBuy {
			net = net.Add(l.remaining)
		} else {
			net = net.Sub(l.remaining)
		}
	}
	return net
}
