// Package conductor serializes per-symbol trade application and hedge
// dispatch: one logical worker per symbol (via a sharded pool keyed by
// symbol hash), a symbol lock combining a ledger row and an in-process
// mutex, and the Broker call that turns a reserved PENDING execution
// into a live order.
package conductor

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"hedgeengine/internal/broker"
	"hedgeengine/internal/ledger"
	"hedgeengine/internal/models"
	"hedgeengine/pkg/utils"
)

// symbolJob is one unit of work: apply trade to its symbol's
// accumulator and, if a dispatch was reserved, submit it to the broker.
type symbolJob struct {
	trade *models.OnchainTrade
}

// shard is one worker's inbox, following the teacher's priceShard
// idiom: a single channel drained by exactly one goroutine so that all
// work for the symbols hashed to this shard is strictly serialized.
type shard struct {
	jobs chan symbolJob
}

// Conductor owns the per-symbol state map, the sharded worker pool,
// and the connection to the Ledger and Broker.
type Conductor struct {
	ledger *ledger.Ledger
	broker broker.Broker
	log    *utils.Logger

	states sync.Map // symbol -> *SymbolState
	locks  sync.Map // symbol -> *sync.Mutex (in-process half of the symbol lock)

	shards    []*shard
	numShards int

	wg sync.WaitGroup
}

// New builds a Conductor with numShards worker goroutines (0 or
// negative defaults to 4), each draining its own job channel.
func New(led *ledger.Ledger, b broker.Broker, numShards int) *Conductor {
	if numShards <= 0 {
		numShards = 4
	}
	c := &Conductor{
		ledger:    led,
		broker:    b,
		log:       utils.L().WithComponent("conductor"),
		shards:    make([]*shard, numShards),
		numShards: numShards,
	}
	for i := range c.shards {
		c.shards[i] = &shard{jobs: make(chan symbolJob, 256)}
	}
	return c
}

// Start launches one worker goroutine per shard; each runs until ctx
// is cancelled, then drains its remaining jobs before returning.
func (c *Conductor) Start(ctx context.Context) {
	for i := range c.shards {
		c.wg.Add(1)
		go c.runShard(ctx, c.shards[i])
	}
}

// Wait blocks until every shard worker has exited (after Start's ctx
// is cancelled and remaining jobs drained).
func (c *Conductor) Wait() { c.wg.Wait() }

func (c *Conductor) runShard(ctx context.Context, sh *shard) {
	defer c.wg.Done()
	for {
		select {
		case job, ok := <-sh.jobs:
			if !ok {
				return
			}
			c.process(ctx, job.trade)
		case <-ctx.Done():
			// Drain whatever is already queued before exiting, per the
			// spec's cancel-safety requirement that no in-flight
			// handoff is lost.
			for {
				select {
				case job, ok := <-sh.jobs:
					if !ok {
						return
					}
					c.process(context.Background(), job.trade)
				default:
					return
				}
			}
		}
	}
}

// Submit routes trade to the shard owned by its symbol, preserving
// per-symbol ordering as long as the caller hands trades to Submit in
// (block_number, log_index) order.
func (c *Conductor) Submit(trade *models.OnchainTrade) {
	c.shards[c.shardFor(trade.Symbol)].jobs <- symbolJob{trade: trade}
}

func (c *Conductor) shardFor(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32()) % c.numShards
}

func (c *Conductor) stateFor(symbol string) *SymbolState {
	v, _ := c.states.LoadOrStore(symbol, NewSymbolState(symbol))
	return v.(*SymbolState)
}

func (c *Conductor) mutexFor(symbol string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// process applies one trade to its symbol's accumulator under the
// symbol lock, and if a dispatch was reserved, submits it to the
// broker and finalizes or restores on failure.
func (c *Conductor) process(ctx context.Context, trade *models.OnchainTrade) {
	mu := c.mutexFor(trade.Symbol)
	mu.Lock()
	defer mu.Unlock()

	ledgerLock, err := c.ledger.Locks.Acquire(trade.Symbol)
	if err == nil {
		defer func() {
			if relErr := c.ledger.Locks.Release(trade.Symbol); relErr != nil {
				c.log.Error("release symbol lock failed", utils.Symbol(trade.Symbol), utils.Err(relErr))
			}
		}()
		_ = ledgerLock
	}
	// A held ledger lock without the in-process mutex (a previous
	// process crash) is reported but not fatal: the next dispatch
	// attempt re-acquires once the stale row is cleared operationally.

	start := time.Now()
	intent, err := c.ledger.ApplyTradeAndMaybeDispatch(trade)
	if err != nil {
		c.log.Error("apply trade failed", utils.Symbol(trade.Symbol), utils.TxHash(trade.TxHash), utils.Err(err))
		return
	}
	TradesApplied.WithLabelValues(trade.Symbol).Inc()
	c.reportGauges(trade.Symbol)

	state := c.stateFor(trade.Symbol)
	if intent == nil {
		state.Transition(StateAccumulating)
		return
	}

	state.Transition(StatePendingHedge)
	DispatchesReserved.WithLabelValues(intent.Symbol, string(intent.Direction)).Inc()

	c.dispatch(ctx, intent)
	DispatchLatency.WithLabelValues(trade.Symbol).Observe(float64(time.Since(start).Milliseconds()))
}

// reportGauges refreshes the dashboard-facing snapshot gauges for
// symbol from the ledger's authoritative accumulator row. Cheap read
// done once per processed trade; the gauges themselves are never the
// source of a dispatch decision.
func (c *Conductor) reportGauges(symbol string) {
	acc, err := c.ledger.Accumulators.Get(symbol)
	if err != nil {
		c.log.Error("read accumulator for gauges failed", utils.Symbol(symbol), utils.Err(err))
		return
	}
	netPos, _ := acc.NetPosition.Float64()
	accLong, _ := acc.AccumulatedLong.Float64()
	accShort, _ := acc.AccumulatedShort.Float64()
	NetPositionGauge.WithLabelValues(symbol).Set(netPos)
	AccumulatedLongGauge.WithLabelValues(symbol).Set(accLong)
	AccumulatedShortGauge.WithLabelValues(symbol).Set(accShort)
}

// dispatch submits a reserved execution to the broker and finalizes
// the ledger row based on the outcome. Both transient and fatal
// placement errors FAIL the execution immediately and restore the
// exposure it would have hedged - the next trade for the symbol
// triggers a fresh dispatch attempt, per the at-most-one-pending rule.
// Fatal errors additionally raise an alert; transient ones are only
// logged, since they're expected to clear on their own.
func (c *Conductor) dispatch(ctx context.Context, intent *ledger.DispatchIntent) {
	handle, err := c.broker.PlaceMarketOrder(ctx, intent.ExecutionID, intent.Symbol, intent.Direction, intent.Shares)
	if err != nil {
		fatal := broker.IsFatal(err)
		if fatal {
			DispatchFailures.WithLabelValues(intent.Symbol, "fatal").Inc()
		} else {
			DispatchFailures.WithLabelValues(intent.Symbol, "transient").Inc()
		}
		c.fail(intent, err, fatal)
		return
	}

	if err := c.ledger.Executions.SetBrokerOrderID(intent.ExecutionID, handle.BrokerOrderID); err != nil {
		c.log.Error("persist broker order id failed", utils.ExecutionID(intent.ExecutionID), utils.Err(err))
	}
}

// fail transitions the execution to FAILED and restores the exposure
// the failed dispatch would have hedged. A fatal cause also raises an
// alert and moves the symbol to StateError; a transient cause is only
// logged, leaving the symbol free to retry on the next trade.
func (c *Conductor) fail(intent *ledger.DispatchIntent, cause error, fatal bool) {
	if err := c.ledger.FinalizeExecution(intent.ExecutionID, models.ExecutionFailed, nil); err != nil {
		c.log.Error("finalize failed execution failed", utils.ExecutionID(intent.ExecutionID), utils.Err(err))
		return
	}
	symbol := intent.Symbol

	if !fatal {
		c.log.Warn("transient broker error, execution failed and exposure restored for retry",
			utils.Symbol(symbol), utils.ExecutionID(intent.ExecutionID), utils.Err(cause))
		c.stateFor(symbol).Transition(StateAccumulating)
		return
	}

	if err := c.ledger.Alerts.Create(&models.Alert{
		Type:     models.AlertTypeFatalBrokerError,
		Severity: models.AlertSeverityCritical,
		Symbol:   &symbol,
		Message:  fmt.Sprintf("hedge dispatch failed fatally for %s: %v", symbol, cause),
	}); err != nil {
		c.log.Error("create alert failed", utils.Err(err))
	}
	c.stateFor(symbol).Transition(StateError)
}
