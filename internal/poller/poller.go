// Package poller periodically sweeps PENDING executions, asks the
// broker for a status update, and finalizes the ones that have
// reached a terminal state.
package poller

import (
	"context"
	"math/rand"
	"time"

	"hedgeengine/internal/broker"
	"hedgeengine/internal/ledger"
	"hedgeengine/internal/models"
	"hedgeengine/pkg/utils"
)

// Config controls the sweep interval and stuck-execution threshold.
type Config struct {
	// Interval is the nominal tick period p; each tick is jittered by
	// +/- Interval/3 so concurrent deployments don't all poll in lockstep.
	Interval time.Duration

	// StuckAfter is how long an execution may remain PENDING before it
	// is counted (and alerted on) as stuck. Default 1h.
	StuckAfter time.Duration
}

// DefaultConfig returns the poller's default tick period and stuck
// threshold.
func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Second,
		StuckAfter: time.Hour,
	}
}

// Poller owns the background sweep loop.
type Poller struct {
	cfg    Config
	ledger *ledger.Ledger
	broker broker.Broker
	log    *utils.Logger
}

// New builds a Poller over the given ledger and broker.
func New(cfg Config, led *ledger.Ledger, b broker.Broker) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = DefaultConfig().StuckAfter
	}
	return &Poller{cfg: cfg, ledger: led, broker: b, log: utils.L().WithComponent("poller")}
}

// Run ticks forever (jittered) until ctx is cancelled, sweeping
// PENDING executions on every tick.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.nextInterval()):
			p.Sweep(ctx)
		}
	}
}

// nextInterval returns the configured interval jittered uniformly in
// [-1/3, +1/3] of its value, the same rand.Float64 jitter idiom used
// for retry backoff.
func (p *Poller) nextInterval() time.Duration {
	jitterRange := float64(p.cfg.Interval) / 3
	offset := (rand.Float64()*2 - 1) * jitterRange
	d := time.Duration(float64(p.cfg.Interval) + offset)
	if d <= 0 {
		d = p.cfg.Interval
	}
	return d
}

// Sweep polls the broker for every PENDING execution's status and
// finalizes any that have reached a terminal state. Stuck executions
// are reported via the gauge, never finalized unilaterally - spec
// behavior here is a warning, not a forced terminal state.
func (p *Poller) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { PollLatency.Observe(float64(time.Since(start).Milliseconds())) }()

	pending, err := p.ledger.Executions.PendingExecutions()
	if err != nil {
		p.log.Error("list pending executions failed", utils.Err(err))
		return
	}

	stuckBySymbol := map[string]float64{}
	for _, exec := range pending {
		age := time.Since(exec.SubmittedAt)
		if age >= p.cfg.StuckAfter {
			stuckBySymbol[exec.Symbol]++
			p.log.Warn("execution stuck in PENDING",
				utils.Symbol(exec.Symbol), utils.ExecutionID(exec.ID), utils.Latency(float64(age.Milliseconds())))
		}

		if exec.BrokerOrderID == "" {
			// Never submitted (dispatcher crashed before PlaceMarketOrder
			// returned); nothing to poll yet.
			continue
		}

		status, err := p.broker.GetOrderStatus(ctx, &broker.OrderHandle{BrokerOrderID: exec.BrokerOrderID})
		if err != nil {
			p.log.Warn("get order status failed", utils.ExecutionID(exec.ID), utils.Err(err))
			continue
		}

		switch status.Kind {
		case broker.StatusFilled:
			if err := p.ledger.FinalizeExecution(exec.ID, models.ExecutionCompleted, &status.FillPriceCents); err != nil {
				p.log.Error("finalize completed execution failed", utils.ExecutionID(exec.ID), utils.Err(err))
				continue
			}
			FinalizedTotal.WithLabelValues(string(models.ExecutionCompleted)).Inc()
		case broker.StatusRejected:
			if err := p.ledger.FinalizeExecution(exec.ID, models.ExecutionFailed, nil); err != nil {
				p.log.Error("finalize rejected execution failed", utils.ExecutionID(exec.ID), utils.Err(err))
				continue
			}
			FinalizedTotal.WithLabelValues(string(models.ExecutionFailed)).Inc()
			if status.Fatal {
				symbol := exec.Symbol
				_ = p.ledger.Alerts.Create(&models.Alert{
					Type:     models.AlertTypeFatalBrokerError,
					Severity: models.AlertSeverityError,
					Symbol:   &symbol,
					Message:  "broker rejected order: " + status.RejectReason,
				})
			}
		case broker.StatusPending:
			// still in flight, nothing to do this tick
		}
	}

	for symbol, count := range stuckBySymbol {
		StuckExecutions.WithLabelValues(symbol).Set(count)
	}
}
