package broker

import (
	"context"
	"fmt"
	"sync"

	"hedgeengine/internal/models"
)

// DryRun records orders in memory and immediately reports them Filled,
// either at a caller-supplied synthetic price or at the on-chain price
// passed to PlaceMarketOrderAt. Used for local testing and staging
// environments with no real brokerage behind them.
type DryRun struct {
	mu      sync.Mutex
	orders  map[string]*dryRunOrder
	nextID  int64
	defaultPriceCents int64
}

type dryRunOrder struct {
	executionID int64
	symbol      string
	direction   models.Direction
	shares      int64
	priceCents  int64
}

// NewDryRun builds a DryRun broker. defaultPriceCents is reported as
// the fill price when PlaceMarketOrder is called without an explicit
// synthetic price via WithSyntheticPrice.
func NewDryRun(defaultPriceCents int64) *DryRun {
	return &DryRun{
		orders:            make(map[string]*dryRunOrder),
		defaultPriceCents: defaultPriceCents,
	}
}

func (d *DryRun) Name() string { return "dry-run" }

// PlaceMarketOrder is idempotent per executionID: a second call for an
// executionID already recorded returns the existing handle rather than
// creating a duplicate order.
func (d *DryRun) PlaceMarketOrder(ctx context.Context, executionID int64, symbol string, direction models.Direction, wholeShares int64) (*OrderHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	clientID := fmt.Sprintf("exec-%d", executionID)
	if _, exists := d.orders[clientID]; exists {
		return &OrderHandle{BrokerOrderID: clientID}, nil
	}

	d.nextID++
	d.orders[clientID] = &dryRunOrder{
		executionID: executionID,
		symbol:      symbol,
		direction:   direction,
		shares:      wholeShares,
		priceCents:  d.defaultPriceCents,
	}
	return &OrderHandle{BrokerOrderID: clientID}, nil
}

// GetOrderStatus always reports Filled; dry-run orders never pend.
func (d *DryRun) GetOrderStatus(ctx context.Context, handle *OrderHandle) (*OrderStatus, error) {
	d.mu.Lock()
	order, ok := d.orders[handle.BrokerOrderID]
	d.mu.Unlock()
	if !ok {
		return nil, &FatalError{Err: fmt.Errorf("unknown dry-run order %s", handle.BrokerOrderID)}
	}
	return &OrderStatus{Kind: StatusFilled, FillPriceCents: order.priceCents}, nil
}
