package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the lifecycle state of a brokerage hedge order.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Execution is a record of a whole-share hedge order submitted to the
// brokerage. It is created PENDING and transitions exactly once, to
// COMPLETED or FAILED.
type Execution struct {
	ID            int64           `json:"id" db:"id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Shares        int64           `json:"shares" db:"shares"`
	Direction     Direction       `json:"direction" db:"direction"`
	BrokerOrderID string          `json:"broker_order_id,omitempty" db:"broker_order_id"`
	FillPriceCents *int64         `json:"fill_price_cents,omitempty" db:"fill_price_cents"`
	Status        ExecutionStatus `json:"status" db:"status"`
	SubmittedAt   time.Time       `json:"submitted_at" db:"submitted_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty" db:"executed_at"`
}

// ExecutionLink attributes a portion of an Execution's whole shares to
// one contributing OnchainTrade. The sum of ContributedShares across an
// execution's links equals its Shares count.
type ExecutionLink struct {
	ID                int64           `json:"id" db:"id"`
	TradeID           int64           `json:"trade_id" db:"trade_id"`
	ExecutionID       int64           `json:"execution_id" db:"execution_id"`
	ContributedShares decimal.Decimal `json:"contributed_shares" db:"contributed_shares"`
}

// Accumulator is the per-symbol signed residue of fractional on-chain
// exposure waiting to cross a whole-share boundary.
type Accumulator struct {
	Symbol              string          `json:"symbol" db:"symbol"`
	NetPosition         decimal.Decimal `json:"net_position" db:"net_position"`
	AccumulatedLong     decimal.Decimal `json:"accumulated_long" db:"accumulated_long"`
	AccumulatedShort    decimal.Decimal `json:"accumulated_short" db:"accumulated_short"`
	PendingExecutionID  *int64          `json:"pending_execution_id,omitempty" db:"pending_execution_id"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// HasPending reports whether a non-terminal Execution is already
// tracked for this symbol.
func (a *Accumulator) HasPending() bool {
	return a.PendingExecutionID != nil
}
