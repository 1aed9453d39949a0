package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the hedge direction implied by an on-chain fill, or the
// side of a brokerage execution.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the reverse direction, used when restoring exposure
// after a failed execution.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Signed returns +1 for SELL and -1 for BUY, matching the accumulator's
// signed convention (positive = hedge should SELL).
func (d Direction) Signed() int {
	if d == DirectionSell {
		return 1
	}
	return -1
}

// OnchainTrade is a canonical, immutable record of a single detected
// on-chain fill. Identity is (TxHash, LogIndex); once written it is
// never mutated.
type OnchainTrade struct {
	ID              int64           `json:"id" db:"id"`
	TxHash          string          `json:"tx_hash" db:"tx_hash"`
	LogIndex        int64           `json:"log_index" db:"log_index"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Direction       Direction       `json:"direction" db:"direction"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	PriceUsdc       decimal.Decimal `json:"price_usdc" db:"price_usdc"`
	BlockNumber     int64           `json:"block_number" db:"block_number"`
	BlockTimestamp  time.Time       `json:"block_timestamp" db:"block_timestamp"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// SignedQuantity returns the quantity signed per the accumulator
// convention: SELL on-chain increases net_position (hedge must SELL),
// BUY on-chain decreases it.
func (t *OnchainTrade) SignedQuantity() decimal.Decimal {
	if t.Direction == DirectionSell {
		return t.Quantity
	}
	return t.Quantity.Neg()
}
