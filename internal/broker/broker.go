// Package broker implements the polymorphic brokerage capability:
// OAuth, API-key, and dry-run variants placing market orders against
// the hedged equity symbol and reporting fill status back to the
// Conductor and Execution Poller.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hedgeengine/internal/models"
)

// OrderStatusKind enumerates the three states get_order_status can
// report, per spec.md section 4.6.
type OrderStatusKind string

const (
	StatusPending  OrderStatusKind = "PENDING"
	StatusFilled   OrderStatusKind = "FILLED"
	StatusRejected OrderStatusKind = "REJECTED"
)

// OrderStatus is the broker's view of one order's lifecycle.
type OrderStatus struct {
	Kind          OrderStatusKind
	FillPriceCents int64  // valid only when Kind == StatusFilled
	RejectReason  string // valid only when Kind == StatusRejected
	Fatal         bool   // a REJECTED status that should FAIL, not retry (e.g. expired credentials)
}

// OrderHandle identifies a placed order for later status polling.
type OrderHandle struct {
	BrokerOrderID string
}

// Broker is the capability every variant implements.
type Broker interface {
	Name() string
	// PlaceMarketOrder submits a market order for wholeShares of symbol
	// in direction, keyed by the caller's executionID so at-most-one
	// submission happens per execution even across retries.
	PlaceMarketOrder(ctx context.Context, executionID int64, symbol string, direction models.Direction, wholeShares int64) (*OrderHandle, error)
	GetOrderStatus(ctx context.Context, handle *OrderHandle) (*OrderStatus, error)
}

// CredentialRefresher is implemented by brokers whose credentials
// expire and must be refreshed on a schedule (the OAuth variant).
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context) error
}

// TransientError wraps a broker failure the caller should retry
// (network errors, 5xx responses). FatalError is not retried.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient broker error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps a broker failure that should FAIL the execution
// outright (4xx rejection, expired refresh token).
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return fmt.Sprintf("fatal broker error: %v", e.Err) }
func (e *FatalError) Unwrap() error  { return e.Err }

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ErrUnquoted is returned by the API-key variant when asked to trade a
// symbol the exchange does not quote.
var ErrUnquoted = errors.New("broker: symbol not quoted by exchange")

// normalizeSymbol strips the configured equity suffix so variants can
// map the hedge engine's symbol naming onto the broker's own naming.
func normalizeSymbol(symbol, suffix string) string {
	if suffix == "" {
		return symbol
	}
	return strings.TrimSuffix(symbol, suffix)
}
