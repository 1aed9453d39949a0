package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"hedgeengine/internal/models"
	"hedgeengine/internal/resolver"
)

// ExtractionErrorKind enumerates why a raw log could not be turned
// into a canonical OnchainTrade. These failures are recorded and
// dropped, never retried (section 7: extraction errors).
type ExtractionErrorKind string

const (
	ErrWrongPair             ExtractionErrorKind = "WRONG_PAIR"
	ErrMissingCounterpart    ExtractionErrorKind = "MISSING_COUNTERPART_EVENT"
	ErrZeroAmount            ExtractionErrorKind = "ZERO_AMOUNT"
	ErrDecimalMismatch       ExtractionErrorKind = "DECIMAL_MISMATCH"
	ErrSymbolResolutionFailed ExtractionErrorKind = "SYMBOL_RESOLUTION_FAILED"
)

// ExtractionError is the typed failure returned by ExtractTrade.
type ExtractionError struct {
	Kind   ExtractionErrorKind
	TxHash string
	Detail string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s) for tx %s: %s", e.Kind, e.TxHash, e.Detail)
}

// RawFill is the decoded content of one or two correlated log records:
// a pair of token transfers denominated in their native integer units,
// plus the block/tx identity needed to build an OnchainTrade.
//
// One topic ("cross-order clear") carries both amounts directly; the
// other ("direct take") requires the paired after-clear log in the
// same transaction at a higher log index, supplied as AuxAmount.
type RawFill struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Timestamp   time.Time

	TokenIn  common.Address
	TokenOut common.Address
	// AmountIn/AmountOut are raw integer token units as seen on-chain,
	// from the order owner's perspective: AmountIn is what the order
	// received, AmountOut is what the order gave away.
	AmountIn  *big.Int
	AmountOut *big.Int
}

// equitySuffixMatches reports whether symbol carries the configured
// tokenized-equity suffix, case-insensitively.
func equitySuffixMatches(symbol, suffix string) bool {
	if suffix == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(symbol), strings.ToLower(suffix))
}

// roundCentsHalfEven converts a USDC price to its cents integer form
// using banker's rounding, per spec section 4.4. Never lossy in a way
// that silently clamps: the caller only ever sees a non-negative int64.
func roundCentsHalfEven(price decimal.Decimal) (int64, error) {
	cents := price.Mul(decimal.NewFromInt(100)).RoundBank(0)
	if cents.IsNegative() {
		return 0, fmt.Errorf("round cents: negative price %s", price.String())
	}
	return cents.IntPart(), nil
}

// ExtractTrade converts a RawFill plus USDC/equity resolution into a
// canonical OnchainTrade, or a typed ExtractionError. usdc is the
// configured USDC token address; equitySuffix is the configured
// tokenized-equity suffix (e.g. "0x" or "s1").
func ExtractTrade(ctx context.Context, r *RawFill, usdc common.Address, equitySuffix string, res *resolver.Resolver) (*models.OnchainTrade, error) {
	var equityAddr common.Address
	var direction models.Direction

	switch {
	case r.TokenIn == usdc && r.TokenOut != usdc:
		// order received USDC, gave away equity: order sold equity on-chain.
		equityAddr = r.TokenOut
		direction = models.DirectionBuy // hedge direction: replenish what was sold
	case r.TokenOut == usdc && r.TokenIn != usdc:
		// order received equity, gave away USDC: order bought equity on-chain.
		equityAddr = r.TokenIn
		direction = models.DirectionSell // hedge direction: offload the surplus
	default:
		return nil, &ExtractionError{Kind: ErrWrongPair, TxHash: r.TxHash.Hex(), Detail: "neither leg is the configured USDC token, or both are"}
	}

	if r.AmountIn == nil || r.AmountOut == nil || r.AmountIn.Sign() == 0 || r.AmountOut.Sign() == 0 {
		return nil, &ExtractionError{Kind: ErrZeroAmount, TxHash: r.TxHash.Hex(), Detail: "zero-amount leg"}
	}

	resolved, err := res.Resolve(ctx, equityAddr)
	if err != nil {
		return nil, &ExtractionError{Kind: ErrSymbolResolutionFailed, TxHash: r.TxHash.Hex(), Detail: err.Error()}
	}
	if !equitySuffixMatches(resolved.Symbol, equitySuffix) {
		return nil, &ExtractionError{Kind: ErrWrongPair, TxHash: r.TxHash.Hex(), Detail: fmt.Sprintf("symbol %q does not carry suffix %q", resolved.Symbol, equitySuffix)}
	}
	if resolved.Decimals == 0 || resolved.Decimals > 36 {
		return nil, &ExtractionError{Kind: ErrDecimalMismatch, TxHash: r.TxHash.Hex(), Detail: fmt.Sprintf("implausible decimals %d", resolved.Decimals)}
	}

	var equityRaw, usdcRaw *big.Int
	if equityAddr == r.TokenOut {
		equityRaw, usdcRaw = r.AmountOut, r.AmountIn
	} else {
		equityRaw, usdcRaw = r.AmountIn, r.AmountOut
	}

	scale := decimal.New(1, int32(resolved.Decimals))
	quantity := decimal.NewFromBigInt(equityRaw, 0).Div(scale)
	if quantity.Sign() <= 0 {
		return nil, &ExtractionError{Kind: ErrZeroAmount, TxHash: r.TxHash.Hex(), Detail: "zero share quantity after decimal scaling"}
	}

	usdcAmount := decimal.NewFromBigInt(usdcRaw, 0).Div(decimal.New(1, 6)) // USDC is 6-decimal
	price := usdcAmount.Div(quantity)

	return &models.OnchainTrade{
		TxHash:         r.TxHash.Hex(),
		LogIndex:       int64(r.LogIndex),
		Symbol:         resolved.Symbol,
		Direction:      direction,
		Quantity:       quantity,
		PriceUsdc:      price,
		BlockNumber:    int64(r.BlockNumber),
		BlockTimestamp: r.Timestamp,
	}, nil
}

// PairTrade correlates a "direct take" log with its after-clear
// counterpart, per section 4.3: same tx hash, higher log index. Returns
// ErrMissingCounterpart if none is found among candidates.
func PairTrade(trigger *types.Log, candidates []*types.Log) (*types.Log, error) {
	for _, c := range candidates {
		if c.TxHash == trigger.TxHash && c.Index > trigger.Index {
			return c, nil
		}
	}
	return nil, &ExtractionError{Kind: ErrMissingCounterpart, TxHash: trigger.TxHash.Hex(), Detail: "no after-clear log found in same transaction at a higher log index"}
}
