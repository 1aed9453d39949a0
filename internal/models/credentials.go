package models

import "time"

// BrokerCredentials is the singleton encrypted OAuth token row. Access
// and refresh tokens are stored as AES-256-GCM ciphertext; the
// plaintext never reaches the ledger.
type BrokerCredentials struct {
	ID                  int64     `json:"id" db:"id"`
	AccessTokenCipher   []byte    `json:"-" db:"access_token_cipher"`
	AccessTokenNonce    []byte    `json:"-" db:"access_token_nonce"`
	AccessIssuedAt      time.Time `json:"access_issued_at" db:"access_issued_at"`
	RefreshTokenCipher  []byte    `json:"-" db:"refresh_token_cipher"`
	RefreshTokenNonce   []byte    `json:"-" db:"refresh_token_nonce"`
	RefreshIssuedAt     time.Time `json:"refresh_issued_at" db:"refresh_issued_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// SymbolLock is the ledger-side half of the per-symbol dispatch lock.
// Its presence means a hedge dispatch is in flight for the symbol.
type SymbolLock struct {
	Symbol     string    `json:"symbol" db:"symbol"`
	AcquiredAt time.Time `json:"acquired_at" db:"acquired_at"`
}

// PnlMetric is one row of realized P&L attributed to a single trade
// (on-chain fill or brokerage execution), written by the P&L Projector.
type PnlMetric struct {
	ID               int64    `json:"id" db:"id"`
	TradeType        string   `json:"trade_type" db:"trade_type"` // "onchain" or "execution"
	TradeID          int64    `json:"trade_id" db:"trade_id"`
	Symbol           string   `json:"symbol" db:"symbol"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	Direction        Direction `json:"direction" db:"direction"`
	Quantity         float64  `json:"quantity" db:"quantity"`
	Price            float64  `json:"price" db:"price"`
	RealizedPnl      *float64 `json:"realized_pnl,omitempty" db:"realized_pnl"`
	CumulativePnl    float64  `json:"cumulative_pnl" db:"cumulative_pnl"`
	NetPositionAfter float64  `json:"net_position_after" db:"net_position_after"`
}

// PnlMetric trade-type tags, matching the "trade_type" discriminator
// in the unique (trade_type, trade_id) constraint.
const (
	PnlTradeTypeOnchain   = "onchain"
	PnlTradeTypeExecution = "execution"
)
