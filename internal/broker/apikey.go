package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"hedgeengine/internal/models"
)

// TradingMode selects whether an APIKey broker submits against the
// exchange's paper-trading endpoint or its live one.
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// APIKeyConfig configures the static-credential broker variant.
type APIKeyConfig struct {
	BaseURL      string
	KeyID        string
	SecretKey    string
	Mode         TradingMode
	EquitySuffix string
	// QuotedSymbols restricts PlaceMarketOrder to symbols the exchange
	// actually quotes; empty means unrestricted (testing convenience).
	QuotedSymbols map[string]bool
}

// APIKey is the static-credential broker variant: HMAC-signed REST
// calls, no refresh cycle, supports a "paper" trading mode and rejects
// unquoted symbols. Signing follows the teacher's bybit.go v5 HMAC
// convention: timestamp + key + recv_window + body, SHA-256, hex.
type APIKey struct {
	cfg        APIKeyConfig
	httpClient *HTTPClient
	recvWindow string
}

// NewAPIKey builds an APIKey broker from cfg.
func NewAPIKey(cfg APIKeyConfig) *APIKey {
	return &APIKey{cfg: cfg, httpClient: GetGlobalHTTPClient(), recvWindow: "5000"}
}

func (a *APIKey) Name() string { return "apikey:" + string(a.cfg.Mode) }

func (a *APIKey) sign(timestamp, body string) string {
	message := timestamp + a.cfg.KeyID + a.recvWindow + body
	h := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// PlaceMarketOrder rejects symbols outside QuotedSymbols, then submits
// a signed request keyed by the caller's executionID as client order
// id so retried calls are idempotent on the exchange side.
func (a *APIKey) PlaceMarketOrder(ctx context.Context, executionID int64, symbol string, direction models.Direction, wholeShares int64) (*OrderHandle, error) {
	brokerSymbol := normalizeSymbol(symbol, a.cfg.EquitySuffix)
	if len(a.cfg.QuotedSymbols) > 0 && !a.cfg.QuotedSymbols[brokerSymbol] {
		return nil, &FatalError{Err: fmt.Errorf("%w: %s", ErrUnquoted, brokerSymbol)}
	}

	clientOrderID := fmt.Sprintf("exec-%d", executionID)
	body := url.Values{}
	body.Set("symbol", brokerSymbol)
	body.Set("side", strings.ToLower(string(direction)))
	body.Set("qty", strconv.FormatInt(wholeShares, 10))
	body.Set("type", "market")
	body.Set("clientOrderId", clientOrderID)
	if a.cfg.Mode == TradingModePaper {
		body.Set("mode", "paper")
	}
	bodyStr := body.Encode()

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/orders", strings.NewReader(bodyStr))
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-KEY", a.cfg.KeyID)
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-SIGNATURE", a.sign(timestamp, bodyStr))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("apikey broker 5xx: %s", string(payload))}
	}
	if resp.StatusCode >= 400 {
		return nil, &FatalError{Err: fmt.Errorf("apikey broker 4xx: %s", string(payload))}
	}

	var parsed struct {
		OrderID string `json:"order_id"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(payload, &parsed); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode order response: %w", err)}
	}
	if parsed.OrderID == "" {
		parsed.OrderID = clientOrderID
	}
	return &OrderHandle{BrokerOrderID: parsed.OrderID}, nil
}

// GetOrderStatus queries the exchange's order endpoint and maps its
// status string onto the three-state OrderStatusKind.
func (a *APIKey) GetOrderStatus(ctx context.Context, handle *OrderHandle) (*OrderStatus, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.BaseURL+"/v1/orders/"+url.PathEscape(handle.BrokerOrderID), nil)
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	req.Header.Set("X-API-KEY", a.cfg.KeyID)
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-SIGNATURE", a.sign(timestamp, ""))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("apikey broker 5xx: %s", string(payload))}
	}
	if resp.StatusCode >= 400 {
		return nil, &FatalError{Err: fmt.Errorf("apikey broker 4xx: %s", string(payload))}
	}

	var parsed struct {
		Status         string `json:"status"`
		AvgFillPriceCents int64 `json:"avg_fill_price_cents"`
		RejectReason   string `json:"reject_reason"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(payload, &parsed); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode status response: %w", err)}
	}

	switch strings.ToLower(parsed.Status) {
	case "filled":
		return &OrderStatus{Kind: StatusFilled, FillPriceCents: parsed.AvgFillPriceCents}, nil
	case "rejected", "cancelled":
		return &OrderStatus{Kind: StatusRejected, RejectReason: parsed.RejectReason}, nil
	default:
		return &OrderStatus{Kind: StatusPending}, nil
	}
}
