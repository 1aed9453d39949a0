package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"hedgeengine/internal/models"
)

// OAuthConfig configures the OAuth-brokerage variant.
type OAuthConfig struct {
	BaseURL      string
	AppKey       string
	AppSecret    string
	RedirectURI  string
	EquitySuffix string
}

// Tokens is the in-memory view of the access/refresh pair; the
// Credential Manager owns persisting the encrypted form.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// OAuth authenticates with an app_key/app_secret pair and places
// orders against a REST endpoint using a bearer access token. Refresh
// is driven externally by the Credential Manager; OAuth only exposes
// RefreshCredentials so that manager can invoke it on schedule.
type OAuth struct {
	cfg        OAuthConfig
	httpClient *HTTPClient

	mu     sync.RWMutex
	tokens Tokens
}

// NewOAuth builds an OAuth broker seeded with an initial token pair
// (typically loaded from the Ledger's encrypted credentials row).
func NewOAuth(cfg OAuthConfig, initial Tokens) *OAuth {
	return &OAuth{cfg: cfg, httpClient: GetGlobalHTTPClient(), tokens: initial}
}

func (o *OAuth) Name() string { return "oauth" }

// ExchangeCode trades an authorization code for an initial token pair.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", o.cfg.AppKey)
	form.Set("client_secret", o.cfg.AppSecret)
	form.Set("redirect_uri", o.cfg.RedirectURI)
	return o.tokenRequest(ctx, form)
}

// RefreshCredentials exchanges the current refresh token for a fresh
// access+refresh pair. A refresh-token-expired response is fatal: the
// caller must alert and fail any in-flight execution.
func (o *OAuth) RefreshCredentials(ctx context.Context) error {
	o.mu.RLock()
	refreshToken := o.tokens.RefreshToken
	o.mu.RUnlock()

	if refreshToken == "" {
		return &FatalError{Err: fmt.Errorf("no refresh token available")}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", o.cfg.AppKey)
	form.Set("client_secret", o.cfg.AppSecret)

	tokens, err := o.tokenRequest(ctx, form)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.tokens = tokens
	o.mu.Unlock()
	return nil
}

// CurrentTokens returns a copy of the broker's current token pair, for
// the Credential Manager to persist after a successful refresh.
func (o *OAuth) CurrentTokens() Tokens {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tokens
}

func (o *OAuth) tokenRequest(ctx context.Context, form url.Values) (Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Tokens{}, &FatalError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Tokens{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Tokens{}, &TransientError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return Tokens{}, &TransientError{Err: fmt.Errorf("oauth token 5xx: %s", string(payload))}
	}
	if resp.StatusCode >= 400 {
		return Tokens{}, &FatalError{Err: fmt.Errorf("oauth token 4xx: %s", string(payload))}
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(payload, &parsed); err != nil {
		return Tokens{}, &TransientError{Err: fmt.Errorf("decode token response: %w", err)}
	}

	now := time.Now().UTC()
	return Tokens{
		AccessToken:      parsed.AccessToken,
		RefreshToken:     parsed.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(parsed.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
	}, nil
}

// PlaceMarketOrder submits against the REST endpoint with the current
// bearer access token, keyed by the executionID as client order id.
func (o *OAuth) PlaceMarketOrder(ctx context.Context, executionID int64, symbol string, direction models.Direction, wholeShares int64) (*OrderHandle, error) {
	o.mu.RLock()
	accessToken := o.tokens.AccessToken
	expired := time.Now().After(o.tokens.AccessExpiresAt)
	o.mu.RUnlock()
	if accessToken == "" || expired {
		return nil, &FatalError{Err: fmt.Errorf("access token expired or absent")}
	}

	brokerSymbol := normalizeSymbol(symbol, o.cfg.EquitySuffix)
	clientOrderID := fmt.Sprintf("exec-%d", executionID)

	body := url.Values{}
	body.Set("symbol", brokerSymbol)
	body.Set("side", strings.ToLower(string(direction)))
	body.Set("qty", strconv.FormatInt(wholeShares, 10))
	body.Set("type", "market")
	body.Set("client_order_id", clientOrderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/orders", strings.NewReader(body.Encode()))
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("oauth broker 5xx: %s", string(payload))}
	}
	if resp.StatusCode >= 400 {
		return nil, &FatalError{Err: fmt.Errorf("oauth broker 4xx: %s", string(payload))}
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

// GetOrderStatus queries the REST endpoint for handle's status.
func (o *OAuth) GetOrderStatus(ctx context.Context, handle *OrderHandle) (*OrderStatus, error) {
	o.mu.RLock()
	accessToken := o.tokens.AccessToken
	o.mu.RUnlock()
	if accessToken == "" {
		return nil, &FatalError{Err: fmt.Errorf("access token absent")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/v1/orders/"+url.PathEscape(handle.BrokerOrderID), nil)
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("oauth broker 5xx: %s", string(payload))}
	}
	if resp.StatusCode >= 400 {
		return nil, &FatalError{Err: fmt.Errorf("oauth broker 4xx: %s", string(payload))}
	}

	var parsed struct {
		Status            string `json:"status"`
		AvgFillPriceCents int64  `json:"avg_fill_price_cents"`
		RejectReason      string `json:"reject_reason"`
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
