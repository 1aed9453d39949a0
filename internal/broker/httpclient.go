package broker

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"hedgeengine/pkg/ratelimit"
)

// HTTPClientConfig controls connection pooling, timeouts, and the
// request rate cap for brokerage REST calls. Adapted from the
// teacher's exchange HTTP client, generalized from a fixed exchange
// set to any broker.
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	TotalTimeout        time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	DisableKeepAlives   bool
	KeepAliveInterval   time.Duration

	// RateLimit and RateBurst bound the request rate to the broker's
	// API, same token-bucket shape the teacher uses per-exchange.
	RateLimit float64
	RateBurst float64
}

// DefaultHTTPClientConfig returns conservative timeouts suitable for
// order placement and status polling.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         10 * time.Second,
		WriteTimeout:        10 * time.Second,
		TotalTimeout:        30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
		RateLimit:           10,
		RateBurst:           20,
	}
}

// HTTPClient wraps http.Client with connection pooling tuned for
// low-latency order placement, plus a token-bucket limiter so a burst
// of hedge dispatches can't trip the broker's own rate limit.
type HTTPClient struct {
	client  *http.Client
	config  HTTPClientConfig
	limiter *ratelimit.RateLimiter
}

var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient returns the process-wide pooled client, shared
// across broker variants to avoid redundant connection setup.
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient builds an HTTPClient from cfg.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: cfg.KeepAliveInterval}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if deadline, ok := ctx.Deadline(); ok {
				if timeout := time.Until(deadline); timeout < cfg.ConnectTimeout {
					d := &net.Dialer{Timeout: timeout, KeepAlive: cfg.KeepAliveInterval}
					return d.DialContext(ctx, network, addr)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	return &HTTPClient{
		client:  &http.Client{Transport: transport, Timeout: cfg.TotalTimeout},
		config:  cfg,
		limiter: ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
}

// Do waits for a rate limit token before sending req, so concurrent
// dispatches across symbols can't exceed the broker's request budget.
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if err := hc.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return hc.client.Do(req)
}

func (hc *HTTPClient) GetClient() *http.Client { return hc.client }

func (hc *HTTPClient) Close() {
	if t, ok := hc.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
