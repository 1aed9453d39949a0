// Package resolver maps on-chain token addresses to human-readable
// symbols, with a process-wide cache that never issues more than one
// remote lookup per address even under concurrent access.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI exposes only the two read-only calls the resolver needs.
const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// Resolved is the cached, successfully resolved metadata for a token.
type Resolved struct {
	Symbol   string
	Decimals uint8
}

// Resolver maps token addresses to Resolved metadata with a
// process-wide cache and single-flight-per-address dedup: concurrent
// callers for the same unresolved address share one remote lookup.
type Resolver struct {
	client *ethclient.Client
	abi    abi.ABI

	cache sync.Map // common.Address -> *Resolved

	mu      sync.Mutex
	inFlight map[common.Address]*call
}

type call struct {
	done chan struct{}
	res  *Resolved
	err  error
}

// New builds a Resolver over an already-dialed ethclient connection.
func New(client *ethclient.Client) (*Resolver, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Resolver{
		client:   client,
		abi:      parsed,
		inFlight: make(map[common.Address]*call),
	}, nil
}

// Resolve returns the cached symbol/decimals for addr, issuing exactly
// one on-chain lookup per address even under concurrent callers.
// Errors are transient; callers decide whether to retry.
func (r *Resolver) Resolve(ctx context.Context, addr common.Address) (*Resolved, error) {
	if v, ok := r.cache.Load(addr); ok {
		return v.(*Resolved), nil
	}

	r.mu.Lock()
	if c, ok := r.inFlight[addr]; ok {
		r.mu.Unlock()
		<-c.done
		return c.res, c.err
	}

	c := &call{done: make(chan struct{})}
	r.inFlight[addr] = c
	r.mu.Unlock()

	res, err := r.lookup(ctx, addr)

	r.mu.Lock()
	delete(r.inFlight, addr)
	r.mu.Unlock()

	c.res, c.err = res, err
	close(c.done)

	if err == nil {
		r.cache.Store(addr, res)
	}
	return res, err
}

func (r *Resolver) lookup(ctx context.Context, addr common.Address) (*Resolved, error) {
	symbol, err := r.callString(ctx, addr, "symbol")
	if err != nil {
		return nil, fmt.Errorf("resolve symbol for %s: %w", addr.Hex(), err)
	}
	decimals, err := r.callUint8(ctx, addr, "decimals")
	if err != nil {
		return nil, fmt.Errorf("resolve decimals for %s: %w", addr.Hex(), err)
	}
	return &Resolved{Symbol: symbol, Decimals: decimals}, nil
}

func (r *Resolver) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	var s string
	if err := r.abi.UnpackIntoInterface(&s, method, out); err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	return s, nil
}

func (r *Resolver) callUint8(ctx context.Context, addr common.Address, method string) (uint8, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return 0, err
	}
	var d uint8
	if err := r.abi.UnpackIntoInterface(&d, method, out); err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	return d, nil
}

func (r *Resolver) call(ctx context.Context, addr common.Address, method string) ([]byte, error) {
	data, err := r.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s call: %w", method, err)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}
