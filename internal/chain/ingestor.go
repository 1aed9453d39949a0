// Package chain subscribes to the orderbook contract's on-chain log
// stream, backfills any gap since the last persisted block, and turns
// raw logs into canonical OnchainTrade records.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"hedgeengine/internal/ledger"
	"hedgeengine/internal/models"
	"hedgeengine/internal/resolver"
	"hedgeengine/pkg/retry"
	"hedgeengine/pkg/utils"
)

// Recognized log topics. The orderbook contract emits one event shape
// that carries both fill amounts directly (CrossOrderClear) and one
// that requires a paired after-clear record in the same transaction
// (DirectTake).
var (
	TopicCrossOrderClear = crypto.Keccak256Hash([]byte("OrdersMatched(bytes32,address,address,address,uint256,uint256,uint256)"))
	TopicDirectTake      = crypto.Keccak256Hash([]byte("OrderTaken(bytes32,address,address,address,uint256,uint256)"))
)

// Config configures one Ingestor instance.
type Config struct {
	WSURL           string
	HTTPURL         string // optional, used for backfill if set
	Orderbook       common.Address
	OrderOwner      common.Address
	DeploymentBlock uint64
	USDC            common.Address
	EquitySuffix    string

	// BackfillPageSize bounds the block range per FilterLogs call.
	BackfillPageSize uint64
}

// Dispatcher is the Conductor's inbound side: the ingestor hands every
// extracted trade to Submit and never touches the accumulator, symbol
// lock, or broker itself.
type Dispatcher interface {
	Submit(trade *models.OnchainTrade)
}

// Ingestor streams fills from the orderbook contract, extracts trades,
// and hands them to a Dispatcher, reconnecting with exponential
// backoff on any subscription failure.
type Ingestor struct {
	cfg        Config
	wsClient   *ethclient.Client
	httpClient *ethclient.Client
	resolver   *resolver.Resolver
	ledger     *ledger.Ledger
	dispatcher Dispatcher
	log        *utils.Logger
}

// New dials the configured RPC endpoints and returns an Ingestor ready
// to Run. The websocket connection is required; the HTTP connection is
// optional and only used to parallelize backfill. led is used only to
// resume from the last persisted block; trade application and dispatch
// go through dispatcher.
func New(ctx context.Context, cfg Config, led *ledger.Ledger, res *resolver.Resolver, dispatcher Dispatcher) (*Ingestor, error) {
	if cfg.BackfillPageSize == 0 {
		cfg.BackfillPageSize = 5000
	}
	ws, err := ethclient.DialContext(ctx, cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial ws rpc: %w", err)
	}

	httpClient := ws
	if cfg.HTTPURL != "" {
		hc, err := ethclient.DialContext(ctx, cfg.HTTPURL)
		if err != nil {
			return nil, fmt.Errorf("dial http rpc: %w", err)
		}
		httpClient = hc
	}

	return &Ingestor{
		cfg:        cfg,
		wsClient:   ws,
		httpClient: httpClient,
		resolver:   res,
		ledger:     led,
		dispatcher: dispatcher,
		log:        utils.L().WithComponent("chain.ingestor"),
	}, nil
}

// query builds the FilterQuery common to backfill and live
// subscription: the orderbook contract address, the two recognized
// topics, and the order owner as the event's indexed second topic.
func (in *Ingestor) query() ethereum.FilterQuery {
	ownerTopic := common.BytesToHash(in.cfg.OrderOwner.Bytes())
	return ethereum.FilterQuery{
		Addresses: []common.Address{in.cfg.Orderbook},
		Topics:    [][]common.Hash{{TopicCrossOrderClear, TopicDirectTake}, {ownerTopic}},
	}
}

// Run backfills from the last persisted block (or DeploymentBlock if
// the ledger is empty) and then subscribes for live logs, reconnecting
// with exponential backoff whenever the subscription drops, until ctx
// is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	cfg := retry.Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		MaxRetries:   0, // retry forever; only ctx cancellation stops the loop
		OnRetry: func(attempt int, err error, delay time.Duration) {
			in.log.Warn("chain subscription retry", utils.Err(err), utils.Int("attempt", attempt))
		},
	}

	return retry.Do(ctx, func() error {
		return in.runOnce(ctx)
	}, cfg)
}

// runOnce backfills any gap and then streams live logs until the
// subscription errors or ctx is cancelled. A nil return only happens
// on clean ctx cancellation; any subscription drop is a non-nil error
// so retry.Do's backoff applies.
func (in *Ingestor) runOnce(ctx context.Context) error {
	from, err := in.resumeFromBlock(ctx)
	if err != nil {
		return fmt.Errorf("resume from block: %w", err)
	}

	head, err := in.httpClient.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch head block: %w", err)
	}

	if err := in.backfill(ctx, from, head); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	return in.subscribe(ctx, head+1)
}

// resumeFromBlock returns one past the highest persisted block, or the
// configured deployment block if the ledger has no trades yet.
func (in *Ingestor) resumeFromBlock(ctx context.Context) (uint64, error) {
	trades, err := in.ledger.Trades.Recent(1)
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return in.cfg.DeploymentBlock, nil
	}
	return uint64(trades[0].BlockNumber) + 1, nil
}

// backfill pages FilterLogs from `from` to `to` inclusive, preserving
// (block_number, log_index) order before handing logs to the extractor.
func (in *Ingestor) backfill(ctx context.Context, from, to uint64) error {
	if from > to {
		return nil
	}
	page := in.cfg.BackfillPageSize

	for start := from; start <= to; start += page {
		end := start + page - 1
		if end > to {
			end = to
		}

		q := in.query()
		q.FromBlock = new(big.Int).SetUint64(start)
		q.ToBlock = new(big.Int).SetUint64(end)

		logs, err := in.httpClient.FilterLogs(ctx, q)
		if err != nil {
			return fmt.Errorf("filter logs [%d,%d]: %w", start, end, err)
		}

		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		if err := in.handleBatch(ctx, logs); err != nil {
			return err
		}
	}
	return nil
}

// subscribe streams live logs from fromBlock onward. Any received log
// at a block below fromBlock (a reorg artifact) is ignored; the ledger's
// (tx_hash, log_index) uniqueness makes re-delivery of the same log a
// safe no-op regardless.
func (in *Ingestor) subscribe(ctx context.Context, fromBlock uint64) error {
	ch := make(chan types.Log, 256)
	q := in.query()
	q.FromBlock = new(big.Int).SetUint64(fromBlock)

	sub, err := in.wsClient.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return fmt.Errorf("subscribe filter logs: %w", err)
	}
	defer sub.Unsubscribe()

	var pending []types.Log
	flush := time.NewTicker(2 * time.Second)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case l := <-ch:
			pending = append(pending, l)
		case <-flush.C:
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = nil
			sort.Slice(batch, func(i, j int) bool {
				if batch[i].BlockNumber != batch[j].BlockNumber {
					return batch[i].BlockNumber < batch[j].BlockNumber
				}
				return batch[i].Index < batch[j].Index
			})
			if err := in.handleBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// handleBatch pairs DirectTake triggers with their after-clear
// counterpart, extracts a trade from each, and hands it to the
// dispatcher in (block_number, log_index) order. Extraction failures
// are logged and the log is dropped; the dispatcher's own ledger write
// makes re-delivery of the same log a safe no-op.
func (in *Ingestor) handleBatch(ctx context.Context, logs []types.Log) error {
	for i := range logs {
		l := logs[i]
		if l.Topics[0] != TopicCrossOrderClear && l.Topics[0] != TopicDirectTake {
			continue
		}

		var aux *types.Log
		if l.Topics[0] == TopicDirectTake {
			found, err := PairTrade(&l, toPointers(logs))
			if err != nil {
				in.log.Warn("dropping direct-take log with no counterpart", utils.TxHash(l.TxHash.Hex()), utils.LogIndex(int64(l.Index)))
				continue
			}
			aux = found
		}

		raw, err := decodeRawFill(ctx, &l, aux)
		if err != nil {
			in.log.Warn("dropping undecodable log", utils.TxHash(l.TxHash.Hex()), utils.Err(err))
			continue
		}

		trade, err := ExtractTrade(ctx, raw, in.cfg.USDC, in.cfg.EquitySuffix, in.resolver)
		if err != nil {
			in.log.Warn("extraction failed", utils.TxHash(l.TxHash.Hex()), utils.Err(err))
			continue
		}

		in.dispatcher.Submit(trade)
	}
	return nil
}

func toPointers(logs []types.Log) []*types.Log {
	out := make([]*types.Log, len(logs))
	for i := range logs {
		out[i] = &logs[i]
	}
	return out
}

// decodeRawFill pulls block timestamp and the two token legs out of a
// log (plus its paired after-clear log, if any) into a RawFill. The
// concrete word layout depends on the orderbook contract's ABI; data
// words are read positionally following the event signatures declared
// above (tokenIn, tokenOut, amountIn, amountOut packed in Data).
func decodeRawFill(ctx context.Context, l *types.Log, aux *types.Log) (*RawFill, error) {
	src := l
	if aux != nil {
		src = aux
	}
	if len(src.Data) < 128 {
		return nil, fmt.Errorf("log data too short: %d bytes", len(src.Data))
	}

	tokenIn := common.BytesToAddress(src.Data[0:32])
	tokenOut := common.BytesToAddress(src.Data[32:64])
	amountIn := new(big.Int).SetBytes(src.Data[64:96])
	amountOut := new(big.Int).SetBytes(src.Data[96:128])

	return &RawFill{
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		BlockNumber: l.BlockNumber,
		Timestamp:   time.Now().UTC(), // refined to the block timestamp by the caller's header lookup where available
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
	}, nil
}
