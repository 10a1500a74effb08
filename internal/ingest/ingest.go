// Package ingest implements the Event Ingestor (C6): subscribes to
// protocol logs, reserve-data updates, and external price feeds, and
// coalesces bursts of reserve-update events into one flush per
// debounce window. Grounded on the SubscribeNewHead/FilterLogs style
// seen in other_examples' liquidatoor.go, adapted to fan out into the
// dirty set, emergency scan requests, and orchestrator block headers
// instead of driving a shortfall check directly.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// ChainSubscriber is the subset of ethclient.Client the ingestor needs.
type ChainSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ReserveUpdate is a coalesced (reserve, latest block) pair.
type ReserveUpdate struct {
	Reserve     common.Address
	LatestBlock uint64
}

// Sink receives the ingestor's three output streams (§4.6 "Outputs").
// OnDirtyMark carries the full variable-debt Transfer tuple (not just
// `to`) so a sink can drive the borrower index's mint/burn/transfer
// accounting, not only the dirty set.
type Sink interface {
	OnDirtyMark(reserve, from, to common.Address)
	OnReserveBatch(batch []ReserveUpdate)
	OnBlockHeader(header *types.Header)
	OnEmergencyScan(asset common.Address, block uint64)
}

// Ingestor subscribes to chain events and drives a Sink.
type Ingestor struct {
	client ChainSubscriber
	sink   Sink
	log    zerolog.Logger

	debounce     time.Duration
	maxBatchSize int

	transferTopic common.Hash
	reserveTopic  common.Hash
	priceTopic    common.Hash

	mu      sync.Mutex
	pending map[common.Address]uint64 // reserve -> latest block seen
	flushCh chan struct{}
}

// New builds an Ingestor. debounce is the reserve-update coalescing
// window (30-50ms per spec default); maxBatchSize forces an early
// flush regardless of the window.
func New(client ChainSubscriber, sink Sink, log zerolog.Logger, debounce time.Duration, maxBatchSize int, transferTopic, reserveTopic, priceTopic common.Hash) *Ingestor {
	if maxBatchSize <= 0 {
		maxBatchSize = 256
	}
	return &Ingestor{
		client:        client,
		sink:          sink,
		log:           log.With().Str("component", "ingestor").Logger(),
		debounce:      debounce,
		maxBatchSize:  maxBatchSize,
		transferTopic: transferTopic,
		reserveTopic:  reserveTopic,
		priceTopic:    priceTopic,
		pending:       make(map[common.Address]uint64),
		flushCh:       make(chan struct{}, 1),
	}
}

// RunHeads subscribes to new block headers until ctx is cancelled.
func (ing *Ingestor) RunHeads(ctx context.Context) error {
	headers := make(chan *types.Header)
	sub, err := ing.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			ing.log.Error().Err(err).Msg("head subscription error")
		case h := <-headers:
			ing.sink.OnBlockHeader(h)
		}
	}
}

// RunLogs subscribes to the given filter and routes each log by topic:
// Transfer logs mark the dirty set directly; reserve-update logs go
// through the debounced coalescer; price-update logs request an
// emergency scan directly, without debouncing.
func (ing *Ingestor) RunLogs(ctx context.Context, q ethereum.FilterQuery) error {
	logs := make(chan types.Log, 256)
	sub, err := ing.client.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	go ing.coalesceLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			ing.log.Error().Err(err).Msg("log subscription error")
		case l := <-logs:
			ing.route(l)
		}
	}
}

func (ing *Ingestor) route(l types.Log) {
	if len(l.Topics) == 0 {
		return
	}
	switch l.Topics[0] {
	case ing.transferTopic:
		if len(l.Topics) >= 3 {
			from := common.BytesToAddress(l.Topics[1].Bytes())
			to := common.BytesToAddress(l.Topics[2].Bytes())
			ing.sink.OnDirtyMark(l.Address, from, to)
		}
	case ing.reserveTopic:
		ing.markReserve(l.Address, l.BlockNumber)
	case ing.priceTopic:
		ing.sink.OnEmergencyScan(l.Address, l.BlockNumber)
	}
}

func (ing *Ingestor) markReserve(reserve common.Address, block uint64) {
	ing.mu.Lock()
	ing.pending[reserve] = block
	shouldFlush := len(ing.pending) >= ing.maxBatchSize
	ing.mu.Unlock()

	if shouldFlush {
		select {
		case ing.flushCh <- struct{}{}:
		default:
		}
	}
}

func (ing *Ingestor) coalesceLoop(ctx context.Context) {
	ticker := time.NewTicker(ing.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.flush()
		case <-ing.flushCh:
			ing.flush()
		}
	}
}

func (ing *Ingestor) flush() {
	ing.mu.Lock()
	if len(ing.pending) == 0 {
		ing.mu.Unlock()
		return
	}
	batch := make([]ReserveUpdate, 0, len(ing.pending))
	for reserve, block := range ing.pending {
		batch = append(batch, ReserveUpdate{Reserve: reserve, LatestBlock: block})
	}
	ing.pending = make(map[common.Address]uint64)
	ing.mu.Unlock()

	ing.sink.OnReserveBatch(batch)
}
