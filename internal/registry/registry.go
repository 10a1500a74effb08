// Package registry implements the Token & Reserve Registry (C1):
// immutable-ish per-asset metadata with an in-memory TTL cache, a
// static known-tokens table, and an on-chain ERC-20 fallback fetch
// that never fails the pipeline — an unknown asset gets a safe
// decimals=18 default and a logged warning, and Get returns the fetch
// error alongside that default.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/avalnetsec/liquidator/pkg/types"
)

// ChainReader is the minimal on-chain ERC-20 read surface (iii in the
// resolution order). ERC20Reader calls symbol()/decimals() with
// go-ethereum's abi and ethclient packages; tests supply a fake.
type ChainReader interface {
	Symbol(ctx context.Context, token common.Address) (string, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

type cacheEntry struct {
	reserve   types.Reserve
	expiresAt time.Time
}

// Registry resolves Reserve metadata: (i) TTL cache, (ii) static
// known-tokens table, (iii) on-chain fallback.
type Registry struct {
	mu    sync.RWMutex
	cache map[common.Address]cacheEntry
	known map[common.Address]types.Reserve
	chain ChainReader
	ttl   time.Duration
	group singleflight.Group
	log   zerolog.Logger
}

// New builds a Registry. known seeds the static table (e.g. loaded
// from a deploy manifest); it is never mutated at runtime.
func New(chain ChainReader, known map[common.Address]types.Reserve, ttl time.Duration, log zerolog.Logger) *Registry {
	if known == nil {
		known = map[common.Address]types.Reserve{}
	}
	return &Registry{
		cache: make(map[common.Address]cacheEntry),
		known: known,
		chain: chain,
		ttl:   ttl,
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Get resolves one asset's Reserve metadata.
func (r *Registry) Get(ctx context.Context, asset common.Address) (types.Reserve, error) {
	if rv, ok := r.fromCache(asset); ok {
		return rv, nil
	}
	if rv, ok := r.known[asset]; ok {
		r.store(asset, rv)
		return rv, nil
	}

	v, err, _ := r.group.Do(asset.Hex(), func() (interface{}, error) {
		return r.fetchOnChain(ctx, asset)
	})
	rv := v.(types.Reserve)
	r.store(asset, rv)
	return rv, err
}

// BatchGet resolves several assets, deduping per-address fetches via
// the same in-flight group as Get.
func (r *Registry) BatchGet(ctx context.Context, assets []common.Address) (map[common.Address]types.Reserve, error) {
	out := make(map[common.Address]types.Reserve, len(assets))
	for _, a := range assets {
		rv, err := r.Get(ctx, a)
		if err != nil {
			r.log.Warn().Err(err).Str("asset", a.Hex()).Msg("reserve metadata fetch failed, using UNKNOWN default")
		}
		out[a] = rv
	}
	return out, nil
}

func (r *Registry) fromCache(asset common.Address) (types.Reserve, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[asset]
	if !ok || time.Now().After(e.expiresAt) {
		return types.Reserve{}, false
	}
	return e.reserve, true
}

func (r *Registry) store(asset common.Address, rv types.Reserve) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[asset] = cacheEntry{reserve: rv, expiresAt: time.Now().Add(r.ttl)}
}

// fetchOnChain performs the (iii) fallback: symbol/decimals only.
// Never returns an error to the caller's decision path — on failure it
// returns a safe UNKNOWN reserve so the pipeline keeps moving, but
// still surfaces the error for logging.
func (r *Registry) fetchOnChain(ctx context.Context, asset common.Address) (types.Reserve, error) {
	rv := types.Reserve{Asset: asset, Symbol: "UNKNOWN", Decimals: 18}
	if r.chain == nil {
		return rv, nil
	}
	sym, err := r.chain.Symbol(ctx, asset)
	if err != nil {
		r.log.Warn().Err(err).Str("asset", asset.Hex()).Msg("symbol() fetch failed")
		return rv, err
	}
	dec, err := r.chain.Decimals(ctx, asset)
	if err != nil {
		r.log.Warn().Err(err).Str("asset", asset.Hex()).Msg("decimals() fetch failed")
		return rv, err
	}
	rv.Symbol = sym
	rv.Decimals = dec
	return rv, nil
}
