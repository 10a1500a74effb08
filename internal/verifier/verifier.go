// Package verifier implements the Micro-Verifier (C7): the
// authoritative health-factor read, batched through a multicall
// aggregator contract, cached per (user, blockTag), and deduplicated
// across concurrent callers with singleflight.
package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/avalnetsec/liquidator/pkg/types"
)

// Aggregator is the multicall-style batching contract the verifier
// calls through. AllowFailure mirrors Multicall3's per-call semantics:
// a false entry means the whole aggregation reverts if that call
// fails; true means failures are reported per-call instead.
type Aggregator interface {
	BatchGetUserAccountData(ctx context.Context, users []common.Address, blockTag *uint64, allowFailure bool) ([]types.VerifyResult, error)
}

type cacheKey struct {
	user     common.Address
	blockTag uint64
}

// Verifier is the batched, cached, deduped HF reader.
type Verifier struct {
	agg        Aggregator
	batchSize  int
	ttl        time.Duration
	mu         sync.Mutex
	cache      *lru.Cache[cacheKey, cachedResult]
	inflight   singleflight.Group
	nowFn      func() time.Time
}

type cachedResult struct {
	result    types.VerifyResult
	expiresAt time.Time
}

// New builds a Verifier over agg, chunking batch_verify calls at
// batchSize (default 25) and caching results for ttl.
func New(agg Aggregator, batchSize int, ttl time.Duration, cacheCap int) (*Verifier, error) {
	if batchSize <= 0 {
		batchSize = 25
	}
	if cacheCap <= 0 {
		cacheCap = 10_000
	}
	c, err := lru.New[cacheKey, cachedResult](cacheCap)
	if err != nil {
		return nil, fmt.Errorf("verifier: new lru: %w", err)
	}
	return &Verifier{agg: agg, batchSize: batchSize, ttl: ttl, cache: c, nowFn: time.Now}, nil
}

// Verify reads a single user's UserSnapshot, using the cache and
// in-flight dedup before falling through to the aggregator.
func (v *Verifier) Verify(ctx context.Context, user common.Address, blockTag uint64) (types.VerifyResult, error) {
	results, err := v.BatchVerify(ctx, []common.Address{user}, blockTag)
	if err != nil {
		return types.VerifyResult{}, err
	}
	return results[0], nil
}

// BatchVerify reads HF for every user in users at blockTag, chunking
// internally at batchSize. Concurrent requests are merged via
// singleflight per whole chunk (same users in the same order, same
// blockTag); chunks that differ but share a user each fetch that user.
func (v *Verifier) BatchVerify(ctx context.Context, users []common.Address, blockTag uint64) ([]types.VerifyResult, error) {
	out := make([]types.VerifyResult, len(users))
	var toFetch []common.Address
	fetchIdx := make([]int, 0, len(users))

	for i, u := range users {
		if r, ok := v.fromCache(u, blockTag); ok {
			out[i] = r
			continue
		}
		toFetch = append(toFetch, u)
		fetchIdx = append(fetchIdx, i)
	}

	// Each chunk writes to a disjoint slice of out/idxChunk, so the
	// fan-out needs no locking beyond what store/fromCache already do.
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(toFetch); start += v.batchSize {
		end := start + v.batchSize
		if end > len(toFetch) {
			end = len(toFetch)
		}
		chunk := toFetch[start:end]
		idxChunk := fetchIdx[start:end]

		g.Go(func() error {
			results, err := v.fetchChunk(gctx, chunk, blockTag)
			if err != nil {
				return err
			}
			for j, r := range results {
				out[idxChunk[j]] = r
				v.store(chunk[j], blockTag, r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("verifier: batch verify: %w", err)
	}
	return out, nil
}

// fetchChunk dedupes the whole chunk as one in-flight key so repeated
// identical ticks (same users, same blockTag) collapse to one RPC.
func (v *Verifier) fetchChunk(ctx context.Context, users []common.Address, blockTag uint64) ([]types.VerifyResult, error) {
	key := chunkKey(users, blockTag)
	res, err, _ := v.inflight.Do(key, func() (interface{}, error) {
		return v.agg.BatchGetUserAccountData(ctx, users, &blockTag, true)
	})
	if err != nil {
		return nil, err
	}
	return res.([]types.VerifyResult), nil
}

func chunkKey(users []common.Address, blockTag uint64) string {
	b := make([]byte, 0, len(users)*20+8)
	for _, u := range users {
		b = append(b, u.Bytes()...)
	}
	return fmt.Sprintf("%x:%d", b, blockTag)
}

func (v *Verifier) fromCache(user common.Address, blockTag uint64) (types.VerifyResult, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.cache.Get(cacheKey{user: user, blockTag: blockTag})
	if !ok || v.nowFn().After(c.expiresAt) {
		return types.VerifyResult{}, false
	}
	return c.result, true
}

func (v *Verifier) store(user common.Address, blockTag uint64, r types.VerifyResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.Add(cacheKey{user: user, blockTag: blockTag}, cachedResult{result: r, expiresAt: v.nowFn().Add(v.ttl)})
}

// Invalidate drops every cached blockTag entry for user. Neither the
// dirty set, the scheduler nor main calls it, so a cached entry
// otherwise stays until its TTL runs out.
func (v *Verifier) Invalidate(user common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range v.cache.Keys() {
		if k.user == user {
			v.cache.Remove(k)
		}
	}
}
