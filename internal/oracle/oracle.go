// Package oracle implements the Price Oracle Gateway (C2): primary =
// protocol oracle, fallback = external feed, with staleness rejection,
// a primary/fallback drift check that only ever feeds metrics (never
// execution decisions), and a circuit breaker so a primary oracle
// degrading mid-block doesn't stall every read behind its timeout.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/avalnetsec/liquidator/internal/fixedpoint"
	"github.com/avalnetsec/liquidator/internal/metrics"
	"github.com/avalnetsec/liquidator/pkg/types"
)

// PrimaryReader reads the protocol's own oracle.
type PrimaryReader interface {
	AssetPrice(ctx context.Context, asset common.Address, blockTag *int64) (price *uint256.Int, updatedAt time.Time, err error)
}

// FallbackReader reads an external per-asset price feed.
type FallbackReader interface {
	AssetPrice(ctx context.Context, asset common.Address) (*uint256.Int, error)
}

// MismatchObservation is one primary/fallback drift record.
type MismatchObservation struct {
	Asset   common.Address
	DeltaBp float64
	At      time.Time
}

// Gateway is the Price Oracle Gateway.
type Gateway struct {
	primary   PrimaryReader
	fallback  FallbackReader
	staleness time.Duration
	breaker   *gobreaker.CircuitBreaker
	log       zerolog.Logger

	mu        sync.Mutex
	mismatch  []MismatchObservation
	mismatchN int
}

const mismatchRingSize = 256

// New builds a Gateway. staleness is the primary-oracle freshness
// budget; zero disables the staleness check, and config applies no
// default for it.
func New(primary PrimaryReader, fallback FallbackReader, staleness time.Duration, log zerolog.Logger) *Gateway {
	return &Gateway{
		primary:   primary,
		fallback:  fallback,
		staleness: staleness,
		log:       log.With().Str("component", "oracle").Logger(),
		mismatch:  make([]MismatchObservation, mismatchRingSize),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "primary-oracle",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Price returns the authoritative per-block price for asset, falling
// back to the external feed when the primary is stale, erroring, or
// its breaker is open. A price read pinned to blockTag reflects
// oracle state at that block even if later blocks are observed —
// callers must always pass the same blockTag they verified HF at.
func (g *Gateway) Price(ctx context.Context, asset common.Address, blockTag *int64) (types.OracleResult, error) {
	primaryPrice, primaryErr := g.tryPrimary(ctx, asset, blockTag)
	if primaryErr == nil {
		g.checkDrift(ctx, asset, primaryPrice)
		return types.OracleResult{PriceUSD: primaryPrice, Source: types.SourcePrimary}, nil
	}
	g.log.Warn().Err(primaryErr).Str("asset", asset.Hex()).Msg("primary oracle unavailable, falling back")

	if g.fallback == nil {
		return types.OracleResult{}, fmt.Errorf("oracle: primary failed and no fallback configured: %w", primaryErr)
	}
	price, err := g.fallback.AssetPrice(ctx, asset)
	if err != nil {
		return types.OracleResult{}, fmt.Errorf("oracle: fallback failed: %w", err)
	}
	return types.OracleResult{PriceUSD: price, Source: types.SourceFallback}, nil
}

func (g *Gateway) tryPrimary(ctx context.Context, asset common.Address, blockTag *int64) (*uint256.Int, error) {
	if g.primary == nil {
		return nil, fmt.Errorf("oracle: no primary configured")
	}
	v, err := g.breaker.Execute(func() (interface{}, error) {
		price, updatedAt, err := g.primary.AssetPrice(ctx, asset, blockTag)
		if err != nil {
			return nil, err
		}
		if g.staleness > 0 && time.Since(updatedAt) > g.staleness {
			return nil, fmt.Errorf("oracle: primary price for %s stale (updated %s ago)", asset.Hex(), time.Since(updatedAt))
		}
		return price, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*uint256.Int), nil
}

// checkDrift compares primary against fallback purely for
// observability: a mismatch never changes an execution decision.
func (g *Gateway) checkDrift(ctx context.Context, asset common.Address, primaryPrice *uint256.Int) {
	if g.fallback == nil {
		return
	}
	fallbackPrice, err := g.fallback.AssetPrice(ctx, asset)
	if err != nil || fallbackPrice == nil || fallbackPrice.IsZero() {
		return
	}
	deltaBp := driftBps(primaryPrice, fallbackPrice)
	if deltaBp <= 5 {
		return
	}
	metrics.PriceMismatchBps.Observe(deltaBp)
	g.recordMismatch(MismatchObservation{Asset: asset, DeltaBp: deltaBp, At: time.Now()})
	g.log.Warn().Str("asset", asset.Hex()).Float64("delta_bp", deltaBp).Msg("primary/fallback oracle mismatch")
}

func driftBps(primary, fallback *uint256.Int) float64 {
	diff := new(uint256.Int)
	if primary.Gt(fallback) {
		diff.Sub(primary, fallback)
	} else {
		diff.Sub(fallback, primary)
	}
	bp := fixedpoint.MulDiv(diff, uint256.NewInt(10_000), primary)
	return float64(bp.Uint64())
}

func (g *Gateway) recordMismatch(obs MismatchObservation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mismatch[g.mismatchN%mismatchRingSize] = obs
	g.mismatchN++
}

// RecentMismatches returns up to n most recent mismatch observations,
// newest first.
func (g *Gateway) RecentMismatches(n int) []MismatchObservation {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := g.mismatchN
	if total > mismatchRingSize {
		total = mismatchRingSize
	}
	if n > total {
		n = total
	}
	out := make([]MismatchObservation, 0, n)
	for i := 0; i < n; i++ {
		idx := (g.mismatchN - 1 - i + mismatchRingSize) % mismatchRingSize
		out = append(out, g.mismatch[idx])
	}
	return out
}
