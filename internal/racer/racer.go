// Package racer implements the Write RPC Racer (C14): broadcasts a
// signed transaction concurrently to every configured endpoint, races
// them ordered by EMA RTT, and returns on the first success.
package racer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/avalnetsec/liquidator/internal/metrics"
)

// Broadcaster sends a raw signed transaction to one endpoint.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

const emaAlpha = 0.3

type endpoint struct {
	name        string
	client      Broadcaster
	emaRTTMs    float64
	breaker     *gobreaker.CircuitBreaker
	errorCount  int
}

// Racer manages the endpoint pool.
type Racer struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	pingLimiter *rate.Limiter
}

// New builds a Racer over the given named endpoints. pingRatePerSec
// bounds how often PingAll is allowed to probe the whole pool
// (default 5/s), so a flapping endpoint can never monopolize read RPC
// capacity that the race path also needs.
func New(clients map[string]Broadcaster, pingRatePerSec float64) *Racer {
	if pingRatePerSec <= 0 {
		pingRatePerSec = 5
	}
	r := &Racer{pingLimiter: rate.NewLimiter(rate.Limit(pingRatePerSec), 1)}
	for name, c := range clients {
		st := gobreaker.Settings{
			Name: "racer-" + name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		r.endpoints = append(r.endpoints, &endpoint{
			name:    name,
			client:  c,
			breaker: gobreaker.NewCircuitBreaker(st),
		})
	}
	return r
}

// result is one endpoint's broadcast outcome.
type result struct {
	name string
	hash string
	err  error
}

// Broadcast races tx across every endpoint, ordered by ascending EMA
// RTT, returning on first success. The whole race is capped at
// raceTimeout*3. Every attempt is fanned out through an errgroup so
// the race never leaks a goroutine past Broadcast's return: stragglers
// are cancelled and waited out instead of left to write into a
// buffered channel nobody drains anymore.
func (r *Racer) Broadcast(ctx context.Context, tx *types.Transaction, raceTimeout time.Duration) (string, error) {
	r.mu.Lock()
	ordered := make([]*endpoint, len(r.endpoints))
	copy(ordered, r.endpoints)
	r.mu.Unlock()
	sortByEMA(ordered)

	raceCtx, cancel := context.WithTimeout(ctx, raceTimeout*3)

	ch := make(chan result, len(ordered))
	var g errgroup.Group
	for _, ep := range ordered {
		ep := ep
		g.Go(func() error {
			r.attempt(raceCtx, ep, tx, ch)
			return nil
		})
	}

	hash, err := r.selectWinner(raceCtx, ch, len(ordered))
	cancel() // winner decided (or race timed out): stop any still-pending attempt
	g.Wait()
	return hash, err
}

// selectWinner drains ch for the first successful result, returning an
// aggregate error if every endpoint fails or ctx expires first.
func (r *Racer) selectWinner(ctx context.Context, ch <-chan result, n int) (string, error) {
	errs := make(map[string]error, n)
	for i := 0; i < n; i++ {
		select {
		case res := <-ch:
			if res.err == nil {
				metrics.RacerWinsTotal.WithLabelValues(res.name).Inc()
				return res.hash, nil
			}
			errs[res.name] = res.err
		case <-ctx.Done():
			return "", fmt.Errorf("racer: all endpoints failed: timeout (%d/%d responded): %w", i, n, ctx.Err())
		}
	}
	return "", fmt.Errorf("racer: all endpoints failed: %v", errs)
}

func (r *Racer) attempt(ctx context.Context, ep *endpoint, tx *types.Transaction, ch chan<- result) {
	start := time.Now()
	_, err := ep.breaker.Execute(func() (interface{}, error) {
		return nil, ep.client.SendTransaction(ctx, tx)
	})
	elapsed := time.Since(start)

	r.mu.Lock()
	if err == nil {
		ep.emaRTTMs = emaAlpha*float64(elapsed.Milliseconds()) + (1-emaAlpha)*ep.emaRTTMs
	} else {
		ep.errorCount++
	}
	r.mu.Unlock()

	if err != nil {
		ch <- result{name: ep.name, err: err}
		return
	}
	ch <- result{name: ep.name, hash: tx.Hash().Hex()}
}

// PingAll refreshes EMA RTT from a cheap blockNumber query on every
// endpoint; intended to run while the racer is otherwise idle.
// pingLimiter paces the whole pool so a ping sweep never competes with
// an in-flight broadcast for read-RPC budget on a shared endpoint.
func (r *Racer) PingAll(ctx context.Context) {
	r.mu.Lock()
	endpoints := make([]*endpoint, len(r.endpoints))
	copy(endpoints, r.endpoints)
	r.mu.Unlock()

	for _, ep := range endpoints {
		if err := r.pingLimiter.Wait(ctx); err != nil {
			return
		}
		start := time.Now()
		if _, err := ep.client.BlockNumber(ctx); err == nil {
			elapsed := time.Since(start)
			r.mu.Lock()
			ep.emaRTTMs = emaAlpha*float64(elapsed.Milliseconds()) + (1-emaAlpha)*ep.emaRTTMs
			r.mu.Unlock()
		}
	}
}

func sortByEMA(endpoints []*endpoint) {
	for i := 1; i < len(endpoints); i++ {
		for j := i; j > 0 && endpoints[j-1].emaRTTMs > endpoints[j].emaRTTMs; j-- {
			endpoints[j-1], endpoints[j] = endpoints[j], endpoints[j-1]
		}
	}
}
