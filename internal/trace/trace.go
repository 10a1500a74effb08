// Package trace implements the Decision Trace Store (C15): a bounded,
// TTL-expiring ring buffer of DecisionTrace records plus a
// find_decision classification query, so an on-chain liquidation can
// be explained against the agent's own recent decisions.
package trace

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avalnetsec/liquidator/pkg/types"
)

// Classification tags the outcome of find_decision.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassOurs
	ClassRaced
	ClassFilteredMinDebt
	ClassFilteredMinProfit
	ClassFilteredSlippage
	ClassFilteredDust
	ClassLatencyHeadLag
	ClassLatencyPricingDelay
)

func (c Classification) String() string {
	switch c {
	case ClassOurs:
		return "ours"
	case ClassRaced:
		return "raced"
	case ClassFilteredMinDebt:
		return "filtered.min_debt"
	case ClassFilteredMinProfit:
		return "filtered.min_profit"
	case ClassFilteredSlippage:
		return "filtered.slippage"
	case ClassFilteredDust:
		return "filtered.dust"
	case ClassLatencyHeadLag:
		return "latency.head_lag"
	case ClassLatencyPricingDelay:
		return "latency.pricing_delay"
	default:
		return "unknown"
	}
}

type slot struct {
	rec       types.DecisionTrace
	expiresAt time.Time
	valid     bool
}

// Store is the bounded ring buffer of decision traces.
type Store struct {
	cap    int
	ttl    time.Duration
	buf    []slot
	next   int
	size   int
	nowFn  func() time.Time
}

// New builds a Store holding at most cap entries, each valid for ttl.
func New(cap int, ttl time.Duration) *Store {
	if cap <= 0 {
		cap = 10_000
	}
	return &Store{cap: cap, ttl: ttl, buf: make([]slot, cap), nowFn: time.Now}
}

// Record appends rec, overwriting the oldest slot once the buffer is
// full.
func (s *Store) Record(rec types.DecisionTrace) {
	s.buf[s.next] = slot{rec: rec, expiresAt: s.nowFn().Add(s.ttl), valid: true}
	s.next = (s.next + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}
}

// FindDecision returns the most recent, still-fresh trace for user at
// or before beforeTs, no further back than maxLookback, classified.
func (s *Store) FindDecision(user common.Address, beforeTs time.Time, maxLookback time.Duration) (types.DecisionTrace, Classification) {
	now := s.nowFn()
	var best *types.DecisionTrace
	var bestTs time.Time

	for i := 0; i < s.cap; i++ {
		sl := s.buf[i]
		if !sl.valid || now.After(sl.expiresAt) {
			continue
		}
		if sl.rec.User != user {
			continue
		}
		if sl.rec.Timestamp.After(beforeTs) {
			continue
		}
		if beforeTs.Sub(sl.rec.Timestamp) > maxLookback {
			continue
		}
		if best == nil || sl.rec.Timestamp.After(bestTs) {
			rec := sl.rec
			best = &rec
			bestTs = sl.rec.Timestamp
		}
	}

	if best == nil {
		return types.DecisionTrace{}, ClassUnknown
	}
	return *best, classify(*best)
}

func classify(rec types.DecisionTrace) Classification {
	if rec.Action == types.ActionAttempt {
		return ClassOurs
	}
	switch rec.SkipReason {
	case types.SkipMinDebt:
		return ClassFilteredMinDebt
	case types.SkipMinProfit:
		return ClassFilteredMinProfit
	case types.SkipSlippage:
		return ClassFilteredSlippage
	case types.SkipDust:
		return ClassFilteredDust
	case types.SkipPriceStale:
		return ClassLatencyPricingDelay
	default:
		if rec.HeadLag > 0 {
			return ClassLatencyHeadLag
		}
		return ClassUnknown
	}
}
