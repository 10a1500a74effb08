// Package reversion implements the Reversion Budget (C11): a daily,
// UTC-midnight-resetting counter of optimistic-execution reverts that
// gates whether the planner is still allowed to fire speculatively.
package reversion

import (
	"sync"
	"time"

	"github.com/avalnetsec/liquidator/internal/metrics"
)

// Budget tracks today's revert count against a daily cap.
type Budget struct {
	mu         sync.Mutex
	maxReverts int
	revertCount int
	dayStart   time.Time
	nowFn      func() time.Time
}

// New builds a Budget capped at maxReverts reverts per UTC day.
func New(maxReverts int) *Budget {
	b := &Budget{maxReverts: maxReverts, nowFn: time.Now}
	b.dayStart = utcMidnight(b.nowFn())
	b.publish()
	return b
}

func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// rolloverLocked resets the counter if a new UTC day has begun. Caller
// must hold b.mu.
func (b *Budget) rolloverLocked() {
	now := utcMidnight(b.nowFn())
	if now.After(b.dayStart) {
		b.dayStart = now
		b.revertCount = 0
	}
}

// CanExecuteOptimistic reports whether today's revert count is still
// under the cap.
func (b *Budget) CanExecuteOptimistic() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()
	return b.revertCount < b.maxReverts
}

// RecordRevert increments today's revert count.
func (b *Budget) RecordRevert() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()
	b.revertCount++
	b.publishLocked()
}

// RecordSuccess is a no-op for the budget itself; kept so callers have
// a single symmetric reporting surface for both outcomes.
func (b *Budget) RecordSuccess() {}

// Remaining returns how many reverts are left before the cap trips.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()
	r := b.maxReverts - b.revertCount
	if r < 0 {
		return 0
	}
	return r
}

func (b *Budget) publishLocked() {
	r := b.maxReverts - b.revertCount
	if r < 0 {
		r = 0
	}
	metrics.ReversionBudgetRemaining.Set(float64(r))
}

func (b *Budget) publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked()
}
