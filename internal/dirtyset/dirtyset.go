// Package dirtyset implements the Dirty Set (C5): a mark/consume queue
// of addresses that need a fresh health-factor check, with a per-entry
// TTL so a mark that never gets drained eventually falls off instead of
// growing the set forever.
package dirtyset

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Reason records why an address was marked, for callers that want to
// log it. Its values are a separate, smaller set than
// pkg/types.DirtyReason and do not line up with it.
type Reason int

const (
	ReasonTransfer Reason = iota
	ReasonPriceMove
	ReasonReserveConfig
	ReasonManual
)

type entry struct {
	reason    Reason
	expiresAt time.Time
}

// Set is a mark/consume dirty set with TTL-based expiry.
type Set struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[common.Address]entry
	nowFn   func() time.Time
}

// New builds a Set whose marks expire after ttl.
func New(ttl time.Duration) *Set {
	return &Set{
		ttl:     ttl,
		entries: make(map[common.Address]entry),
		nowFn:   time.Now,
	}
}

// Mark adds user to the set (or refreshes its TTL if already present).
func (s *Set) Mark(user common.Address, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[user] = entry{reason: reason, expiresAt: s.nowFn().Add(s.ttl)}
}

// MarkBulk marks every address in users with the same reason.
func (s *Set) MarkBulk(users []common.Address, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := s.nowFn().Add(s.ttl)
	for _, u := range users {
		s.entries[u] = entry{reason: reason, expiresAt: exp}
	}
}

// Consume drains up to max non-expired addresses from the set,
// removing them. A max<=0 drains everything.
func (s *Set) Consume(max int) []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	out := make([]common.Address, 0, len(s.entries))
	for addr, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, addr)
			continue
		}
		if max > 0 && len(out) >= max {
			continue
		}
		out = append(out, addr)
		delete(s.entries, addr)
	}
	return out
}

// Len reports the current size, including entries that have expired
// but have not yet been swept by Consume or Prune.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Contains reports whether user is currently marked (and not expired).
func (s *Set) Contains(user common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[user]
	if !ok {
		return false
	}
	return !s.nowFn().After(e.expiresAt)
}

// Prune removes all expired entries without returning them. Callers
// that only poll Len() periodically use this to keep it accurate.
func (s *Set) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	for addr, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, addr)
		}
	}
}
