// Package watchtier implements the Watch Tiers (C4): HotSet, WarmSet,
// and a read-only LowHF tracker, each a bounded set of addresses with
// a single shared user_table off to the side (SPEC_FULL §9 "arena +
// index for watch tiers" — tiers hold addresses, not owned structs).
package watchtier

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Tier names a watch tier.
type Tier int

const (
	TierNone Tier = iota
	TierHot
	TierWarm
)

// UserEntry is the shared per-user detail row (the "arena").
type UserEntry struct {
	Address      common.Address
	LastHF       *uint256.Int
	HasHF        bool
	LastCheckMs  int64
	TouchedAtMs  int64
	Tier         Tier
}

// Tiers owns HotSet, WarmSet, a LowHF observability view, and the
// shared user table.
type Tiers struct {
	mu sync.Mutex

	hotMaxBps  uint32
	warmMaxBps uint32
	maxHot     int
	maxWarm    int

	users map[common.Address]*UserEntry
	hot   map[common.Address]struct{}
	warm  map[common.Address]struct{}
}

// New builds Tiers with the given HF-band thresholds (bps, e.g. 10100
// for hot_max=1.01) and size caps.
func New(hotMaxBps, warmMaxBps uint32, maxHot, maxWarm int) *Tiers {
	return &Tiers{
		hotMaxBps:  hotMaxBps,
		warmMaxBps: warmMaxBps,
		maxHot:     maxHot,
		maxWarm:    maxWarm,
		users:      make(map[common.Address]*UserEntry),
		hot:        make(map[common.Address]struct{}),
		warm:       make(map[common.Address]struct{}),
	}
}

// Observe records a fresh HF reading and promotes/demotes the user
// between tiers accordingly. nowMs is the caller's clock so tests can
// be deterministic.
func (t *Tiers) Observe(user common.Address, hf *uint256.Int, nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hfBps := bpsOf(hf)
	target := t.classify(hfBps)

	entry := t.users[user]
	if entry == nil {
		if target == TierNone {
			// Healthy user with no existing tier membership: nothing to
			// track. Adding it here would never get cleaned up, since
			// move()'s no-op guard (entry.Tier == target) fires on the
			// very first call for a zero-value TierNone entry.
			return
		}
		entry = &UserEntry{Address: user}
		t.users[user] = entry
	}
	entry.LastHF = hf
	entry.HasHF = true
	entry.LastCheckMs = nowMs
	entry.TouchedAtMs = nowMs

	t.move(entry, target)
}

// Touch records activity (a dirty-set mark) without a fresh HF
// reading, updating recency for eviction purposes only.
func (t *Tiers) Touch(user common.Address, nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.users[user]
	if entry == nil {
		entry = &UserEntry{Address: user}
		t.users[user] = entry
	}
	entry.TouchedAtMs = nowMs
}

func (t *Tiers) classify(hfBps uint32) Tier {
	switch {
	case hfBps <= t.hotMaxBps:
		return TierHot
	case hfBps <= t.warmMaxBps:
		return TierWarm
	default:
		return TierNone
	}
}

// move transitions entry to target, evicting the farthest-from-danger
// (highest HF) member of the target tier if it is already at cap.
func (t *Tiers) move(entry *UserEntry, target Tier) {
	if entry.Tier == target {
		return
	}
	delete(t.hot, entry.Address)
	delete(t.warm, entry.Address)

	switch target {
	case TierHot:
		t.evictIfFull(t.hot, t.maxHot)
		t.hot[entry.Address] = struct{}{}
	case TierWarm:
		t.evictIfFull(t.warm, t.maxWarm)
		t.warm[entry.Address] = struct{}{}
	}
	entry.Tier = target
	if target == TierNone {
		delete(t.users, entry.Address)
	}
}

// evictIfFull removes the member with the highest HF (farthest from
// danger) from set if it is already at cap.
func (t *Tiers) evictIfFull(set map[common.Address]struct{}, cap int) {
	if cap <= 0 || len(set) < cap {
		return
	}
	var victim common.Address
	var victimHF *uint256.Int
	for a := range set {
		e := t.users[a]
		if e == nil || !e.HasHF {
			continue
		}
		if victimHF == nil || e.LastHF.Gt(victimHF) {
			victim = a
			victimHF = e.LastHF
		}
	}
	if victimHF != nil {
		delete(set, victim)
		if e := t.users[victim]; e != nil {
			e.Tier = TierNone
			delete(t.users, victim)
		}
	}
}

// Hot returns a snapshot of HotSet addresses.
func (t *Tiers) Hot() []common.Address { return t.snapshot(t.hot) }

// Warm returns a snapshot of WarmSet addresses.
func (t *Tiers) Warm() []common.Address { return t.snapshot(t.warm) }

func (t *Tiers) snapshot(set map[common.Address]struct{}) []common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// LowHF returns the n worst (lowest HF, most at risk of liquidation)
// entries across both tiers, for diagnostics only.
func (t *Tiers) LowHF(n int) []UserEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]UserEntry, 0, len(t.users))
	for _, e := range t.users {
		if e.HasHF {
			all = append(all, *e)
		}
	}
	sortByHFAsc(all)
	if n < len(all) {
		all = all[:n]
	}
	return all
}

func sortByHFAsc(entries []UserEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].LastHF.Gt(entries[j].LastHF); j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func bpsOf(hf *uint256.Int) uint32 {
	scaled := new(uint256.Int).Div(hf, uint256.NewInt(100_000_000_000_000))
	return uint32(scaled.Uint64())
}
