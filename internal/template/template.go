// Package template implements the Template Cache (C8): pre-built
// liquidationCall calldata skeletons with O(1) patch offsets for the
// user address and repay amount words, keyed by
// (debt_token, collateral_token, mode).
package template

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
)

// Mode distinguishes close-factor variants that change the calldata
// shape (e.g. whether a receiveAToken flag trails the call).
type Mode uint8

const (
	ModeDefault Mode = iota
	ModeReceiveAToken
)

// Key identifies one cached template.
type Key struct {
	Debt       common.Address
	Collateral common.Address
	Mode       Mode
}

// Entry is a pre-built calldata skeleton plus patch offsets, the index
// it was built against, and the block it was built at (for staleness
// bookkeeping by the caller).
type Entry struct {
	Skeleton     []byte
	UserOffset   int // offset of the 32-byte user word
	RepayOffset  int // offset of the 32-byte repay-amount word
	BuiltIndex   *uint256.Int
	BuiltAtBlock uint64
}

// Patch writes user and repayWei into a private copy of e's skeleton
// and returns it. The skeleton itself is never mutated so concurrent
// callers patching the same cached Entry cannot race.
func (e *Entry) Patch(user common.Address, repayWei *uint256.Int) []byte {
	out := make([]byte, len(e.Skeleton))
	copy(out, e.Skeleton)

	copy(out[e.UserOffset:e.UserOffset+12], make([]byte, 12))
	copy(out[e.UserOffset+12:e.UserOffset+32], user.Bytes())

	repayBytes := repayWei.Bytes32()
	copy(out[e.RepayOffset:e.RepayOffset+32], repayBytes[:])

	return out
}

// Cache is the LRU-bounded template store.
type Cache struct {
	mu              sync.Mutex
	entries         *lru.Cache[Key, *Entry]
	refreshIndexBps uint32
	selector        [4]byte // liquidationCall 4-byte selector
}

// New builds a Cache bounded at maxEntries, refreshing a template once
// its stored debt index has drifted by more than refreshIndexBps/10000
// from the current on-chain index.
func New(maxEntries int, refreshIndexBps uint32, selector [4]byte) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	lc, err := lru.New[Key, *Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("template: new lru: %w", err)
	}
	return &Cache{entries: lc, refreshIndexBps: refreshIndexBps, selector: selector}, nil
}

// Get returns the cached entry for key, or nil if absent or stale
// relative to currentIndex.
func (c *Cache) Get(key Key, currentIndex *uint256.Int) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok {
		return nil
	}
	if c.isStale(e, currentIndex) {
		c.entries.Remove(key)
		return nil
	}
	return e
}

func (c *Cache) isStale(e *Entry, currentIndex *uint256.Int) bool {
	if e.BuiltIndex == nil || currentIndex == nil || e.BuiltIndex.IsZero() {
		return false
	}
	var diff uint256.Int
	if currentIndex.Gt(e.BuiltIndex) {
		diff.Sub(currentIndex, e.BuiltIndex)
	} else {
		diff.Sub(e.BuiltIndex, currentIndex)
	}
	bps := new(uint256.Int).Mul(&diff, uint256.NewInt(10000))
	bps.Div(bps, e.BuiltIndex)
	return bps.Uint64() > uint64(c.refreshIndexBps)
}

// Build constructs a fresh skeleton for key and stores it, evicting the
// LRU victim if the cache is at capacity.
func (c *Cache) Build(key Key, index *uint256.Int, atBlock uint64) *Entry {
	// selector (4) + collateralAsset (32) + debtAsset (32) + user (32) +
	// debtToCover (32) + receiveAToken (32), liquidationCall's argument order
	skeleton := make([]byte, 4+32*5)
	copy(skeleton[0:4], c.selector[:])
	copy(skeleton[4+12:4+32], key.Collateral.Bytes())
	copy(skeleton[4+32+12:4+32*2], key.Debt.Bytes())
	// user and debtToCover words left zero, patched per-call
	e := &Entry{
		Skeleton:     skeleton,
		UserOffset:   4 + 32*2,
		RepayOffset:  4 + 32*3,
		BuiltIndex:   cloneIndex(index),
		BuiltAtBlock: atBlock,
	}
	if key.Mode == ModeReceiveAToken {
		binary.BigEndian.PutUint64(skeleton[4+32*4+24:4+32*5], 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, e)
	return e
}

func cloneIndex(i *uint256.Int) *uint256.Int {
	if i == nil {
		return nil
	}
	return new(uint256.Int).Set(i)
}

// InvalidateAsset drops every cached template referencing asset as
// either its debt or collateral leg, on a reserve-config change event.
func (c *Cache) InvalidateAsset(asset common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if key.Debt == asset || key.Collateral == asset {
			c.entries.Remove(key)
		}
	}
}
