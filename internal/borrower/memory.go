package borrower

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryRepository is the default in-memory Repository backend. Each
// reserve gets its own bounded LRU set; recency eviction happens for
// free via the LRU's own Add/Get ordering, matching SPEC_FULL's
// "cap max_users_per_reserve; eviction policy is recency".
type MemoryRepository struct {
	mu            sync.Mutex
	maxPerReserve int
	sets          map[common.Address]*lru.Cache[common.Address, struct{}]
}

// NewMemoryRepository builds an in-memory backend bounded at
// maxPerReserve addresses per reserve.
func NewMemoryRepository(maxPerReserve int) *MemoryRepository {
	return &MemoryRepository{
		maxPerReserve: maxPerReserve,
		sets:          make(map[common.Address]*lru.Cache[common.Address, struct{}]),
	}
}

func (m *MemoryRepository) setFor(reserve common.Address) *lru.Cache[common.Address, struct{}] {
	if c, ok := m.sets[reserve]; ok {
		return c
	}
	size := m.maxPerReserve
	if size <= 0 {
		size = 100_000
	}
	c, _ := lru.New[common.Address, struct{}](size)
	m.sets[reserve] = c
	return c
}

func (m *MemoryRepository) Add(_ context.Context, reserve, user common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setFor(reserve).Add(user, struct{}{})
	return nil
}

func (m *MemoryRepository) Remove(_ context.Context, reserve, user common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sets[reserve]; ok {
		c.Remove(user)
	}
	return nil
}

func (m *MemoryRepository) GetBorrowers(_ context.Context, reserve common.Address, limit int) ([]common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sets[reserve]
	if !ok {
		return nil, nil
	}
	keys := c.Keys()
	if limit > 0 && limit < len(keys) {
		keys = keys[len(keys)-limit:]
	}
	return keys, nil
}
