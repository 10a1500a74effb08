package borrower

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryAddAndGet(t *testing.T) {
	repo := NewMemoryRepository(10)
	reserve := common.HexToAddress("0x1")
	user := common.HexToAddress("0xaa")

	require.NoError(t, repo.Add(context.Background(), reserve, user))

	out, err := repo.GetBorrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.Contains(t, out, user)
}

func TestMemoryRepositoryRemove(t *testing.T) {
	repo := NewMemoryRepository(10)
	reserve := common.HexToAddress("0x1")
	user := common.HexToAddress("0xaa")

	require.NoError(t, repo.Add(context.Background(), reserve, user))
	require.NoError(t, repo.Remove(context.Background(), reserve, user))

	out, err := repo.GetBorrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.NotContains(t, out, user)
}

func TestMemoryRepositoryUnknownReserveReturnsEmpty(t *testing.T) {
	repo := NewMemoryRepository(10)
	out, err := repo.GetBorrowers(context.Background(), common.HexToAddress("0x99"), 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryRepositoryLimitCapsResult(t *testing.T) {
	repo := NewMemoryRepository(10)
	reserve := common.HexToAddress("0x1")
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Add(context.Background(), reserve, common.BigToAddress(big.NewInt(int64(i)))))
	}

	out, err := repo.GetBorrowers(context.Background(), reserve, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMemoryRepositoryEvictsBeyondMaxPerReserve(t *testing.T) {
	repo := NewMemoryRepository(2)
	reserve := common.HexToAddress("0x1")
	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.Add(context.Background(), reserve, common.BigToAddress(big.NewInt(int64(i)))))
	}

	out, err := repo.GetBorrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMemoryRepositoryRemoveOnUnknownReserveIsNoop(t *testing.T) {
	repo := NewMemoryRepository(10)
	err := repo.Remove(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0xaa"))
	assert.NoError(t, err)
}
