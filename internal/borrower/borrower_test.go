package borrower

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex() *Index {
	return New(NewMemoryRepository(100), zerolog.Nop())
}

func TestApplyTransferMintAddsTo(t *testing.T) {
	idx := newTestIndex()
	reserve := common.HexToAddress("0x1")
	to := common.HexToAddress("0xaa")

	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, zeroAddr, to))

	out, err := idx.Borrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.Contains(t, out, to)
}

func TestApplyTransferBurnRemovesFrom(t *testing.T) {
	idx := newTestIndex()
	reserve := common.HexToAddress("0x1")
	user := common.HexToAddress("0xaa")

	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, zeroAddr, user))
	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, user, zeroAddr))

	out, err := idx.Borrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.NotContains(t, out, user)
}

func TestApplyTransferUserToUserAddsToKeepsFrom(t *testing.T) {
	idx := newTestIndex()
	reserve := common.HexToAddress("0x1")
	from := common.HexToAddress("0xaa")
	to := common.HexToAddress("0xbb")

	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, zeroAddr, from))
	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, from, to))

	out, err := idx.Borrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.Contains(t, out, from)
	assert.Contains(t, out, to)
}

func TestBackfillAppliesEventsInOrder(t *testing.T) {
	idx := newTestIndex()
	reserve := common.HexToAddress("0x1")
	user := common.HexToAddress("0xaa")

	events := []TransferEvent{
		{Reserve: reserve, From: zeroAddr, To: user, Block: 1},
		{Reserve: reserve, From: user, To: zeroAddr, Block: 2},
	}
	require.NoError(t, idx.Backfill(context.Background(), events))

	out, err := idx.Borrowers(context.Background(), reserve, 0)
	require.NoError(t, err)
	assert.NotContains(t, out, user)
}

func TestBorrowersRespectsLimit(t *testing.T) {
	idx := newTestIndex()
	reserve := common.HexToAddress("0x1")
	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, zeroAddr, common.HexToAddress("0x1")))
	require.NoError(t, idx.ApplyTransfer(context.Background(), reserve, zeroAddr, common.HexToAddress("0x2")))

	out, err := idx.Borrowers(context.Background(), reserve, 1)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
