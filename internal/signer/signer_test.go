package signer

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
	}
	return keys
}

func TestNewRejectsMismatchedLengths(t *testing.T) {
	keys := genKeys(t, 2)
	_, err := New(big.NewInt(1), keys, []uint64{0})
	assert.Error(t, err)
}

func TestAcquireLeastInFlight(t *testing.T) {
	keys := genKeys(t, 2)
	pool, err := New(big.NewInt(1), keys, []uint64{0, 0})
	require.NoError(t, err)

	l1, err := pool.Acquire(1)
	require.NoError(t, err)

	l2, err := pool.Acquire(2)
	require.NoError(t, err)

	// both signers now have 1 in-flight each, using different addresses
	assert.NotEqual(t, l1.Address, l2.Address)

	l1.Release()

	// signer behind l1 now has 0 in-flight and should be picked again
	l3, err := pool.Acquire(3)
	require.NoError(t, err)
	assert.Equal(t, l1.Address, l3.Address)
}

func TestAcquireAssignsIncrementingNonces(t *testing.T) {
	keys := genKeys(t, 1)
	pool, err := New(big.NewInt(1), keys, []uint64{5})
	require.NoError(t, err)

	l1, err := pool.Acquire(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), l1.Nonce)
	l1.Release()

	l2, err := pool.Acquire(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), l2.Nonce)
}

func TestRollbackNonceReusesSlot(t *testing.T) {
	keys := genKeys(t, 1)
	pool, err := New(big.NewInt(1), keys, []uint64{5})
	require.NoError(t, err)

	l1, err := pool.Acquire(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), l1.Nonce)
	l1.RollbackNonce()
	l1.Release()

	l2, err := pool.Acquire(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), l2.Nonce)
}

func TestAcquireOnEmptyPoolErrors(t *testing.T) {
	pool, err := New(big.NewInt(1), nil, nil)
	require.NoError(t, err)
	_, err = pool.Acquire(1)
	assert.Error(t, err)
}

func TestSignTxProducesValidSignature(t *testing.T) {
	keys := genKeys(t, 1)
	pool, err := New(big.NewInt(1), keys, []uint64{0})
	require.NoError(t, err)

	lease, err := pool.Acquire(1)
	require.NoError(t, err)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    lease.Nonce,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		To:       &lease.Address,
		Value:    big.NewInt(0),
	})

	signed, err := lease.SignTx(tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), signed)
	require.NoError(t, err)
	assert.Equal(t, lease.Address, sender)
}
