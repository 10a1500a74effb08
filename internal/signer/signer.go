// Package signer implements the Signer Pool (C13): N independent
// private keys, each with its own monotonic nonce, leased out by
// least-in-flight-count with last-used tiebreak. Grounded on the
// keyed-transactor pattern in other_examples' liquidatoor.go, widened
// from a single key to a pool.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// signerState is one key's live accounting.
type signerState struct {
	address    common.Address
	privateKey *ecdsa.PrivateKey
	txOpts     *bind.TransactOpts

	inFlight   int
	nextNonce  uint64
	lastTxAtMs int64
}

// Pool is the signer pool.
type Pool struct {
	mu      sync.Mutex
	chainID *big.Int
	signers []*signerState
}

// New builds a Pool from raw private keys and the chain ID to sign
// for, seeding each signer's nonce from startNonces (callers fetch
// this per-key via PendingNonceAt before constructing the pool).
func New(chainID *big.Int, keys []*ecdsa.PrivateKey, startNonces []uint64) (*Pool, error) {
	if len(keys) != len(startNonces) {
		return nil, fmt.Errorf("signer: keys/nonces length mismatch")
	}
	p := &Pool{chainID: chainID}
	for i, key := range keys {
		opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("signer: transactor for key %d: %w", i, err)
		}
		p.signers = append(p.signers, &signerState{
			address:    crypto.PubkeyToAddress(key.PublicKey),
			privateKey: key,
			txOpts:     opts,
			nextNonce:  startNonces[i],
		})
	}
	return p, nil
}

// Lease is a held signer slot plus the nonce it committed to use.
type Lease struct {
	pool    *Pool
	signer  *signerState
	Address common.Address
	Nonce   uint64
}

// Acquire picks the signer with the smallest in-flight count, ties
// broken by lowest last_tx_at_ms, increments its in-flight count, and
// commits its next nonce to the returned Lease.
func (p *Pool) Acquire(nowMs int64) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.signers) == 0 {
		return nil, fmt.Errorf("signer: pool is empty")
	}
	best := p.signers[0]
	for _, s := range p.signers[1:] {
		if s.inFlight < best.inFlight || (s.inFlight == best.inFlight && s.lastTxAtMs < best.lastTxAtMs) {
			best = s
		}
	}
	best.inFlight++
	nonce := best.nextNonce
	best.nextNonce++
	best.lastTxAtMs = nowMs

	return &Lease{pool: p, signer: best, Address: best.address, Nonce: nonce}, nil
}

// SignTx signs tx with the lease's key, against the pool's chain ID.
func (l *Lease) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	s := types.LatestSignerForChainID(l.pool.chainID)
	signed, err := types.SignTx(tx, s, l.signer.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: sign tx: %w", err)
	}
	return signed, nil
}

// Release drops the lease's in-flight count. Call on broadcast
// settling, success or failure.
func (l *Lease) Release() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if l.signer.inFlight > 0 {
		l.signer.inFlight--
	}
}

// RollbackNonce reverts the signer's next_nonce by one. Only valid
// when every configured RPC returned a definitive "already known,
// nonce too high" for this broadcast.
func (l *Lease) RollbackNonce() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if l.signer.nextNonce > 0 {
		l.signer.nextNonce--
	}
}
