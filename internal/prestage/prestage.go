// Package prestage implements the Pre-Staging Engine (C9): maintains a
// capped pool of PreStagedCandidate records for users near liquidation,
// referencing a current calldata template, and decides whether a fresh
// HF reading should fire an optimistic execution.
package prestage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/avalnetsec/liquidator/internal/template"
)

// Candidate is a pre-staged liquidation opportunity.
type Candidate struct {
	User          common.Address
	Template      template.Key
	ProjectedHF   *uint256.Int
	DebtUSD       *uint256.Int
	PreparedBlock uint64
}

// Engine holds the bounded candidate pool.
type Engine struct {
	maxPrestaged int
	staleBlocks  uint64
	minDebtUSD   *uint256.Int

	candidates map[common.Address]*Candidate
}

// New builds an Engine capped at maxPrestaged candidates, evicting
// stale entries after staleBlocks, and requiring at least minDebtUSD
// of debt to stage a candidate at all.
func New(maxPrestaged int, staleBlocks uint64, minDebtUSD *uint256.Int) *Engine {
	return &Engine{
		maxPrestaged: maxPrestaged,
		staleBlocks:  staleBlocks,
		minDebtUSD:   minDebtUSD,
		candidates:   make(map[common.Address]*Candidate),
	}
}

// Consider offers a candidate for staging. It is accepted if the pool
// has room, or if it is at cap and its projected HF is lower (more
// dangerous) than the pool's current highest (safest) entry, which is
// evicted to make room.
func (e *Engine) Consider(c Candidate) bool {
	if c.DebtUSD == nil || c.DebtUSD.Lt(e.minDebtUSD) {
		return false
	}
	if _, exists := e.candidates[c.User]; exists {
		e.candidates[c.User] = &c
		return true
	}
	if len(e.candidates) < e.maxPrestaged {
		e.candidates[c.User] = &c
		return true
	}

	victim, victimHF := e.highestProjectedHF()
	if victimHF == nil || !c.ProjectedHF.Lt(victimHF) {
		return false
	}
	delete(e.candidates, victim)
	e.candidates[c.User] = &c
	return true
}

func (e *Engine) highestProjectedHF() (common.Address, *uint256.Int) {
	var victim common.Address
	var victimHF *uint256.Int
	for u, c := range e.candidates {
		if victimHF == nil || c.ProjectedHF.Gt(victimHF) {
			victim = u
			victimHF = c.ProjectedHF
		}
	}
	return victim, victimHF
}

// EvictStale drops every candidate prepared more than staleBlocks
// behind currentBlock.
func (e *Engine) EvictStale(currentBlock uint64) []common.Address {
	var evicted []common.Address
	for u, c := range e.candidates {
		if currentBlock > c.PreparedBlock && currentBlock-c.PreparedBlock > e.staleBlocks {
			delete(e.candidates, u)
			evicted = append(evicted, u)
		}
	}
	return evicted
}

// Remove drops a candidate, used once it has been dispatched or its
// user has recovered above the prestage threshold.
func (e *Engine) Remove(user common.Address) {
	delete(e.candidates, user)
}

// Get returns the candidate for user, if staged.
func (e *Engine) Get(user common.Address) (*Candidate, bool) {
	c, ok := e.candidates[user]
	return c, ok
}

// Len reports the current pool size.
func (e *Engine) Len() int { return len(e.candidates) }

// Decision is the optimistic-execute verdict for a fresh HF reading.
type Decision int

const (
	DecisionDefer Decision = iota
	DecisionExecute
)

// Decide implements §4.9's optimistic-execute rule: execute outright
// below execThreshold, or execute within the epsilon band if the
// staged candidate's own projection already crossed the threshold.
func Decide(freshHF, execThreshold, epsilon *uint256.Int, candidateProjectedHF *uint256.Int) Decision {
	if freshHF.Lt(execThreshold) {
		return DecisionExecute
	}
	band := new(uint256.Int).Add(execThreshold, epsilon)
	if freshHF.Lt(band) && candidateProjectedHF != nil && candidateProjectedHF.Lt(execThreshold) {
		return DecisionExecute
	}
	return DecisionDefer
}
