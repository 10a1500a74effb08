// Package scheduler implements the Scheduler/Orchestrator (C16): the
// single-threaded, per-block state machine that ties the dirty set,
// watch tiers, verifier, pre-staging engine, and planner together, plus
// the asset-scoped emergency scan (§4.17).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/avalnetsec/liquidator/internal/dirtyset"
	"github.com/avalnetsec/liquidator/internal/ingest"
	"github.com/avalnetsec/liquidator/internal/prestage"
	"github.com/avalnetsec/liquidator/internal/projector"
	"github.com/avalnetsec/liquidator/internal/template"
	"github.com/avalnetsec/liquidator/internal/watchtier"
	pktypes "github.com/avalnetsec/liquidator/pkg/types"
)

// OraclePricer is the subset of internal/oracle.Gateway the scheduler
// needs to sample a fresh collateral price for HF projection.
type OraclePricer interface {
	Price(ctx context.Context, asset common.Address, blockTag *int64) (pktypes.OracleResult, error)
}

// ScanType tags whether an emergency scan covered every exposed user
// or only a head of the set (§4.17).
type ScanType int

const (
	ScanFull ScanType = iota
	ScanPartial
)

// AssetIndex is the inverted asset -> {user} exposure index.
type AssetIndex struct {
	mu      sync.Mutex
	exposed map[common.Address]map[common.Address]struct{}
}

// NewAssetIndex builds an empty inverted index.
func NewAssetIndex() *AssetIndex {
	return &AssetIndex{exposed: make(map[common.Address]map[common.Address]struct{})}
}

// Seed records that user is exposed to asset (from the borrower index
// or a user's reserve list).
func (a *AssetIndex) Seed(asset, user common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.exposed[asset]
	if !ok {
		set = make(map[common.Address]struct{})
		a.exposed[asset] = set
	}
	set[user] = struct{}{}
}

// Remove drops user's exposure to asset, on withdraw/repay-to-zero.
func (a *AssetIndex) Remove(asset, user common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.exposed[asset]; ok {
		delete(set, user)
	}
}

// ExposedUsers returns every user exposed to asset.
func (a *AssetIndex) ExposedUsers(asset common.Address) []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := a.exposed[asset]
	out := make([]common.Address, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}

// Verifier is the subset of internal/verifier.Verifier the scheduler
// depends on.
type Verifier interface {
	BatchVerify(ctx context.Context, users []common.Address, blockTag uint64) ([]pktypes.VerifyResult, error)
}

// Dispatcher hands an actionable plan off to the planner/signer/racer
// pipeline; the scheduler itself stays decision-only.
type Dispatcher interface {
	Dispatch(ctx context.Context, snapshot pktypes.UserSnapshot)
}

// Scheduler is the per-block orchestrator.
type Scheduler struct {
	tiers      *watchtier.Tiers
	dirty      *dirtyset.Set
	prestage   *prestage.Engine
	assetIdx   *AssetIndex
	verifier   Verifier
	dispatcher Dispatcher
	log        zerolog.Logger

	maxUsersFullScan int
	assetHFBandBps   uint32
	cooldown         time.Duration
	verifyBatch      int

	projector  *projector.Projector
	oracleGW   OraclePricer
	execKey    template.Key

	mu          sync.Mutex
	head        uint64
	processed   map[processedKey]struct{}
	cooldownAt  map[common.Address]time.Time
	priceRings  map[common.Address]*projector.Ring
	debtRings   map[common.Address]*projector.Ring
	nowFn       func() time.Time
}

type processedKey struct {
	user   common.Address
	block  uint64
	source string
}

// New builds a Scheduler from its component dependencies. proj and
// execKey drive pre-staging: proj projects next-block HF for users in
// the critical band from rolling collateral-price and debt samples,
// keyed to the single (debt, collateral) market this deployment
// targets; oracleGW supplies the collateral price sample each tick.
// oracleGW may be nil to disable pre-staging entirely (e.g. in tests).
func New(tiers *watchtier.Tiers, dirty *dirtyset.Set, ps *prestage.Engine, assetIdx *AssetIndex, verifier Verifier, dispatcher Dispatcher, log zerolog.Logger, maxUsersFullScan int, assetHFBandBps uint32, cooldown time.Duration, verifyBatch int, proj *projector.Projector, oracleGW OraclePricer, execKey template.Key) *Scheduler {
	return &Scheduler{
		tiers:            tiers,
		dirty:            dirty,
		prestage:         ps,
		assetIdx:         assetIdx,
		verifier:         verifier,
		dispatcher:       dispatcher,
		log:              log.With().Str("component", "scheduler").Logger(),
		maxUsersFullScan: maxUsersFullScan,
		assetHFBandBps:   assetHFBandBps,
		cooldown:         cooldown,
		verifyBatch:      verifyBatch,
		projector:        proj,
		oracleGW:         oracleGW,
		execKey:          execKey,
		processed:        make(map[processedKey]struct{}),
		cooldownAt:       make(map[common.Address]time.Time),
		priceRings:       make(map[common.Address]*projector.Ring),
		debtRings:        make(map[common.Address]*projector.Ring),
		nowFn:            time.Now,
	}
}

// OnNewHead advances HEAD, runs the pre-stage pass, then micro-verifies
// HotSet ∪ dirty-set-consumed users in batches.
func (s *Scheduler) OnNewHead(ctx context.Context, header *types.Header) {
	block := header.Number.Uint64()
	s.mu.Lock()
	s.head = block
	s.mu.Unlock()

	s.prestage.EvictStale(block)

	dirtyUsers := s.dirty.Consume(0)
	candidates := unionAddresses(s.tiers.Hot(), dirtyUsers)
	candidates = s.dedupeForBlock(candidates, block, "head")
	candidates = s.filterCooldown(candidates)

	s.runVerifyBatches(ctx, candidates, block)
}

// OnReserveEvent runs a targeted emergency scan for every reserve in
// the coalesced batch.
func (s *Scheduler) OnReserveEvent(ctx context.Context, batch []ingest.ReserveUpdate) {
	for _, upd := range batch {
		s.emergencyScan(ctx, upd.Reserve, upd.LatestBlock)
	}
}

// OnPriceEvent marks every borrower exposed to asset dirty via the
// inverted index, then runs an emergency scan immediately.
func (s *Scheduler) OnPriceEvent(ctx context.Context, asset common.Address, block uint64) {
	exposed := s.assetIdx.ExposedUsers(asset)
	s.dirty.MarkBulk(exposed, dirtyset.ReasonPriceMove)
	s.emergencyScan(ctx, asset, block)
}

// emergencyScan implements §4.17: only borrowers exposed to asset are
// re-verified; scan type is partial if the exposed set exceeds
// maxUsersFullScan.
func (s *Scheduler) emergencyScan(ctx context.Context, asset common.Address, block uint64) {
	exposed := s.assetIdx.ExposedUsers(asset)
	scanType := ScanFull
	if s.maxUsersFullScan > 0 && len(exposed) > s.maxUsersFullScan {
		scanType = ScanPartial
		exposed = exposed[:s.maxUsersFullScan]
	}

	users := s.dedupeForBlock(exposed, block, "event")
	users = s.filterCooldown(users)

	s.log.Debug().
		Str("asset", asset.Hex()).
		Int("exposed", len(exposed)).
		Str("scan_type", scanType.label()).
		Msg("asset-scoped emergency scan")

	s.runVerifyBatches(ctx, users, block)
}

func (s ScanType) label() string {
	if s == ScanFull {
		return "full"
	}
	return "partial"
}

func (s *Scheduler) runVerifyBatches(ctx context.Context, users []common.Address, block uint64) {
	for start := 0; start < len(users); start += s.verifyBatch {
		end := start + s.verifyBatch
		if end > len(users) {
			end = len(users)
		}
		chunk := users[start:end]
		results, err := s.verifier.BatchVerify(ctx, chunk, block)
		if err != nil {
			s.log.Warn().Err(err).Msg("batch verify failed; skipping this tick for chunk")
			continue
		}
		s.handleResults(ctx, results, block)
	}
}

func (s *Scheduler) handleResults(ctx context.Context, results []pktypes.VerifyResult, block uint64) {
	for _, r := range results {
		if r.Outcome != pktypes.VerifyOK {
			continue
		}
		snap := r.Snapshot
		nowMs := s.nowFn().UnixMilli()
		if snap.HealthFactor != nil {
			s.tiers.Observe(snap.User, snap.HealthFactor, nowMs)
		}
		if !snap.Liquidatable() {
			s.considerPrestage(ctx, snap, block)
			continue
		}
		s.prestage.Remove(snap.User)
		s.markCooldown(snap.User)
		s.dispatcher.Dispatch(ctx, snap)
	}
}

// considerPrestage projects next-block HF for a user the verifier just
// placed in the critical band (1.00-1.03) and offers it to the
// pre-staging pool. Nothing in the scheduler calls prestage.Decide: a
// staged candidate does not trigger an optimistic execution, and only
// a verified liquidatable snapshot is dispatched. Debt growth is sampled from the snapshot's own
// TotalDebtBase series rather than a separate per-reserve index feed,
// since *Base is already the debt leg's common-USD time series the
// projector needs.
func (s *Scheduler) considerPrestage(ctx context.Context, snap pktypes.UserSnapshot, block uint64) {
	if s.projector == nil || s.oracleGW == nil || snap.HealthFactor == nil {
		return
	}
	if !projector.InCriticalBand(snap.HealthFactor) {
		return
	}

	blockTag := int64(block)
	priceResult, err := s.oracleGW.Price(ctx, s.execKey.Collateral, &blockTag)
	if err != nil {
		s.log.Debug().Err(err).Str("user", snap.User.Hex()).Msg("prestage price sample failed")
		return
	}

	s.mu.Lock()
	priceRing, ok := s.priceRings[snap.User]
	if !ok {
		priceRing = s.projector.NewRingBuffer()
		s.priceRings[snap.User] = priceRing
	}
	debtRing, ok := s.debtRings[snap.User]
	if !ok {
		debtRing = s.projector.NewRingBuffer()
		s.debtRings[snap.User] = debtRing
	}
	priceRing.Push(projector.Sample{Value: priceResult.PriceUSD})
	debtRing.Push(projector.Sample{Value: snap.TotalDebtBase})
	s.mu.Unlock()

	proj, ok := projector.Project(snap.HealthFactor, []*projector.Ring{priceRing}, []*projector.Ring{debtRing})
	if !ok {
		return
	}

	debtUSD := snap.TotalDebtBase
	if debtUSD == nil {
		debtUSD = uint256.NewInt(0)
	}
	s.prestage.Consider(prestage.Candidate{
		User:          snap.User,
		Template:      s.execKey,
		ProjectedHF:   proj.ProjectedHF,
		DebtUSD:       debtUSD,
		PreparedBlock: block,
	})
}

func (s *Scheduler) dedupeForBlock(users []common.Address, block uint64, source string) []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Address, 0, len(users))
	for _, u := range users {
		key := processedKey{user: u, block: block, source: source}
		if _, seen := s.processed[key]; seen {
			continue
		}
		s.processed[key] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (s *Scheduler) filterCooldown(users []common.Address) []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	out := make([]common.Address, 0, len(users))
	for _, u := range users {
		if until, ok := s.cooldownAt[u]; ok && now.Before(until) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (s *Scheduler) markCooldown(user common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownAt[user] = s.nowFn().Add(s.cooldown)
}

func unionAddresses(a, b []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(a)+len(b))
	out := make([]common.Address, 0, len(a)+len(b))
	for _, x := range append(append([]common.Address{}, a...), b...) {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
