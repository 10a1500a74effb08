// Package types holds the data model shared across every component:
// Reserve metadata, UserSnapshot, the tagged-variant results, and the
// decision trace record. Kept dependency-free (only go-ethereum/common
// and holiman/uint256) so every component package can import it
// without a cycle, mirroring how the teacher's blackholedex/types.go
// held every wire struct used by blackhole.go.
package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Reserve is immutable-ish per-asset metadata (C1).
type Reserve struct {
	Asset                  common.Address
	Symbol                 string
	Decimals               uint8
	VariableDebtToken      common.Address
	LiquidationThresholdBp uint32
	LiquidationBonusBp     uint32
	LTVBp                  uint32
}

// Validate enforces ltv_bps <= liquidation_threshold_bps <= 10_000.
func (r Reserve) Validate() error {
	if r.LiquidationThresholdBp > 10_000 {
		return errInvariant("liquidation_threshold_bps exceeds 10000")
	}
	if r.LTVBp > r.LiquidationThresholdBp {
		return errInvariant("ltv_bps exceeds liquidation_threshold_bps")
	}
	return nil
}

type errInvariant string

func (e errInvariant) Error() string { return "reserve invariant violated: " + string(e) }

// UserSnapshot is the authoritative, transient result of a
// getUserAccountData verification call (C7).
type UserSnapshot struct {
	User                   common.Address
	Block                  uint64
	TotalCollateralBase    *uint256.Int
	TotalDebtBase          *uint256.Int
	LiquidationThreshold   uint32
	LTV                    uint32
	HealthFactor           *uint256.Int // 18 fractional decimals; meaningless if NoDebt
	NoDebt                 bool         // true ⇒ HF is logically +∞, short-circuit before division
	FetchedAtMs            int64
}

// Liquidatable reports HF < 1.0, short-circuiting on the no-debt case
// before any comparison is made — the "debt==0 ⇒ not liquidatable"
// invariant must be checked before touching HealthFactor.
func (s UserSnapshot) Liquidatable() bool {
	if s.NoDebt || s.TotalDebtBase == nil || s.TotalDebtBase.IsZero() {
		return false
	}
	return s.HealthFactor != nil && s.HealthFactor.Lt(oneWad)
}

var oneWad = uint256.NewInt(1_000_000_000_000_000_000)

// VerifyOutcome tags the three possible results of a single-user
// verify call — a sum type, not an interface, per SPEC_FULL §10.3.
type VerifyOutcome int

const (
	VerifyOK VerifyOutcome = iota
	VerifyZeroDebt
	VerifyCallFailed
)

// VerifyResult wraps a single user's verification outcome.
type VerifyResult struct {
	Outcome  VerifyOutcome
	Snapshot UserSnapshot
	Err      error
}

// OracleSource tags where a price reading came from.
type OracleSource int

const (
	SourcePrimary OracleSource = iota
	SourceFallback
	SourceStub
)

func (s OracleSource) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceFallback:
		return "fallback"
	default:
		return "stub"
	}
}

// OracleResult is the tagged result of a price read.
type OracleResult struct {
	PriceUSD *uint256.Int // 8-decimal fixed point
	Source   OracleSource
}

// SkipReason tags why the executor planner declined to act (C12).
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipMinDebt
	SkipMinProfit
	SkipSlippage
	SkipPrefund
	SkipPriceStale
	SkipCallStaticFail
	SkipDust
	SkipUnknown
)

func (s SkipReason) String() string {
	switch s {
	case SkipNone:
		return ""
	case SkipMinDebt:
		return "min_debt"
	case SkipMinProfit:
		return "min_profit"
	case SkipSlippage:
		return "slippage"
	case SkipPrefund:
		return "prefund"
	case SkipPriceStale:
		return "price_stale"
	case SkipCallStaticFail:
		return "callstatic_fail"
	case SkipDust:
		return "dust"
	default:
		return "unknown"
	}
}

// ActionablePlan is the output of a successful executor-planner pass.
type ActionablePlan struct {
	User             common.Address
	DebtAsset        common.Address
	CollateralAsset  common.Address
	RepayWei         *uint256.Int
	SeizedWei        *uint256.Int
	MinOut           *uint256.Int
	CloseFactorFull  bool
	RepayUSD         *uint256.Int
	SeizedUSD        *uint256.Int
	EstGasUSD        *uint256.Int
}

// DecisionAction tags whether a scheduler pass attempted a broadcast.
type DecisionAction int

const (
	ActionSkip DecisionAction = iota
	ActionAttempt
)

func (a DecisionAction) String() string {
	if a == ActionAttempt {
		return "attempt"
	}
	return "skip"
}

// DecisionTrace is a single audit record (C15).
type DecisionTrace struct {
	ID           string
	Timestamp    time.Time
	User         common.Address
	DebtAsset    common.Address
	Collateral   common.Address
	HealthFactor *uint256.Int
	Action       DecisionAction
	SkipReason   SkipReason
	PriceSource  OracleSource
	HeadLag      uint64
	AttemptHash  common.Hash
	AttemptMeta  string
}

// DirtyReason tags why an address was marked dirty (C5).
type DirtyReason int

const (
	ReasonBorrow DirtyReason = iota
	ReasonRepay
	ReasonSupply
	ReasonWithdraw
	ReasonTransfer
	ReasonPrice
	ReasonLiquidationSideEffect
)

func (r DirtyReason) String() string {
	switch r {
	case ReasonBorrow:
		return "borrow"
	case ReasonRepay:
		return "repay"
	case ReasonSupply:
		return "supply"
	case ReasonWithdraw:
		return "withdraw"
	case ReasonTransfer:
		return "transfer"
	case ReasonPrice:
		return "price"
	case ReasonLiquidationSideEffect:
		return "liquidation_side_effect"
	default:
		return "unknown"
	}
}

// CloseFactorMode selects the fraction of debt a single liquidation
// call may repay.
type CloseFactorMode int

const (
	CloseFactorFixed50 CloseFactorMode = iota
	CloseFactorFull
)
