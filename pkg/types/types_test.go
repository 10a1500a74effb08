package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestReserveValidateAcceptsWellOrdered(t *testing.T) {
	r := Reserve{LTVBp: 8000, LiquidationThresholdBp: 8500}
	assert.NoError(t, r.Validate())
}

func TestReserveValidateRejectsThresholdOverMax(t *testing.T) {
	r := Reserve{LTVBp: 8000, LiquidationThresholdBp: 10001}
	assert.Error(t, r.Validate())
}

func TestReserveValidateRejectsLTVAboveThreshold(t *testing.T) {
	r := Reserve{LTVBp: 9000, LiquidationThresholdBp: 8500}
	assert.Error(t, r.Validate())
}

func TestUserSnapshotLiquidatableNoDebtIsFalse(t *testing.T) {
	s := UserSnapshot{NoDebt: true, HealthFactor: uint256.NewInt(1)}
	assert.False(t, s.Liquidatable())
}

func TestUserSnapshotLiquidatableZeroDebtIsFalse(t *testing.T) {
	s := UserSnapshot{TotalDebtBase: uint256.NewInt(0), HealthFactor: uint256.NewInt(1)}
	assert.False(t, s.Liquidatable())
}

func TestUserSnapshotLiquidatableBelowOneIsTrue(t *testing.T) {
	s := UserSnapshot{
		TotalDebtBase: uint256.NewInt(100),
		HealthFactor:  uint256.NewInt(999_999_999_999_999_999),
	}
	assert.True(t, s.Liquidatable())
}

func TestUserSnapshotLiquidatableAtOrAboveOneIsFalse(t *testing.T) {
	s := UserSnapshot{
		TotalDebtBase: uint256.NewInt(100),
		HealthFactor:  uint256.NewInt(1_000_000_000_000_000_000),
	}
	assert.False(t, s.Liquidatable())
}

func TestOracleSourceString(t *testing.T) {
	assert.Equal(t, "primary", SourcePrimary.String())
	assert.Equal(t, "fallback", SourceFallback.String())
	assert.Equal(t, "stub", SourceStub.String())
}

func TestSkipReasonString(t *testing.T) {
	assert.Equal(t, "", SkipNone.String())
	assert.Equal(t, "min_debt", SkipMinDebt.String())
	assert.Equal(t, "min_profit", SkipMinProfit.String())
	assert.Equal(t, "slippage", SkipSlippage.String())
	assert.Equal(t, "prefund", SkipPrefund.String())
	assert.Equal(t, "price_stale", SkipPriceStale.String())
	assert.Equal(t, "callstatic_fail", SkipCallStaticFail.String())
	assert.Equal(t, "dust", SkipDust.String())
	assert.Equal(t, "unknown", SkipUnknown.String())
}

func TestDecisionActionString(t *testing.T) {
	assert.Equal(t, "attempt", ActionAttempt.String())
	assert.Equal(t, "skip", ActionSkip.String())
}

func TestDirtyReasonString(t *testing.T) {
	cases := map[DirtyReason]string{
		ReasonBorrow:                "borrow",
		ReasonRepay:                 "repay",
		ReasonSupply:                "supply",
		ReasonWithdraw:              "withdraw",
		ReasonTransfer:              "transfer",
		ReasonPrice:                 "price",
		ReasonLiquidationSideEffect: "liquidation_side_effect",
		DirtyReason(99):             "unknown",
	}
	for reason, want := range cases {
		assert.Equal(t, want, reason.String())
	}
}

func TestDecisionTraceCarriesFields(t *testing.T) {
	user := common.HexToAddress("0x1")
	tr := DecisionTrace{User: user, Action: ActionSkip, SkipReason: SkipDust}
	assert.Equal(t, user, tr.User)
	assert.Equal(t, SkipDust, tr.SkipReason)
}
