// Package planner implements the Executor Planner (C12): given a
// liquidatable user's per-reserve debt and collateral breakdown, picks
// the (collateral, debt) pair and repay amount, then runs the min-debt,
// price-availability, dust, and min-profit gates in that order. The
// slippage-bounded minOut is computed for the plan; no gate skips on it.
package planner

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/avalnetsec/liquidator/pkg/types"
)

// Position is one reserve's exposure for a user, in both native wei
// and USD-fixed (BaseUnitScale) terms.
type Position struct {
	Asset    common.Address
	Decimals uint8
	Wei      *uint256.Int
	USD      *uint256.Int
}

// Inputs bundles everything the planner needs for one user.
type Inputs struct {
	User                common.Address
	HealthFactor        *uint256.Int
	TotalDebtUSD         *uint256.Int
	DebtPositions       []Position
	CollateralPositions []Position

	LiquidationBonusBp uint32
	PriceDebtUSD       *uint256.Int // BaseUnitScale (1e8), price of the chosen debt asset
	PriceCollateralUSD *uint256.Int // BaseUnitScale, price of the chosen collateral asset
	EstGasUSD          *uint256.Int

	CloseFactorMode types.CloseFactorMode
	FullCFHFMaxBp   uint32 // e.g. 9500 for HF<=0.95 switches to full
	DustMinUSD      *uint256.Int
	MinDebtUSD      *uint256.Int
	MinProfitUSD    *uint256.Int
	MaxSlippageBp   uint32 // e.g. 50 for 0.5%
}

// Plan runs the full §4.12 decision sequence and returns either an
// ActionablePlan or a SkipReason.
func Plan(in Inputs) (*types.ActionablePlan, types.SkipReason) {
	if in.MinDebtUSD != nil && in.TotalDebtUSD != nil && in.TotalDebtUSD.Lt(in.MinDebtUSD) {
		return nil, types.SkipMinDebt
	}

	debt := highestUSD(in.DebtPositions)
	collateral := highestUSD(in.CollateralPositions)
	if debt == nil || collateral == nil {
		return nil, types.SkipUnknown
	}
	if in.PriceDebtUSD == nil || in.PriceCollateralUSD == nil || in.PriceDebtUSD.IsZero() || in.PriceCollateralUSD.IsZero() {
		return nil, types.SkipPriceStale
	}

	mode := in.CloseFactorMode
	if in.FullCFHFMaxBp > 0 && in.HealthFactor != nil {
		maxHF := bpToWad(in.FullCFHFMaxBp)
		if !in.HealthFactor.Gt(maxHF) {
			mode = types.CloseFactorFull
		}
	}

	repayWei := new(uint256.Int).Set(debt.Wei)
	if mode == types.CloseFactorFixed50 {
		repayWei = new(uint256.Int).Div(debt.Wei, uint256.NewInt(2))
	}

	repayUSD := usdOf(repayWei, debt.Decimals, in.PriceDebtUSD)

	seizedWei, seizedUSD := seizedAmount(repayWei, debt.Decimals, collateral.Decimals, in.PriceDebtUSD, in.PriceCollateralUSD, in.LiquidationBonusBp)

	if dustFails(repayUSD, seizedUSD, in.DustMinUSD) {
		return nil, types.SkipDust
	}

	if in.MinProfitUSD != nil {
		profit := new(uint256.Int)
		if seizedUSD.Gt(repayUSD) {
			profit.Sub(seizedUSD, repayUSD)
		}
		gas := in.EstGasUSD
		if gas == nil {
			gas = uint256.NewInt(0)
		}
		if profit.Lt(gas) {
			return nil, types.SkipMinProfit
		}
		netProfit := new(uint256.Int).Sub(profit, gas)
		if netProfit.Lt(in.MinProfitUSD) {
			return nil, types.SkipMinProfit
		}
	}

	minOut := minOutWithSlippage(seizedUSD, in.MaxSlippageBp, collateral.Decimals, in.PriceCollateralUSD)

	return &types.ActionablePlan{
		User:            in.User,
		DebtAsset:       debt.Asset,
		CollateralAsset: collateral.Asset,
		RepayWei:        repayWei,
		SeizedWei:       seizedWei,
		MinOut:          minOut,
		CloseFactorFull: mode == types.CloseFactorFull,
		RepayUSD:        repayUSD,
		SeizedUSD:       seizedUSD,
		EstGasUSD:       in.EstGasUSD,
	}, types.SkipNone
}

func highestUSD(positions []Position) *Position {
	var best *Position
	for i := range positions {
		p := &positions[i]
		if p.USD == nil {
			continue
		}
		if best == nil || p.USD.Gt(best.USD) {
			best = p
		}
	}
	return best
}

// dustFails implements the AND-semantics dust guard: both legs must be
// under the floor for the candidate to be skipped.
func dustFails(repayUSD, seizedUSD, dustMinUSD *uint256.Int) bool {
	if dustMinUSD == nil {
		return false
	}
	repayDust := repayUSD == nil || repayUSD.Lt(dustMinUSD)
	seizedDust := seizedUSD == nil || seizedUSD.Lt(dustMinUSD)
	return repayDust && seizedDust
}

// seizedAmount computes seized_collateral_wei = repay_wei *
// (1+bonus) * price_debt / price_collateral, scaled for each asset's
// native decimals, and its USD value.
func seizedAmount(repayWei *uint256.Int, debtDecimals, collDecimals uint8, priceDebt, priceColl *uint256.Int, bonusBp uint32) (*uint256.Int, *uint256.Int) {
	bonusFactor := uint256.NewInt(uint64(10_000 + bonusBp))

	numerator := new(uint256.Int).Mul(repayWei, bonusFactor)
	numerator.Mul(numerator, priceDebt)

	denom := new(uint256.Int).Mul(priceColl, uint256.NewInt(10_000))

	scaled := scaleDecimals(numerator, debtDecimals, collDecimals)
	seizedWei := new(uint256.Int).Div(scaled, denom)

	seizedUSD := usdOf(seizedWei, collDecimals, priceColl)
	return seizedWei, seizedUSD
}

func scaleDecimals(v *uint256.Int, from, to uint8) *uint256.Int {
	out := new(uint256.Int).Set(v)
	if to > from {
		for i := uint8(0); i < to-from; i++ {
			out.Mul(out, uint256.NewInt(10))
		}
	} else if from > to {
		for i := uint8(0); i < from-to; i++ {
			out.Div(out, uint256.NewInt(10))
		}
	}
	return out
}

// usdOf converts a native-decimals wei amount into BaseUnitScale USD
// using a BaseUnitScale price.
func usdOf(wei *uint256.Int, decimals uint8, priceUSD *uint256.Int) *uint256.Int {
	if wei == nil || priceUSD == nil {
		return uint256.NewInt(0)
	}
	num := new(uint256.Int).Mul(wei, priceUSD)
	denom := pow10(decimals)
	return num.Div(num, denom)
}

func minOutWithSlippage(seizedUSD *uint256.Int, maxSlippageBp uint32, outDecimals uint8, priceOutUSD *uint256.Int) *uint256.Int {
	if seizedUSD == nil || priceOutUSD == nil || priceOutUSD.IsZero() {
		return uint256.NewInt(0)
	}
	factor := uint256.NewInt(uint64(10_000 - maxSlippageBp))
	adjUSD := new(uint256.Int).Mul(seizedUSD, factor)
	adjUSD.Div(adjUSD, uint256.NewInt(10_000))

	scaled := new(uint256.Int).Mul(adjUSD, pow10(outDecimals))
	return scaled.Div(scaled, priceOutUSD)
}

func pow10(n uint8) *uint256.Int {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}

func bpToWad(bp uint32) *uint256.Int {
	v := new(uint256.Int).Mul(uint256.NewInt(uint64(bp)), uint256.NewInt(100_000_000_000_000))
	return v
}
