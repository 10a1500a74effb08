// Package fixedpoint provides the 256-bit fixed-point arithmetic the
// spec requires for health factors, prices, and debt amounts: all
// invariant checks compare raw integers, never floats (SPEC_FULL §9).
package fixedpoint

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
)

// WAD is the protocol's 18-decimal scale used for health factors and
// token amounts expressed in wei-like units.
var WAD = uint256.NewInt(1_000_000_000_000_000_000)

// BaseUnitScale is the oracle's 8-decimal scale for USD base-unit prices.
var BaseUnitScale = uint256.NewInt(100_000_000)

// OneHF is health factor 1.0 at 18-decimal scale. A position with
// HF < OneHF is liquidatable.
var OneHF = WAD

// MulDivWAD computes a*b/WAD without intermediate overflow, using the
// 512-bit mul-div uint256 exposes for exactly this purpose.
func MulDivWAD(a, b *uint256.Int) *uint256.Int {
	return MulDiv(a, b, WAD)
}

// MulDiv computes a*b/d with a 512-bit intermediate product, guarding
// against the overflow that a naive a.Mul(b).Div(d) would hit for
// values near the top of the 256-bit range.
func MulDiv(a, b, d *uint256.Int) *uint256.Int {
	z := new(uint256.Int)
	z.MulDivOverflow(a, b, d)
	return z
}

// HealthFactor computes Σ(collateral·LT)/Σ(debt) in WAD precision.
// Returns (hf, true) or (0, false) when debt is zero, per the "no
// debt ⇒ +∞" invariant: callers must special-case the false return as
// "not liquidatable", never divide by zero.
func HealthFactor(weightedCollateral, totalDebt *uint256.Int) (*uint256.Int, bool) {
	if totalDebt == nil || totalDebt.IsZero() {
		return nil, false
	}
	return MulDiv(weightedCollateral, WAD, totalDebt), true
}

// BpsOf applies a basis-points weight (0-10000) to an amount.
func BpsOf(amount *uint256.Int, bps uint32) *uint256.Int {
	return new(uint256.Int).Div(
		new(uint256.Int).Mul(amount, uint256.NewInt(uint64(bps))),
		uint256.NewInt(10_000),
	)
}

// ToFloat converts a WAD-scaled value to float64 for display and for
// coarse threshold comparisons only — never for invariant checks.
func ToFloat(v *uint256.Int) float64 {
	f := new(big.Float).SetInt(v.ToBig())
	scale := new(big.Float).SetInt(WAD.ToBig())
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// FromFloat converts a float64 ratio into a WAD-scaled uint256. Used
// only for config-supplied thresholds (e.g. hot_max = 1.01), never on
// the hot path for values derived from chain data.
func FromFloat(f float64) *uint256.Int {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if !ok {
		return new(uint256.Int)
	}
	r.Mul(r, new(big.Rat).SetInt(WAD.ToBig()))
	bi := new(big.Int).Quo(r.Num(), r.Denom())
	out, overflow := uint256.FromBig(bi)
	if overflow {
		return new(uint256.Int)
	}
	return out
}

// BelowOne reports hf_raw < 10^18 directly against the integer per the
// spec's arithmetic-edge-case note — never compare HF as a float.
func BelowOne(hf *uint256.Int) bool {
	return hf.Lt(OneHF)
}

// FromFloatBase converts a float64 USD amount into a BaseUnitScale
// (1e8) fixed-point value, for config-supplied USD thresholds like
// min_debt_usd and dust_min_usd.
func FromFloatBase(f float64) *uint256.Int {
	bf := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(BaseUnitScale.ToBig()))
	bi, _ := bf.Int(nil)
	out, overflow := uint256.FromBig(bi)
	if overflow {
		return new(uint256.Int)
	}
	return out
}
