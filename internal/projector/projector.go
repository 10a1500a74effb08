// Package projector implements the HF Projector (C10): a deterministic,
// explicitly-not-ML linear projection of next-block health factor for
// users in the critical band, built from per-asset ring buffers of
// recent price and debt-index samples.
package projector

import (
	"github.com/holiman/uint256"
)

// Likelihood tags how likely the projected HF is to cross below 1.
type Likelihood int

const (
	LikelihoodNone Likelihood = iota
	LikelihoodLow
	LikelihoodMedium
	LikelihoodHigh
)

const (
	criticalBandLowBps  = 10000 // HF 1.00
	criticalBandHighBps = 10300 // HF 1.03

	likelihoodMediumBps = 50  // 0.5%
	likelihoodHighBps   = 100 // 1%
)

// Sample is one observation of an asset's price or a reserve's debt
// index at a point in time.
type Sample struct {
	Value *uint256.Int
}

// Ring is a fixed-size FIFO of samples; window defaults to 10 per
// spec. Ring and Push are exported so the scheduler can own one per
// (user, asset) and per (user, reserve); the oldest/latest accessors
// are unexported and used only inside this package.
type Ring struct {
	buf  []Sample
	size int
	head int
	full bool
}

func newRing(size int) *Ring {
	if size <= 0 {
		size = 10
	}
	return &Ring{buf: make([]Sample, size), size: size}
}

// Push records a fresh sample, overwriting the oldest once the ring is full.
func (r *Ring) Push(s Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % r.size
	if r.head == 0 {
		r.full = true
	}
}

// oldest returns the sample written furthest back (the window's t0).
func (r *Ring) oldest() (Sample, bool) {
	if !r.full {
		if r.head == 0 {
			return Sample{}, false
		}
		return r.buf[0], true
	}
	return r.buf[r.head], true
}

// latest returns the most recently pushed sample.
func (r *Ring) latest() (Sample, bool) {
	if !r.full && r.head == 0 {
		return Sample{}, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx = r.size - 1
	}
	return r.buf[idx], true
}

// Projector holds only the observation window size. The caller owns
// the ring buffers, one per asset (collateral price) or reserve (debt
// index) for each user.
type Projector struct {
	window int
}

// New builds a Projector with the given observation window size.
func New(window int) *Projector {
	if window <= 0 {
		window = 10
	}
	return &Projector{window: window}
}

// NewRingBuffer exposes ring construction so callers (the orchestrator)
// can maintain one ring per (user, asset) and per (user, reserve).
func (p *Projector) NewRingBuffer() *Ring { return newRing(p.window) }

// Projection is the output of Project.
type Projection struct {
	ProjectedHF *uint256.Int
	Likelihood  Likelihood
}

// InCriticalBand reports whether hf (WAD-scaled) falls in [1.00, 1.03],
// the only band in which a projection is produced.
func InCriticalBand(hf *uint256.Int) bool {
	bps := bpsOf(hf)
	return bps >= criticalBandLowBps && bps <= criticalBandHighBps
}

// Project computes the linear HF projection for a user given their
// current HF, per-collateral-asset price ring buffers, and
// per-debt-reserve index ring buffers. Returns (nil, false) if hf is
// outside the critical band.
func Project(hf *uint256.Int, collateralRings []*Ring, debtRings []*Ring) (*Projection, bool) {
	if !InCriticalBand(hf) {
		return nil, false
	}

	priceImpact := meanRelativeChange(collateralRings)
	debtGrowth := meanRelativeChange(debtRings)

	projected := applyProjection(hf, priceImpact, debtGrowth)

	absSum := abs(priceImpact) + abs(debtGrowth)
	var tag Likelihood
	switch {
	case absSum >= likelihoodHighBps:
		tag = LikelihoodHigh
	case absSum >= likelihoodMediumBps:
		tag = LikelihoodMedium
	default:
		tag = LikelihoodLow
	}

	return &Projection{ProjectedHF: projected, Likelihood: tag}, true
}

// meanRelativeChange averages (latest-oldest)/oldest in bps across the
// given rings, treating an empty or single-sample ring as zero change.
func meanRelativeChange(rings []*Ring) int64 {
	if len(rings) == 0 {
		return 0
	}
	var sum int64
	var n int64
	for _, r := range rings {
		oldest, ok1 := r.oldest()
		latest, ok2 := r.latest()
		if !ok1 || !ok2 || oldest.Value == nil || oldest.Value.IsZero() {
			continue
		}
		sum += relativeChangeBps(oldest.Value, latest.Value)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func relativeChangeBps(from, to *uint256.Int) int64 {
	neg := to.Lt(from)
	var diff uint256.Int
	if neg {
		diff.Sub(from, to)
	} else {
		diff.Sub(to, from)
	}
	bps := new(uint256.Int).Mul(&diff, uint256.NewInt(10000))
	bps.Div(bps, from)
	v := int64(bps.Uint64())
	if neg {
		return -v
	}
	return v
}

// applyProjection computes hf * (1+priceImpact) / (1+debtGrowth), with
// priceImpact/debtGrowth expressed in bps, entirely in integer math.
func applyProjection(hf *uint256.Int, priceImpactBps, debtGrowthBps int64) *uint256.Int {
	numFactor := bpsFactor(priceImpactBps)
	denFactor := bpsFactor(debtGrowthBps)
	if denFactor.IsZero() {
		denFactor = uint256.NewInt(10000)
	}

	numerator := new(uint256.Int).Mul(hf, numFactor)
	result := new(uint256.Int).Div(numerator, uint256.NewInt(10000))
	result.Mul(result, uint256.NewInt(10000))
	result.Div(result, denFactor)
	return result
}

// bpsFactor turns a signed bps delta into a 10000±delta scaling
// factor, floored at zero.
func bpsFactor(bps int64) *uint256.Int {
	v := int64(10000) + bps
	if v < 0 {
		v = 0
	}
	return uint256.NewInt(uint64(v))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func bpsOf(hf *uint256.Int) uint64 {
	scaled := new(uint256.Int).Div(hf, uint256.NewInt(100_000_000_000_000))
	return scaled.Uint64()
}
