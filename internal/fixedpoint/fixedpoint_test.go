package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestHealthFactorNoDebt(t *testing.T) {
	hf, ok := HealthFactor(uint256.NewInt(1000), uint256.NewInt(0))
	assert.False(t, ok)
	assert.Nil(t, hf)
}

func TestHealthFactorBelowOne(t *testing.T) {
	collateral := uint256.NewInt(900)
	debt := uint256.NewInt(1000)
	hf, ok := HealthFactor(collateral, debt)
	assert.True(t, ok)
	assert.True(t, BelowOne(hf))
}

func TestHealthFactorAtExactlyOne(t *testing.T) {
	hf, ok := HealthFactor(uint256.NewInt(1000), uint256.NewInt(1000))
	assert.True(t, ok)
	assert.False(t, BelowOne(hf))
	assert.Equal(t, OneHF.String(), hf.String())
}

func TestFromFloatRoundTrip(t *testing.T) {
	wad := FromFloat(1.01)
	assert.Equal(t, "1010000000000000000", wad.String())
	assert.InDelta(t, 1.01, ToFloat(wad), 0.0001)
}

func TestBpsOf(t *testing.T) {
	out := BpsOf(uint256.NewInt(10_000), 5000)
	assert.Equal(t, uint64(5000), out.Uint64())
}
