package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalnetsec/liquidator/pkg/types"
)

type fakePrimary struct {
	price     *uint256.Int
	updatedAt time.Time
	err       error
}

func (f *fakePrimary) AssetPrice(ctx context.Context, asset common.Address, blockTag *int64) (*uint256.Int, time.Time, error) {
	return f.price, f.updatedAt, f.err
}

type fakeFallback struct {
	price *uint256.Int
	err   error
}

func (f *fakeFallback) AssetPrice(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	return f.price, f.err
}

func TestPriceReturnsPrimaryWhenFresh(t *testing.T) {
	primary := &fakePrimary{price: uint256.NewInt(100), updatedAt: time.Now()}
	g := New(primary, nil, time.Minute, zerolog.Nop())

	res, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "100", res.PriceUSD.String())
	assert.Equal(t, types.SourcePrimary, res.Source)
}

func TestPriceFallsBackWhenPrimaryStale(t *testing.T) {
	primary := &fakePrimary{price: uint256.NewInt(100), updatedAt: time.Now().Add(-time.Hour)}
	fallback := &fakeFallback{price: uint256.NewInt(99)}
	g := New(primary, fallback, time.Minute, zerolog.Nop())

	res, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "99", res.PriceUSD.String())
	assert.Equal(t, types.SourceFallback, res.Source)
}

func TestPriceFallsBackWhenPrimaryErrors(t *testing.T) {
	primary := &fakePrimary{err: errors.New("rpc down")}
	fallback := &fakeFallback{price: uint256.NewInt(50)}
	g := New(primary, fallback, time.Minute, zerolog.Nop())

	res, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "50", res.PriceUSD.String())
}

func TestPriceErrorsWhenPrimaryFailsAndNoFallback(t *testing.T) {
	primary := &fakePrimary{err: errors.New("rpc down")}
	g := New(primary, nil, time.Minute, zerolog.Nop())

	_, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	assert.Error(t, err)
}

func TestPriceErrorsWhenFallbackAlsoFails(t *testing.T) {
	primary := &fakePrimary{err: errors.New("rpc down")}
	fallback := &fakeFallback{err: errors.New("feed down")}
	g := New(primary, fallback, time.Minute, zerolog.Nop())

	_, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	assert.Error(t, err)
}

func TestDriftBpsComputesDelta(t *testing.T) {
	bp := driftBps(uint256.NewInt(100), uint256.NewInt(99))
	assert.InDelta(t, 100.0, bp, 1.0) // ~1% -> ~100bp
}

func TestCheckDriftRecordsMismatchAboveThreshold(t *testing.T) {
	primary := &fakePrimary{price: uint256.NewInt(1000), updatedAt: time.Now()}
	fallback := &fakeFallback{price: uint256.NewInt(900)} // ~10% drift
	g := New(primary, fallback, time.Minute, zerolog.Nop())

	_, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	require.NoError(t, err)

	recent := g.RecentMismatches(1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].DeltaBp > 5)
}

func TestCheckDriftIgnoresSmallDeltas(t *testing.T) {
	primary := &fakePrimary{price: uint256.NewInt(1000), updatedAt: time.Now()}
	fallback := &fakeFallback{price: uint256.NewInt(1000)}
	g := New(primary, fallback, time.Minute, zerolog.Nop())

	_, err := g.Price(context.Background(), common.HexToAddress("0x1"), nil)
	require.NoError(t, err)

	assert.Empty(t, g.RecentMismatches(1))
}

func TestRecentMismatchesReturnsNewestFirst(t *testing.T) {
	g := New(&fakePrimary{price: uint256.NewInt(1), updatedAt: time.Now()}, nil, time.Minute, zerolog.Nop())
	g.recordMismatch(MismatchObservation{Asset: common.HexToAddress("0x1"), DeltaBp: 10})
	g.recordMismatch(MismatchObservation{Asset: common.HexToAddress("0x2"), DeltaBp: 20})

	recent := g.RecentMismatches(2)
	require.Len(t, recent, 2)
	assert.Equal(t, common.HexToAddress("0x2"), recent[0].Asset)
	assert.Equal(t, common.HexToAddress("0x1"), recent[1].Asset)
}
