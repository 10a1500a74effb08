package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/avalnetsec/liquidator/pkg/contractclient"
)

// ChainPrimaryReader implements PrimaryReader against the protocol's
// own on-chain price oracle contract, packing and decoding
// getAssetPrice(asset) through pkg/contractclient the same way
// verifier.MulticallAggregator calls getUserAccountData.
type ChainPrimaryReader struct {
	client *ethclient.Client
	oracle *contractclient.Client
}

// NewChainPrimaryReader binds a primary oracle reader to oracleClient,
// an ABI-bound contractclient.Client exposing
// getAssetPrice(address) -> (uint256 price, uint256 updatedAt).
func NewChainPrimaryReader(client *ethclient.Client, oracleClient *contractclient.Client) *ChainPrimaryReader {
	return &ChainPrimaryReader{client: client, oracle: oracleClient}
}

// AssetPrice calls getAssetPrice at blockTag (latest if nil).
func (r *ChainPrimaryReader) AssetPrice(ctx context.Context, asset common.Address, blockTag *int64) (*uint256.Int, time.Time, error) {
	data, err := r.oracle.Pack("getAssetPrice", asset)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("oracle: pack getAssetPrice: %w", err)
	}
	oracleAddr := r.oracle.Address()
	msg := ethereum.CallMsg{To: &oracleAddr, Data: data}
	var blockNumber *big.Int
	if blockTag != nil {
		blockNumber = big.NewInt(*blockTag)
	}
	raw, err := r.client.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("oracle: getAssetPrice call for %s: %w", asset.Hex(), err)
	}
	out, err := r.oracle.Unpack("getAssetPrice", raw)
	if err != nil || len(out) < 2 {
		return nil, time.Time{}, fmt.Errorf("oracle: unpack getAssetPrice for %s: %w", asset.Hex(), err)
	}
	priceBig, _ := out[0].(*big.Int)
	updatedAtBig, _ := out[1].(*big.Int)
	price, ok := uint256.FromBig(priceBig)
	if !ok || price == nil {
		price = uint256.NewInt(0)
	}
	var updatedAt time.Time
	if updatedAtBig != nil {
		updatedAt = time.Unix(updatedAtBig.Int64(), 0)
	}
	return price, updatedAt, nil
}

// ChainFallbackReader implements FallbackReader against a second,
// independently-deployed oracle sharing the same getAssetPrice shape
// (e.g. a redundant Chainlink-backed feed registry), discarding the
// freshness timestamp the primary leg uses for staleness rejection.
type ChainFallbackReader struct {
	inner *ChainPrimaryReader
}

// NewChainFallbackReader binds a fallback oracle reader to oracleClient.
func NewChainFallbackReader(client *ethclient.Client, oracleClient *contractclient.Client) *ChainFallbackReader {
	return &ChainFallbackReader{inner: NewChainPrimaryReader(client, oracleClient)}
}

// AssetPrice reads the current price with no staleness check of its own.
func (r *ChainFallbackReader) AssetPrice(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	price, _, err := r.inner.AssetPrice(ctx, asset, nil)
	return price, err
}
