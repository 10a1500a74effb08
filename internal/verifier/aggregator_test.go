package verifier

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalnetsec/liquidator/pkg/contractclient"
	"github.com/avalnetsec/liquidator/pkg/types"
)

const getUserAccountDataABI = `[{
	"name": "getUserAccountData",
	"type": "function",
	"inputs": [{"name": "user", "type": "address"}],
	"outputs": [
		{"name": "totalCollateralBase", "type": "uint256"},
		{"name": "totalDebtBase", "type": "uint256"},
		{"name": "currentLiquidationThreshold", "type": "uint256"},
		{"name": "ltv", "type": "uint256"},
		{"name": "availableBorrowsBase", "type": "uint256"},
		{"name": "healthFactor", "type": "uint256"}
	]
}]`

func mustClient(t *testing.T) *contractclient.Client {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(getUserAccountDataABI))
	require.NoError(t, err)
	return contractclient.New(common.HexToAddress("0xaa"), parsed)
}

func packReturn(t *testing.T, client *contractclient.Client, collateral, debt, liqThreshold, ltv, available, hf *big.Int) []byte {
	t.Helper()
	data, err := client.ABI().Methods["getUserAccountData"].Outputs.Pack(collateral, debt, liqThreshold, ltv, available, hf)
	require.NoError(t, err)
	return data
}

func TestBigToU256NilReturnsZero(t *testing.T) {
	assert.Equal(t, uint64(0), bigToU256(nil).Uint64())
}

func TestBigToU256ConvertsValue(t *testing.T) {
	assert.Equal(t, uint64(12345), bigToU256(big.NewInt(12345)).Uint64())
}

func TestSafeUint64NilReturnsZero(t *testing.T) {
	assert.Equal(t, uint64(0), safeUint64(nil))
}

func TestSafeUint64ConvertsValue(t *testing.T) {
	assert.Equal(t, uint64(42), safeUint64(big.NewInt(42)))
}

func TestDecodeAccountDataSuccess(t *testing.T) {
	client := mustClient(t)
	user := common.HexToAddress("0x1")
	data := packReturn(t, client,
		big.NewInt(1000), big.NewInt(500), big.NewInt(8000), big.NewInt(7500), big.NewInt(200),
		big.NewInt(1_100_000_000_000_000_000))

	block := uint64(42)
	result := decodeAccountData(user, data, client, &block)

	require.Equal(t, types.VerifyOK, result.Outcome)
	assert.Equal(t, user, result.Snapshot.User)
	assert.Equal(t, uint64(42), result.Snapshot.Block)
	assert.Equal(t, uint64(1000), result.Snapshot.TotalCollateralBase.Uint64())
	assert.Equal(t, uint64(500), result.Snapshot.TotalDebtBase.Uint64())
	assert.Equal(t, uint32(8000), result.Snapshot.LiquidationThreshold)
	assert.Equal(t, uint32(7500), result.Snapshot.LTV)
	assert.False(t, result.Snapshot.NoDebt)
}

func TestDecodeAccountDataZeroDebt(t *testing.T) {
	client := mustClient(t)
	user := common.HexToAddress("0x1")
	data := packReturn(t, client,
		big.NewInt(1000), big.NewInt(0), big.NewInt(8000), big.NewInt(7500), big.NewInt(200),
		big.NewInt(0))

	result := decodeAccountData(user, data, client, nil)
	assert.True(t, result.Snapshot.NoDebt)
}

func TestDecodeAccountDataMalformedDataFails(t *testing.T) {
	client := mustClient(t)
	result := decodeAccountData(common.HexToAddress("0x1"), []byte{0x01, 0x02}, client, nil)
	assert.Equal(t, types.VerifyCallFailed, result.Outcome)
}
