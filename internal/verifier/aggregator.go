package verifier

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/avalnetsec/liquidator/pkg/contractclient"
	"github.com/avalnetsec/liquidator/pkg/types"
)

// MulticallAggregator implements Aggregator by packing one
// getUserAccountData call per user into a Multicall3-style
// aggregate3 call (allowFailure per entry) and decoding each return
// tuple back into a UserSnapshot.
type MulticallAggregator struct {
	client      *ethclient.Client
	multicall   *contractclient.Client
	protocol    common.Address
	protocolABI *contractclient.Client
}

// NewMulticallAggregator builds an aggregator that calls
// getUserAccountData on protocol through multicall.
func NewMulticallAggregator(client *ethclient.Client, multicall, protocolABIClient *contractclient.Client, protocol common.Address) *MulticallAggregator {
	return &MulticallAggregator{client: client, multicall: multicall, protocol: protocol, protocolABI: protocolABIClient}
}

type aggregate3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// BatchGetUserAccountData packs, sends, and decodes one
// getUserAccountData call per user through the multicall contract.
func (a *MulticallAggregator) BatchGetUserAccountData(ctx context.Context, users []common.Address, blockTag *uint64, allowFailure bool) ([]types.VerifyResult, error) {
	calls := make([]aggregate3Call, 0, len(users))
	for _, u := range users {
		data, err := a.protocolABI.Pack("getUserAccountData", u)
		if err != nil {
			return nil, fmt.Errorf("verifier: pack getUserAccountData for %s: %w", u.Hex(), err)
		}
		calls = append(calls, aggregate3Call{Target: a.protocol, AllowFailure: allowFailure, CallData: data})
	}

	input, err := a.multicall.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("verifier: pack aggregate3: %w", err)
	}

	msg := ethereum.CallMsg{To: a.multicall.Address(), Data: input}
	var blockNumber *big.Int
	if blockTag != nil {
		blockNumber = new(big.Int).SetUint64(*blockTag)
	}
	raw, err := a.client.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("verifier: aggregate3 call reverted: %w", err)
	}

	returnData, err := a.multicall.Unpack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("verifier: unpack aggregate3 result: %w", err)
	}

	out := make([]types.VerifyResult, len(users))
	rows, ok := returnData[0].([]struct {
		Success    bool
		ReturnData []byte
	})
	if !ok {
		return nil, fmt.Errorf("verifier: unexpected aggregate3 return shape")
	}
	for i, row := range rows {
		if i >= len(out) {
			break
		}
		if !row.Success {
			out[i] = types.VerifyResult{Outcome: types.VerifyCallFailed}
			continue
		}
		out[i] = decodeAccountData(users[i], row.ReturnData, a.protocolABI, blockTag)
	}
	return out, nil
}

func decodeAccountData(user common.Address, data []byte, protocolABI *contractclient.Client, blockTag *uint64) types.VerifyResult {
	values, err := protocolABI.Unpack("getUserAccountData", data)
	if err != nil || len(values) < 6 {
		return types.VerifyResult{Outcome: types.VerifyCallFailed, Err: err}
	}

	totalCollateral, _ := values[0].(*big.Int)
	totalDebt, _ := values[1].(*big.Int)
	ltv, _ := values[3].(*big.Int)
	liqThreshold, _ := values[2].(*big.Int)
	healthFactor, _ := values[5].(*big.Int)

	var block uint64
	if blockTag != nil {
		block = *blockTag
	}

	snap := types.UserSnapshot{
		User:                 user,
		Block:                block,
		TotalCollateralBase:  bigToU256(totalCollateral),
		TotalDebtBase:        bigToU256(totalDebt),
		LiquidationThreshold: uint32(safeUint64(liqThreshold)),
		LTV:                  uint32(safeUint64(ltv)),
		HealthFactor:         bigToU256(healthFactor),
		NoDebt:               totalDebt == nil || totalDebt.Sign() == 0,
	}
	return types.VerifyResult{Outcome: types.VerifyOK, Snapshot: snap}
}

func bigToU256(b *big.Int) *uint256.Int {
	if b == nil {
		return uint256.NewInt(0)
	}
	v, _ := uint256.FromBig(b)
	return v
}

func safeUint64(b *big.Int) uint64 {
	if b == nil {
		return 0
	}
	return b.Uint64()
}
