package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// ERC20Reader implements ChainReader against a live ethclient by
// calling a token's own symbol()/decimals() view functions.
type ERC20Reader struct {
	client *ethclient.Client
	abi    abi.ABI
}

// NewERC20Reader builds a ChainReader backed by client.
func NewERC20Reader(client *ethclient.Client) (*ERC20Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		return nil, fmt.Errorf("registry: parse erc20 abi: %w", err)
	}
	return &ERC20Reader{client: client, abi: parsed}, nil
}

func (e *ERC20Reader) Symbol(ctx context.Context, token common.Address) (string, error) {
	data, err := e.abi.Pack("symbol")
	if err != nil {
		return "", fmt.Errorf("registry: pack symbol: %w", err)
	}
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("registry: call symbol: %w", err)
	}
	out, err := e.abi.Unpack("symbol", raw)
	if err != nil || len(out) == 0 {
		return "", fmt.Errorf("registry: unpack symbol: %w", err)
	}
	s, _ := out[0].(string)
	return s, nil
}

func (e *ERC20Reader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := e.abi.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("registry: pack decimals: %w", err)
	}
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: call decimals: %w", err)
	}
	out, err := e.abi.Unpack("decimals", raw)
	if err != nil || len(out) == 0 {
		return 0, fmt.Errorf("registry: unpack decimals: %w", err)
	}
	d, _ := out[0].(uint8)
	return d, nil
}
