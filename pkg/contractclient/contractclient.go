// Package contractclient is the thin ABI-encoding layer every
// component builds calldata and decodes return data through. It plays
// the role the teacher's pkg/contractclient played for blackhole.go's
// Call/Send — generalized here to pure encode/decode (signing and
// broadcast are split out into internal/signer and internal/racer, since the hot
// path races a signed transaction across endpoints rather than
// waiting on a single client's SendTransaction).
package contractclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Client binds one contract address to its parsed ABI and exposes
// Pack/Unpack, the encode/decode half of the teacher's ContractClient.
type Client struct {
	address common.Address
	abi     abi.ABI
}

// New builds a Client for a given address and pre-parsed ABI.
func New(address common.Address, parsedABI abi.ABI) *Client {
	return &Client{address: address, abi: parsedABI}
}

// Address returns the bound contract address.
func (c *Client) Address() common.Address { return c.address }

// ABI returns the parsed ABI, e.g. for a caller that needs to Pack a
// second, related call (multicall encoding).
func (c *Client) ABI() abi.ABI { return c.abi }

// Pack ABI-encodes a call to method with args.
func (c *Client) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}
	return data, nil
}

// Unpack ABI-decodes method's return data into a slice of values.
func (c *Client) Unpack(method string, data []byte) ([]interface{}, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return out, nil
}

// ChainReader describes a minimal chain read surface (contract call and
// block number). The registry, oracle and verifier readers in this
// repository take *ethclient.Client directly rather than this interface.
type ChainReader interface {
	CallContract(ctx context.Context, call CallMsg, blockNumber *int64) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// CallMsg mirrors ethereum.CallMsg's fields this package needs,
// avoiding a hard dependency on the core/types package here.
type CallMsg struct {
	To   *common.Address
	Data []byte
}

// LoadABI parses a bare ABI JSON file (just the `abi` array), the
// shape produced by solc --abi.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contractclient: open abi %s: %w", path, err)
	}
	defer f.Close()
	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contractclient: parse abi %s: %w", path, err)
	}
	return parsed, nil
}

// LoadABIFromHardhatArtifact parses a Hardhat artifact JSON file
// (`{"abi": [...], "bytecode": "...", ...}`), generalizing the
// teacher's util.LoadABIFromHardhatArtifact for the executor and
// aggregator contracts shipped as Hardhat artifacts.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contractclient: read artifact %s: %w", path, err)
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("contractclient: parse artifact %s: %w", path, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contractclient: parse abi from artifact %s: %w", path, err)
	}
	return parsed, nil
}
