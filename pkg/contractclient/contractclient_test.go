package contractclient

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleABI = `[
	{"type":"function","name":"balanceOf","inputs":[{"name":"who","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

func mustParseABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(sampleABI))
	require.NoError(t, err)
	return parsed
}

func TestClientPackEncodesCall(t *testing.T) {
	parsed := mustParseABI(t)
	c := New(common.HexToAddress("0x1"), parsed)

	data, err := c.Pack("balanceOf", common.HexToAddress("0x2"))
	require.NoError(t, err)
	assert.True(t, len(data) >= 4)
}

func TestClientPackUnknownMethodErrors(t *testing.T) {
	c := New(common.HexToAddress("0x1"), mustParseABI(t))
	_, err := c.Pack("nonexistent")
	assert.Error(t, err)
}

func TestClientUnpackDecodesReturn(t *testing.T) {
	parsed := mustParseABI(t)
	c := New(common.HexToAddress("0x1"), parsed)

	packed, err := parsed.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)

	out, err := c.Unpack("balanceOf", packed)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big.NewInt(42), out[0].(*big.Int))
}

func TestClientUnpackMalformedDataErrors(t *testing.T) {
	c := New(common.HexToAddress("0x1"), mustParseABI(t))
	_, err := c.Unpack("balanceOf", []byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestClientAddressAndABIAccessors(t *testing.T) {
	parsed := mustParseABI(t)
	addr := common.HexToAddress("0x1")
	c := New(addr, parsed)

	assert.Equal(t, addr, c.Address())
	_, ok := c.ABI().Methods["balanceOf"]
	assert.True(t, ok)
}

func TestLoadABIParsesBareArrayFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abi.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleABI), 0o644))

	parsed, err := LoadABI(path)
	require.NoError(t, err)
	_, ok := parsed.Methods["balanceOf"]
	assert.True(t, ok)
}

func TestLoadABIMissingFileErrors(t *testing.T) {
	_, err := LoadABI(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadABIFromHardhatArtifactParsesEmbeddedABI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.json")
	artifact := `{"abi": ` + sampleABI + `, "bytecode": "0x"}`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))

	parsed, err := LoadABIFromHardhatArtifact(path)
	require.NoError(t, err)
	_, ok := parsed.Methods["balanceOf"]
	assert.True(t, ok)
}

func TestLoadABIFromHardhatArtifactMalformedJSONErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := LoadABIFromHardhatArtifact(path)
	assert.Error(t, err)
}
