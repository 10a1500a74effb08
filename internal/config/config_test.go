package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalnetsec/liquidator/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	path := writeConfig(t, `
rpc: "https://rpc.example"
write_rpcs: ["https://write.example"]
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(10_100), c.HotPath.HotMaxBps)
	assert.Equal(t, uint32(10_500), c.HotPath.WarmMaxBps)
	assert.Equal(t, 25, c.HotPath.VerifyBatch)
	assert.Equal(t, uint32(10_200), c.HotPath.PrestageHFBps)
	assert.Equal(t, uint32(9_800), c.HotPath.ExecThresholdBps)
	assert.Equal(t, 2_000, c.HotPath.HFCacheTTLMs)
	assert.Equal(t, 60_000, c.HotPath.CooldownMs)
	assert.Equal(t, 90, c.HotPath.DirtyTTLSec)
	assert.Equal(t, 1_500, c.HotPath.RaceTimeoutMs)
	assert.Equal(t, 500, c.HotPath.MaxUsersFullScan)
	assert.Equal(t, uint32(10_300), c.HotPath.AssetHFBandBps)
	assert.Equal(t, "fixed_50", c.Filters.CloseFactorMode)
	assert.Equal(t, 0.95, c.Filters.FullCFHFMax)
	assert.Equal(t, 500, c.Execution.TemplateMaxEntries)
	assert.Equal(t, uint64(600_000), c.Execution.SignerGasLimit)
	assert.Equal(t, 5_000, c.Execution.PingIntervalMs)
	assert.Equal(t, 5.0, c.Execution.PingRatePerSec)
	assert.Equal(t, uint64(50), c.Execution.MaxFeePerGasGwei)
	assert.Equal(t, uint64(2), c.Execution.MaxPriorityFeeGwei)
	assert.Equal(t, 5.0, c.Filters.EstGasUSD)
}

func TestBpConversionHelpers(t *testing.T) {
	c := &Config{Filters: FiltersYAML{MaxSlippagePct: 0.5, FullCFHFMax: 0.95}}
	assert.Equal(t, uint32(50), c.MaxSlippageBp())
	assert.Equal(t, uint32(9_500), c.FullCFHFMaxBp())
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
rpc: "https://rpc.example"
write_rpcs: ["https://write.example"]
hot_path:
  hot_max_bps: 10050
  max_users_full_scan: 250
filters:
  close_factor_mode: "full"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(10_050), c.HotPath.HotMaxBps)
	assert.Equal(t, 250, c.HotPath.MaxUsersFullScan)
	assert.Equal(t, "full", c.Filters.CloseFactorMode)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := writeConfig(t, "not: [valid yaml")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsExecThresholdAtOrAboveMax(t *testing.T) {
	c := &Config{
		WriteRPCs: []string{"x"},
		HotPath:   HotPathYAML{ExecThresholdBps: 10_000, VerifyBatch: 1},
		Filters:   FiltersYAML{CloseFactorMode: "fixed_50"},
	}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsHotMaxAboveWarmMax(t *testing.T) {
	c := &Config{
		WriteRPCs: []string{"x"},
		HotPath:   HotPathYAML{ExecThresholdBps: 9_800, HotMaxBps: 10_600, WarmMaxBps: 10_500, VerifyBatch: 1},
		Filters:   FiltersYAML{CloseFactorMode: "fixed_50"},
	}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveVerifyBatch(t *testing.T) {
	c := &Config{
		WriteRPCs: []string{"x"},
		HotPath:   HotPathYAML{ExecThresholdBps: 9_800, VerifyBatch: 0},
		Filters:   FiltersYAML{CloseFactorMode: "fixed_50"},
	}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsEmptyWriteRPCs(t *testing.T) {
	c := &Config{
		HotPath: HotPathYAML{ExecThresholdBps: 9_800, VerifyBatch: 1},
		Filters: FiltersYAML{CloseFactorMode: "fixed_50"},
	}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownCloseFactorMode(t *testing.T) {
	c := &Config{
		WriteRPCs: []string{"x"},
		HotPath:   HotPathYAML{ExecThresholdBps: 9_800, VerifyBatch: 1},
		Filters:   FiltersYAML{CloseFactorMode: "bogus"},
	}
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := &Config{
		WriteRPCs: []string{"x"},
		HotPath:   HotPathYAML{ExecThresholdBps: 9_800, HotMaxBps: 10_100, WarmMaxBps: 10_500, VerifyBatch: 25},
		Filters:   FiltersYAML{CloseFactorMode: "full"},
	}
	assert.NoError(t, c.Validate())
}

func TestDurationHelpers(t *testing.T) {
	c := &Config{HotPath: HotPathYAML{
		RaceTimeoutMs: 1500,
		HFCacheTTLMs:  2000,
		CooldownMs:    60000,
		DirtyTTLSec:   90,
	}}
	assert.Equal(t, 1500*time.Millisecond, c.RaceTimeout())
	assert.Equal(t, 2000*time.Millisecond, c.HFCacheTTL())
	assert.Equal(t, 60000*time.Millisecond, c.Cooldown())
	assert.Equal(t, 90*time.Second, c.DirtyTTL())
}

func TestGasFeeHelpers(t *testing.T) {
	c := &Config{Execution: ExecutionYAML{MaxFeePerGasGwei: 50, MaxPriorityFeeGwei: 2}}
	assert.Equal(t, big.NewInt(50_000_000_000), c.MaxFeePerGas())
	assert.Equal(t, big.NewInt(2_000_000_000), c.MaxPriorityFeePerGas())
}

func TestCloseFactorModeValue(t *testing.T) {
	c := &Config{Filters: FiltersYAML{CloseFactorMode: "full"}}
	assert.Equal(t, types.CloseFactorFull, c.CloseFactorModeValue())

	c.Filters.CloseFactorMode = "fixed_50"
	assert.Equal(t, types.CloseFactorFixed50, c.CloseFactorModeValue())
}
