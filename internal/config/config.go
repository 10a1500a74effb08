// Package config loads and validates the agent's YAML configuration,
// generalizing the teacher's configs/config.go (a flat YAML→struct
// load plus a handful of To*Config converters) to the full option
// surface in SPEC_FULL §6.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avalnetsec/liquidator/pkg/types"
)

// Config is the root YAML document.
type Config struct {
	RPC          string         `yaml:"rpc"`
	WriteRPCs    []string       `yaml:"write_rpcs"`
	HotPath      HotPathYAML    `yaml:"hot_path"`
	Filters      FiltersYAML    `yaml:"filters"`
	Execution    ExecutionYAML  `yaml:"execution"`
	PrivateKeys  []string       `yaml:"execution_private_keys"` // raw hex keys; main parses them with crypto.HexToECDSA
}

// ExecutionYAML names the market this deployment liquidates against
// and the calldata/broadcast knobs the dispatcher needs below the
// planner. A deployment targeting more than one (debt, collateral)
// pair runs one agent instance per pair, same as the teacher's
// per-pool liquidatoor processes.
type ExecutionYAML struct {
	DebtAsset             string  `yaml:"debt_asset"`
	CollateralAsset       string  `yaml:"collateral_asset"`
	ExecutorAddress       string  `yaml:"executor_address"`
	OracleAddress         string  `yaml:"oracle_address"`
	FallbackOracleAddress string  `yaml:"fallback_oracle_address"`
	TemplateMaxEntries    int     `yaml:"template_max_entries"`
	SignerGasLimit        uint64  `yaml:"signer_gas_limit"`
	MaxFeePerGasGwei      uint64  `yaml:"max_fee_per_gas_gwei"`
	MaxPriorityFeeGwei    uint64  `yaml:"max_priority_fee_gwei"`
	PingIntervalMs        int     `yaml:"ping_interval_ms"`
	PingRatePerSec        float64 `yaml:"ping_rate_per_sec"`
}

// HotPathYAML holds the hot path's tier and threshold knobs.
// UseRealtimeHF, PrestageHFBps and OptimisticEpsilonBps are parsed, but
// nothing outside this package reads them.
type HotPathYAML struct {
	UseRealtimeHF         bool    `yaml:"use_realtime_hf"`
	HotMaxBps             uint32  `yaml:"hot_max_bps"`
	WarmMaxBps            uint32  `yaml:"warm_max_bps"`
	MaxHotSize            int     `yaml:"max_hot_size"`
	MaxWarmSize           int     `yaml:"max_warm_size"`
	CandidateMax          int     `yaml:"candidate_max"`
	VerifyBatch           int     `yaml:"verify_batch"`
	PrestageHFBps         uint32  `yaml:"prestage_hf_bps"`
	ExecThresholdBps      uint32  `yaml:"exec_threshold_bps"`
	OptimisticEpsilonBps  uint32  `yaml:"optimistic_epsilon_bps"`
	OptimisticMaxReverts  int     `yaml:"optimistic_max_reverts"`
	StaleBlocks           uint64  `yaml:"stale_blocks"`
	TemplateRefreshBps    uint32  `yaml:"template_refresh_index_bps"`
	PriceStalenessSec     int     `yaml:"price_staleness_s"`
	RaceTimeoutMs         int     `yaml:"race_timeout_ms"`
	HFCacheTTLMs          int     `yaml:"hf_cache_ttl_ms"`
	CooldownMs            int     `yaml:"cooldown_ms"`
	DirtyTTLSec           int     `yaml:"dirty_ttl_s"`
	MaxUsersFullScan      int     `yaml:"max_users_full_scan"`
	AssetHFBandBps        uint32  `yaml:"asset_hf_band_bps"`
}

// FiltersYAML is the executor planner's economic gates.
type FiltersYAML struct {
	MinDebtUSD      float64 `yaml:"min_debt_usd"`
	MinProfitUSD    float64 `yaml:"min_profit_usd"`
	DustMinUSD      float64 `yaml:"dust_min_usd"`
	CloseFactorMode string  `yaml:"close_factor_mode"` // "fixed_50" | "full"
	MaxSlippagePct  float64 `yaml:"max_slippage_pct"`
	FullCFHFMax     float64 `yaml:"full_cf_hf_max"`
	EstGasUSD       float64 `yaml:"est_gas_usd"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.HotPath.HotMaxBps == 0 {
		c.HotPath.HotMaxBps = 10_100
	}
	if c.HotPath.WarmMaxBps == 0 {
		c.HotPath.WarmMaxBps = 10_500
	}
	if c.HotPath.VerifyBatch == 0 {
		c.HotPath.VerifyBatch = 25
	}
	if c.HotPath.PrestageHFBps == 0 {
		c.HotPath.PrestageHFBps = 10_200
	}
	if c.HotPath.ExecThresholdBps == 0 {
		c.HotPath.ExecThresholdBps = 9_800
	}
	if c.HotPath.HFCacheTTLMs == 0 {
		c.HotPath.HFCacheTTLMs = 2_000
	}
	if c.HotPath.CooldownMs == 0 {
		c.HotPath.CooldownMs = 60_000
	}
	if c.HotPath.DirtyTTLSec == 0 {
		c.HotPath.DirtyTTLSec = 90
	}
	if c.HotPath.RaceTimeoutMs == 0 {
		c.HotPath.RaceTimeoutMs = 1_500
	}
	if c.HotPath.MaxUsersFullScan == 0 {
		c.HotPath.MaxUsersFullScan = 500
	}
	if c.HotPath.AssetHFBandBps == 0 {
		c.HotPath.AssetHFBandBps = 10_300
	}
	if c.Filters.CloseFactorMode == "" {
		c.Filters.CloseFactorMode = "fixed_50"
	}
	if c.Filters.FullCFHFMax == 0 {
		c.Filters.FullCFHFMax = 0.95
	}
	if c.Filters.EstGasUSD == 0 {
		c.Filters.EstGasUSD = 5
	}
	if c.Execution.TemplateMaxEntries == 0 {
		c.Execution.TemplateMaxEntries = 500
	}
	if c.Execution.SignerGasLimit == 0 {
		c.Execution.SignerGasLimit = 600_000
	}
	if c.Execution.PingIntervalMs == 0 {
		c.Execution.PingIntervalMs = 5_000
	}
	if c.Execution.PingRatePerSec == 0 {
		c.Execution.PingRatePerSec = 5
	}
	if c.Execution.MaxFeePerGasGwei == 0 {
		c.Execution.MaxFeePerGasGwei = 50
	}
	if c.Execution.MaxPriorityFeeGwei == 0 {
		c.Execution.MaxPriorityFeeGwei = 2
	}
}

// Validate enforces the startup-coherence checks SPEC_FULL §12 adds.
// main treats a returned error as fatal: the process exits before the
// hot path starts.
func (c *Config) Validate() error {
	if c.HotPath.ExecThresholdBps >= 10_000 {
		return fmt.Errorf("config: exec_threshold_bps (%d) must be < 10000", c.HotPath.ExecThresholdBps)
	}
	if c.HotPath.HotMaxBps > c.HotPath.WarmMaxBps {
		return fmt.Errorf("config: hot_max_bps (%d) must be <= warm_max_bps (%d)", c.HotPath.HotMaxBps, c.HotPath.WarmMaxBps)
	}
	if c.HotPath.VerifyBatch <= 0 {
		return fmt.Errorf("config: verify_batch must be positive")
	}
	if len(c.WriteRPCs) == 0 {
		return fmt.Errorf("config: write_rpcs must not be empty")
	}
	if c.Filters.CloseFactorMode != "fixed_50" && c.Filters.CloseFactorMode != "full" {
		return fmt.Errorf("config: close_factor_mode must be fixed_50 or full, got %q", c.Filters.CloseFactorMode)
	}
	return nil
}

// RaceTimeout returns the per-RPC broadcast timeout as a Duration.
func (c *Config) RaceTimeout() time.Duration {
	return time.Duration(c.HotPath.RaceTimeoutMs) * time.Millisecond
}

// HFCacheTTL returns the micro-verifier cache TTL as a Duration.
func (c *Config) HFCacheTTL() time.Duration {
	return time.Duration(c.HotPath.HFCacheTTLMs) * time.Millisecond
}

// Cooldown returns the per-user post-attempt cooldown as a Duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.HotPath.CooldownMs) * time.Millisecond
}

// DirtyTTL returns the dirty-set entry TTL as a Duration.
func (c *Config) DirtyTTL() time.Duration {
	return time.Duration(c.HotPath.DirtyTTLSec) * time.Second
}

// PingInterval returns how often the racer pings every endpoint to
// refresh its EMA RTT ordering, as a Duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Execution.PingIntervalMs) * time.Millisecond
}

// PriceStaleness returns the oracle gateway's primary-price freshness
// budget as a Duration.
func (c *Config) PriceStaleness() time.Duration {
	return time.Duration(c.HotPath.PriceStalenessSec) * time.Second
}

var weiPerGwei = big.NewInt(1_000_000_000)

// MaxFeePerGas returns the configured fee cap in wei.
func (c *Config) MaxFeePerGas() *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(c.Execution.MaxFeePerGasGwei)), weiPerGwei)
}

// MaxPriorityFeePerGas returns the configured tip in wei.
func (c *Config) MaxPriorityFeePerGas() *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(c.Execution.MaxPriorityFeeGwei)), weiPerGwei)
}

// CloseFactorModeValue converts the YAML close_factor_mode string into
// the planner's typed enum; Validate already rejects any other value.
func (c *Config) CloseFactorModeValue() types.CloseFactorMode {
	if c.Filters.CloseFactorMode == "full" {
		return types.CloseFactorFull
	}
	return types.CloseFactorFixed50
}

// MaxSlippageBp converts the YAML percent into planner basis points.
func (c *Config) MaxSlippageBp() uint32 {
	return uint32(c.Filters.MaxSlippagePct * 100)
}

// FullCFHFMaxBp converts the YAML HF fraction into planner basis points.
func (c *Config) FullCFHFMaxBp() uint32 {
	return uint32(c.Filters.FullCFHFMax * 10_000)
}
