package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avalnetsec/liquidator/internal/borrower"
	"github.com/avalnetsec/liquidator/internal/config"
	"github.com/avalnetsec/liquidator/internal/dirtyset"
	"github.com/avalnetsec/liquidator/internal/fixedpoint"
	"github.com/avalnetsec/liquidator/internal/ingest"
	"github.com/avalnetsec/liquidator/internal/oracle"
	"github.com/avalnetsec/liquidator/internal/planner"
	"github.com/avalnetsec/liquidator/internal/prestage"
	"github.com/avalnetsec/liquidator/internal/projector"
	"github.com/avalnetsec/liquidator/internal/racer"
	"github.com/avalnetsec/liquidator/internal/registry"
	"github.com/avalnetsec/liquidator/internal/reversion"
	"github.com/avalnetsec/liquidator/internal/scheduler"
	"github.com/avalnetsec/liquidator/internal/signer"
	"github.com/avalnetsec/liquidator/internal/template"
	"github.com/avalnetsec/liquidator/internal/trace"
	"github.com/avalnetsec/liquidator/internal/verifier"
	"github.com/avalnetsec/liquidator/internal/watchtier"
	"github.com/avalnetsec/liquidator/pkg/contractclient"
	"github.com/avalnetsec/liquidator/pkg/types"
)

// Event signatures the ingestor's log subscription routes by topic
// hash: the protocol's variable-debt Transfer, its reserve-data
// update, and the oracle's Chainlink-style answer update.
var (
	transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	reserveEventSig  = crypto.Keccak256Hash([]byte("ReserveDataUpdated(address,uint256,uint256,uint256,uint256,uint256)"))
	priceEventSig    = crypto.Keccak256Hash([]byte("AnswerUpdated(int256,uint256,uint256)"))
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("no .env file loaded")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfgPath := os.Getenv("LIQUIDATOR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yml"
	}

	if err := run(cfgPath); err != nil {
		log.Fatal().Err(err).Msg("liquidator exited")
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("main: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("main: invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return fmt.Errorf("main: dial rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("main: fetch chain id: %w", err)
	}

	protocolABI, err := contractclient.LoadABIFromHardhatArtifact(os.Getenv("PROTOCOL_ABI_PATH"))
	if err != nil {
		return fmt.Errorf("main: load protocol abi: %w", err)
	}
	multicallABI, err := contractclient.LoadABIFromHardhatArtifact(os.Getenv("MULTICALL_ABI_PATH"))
	if err != nil {
		return fmt.Errorf("main: load multicall abi: %w", err)
	}
	protocolClient := contractclient.New(common.HexToAddress(os.Getenv("PROTOCOL_ADDRESS")), protocolABI)
	multicallClient := contractclient.New(common.HexToAddress(os.Getenv("MULTICALL_ADDRESS")), multicallABI)

	reg, err := buildRegistry(client)
	if err != nil {
		return err
	}

	oracleGW, err := buildOracleGateway(client, cfg)
	if err != nil {
		return fmt.Errorf("main: build oracle gateway: %w", err)
	}

	reversionBudget := reversion.New(cfg.HotPath.OptimisticMaxReverts)

	dirty := dirtyset.New(cfg.DirtyTTL())
	tiers := watchtier.New(cfg.HotPath.HotMaxBps, cfg.HotPath.WarmMaxBps, cfg.HotPath.MaxHotSize, cfg.HotPath.MaxWarmSize)
	prestageEngine := prestage.New(cfg.HotPath.CandidateMax, cfg.HotPath.StaleBlocks, fixedpoint.FromFloatBase(cfg.Filters.MinDebtUSD))
	assetIndex := scheduler.NewAssetIndex()
	traceStore := trace.New(10_000, 5*time.Minute)

	borrowerRepo := borrower.NewMemoryRepository(0)
	borrowerIndex := borrower.New(borrowerRepo, log.Logger)

	debtAsset := common.HexToAddress(cfg.Execution.DebtAsset)
	collateralAsset := common.HexToAddress(cfg.Execution.CollateralAsset)
	debtReserve, err := reg.Get(ctx, debtAsset)
	if err != nil {
		log.Warn().Err(err).Str("asset", debtAsset.Hex()).Msg("debt reserve metadata fetch failed, using UNKNOWN default")
	}
	collReserve, err := reg.Get(ctx, collateralAsset)
	if err != nil {
		log.Warn().Err(err).Str("asset", collateralAsset.Hex()).Msg("collateral reserve metadata fetch failed, using UNKNOWN default")
	}
	seedAssetIndex(ctx, assetIndex, borrowerIndex, debtAsset)
	seedAssetIndex(ctx, assetIndex, borrowerIndex, collateralAsset)

	agg := verifier.NewMulticallAggregator(client, multicallClient, protocolClient, protocolClient.Address())
	hfVerifier, err := verifier.New(agg, cfg.HotPath.VerifyBatch, cfg.HFCacheTTL(), 0)
	if err != nil {
		return fmt.Errorf("main: build verifier: %w", err)
	}

	selector, err := liquidationCallSelector(protocolABI)
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}
	templates, err := template.New(cfg.Execution.TemplateMaxEntries, cfg.HotPath.TemplateRefreshBps, selector)
	if err != nil {
		return fmt.Errorf("main: build template cache: %w", err)
	}

	signerPool, err := buildSignerPool(ctx, client, chainID, cfg.PrivateKeys)
	if err != nil {
		return fmt.Errorf("main: build signer pool: %w", err)
	}

	writeClients, err := dialWriteClients(ctx, cfg.WriteRPCs)
	if err != nil {
		return fmt.Errorf("main: dial write rpcs: %w", err)
	}
	txRacer := racer.New(writeClients, cfg.Execution.PingRatePerSec)

	proj := projector.New(10)
	execKey := template.Key{Debt: debtAsset, Collateral: collateralAsset}

	dispatcher := &planDispatcher{
		cfg:             cfg,
		budget:          reversionBudget,
		traces:          traceStore,
		log:             log.Logger,
		oracleGW:        oracleGW,
		templates:       templates,
		signers:         signerPool,
		racer:           txRacer,
		execKey:         execKey,
		debtReserve:     debtReserve,
		collReserve:     collReserve,
		chainID:         chainID,
		executorAddress: common.HexToAddress(cfg.Execution.ExecutorAddress),
		gasLimit:        cfg.Execution.SignerGasLimit,
		maxFeePerGas:    cfg.MaxFeePerGas(),
		maxPriorityFee:  cfg.MaxPriorityFeePerGas(),
		raceTimeout:     cfg.RaceTimeout(),
	}

	sched := scheduler.New(tiers, dirty, prestageEngine, assetIndex, hfVerifier, dispatcher, log.Logger,
		cfg.HotPath.MaxUsersFullScan, cfg.HotPath.AssetHFBandBps, cfg.Cooldown(), cfg.HotPath.VerifyBatch,
		proj, oracleGW, execKey)

	sink := &chainSink{sched: sched, dirty: dirty, borrowerIndex: borrowerIndex, log: log.Logger}
	ingestor := ingest.New(client, sink, log.Logger, 40*time.Millisecond, 256, transferEventSig, reserveEventSig, priceEventSig)

	filterQuery := ethereum.FilterQuery{
		Addresses: []common.Address{debtReserve.VariableDebtToken, collReserve.VariableDebtToken, protocolClient.Address()},
		Topics:    [][]common.Hash{{transferEventSig, reserveEventSig, priceEventSig}},
	}

	log.Info().Str("rpc", cfg.RPC).Msg("liquidator started")

	go runIngestor(ctx, ingestor, filterQuery, log.Logger)
	go runPingLoop(ctx, txRacer, cfg.PingInterval())

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining in-flight work")
	return nil
}

func buildRegistry(client *ethclient.Client) (*registry.Registry, error) {
	erc20Reader, err := registry.NewERC20Reader(client)
	if err != nil {
		return nil, fmt.Errorf("main: build erc20 reader: %w", err)
	}
	return registry.New(erc20Reader, nil, time.Hour, log.Logger), nil
}

// buildOracleGateway wires the Price Oracle Gateway against the
// protocol's own oracle contract as primary, and (if configured) a
// second, independently-deployed oracle of the same shape as
// fallback. A deployment with no fallback_oracle_address runs
// primary-only: the gateway already treats a nil fallback as "no
// redundant feed" rather than an error.
func buildOracleGateway(client *ethclient.Client, cfg *config.Config) (*oracle.Gateway, error) {
	oracleABI, err := contractclient.LoadABIFromHardhatArtifact(os.Getenv("ORACLE_ABI_PATH"))
	if err != nil {
		return nil, fmt.Errorf("load oracle abi: %w", err)
	}
	primaryClient := contractclient.New(common.HexToAddress(cfg.Execution.OracleAddress), oracleABI)
	primary := oracle.NewChainPrimaryReader(client, primaryClient)

	var fallback oracle.FallbackReader
	if cfg.Execution.FallbackOracleAddress != "" {
		fallbackClient := contractclient.New(common.HexToAddress(cfg.Execution.FallbackOracleAddress), oracleABI)
		fallback = oracle.NewChainFallbackReader(client, fallbackClient)
	}
	return oracle.New(primary, fallback, cfg.PriceStaleness(), log.Logger), nil
}

func seedAssetIndex(ctx context.Context, idx *scheduler.AssetIndex, borrowerIndex *borrower.Index, asset common.Address) {
	borrowers, err := borrowerIndex.Borrowers(ctx, asset, 0)
	if err != nil {
		log.Warn().Err(err).Str("asset", asset.Hex()).Msg("borrower index seed lookup failed")
		return
	}
	for _, u := range borrowers {
		idx.Seed(asset, u)
	}
}

// liquidationCallSelector derives the 4-byte selector the template
// cache patches calldata against, from the protocol ABI's
// liquidationCall method.
func liquidationCallSelector(protocolABI abi.ABI) ([4]byte, error) {
	var out [4]byte
	m, ok := protocolABI.Methods["liquidationCall"]
	if !ok {
		return out, fmt.Errorf("protocol abi has no liquidationCall method")
	}
	copy(out[:], m.ID)
	return out, nil
}

// buildSignerPool decodes raw hex private keys, derives each signer's
// starting nonce from the chain's current pending count, and builds
// the pool those drive broadcasts through.
func buildSignerPool(ctx context.Context, client *ethclient.Client, chainID *big.Int, rawKeys []string) (*signer.Pool, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(rawKeys))
	nonces := make([]uint64, 0, len(rawKeys))
	for _, raw := range rawKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		nonce, err := client.PendingNonceAt(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("fetch nonce for %s: %w", addr.Hex(), err)
		}
		keys = append(keys, key)
		nonces = append(nonces, nonce)
	}
	return signer.New(chainID, keys, nonces)
}

// dialWriteClients connects one ethclient.Client per configured
// broadcast endpoint; ethclient.Client already satisfies
// racer.Broadcaster (SendTransaction, BlockNumber) with no adapter.
func dialWriteClients(ctx context.Context, rpcs []string) (map[string]racer.Broadcaster, error) {
	out := make(map[string]racer.Broadcaster, len(rpcs))
	for i, rpc := range rpcs {
		c, err := ethclient.DialContext(ctx, rpc)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", rpc, err)
		}
		out[fmt.Sprintf("write-%d", i)] = c
	}
	return out, nil
}

func runIngestor(ctx context.Context, ingestor *ingest.Ingestor, q ethereum.FilterQuery, log zerolog.Logger) {
	go func() {
		if err := ingestor.RunHeads(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("head ingestion stopped")
		}
	}()
	if err := ingestor.RunLogs(ctx, q); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("log ingestion stopped")
	}
}

func runPingLoop(ctx context.Context, r *racer.Racer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PingAll(ctx)
		}
	}
}

// chainSink adapts ingest.Sink to the scheduler and borrower index:
// Transfer logs drive both the dirty set and the borrower index's
// mint/burn/transfer accounting, reserve and price events drive the
// scheduler's emergency-scan paths, and every block header advances
// the scheduler's per-block pass.
type chainSink struct {
	sched         *scheduler.Scheduler
	dirty         *dirtyset.Set
	borrowerIndex *borrower.Index
	log           zerolog.Logger
}

func (s *chainSink) OnDirtyMark(reserve, from, to common.Address) {
	s.dirty.Mark(to, dirtyset.ReasonTransfer)
	if err := s.borrowerIndex.ApplyTransfer(context.Background(), reserve, from, to); err != nil {
		s.log.Warn().Err(err).Str("reserve", reserve.Hex()).Msg("borrower index update failed")
	}
}

func (s *chainSink) OnReserveBatch(batch []ingest.ReserveUpdate) {
	s.sched.OnReserveEvent(context.Background(), batch)
}

func (s *chainSink) OnBlockHeader(header *ethtypes.Header) {
	s.sched.OnNewHead(context.Background(), header)
}

func (s *chainSink) OnEmergencyScan(asset common.Address, block uint64) {
	s.sched.OnPriceEvent(context.Background(), asset, block)
}

// planDispatcher adapts the planner/template/signer/racer pipeline to
// scheduler.Dispatcher: every liquidatable snapshot is priced, planned,
// patched into calldata, signed, and raced to broadcast, with every
// outcome recorded in the decision trace store.
type planDispatcher struct {
	cfg    *config.Config
	budget *reversion.Budget
	traces *trace.Store
	log    zerolog.Logger

	oracleGW  *oracle.Gateway
	templates *template.Cache
	signers   *signer.Pool
	racer     *racer.Racer

	execKey         template.Key
	debtReserve     types.Reserve
	collReserve     types.Reserve
	chainID         *big.Int
	executorAddress common.Address
	gasLimit        uint64
	maxFeePerGas    *big.Int
	maxPriorityFee  *big.Int
	raceTimeout     time.Duration
}

func (d *planDispatcher) Dispatch(ctx context.Context, snap types.UserSnapshot) {
	d.log.Info().Str("user", snap.User.Hex()).Str("hf", snap.HealthFactor.String()).Msg("liquidatable snapshot observed")

	rec := types.DecisionTrace{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		User:         snap.User,
		DebtAsset:    d.execKey.Debt,
		Collateral:   d.execKey.Collateral,
		HealthFactor: snap.HealthFactor,
	}

	if !d.budget.CanExecuteOptimistic() {
		rec.Action = types.ActionSkip
		rec.SkipReason = types.SkipCallStaticFail
		d.traces.Record(rec)
		d.log.Warn().Str("user", snap.User.Hex()).Msg("daily revert cap tripped, deferring dispatch")
		return
	}

	blockTag := int64(snap.Block)
	debtPrice, err := d.oracleGW.Price(ctx, d.execKey.Debt, &blockTag)
	if err != nil {
		rec.Action = types.ActionSkip
		rec.SkipReason = types.SkipPriceStale
		d.traces.Record(rec)
		d.log.Warn().Err(err).Str("user", snap.User.Hex()).Msg("debt price read failed")
		return
	}
	collPrice, err := d.oracleGW.Price(ctx, d.execKey.Collateral, &blockTag)
	if err != nil {
		rec.Action = types.ActionSkip
		rec.SkipReason = types.SkipPriceStale
		d.traces.Record(rec)
		d.log.Warn().Err(err).Str("user", snap.User.Hex()).Msg("collateral price read failed")
		return
	}
	rec.PriceSource = collPrice.Source

	plan, skip := planner.Plan(d.planInputs(snap, debtPrice, collPrice))
	if skip != types.SkipNone {
		rec.Action = types.ActionSkip
		rec.SkipReason = skip
		d.traces.Record(rec)
		return
	}

	entry := d.templates.Get(d.execKey, nil)
	if entry == nil {
		entry = d.templates.Build(d.execKey, nil, snap.Block)
	}
	calldata := entry.Patch(snap.User, plan.RepayWei)

	lease, err := d.signers.Acquire(time.Now().UnixMilli())
	if err != nil {
		rec.Action = types.ActionSkip
		rec.SkipReason = types.SkipCallStaticFail
		d.traces.Record(rec)
		d.log.Warn().Err(err).Msg("no signer available")
		return
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     lease.Nonce,
		To:        &d.executorAddress,
		Value:     big.NewInt(0),
		Gas:       d.gasLimit,
		GasFeeCap: d.maxFeePerGas,
		GasTipCap: d.maxPriorityFee,
		Data:      calldata,
	})

	signedTx, err := lease.SignTx(tx)
	if err != nil {
		lease.Release()
		rec.Action = types.ActionSkip
		rec.SkipReason = types.SkipCallStaticFail
		d.traces.Record(rec)
		d.log.Warn().Err(err).Msg("tx signing failed")
		return
	}

	hash, err := d.racer.Broadcast(ctx, signedTx, d.raceTimeout)
	lease.Release()
	rec.Action = types.ActionAttempt
	if err != nil {
		d.budget.RecordRevert()
		rec.SkipReason = types.SkipCallStaticFail
		d.traces.Record(rec)
		d.log.Warn().Err(err).Str("user", snap.User.Hex()).Msg("broadcast failed")
		return
	}

	d.budget.RecordSuccess()
	rec.AttemptHash = common.HexToHash(hash)
	d.traces.Record(rec)
	d.log.Info().Str("user", snap.User.Hex()).Str("tx", hash).Msg("liquidation broadcast")
}

// planInputs assembles planner.Inputs from a snapshot's aggregate USD
// exposure against the single (debt, collateral) market this
// deployment targets: UserSnapshot carries only TotalCollateralBase/
// TotalDebtBase (already BaseUnitScale USD, per the protocol's
// getUserAccountData ABI), so each leg becomes a single Position
// against the configured asset rather than a per-reserve breakdown.
func (d *planDispatcher) planInputs(snap types.UserSnapshot, debtPrice, collPrice types.OracleResult) planner.Inputs {
	debtUSD := snap.TotalDebtBase
	collUSD := snap.TotalCollateralBase
	debtWei := weiFromUSD(debtUSD, d.debtReserve.Decimals, debtPrice.PriceUSD)
	collWei := weiFromUSD(collUSD, d.collReserve.Decimals, collPrice.PriceUSD)

	return planner.Inputs{
		User:         snap.User,
		HealthFactor: snap.HealthFactor,
		TotalDebtUSD: debtUSD,
		DebtPositions: []planner.Position{
			{Asset: d.execKey.Debt, Decimals: d.debtReserve.Decimals, Wei: debtWei, USD: debtUSD},
		},
		CollateralPositions: []planner.Position{
			{Asset: d.execKey.Collateral, Decimals: d.collReserve.Decimals, Wei: collWei, USD: collUSD},
		},
		LiquidationBonusBp: d.collReserve.LiquidationBonusBp,
		PriceDebtUSD:       debtPrice.PriceUSD,
		PriceCollateralUSD: collPrice.PriceUSD,
		EstGasUSD:          fixedpoint.FromFloatBase(d.cfg.Filters.EstGasUSD),
		CloseFactorMode:    d.cfg.CloseFactorModeValue(),
		FullCFHFMaxBp:      d.cfg.FullCFHFMaxBp(),
		DustMinUSD:         fixedpoint.FromFloatBase(d.cfg.Filters.DustMinUSD),
		MinDebtUSD:         fixedpoint.FromFloatBase(d.cfg.Filters.MinDebtUSD),
		MinProfitUSD:       fixedpoint.FromFloatBase(d.cfg.Filters.MinProfitUSD),
		MaxSlippageBp:      d.cfg.MaxSlippageBp(),
	}
}

// weiFromUSD inverts planner.usdOf: wei = usd * 10^decimals / priceUSD.
func weiFromUSD(usd *uint256.Int, decimals uint8, priceUSD *uint256.Int) *uint256.Int {
	if usd == nil || priceUSD == nil || priceUSD.IsZero() {
		return uint256.NewInt(0)
	}
	scale := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < decimals; i++ {
		scale.Mul(scale, ten)
	}
	num := new(uint256.Int).Mul(usd, scale)
	return num.Div(num, priceUSD)
}
