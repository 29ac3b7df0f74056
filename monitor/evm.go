package monitor

import (
	"context"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/openmerch/paywatch/clients"
	"github.com/openmerch/paywatch/ledger"
	"github.com/openmerch/paywatch/logger"
	"github.com/openmerch/paywatch/metrics"
	"github.com/openmerch/paywatch/types"
)

// transferTopic is the ERC-20 Transfer(address,address,uint256) event
// signature hash.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMMonitor watches one EVM network for payments to per-intent receive
// addresses: ERC-20 transfer logs for token intents, block transaction
// scans for native-currency intents.
type EVMMonitor struct {
	network  types.Network
	chain    clients.EVMChain
	store    ledger.Store
	callback Callback
	tokens   []types.TokenConfig
	cfg      Config
	log      logger.Logger
	rec      metrics.Recorder

	pollLoop

	// Highest block already scanned. Owned by the loop goroutine; only
	// read elsewhere through tests calling Tick directly.
	watermark   uint64
	initialized bool
}

var _ Monitor = (*EVMMonitor)(nil)

func NewEVMMonitor(
	network types.Network,
	chain clients.EVMChain,
	store ledger.Store,
	callback Callback,
	tokens []types.TokenConfig,
	cfg Config,
	log logger.Logger,
	rec metrics.Recorder,
) *EVMMonitor {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	m := &EVMMonitor{
		network:  network,
		chain:    chain,
		store:    store,
		callback: callback,
		tokens:   tokens,
		cfg:      cfg,
		log:      log,
		rec:      rec,
	}
	m.pollLoop.interval = cfg.Interval
	return m
}

func (m *EVMMonitor) Network() types.Network {
	return m.network
}

func (m *EVMMonitor) Start() error {
	if !m.pollLoop.start(m.Tick) {
		return nil
	}
	m.log.Info("evm monitor started", map[string]any{"network": m.network.String()})
	return nil
}

func (m *EVMMonitor) Stop() {
	m.pollLoop.halt()
	m.log.Info("evm monitor stopped", map[string]any{"network": m.network.String()})
}

// Tick runs one poll iteration. An RPC failure aborts the tick without
// advancing the watermark; the unchanged watermark re-derives the same
// scan range on the next tick, which is the retry mechanism.
func (m *EVMMonitor) Tick(ctx context.Context) {
	labels := map[string]string{"network": m.network.String()}
	m.rec.IncCounter("tick", labels)
	start := time.Now()
	defer func() { m.rec.ObserveLatency("tick", time.Since(start), labels) }()

	current, err := m.chain.BlockNumber(ctx)
	if err != nil {
		m.rec.IncCounter("tick_error", labels)
		m.log.Warn("block height query failed", map[string]any{
			"network": m.network.String(), "error": err.Error(),
		})
		return
	}

	if !m.initialized {
		// First successful tick pins the watermark at the current head so
		// historical blocks are never scanned.
		m.watermark = current
		m.initialized = true
		return
	}

	if current <= m.watermark {
		return
	}

	pending, err := m.store.PendingIntents(ctx, ledger.IntentFilter{Network: m.network})
	if err != nil {
		m.rec.IncCounter("tick_error", labels)
		m.log.Error("pending intent query failed", map[string]any{
			"network": m.network.String(), "error": err.Error(),
		})
		return
	}
	if len(pending) == 0 {
		// Nothing to match; skip the scan but don't fall behind.
		m.watermark = current
		return
	}

	// The native scan walks full blocks, so the range is capped to bound
	// RPC cost. Older blocks are picked up on subsequent ticks.
	scanEnd := current
	if scanEnd > m.watermark+m.cfg.NativeBlockWindow {
		scanEnd = m.watermark + m.cfg.NativeBlockWindow
	}
	from, to := m.watermark+1, scanEnd

	for _, token := range m.tokens {
		if !m.scanTokenTransfers(ctx, token, pending, from, to) {
			return
		}
	}

	if !m.scanNativeTransfers(ctx, pending, from, to) {
		return
	}

	m.watermark = scanEnd
}

// scanTokenTransfers queries Transfer logs for one token contract over the
// block range and matches them against pending intents for that asset.
// Returns false when the tick must abort.
func (m *EVMMonitor) scanTokenTransfers(ctx context.Context, token types.TokenConfig, pending []*types.PaymentIntent, from, to uint64) bool {
	candidates := make(map[string]*types.PaymentIntent)
	for _, intent := range pending {
		if intent.Asset == token.Asset {
			candidates[strings.ToLower(intent.PayAddress)] = intent
		}
	}
	if len(candidates) == 0 {
		return true
	}

	logs, err := m.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(token.Contract)},
		Topics:    [][]common.Hash{{transferTopic}},
	})
	if err != nil {
		m.rec.IncCounter("tick_error", map[string]string{"network": m.network.String()})
		m.log.Warn("transfer log query failed", map[string]any{
			"network": m.network.String(), "token": token.Asset.String(), "error": err.Error(),
		})
		return false
	}

	for _, lg := range logs {
		dest, amount, ok := decodeTransfer(lg, token.Decimals)
		if !ok {
			// Malformed log entries are skipped in isolation.
			m.log.Debug("skipping malformed transfer log", map[string]any{
				"network": m.network.String(), "tx": lg.TxHash.Hex(),
			})
			continue
		}

		intent, ok := candidates[strings.ToLower(dest.Hex())]
		if !ok {
			continue
		}
		if !meetsTolerance(amount, intent.AmountCrypto, m.cfg.TokenTolerance) {
			m.log.Info("transfer below tolerance", map[string]any{
				"network": m.network.String(), "intent": intent.ID,
				"expected": intent.AmountCrypto.String(), "observed": amount.String(),
			})
			continue
		}

		// One log satisfies at most one intent, and an intent is matched
		// at most once per tick.
		delete(candidates, strings.ToLower(dest.Hex()))
		m.rec.IncCounter("match", map[string]string{"network": m.network.String()})
		m.callback(ctx, intent, lg.TxHash.Hex(), amount)
	}
	return true
}

// scanNativeTransfers walks the block range and matches native-currency
// transactions against pending native intents. Returns false when the tick
// must abort.
func (m *EVMMonitor) scanNativeTransfers(ctx context.Context, pending []*types.PaymentIntent, from, to uint64) bool {
	nativeAsset := m.network.NativeAsset()
	candidates := make(map[string]*types.PaymentIntent)
	for _, intent := range pending {
		if intent.Asset == nativeAsset {
			candidates[strings.ToLower(intent.PayAddress)] = intent
		}
	}
	if len(candidates) == 0 {
		return true
	}

	for number := from; number <= to; number++ {
		block, err := m.chain.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			m.rec.IncCounter("tick_error", map[string]string{"network": m.network.String()})
			m.log.Warn("block query failed", map[string]any{
				"network": m.network.String(), "block": number, "error": err.Error(),
			})
			return false
		}

		for _, tx := range block.Transactions() {
			m.matchNativeTx(ctx, tx, candidates)
		}
	}
	return true
}

func (m *EVMMonitor) matchNativeTx(ctx context.Context, tx *gethtypes.Transaction, candidates map[string]*types.PaymentIntent) {
	if tx.To() == nil {
		return
	}
	key := strings.ToLower(tx.To().Hex())
	intent, ok := candidates[key]
	if !ok {
		return
	}

	amount := decimal.NewFromBigInt(tx.Value(), -m.network.NativeDecimals())
	if !meetsTolerance(amount, intent.AmountCrypto, m.cfg.NativeTolerance) {
		m.log.Info("native transfer below tolerance", map[string]any{
			"network": m.network.String(), "intent": intent.ID,
			"expected": intent.AmountCrypto.String(), "observed": amount.String(),
		})
		return
	}

	delete(candidates, key)
	m.rec.IncCounter("match", map[string]string{"network": m.network.String()})
	m.callback(ctx, intent, tx.Hash().Hex(), amount)
}

// decodeTransfer extracts the destination address and amount from an
// ERC-20 Transfer log. The amount is scaled by the token's decimals.
func decodeTransfer(lg gethtypes.Log, decimals int32) (common.Address, decimal.Decimal, bool) {
	if len(lg.Topics) < 3 || len(lg.Data) != 32 {
		return common.Address{}, decimal.Decimal{}, false
	}
	dest := common.BytesToAddress(lg.Topics[2].Bytes()[12:])
	raw := new(big.Int).SetBytes(lg.Data)
	return dest, decimal.NewFromBigInt(raw, -decimals), true
}
