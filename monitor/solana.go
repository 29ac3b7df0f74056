package monitor

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/openmerch/paywatch/clients"
	"github.com/openmerch/paywatch/ledger"
	"github.com/openmerch/paywatch/logger"
	"github.com/openmerch/paywatch/metrics"
	"github.com/openmerch/paywatch/types"
)

// SolanaMonitor watches a single shared receive address. With no
// per-payment addressing available, the expected crypto amount is the
// correlating key: each new transaction's balance delta is matched against
// the pending intents' expected amounts under tolerance.
type SolanaMonitor struct {
	network  types.Network
	chain    clients.SolanaChain
	store    ledger.Store
	callback Callback
	address  solana.PublicKey
	cfg      Config
	log      logger.Logger
	rec      metrics.Recorder

	pollLoop

	// High-water mark: the newest signature already seen. Recorded before
	// any matching so historical transactions are never rescanned.
	highWater   solana.Signature
	initialized bool
}

var _ Monitor = (*SolanaMonitor)(nil)

func NewSolanaMonitor(
	network types.Network,
	chain clients.SolanaChain,
	store ledger.Store,
	callback Callback,
	address solana.PublicKey,
	cfg Config,
	log logger.Logger,
	rec metrics.Recorder,
) *SolanaMonitor {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	m := &SolanaMonitor{
		network:  network,
		chain:    chain,
		store:    store,
		callback: callback,
		address:  address,
		cfg:      cfg,
		log:      log,
		rec:      rec,
	}
	m.pollLoop.interval = cfg.Interval
	return m
}

func (m *SolanaMonitor) Network() types.Network {
	return m.network
}

func (m *SolanaMonitor) Start() error {
	// Pin the high-water mark before the loop begins so only transactions
	// that land after startup are ever considered. A transient failure
	// here is retried at the top of the first tick.
	if err := m.initHighWater(context.Background()); err != nil {
		m.log.Warn("initial signature query failed", map[string]any{
			"network": m.network.String(), "error": err.Error(),
		})
	}

	if m.pollLoop.start(m.Tick) {
		m.log.Info("solana monitor started", map[string]any{
			"network": m.network.String(), "address": m.address.String(),
		})
	}
	return nil
}

func (m *SolanaMonitor) Stop() {
	m.pollLoop.halt()
	m.log.Info("solana monitor stopped", map[string]any{"network": m.network.String()})
}

func (m *SolanaMonitor) initHighWater(ctx context.Context) error {
	sig, err := m.chain.LatestSignature(ctx, m.address)
	if err != nil {
		return err
	}
	m.highWater = sig
	m.initialized = true
	return nil
}

// Tick runs one poll iteration.
func (m *SolanaMonitor) Tick(ctx context.Context) {
	labels := map[string]string{"network": m.network.String()}
	m.rec.IncCounter("tick", labels)
	start := time.Now()
	defer func() { m.rec.ObserveLatency("tick", time.Since(start), labels) }()

	if !m.initialized {
		if err := m.initHighWater(ctx); err != nil {
			m.rec.IncCounter("tick_error", labels)
			m.log.Warn("signature query failed", map[string]any{
				"network": m.network.String(), "error": err.Error(),
			})
		}
		return
	}

	pending, err := m.store.PendingIntents(ctx, ledger.IntentFilter{
		Network: m.network,
		Asset:   types.AssetSOL,
	})
	if err != nil {
		m.rec.IncCounter("tick_error", labels)
		m.log.Error("pending intent query failed", map[string]any{
			"network": m.network.String(), "error": err.Error(),
		})
		return
	}
	if len(pending) == 0 {
		return
	}

	sigs, err := m.chain.SignaturesSince(ctx, m.address, m.highWater, m.cfg.SignaturePageLimit)
	if err != nil {
		m.rec.IncCounter("tick_error", labels)
		m.log.Warn("signature history query failed", map[string]any{
			"network": m.network.String(), "error": err.Error(),
		})
		return
	}
	if len(sigs) == 0 {
		return
	}

	// Advance to the newest signature seen regardless of match outcome.
	m.highWater = sigs[0].Signature

	// Working set of unmatched intents for this tick. A matched intent is
	// removed so it cannot be matched twice within the same tick.
	remaining := pending

	// Signatures arrive newest first; process in chain order.
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Failed {
			continue
		}

		lamports, err := m.chain.BalanceDelta(ctx, sig.Signature, m.address)
		if err != nil {
			// Data-level failure on a single transaction; skip it rather
			// than abort the tick.
			m.log.Warn("transaction fetch failed", map[string]any{
				"network": m.network.String(), "signature": sig.Signature.String(), "error": err.Error(),
			})
			continue
		}
		if lamports <= 0 {
			continue
		}

		delta := decimal.New(lamports, -m.network.NativeDecimals())
		idx := m.closestMatch(delta, remaining)
		if idx < 0 {
			m.log.Info("no intent matches observed deposit", map[string]any{
				"network": m.network.String(), "signature": sig.Signature.String(), "delta": delta.String(),
			})
			continue
		}

		intent := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		m.rec.IncCounter("match", labels)
		m.callback(ctx, intent, sig.Signature.String(), delta)
	}
}

// closestMatch selects the unmatched intent whose expected amount is
// nearest the observed delta among those covered under tolerance. The
// closest-match rule makes amount collisions deterministic instead of
// scan-order dependent.
func (m *SolanaMonitor) closestMatch(delta decimal.Decimal, remaining []*types.PaymentIntent) int {
	best := -1
	var bestDiff decimal.Decimal
	for i, intent := range remaining {
		if !meetsTolerance(delta, intent.AmountCrypto, m.cfg.NativeTolerance) {
			continue
		}
		diff := delta.Sub(intent.AmountCrypto).Abs()
		if best < 0 || diff.LessThan(bestDiff) {
			best = i
			bestDiff = diff
		}
	}
	return best
}
