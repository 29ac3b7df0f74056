// Package paywatch is a multi-chain payment reconciliation engine for
// selling digital goods without custody of funds. Each checkout is pinned
// to a unique receive address (or, on chains without per-payment
// addressing, a unique expected amount); independent chain monitors poll
// the ledgers until a matching transfer appears, then drive the payment
// through its state machine to confirmation and delivery-readiness. No
// private key is ever held.
package paywatch

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openmerch/paywatch/allocator"
	"github.com/openmerch/paywatch/clients"
	"github.com/openmerch/paywatch/delivery"
	"github.com/openmerch/paywatch/ledger"
	"github.com/openmerch/paywatch/logger"
	"github.com/openmerch/paywatch/metrics"
	"github.com/openmerch/paywatch/monitor"
	"github.com/openmerch/paywatch/oracle"
	"github.com/openmerch/paywatch/types"
	"github.com/openmerch/paywatch/utils"
)

// Engine wires the ledger, the address allocator, the price oracle and the
// per-chain monitors together.
type Engine struct {
	cfg       Config
	store     ledger.Store
	prices    oracle.PriceOracle
	deliverer delivery.Deliverer
	alloc     *allocator.Allocator
	log       logger.Logger
	rec       metrics.Recorder

	monitors      []monitor.Monitor
	closers       []func()
	sweeper       *ledger.Sweeper
	solanaAddress map[types.Network]string
	started       bool
}

// New creates an Engine over a ledger store and a price oracle. The
// address allocator is only constructed when an extended public key is
// configured; registering an EVM network without one is a configuration
// error for that network alone.
func New(cfg Config, store ledger.Store, prices oracle.PriceOracle, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		store:         store,
		prices:        prices,
		log:           logger.NoopLogger{},
		rec:           metrics.NoopRecorder{},
		solanaAddress: make(map[types.Network]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deliverer == nil {
		e.deliverer = &delivery.LogDeliverer{Log: e.log}
	}

	e.sweeper = ledger.NewSweeper(store, cfg.PaymentTimeout, cfg.SweepInterval, e.log, e.rec)

	if cfg.XPub != "" {
		alloc, err := allocator.New(cfg.XPub, store)
		if err != nil {
			return nil, err
		}
		e.alloc = alloc
	}

	return e, nil
}

func (e *Engine) monitorConfig() monitor.Config {
	return monitor.Config{
		Interval:           e.cfg.PollInterval,
		TokenTolerance:     decimal.NewFromFloat(e.cfg.TokenTolerance),
		NativeTolerance:    decimal.NewFromFloat(e.cfg.NativeTolerance),
		NativeBlockWindow:  e.cfg.NativeBlockWindow,
		SignaturePageLimit: e.cfg.SignaturePageLimit,
	}
}

// AddEVMNetwork registers a monitor for an EVM-compatible chain watching
// the given token contracts plus the chain's native currency.
func (e *Engine) AddEVMNetwork(network types.Network, chain clients.EVMChain, tokens []types.TokenConfig) error {
	if !network.IsEVM() {
		return types.NewError(types.CodeConfiguration, "network %s is not an EVM network", network)
	}
	if e.alloc == nil {
		return types.NewError(types.CodeConfiguration, "EVM network %s requires an extended public key", network)
	}
	for _, token := range tokens {
		if err := validate.Struct(&token); err != nil {
			return fmt.Errorf("invalid token config for %s: %w", network, err)
		}
		if err := utils.ValidateEVMAddress(token.Contract); err != nil {
			return types.NewError(types.CodeConfiguration, "token %s on %s: %v", token.Asset, network, err)
		}
	}

	m := monitor.NewEVMMonitor(network, chain, e.store, e.reconcile, tokens, e.monitorConfig(), e.log, e.rec)
	e.monitors = append(e.monitors, m)
	e.closers = append(e.closers, chain.Close)
	return nil
}

// AddSolanaNetwork registers a monitor for a Solana chain watching the
// configured shared receive address.
func (e *Engine) AddSolanaNetwork(network types.Network, chain clients.SolanaChain) error {
	if !network.IsSolana() {
		return types.NewError(types.CodeConfiguration, "network %s is not a Solana network", network)
	}
	if e.cfg.SolanaAddress == "" {
		return types.NewError(types.CodeConfiguration, "Solana network %s requires a shared receive address", network)
	}
	address, err := solana.PublicKeyFromBase58(e.cfg.SolanaAddress)
	if err != nil {
		return types.NewError(types.CodeConfiguration, "invalid Solana receive address: %v", err)
	}

	m := monitor.NewSolanaMonitor(network, chain, e.store, e.reconcile, address, e.monitorConfig(), e.log, e.rec)
	e.monitors = append(e.monitors, m)
	e.solanaAddress[network] = address.String()
	return nil
}

// CreateCheckout prices a product, snapshots the oracle conversion,
// allocates a receive address and records the pending intent. The crypto
// amount is frozen here; later price moves never change it.
func (e *Engine) CreateCheckout(ctx context.Context, productSlug, buyerContact string, asset types.Asset, network types.Network) (*types.PaymentIntent, error) {
	product, err := e.store.GetProduct(ctx, productSlug)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, types.ErrInactiveProduct
	}

	amountCrypto, err := e.prices.USDToCrypto(ctx, product.PriceUSD, asset)
	if err != nil {
		return nil, fmt.Errorf("price product %s in %s: %w", productSlug, asset, err)
	}

	intent := &types.PaymentIntent{
		ID:           uuid.NewString(),
		ProductRef:   product.Slug,
		BuyerContact: buyerContact,
		AmountUSD:    product.PriceUSD,
		AmountCrypto: amountCrypto,
		Asset:        asset,
		Network:      network,
		Status:       types.StatusPending,
		CreatedAt:    time.Now(),
	}

	switch {
	case network.IsSolana():
		address, ok := e.solanaAddress[network]
		if !ok {
			return nil, types.NewError(types.CodeConfiguration, "Solana network %s is not registered", network)
		}
		intent.PayAddress = address
		intent.AddressIndex = types.SharedAddressIndex
	default:
		if e.alloc == nil {
			return nil, types.NewError(types.CodeConfiguration, "no extended public key configured for %s", network)
		}
		index, address, err := e.alloc.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		intent.AddressIndex = index
		intent.PayAddress = address
	}

	if err := validate.Struct(intent); err != nil {
		return nil, fmt.Errorf("invalid checkout: %w", err)
	}
	if err := e.store.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}

	e.log.Info("checkout created", map[string]any{
		"intent":  intent.ID,
		"product": product.Slug,
		"asset":   asset.String(),
		"network": network.String(),
		"amount":  amountCrypto.String(),
		"address": intent.PayAddress,
	})
	return intent, nil
}

// reconcile is the reconciliation callback shared by every monitor. It is
// invoked at least once per genuine matching transaction; the conditional
// pending -> confirmed transition absorbs re-delivery.
func (e *Engine) reconcile(ctx context.Context, intent *types.PaymentIntent, txRef string, observed decimal.Decimal) {
	confirmed, applied, err := e.store.ConfirmIntent(ctx, intent.ID, txRef)
	if err != nil {
		e.log.Error("confirm intent failed", map[string]any{
			"intent": intent.ID, "tx": txRef, "error": err.Error(),
		})
		return
	}
	if !applied {
		e.log.Debug("intent already confirmed", map[string]any{"intent": intent.ID, "tx": txRef})
		return
	}

	labels := map[string]string{"network": intent.Network.String()}
	e.rec.IncCounter("confirmation", labels)
	e.log.Info("payment confirmed", map[string]any{
		"intent":   intent.ID,
		"tx":       txRef,
		"expected": intent.AmountCrypto.String(),
		"observed": observed.String(),
	})

	// Delivery failure does not roll back confirmation; the credential
	// stays redeemable and delivery can be retried independently.
	if err := e.deliverer.Deliver(ctx, confirmed); err != nil {
		e.rec.IncCounter("delivery_error", labels)
		e.log.Warn("delivery failed", map[string]any{"intent": intent.ID, "error": err.Error()})
		return
	}
	e.rec.IncCounter("delivery", labels)
}

// Redeem exchanges a delivery credential for the purchased product,
// transitioning the intent to delivered. Repeat redemptions are allowed
// and do not re-trigger delivery side effects.
func (e *Engine) Redeem(ctx context.Context, credential string) (*types.PaymentIntent, *types.Product, error) {
	intent, err := e.store.IntentByCredential(ctx, credential)
	if err != nil {
		return nil, nil, err
	}

	delivered, err := e.store.MarkDelivered(ctx, intent.ID)
	if err != nil {
		return nil, nil, err
	}

	product, err := e.store.GetProduct(ctx, delivered.ProductRef)
	if err != nil {
		return nil, nil, err
	}
	return delivered, product, nil
}

// Start launches every registered monitor and the expiry sweep.
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	for _, m := range e.monitors {
		if err := m.Start(); err != nil {
			return fmt.Errorf("start monitor for %s: %w", m.Network(), err)
		}
	}
	e.sweeper.Start()
	e.started = true
	e.log.Info("engine started", map[string]any{"monitors": len(e.monitors)})
	return nil
}

// Stop halts the monitors and the sweep. In-flight ticks run to
// completion before Stop returns.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	for _, m := range e.monitors {
		m.Stop()
	}
	e.sweeper.Stop()
	e.started = false
	e.log.Info("engine stopped", nil)
}

// Close stops the engine and releases chain client connections.
func (e *Engine) Close() {
	e.Stop()
	for _, closeFn := range e.closers {
		closeFn()
	}
}
