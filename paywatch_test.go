package paywatch

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmerch/paywatch/clients"
	"github.com/openmerch/paywatch/ledger"
	"github.com/openmerch/paywatch/monitor"
	"github.com/openmerch/paywatch/oracle"
	"github.com/openmerch/paywatch/types"
)

// BIP32 test vector 1 master public key.
const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

const usdcContract = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type stubEVMChain struct {
	mu   sync.Mutex
	head uint64
	logs []gethtypes.Log
}

func (f *stubEVMChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *stubEVMChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *stubEVMChain) BlockByNumber(_ context.Context, number *big.Int) (*gethtypes.Block, error) {
	return gethtypes.NewBlockWithHeader(&gethtypes.Header{Number: new(big.Int).Set(number)}), nil
}

func (f *stubEVMChain) Close() {}

type stubSolanaChain struct {
	mu      sync.Mutex
	history []clients.SignatureInfo
	deltas  map[solana.Signature]int64
}

func (f *stubSolanaChain) deposit(sig solana.Signature, lamports int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deltas == nil {
		f.deltas = make(map[solana.Signature]int64)
	}
	f.history = append(f.history, clients.SignatureInfo{Signature: sig})
	f.deltas[sig] = lamports
}

func (f *stubSolanaChain) LatestSignature(context.Context, solana.PublicKey) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return solana.Signature{}, nil
	}
	return f.history[len(f.history)-1].Signature, nil
}

func (f *stubSolanaChain) SignaturesSince(_ context.Context, _ solana.PublicKey, until solana.Signature, _ int) ([]clients.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := 0
	if !until.IsZero() {
		for i, info := range f.history {
			if info.Signature == until {
				start = i + 1
				break
			}
		}
	}
	newer := f.history[start:]
	out := make([]clients.SignatureInfo, 0, len(newer))
	for i := len(newer) - 1; i >= 0; i-- {
		out = append(out, newer[i])
	}
	return out, nil
}

func (f *stubSolanaChain) BalanceDelta(_ context.Context, sig solana.Signature, _ solana.PublicKey) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deltas[sig], nil
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*types.PaymentIntent
}

func (d *recordingDeliverer) Deliver(_ context.Context, intent *types.PaymentIntent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, intent)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func seedProduct(t *testing.T, store ledger.Store, slug string, priceUSD int64) {
	t.Helper()
	require.NoError(t, store.PutProduct(context.Background(), &types.Product{
		Slug:         slug,
		Name:         "Test Product",
		PriceUSD:     decimal.NewFromInt(priceUSD),
		ArtifactPath: "artifacts/" + slug + ".zip",
		Active:       true,
	}))
}

func TestEndToEnd_USDCCheckoutThroughDelivery(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedProduct(t, store, "ebook", 24)

	cfg := DefaultConfig()
	cfg.XPub = testXPub

	deliverer := &recordingDeliverer{}
	prices := oracle.NewStaticOracle(nil)
	engine, err := New(cfg, store, prices, WithDeliverer(deliverer))
	require.NoError(t, err)

	chain := &stubEVMChain{head: 100}
	require.NoError(t, engine.AddEVMNetwork(types.NetworkBase, chain, []types.TokenConfig{
		{Asset: types.AssetUSDC, Contract: usdcContract, Decimals: 6},
	}))

	ctx := context.Background()

	// Burn the first five indices so this checkout derives index 5.
	for i := 0; i < 5; i++ {
		_, err := store.NextAddressIndex(ctx)
		require.NoError(t, err)
	}

	intent, err := engine.CreateCheckout(ctx, "ebook", "buyer@example.com", types.AssetUSDC, types.NetworkBase)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), intent.AddressIndex)
	assert.True(t, intent.AmountCrypto.Equal(decimal.NewFromInt(24)), "USDC is pegged")
	require.NotEmpty(t, intent.PayAddress)
	assert.Equal(t, types.StatusPending, intent.Status)

	evm := engine.monitors[0].(*monitor.EVMMonitor)
	evm.Tick(ctx) // pins the watermark

	// 23.9 USDC lands at the derived address: within the 1% band for $24.
	toAddr := common.HexToAddress(intent.PayAddress)
	chain.mu.Lock()
	chain.logs = append(chain.logs, gethtypes.Log{
		Address: common.HexToAddress(usdcContract),
		Topics: []common.Hash{
			transferTopic,
			common.HexToHash("0x0"),
			common.BytesToHash(common.LeftPadBytes(toAddr.Bytes(), 32)),
		},
		Data:        common.LeftPadBytes(big.NewInt(23_900_000).Bytes(), 32),
		BlockNumber: 101,
		TxHash:      common.HexToHash("0xabc"),
	})
	chain.head = 101
	chain.mu.Unlock()
	evm.Tick(ctx)

	confirmed, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, confirmed.Status)
	assert.NotEmpty(t, confirmed.DeliveryCredential)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), confirmed.ObservedTxRef)
	assert.Equal(t, 1, deliverer.count())

	// Re-observation across a tick is a no-op: no duplicate delivery.
	evm.Tick(ctx)
	assert.Equal(t, 1, deliverer.count())

	delivered, product, err := engine.Redeem(ctx, confirmed.DeliveryCredential)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, delivered.Status)
	assert.Equal(t, "artifacts/ebook.zip", product.ArtifactPath)
	require.NotNil(t, delivered.DeliveredAt)

	// Repeat download keeps the original delivery timestamp.
	again, _, err := engine.Redeem(ctx, confirmed.DeliveryCredential)
	require.NoError(t, err)
	assert.Equal(t, delivered.DeliveredAt.UnixNano(), again.DeliveredAt.UnixNano())
}

func TestEndToEnd_SolanaAmountMatchPicksRightIntent(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedProduct(t, store, "album", 10)
	seedProduct(t, store, "boxset", 100)

	cfg := DefaultConfig()
	cfg.SolanaAddress = "11111111111111111111111111111111"

	deliverer := &recordingDeliverer{}
	prices := oracle.NewStaticOracle(map[types.Asset]decimal.Decimal{
		types.AssetSOL: decimal.NewFromInt(200),
	})
	engine, err := New(cfg, store, prices, WithDeliverer(deliverer))
	require.NoError(t, err)

	chain := &stubSolanaChain{}
	require.NoError(t, engine.AddSolanaNetwork(types.NetworkSolanaMainnet, chain))

	ctx := context.Background()

	small, err := engine.CreateCheckout(ctx, "album", "a@example.com", types.AssetSOL, types.NetworkSolanaMainnet)
	require.NoError(t, err)
	assert.True(t, small.AmountCrypto.Equal(decimal.NewFromFloat(0.05)))
	assert.Equal(t, types.SharedAddressIndex, small.AddressIndex)
	assert.Equal(t, cfg.SolanaAddress, small.PayAddress)

	large, err := engine.CreateCheckout(ctx, "boxset", "b@example.com", types.AssetSOL, types.NetworkSolanaMainnet)
	require.NoError(t, err)
	assert.True(t, large.AmountCrypto.Equal(decimal.NewFromFloat(0.5)))

	sol := engine.monitors[0].(*monitor.SolanaMonitor)
	sol.Tick(ctx) // records the high-water mark

	// A 0.0503 SOL deposit confirms the 0.05 intent, not the 0.5 one.
	var sig solana.Signature
	sig[0] = 1
	chain.deposit(sig, 50_300_000)
	sol.Tick(ctx)

	got, err := store.GetIntent(ctx, small.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, got.Status)
	assert.Equal(t, sig.String(), got.ObservedTxRef)

	other, err := store.GetIntent(ctx, large.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, other.Status)
}

func TestCreateCheckout_Validation(t *testing.T) {
	store := ledger.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.XPub = testXPub
	prices := oracle.NewStaticOracle(nil)
	engine, err := New(cfg, store, prices)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("unknown product", func(t *testing.T) {
		_, err := engine.CreateCheckout(ctx, "nope", "a@example.com", types.AssetUSDC, types.NetworkBase)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("inactive product", func(t *testing.T) {
		require.NoError(t, store.PutProduct(ctx, &types.Product{
			Slug: "retired", Name: "Retired", PriceUSD: decimal.NewFromInt(5),
			ArtifactPath: "artifacts/retired.zip", Active: false,
		}))
		_, err := engine.CreateCheckout(ctx, "retired", "a@example.com", types.AssetUSDC, types.NetworkBase)
		assert.ErrorIs(t, err, types.ErrInactiveProduct)
	})

	t.Run("price unavailable", func(t *testing.T) {
		seedProduct(t, store, "ebook", 24)
		_, err := engine.CreateCheckout(ctx, "ebook", "a@example.com", types.AssetETH, types.NetworkBase)
		assert.ErrorIs(t, err, types.ErrPriceUnavailable)
	})

	t.Run("unregistered solana network", func(t *testing.T) {
		seedProduct(t, store, "ebook2", 24)
		prices.SetPrice(types.AssetSOL, decimal.NewFromInt(200))
		_, err := engine.CreateCheckout(ctx, "ebook2", "a@example.com", types.AssetSOL, types.NetworkSolanaMainnet)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	store := ledger.NewMemoryStore()
	prices := oracle.NewStaticOracle(nil)

	t.Run("EVM network without xpub", func(t *testing.T) {
		engine, err := New(DefaultConfig(), store, prices)
		require.NoError(t, err)
		err = engine.AddEVMNetwork(types.NetworkBase, &stubEVMChain{}, nil)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("solana network without shared address", func(t *testing.T) {
		engine, err := New(DefaultConfig(), store, prices)
		require.NoError(t, err)
		err = engine.AddSolanaNetwork(types.NetworkSolanaMainnet, &stubSolanaChain{})
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("network family mismatch", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.XPub = testXPub
		engine, err := New(cfg, store, prices)
		require.NoError(t, err)
		err = engine.AddEVMNetwork(types.NetworkSolanaMainnet, &stubEVMChain{}, nil)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("malformed xpub fails construction", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.XPub = "not-an-xpub"
		_, err := New(cfg, store, prices)
		assert.ErrorIs(t, err, types.ErrDerivation)
	})
}

func TestEngine_StartStop(t *testing.T) {
	store := ledger.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.XPub = testXPub
	cfg.PollInterval = time.Millisecond
	cfg.SweepInterval = time.Millisecond

	engine, err := New(cfg, store, oracle.NewStaticOracle(nil))
	require.NoError(t, err)
	require.NoError(t, engine.AddEVMNetwork(types.NetworkBase, &stubEVMChain{head: 1}, nil))

	require.NoError(t, engine.Start())
	require.NoError(t, engine.Start()) // idempotent
	engine.Stop()
	engine.Stop() // idempotent
	engine.Close()
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.TokenTolerance = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())
}
