// Package oracle defines the USD-to-crypto conversion contract the engine
// consumes. The engine treats a returned amount as authoritative and
// frozen for the life of the intent.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmerch/paywatch/types"
)

// PriceOracle converts a USD value into an asset-denominated amount.
// USD-pegged assets pass through unchanged. Implementations return
// types.ErrPriceUnavailable when no sufficiently fresh price exists.
type PriceOracle interface {
	USDToCrypto(ctx context.Context, usd decimal.Decimal, asset types.Asset) (decimal.Decimal, error)
}

// pegged reports whether an asset trades 1:1 with USD.
func pegged(asset types.Asset) bool {
	return asset == types.AssetUSDC
}

// StaticOracle converts with fixed USD prices per asset. Intended for
// development and tests.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[types.Asset]decimal.Decimal // USD per unit of asset
}

var _ PriceOracle = (*StaticOracle)(nil)

func NewStaticOracle(prices map[types.Asset]decimal.Decimal) *StaticOracle {
	cp := make(map[types.Asset]decimal.Decimal, len(prices))
	for asset, price := range prices {
		cp[asset] = price
	}
	return &StaticOracle{prices: cp}
}

// SetPrice updates the fixed USD price for an asset.
func (o *StaticOracle) SetPrice(asset types.Asset, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price
}

func (o *StaticOracle) USDToCrypto(_ context.Context, usd decimal.Decimal, asset types.Asset) (decimal.Decimal, error) {
	if pegged(asset) {
		return usd, nil
	}

	o.mu.RLock()
	price, ok := o.prices[asset]
	o.mu.RUnlock()
	if !ok || price.IsZero() {
		return decimal.Decimal{}, types.ErrPriceUnavailable
	}
	return usd.Div(price), nil
}

// PriceSource fetches the current USD market price of one unit of an asset.
type PriceSource func(ctx context.Context, asset types.Asset) (decimal.Decimal, error)

// CachedOracle wraps a PriceSource with a freshness window: a cached price
// older than the window is refetched, and a conversion fails with
// ErrPriceUnavailable when no fetch within the window has succeeded.
type CachedOracle struct {
	source    PriceSource
	freshness time.Duration
	now       func() time.Time

	mu    sync.Mutex
	cache map[types.Asset]cachedPrice
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

var _ PriceOracle = (*CachedOracle)(nil)

func NewCachedOracle(source PriceSource, freshness time.Duration) *CachedOracle {
	return &CachedOracle{
		source:    source,
		freshness: freshness,
		now:       time.Now,
		cache:     make(map[types.Asset]cachedPrice),
	}
}

// SetClock overrides the oracle's time source. Test hook.
func (o *CachedOracle) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

func (o *CachedOracle) USDToCrypto(ctx context.Context, usd decimal.Decimal, asset types.Asset) (decimal.Decimal, error) {
	if pegged(asset) {
		return usd, nil
	}

	price, err := o.freshPrice(ctx, asset)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return usd.Div(price), nil
}

func (o *CachedOracle) freshPrice(ctx context.Context, asset types.Asset) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.cache[asset]
	if ok && o.now().Sub(entry.fetchedAt) < o.freshness {
		return entry.price, nil
	}

	price, err := o.source(ctx, asset)
	if err != nil || price.IsZero() {
		// A stale cache entry is not a fallback; the freshness window is
		// the correctness boundary.
		return decimal.Decimal{}, types.ErrPriceUnavailable
	}

	o.cache[asset] = cachedPrice{price: price, fetchedAt: o.now()}
	return price, nil
}
