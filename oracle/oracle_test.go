package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmerch/paywatch/types"
)

func TestStaticOracle_PeggedAssetPassesThrough(t *testing.T) {
	o := NewStaticOracle(nil)

	got, err := o.USDToCrypto(context.Background(), decimal.NewFromInt(24), types.AssetUSDC)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(24)))
}

func TestStaticOracle_ConvertsWithFixedPrice(t *testing.T) {
	o := NewStaticOracle(map[types.Asset]decimal.Decimal{
		types.AssetSOL: decimal.NewFromInt(200),
	})

	got, err := o.USDToCrypto(context.Background(), decimal.NewFromInt(10), types.AssetSOL)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromFloat(0.05)))
}

func TestStaticOracle_UnknownAssetUnavailable(t *testing.T) {
	o := NewStaticOracle(nil)

	_, err := o.USDToCrypto(context.Background(), decimal.NewFromInt(10), types.AssetETH)
	assert.ErrorIs(t, err, types.ErrPriceUnavailable)
}

func TestCachedOracle_FreshnessWindow(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	fetches := 0
	source := func(_ context.Context, _ types.Asset) (decimal.Decimal, error) {
		fetches++
		return decimal.NewFromInt(2000), nil
	}

	o := NewCachedOracle(source, 5*time.Minute)
	o.SetClock(clock)
	ctx := context.Background()

	got, err := o.USDToCrypto(ctx, decimal.NewFromInt(20), types.AssetETH)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, 1, fetches)

	// Within the window the cached price is reused.
	now = now.Add(time.Minute)
	_, err = o.USDToCrypto(ctx, decimal.NewFromInt(20), types.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	// Past the window, the price is refetched.
	now = now.Add(10 * time.Minute)
	_, err = o.USDToCrypto(ctx, decimal.NewFromInt(20), types.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestCachedOracle_StaleWithFailingSourceIsUnavailable(t *testing.T) {
	now := time.Now()
	healthy := true
	source := func(_ context.Context, _ types.Asset) (decimal.Decimal, error) {
		if !healthy {
			return decimal.Decimal{}, errors.New("feed down")
		}
		return decimal.NewFromInt(2000), nil
	}

	o := NewCachedOracle(source, 5*time.Minute)
	o.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := o.USDToCrypto(ctx, decimal.NewFromInt(20), types.AssetETH)
	require.NoError(t, err)

	// A stale cache entry is not a fallback once the source fails.
	healthy = false
	now = now.Add(time.Hour)
	_, err = o.USDToCrypto(ctx, decimal.NewFromInt(20), types.AssetETH)
	assert.ErrorIs(t, err, types.ErrPriceUnavailable)
}

func TestCachedOracle_PeggedAssetNeverHitsSource(t *testing.T) {
	source := func(_ context.Context, _ types.Asset) (decimal.Decimal, error) {
		t.Fatal("source should not be called for a pegged asset")
		return decimal.Decimal{}, nil
	}

	o := NewCachedOracle(source, time.Minute)
	got, err := o.USDToCrypto(context.Background(), decimal.NewFromInt(24), types.AssetUSDC)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(24)))
}
