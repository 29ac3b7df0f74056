// Package monitor implements the chain watchers. Each monitor is an
// independent polling loop that reads the ledger's pending intents for its
// network, queries the chain for new activity since its watermark, and
// invokes the reconciliation callback for every match. Callbacks are
// delivered at least once per genuine matching transaction; the ledger's
// conditional transitions make re-delivery harmless.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmerch/paywatch/types"
)

// Callback is invoked by a monitor for each accepted match.
type Callback func(ctx context.Context, intent *types.PaymentIntent, txRef string, observed decimal.Decimal)

// Monitor is the lifecycle surface the engine drives.
type Monitor interface {
	Network() types.Network
	Start() error
	Stop()
}

// Config carries the reconciliation policy knobs shared by the monitors.
// Tolerances are fractional shortfalls: a transfer of at least
// expected * (1 - tolerance) is accepted.
type Config struct {
	// Sleep between poll ticks.
	Interval time.Duration

	// Allowed shortfall on ERC-20 style token transfers.
	TokenTolerance decimal.Decimal

	// Allowed shortfall on native-currency transfers (EVM native and SOL).
	NativeTolerance decimal.Decimal

	// Cap on blocks scanned per tick for native EVM transfers. Older
	// blocks are picked up on subsequent ticks.
	NativeBlockWindow uint64

	// Page size for Solana signature history queries.
	SignaturePageLimit int
}

const (
	DefaultInterval           = 15 * time.Second
	DefaultNativeBlockWindow  = 5
	DefaultSignaturePageLimit = 100
)

var (
	// DefaultTokenTolerance accepts token transfers down to 99% of the
	// expected amount (rounding drift, not underpayment).
	DefaultTokenTolerance = decimal.NewFromFloat(0.01)

	// DefaultNativeTolerance accepts native transfers down to 99.5% of the
	// expected amount.
	DefaultNativeTolerance = decimal.NewFromFloat(0.005)
)

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TokenTolerance.IsZero() {
		c.TokenTolerance = DefaultTokenTolerance
	}
	if c.NativeTolerance.IsZero() {
		c.NativeTolerance = DefaultNativeTolerance
	}
	if c.NativeBlockWindow == 0 {
		c.NativeBlockWindow = DefaultNativeBlockWindow
	}
	if c.SignaturePageLimit <= 0 {
		c.SignaturePageLimit = DefaultSignaturePageLimit
	}
}

// pollLoop is the Stopped/Running lifecycle shared by the monitors: a stop
// flag checked at the top of each iteration, with an in-flight tick always
// running to completion before Stop returns.
type pollLoop struct {
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func (l *pollLoop) start(tick func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return false
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-time.After(l.interval):
			}
			tick(context.Background())
		}
	}(l.stop, l.done)
	return true
}

func (l *pollLoop) halt() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	<-done
}

// one is the decimal constant used by the tolerance math.
var one = decimal.NewFromInt(1)

// meetsTolerance reports whether an observed amount covers the expected
// amount under the given fractional tolerance.
func meetsTolerance(observed, expected, tolerance decimal.Decimal) bool {
	return observed.GreaterThanOrEqual(expected.Mul(one.Sub(tolerance)))
}
