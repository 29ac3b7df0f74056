// Package ledger holds the authoritative record of payment intents and
// drives their lifecycle state machine. Every transition is an atomic
// conditional update, so a race between a confirming monitor and the
// expiry sweep can only ever apply the first winning transition.
package ledger

import (
	"context"
	"time"

	"github.com/openmerch/paywatch/types"
)

// IntentFilter scopes a pending-intent query to one monitor's territory.
// Zero values match everything.
type IntentFilter struct {
	Network types.Network
	Asset   types.Asset
}

// Store is the key-addressable persistence contract the engine consumes.
// Implementations must make ConfirmIntent, MarkDelivered and
// ExpirePendingOlderThan atomic with respect to each other, and
// NextAddressIndex atomic under concurrent allocation.
type Store interface {
	CreateIntent(ctx context.Context, intent *types.PaymentIntent) error
	GetIntent(ctx context.Context, id string) (*types.PaymentIntent, error)
	PendingIntents(ctx context.Context, filter IntentFilter) ([]*types.PaymentIntent, error)

	// ConfirmIntent applies the pending -> confirmed transition, recording
	// txRef and minting a delivery credential. Re-invocation for an already
	// confirmed or delivered intent is a no-op that returns the original
	// state with applied == false. Expired intents return ErrNotPending.
	ConfirmIntent(ctx context.Context, id, txRef string) (intent *types.PaymentIntent, applied bool, err error)

	// MarkDelivered applies confirmed -> delivered. Safe to call multiple
	// times; only the first call sets the delivery timestamp.
	MarkDelivered(ctx context.Context, id string) (*types.PaymentIntent, error)

	// IntentByCredential resolves a delivery credential to its intent.
	IntentByCredential(ctx context.Context, credential string) (*types.PaymentIntent, error)

	// ExpirePendingOlderThan transitions pending intents created before the
	// deadline to expired and reports how many were swept. The update is
	// conditioned on status == pending.
	ExpirePendingOlderThan(ctx context.Context, deadline time.Time) (int, error)

	// NextAddressIndex returns the next unused derivation index. Each value
	// is handed to exactly one caller.
	NextAddressIndex(ctx context.Context) (uint32, error)

	PutProduct(ctx context.Context, product *types.Product) error
	GetProduct(ctx context.Context, slug string) (*types.Product, error)
}
