// Package allocator hands out per-payment receive addresses derived from a
// watch-only extended public key. No private key material is ever held:
// derivation is a pure function of the configured xpub and an index, and
// the index counter lives in the ledger store so no two checkouts can
// receive the same address.
package allocator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openmerch/paywatch/ledger"
	"github.com/openmerch/paywatch/types"
)

// Counter is the slice of the ledger store the allocator needs: an atomic
// read-then-increment of the next unused derivation index.
type Counter interface {
	NextAddressIndex(ctx context.Context) (uint32, error)
}

var _ Counter = (ledger.Store)(nil)

// Allocator derives EVM receive addresses from a BIP32 extended public key.
type Allocator struct {
	key     *hdkeychain.ExtendedKey
	counter Counter
}

// New parses the extended public key and binds the allocator to a counter.
// An empty xpub is a configuration error; a malformed or private key is a
// derivation error (the allocator is strictly watch-only).
func New(xpub string, counter Counter) (*Allocator, error) {
	if xpub == "" {
		return nil, types.NewError(types.CodeConfiguration, "no extended public key configured")
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, types.NewError(types.CodeDerivation, "malformed extended key: %v", err)
	}
	if key.IsPrivate() {
		return nil, types.NewError(types.CodeDerivation, "extended key is private; a watch-only public key is required")
	}

	return &Allocator{key: key, counter: counter}, nil
}

// Allocate takes the next counter value and derives its address. Each index
// is returned to exactly one caller even under concurrent allocation.
func (a *Allocator) Allocate(ctx context.Context) (uint32, string, error) {
	index, err := a.counter.NextAddressIndex(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("advance address counter: %w", err)
	}

	address, err := a.DeriveAddress(index)
	if err != nil {
		return 0, "", err
	}
	return index, address, nil
}

// DeriveAddress is a pure function of the configured xpub and the index.
// Only the non-hardened range is derivable from a public key.
func (a *Allocator) DeriveAddress(index uint32) (string, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return "", types.NewError(types.CodeDerivation, "index %d is in the hardened range", index)
	}

	child, err := a.key.Derive(index)
	if err != nil {
		return "", types.NewError(types.CodeDerivation, "derive child %d: %v", index, err)
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return "", types.NewError(types.CodeDerivation, "extract public key for index %d: %v", index, err)
	}

	return crypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
}
