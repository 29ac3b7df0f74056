// Package clients wraps the chain RPC surface the monitors poll. Every
// method may fail transiently; callers treat errors as retryable and never
// as fatal.
package clients

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
)

// EVMChain is the block-oriented query surface of an EVM node.
type EVMChain interface {
	// BlockNumber returns the current chain head height.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs queries event logs by contract, topics and block range.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)

	// BlockByNumber returns a block with its full transaction list.
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)

	Close()
}

// SignatureInfo is one entry of an address's transaction history.
type SignatureInfo struct {
	Signature solana.Signature
	Failed    bool
}

// SolanaChain is the transaction-history query surface of a Solana node.
type SolanaChain interface {
	// LatestSignature returns the most recent transaction signature for the
	// address, or the zero signature when the address has no history.
	LatestSignature(ctx context.Context, address solana.PublicKey) (solana.Signature, error)

	// SignaturesSince returns signatures for the address newer than until,
	// newest first, bounded by limit. A zero until returns the newest page.
	SignaturesSince(ctx context.Context, address solana.PublicKey, until solana.Signature, limit int) ([]SignatureInfo, error)

	// BalanceDelta returns the lamport balance change of the address in the
	// given transaction (post-balance minus pre-balance).
	BalanceDelta(ctx context.Context, sig solana.Signature, address solana.PublicKey) (int64, error)
}
