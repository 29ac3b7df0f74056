package clients

import (
	"fmt"

	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/openmerch/paywatch/types"
)

// SolanaClient provides the transaction-history queries the Solana monitor
// needs, backed by a JSON-RPC node.
type SolanaClient struct {
	network types.Network
	client  *rpc.Client
}

var _ SolanaChain = (*SolanaClient)(nil)

func NewSolanaClient(network types.Network, rpcURL string) (*SolanaClient, error) {
	if rpcURL == "" {
		return nil, types.NewError(types.CodeConfiguration, "no RPC endpoint configured for %s", network)
	}
	return &SolanaClient{
		network: network,
		client:  rpc.New(rpcURL),
	}, nil
}

// LatestSignature implements SolanaChain.
func (c *SolanaClient) LatestSignature(ctx context.Context, address solana.PublicKey) (solana.Signature, error) {
	limit := 1
	sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, address, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest signature: %w", err)
	}
	if len(sigs) == 0 {
		return solana.Signature{}, nil
	}
	return sigs[0].Signature, nil
}

// SignaturesSince implements SolanaChain.
func (c *SolanaClient) SignaturesSince(ctx context.Context, address solana.PublicKey, until solana.Signature, limit int) ([]SignatureInfo, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	}
	if !until.IsZero() {
		opts.Until = until
	}

	sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("get signatures for address: %w", err)
	}

	out := make([]SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, SignatureInfo{
			Signature: sig.Signature,
			Failed:    sig.Err != nil,
		})
	}
	return out, nil
}

// BalanceDelta implements SolanaChain.
func (c *SolanaClient) BalanceDelta(ctx context.Context, sig solana.Signature, address solana.PublicKey) (int64, error) {
	maxVersion := uint64(0)
	result, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return 0, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if result.Meta == nil {
		return 0, fmt.Errorf("transaction %s has no metadata", sig)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return 0, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	for i, key := range tx.Message.AccountKeys {
		if !key.Equals(address) {
			continue
		}
		if i >= len(result.Meta.PreBalances) || i >= len(result.Meta.PostBalances) {
			return 0, fmt.Errorf("transaction %s balance arrays are short", sig)
		}
		return int64(result.Meta.PostBalances[i]) - int64(result.Meta.PreBalances[i]), nil
	}

	// Address not touched by this transaction.
	return 0, nil
}
