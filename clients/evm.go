package clients

import (
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openmerch/paywatch/types"
)

// NewEVMClient connects to an EVM node over RPC. The returned
// *ethclient.Client satisfies EVMChain directly.
func NewEVMClient(network types.Network, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, types.NewError(types.CodeConfiguration, "no RPC endpoint configured for %s", network)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", network, err)
	}
	return client, nil
}

var _ EVMChain = (*ethclient.Client)(nil)
