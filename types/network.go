package types

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

// Network represents supported blockchain networks
type Network string

const (
	// EVM Networks
	NetworkEthereum    Network = "ethereum"
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet

	// Solana Networks
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
)

// EVMNetworkToChainID maps EVM network names to their chain IDs.
var EVMNetworkToChainID = map[Network]uint64{
	NetworkEthereum:    1,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
}

// Helper functions for network classification
func (n Network) IsEVM() bool {
	_, ok := EVMNetworkToChainID[n]
	return ok
}

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsTestnet() bool {
	return n == NetworkPolygonAmoy || n == NetworkBaseSepolia || n == NetworkSolanaDevnet
}

// Family returns the chain family a network belongs to.
func (n Network) Family() ChainFamily {
	if n.IsSolana() {
		return ChainSolana
	}
	return ChainEVM
}

// NativeAsset returns the network's native currency asset.
func (n Network) NativeAsset() Asset {
	switch {
	case n.IsSolana():
		return AssetSOL
	case n == NetworkPolygon || n == NetworkPolygonAmoy:
		return AssetPOL
	default:
		return AssetETH
	}
}

// NativeDecimals returns the decimal precision of the network's native unit
// (wei for EVM chains, lamports for Solana).
func (n Network) NativeDecimals() int32 {
	if n.IsSolana() {
		return 9
	}
	return 18
}

func (n Network) String() string {
	return string(n)
}
