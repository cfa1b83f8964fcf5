package config

import "math/big"

type ChainEnv string

const (
	SepoliaEnv     = ChainEnv("sepolia")
	BaseSepoliaEnv = ChainEnv("base-sepolia")
	BaseEnv        = ChainEnv("base")
	EthereumEnv    = ChainEnv("ethereum")
)

var (
	MainnetChainID  = big.NewInt(1)
	CurrentChainEnv = EthereumEnv
)

// EnvFromChainID maps a chain id onto the environments the pipeline knows
// about. Unknown ids fall through to ethereum.
func EnvFromChainID(chainID *big.Int) ChainEnv {
	switch chainID.Int64() {
	case 8453:
		return BaseEnv
	case 84532:
		return BaseSepoliaEnv
	case 11155111:
		return SepoliaEnv
	}
	return EthereumEnv
}

func IsMainnet() bool {
	return CurrentChainEnv == EthereumEnv || CurrentChainEnv == BaseEnv
}

func ExplorerURL() string {
	switch CurrentChainEnv {
	case BaseEnv:
		return "https://basescan.org"
	case BaseSepoliaEnv:
		return "https://sepolia.basescan.org"
	case SepoliaEnv:
		return "https://sepolia.etherscan.io"
	}
	return "https://etherscan.io"
}
