package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
environment: development

eth_rpc_url: https://sepolia.drpc.org
bundler_url: http://localhost:4337
paymaster_url: http://localhost:8080
paymaster_api_key: test-key

factory_address: "0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7"
paymaster_address: "0xB985af5f96EF2722DC99aEBA573520903B86505e"

controller_private_key: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

fallback_gas_tokens:
  - address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
    symbol: USDC
    decimals: 6
    type: prepay

receipt_max_wait_seconds: 45
db_path: /tmp/aa-test-db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestNewConfigResolvesFullDocument(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://sepolia.drpc.org", cfg.EthRpcUrl)
	assert.Equal(t, "test-key", cfg.PaymasterAPIKey)
	assert.Equal(t, common.HexToAddress("0xB985af5f96EF2722DC99aEBA573520903B86505e"), cfg.PaymasterAddress)
	assert.Equal(t, 45*time.Second, cfg.ReceiptMaxWait)
	assert.NotNil(t, cfg.Logger)

	// controller address derived from the private key
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), cfg.ControllerAddress)

	// default gas token falls back to the first fallback token
	assert.Equal(t, common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"), cfg.DefaultGasToken)

	require.Len(t, cfg.FallbackGasTokens, 1)
	assert.Equal(t, "USDC", cfg.FallbackGasTokens[0].Symbol)
}

func TestNewConfigRejectsMissingRequiredFields(t *testing.T) {
	_, err := NewConfig(writeConfig(t, `
eth_rpc_url: https://sepolia.drpc.org
bundler_url: http://localhost:4337
`))
	require.Error(t, err)
}

func TestNewConfigRejectsMalformedKey(t *testing.T) {
	path := writeConfig(t, `
environment: development
eth_rpc_url: https://sepolia.drpc.org
bundler_url: http://localhost:4337
paymaster_url: http://localhost:8080
factory_address: "0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7"
paymaster_address: "0xB985af5f96EF2722DC99aEBA573520903B86505e"
controller_private_key: "not-a-key"
`)
	_, err := NewConfig(path)
	require.Error(t, err)
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig("/nonexistent/pipeline.yaml")
	assert.Error(t, err)
}

func TestEnvFromChainID(t *testing.T) {
	assert.Equal(t, EthereumEnv, EnvFromChainID(big.NewInt(1)))
	assert.Equal(t, BaseEnv, EnvFromChainID(big.NewInt(8453)))
	assert.Equal(t, BaseSepoliaEnv, EnvFromChainID(big.NewInt(84532)))
	assert.Equal(t, SepoliaEnv, EnvFromChainID(big.NewInt(11155111)))

	// unknown chains fall through to ethereum
	assert.Equal(t, EthereumEnv, EnvFromChainID(big.NewInt(31337)))
}

func TestExplorerURLTracksChainEnv(t *testing.T) {
	prev := CurrentChainEnv
	defer func() { CurrentChainEnv = prev }()

	CurrentChainEnv = BaseSepoliaEnv
	assert.Equal(t, "https://sepolia.basescan.org", ExplorerURL())
	assert.False(t, IsMainnet())

	CurrentChainEnv = BaseEnv
	assert.Equal(t, "https://basescan.org", ExplorerURL())
	assert.True(t, IsMainnet())

	CurrentChainEnv = EthereumEnv
	assert.Equal(t, "https://etherscan.io", ExplorerURL())
}
