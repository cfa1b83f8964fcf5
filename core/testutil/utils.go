package testutil

import (
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
	"github.com/blocklotto/aa-pipeline/storage"
)

const (
	// well-known anvil/hardhat dev key, holds nothing on real networks
	testControllerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	testPaymasterAddress = "0xB985af5f96EF2722DC99aEBA573520903B86505e"
	testFactoryAddress   = "0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7"
	testTokenAddress     = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
)

func GetTestRPCURL() string {
	v := os.Getenv("RPC_URL")
	if v == "" {
		return "https://sepolia.drpc.org"
	}

	return v
}

func GetTestBundlerURL() string {
	v := os.Getenv("BUNDLER_URL")
	if v == "" {
		return "http://localhost:4337"
	}

	return v
}

// TestMustDB initializes storage in a temp dir, panicking on failure.
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "aatest")
	if err != nil {
		panic(err)
	}
	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

// GetTestConfig returns a pipeline config pointed at dev endpoints with a
// throwaway controller key.
func GetTestConfig() *config.SmartWalletConfig {
	key, err := crypto.HexToECDSA(testControllerKeyHex)
	if err != nil {
		panic(err)
	}

	return &config.SmartWalletConfig{
		EthRpcUrl:  GetTestRPCURL(),
		BundlerURL: GetTestBundlerURL(),

		PaymasterURL:     "http://localhost:8080",
		PaymasterAddress: common.HexToAddress(testPaymasterAddress),
		FactoryAddress:   common.HexToAddress(testFactoryAddress),

		ControllerPrivateKey: key,
		ControllerAddress:    crypto.PubkeyToAddress(key.PublicKey),

		DefaultGasToken: common.HexToAddress(testTokenAddress),
		FallbackGasTokens: []config.GasTokenConfig{
			{Address: testTokenAddress, Symbol: "USDC", Decimals: 6, Type: "prepay"},
		},

		ReceiptMaxWait: 30 * time.Second,
		Logger:         logger.NewNoOpLogger(),
	}
}
