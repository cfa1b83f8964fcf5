package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// SmartWalletConfig carries everything the submission pipeline needs to talk
// to its three external services (chain node, bundler, paymaster) plus the
// controller key that authorizes wallet operations.
type SmartWalletConfig struct {
	EthRpcUrl  string
	EthWsUrl   string
	BundlerURL string

	PaymasterURL    string
	PaymasterAPIKey string

	EntrypointAddress common.Address
	FactoryAddress    common.Address
	PaymasterAddress  common.Address

	ControllerPrivateKey *ecdsa.PrivateKey
	ControllerAddress    common.Address

	// DefaultGasToken is the token the coordinator falls back to when the
	// sponsored payment path is refused.
	DefaultGasToken common.Address

	// FallbackGasTokens is the static known-good list used when the
	// paymaster's supported-token query fails.
	FallbackGasTokens []GasTokenConfig

	// ReceiptMaxWait bounds receipt polling; it does not apply to the
	// negotiation steps, which surface their service's failures directly.
	ReceiptMaxWait time.Duration

	DbPath string

	Logger logger.Logger
}

type GasTokenConfig struct {
	Address  string `yaml:"address" validate:"required,eth_addr"`
	Symbol   string `yaml:"symbol" validate:"required"`
	Decimals int32  `yaml:"decimals" validate:"gte=0,lte=36"`
	Type     string `yaml:"type" validate:"oneof=prepay postpay"`
}

// ConfigRaw is the yaml document shape.
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment"`

	EthRpcUrl  string `yaml:"eth_rpc_url" validate:"required,url"`
	EthWsUrl   string `yaml:"eth_ws_url"`
	BundlerURL string `yaml:"bundler_url" validate:"required,url"`

	PaymasterURL    string `yaml:"paymaster_url" validate:"required,url"`
	PaymasterAPIKey string `yaml:"paymaster_api_key"`

	EntrypointAddress string `yaml:"entrypoint_address" validate:"omitempty,eth_addr"`
	FactoryAddress    string `yaml:"factory_address" validate:"required,eth_addr"`
	PaymasterAddress  string `yaml:"paymaster_address" validate:"required,eth_addr"`

	ControllerPrivateKey string `yaml:"controller_private_key" validate:"required"`

	DefaultGasToken   string           `yaml:"default_gas_token" validate:"omitempty,eth_addr"`
	FallbackGasTokens []GasTokenConfig `yaml:"fallback_gas_tokens" validate:"dive"`

	ReceiptMaxWaitSeconds int `yaml:"receipt_max_wait_seconds" validate:"gte=0"`

	DbPath string `yaml:"db_path"`
}

var validate = validator.New()

// NewConfig reads, validates and resolves the yaml config at configFilePath.
func NewConfig(configFilePath string) (*SmartWalletConfig, error) {
	body, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", configFilePath, err)
	}

	var raw ConfigRaw
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", configFilePath, err)
	}

	return resolve(&raw)
}

func resolve(raw *ConfigRaw) (*SmartWalletConfig, error) {
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	env := raw.Environment
	if env == "" {
		env = sdklogging.Production
	}
	lgr, err := logger.NewLogger(env)
	if err != nil {
		return nil, fmt.Errorf("cannot create logger: %w", err)
	}

	keyHex := raw.ControllerPrivateKey
	if len(keyHex) > 2 && keyHex[0:2] == "0x" {
		keyHex = keyHex[2:]
	}
	controllerKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("cannot parse controller private key: %w", err)
	}

	cfg := &SmartWalletConfig{
		EthRpcUrl:  raw.EthRpcUrl,
		EthWsUrl:   raw.EthWsUrl,
		BundlerURL: raw.BundlerURL,

		PaymasterURL:    raw.PaymasterURL,
		PaymasterAPIKey: raw.PaymasterAPIKey,

		FactoryAddress:   common.HexToAddress(raw.FactoryAddress),
		PaymasterAddress: common.HexToAddress(raw.PaymasterAddress),

		ControllerPrivateKey: controllerKey,
		ControllerAddress:    crypto.PubkeyToAddress(controllerKey.PublicKey),

		FallbackGasTokens: raw.FallbackGasTokens,

		ReceiptMaxWait: 30 * time.Second,
		DbPath:         raw.DbPath,
		Logger:         lgr,
	}

	if raw.EntrypointAddress != "" {
		cfg.EntrypointAddress = common.HexToAddress(raw.EntrypointAddress)
	}
	if raw.DefaultGasToken != "" {
		cfg.DefaultGasToken = common.HexToAddress(raw.DefaultGasToken)
	} else if len(raw.FallbackGasTokens) > 0 {
		cfg.DefaultGasToken = common.HexToAddress(raw.FallbackGasTokens[0].Address)
	}
	if raw.ReceiptMaxWaitSeconds > 0 {
		cfg.ReceiptMaxWait = time.Duration(raw.ReceiptMaxWaitSeconds) * time.Second
	}

	return cfg, nil
}
