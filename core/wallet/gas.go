package wallet

import "math/big"

var (
	// Conservative gas limits used when bundler estimation fails. Based on
	// observed smart-wallet execute() usage on Base and Sepolia.
	DefaultCallGasLimit         = big.NewInt(200_000)
	DefaultVerificationGasLimit = big.NewInt(1_000_000)
	DefaultPreVerificationGas   = big.NewInt(50_000)

	// Wallet deployment (factory run + proxy init + first validateUserOp)
	// needs far more verification gas than a steady-state operation. Bundler
	// estimates routinely undershoot it, so this limit wins whenever
	// initCode is present.
	DeploymentVerificationGasLimit = big.NewInt(3_000_000)
)
