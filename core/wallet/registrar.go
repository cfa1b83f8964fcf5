package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/bundler"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// KeyRegistrar tells the wallet contract which delegated session keys to
// honor. Registration and revocation are operations the wallet performs on
// itself, authorized by the controller key, so they go through the primitive
// path like deployments do.
type KeyRegistrar struct {
	primitives

	wallet common.Address
}

func NewKeyRegistrar(
	client *ethclient.Client,
	bundlerClient *bundler.BundlerClient,
	walletAddress common.Address,
	cfg *config.SmartWalletConfig,
	clock clockwork.Clock,
	lgr logger.Logger,
) *KeyRegistrar {
	return &KeyRegistrar{
		primitives: primitives{
			client:  client,
			bundler: bundlerClient,
			cfg:     cfg,
			clock:   clock,
			logger:  lgr,
		},
		wallet: walletAddress,
	}
}

// RegisterSessionKey authorizes key on the wallet contract until validUntil.
func (r *KeyRegistrar) RegisterSessionKey(ctx context.Context, key common.Address, validUntil *big.Int, scopeHash [32]byte) error {
	calldata, err := aa.PackRegisterSessionKey(key, validUntil, scopeHash)
	if err != nil {
		return err
	}
	return r.selfCall(ctx, calldata, "session key registered", key)
}

// RevokeSessionKey withdraws the wallet contract's authorization of key.
func (r *KeyRegistrar) RevokeSessionKey(ctx context.Context, key common.Address) error {
	calldata, err := aa.PackRevokeSessionKey(key)
	if err != nil {
		return err
	}
	return r.selfCall(ctx, calldata, "session key revoked", key)
}

// selfCall has the wallet execute() a method on itself.
func (r *KeyRegistrar) selfCall(ctx context.Context, calldata []byte, logMsg string, key common.Address) error {
	callData, err := aa.PackExecute(r.wallet, big.NewInt(0), calldata)
	if err != nil {
		return err
	}

	nonce, err := r.freshNonce(ctx, r.wallet)
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, err)
	}

	op := &userop.UserOperation{
		Sender:   r.wallet,
		Nonce:    nonce,
		CallData: callData,
	}

	receipt, err := r.submitOperation(ctx, op)
	if err != nil {
		return err
	}
	if receipt != nil && !receipt.Success {
		return operr.New(operr.Unknown, "session-key operation reverted: %s", receipt.UserOpHash)
	}

	r.logger.Info(logMsg, "wallet", r.wallet.Hex(), "key", key.Hex())
	return nil
}
