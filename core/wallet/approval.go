package wallet

import (
	"context"
	"fmt"
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

var (
	// maxUint256 is the sentinel "unlimited" allowance.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// approvalThreshold is the allowance below which we re-approve. Half of
	// max leaves enormous headroom while tolerating paymasters that decrement
	// the allowance on every charge.
	approvalThreshold = new(big.Int).Rsh(maxUint256, 1)
)

// ApprovalManager grants the paymaster an ERC-20 allowance from the smart
// wallet so token-based gas payment can charge it. Approvals are issued from
// the wallet itself via execute(), so the wallet must be deployed first.
type ApprovalManager struct {
	primitives

	deployments *DeploymentManager
}

func NewApprovalManager(
	client *ethclient.Client,
	bundlerClient *bundler.BundlerClient,
	deployments *DeploymentManager,
	cfg *config.SmartWalletConfig,
	clock clockwork.Clock,
	lgr logger.Logger,
) *ApprovalManager {
	return &ApprovalManager{
		primitives: primitives{
			client:  client,
			bundler: bundlerClient,
			cfg:     cfg,
			clock:   clock,
			logger:  lgr,
		},
		deployments: deployments,
	}
}

// IsApproved reports whether wallet's allowance of token toward the paymaster
// is at or above the re-approval threshold.
func (m *ApprovalManager) IsApproved(ctx context.Context, wallet, token common.Address) (bool, error) {
	allowance, err := aa.GetAllowance(ctx, m.client, token, wallet, m.cfg.PaymasterAddress)
	if err != nil {
		return false, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to read allowance: %w", err))
	}
	return allowance.Cmp(approvalThreshold) >= 0, nil
}

// EnsureApproved makes sure wallet has an effectively unlimited allowance of
// token toward the paymaster, approving on chain when it does not. Calling it
// again after a successful approval performs no submission.
func (m *ApprovalManager) EnsureApproved(ctx context.Context, owner, token common.Address) error {
	wallet, err := m.deployments.Deploy(ctx, owner)
	if err != nil {
		return err
	}

	approved, err := m.IsApproved(ctx, wallet, token)
	if err != nil {
		return err
	}
	if approved {
		return nil
	}

	approveCalldata, err := aa.PackApprove(m.cfg.PaymasterAddress, maxUint256)
	if err != nil {
		return err
	}
	callData, err := aa.PackExecute(token, big.NewInt(0), approveCalldata)
	if err != nil {
		return err
	}

	nonce, err := m.freshNonce(ctx, wallet)
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, err)
	}

	op := &userop.UserOperation{
		Sender:   wallet,
		Nonce:    nonce,
		CallData: callData,
	}

	receipt, err := m.submitOperation(ctx, op)
	if err != nil {
		return err
	}
	if receipt != nil && !receipt.Success {
		return operr.New(operr.ApprovalRequired, "approval operation reverted: %s", receipt.UserOpHash)
	}

	m.logger.Info("paymaster allowance granted",
		"wallet", wallet.Hex(), "token", token.Hex(), "spender", m.cfg.PaymasterAddress.Hex())
	return nil
}
