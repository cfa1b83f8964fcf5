// Package wallet manages smart-wallet lifecycle concerns that must settle
// before an operation can be sponsored: counterfactual deployment, entrypoint
// prefunding and gas-token approvals.
//
// Both managers submit through a shared primitive path that signs with the
// controller key and goes straight to the bundler, bypassing the sponsorship
// fallback loop. Deployment in particular must not route through the full
// pipeline, or sponsorship negotiation would recursively attempt to deploy
// the wallet it is deploying.
package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/chainio/signer"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/pkg/eip1559"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/bundler"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// the signature isn't important for estimation, only its length
var dummySigForGasEstimation = crypto.Keccak256Hash(common.FromHex("0xdead123"))

// how far back to scan entrypoint logs when recovering a receipt
const eventLookbackBlocks = 2000

type primitives struct {
	client  *ethclient.Client
	bundler *bundler.BundlerClient
	cfg     *config.SmartWalletConfig
	clock   clockwork.Clock
	logger  logger.Logger
}

// submitOperation estimates, signs and submits op without any paymaster
// involvement, then waits for its receipt. The caller must have set sender,
// nonce, initCode and callData.
func (p *primitives) submitOperation(ctx context.Context, op *userop.UserOperation) (*bundler.OperationReceipt, error) {
	chainID, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	maxFeePerGas, maxPriorityFeePerGas, err := eip1559.SuggestFee(ctx, p.client)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas fees: %w", err)
	}
	op.MaxFeePerGas = maxFeePerGas
	op.MaxPriorityFeePerGas = maxPriorityFeePerGas

	hasInitCode := len(op.InitCode) > 0

	op.CallGasLimit = new(big.Int).Set(DefaultCallGasLimit)
	op.PreVerificationGas = new(big.Int).Set(DefaultPreVerificationGas)
	if hasInitCode {
		op.VerificationGasLimit = new(big.Int).Set(DeploymentVerificationGasLimit)
	} else {
		op.VerificationGasLimit = new(big.Int).Set(DefaultVerificationGasLimit)
	}

	op.Signature, err = signer.SignMessage(p.cfg.ControllerPrivateKey, dummySigForGasEstimation.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to produce estimation signature: %w", err)
	}

	if gas, gasErr := p.bundler.EstimateUserOperationGas(ctx, *op, nil); gasErr == nil && gas != nil {
		op.CallGasLimit = gas.CallGasLimit
		op.PreVerificationGas = gas.PreVerificationGas
		// keep the deployment limit: bundler estimates undershoot initCode runs
		if !hasInitCode {
			op.VerificationGasLimit = gas.VerificationGasLimit
		}
	} else {
		p.logger.Debug("gas estimation failed, using fallback limits", "error", gasErr)
	}

	opHash := op.GetUserOpHash(aa.EntrypointAddress, chainID)
	op.Signature, err = signer.SignMessage(p.cfg.ControllerPrivateKey, opHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign operation: %w", err)
	}

	submittedHash, err := p.bundler.SendUserOperation(ctx, *op)
	if err != nil {
		return nil, bundler.ClassifySendError(err)
	}

	p.logger.Info("primitive operation submitted",
		"sender", op.Sender.Hex(), "nonce", op.Nonce.String(), "opHash", submittedHash)

	// best effort, only matters against dev bundlers
	if err := p.bundler.SendBundleNow(ctx); err != nil {
		p.logger.Debug("manual bundle trigger failed (non-fatal)", "error", err)
	}

	receipt, err := p.bundler.WaitForReceipt(ctx, p.clock, submittedHash, p.cfg.ReceiptMaxWait)
	if err != nil {
		// the bundler may lag its own inclusion; check the entrypoint's logs
		// before giving up on the receipt
		if fallback := p.receiptFromEvent(ctx, submittedHash); fallback != nil {
			return fallback, nil
		}
		return nil, err
	}
	return receipt, nil
}

// receiptFromEvent recovers a receipt from the entrypoint's
// UserOperationEvent when the bundler cannot serve one. Best effort: any
// failure here falls back to the original receipt-wait error.
func (p *primitives) receiptFromEvent(ctx context.Context, opHash string) *bundler.OperationReceipt {
	record, err := aa.QueryUserOperationEvent(ctx, p.client, common.HexToHash(opHash), eventLookbackBlocks)
	if err != nil || record == nil {
		return nil
	}

	p.logger.Info("receipt recovered from entrypoint event",
		"opHash", opHash, "txHash", record.TxHash.Hex(), "success", record.Success)

	receipt := &bundler.OperationReceipt{
		UserOpHash: record.OpHash,
		Sender:     record.Sender,
		Success:    record.Success,
	}
	receipt.Receipt.TransactionHash = record.TxHash
	receipt.Receipt.BlockNumber = hexutil.Big(*record.BlockNumber)
	return receipt
}

// freshNonce reads the entrypoint nonce for sender.
func (p *primitives) freshNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	return aa.GetNonce(ctx, p.client, sender, nil)
}
