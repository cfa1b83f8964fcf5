package coordinator

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/paymaster"
	"github.com/blocklotto/aa-pipeline/pkg/eip1559"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/bundler"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
)

// The coordinator's collaborators, narrowed to the calls the state machine
// actually makes. ensureClients wires the real implementations.

type chainReader interface {
	SenderAddress(ctx context.Context, owner common.Address) (common.Address, error)
	EntrypointNonce(ctx context.Context, sender common.Address) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestFees(ctx context.Context) (maxFee, maxTip *big.Int, err error)
	WalletInitCode(owner common.Address) ([]byte, error)
	OperationEvent(ctx context.Context, opHash common.Hash, lookback uint64) (*aa.UserOperationEventRecord, error)
}

type deploymentService interface {
	IsDeployed(ctx context.Context, address common.Address) (bool, error)
	Deploy(ctx context.Context, owner common.Address) (common.Address, error)
}

type approvalService interface {
	IsApproved(ctx context.Context, wallet, token common.Address) (bool, error)
	EnsureApproved(ctx context.Context, owner, token common.Address) error
}

type sponsorService interface {
	Sponsor(ctx context.Context, op *userop.UserOperation, method paymaster.PaymentMethod) (*paymaster.SponsorshipResult, error)
}

type submissionService interface {
	EstimateUserOperationGas(ctx context.Context, op userop.UserOperation, override map[string]any) (*bundler.GasEstimation, error)
	SendUserOperation(ctx context.Context, op userop.UserOperation) (string, error)
	SendBundleNow(ctx context.Context) error
	WaitForReceipt(ctx context.Context, clock clockwork.Clock, opHash string, maxWait time.Duration) (*bundler.OperationReceipt, error)
}

// ethChain adapts an ethclient connection to chainReader.
type ethChain struct {
	client *ethclient.Client
}

func (r ethChain) SenderAddress(ctx context.Context, owner common.Address) (common.Address, error) {
	sender, err := aa.GetSenderAddress(ctx, r.client, owner, nil)
	if err != nil {
		return common.Address{}, err
	}
	return *sender, nil
}

func (r ethChain) EntrypointNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	return aa.GetNonce(ctx, r.client, sender, nil)
}

func (r ethChain) ChainID(ctx context.Context) (*big.Int, error) {
	return r.client.ChainID(ctx)
}

func (r ethChain) SuggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	return eip1559.SuggestFee(ctx, r.client)
}

func (r ethChain) WalletInitCode(owner common.Address) ([]byte, error) {
	initCode, err := aa.GetInitCode(owner.Hex(), nil)
	if err != nil {
		return nil, err
	}
	return common.FromHex(initCode), nil
}

func (r ethChain) OperationEvent(ctx context.Context, opHash common.Hash, lookback uint64) (*aa.UserOperationEventRecord, error) {
	return aa.QueryUserOperationEvent(ctx, r.client, opHash, lookback)
}
