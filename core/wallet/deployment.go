package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/model"
	"github.com/blocklotto/aa-pipeline/pkg/eip1559"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/bundler"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
	"github.com/blocklotto/aa-pipeline/storage"
)

const (
	codePollAttempts = 10
	pollInterval     = 2 * time.Second
)

// DeploymentManager answers "is this wallet live on chain" and makes it so
// when it is not. Deployment state is monotonic: once a wallet is observed
// deployed, neither the in-memory cache nor the persisted record ever flips
// back, so positive answers can be served without an RPC round trip.
type DeploymentManager struct {
	primitives

	db storage.Storage

	mu       sync.Mutex
	deployed map[common.Address]bool

	deployGroup singleflight.Group
	// runDeploy is the singleflight body, indirect so the coalescing
	// behavior can be exercised without a node.
	runDeploy func(ctx context.Context, owner, sender common.Address) error
}

func NewDeploymentManager(
	client *ethclient.Client,
	bundlerClient *bundler.BundlerClient,
	db storage.Storage,
	cfg *config.SmartWalletConfig,
	clock clockwork.Clock,
	lgr logger.Logger,
) *DeploymentManager {
	m := &DeploymentManager{
		primitives: primitives{
			client:  client,
			bundler: bundlerClient,
			cfg:     cfg,
			clock:   clock,
			logger:  lgr,
		},
		db:       db,
		deployed: map[common.Address]bool{},
	}
	m.runDeploy = m.deploy
	return m
}

// IsDeployed reports whether the smart wallet at address has bytecode on
// chain. A positive result is cached permanently; a negative result is always
// re-checked against the node.
func (m *DeploymentManager) IsDeployed(ctx context.Context, address common.Address) (bool, error) {
	m.mu.Lock()
	cached := m.deployed[address]
	m.mu.Unlock()
	if cached {
		return true, nil
	}

	if w, err := m.loadWallet(address); err == nil && w != nil && w.Deployed {
		m.markDeployed(address)
		return true, nil
	}

	code, err := m.client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to fetch code at %s: %w", address.Hex(), err))
	}
	if len(code) == 0 {
		return false, nil
	}

	m.markDeployed(address)
	m.persistDeployed(address)
	return true, nil
}

// CheckPrefunding reports whether address holds a positive entrypoint deposit.
func (m *DeploymentManager) CheckPrefunding(ctx context.Context, address common.Address) (bool, *big.Int, error) {
	deposit, err := aa.GetDeposit(ctx, m.client, address)
	if err != nil {
		return false, nil, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to read deposit for %s: %w", address.Hex(), err))
	}
	return deposit.Sign() > 0, deposit, nil
}

// Prefund sends amount wei from the controller EOA to the entrypoint's
// depositTo(address), crediting the wallet's prefund balance. It waits until
// the transaction is mined.
func (m *DeploymentManager) Prefund(ctx context.Context, address common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("prefund amount must be positive")
	}

	chainID, err := m.client.ChainID(ctx)
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, err)
	}

	nonce, err := m.client.PendingNonceAt(ctx, m.cfg.ControllerAddress)
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, err)
	}

	maxFee, maxTip, err := eip1559.SuggestFee(ctx, m.client)
	if err != nil {
		return err
	}

	calldata, err := aa.PackDepositTo(address)
	if err != nil {
		return err
	}

	entrypoint := aa.EntrypointAddress
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxTip,
		GasFeeCap: maxFee,
		Gas:       100_000,
		To:        &entrypoint,
		Value:     amount,
		Data:      calldata,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), m.cfg.ControllerPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to sign prefund tx: %w", err)
	}

	if err := m.client.SendTransaction(ctx, signedTx); err != nil {
		return operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to send prefund tx: %w", err))
	}

	m.logger.Info("prefund transaction sent",
		"wallet", address.Hex(), "amount", amount.String(), "tx", signedTx.Hash().Hex())

	if err := m.waitMined(ctx, signedTx.Hash()); err != nil {
		return err
	}

	if w, loadErr := m.loadWallet(address); loadErr == nil && w != nil {
		w.Prefunded = true
		m.storeWallet(w)
	}
	return nil
}

// Deploy deploys the counterfactual wallet owned by owner by submitting a
// bootstrap operation whose initCode runs the factory. Concurrent calls for
// the same wallet coalesce into one deployment; every caller gets the same
// result. Deploy is a no-op when the wallet already has code.
func (m *DeploymentManager) Deploy(ctx context.Context, owner common.Address) (common.Address, error) {
	sender, err := aa.GetSenderAddress(ctx, m.client, owner, nil)
	if err != nil {
		return common.Address{}, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to compute sender address: %w", err))
	}

	deployed, err := m.IsDeployed(ctx, *sender)
	if err != nil {
		return common.Address{}, err
	}
	if deployed {
		return *sender, nil
	}

	if err := m.deployOnce(ctx, owner, *sender); err != nil {
		return common.Address{}, err
	}
	return *sender, nil
}

// deployOnce collapses concurrent deployments of the same wallet into one
// flight; every caller receives that flight's result.
func (m *DeploymentManager) deployOnce(ctx context.Context, owner, sender common.Address) error {
	_, err, _ := m.deployGroup.Do(sender.Hex(), func() (interface{}, error) {
		return nil, m.runDeploy(ctx, owner, sender)
	})
	return err
}

func (m *DeploymentManager) deploy(ctx context.Context, owner, sender common.Address) error {
	// re-check inside the flight: a racing caller may have finished already
	if deployed, err := m.IsDeployed(ctx, sender); err != nil {
		return err
	} else if deployed {
		return nil
	}

	initCode, err := aa.GetInitCode(owner.Hex(), nil)
	if err != nil {
		return err
	}

	// the call itself is a no-op; all the work happens in initCode
	callData, err := aa.PackExecute(sender, big.NewInt(0), nil)
	if err != nil {
		return err
	}

	nonce, err := m.freshNonce(ctx, sender)
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, err)
	}

	op := &userop.UserOperation{
		Sender:   sender,
		Nonce:    nonce,
		InitCode: hexutil.MustDecode(initCode),
		CallData: callData,
	}

	receipt, err := m.submitOperation(ctx, op)
	if err != nil {
		return err
	}
	if receipt != nil && !receipt.Success {
		return operr.New(operr.Unknown, "deployment operation reverted: %s", receipt.UserOpHash)
	}

	// The bundler receipt can land a block before the node we read code from
	// catches up, so poll briefly before declaring success.
	for i := 0; i < codePollAttempts; i++ {
		code, codeErr := m.client.CodeAt(ctx, sender, nil)
		if codeErr == nil && len(code) > 0 {
			m.markDeployed(sender)
			m.persistWallet(owner, sender)
			m.logger.Info("smart wallet deployed", "owner", owner.Hex(), "wallet", sender.Hex())
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(pollInterval):
		}
	}

	return operr.New(operr.PendingTimeout, "deployment receipt received but code not yet visible at %s", sender.Hex())
}

func (m *DeploymentManager) waitMined(ctx context.Context, txHash common.Hash) error {
	deadline := m.clock.Now().Add(m.cfg.ReceiptMaxWait)
	for m.clock.Now().Before(deadline) {
		receipt, err := m.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(pollInterval):
		}
	}
	return operr.New(operr.PendingTimeout, "transaction %s not mined within %s", txHash.Hex(), m.cfg.ReceiptMaxWait)
}

func (m *DeploymentManager) markDeployed(address common.Address) {
	m.mu.Lock()
	m.deployed[address] = true
	m.mu.Unlock()
}

func (m *DeploymentManager) loadWallet(address common.Address) (*model.Wallet, error) {
	raw, err := m.db.GetKey(model.WalletStorageKey(address))
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.WalletFromJSON(raw)
}

func (m *DeploymentManager) storeWallet(w *model.Wallet) {
	raw, err := w.ToJSON()
	if err == nil {
		err = m.db.Set(model.WalletStorageKey(w.Address), raw)
	}
	if err != nil {
		m.logger.Error("failed to persist wallet record", "wallet", w.Address.Hex(), "error", err)
	}
}

func (m *DeploymentManager) persistWallet(owner, address common.Address) {
	w, err := m.loadWallet(address)
	if err != nil || w == nil {
		w = &model.Wallet{Owner: owner, Address: address}
	}
	w.Deployed = true
	m.storeWallet(w)
}

// persistDeployed records an externally observed deployment (code found on
// chain for a wallet we never deployed ourselves).
func (m *DeploymentManager) persistDeployed(address common.Address) {
	w, err := m.loadWallet(address)
	if err != nil || w == nil {
		w = &model.Wallet{Address: address}
	}
	w.Deployed = true
	m.storeWallet(w)
}
