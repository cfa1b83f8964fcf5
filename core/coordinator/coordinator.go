// Package coordinator sequences the full submission pipeline: build the
// operation, settle deployment and approvals, negotiate sponsorship, sign,
// submit and await the receipt. It is the only place retry and fallback
// policy lives; the managers and the gateway stay pure.
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/chainio/signer"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/core/paymaster"
	"github.com/blocklotto/aa-pipeline/core/wallet"
	"github.com/blocklotto/aa-pipeline/metrics"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/builder"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/bundler"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
	"github.com/blocklotto/aa-pipeline/storage"
)

var dummySigForGasEstimation = crypto.Keccak256Hash(common.FromHex("0xdead123"))

// OperationSigner authorizes one operation hash. The controller key is the
// default; a session-key manager satisfies this too.
type OperationSigner interface {
	Sign(message []byte) ([]byte, error)
}

type controllerSigner struct {
	cfg *config.SmartWalletConfig
}

func (s controllerSigner) Sign(message []byte) ([]byte, error) {
	return signer.SignMessage(s.cfg.ControllerPrivateKey, message)
}

// Call is one intent for the smart wallet to execute.
type Call struct {
	Target  common.Address
	Value   *big.Int
	Payload []byte
}

// Request describes one submission. Payment nil means start sponsored and
// fall back per policy; Signer nil means sign with the controller key.
type Request struct {
	Owner   common.Address
	Calls   []Call
	Payment *paymaster.PaymentMethod
	Signer  OperationSigner
}

// Result is the terminal outcome of a submission.
type Result struct {
	ID      string
	State   State
	OpHash  string
	Payment paymaster.PaymentMethod
	Receipt *bundler.OperationReceipt
}

// Coordinator is safe for concurrent use. Operations for the same sender are
// processed strictly in arrival order; different senders proceed in parallel.
type Coordinator struct {
	cfg     *config.SmartWalletConfig
	clock   clockwork.Clock
	logger  logger.Logger
	metrics *metrics.PipelineMetrics
	env     ExecutionEnv
	db      storage.Storage

	// populated by ensureClients
	client      *ethclient.Client
	chain       chainReader
	bundler     submissionService
	bundlerRPC  *bundler.BundlerClient
	gateway     sponsorService
	gatewayRPC  *paymaster.Gateway
	deployments deploymentService
	wallets     *wallet.DeploymentManager
	approvals   approvalService
	nonces      *bundler.NonceManager

	initGroup   singleflight.Group
	initialized atomic.Bool

	laneMu sync.Mutex
	lanes  map[common.Address]chan struct{}
}

type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithExecutionEnv(env ExecutionEnv) Option {
	return func(c *Coordinator) { c.env = env }
}

func NewCoordinator(cfg *config.SmartWalletConfig, db storage.Storage, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  logger.EnsureLogger(cfg.Logger),
		metrics: metrics.NoopMetrics(),
		env:     RealEnv{},
		db:      db,
		lanes:   map[common.Address]chan struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureClients dials the chain node, bundler and paymaster exactly once.
// Concurrent callers arriving during initialization await the same in-flight
// attempt; a failed attempt is retried by the next caller.
func (c *Coordinator) ensureClients(ctx context.Context) error {
	if c.initialized.Load() {
		return nil
	}

	_, err, _ := c.initGroup.Do("init", func() (interface{}, error) {
		if c.initialized.Load() {
			return nil, nil
		}

		if (c.cfg.FactoryAddress != common.Address{}) {
			aa.SetFactoryAddress(c.cfg.FactoryAddress)
		}
		if (c.cfg.EntrypointAddress != common.Address{}) {
			aa.SetEntrypointAddress(c.cfg.EntrypointAddress)
		}

		client, err := ethclient.DialContext(ctx, c.cfg.EthRpcUrl)
		if err != nil {
			return nil, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to dial eth node: %w", err))
		}

		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to read chain id: %w", err))
		}
		config.CurrentChainEnv = config.EnvFromChainID(chainID)

		bundlerClient, err := bundler.NewBundlerClient(c.cfg.BundlerURL, c.logger)
		if err != nil {
			client.Close()
			return nil, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to dial bundler: %w", err))
		}

		gateway, err := paymaster.NewGateway(c.cfg, c.logger)
		if err != nil {
			client.Close()
			bundlerClient.Close()
			return nil, err
		}

		deployments := wallet.NewDeploymentManager(client, bundlerClient, c.db, c.cfg, c.clock, c.logger)

		c.client = client
		c.chain = ethChain{client: client}
		c.bundler = bundlerClient
		c.bundlerRPC = bundlerClient
		c.gateway = gateway
		c.gatewayRPC = gateway
		c.nonces = bundler.NewNonceManager(c.logger)
		c.wallets = deployments
		c.deployments = deployments
		c.approvals = wallet.NewApprovalManager(client, bundlerClient, deployments, c.cfg, c.clock, c.logger)

		c.initialized.Store(true)
		return nil, nil
	})
	return err
}

// Close releases the RPC connections. Safe to call before initialization.
func (c *Coordinator) Close() {
	if !c.initialized.Load() {
		return
	}
	c.client.Close()
	c.bundlerRPC.Close()
}

// Deployments exposes the deployment manager for callers that need wallet
// state outside a submission (CLI status commands, prefunding flows).
func (c *Coordinator) Deployments(ctx context.Context) (*wallet.DeploymentManager, error) {
	if err := c.ensureClients(ctx); err != nil {
		return nil, err
	}
	return c.wallets, nil
}

// Gateway exposes the paymaster gateway, initializing clients if needed.
func (c *Coordinator) Gateway(ctx context.Context) (*paymaster.Gateway, error) {
	if err := c.ensureClients(ctx); err != nil {
		return nil, err
	}
	return c.gatewayRPC, nil
}

// Submit runs one request through the full pipeline and blocks until it
// reaches a terminal state. At most one operation per sender is in flight;
// concurrent submissions for the same sender queue in arrival order.
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Result, error) {
	if len(req.Calls) == 0 {
		return nil, fmt.Errorf("request has no calls")
	}
	if err := c.ensureClients(ctx); err != nil {
		return nil, err
	}

	sender, err := c.chain.SenderAddress(ctx, req.Owner)
	if err != nil {
		return nil, operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to derive wallet address: %w", err))
	}

	lane := c.lane(sender)
	select {
	case lane <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-lane }()

	res := &Result{
		ID:    ulid.Make().String(),
		State: StateBuilding,
	}
	err = c.run(ctx, req, sender, res)
	if err != nil {
		if operr.KindOf(err) == operr.PendingTimeout {
			// the operation was handed off and may still land; res.OpHash
			// lets the caller re-poll, so this is not a terminal failure
			c.logger.Warn("submission pending without receipt",
				"id", res.ID, "sender", sender.Hex(), "opHash", res.OpHash, "error", err)
			return res, err
		}
		res.State = StateFailed
		c.metrics.IncFailed(string(operr.KindOf(err)))
		c.logger.Error("submission failed",
			"id", res.ID, "sender", sender.Hex(), "kind", string(operr.KindOf(err)), "error", err)
		return res, err
	}
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, req Request, sender common.Address, res *Result) error {
	shell, err := c.buildShell(req, sender)
	if err != nil {
		return err
	}

	method := paymaster.SponsoredMethod()
	if req.Payment != nil {
		method = *req.Payment
	}

	opSigner := req.Signer
	if opSigner == nil {
		opSigner = controllerSigner{cfg: c.cfg}
	}

	// Bounded retry loop. Each pass starts from a fresh clone of the shell:
	// a submitted operation is never mutated for a retry.
	fallbackUsed := false
	nonceRebuilt := false
	for attempt := 0; attempt < 4; attempt++ {
		op := shell.Clone()
		res.Payment = method

		outcome, err := c.attempt(ctx, op, req.Owner, sender, method, opSigner, res)
		if err == nil {
			return nil
		}

		switch operr.KindOf(err) {
		case operr.UnsupportedPaymentType:
			if fallbackUsed {
				return err
			}
			next, ok := method.NextFallback(c.cfg.DefaultGasToken)
			if !ok {
				return err
			}
			c.logger.Info("payment method refused, falling back",
				"id", res.ID, "from", method.String(), "to", next.String())
			method = next
			fallbackUsed = true
			c.metrics.IncFallback()

		case operr.InvalidNonce:
			if nonceRebuilt || outcome == outcomeSubmitted {
				// a stale nonce after submission means someone else landed
				// an operation for this sender; not recoverable here
				return err
			}
			c.logger.Info("stale nonce, rebuilding with fresh chain read", "id", res.ID)
			c.nonces.Reset(sender)
			nonceRebuilt = true
			c.metrics.IncNonceRebuild()

		default:
			return err
		}
	}
	return operr.New(operr.Unknown, "retry budget exhausted for %s", sender.Hex())
}

type attemptOutcome int

const (
	outcomeNotSubmitted attemptOutcome = iota
	outcomeSubmitted
)

// attempt drives one operation instance through the states from Building to
// a terminal. It returns how far the operation got so the retry policy can
// distinguish pre- and post-submission failures.
func (c *Coordinator) attempt(
	ctx context.Context,
	op *userop.UserOperation,
	owner, sender common.Address,
	method paymaster.PaymentMethod,
	opSigner OperationSigner,
	res *Result,
) (attemptOutcome, error) {
	// CheckingDeployment
	res.State = StateCheckingDeployment
	deployed, err := c.deployments.IsDeployed(ctx, sender)
	if err != nil {
		return outcomeNotSubmitted, err
	}
	lifecycleOps := false
	if !deployed {
		if method.RequiresDeployedWallet() {
			res.State = StateDeploying
			if _, err := c.deployments.Deploy(ctx, owner); err != nil {
				return outcomeNotSubmitted, err
			}
			c.metrics.IncDeployment()
			lifecycleOps = true
		} else {
			// sponsored gas tolerates lazy deployment: ship the factory
			// call inside the operation itself
			initCode, initErr := c.chain.WalletInitCode(owner)
			if initErr != nil {
				return outcomeNotSubmitted, initErr
			}
			op.InitCode = initCode
		}
	}

	// CheckingApproval
	if method.TokenBased() {
		res.State = StateCheckingApproval
		approved, err := c.approvals.IsApproved(ctx, sender, method.Token)
		if err != nil {
			return outcomeNotSubmitted, err
		}
		if !approved {
			res.State = StateApproving
			if err := c.approvals.EnsureApproved(ctx, owner, method.Token); err != nil {
				return outcomeNotSubmitted, err
			}
			c.metrics.IncApproval()
			lifecycleOps = true
		}
	}

	// Building: nonce, fees, gas. The nonce is read only after the lifecycle
	// stages above: deployment and approval submit operations of their own,
	// each consuming an entrypoint nonce, so any earlier read would be stale.
	res.State = StateBuilding
	if lifecycleOps {
		c.nonces.Reset(sender)
	}
	nonce, err := c.nonces.NextNonce(sender, func() (*big.Int, error) {
		return c.chain.EntrypointNonce(ctx, sender)
	})
	if err != nil {
		return outcomeNotSubmitted, operr.Wrap(operr.NetworkUnavailable, err)
	}
	op.Nonce = nonce

	if err := c.fillGasAndFees(ctx, op); err != nil {
		return outcomeNotSubmitted, err
	}

	// Sponsoring
	res.State = StateSponsoring
	sponsorship, err := c.gateway.Sponsor(ctx, op, method)
	if err != nil {
		kind := operr.KindOf(err)
		if kind == operr.UnsupportedPaymentType || kind == operr.InvalidNonce {
			return outcomeNotSubmitted, err
		}
		masked, ok := c.env.MaskSponsorFailure(method, err)
		if !ok {
			return outcomeNotSubmitted, err
		}
		sponsorship = masked
	}
	op.PaymasterAndData = sponsorship.PaymasterAndData
	if sponsorship.GasLimits != nil {
		applyGasLimits(op, sponsorship.GasLimits)
	}

	// Signing
	res.State = StateSigning
	chainID, err := c.chain.ChainID(ctx)
	if err != nil {
		return outcomeNotSubmitted, operr.Wrap(operr.NetworkUnavailable, err)
	}
	opHash := op.GetUserOpHash(aa.EntrypointAddress, chainID)
	op.Signature, err = opSigner.Sign(opHash.Bytes())
	if err != nil {
		if operr.KindOf(err) != operr.Unknown {
			return outcomeNotSubmitted, err
		}
		return outcomeNotSubmitted, operr.Wrap(operr.UserRejectedSignature, err)
	}

	// Submitting
	res.State = StateSubmitting
	c.metrics.IncSubmission(method.String())
	submittedHash, err := c.bundler.SendUserOperation(ctx, *op)
	if err != nil {
		return outcomeNotSubmitted, bundler.ClassifySendError(err)
	}
	res.OpHash = submittedHash
	c.nonces.MarkSubmitted(sender, op.Nonce)

	c.logger.Info("operation submitted",
		"id", res.ID, "sender", sender.Hex(), "nonce", op.Nonce.String(),
		"method", aa.WalletMethodName(op.CallData),
		"payment", method.String(), "opHash", submittedHash)

	if err := c.bundler.SendBundleNow(ctx); err != nil {
		c.logger.Debug("manual bundle trigger failed (non-fatal)", "error", err)
	}

	// AwaitingReceipt
	res.State = StateAwaitingReceipt
	waitStart := c.clock.Now()
	receipt, err := c.bundler.WaitForReceipt(ctx, c.clock, submittedHash, c.cfg.ReceiptMaxWait)
	if err != nil {
		// the bundler may lag its own inclusion; check the entrypoint's logs
		// before surfacing the timeout
		if recovered := c.receiptFromEvent(ctx, submittedHash); recovered != nil {
			receipt = recovered
		} else {
			// PendingTimeout is retryable by the caller, not terminal failure
			return outcomeSubmitted, err
		}
	}
	c.metrics.ObserveReceiptWait(c.clock.Now().Sub(waitStart).Seconds())

	if !receipt.Success {
		return outcomeSubmitted, operr.New(operr.Unknown, "operation %s reverted on chain", submittedHash)
	}

	res.Receipt = receipt
	res.State = StateConfirmed
	c.metrics.IncConfirmed(method.String())
	c.logger.Info("operation confirmed", "id", res.ID, "opHash", submittedHash)
	return outcomeSubmitted, nil
}

// receiptFromEvent recovers a receipt from the entrypoint's
// UserOperationEvent when the bundler cannot serve one. Best effort.
func (c *Coordinator) receiptFromEvent(ctx context.Context, opHash string) *bundler.OperationReceipt {
	const lookbackBlocks = 2000

	record, err := c.chain.OperationEvent(ctx, common.HexToHash(opHash), lookbackBlocks)
	if err != nil || record == nil {
		return nil
	}

	c.logger.Info("receipt recovered from entrypoint event",
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

func (c *Coordinator) buildShell(req Request, sender common.Address) (*userop.UserOperation, error) {
	b := builder.New(sender)
	if len(req.Calls) == 1 {
		call := req.Calls[0]
		return b.BuildSingle(call.Target, call.Value, call.Payload)
	}

	targets := make([]common.Address, len(req.Calls))
	values := make([]*big.Int, len(req.Calls))
	payloads := make([][]byte, len(req.Calls))
	for i, call := range req.Calls {
		targets[i] = call.Target
		values[i] = call.Value
		payloads[i] = call.Payload
	}
	return b.BuildBatch(targets, values, payloads)
}

// fillGasAndFees sets fee caps from the chain and gas limits from the
// bundler's estimate, falling back to conservative defaults when estimation
// is unavailable.
func (c *Coordinator) fillGasAndFees(ctx context.Context, op *userop.UserOperation) error {
	maxFee, maxTip, err := c.chain.SuggestFees(ctx)
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("failed to suggest gas fees: %w", err))
	}
	op.MaxFeePerGas = maxFee
	op.MaxPriorityFeePerGas = maxTip

	hasInitCode := len(op.InitCode) > 0
	op.CallGasLimit = new(big.Int).Set(wallet.DefaultCallGasLimit)
	op.PreVerificationGas = new(big.Int).Set(wallet.DefaultPreVerificationGas)
	if hasInitCode {
		op.VerificationGasLimit = new(big.Int).Set(wallet.DeploymentVerificationGasLimit)
	} else {
		op.VerificationGasLimit = new(big.Int).Set(wallet.DefaultVerificationGasLimit)
	}

	op.Signature, err = signer.SignMessage(c.cfg.ControllerPrivateKey, dummySigForGasEstimation.Bytes())
	if err != nil {
		return err
	}

	if gas, gasErr := c.bundler.EstimateUserOperationGas(ctx, *op, nil); gasErr == nil && gas != nil {
		op.CallGasLimit = gas.CallGasLimit
		op.PreVerificationGas = gas.PreVerificationGas
		if !hasInitCode {
			op.VerificationGasLimit = gas.VerificationGasLimit
		}
	} else {
		c.logger.Debug("gas estimation failed, using fallback limits", "error", gasErr)
	}
	return nil
}

func (c *Coordinator) lane(sender common.Address) chan struct{} {
	c.laneMu.Lock()
	defer c.laneMu.Unlock()
	lane, ok := c.lanes[sender]
	if !ok {
		lane = make(chan struct{}, 1)
		c.lanes[sender] = lane
	}
	return lane
}

func applyGasLimits(op *userop.UserOperation, gas *bundler.GasEstimation) {
	if gas.CallGasLimit != nil {
		op.CallGasLimit = gas.CallGasLimit
	}
	if gas.VerificationGasLimit != nil {
		op.VerificationGasLimit = gas.VerificationGasLimit
	}
	if gas.PreVerificationGas != nil {
		op.PreVerificationGas = gas.PreVerificationGas
	}
}
