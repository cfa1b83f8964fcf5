package bundler

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jonboulle/clockwork"

	"github.com/blocklotto/aa-pipeline/core/operr"
)

// OperationReceipt is the bundler's record of an executed UserOperation.
type OperationReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         hexutil.Big    `json:"nonce"`
	Success       bool           `json:"success"`
	ActualGasUsed hexutil.Big    `json:"actualGasUsed"`
	ActualGasCost hexutil.Big    `json:"actualGasCost"`
	Receipt       struct {
		TransactionHash common.Hash `json:"transactionHash"`
		BlockNumber     hexutil.Big `json:"blockNumber"`
		GasUsed         hexutil.Big `json:"gasUsed"`
	} `json:"receipt"`
}

// GetUserOperationReceipt fetches the receipt of a UserOperation.
// Returns (nil, nil) while the operation is still pending.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, opHash string) (*OperationReceipt, error) {
	var receipt OperationReceipt
	err := bc.postJSONRPC(ctx, "eth_getUserOperationReceipt", &receipt, opHash)
	if errors.Is(err, errNullResult) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// WaitForReceipt polls for a UserOperation receipt with exponential backoff
// until maxWait elapses. A timeout yields PendingTimeout: the operation may
// still land later, so the caller can poll again rather than treat it as a
// hard failure.
func (bc *BundlerClient) WaitForReceipt(
	ctx context.Context,
	clock clockwork.Clock,
	opHash string,
	maxWait time.Duration,
) (*OperationReceipt, error) {
	const (
		initialInterval = 1 * time.Second
		maxInterval     = 5 * time.Second
		backoffFactor   = 1.5
	)

	start := clock.Now()
	interval := initialInterval
	attempt := 0

	for {
		attempt++

		receipt, err := bc.GetUserOperationReceipt(ctx, opHash)
		if err != nil {
			// transient polling errors are tolerated until the deadline
			bc.logger.Debug("receipt poll failed", "attempt", attempt, "error", err)
		}
		if receipt != nil {
			bc.logger.Info("user operation confirmed",
				"opHash", opHash,
				"txHash", receipt.Receipt.TransactionHash.Hex(),
				"elapsed", clock.Since(start).Round(time.Second),
				"attempts", attempt)
			return receipt, nil
		}

		if clock.Since(start) >= maxWait {
			return nil, operr.New(operr.PendingTimeout,
				"no receipt for %s after %v (%d attempts)", opHash, maxWait, attempt)
		}

		select {
		case <-ctx.Done():
			return nil, operr.Wrap(operr.PendingTimeout, ctx.Err())
		case <-clock.After(interval):
		}

		interval = time.Duration(float64(interval) * backoffFactor)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}
