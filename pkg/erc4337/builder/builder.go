// Package builder assembles unsigned UserOperations from raw call intents.
// It performs no network I/O: gas estimation, fees, nonce, initCode and
// sponsorship are all filled in later by the submission pipeline.
package builder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
)

// ErrBatchLengthMismatch is returned by BuildBatch before any other work when
// the argument slices disagree in length.
var ErrBatchLengthMismatch = fmt.Errorf("batch arrays must have equal lengths")

// OperationBuilder produces unsigned operations for a single smart wallet.
type OperationBuilder struct {
	sender common.Address
}

func New(sender common.Address) *OperationBuilder {
	return &OperationBuilder{sender: sender}
}

func (b *OperationBuilder) Sender() common.Address {
	return b.sender
}

// BuildSingle wraps one call in the wallet's execute() and returns the
// operation shell: gas and fee fields zeroed awaiting estimation, no
// initCode, no paymaster data, no signature.
func (b *OperationBuilder) BuildSingle(target common.Address, value *big.Int, payload []byte) (*userop.UserOperation, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	callData, err := aa.PackExecute(target, value, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to pack execute calldata: %w", err)
	}

	return b.shell(callData), nil
}

// BuildBatch wraps multiple calls in the wallet's executeBatchWithValues().
// Length mismatches fail immediately, before anything is packed.
func (b *OperationBuilder) BuildBatch(targets []common.Address, values []*big.Int, payloads [][]byte) (*userop.UserOperation, error) {
	if len(targets) != len(values) || len(targets) != len(payloads) {
		return nil, fmt.Errorf("%w: targets=%d values=%d payloads=%d",
			ErrBatchLengthMismatch, len(targets), len(values), len(payloads))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	sanitizedValues := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil {
			v = big.NewInt(0)
		}
		sanitizedValues[i] = v
	}

	callData, err := aa.PackExecuteBatchWithValues(targets, sanitizedValues, payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to pack batch calldata: %w", err)
	}

	return b.shell(callData), nil
}

func (b *OperationBuilder) shell(callData []byte) *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               b.sender,
		Nonce:                nil, // fetched from chain just before signing
		InitCode:             []byte{},
		CallData:             callData,
		CallGasLimit:         big.NewInt(0),
		VerificationGasLimit: big.NewInt(0),
		PreVerificationGas:   big.NewInt(0),
		MaxFeePerGas:         big.NewInt(0),
		MaxPriorityFeePerGas: big.NewInt(0),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}
