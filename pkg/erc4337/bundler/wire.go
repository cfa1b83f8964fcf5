package bundler

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
)

// wireUserOperation is the hex-string JSON shape bundler RPCs expect.
type wireUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                string         `json:"nonce"`
	InitCode             string         `json:"initCode"`
	CallData             string         `json:"callData"`
	CallGasLimit         string         `json:"callGasLimit"`
	VerificationGasLimit string         `json:"verificationGasLimit"`
	PreVerificationGas   string         `json:"preVerificationGas"`
	MaxFeePerGas         string         `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string         `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string         `json:"paymasterAndData"`
	Signature            string         `json:"signature"`
}

func toWire(op userop.UserOperation) wireUserOperation {
	return wireUserOperation{
		Sender:               op.Sender,
		Nonce:                fmt.Sprintf("0x%x", op.Nonce),
		InitCode:             fmt.Sprintf("0x%x", op.InitCode),
		CallData:             fmt.Sprintf("0x%x", op.CallData),
		CallGasLimit:         fmt.Sprintf("0x%x", op.CallGasLimit),
		VerificationGasLimit: fmt.Sprintf("0x%x", op.VerificationGasLimit),
		PreVerificationGas:   fmt.Sprintf("0x%x", op.PreVerificationGas),
		MaxFeePerGas:         fmt.Sprintf("0x%x", op.MaxFeePerGas),
		MaxPriorityFeePerGas: fmt.Sprintf("0x%x", op.MaxPriorityFeePerGas),
		PaymasterAndData:     fmt.Sprintf("0x%x", op.PaymasterAndData),
		Signature:            fmt.Sprintf("0x%x", op.Signature),
	}
}
