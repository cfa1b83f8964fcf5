// Package userop defines the ERC-4337 UserOperation shape shared by the
// builder, bundler client, paymaster gateway and submission coordinator.
package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is a meta-transaction executed by a smart-contract wallet on
// behalf of its owner, per https://eips.ethereum.org/EIPS/eip-4337 (v0.6).
//
// Once signed and handed to the bundler an instance must be treated as
// immutable; retries operate on a Clone, never on the submitted value.
//
// The struct deliberately carries no serialization tags: RPC payloads use
// the hex-string wire codecs owned by the bundler and paymaster clients.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packArgs = abi.Arguments{
		{Type: addressT}, // sender
		{Type: uint256T}, // nonce
		{Type: bytes32T}, // keccak(initCode)
		{Type: bytes32T}, // keccak(callData)
		{Type: uint256T}, // callGasLimit
		{Type: uint256T}, // verificationGasLimit
		{Type: uint256T}, // preVerificationGas
		{Type: uint256T}, // maxFeePerGas
		{Type: uint256T}, // maxPriorityFeePerGas
		{Type: bytes32T}, // keccak(paymasterAndData)
	}

	hashArgs = abi.Arguments{
		{Type: bytes32T}, // keccak(packed op)
		{Type: addressT}, // entrypoint
		{Type: uint256T}, // chain id
	}
)

// PackForSignature ABI-encodes the operation the way the entrypoint hashes it:
// dynamic fields are replaced by their keccak256 digests, the signature is
// excluded entirely.
func (op *UserOperation) PackForSignature() ([]byte, error) {
	return packArgs.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PreVerificationGas,
		op.MaxFeePerGas,
		op.MaxPriorityFeePerGas,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
}

// GetUserOpHash computes the canonical hash the wallet owner (or a delegated
// session key) signs: keccak256(abi.encode(keccak256(packedOp), entryPoint, chainID)).
func (op *UserOperation) GetUserOpHash(entrypoint common.Address, chainID *big.Int) common.Hash {
	packed, err := op.PackForSignature()
	if err != nil {
		// Pack over fixed argument types only fails on a nil big.Int; callers
		// always populate gas fields before hashing.
		panic(err)
	}

	encoded, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entrypoint, chainID)
	if err != nil {
		panic(err)
	}

	return crypto.Keccak256Hash(encoded)
}

// Clone returns a deep copy. A retry that needs different gas, nonce or
// payment data starts from a Clone so the already-submitted instance is never
// mutated.
func (op *UserOperation) Clone() *UserOperation {
	copyInt := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		return new(big.Int).Set(v)
	}
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                copyInt(op.Nonce),
		InitCode:             append([]byte(nil), op.InitCode...),
		CallData:             append([]byte(nil), op.CallData...),
		CallGasLimit:         copyInt(op.CallGasLimit),
		VerificationGasLimit: copyInt(op.VerificationGasLimit),
		PreVerificationGas:   copyInt(op.PreVerificationGas),
		MaxFeePerGas:         copyInt(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyInt(op.MaxPriorityFeePerGas),
		PaymasterAndData:     append([]byte(nil), op.PaymasterAndData...),
		Signature:            append([]byte(nil), op.Signature...),
	}
}
