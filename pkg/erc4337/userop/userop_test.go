package userop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{},
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(200000),
		VerificationGasLimit: big.NewInt(1000000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(2000000000),
		MaxPriorityFeePerGas: big.NewInt(1000000000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func TestGetUserOpHashIsDeterministic(t *testing.T) {
	entrypoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	chainID := big.NewInt(11155111)

	op := fixtureOp()
	h1 := op.GetUserOpHash(entrypoint, chainID)
	h2 := op.GetUserOpHash(entrypoint, chainID)
	assert.Equal(t, h1, h2)

	// the signature is excluded from the hash
	op.Signature = []byte{0x01, 0x02}
	assert.Equal(t, h1, op.GetUserOpHash(entrypoint, chainID))

	// everything else is not
	op.Nonce = big.NewInt(8)
	assert.NotEqual(t, h1, op.GetUserOpHash(entrypoint, chainID))
}

func TestGetUserOpHashVariesByChainAndEntrypoint(t *testing.T) {
	op := fixtureOp()
	entrypoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

	sepolia := op.GetUserOpHash(entrypoint, big.NewInt(11155111))
	base := op.GetUserOpHash(entrypoint, big.NewInt(8453))
	assert.NotEqual(t, sepolia, base)

	other := op.GetUserOpHash(common.HexToAddress("0x0000000000000000000000000000000000000001"), big.NewInt(11155111))
	assert.NotEqual(t, sepolia, other)
}

func TestCloneIsDeep(t *testing.T) {
	op := fixtureOp()
	cl := op.Clone()

	require.Equal(t, op, cl)

	cl.Nonce.SetInt64(99)
	cl.CallData[0] = 0xff
	cl.CallGasLimit.SetInt64(1)

	assert.Equal(t, int64(7), op.Nonce.Int64())
	assert.Equal(t, byte(0xb6), op.CallData[0])
	assert.Equal(t, int64(200000), op.CallGasLimit.Int64())
}

func TestCloneHandlesNilGasFields(t *testing.T) {
	op := &UserOperation{
		Sender:   common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a"),
		CallData: []byte{0x01},
	}
	cl := op.Clone()
	assert.Nil(t, cl.Nonce)
	assert.Nil(t, cl.CallGasLimit)
	assert.Equal(t, op.Sender, cl.Sender)
}

func TestPackForSignaturePreservesFields(t *testing.T) {
	op := fixtureOp()
	packed, err := op.PackForSignature()
	require.NoError(t, err)

	// 10 static slots of 32 bytes each
	assert.Len(t, packed, 320)

	// sender occupies the first slot, right-aligned
	assert.Equal(t, op.Sender.Bytes(), packed[12:32])
	// nonce the second
	assert.Equal(t, int64(7), new(big.Int).SetBytes(packed[32:64]).Int64())
}
