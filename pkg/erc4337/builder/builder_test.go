package builder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSender = common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a")
	testTarget = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
)

func TestBuildSingleProducesUnsignedShell(t *testing.T) {
	b := New(testSender)

	op, err := b.BuildSingle(testTarget, big.NewInt(1), []byte{0xde, 0xad})
	require.NoError(t, err)

	assert.Equal(t, testSender, op.Sender)
	assert.Nil(t, op.Nonce, "nonce is filled by the pipeline, not the builder")
	assert.Empty(t, op.InitCode)
	assert.Empty(t, op.Signature)
	assert.Empty(t, op.PaymasterAndData)
	assert.Equal(t, int64(0), op.CallGasLimit.Int64())
	assert.Equal(t, int64(0), op.MaxFeePerGas.Int64())
	assert.NotEmpty(t, op.CallData)
}

func TestBuildSingleNilValueDefaultsToZero(t *testing.T) {
	b := New(testSender)

	withNil, err := b.BuildSingle(testTarget, nil, []byte{0x01})
	require.NoError(t, err)

	withZero, err := b.BuildSingle(testTarget, big.NewInt(0), []byte{0x01})
	require.NoError(t, err)

	assert.Equal(t, withZero.CallData, withNil.CallData)
}

func TestBuildBatchLengthMismatchFailsFast(t *testing.T) {
	b := New(testSender)

	_, err := b.BuildBatch(
		[]common.Address{testTarget, testTarget},
		[]*big.Int{big.NewInt(0)},
		[][]byte{{0x01}, {0x02}},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchLengthMismatch)
}

func TestBuildBatchEmptyRejected(t *testing.T) {
	b := New(testSender)

	_, err := b.BuildBatch(nil, nil, nil)
	require.Error(t, err)
}

func TestBuildBatchMatchingLengths(t *testing.T) {
	b := New(testSender)

	op, err := b.BuildBatch(
		[]common.Address{testTarget, testSender},
		[]*big.Int{big.NewInt(1), nil},
		[][]byte{{0x01}, {0x02}},
	)
	require.NoError(t, err)
	assert.Equal(t, testSender, op.Sender)
	assert.NotEmpty(t, op.CallData)
}
