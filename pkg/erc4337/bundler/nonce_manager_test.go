package bundler

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSender = common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a")

func fixedChain(n int64) func() (*big.Int, error) {
	return func() (*big.Int, error) { return big.NewInt(n), nil }
}

func TestNextNonceFirstUseReadsChain(t *testing.T) {
	nm := NewNonceManager(nil)

	nonce, err := nm.NextNonce(testSender, fixedChain(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), nonce.Int64())

	_, ok := nm.CachedNonce(testSender)
	assert.False(t, ok, "NextNonce must not cache until MarkSubmitted")
}

func TestNoncesStrictlyIncreaseAcrossSubmissions(t *testing.T) {
	nm := NewNonceManager(nil)

	// the chain stays at 5 while ops sit in the bundler mempool
	var submitted []int64
	for i := 0; i < 4; i++ {
		nonce, err := nm.NextNonce(testSender, fixedChain(5))
		require.NoError(t, err)
		nm.MarkSubmitted(testSender, nonce)
		submitted = append(submitted, nonce.Int64())
	}

	assert.Equal(t, []int64{5, 6, 7, 8}, submitted)
}

func TestNextNonceTrustsChainWhenAhead(t *testing.T) {
	nm := NewNonceManager(nil)

	nonce, err := nm.NextNonce(testSender, fixedChain(5))
	require.NoError(t, err)
	nm.MarkSubmitted(testSender, nonce)

	// someone else landed operations for the sender out of band
	nonce, err = nm.NextNonce(testSender, fixedChain(12))
	require.NoError(t, err)
	assert.Equal(t, int64(12), nonce.Int64())
}

func TestResetForcesChainRead(t *testing.T) {
	nm := NewNonceManager(nil)

	nonce, err := nm.NextNonce(testSender, fixedChain(5))
	require.NoError(t, err)
	nm.MarkSubmitted(testSender, nonce)

	nm.Reset(testSender)
	_, ok := nm.CachedNonce(testSender)
	require.False(t, ok)

	nonce, err = nm.NextNonce(testSender, fixedChain(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), nonce.Int64())
}

func TestNextNoncePropagatesFetchError(t *testing.T) {
	nm := NewNonceManager(nil)

	_, err := nm.NextNonce(testSender, func() (*big.Int, error) {
		return nil, fmt.Errorf("node down")
	})
	assert.Error(t, err)
}

func TestCachedNonceReturnsCopy(t *testing.T) {
	nm := NewNonceManager(nil)
	nm.MarkSubmitted(testSender, big.NewInt(5))

	cached, ok := nm.CachedNonce(testSender)
	require.True(t, ok)
	cached.SetInt64(99)

	again, ok := nm.CachedNonce(testSender)
	require.True(t, ok)
	assert.Equal(t, int64(6), again.Int64())
}
