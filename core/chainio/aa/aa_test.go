package aa

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testOwner  = common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a")
	testTarget = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
)

func TestGetInitCodeLayout(t *testing.T) {
	initCode, err := GetInitCode(testOwner.Hex(), nil)
	require.NoError(t, err)

	raw := hexutil.MustDecode(initCode)
	// factory address, then packed createAccount(owner, salt):
	// 4-byte selector plus two 32-byte words
	require.Len(t, raw, 20+4+64)
	assert.Equal(t, GetFactoryAddress().Bytes(), raw[:20])
	assert.Contains(t, initCode, strings.ToLower(testOwner.Hex()[2:]))
}

func TestGetInitCodeSaltChangesCode(t *testing.T) {
	a, err := GetInitCode(testOwner.Hex(), nil)
	require.NoError(t, err)
	b, err := GetInitCode(testOwner.Hex(), big.NewInt(7))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPackExecute(t *testing.T) {
	calldata, err := PackExecute(testTarget, big.NewInt(1), []byte{0xde, 0xad})
	require.NoError(t, err)

	// execute(address,uint256,bytes) selector
	assert.Equal(t, "execute", WalletMethodName(calldata))

	// nil payload packs the same as an empty one
	withNil, err := PackExecute(testTarget, big.NewInt(1), nil)
	require.NoError(t, err)
	withEmpty, err := PackExecute(testTarget, big.NewInt(1), []byte{})
	require.NoError(t, err)
	assert.Equal(t, withEmpty, withNil)
}

func TestPackExecuteBatchWithValues(t *testing.T) {
	calldata, err := PackExecuteBatchWithValues(
		[]common.Address{testTarget, testOwner},
		[]*big.Int{big.NewInt(0), big.NewInt(1)},
		[][]byte{{0x01}, {0x02}},
	)
	require.NoError(t, err)
	assert.Equal(t, "executeBatchWithValues", WalletMethodName(calldata))
}

func TestPackSessionKeyCalls(t *testing.T) {
	key := common.HexToAddress("0x0000000000000000000000000000000000000123")
	var scope [32]byte
	scope[0] = 0xaa

	reg, err := PackRegisterSessionKey(key, big.NewInt(1700000000), scope)
	require.NoError(t, err)
	assert.Equal(t, "registerSessionKey", WalletMethodName(reg))

	rev, err := PackRevokeSessionKey(key)
	require.NoError(t, err)
	assert.Equal(t, "revokeSessionKey", WalletMethodName(rev))
}

func TestWalletMethodNameUnknownSelector(t *testing.T) {
	assert.Equal(t, "0xdeadbeef", WalletMethodName([]byte{0xde, 0xad, 0xbe, 0xef}))
}
