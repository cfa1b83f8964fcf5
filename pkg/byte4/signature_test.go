package byte4

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const erc20JSON = `[
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

func mustABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20JSON))
	require.NoError(t, err)
	return parsed
}

func TestMethodFromCalldata(t *testing.T) {
	parsed := mustABI(t)

	// approve(address,uint256) selector
	m, err := MethodFromCalldata(parsed, []byte{0x09, 0x5e, 0xa7, 0xb3, 0x00})
	require.NoError(t, err)
	assert.Equal(t, "approve", m.Name)

	// transfer(address,uint256)
	m, err = MethodFromCalldata(parsed, []byte{0xa9, 0x05, 0x9c, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, "transfer", m.Name)
}

func TestMethodFromCalldataUnknownSelector(t *testing.T) {
	parsed := mustABI(t)
	_, err := MethodFromCalldata(parsed, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestMethodFromCalldataTooShort(t *testing.T) {
	parsed := mustABI(t)
	_, err := MethodFromCalldata(parsed, []byte{0x01})
	assert.Error(t, err)
}

func TestMethodName(t *testing.T) {
	parsed := mustABI(t)
	assert.Equal(t, "approve", MethodName(parsed, []byte{0x09, 0x5e, 0xa7, 0xb3}))
	assert.Equal(t, "0xdeadbeef", MethodName(parsed, []byte{0xde, 0xad, 0xbe, 0xef}))
	assert.Equal(t, "unknown", MethodName(parsed, []byte{0x01}))
}
