package aa

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/blocklotto/aa-pipeline/pkg/byte4"
)

// Hand-maintained ABI fragments for the handful of entrypoint, factory,
// wallet and ERC20 methods the pipeline touches. Full generated bindings are
// not worth carrying for four contracts we only ever eth_call or pack.
const (
	factoryABIJSON = `[
		{"inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"name":"createAccount","outputs":[{"name":"ret","type":"address"}],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"name":"getAddress","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
	]`

	accountABIJSON = `[
		{"inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"name":"execute","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"dest","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"name":"executeBatchWithValues","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"sessionKey","type":"address"},{"name":"validUntil","type":"uint256"},{"name":"scopeHash","type":"bytes32"}],"name":"registerSessionKey","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"sessionKey","type":"address"}],"name":"revokeSessionKey","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`

	entrypointABIJSON = `[
		{"inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"name":"nonce","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"account","type":"address"}],"name":"depositTo","outputs":[],"stateMutability":"payable","type":"function"},
		{"inputs":[{"name":"account","type":"address"}],"name":"getDepositInfo","outputs":[{"components":[{"name":"deposit","type":"uint112"},{"name":"staked","type":"bool"},{"name":"stake","type":"uint112"},{"name":"unstakeDelaySec","type":"uint32"},{"name":"withdrawTime","type":"uint48"}],"name":"info","type":"tuple"}],"stateMutability":"view","type":"function"}
	]`

	erc20ABIJSON = `[
		{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`
)

var (
	factoryABI    abi.ABI
	accountABI    abi.ABI
	entrypointABI abi.ABI
	erc20ABI      abi.ABI
)

func init() {
	factoryABI = mustParseABI("factory", factoryABIJSON)
	accountABI = mustParseABI("account", accountABIJSON)
	entrypointABI = mustParseABI("entrypoint", entrypointABIJSON)
	erc20ABI = mustParseABI("erc20", erc20ABIJSON)
}

// WalletMethodName labels wallet calldata by its selector for log lines.
func WalletMethodName(calldata []byte) string {
	return byte4.MethodName(accountABI, calldata)
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("invalid %s ABI: %w", name, err))
	}
	return parsed
}
