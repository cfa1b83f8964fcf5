package aa

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	defaultSalt = big.NewInt(0)
)

// GetInitCode returns the initcode that deploys the counterfactual wallet for
// ownerAddress with the given salt: factory address followed by the packed
// createAccount call.
func GetInitCode(ownerAddress string, salt *big.Int) (string, error) {
	if salt == nil {
		salt = defaultSalt
	}

	calldata, err := factoryABI.Pack("createAccount", common.HexToAddress(ownerAddress), salt)
	if err != nil {
		return "", err
	}

	var data []byte
	data = append(data, factoryAddress.Bytes()...)
	data = append(data, calldata...)

	return hexutil.Encode(data), nil
}

// GetSenderAddress derives the counterfactual wallet address for an owner by
// asking the factory. Works whether or not the wallet is deployed yet.
func GetSenderAddress(ctx context.Context, conn *ethclient.Client, ownerAddress common.Address, salt *big.Int) (*common.Address, error) {
	if salt == nil {
		salt = defaultSalt
	}

	out, err := callContract(ctx, conn, factoryAddress, factoryABI, "getAddress", ownerAddress, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender address: %w", err)
	}

	sender := out[0].(common.Address)
	return &sender, nil
}

// GetNonce reads the entrypoint's nonce for sender under the given 2D-nonce
// key (key nil means the default 0 key).
func GetNonce(ctx context.Context, conn *ethclient.Client, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = defaultSalt
	}

	out, err := callContract(ctx, conn, EntrypointAddress, entrypointABI, "getNonce", sender, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read entrypoint nonce: %w", err)
	}

	return out[0].(*big.Int), nil
}

// DepositInfo mirrors the entrypoint's per-account stake record.
type DepositInfo struct {
	Deposit         *big.Int
	Staked          bool
	Stake           *big.Int
	UnstakeDelaySec uint32
	WithdrawTime    *big.Int
}

// GetDepositInfo reads the entrypoint's deposit record for account.
func GetDepositInfo(ctx context.Context, conn *ethclient.Client, account common.Address) (*DepositInfo, error) {
	out, err := callContract(ctx, conn, EntrypointAddress, entrypointABI, "getDepositInfo", account)
	if err != nil {
		return nil, fmt.Errorf("failed to read deposit info: %w", err)
	}

	info := abi.ConvertType(out[0], new(DepositInfo)).(*DepositInfo)
	return info, nil
}

// GetDeposit reads the entrypoint balance (prefund) for account.
func GetDeposit(ctx context.Context, conn *ethclient.Client, account common.Address) (*big.Int, error) {
	out, err := callContract(ctx, conn, EntrypointAddress, entrypointABI, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to read entrypoint deposit: %w", err)
	}

	return out[0].(*big.Int), nil
}

// GetAllowance reads token.allowance(owner, spender).
func GetAllowance(ctx context.Context, conn *ethclient.Client, token, owner, spender common.Address) (*big.Int, error) {
	out, err := callContract(ctx, conn, token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}

	return out[0].(*big.Int), nil
}

// PackExecute generates wallet calldata for a single call.
func PackExecute(targetAddress common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	if calldata == nil {
		// the ABI encoder mis-handles nil bytes, always hand it an empty slice
		calldata = make([]byte, 0)
	}
	return accountABI.Pack("execute", targetAddress, ethValue, calldata)
}

// PackExecuteBatchWithValues generates wallet calldata for a batch of calls.
// Lengths must already be validated by the caller.
func PackExecuteBatchWithValues(targets []common.Address, values []*big.Int, calldatas [][]byte) ([]byte, error) {
	sanitized := make([][]byte, len(calldatas))
	for i, c := range calldatas {
		if c == nil {
			c = make([]byte, 0)
		}
		sanitized[i] = c
	}
	return accountABI.Pack("executeBatchWithValues", targets, values, sanitized)
}

// PackApprove generates ERC20 calldata approving spender for amount.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PackRegisterSessionKey generates wallet calldata registering a delegated
// session key valid until the given unix timestamp, bounded by scopeHash.
func PackRegisterSessionKey(sessionKey common.Address, validUntil *big.Int, scopeHash [32]byte) ([]byte, error) {
	return accountABI.Pack("registerSessionKey", sessionKey, validUntil, scopeHash)
}

// PackRevokeSessionKey generates wallet calldata revoking a session key.
func PackRevokeSessionKey(sessionKey common.Address) ([]byte, error) {
	return accountABI.Pack("revokeSessionKey", sessionKey)
}

// PackDepositTo generates entrypoint calldata crediting account's deposit.
// The native value rides on the enclosing transaction.
func PackDepositTo(account common.Address) ([]byte, error) {
	return entrypointABI.Pack("depositTo", account)
}

func callContract(ctx context.Context, conn *ethclient.Client, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	calldata, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	raw, err := conn.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)
	if err != nil {
		return nil, err
	}

	return contractABI.Unpack(method, raw)
}
