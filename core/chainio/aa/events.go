package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// keccak256("UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256)")
var userOperationEventTopic = crypto.Keccak256Hash(
	[]byte("UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256)"))

// UserOperationEventRecord is the on-chain trace of an executed UserOperation,
// recovered from the entrypoint's UserOperationEvent log.
type UserOperationEventRecord struct {
	OpHash      common.Hash
	Sender      common.Address
	TxHash      common.Hash
	BlockNumber *big.Int
	Success     bool
}

// QueryUserOperationEvent scans the last lookback blocks of the entrypoint for
// a UserOperationEvent matching opHash. Returns (nil, nil) when no matching
// event exists in range. This is a fallback for when the bundler cannot serve
// eth_getUserOperationReceipt but the operation may have landed anyway.
func QueryUserOperationEvent(ctx context.Context, conn *ethclient.Client, opHash common.Hash, lookback uint64) (*UserOperationEventRecord, error) {
	head, err := conn.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get head block: %w", err)
	}

	fromBlock := uint64(0)
	if head > lookback {
		fromBlock = head - lookback
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{EntrypointAddress},
		Topics: [][]common.Hash{
			{userOperationEventTopic},
			{opHash},
		},
	}

	logs, err := conn.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter entrypoint logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	return parseUserOperationEventLog(logs[len(logs)-1])
}

// parseUserOperationEventLog decodes the fields the pipeline cares about.
// Indexed: userOpHash, sender, paymaster. Data words: nonce, success,
// actualGasCost, actualGasUsed.
func parseUserOperationEventLog(lg types.Log) (*UserOperationEventRecord, error) {
	if len(lg.Topics) < 3 {
		return nil, fmt.Errorf("malformed UserOperationEvent log: %d topics", len(lg.Topics))
	}
	if len(lg.Data) < 64 {
		return nil, fmt.Errorf("malformed UserOperationEvent log: %d data bytes", len(lg.Data))
	}

	return &UserOperationEventRecord{
		OpHash:      lg.Topics[1],
		Sender:      common.BytesToAddress(lg.Topics[2].Bytes()),
		TxHash:      lg.TxHash,
		BlockNumber: new(big.Int).SetUint64(lg.BlockNumber),
		Success:     lg.Data[63] == 1,
	}, nil
}
