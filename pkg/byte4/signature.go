// Package byte4 resolves EVM function selectors (the first four bytes of
// calldata) against a known ABI, for log lines and diagnostics.
package byte4

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MethodFromCalldata returns the ABI method the calldata invokes.
func MethodFromCalldata(parsedABI abi.ABI, calldata []byte) (*abi.Method, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("calldata too short for a selector: %d bytes", len(calldata))
	}
	method, err := parsedABI.MethodById(calldata[:4])
	if err != nil {
		return nil, fmt.Errorf("no matching method for selector 0x%x", calldata[:4])
	}
	return method, nil
}

// MethodName is MethodFromCalldata for callers that only want a label;
// unknown selectors come back as the hex selector itself.
func MethodName(parsedABI abi.ABI, calldata []byte) string {
	method, err := MethodFromCalldata(parsedABI, calldata)
	if err != nil {
		if len(calldata) >= 4 {
			return fmt.Sprintf("0x%x", calldata[:4])
		}
		return "unknown"
	}
	return method.Name
}
