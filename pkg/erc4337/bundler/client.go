// Package bundler provides primitives to work with a bundler RPC.
// Bundler RPC is stateless; retry and fallback policy lives with the caller.
package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
	"github.com/blocklotto/aa-pipeline/pkg/logger"

	ethrpc "github.com/ethereum/go-ethereum/rpc"
)

// BundlerClient is a client for an EIP-4337 bundler RPC endpoint.
type BundlerClient struct {
	client *ethrpc.Client
	http   *resty.Client
	url    string
	logger logger.Logger
}

// NewBundlerClient creates a new BundlerClient that connects to the given URL.
func NewBundlerClient(url string, lgr logger.Logger) (*BundlerClient, error) {
	// DialHTTP is more compatible with HTTP-based bundler endpoints but still
	// supports other schemes such as WebSocket.
	c, err := ethrpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("error creating bundler client: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(url).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")

	return &BundlerClient{
		client: c,
		http:   httpClient,
		url:    url,
		logger: logger.EnsureLogger(lgr),
	}, nil
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// postJSONRPC issues a raw JSON-RPC POST. Some bundlers reject requests made
// through the geth rpc client's encoding, so the primary path goes over plain
// HTTP and the geth client stays as fallback transport.
func (bc *BundlerClient) postJSONRPC(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	resp, err := bc.http.R().SetContext(ctx).SetBody(reqBody).Post("")
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("bundler request failed: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%d %s: %s", resp.StatusCode(), http.StatusText(resp.StatusCode()), resp.String())
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *jsonRPCError   `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return errNullResult
	}
	return json.Unmarshal(envelope.Result, result)
}

var errNullResult = fmt.Errorf("missing result in JSON-RPC response")

// SendUserOperation submits a UserOperation and returns its operation hash.
func (bc *BundlerClient) SendUserOperation(
	ctx context.Context,
	op userop.UserOperation,
) (string, error) {
	uo := toWire(op)

	var opHash string
	err := bc.postJSONRPC(ctx, "eth_sendUserOperation", &opHash, uo, aa.EntrypointAddressHex)
	if err == nil {
		return opHash, nil
	}

	bc.logger.Debug("HTTP eth_sendUserOperation failed, trying RPC fallback", "error", err)
	rpcErr := bc.client.CallContext(ctx, &opHash, "eth_sendUserOperation", uo, aa.EntrypointAddressHex)
	if rpcErr != nil {
		return "", ClassifySendError(rpcErr)
	}
	return opHash, nil
}

// EstimateUserOperationGas estimates the gas values for a UserOperation.
// The signature is ignored by the bundler apart from a length check, so a
// semi-valid dummy signature is enough.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
func (bc *BundlerClient) EstimateUserOperationGas(
	ctx context.Context,
	op userop.UserOperation,
	override map[string]any,
) (*GasEstimation, error) {
	if override == nil {
		override = map[string]any{}
	}

	var result struct {
		PreVerificationGas   string `json:"preVerificationGas"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		CallGasLimit         string `json:"callGasLimit"`
	}

	err := bc.postJSONRPC(ctx, "eth_estimateUserOperationGas", &result, toWire(op), aa.EntrypointAddressHex, override)
	if err != nil {
		return nil, fmt.Errorf("eth_estimateUserOperationGas RPC response error: %w", err)
	}

	est := &GasEstimation{
		PreVerificationGas:   new(big.Int),
		VerificationGasLimit: new(big.Int),
		CallGasLimit:         new(big.Int),
	}
	for _, f := range []struct {
		raw string
		dst *big.Int
	}{
		{result.PreVerificationGas, est.PreVerificationGas},
		{result.VerificationGasLimit, est.VerificationGasLimit},
		{result.CallGasLimit, est.CallGasLimit},
	} {
		if _, ok := f.dst.SetString(strings.TrimPrefix(f.raw, "0x"), 16); !ok {
			return nil, fmt.Errorf("malformed gas value in estimation response: %q", f.raw)
		}
	}

	return est, nil
}

// SendBundleNow asks a local bundler to flush its mempool immediately. Only
// useful against dev bundlers that do not auto-bundle frequently; failures are
// non-fatal.
func (bc *BundlerClient) SendBundleNow(ctx context.Context) error {
	return bc.postJSONRPC(ctx, "debug_bundler_sendBundleNow", nil)
}

// ClassifySendError maps bundler submission failures onto the pipeline error
// taxonomy. AAxx codes come from the entrypoint simulation run by the bundler.
func ClassifySendError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "aa25") || strings.Contains(msg, "invalid account nonce"):
		return operr.Wrap(operr.InvalidNonce, err)
	case strings.Contains(msg, "aa21") || strings.Contains(msg, "didn't pay prefund"):
		return operr.Wrap(operr.InsufficientPrefund, err)
	case strings.Contains(msg, "aa20") || strings.Contains(msg, "account not deployed"):
		return operr.Wrap(operr.DeploymentRequired, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "connect:") || strings.Contains(msg, "no such host"):
		return operr.Wrap(operr.NetworkUnavailable, err)
	}
	return operr.Wrap(operr.Unknown, err)
}
