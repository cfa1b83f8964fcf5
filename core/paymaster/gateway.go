// Package paymaster negotiates gas payment with the external sponsorship
// service. The gateway is a pure request/response boundary: it classifies
// failures into the pipeline taxonomy and returns them undecorated, leaving
// retry and fallback policy to the submission coordinator.
package paymaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/bundler"
	"github.com/blocklotto/aa-pipeline/pkg/erc4337/userop"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// SponsorshipResult is the paymaster's successful answer: the data to splice
// into the operation plus any gas limits the service revised while
// simulating it.
type SponsorshipResult struct {
	PaymasterAndData []byte
	GasLimits        *bundler.GasEstimation
}

// Gateway talks to the paymaster RPC endpoint.
type Gateway struct {
	http   *resty.Client
	apiKey string
	tokens *tokenCache
	logger logger.Logger
}

func NewGateway(cfg *config.SmartWalletConfig, lgr logger.Logger) (*Gateway, error) {
	lgr = logger.EnsureLogger(lgr)

	httpClient := resty.New().
		SetBaseURL(cfg.PaymasterURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")

	cache, err := newTokenCache(cfg.FallbackGasTokens, lgr)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		http:   httpClient,
		apiKey: cfg.PaymasterAPIKey,
		tokens: cache,
		logger: lgr,
	}, nil
}

type sponsorContext struct {
	Type   PaymentKind `json:"type"`
	Token  string      `json:"token,omitempty"`
	APIKey string      `json:"apiKey,omitempty"`
}

// Sponsor asks the paymaster to cover gas for op under the given payment
// method. On success the returned result carries paymasterAndData and the
// revised gas limits; on failure the error is classified, never retried here.
func (g *Gateway) Sponsor(ctx context.Context, op *userop.UserOperation, method PaymentMethod) (*SponsorshipResult, error) {
	sctx := sponsorContext{Type: method.Kind, APIKey: g.apiKey}
	if method.TokenBased() {
		sctx.Token = method.Token.Hex()
	}

	var result struct {
		PaymasterAndData     string `json:"paymasterAndData"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
	}

	err := g.call(ctx, "pm_sponsorUserOperation", &result, opToWire(op), aa.EntrypointAddressHex, sctx)
	if err != nil {
		return nil, classifySponsorError(err)
	}

	if !strings.HasPrefix(result.PaymasterAndData, "0x") || len(result.PaymasterAndData) <= 2 {
		return nil, operr.New(operr.Unknown, "paymaster returned malformed paymasterAndData: %q", result.PaymasterAndData)
	}

	res := &SponsorshipResult{
		PaymasterAndData: common.FromHex(result.PaymasterAndData),
	}

	// Revised gas limits are optional in the response
	if result.CallGasLimit != "" || result.VerificationGasLimit != "" || result.PreVerificationGas != "" {
		limits := &bundler.GasEstimation{
			CallGasLimit:         parseHexBig(result.CallGasLimit, op.CallGasLimit),
			VerificationGasLimit: parseHexBig(result.VerificationGasLimit, op.VerificationGasLimit),
			PreVerificationGas:   parseHexBig(result.PreVerificationGas, op.PreVerificationGas),
		}
		res.GasLimits = limits
	}

	g.logger.Debug("sponsorship granted",
		"sender", op.Sender.Hex(),
		"method", method.String(),
		"paymasterAndDataLen", len(res.PaymasterAndData))

	return res, nil
}

func (g *Gateway) call(ctx context.Context, rpcMethod string, result interface{}, params ...interface{}) error {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  rpcMethod,
		"params":  params,
		"id":      1,
	}

	resp, err := g.http.R().SetContext(ctx).SetBody(reqBody).Post("")
	if err != nil {
		return operr.Wrap(operr.NetworkUnavailable, fmt.Errorf("%s request failed: %w", rpcMethod, err))
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%d %s: %s", resp.StatusCode(), http.StatusText(resp.StatusCode()), resp.String())
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", rpcMethod, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("JSON-RPC error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return fmt.Errorf("missing result in %s response", rpcMethod)
	}
	return json.Unmarshal(envelope.Result, result)
}

// classifySponsorError maps the service's refusal onto the error taxonomy.
// The kinds mirror the strings the reference paymaster emits; anything
// unrecognized is Unknown (fatal, never auto-retried).
func classifySponsorError(err error) error {
	var oe *operr.Error
	if errors.As(err, &oe) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unsupported payment") || strings.Contains(msg, "token not supported") ||
		strings.Contains(msg, "payment type"):
		return operr.Wrap(operr.UnsupportedPaymentType, err)
	case strings.Contains(msg, "invalid nonce") || strings.Contains(msg, "aa25"):
		return operr.Wrap(operr.InvalidNonce, err)
	case strings.Contains(msg, "prefund") || strings.Contains(msg, "aa21"):
		return operr.Wrap(operr.InsufficientPrefund, err)
	case strings.Contains(msg, "not deployed") || strings.Contains(msg, "no code") ||
		strings.Contains(msg, "aa20"):
		return operr.Wrap(operr.DeploymentRequired, err)
	case strings.Contains(msg, "rejected") || strings.Contains(msg, "denied") ||
		strings.Contains(msg, "policy"):
		return operr.Wrap(operr.SponsorshipRejected, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return operr.Wrap(operr.NetworkUnavailable, err)
	}
	return operr.Wrap(operr.Unknown, err)
}

func parseHexBig(s string, fallback *big.Int) *big.Int {
	if s == "" {
		return fallback
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return fallback
	}
	return v
}

// opToWire matches the hex-string JSON shape paymaster RPCs expect.
func opToWire(op *userop.UserOperation) map[string]string {
	hex := func(b []byte) string { return fmt.Sprintf("0x%x", b) }
	num := func(v *big.Int) string {
		if v == nil {
			return "0x0"
		}
		return fmt.Sprintf("0x%x", v)
	}
	return map[string]string{
		"sender":               op.Sender.Hex(),
		"nonce":                num(op.Nonce),
		"initCode":             hex(op.InitCode),
		"callData":             hex(op.CallData),
		"callGasLimit":         num(op.CallGasLimit),
		"verificationGasLimit": num(op.VerificationGasLimit),
		"preVerificationGas":   num(op.PreVerificationGas),
		"maxFeePerGas":         num(op.MaxFeePerGas),
		"maxPriorityFeePerGas": num(op.MaxPriorityFeePerGas),
		"paymasterAndData":     hex(op.PaymasterAndData),
		"signature":            hex(op.Signature),
	}
}
