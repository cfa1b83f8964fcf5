package paymaster

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// GasToken is a token the paymaster accepts as gas payment.
type GasToken struct {
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
	Symbol   string         `json:"symbol"`
	Type     string         `json:"type"` // "prepay" or "postpay"
}

// FormatAmount renders a raw token amount using the token's decimals, for
// remediation hints and CLI output.
func (t GasToken) FormatAmount(raw *big.Int) string {
	return decimal.NewFromBigInt(raw, -t.Decimals).String() + " " + t.Symbol
}

const tokenCacheKey = "supported-tokens"

type tokenWire struct {
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Type     string `json:"type"`
}

// tokenCache holds the paymaster's supported token list for a short window so
// hot submission paths don't re-query the service per operation.
type tokenCache struct {
	cache    *bigcache.BigCache
	fallback []GasToken
	logger   logger.Logger
}

func newTokenCache(fallbackCfg []config.GasTokenConfig, lgr logger.Logger) (*tokenCache, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(60*time.Second))
	if err != nil {
		return nil, err
	}

	fallback := lo.Map(fallbackCfg, func(t config.GasTokenConfig, _ int) GasToken {
		return GasToken{
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
			Symbol:   t.Symbol,
			Type:     t.Type,
		}
	})

	return &tokenCache{cache: cache, fallback: fallback, logger: lgr}, nil
}

// SupportedTokens returns the tokens accepted for gas payment, cached for 60s.
// When the query fails or returns an empty or malformed payload, the static
// known-good list stands in. Only the token listing degrades; payment
// outcomes are never substituted.
func (g *Gateway) SupportedTokens(ctx context.Context) ([]GasToken, error) {
	if cached, err := g.tokens.cache.Get(tokenCacheKey); err == nil {
		var tokens []GasToken
		if err := json.Unmarshal(cached, &tokens); err == nil {
			return tokens, nil
		}
	}

	var result []tokenWire
	err := g.call(ctx, "pm_supportedTokens", &result, aa.EntrypointAddressHex)
	if err != nil || len(result) == 0 {
		g.logger.Warn("supported-token query failed, using static fallback list",
			"error", err, "fallbackCount", len(g.tokens.fallback))
		return g.tokens.fallback, nil
	}

	tokens := lo.FilterMap(result, func(t tokenWire, _ int) (GasToken, bool) {
		if !common.IsHexAddress(t.Address) {
			return GasToken{}, false
		}
		return GasToken{
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
			Symbol:   t.Symbol,
			Type:     t.Type,
		}, true
	})

	if len(tokens) == 0 {
		g.logger.Warn("supported-token payload was malformed, using static fallback list")
		return g.tokens.fallback, nil
	}

	if encoded, err := json.Marshal(tokens); err == nil {
		_ = g.tokens.cache.Set(tokenCacheKey, encoded)
	}

	return tokens, nil
}

// IsTokenSupported reports whether token appears in the supported list.
func (g *Gateway) IsTokenSupported(ctx context.Context, token common.Address) (bool, error) {
	tokens, err := g.SupportedTokens(ctx)
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(tokens, func(t GasToken) bool {
		return t.Address == token
	}), nil
}
