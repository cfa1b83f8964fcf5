package bundler

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// NonceManager tracks the next expected nonce per sender so sequential
// operations do not collide with UserOps still sitting in the bundler's
// mempool. It combines on-chain state with knowledge of
// submitted-but-not-yet-mined operations.
type NonceManager struct {
	// next nonce to use, keyed by sender hex
	pendingNonces map[string]*big.Int
	mu            sync.RWMutex
	logger        logger.Logger
}

// NewNonceManager creates a new NonceManager instance
func NewNonceManager(lgr logger.Logger) *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[string]*big.Int),
		logger:        logger.EnsureLogger(lgr),
	}
}

// NextNonce returns max(on-chain nonce, cached pending nonce) for sender.
// Using the max handles all three cases: pending ops were mined (on-chain
// advanced), the bundler dropped our ops (on-chain is correct), or ops are
// still pending (cache is ahead).
func (nm *NonceManager) NextNonce(sender common.Address, fetchOnChain func() (*big.Int, error)) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChainNonce, err := fetchOnChain()
	if err != nil {
		return nil, err
	}

	cached, hasCached := nm.pendingNonces[sender.Hex()]

	var next *big.Int
	switch {
	case !hasCached:
		next = new(big.Int).Set(onChainNonce)
		nm.logger.Debug("first operation for sender, using on-chain nonce",
			"sender", sender.Hex(), "nonce", next.String())
	case onChainNonce.Cmp(cached) > 0:
		next = new(big.Int).Set(onChainNonce)
		nm.logger.Debug("on-chain nonce ahead of cache, using on-chain",
			"sender", sender.Hex(), "onchain", onChainNonce.String(), "cached", cached.String())
	default:
		next = new(big.Int).Set(cached)
		nm.logger.Debug("using cached pending nonce",
			"sender", sender.Hex(), "nonce", next.String(), "onchain", onChainNonce.String())
	}

	return next, nil
}

// MarkSubmitted records that currentNonce was consumed, so the next operation
// for sender uses currentNonce+1 even before this one is mined.
func (nm *NonceManager) MarkSubmitted(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.pendingNonces[sender.Hex()] = new(big.Int).Add(currentNonce, big.NewInt(1))
}

// Reset clears the cached nonce for sender, forcing the next NextNonce call to
// trust the chain. Use after a nonce conflict.
func (nm *NonceManager) Reset(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender.Hex())
}

// CachedNonce returns the cached nonce for sender without touching the chain.
func (nm *NonceManager) CachedNonce(sender common.Address) (*big.Int, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	nonce, exists := nm.pendingNonces[sender.Hex()]
	if !exists {
		return nil, false
	}
	return new(big.Int).Set(nonce), true
}
