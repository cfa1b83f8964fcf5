package operr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, InvalidNonce, KindOf(New(InvalidNonce, "stale")))
	assert.Equal(t, Unknown, KindOf(fmt.Errorf("plain error")))
	assert.Equal(t, Unknown, KindOf(nil))

	// wrapped anywhere in the chain
	wrapped := fmt.Errorf("outer: %w", Wrap(InsufficientPrefund, fmt.Errorf("aa21")))
	assert.Equal(t, InsufficientPrefund, KindOf(wrapped))
}

func TestSentinelMatching(t *testing.T) {
	err := Wrap(DeploymentRequired, fmt.Errorf("no code"))
	assert.True(t, errors.Is(err, DeploymentRequired.Sentinel()))
	assert.False(t, errors.Is(err, InvalidNonce.Sentinel()))
}

func TestEveryKindHasHint(t *testing.T) {
	kinds := []Kind{
		DeploymentRequired, InsufficientPrefund, InvalidNonce,
		UnsupportedPaymentType, ApprovalRequired, SponsorshipRejected,
		UserRejectedSignature, NetworkUnavailable, PendingTimeout,
		ExpiredSessionKey, Unknown,
	}
	for _, k := range kinds {
		require.NotEmpty(t, HintOf(New(k, "x")), "kind %s has no hint", k)
	}
}

func TestRetryClassification(t *testing.T) {
	assert.True(t, RetryableWithoutAction(New(PendingTimeout, "x")))
	assert.True(t, RetryableWithoutAction(New(NetworkUnavailable, "x")))
	assert.False(t, RetryableWithoutAction(New(Unknown, "x")))
	assert.False(t, RetryableWithoutAction(New(DeploymentRequired, "x")))

	assert.True(t, RequiresCallerAction(New(InsufficientPrefund, "x")))
	assert.True(t, RequiresCallerAction(New(ExpiredSessionKey, "x")))
	assert.False(t, RequiresCallerAction(New(PendingTimeout, "x")))
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(SponsorshipRejected, fmt.Errorf("policy says no"))
	assert.Contains(t, err.Error(), "policy says no")
	assert.ErrorContains(t, errors.Unwrap(err), "policy")
}
