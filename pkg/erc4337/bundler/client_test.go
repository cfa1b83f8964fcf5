package bundler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blocklotto/aa-pipeline/core/operr"
)

func TestClassifySendError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind operr.Kind
	}{
		{"nonce code", fmt.Errorf("bundler: AA25 invalid account nonce"), operr.InvalidNonce},
		{"nonce text", fmt.Errorf("Invalid account nonce for op"), operr.InvalidNonce},
		{"prefund", fmt.Errorf("AA21 didn't pay prefund"), operr.InsufficientPrefund},
		{"not deployed", fmt.Errorf("AA20 account not deployed"), operr.DeploymentRequired},
		{"timeout", fmt.Errorf("Post \"http://localhost\": context deadline exceeded (timeout)"), operr.NetworkUnavailable},
		{"refused", fmt.Errorf("dial tcp: connect: connection refused"), operr.NetworkUnavailable},
		{"dns", fmt.Errorf("lookup bundler.invalid: no such host"), operr.NetworkUnavailable},
		{"other", fmt.Errorf("execution reverted"), operr.Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := ClassifySendError(tc.err)
			assert.Equal(t, tc.kind, operr.KindOf(classified))
		})
	}
}

func TestClassifySendErrorNil(t *testing.T) {
	assert.NoError(t, ClassifySendError(nil))
}

func TestClassifiedErrorKeepsCause(t *testing.T) {
	cause := fmt.Errorf("AA25 invalid account nonce")
	classified := ClassifySendError(cause)
	assert.ErrorContains(t, classified, "AA25")
	assert.NotEmpty(t, operr.HintOf(classified))
}
