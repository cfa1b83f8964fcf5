package wallet

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklotto/aa-pipeline/core/testutil"
	"github.com/blocklotto/aa-pipeline/model"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

var testWallet = common.HexToAddress("0x5Df343de7d99fd64b2479189692C1dAb8f46184a")

func TestApprovalSentinelValues(t *testing.T) {
	// 2^256 - 1
	expected := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, 0, maxUint256.Cmp(expected))

	// threshold is half of max: approved allowances survive many spends
	// before re-approval triggers
	half := new(big.Int).Rsh(expected, 1)
	assert.Equal(t, 0, approvalThreshold.Cmp(half))
	assert.Equal(t, 256, maxUint256.BitLen())
}

func TestDeploymentGasLimitExceedsDefault(t *testing.T) {
	assert.Equal(t, 1, DeploymentVerificationGasLimit.Cmp(DefaultVerificationGasLimit),
		"factory runs need more verification gas than steady-state operations")
}

func newTestDeploymentManager(t *testing.T) *DeploymentManager {
	t.Helper()
	db := testutil.TestMustDB()
	t.Cleanup(func() { db.Close() })

	return NewDeploymentManager(nil, nil, db, testutil.GetTestConfig(),
		clockwork.NewFakeClock(), logger.NewNoOpLogger())
}

func TestDeployedCacheIsMonotonic(t *testing.T) {
	m := newTestDeploymentManager(t)

	// once marked, IsDeployed answers from cache without any chain read
	// (the nil client would panic otherwise)
	m.markDeployed(testWallet)
	deployed, err := m.IsDeployed(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, deployed)
}

func TestPersistedWalletRecordShortCircuitsChainRead(t *testing.T) {
	m := newTestDeploymentManager(t)

	owner := common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a")
	m.persistWallet(owner, testWallet)

	// a fresh manager over the same store trusts the persisted record
	m2 := NewDeploymentManager(nil, nil, m.db, testutil.GetTestConfig(),
		clockwork.NewFakeClock(), logger.NewNoOpLogger())
	deployed, err := m2.IsDeployed(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, deployed)

	w, err := m2.loadWallet(testWallet)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, owner, w.Owner)
	assert.True(t, w.Deployed)
}

func TestLoadWalletMissingIsNilNotError(t *testing.T) {
	m := newTestDeploymentManager(t)

	w, err := m.loadWallet(testWallet)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestPrefundRejectsNonPositiveAmount(t *testing.T) {
	m := newTestDeploymentManager(t)

	assert.Error(t, m.Prefund(context.Background(), testWallet, big.NewInt(0)))
	assert.Error(t, m.Prefund(context.Background(), testWallet, nil))
}

func TestWalletRecordRoundTrip(t *testing.T) {
	w := &model.Wallet{
		Owner:    common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a"),
		Address:  testWallet,
		Deployed: true,
	}
	raw, err := w.ToJSON()
	require.NoError(t, err)

	got, err := model.WalletFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestDeployCoalescesConcurrentCallers(t *testing.T) {
	m := newTestDeploymentManager(t)
	owner := common.HexToAddress("0xe0f7D11FD714674722d325Cd86062A5F1882E13a")

	var deployments atomic.Int32
	release := make(chan struct{})
	m.runDeploy = func(_ context.Context, _, sender common.Address) error {
		// mirrors the real flight body's in-flight re-check
		m.mu.Lock()
		done := m.deployed[sender]
		m.mu.Unlock()
		if done {
			return nil
		}
		deployments.Add(1)
		<-release
		m.markDeployed(sender)
		return nil
	}

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.deployOnce(context.Background(), owner, testWallet)
		}(i)
	}

	// let the callers pile onto the in-flight deployment before it finishes
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), deployments.Load(), "concurrent callers share one deployment")
	for i, err := range errs {
		assert.NoError(t, err, "caller %d must receive the shared flight's result", i)
	}

	deployed, err := m.IsDeployed(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, deployed)
}
