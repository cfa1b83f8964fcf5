package sessionkey

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/core/testutil"
	"github.com/blocklotto/aa-pipeline/model"
)

type fakeRegistrar struct {
	registered []common.Address
	revoked    []common.Address
	failNext   error
}

func (f *fakeRegistrar) RegisterSessionKey(ctx context.Context, key common.Address, validUntil *big.Int, scopeHash [32]byte) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.registered = append(f.registered, key)
	return nil
}

func (f *fakeRegistrar) RevokeSessionKey(ctx context.Context, key common.Address) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.revoked = append(f.revoked, key)
	return nil
}

func newTestManager(t *testing.T, registrar Registrar) (*Manager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	db := testutil.TestMustDB()
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(db, clock, registrar, "0xOwner", nil)
	require.NoError(t, err)
	return m, clock
}

func TestCreateRegistersOnChain(t *testing.T) {
	reg := &fakeRegistrar{}
	m, _ := newTestManager(t, reg)

	sk, err := m.Create(context.Background(), 600*time.Second, []byte("purchase"))
	require.NoError(t, err)

	assert.False(t, sk.Unregistered)
	require.Len(t, reg.registered, 1)
	assert.Equal(t, sk.Address, reg.registered[0])
	assert.True(t, m.HasActiveKey())
}

func TestCreateWithoutRegistrarFlagsUnregistered(t *testing.T) {
	m, _ := newTestManager(t, nil)

	sk, err := m.Create(context.Background(), time.Hour, nil)
	require.NoError(t, err)
	assert.True(t, sk.Unregistered, "local-only records carry no on-chain authority and must say so")
}

func TestCreateFailsWhenRegistrationFails(t *testing.T) {
	reg := &fakeRegistrar{failNext: fmt.Errorf("bundler down")}
	m, _ := newTestManager(t, reg)

	_, err := m.Create(context.Background(), time.Hour, nil)
	require.Error(t, err)
	assert.False(t, m.HasActiveKey(), "a failed registration must not leave a usable local record")
}

func TestExpiryWindowScenario(t *testing.T) {
	// key created at t=0 with duration 600s
	m, clock := newTestManager(t, nil)
	_, err := m.Create(context.Background(), 600*time.Second, nil)
	require.NoError(t, err)

	clock.Advance(540 * time.Second)
	assert.True(t, m.IsExpiringWithin(60*time.Second))
	assert.True(t, m.HasActiveKey())
	assert.Equal(t, 60*time.Second, m.TimeRemaining())

	clock.Advance(61 * time.Second) // t=601
	assert.False(t, m.HasActiveKey())
	assert.False(t, m.IsExpiringWithin(60*time.Second), "an expired key is gone, not expiring")
	assert.Equal(t, time.Duration(0), m.TimeRemaining())
}

func TestIsExpiringWithinBoundaries(t *testing.T) {
	m, clock := newTestManager(t, nil)
	_, err := m.Create(context.Background(), 100*time.Second, nil)
	require.NoError(t, err)

	assert.False(t, m.IsExpiringWithin(50*time.Second), "100s left is outside a 50s window")
	assert.True(t, m.IsExpiringWithin(100*time.Second), "remaining == window counts as expiring")

	clock.Advance(100 * time.Second) // exactly expiresAt: now < expiresAt is false
	assert.False(t, m.HasActiveKey())
}

func TestSignRejectsExpiredKey(t *testing.T) {
	m, clock := newTestManager(t, nil)
	_, err := m.Create(context.Background(), time.Minute, nil)
	require.NoError(t, err)

	sig, err := m.Sign([]byte("message"))
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	clock.Advance(2 * time.Minute)
	_, err = m.Sign([]byte("message"))
	require.Error(t, err)
	assert.Equal(t, operr.ExpiredSessionKey, operr.KindOf(err))
}

func TestSignWithoutKey(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.Sign([]byte("message"))
	require.Error(t, err)
	assert.Equal(t, operr.ExpiredSessionKey, operr.KindOf(err))
}

func TestRevokeHitsChainThenDeletesRecord(t *testing.T) {
	reg := &fakeRegistrar{}
	m, _ := newTestManager(t, reg)

	sk, err := m.Create(context.Background(), time.Hour, nil)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background()))
	require.Len(t, reg.revoked, 1)
	assert.Equal(t, sk.Address, reg.revoked[0])
	assert.False(t, m.HasActiveKey())
}

func TestRevokeKeepsRecordWhenChainCallFails(t *testing.T) {
	reg := &fakeRegistrar{}
	m, _ := newTestManager(t, reg)

	_, err := m.Create(context.Background(), time.Hour, nil)
	require.NoError(t, err)

	reg.failNext = fmt.Errorf("bundler down")
	require.Error(t, m.Revoke(context.Background()))
	assert.True(t, m.HasActiveKey(), "local record must survive until the chain revocation lands")
	assert.Empty(t, reg.revoked)
}

func TestRevokeWithoutKeyIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.NoError(t, m.Revoke(context.Background()))
}

func TestRecordSurvivesRestart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	db := testutil.TestMustDB()
	t.Cleanup(func() { db.Close() })

	m1, err := NewManager(db, clock, nil, "0xOwner", nil)
	require.NoError(t, err)
	sk, err := m1.Create(context.Background(), time.Hour, nil)
	require.NoError(t, err)

	m2, err := NewManager(db, clock, nil, "0xOwner", nil)
	require.NoError(t, err)
	assert.True(t, m2.HasActiveKey())
	assert.Equal(t, sk.Address, m2.Address())
}

func TestSweepDropsExpiredRecords(t *testing.T) {
	m, clock := newTestManager(t, nil)
	_, err := m.Create(context.Background(), time.Minute, nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	m.sweepExpired()

	_, err = m.db.GetKey(model.SessionKeyStorageKey("0xOwner"))
	assert.Error(t, err, "expired record should be removed from storage")
	assert.False(t, m.HasActiveKey())
}
