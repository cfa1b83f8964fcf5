// Package sessionkey issues, persists and expires ephemeral delegated
// signing keys. A session key signs operations in place of the wallet
// owner's EOA within its validity window, and only carries real authority
// when the wallet contract has been told about it on chain.
package sessionkey

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/blocklotto/aa-pipeline/core/chainio/signer"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/model"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
	"github.com/blocklotto/aa-pipeline/storage"
)

// AnonymousOwner keys records created in disconnected mode, before a wallet
// owner is known.
const AnonymousOwner = "anonymous"

const sweepInterval = 10 * time.Minute

// Registrar performs the on-chain half of the session-key lifecycle. The
// wallet contract, not local storage, is the source of authorization truth,
// so a Manager without a Registrar can only produce Unregistered records.
type Registrar interface {
	RegisterSessionKey(ctx context.Context, key common.Address, validUntil *big.Int, scopeHash [32]byte) error
	RevokeSessionKey(ctx context.Context, key common.Address) error
}

// Manager owns one owner's session-key record. All time arithmetic goes
// through the injected clock.
type Manager struct {
	db        storage.Storage
	clock     clockwork.Clock
	registrar Registrar
	owner     string
	logger    logger.Logger

	mu      sync.Mutex
	current *model.SessionKey

	scheduler gocron.Scheduler
}

func NewManager(db storage.Storage, clock clockwork.Clock, registrar Registrar, owner string, lgr logger.Logger) (*Manager, error) {
	if owner == "" {
		owner = AnonymousOwner
	}
	lgr = logger.EnsureLogger(lgr)

	m := &Manager{
		db:        db,
		clock:     clock,
		registrar: registrar,
		owner:     owner,
		logger:    lgr,
	}

	// restore whatever record a previous run left behind
	raw, err := db.GetKey(model.SessionKeyStorageKey(owner))
	if err == nil {
		if sk, parseErr := model.SessionKeyFromJSON(raw); parseErr == nil {
			m.current = sk
		} else {
			lgr.Error("discarding unreadable session-key record", "owner", owner, "error", parseErr)
		}
	} else if !storage.IsKeyNotFound(err) {
		return nil, fmt.Errorf("failed to load session-key record: %w", err)
	}

	return m, nil
}

// Generate produces a fresh random key pair from a cryptographically secure
// source and returns its persisted form without storing or registering it.
func (m *Manager) Generate() (*model.SessionKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	now := m.clock.Now()
	return &model.SessionKey{
		Owner:      m.owner,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivKeyHex: common.Bytes2Hex(crypto.FromECDSA(key)),
		IssuedAt:   now,
	}, nil
}

// Create mints a session key valid for the given duration, persists it and,
// when a registrar is available, registers it with the wallet contract.
// Without a registrar the record is flagged Unregistered: usable for local
// signing flows but carrying no on-chain authority.
func (m *Manager) Create(ctx context.Context, duration time.Duration, scope []byte) (*model.SessionKey, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("session key duration must be positive")
	}

	sk, err := m.Generate()
	if err != nil {
		return nil, err
	}
	sk.ExpiresAt = sk.IssuedAt.Add(duration)
	sk.ScopeHash = crypto.Keccak256Hash(scope)

	if m.registrar != nil {
		validUntil := big.NewInt(sk.ExpiresAt.Unix())
		if err := m.registrar.RegisterSessionKey(ctx, sk.Address, validUntil, sk.ScopeHash); err != nil {
			return nil, err
		}
	} else {
		sk.Unregistered = true
	}

	if err := m.store(sk); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = sk
	m.mu.Unlock()

	m.logger.Info("session key created",
		"owner", m.owner, "key", sk.Address.Hex(),
		"expiresAt", sk.ExpiresAt.Format(time.RFC3339), "registered", !sk.Unregistered)
	return sk, nil
}

// Sign signs message with the active session key using EIP-191 prefixing.
// Fails with ExpiredSessionKey when no key exists or the window has closed.
func (m *Manager) Sign(message []byte) ([]byte, error) {
	sk := m.active()
	if sk == nil {
		return nil, operr.New(operr.ExpiredSessionKey, "no active session key for %s", m.owner)
	}

	key, err := crypto.HexToECDSA(sk.PrivKeyHex)
	if err != nil {
		return nil, fmt.Errorf("stored session key is corrupt: %w", err)
	}
	return signer.SignMessage(key, message)
}

// Revoke tells the wallet contract to stop honoring the key, then deletes
// the local record. On-chain revocation comes first: deleting only the
// local copy would leave the key authorized.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	sk := m.current
	m.mu.Unlock()
	if sk == nil {
		return nil
	}

	if m.registrar != nil && !sk.Unregistered {
		if err := m.registrar.RevokeSessionKey(ctx, sk.Address); err != nil {
			return err
		}
	}

	if err := m.db.Delete(model.SessionKeyStorageKey(m.owner)); err != nil {
		return fmt.Errorf("failed to delete session-key record: %w", err)
	}

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	m.logger.Info("session key revoked", "owner", m.owner, "key", sk.Address.Hex())
	return nil
}

// TimeRemaining reports how long the current key stays valid, clamped at
// zero when expired or absent.
func (m *Manager) TimeRemaining() time.Duration {
	m.mu.Lock()
	sk := m.current
	m.mu.Unlock()
	if sk == nil {
		return 0
	}
	remaining := sk.ExpiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpiringWithin is true iff the key is still valid but has at most
// window left. An expired or absent key is not "expiring", it is gone.
func (m *Manager) IsExpiringWithin(window time.Duration) bool {
	remaining := m.TimeRemaining()
	return remaining > 0 && remaining <= window
}

// HasActiveKey reports whether a non-expired session key exists.
func (m *Manager) HasActiveKey() bool {
	return m.active() != nil
}

// Address returns the active key's address, or the zero address.
func (m *Manager) Address() common.Address {
	sk := m.active()
	if sk == nil {
		return common.Address{}
	}
	return sk.Address
}

// StartSweeper launches a background job that drops expired session-key
// records from storage so stale secret material does not linger on disk.
func (m *Manager) StartSweeper() error {
	if m.scheduler != nil {
		return nil
	}
	s, err := gocron.NewScheduler(gocron.WithClock(m.clock))
	if err != nil {
		return err
	}
	_, err = s.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(m.sweepExpired),
	)
	if err != nil {
		return err
	}
	m.scheduler = s
	s.Start()
	return nil
}

// Close stops the sweeper if it is running.
func (m *Manager) Close() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

func (m *Manager) sweepExpired() {
	items, err := m.db.GetByPrefix([]byte("sessionkey:"))
	if err != nil {
		m.logger.Error("session-key sweep failed", "error", err)
		return
	}
	now := m.clock.Now()
	for _, item := range items {
		sk, parseErr := model.SessionKeyFromJSON(item.Value)
		if parseErr != nil || !sk.ExpiresAt.Before(now) {
			continue
		}
		if delErr := m.db.Delete(item.Key); delErr != nil {
			m.logger.Error("failed to drop expired session-key record", "key", string(item.Key), "error", delErr)
			continue
		}
		m.logger.Info("dropped expired session-key record", "owner", sk.Owner, "key", sk.Address.Hex())
	}

	m.mu.Lock()
	if m.current != nil && m.current.ExpiresAt.Before(now) {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *Manager) active() *model.SessionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.clock.Now().Before(m.current.ExpiresAt) {
		return nil
	}
	return m.current
}

func (m *Manager) store(sk *model.SessionKey) error {
	raw, err := sk.ToJSON()
	if err != nil {
		return err
	}
	return m.db.Set(model.SessionKeyStorageKey(sk.Owner), raw)
}
