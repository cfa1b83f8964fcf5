package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionKey is the persisted record of an ephemeral delegated signing key.
//
// PrivKeyHex is raw secret material kept only in the caller's local store; it
// must never be transmitted to the bundler, paymaster or any other
// server-side collaborator. Plaintext-at-rest is a known limitation of this
// record, not an endorsement: the contract here is create/sign/expire/revoke.
type SessionKey struct {
	// Owner is the wallet owner EOA the key signs for, or the anonymous
	// placeholder in disconnected mode.
	Owner string `json:"owner" validate:"required"`

	Address    common.Address `json:"address" validate:"required"`
	PrivKeyHex string         `json:"privKeyHex" validate:"required"`

	IssuedAt  time.Time `json:"issuedAt" validate:"required"`
	ExpiresAt time.Time `json:"expiresAt" validate:"required"`

	// ScopeHash bounds what the delegated key is authorized to do.
	ScopeHash common.Hash `json:"scopeHash"`

	// Unregistered marks a purely client-side record: the wallet contract
	// was never told about this key, so it carries no security guarantee.
	Unregistered bool `json:"unregistered,omitempty"`
}

func (sk *SessionKey) ToJSON() ([]byte, error) {
	return json.Marshal(sk)
}

func SessionKeyFromJSON(data []byte) (*SessionKey, error) {
	var sk SessionKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// StorageKey returns the badger key for an owner's session-key record.
func SessionKeyStorageKey(owner string) []byte {
	return []byte("sessionkey:" + owner)
}
