package model

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet captures the deployment state of one counterfactual smart wallet.
// Deployed transitions false to true exactly once, on a confirmed deployment
// receipt; it is never reset.
type Wallet struct {
	Owner   common.Address `json:"owner"`
	Address common.Address `json:"address"`

	Deployed  bool `json:"deployed"`
	Prefunded bool `json:"prefunded"`
}

func (w *Wallet) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

func WalletFromJSON(data []byte) (*Wallet, error) {
	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func WalletStorageKey(address common.Address) []byte {
	return []byte("wallet:" + address.Hex())
}
