package registry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Storage layout (0x2x range of the shared store).
const (
	prefixAgent  byte = 0x20 // 0x20 || keccak(externalId) -> JSON Agent
	prefixWallet byte = 0x21 // 0x21 || account            -> keccak(externalId)
	prefixOrder  byte = 0x22 // 0x22 || uint64 BE index    -> keccak(externalId)
	keyCount     byte = 0x23
)

// Agent is the registry record of one externally identified actor.
type Agent struct {
	ExternalID  string         `json:"external_id"`
	DisplayName string         `json:"display_name"`
	Owner       common.Address `json:"owner"`
	Wallet      common.Address `json:"wallet"`
	TipCount    uint64         `json:"tip_count"`
	// RegisteredAt is the command time of the registration, not wall-clock.
	RegisteredAt time.Time `json:"registered_at"`
	Active       bool      `json:"active"`
}

// IDHash is keccak256 of the external identifier, the key of every index.
func IDHash(externalID string) common.Hash {
	return crypto.Keccak256Hash([]byte(externalID))
}

func agentKey(h common.Hash) []byte {
	return state.Key(prefixAgent, h.Bytes())
}

func walletKey(account common.Address) []byte {
	return state.Key(prefixWallet, account.Bytes())
}

func orderKey(index uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return state.Key(prefixOrder, b[:])
}

func loadAgent(s state.Store, h common.Hash) (*Agent, bool, error) {
	raw := s.Get(agentKey(h))
	if raw == nil {
		return nil, false, nil
	}
	var a Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, fmt.Errorf("decode agent %s: %w", h.Hex(), err)
	}
	return &a, true, nil
}

// storeAgent writes a under h, the key it was created or loaded under.
func storeAgent(s state.Store, h common.Hash, a *Agent) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent %q: %w", a.ExternalID, err)
	}
	s.Put(agentKey(h), raw)
	return nil
}
