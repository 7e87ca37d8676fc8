package core

import (
	"crypto/sha256"
	"encoding/binary"

	"Clawboard/internal/state"
)

const GenesisHashSeed = "Clawboard:genesis:v1"

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(h.prevHash[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	// Write state digest
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	// Update prev_hash for next iteration
	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip on recovery.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// ComputeStateDigest creates canonical bytes for the committed changes:
// for each key in ascending order, len(key) || key || flag || len(value) || value.
func ComputeStateDigest(changes []state.Change) []byte {
	size := 0
	for _, c := range changes {
		size += 9 + len(c.Key) + len(c.Value)
	}
	digest := make([]byte, 0, size)
	for _, c := range changes {
		digest = binary.BigEndian.AppendUint16(digest, uint16(len(c.Key)))
		digest = append(digest, c.Key...)
		if c.Deleted {
			digest = append(digest, 0)
			continue
		}
		digest = append(digest, 1)
		digest = binary.BigEndian.AppendUint32(digest, uint32(len(c.Value)))
		digest = append(digest, c.Value...)
	}
	return digest
}

// StateRoot is an order-independent commitment to the full store: the XOR
// of SHA-256(key || 0x00 || value) over every entry. It is updated
// incrementally from committed changes and recomputed in full on recovery.
type StateRoot [32]byte

func entryHash(key, value []byte) [32]byte {
	h := sha256.New()
	h.Write(key)
	h.Write([]byte{0})
	h.Write(value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (r *StateRoot) toggle(key, value []byte) {
	e := entryHash(key, value)
	for i := range r {
		r[i] ^= e[i]
	}
}

// Apply folds one command's changes into the root.
func (r *StateRoot) Apply(changes []state.Change) {
	for _, c := range changes {
		if c.Prev != nil {
			r.toggle(c.Key, c.Prev)
		}
		if !c.Deleted {
			r.toggle(c.Key, c.Value)
		}
	}
}

// ComputeStateRoot hashes every entry of s.
func ComputeStateRoot(s state.Store) StateRoot {
	var r StateRoot
	s.Iterate(nil, func(key, value []byte) bool {
		r.toggle(key, value)
		return true
	})
	return r
}
