package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Key builds a storage key: one prefix byte followed by the parts.
func Key(prefix byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// GetUint reads a 32-byte big-endian amount; missing keys read as zero.
func GetUint(s Store, key []byte) *uint256.Int {
	raw := s.Get(key)
	if raw == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes(raw)
}

// PutUint writes an amount. Zero deletes the key so that empty accounts
// leave no trace in the state digest.
func PutUint(s Store, key []byte, v *uint256.Int) {
	if v.IsZero() {
		s.Delete(key)
		return
	}
	b := v.Bytes32()
	s.Put(key, b[:])
}

// GetUint64 reads a counter; missing keys read as zero.
func GetUint64(s Store, key []byte) uint64 {
	raw := s.Get(key)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func PutUint64(s Store, key []byte, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	s.Put(key, buf[:])
}

// GetAddress reads an address; missing keys read as the zero address.
func GetAddress(s Store, key []byte) common.Address {
	return common.BytesToAddress(s.Get(key))
}

func PutAddress(s Store, key []byte, a common.Address) {
	s.Put(key, a.Bytes())
}

// GetBool reads a flag; missing keys read as false.
func GetBool(s Store, key []byte) bool {
	raw := s.Get(key)
	return len(raw) == 1 && raw[0] == 1
}

// PutBool writes a flag. False deletes the key.
func PutBool(s Store, key []byte, v bool) {
	if !v {
		s.Delete(key)
		return
	}
	s.Put(key, []byte{1})
}
