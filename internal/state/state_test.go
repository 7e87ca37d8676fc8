package state_test

import (
	"Clawboard/internal/state"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IterateSortedByPrefix(t *testing.T) {
	s := state.NewMemoryStore()
	s.Put([]byte("b2"), []byte("x"))
	s.Put([]byte("a1"), []byte("y"))
	s.Put([]byte("b1"), []byte("z"))

	var keys []string
	s.Iterate([]byte("b"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	require.Equal(t, []string{"b1", "b2"}, keys)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := state.NewMemoryStore()
	s.Put([]byte("k"), []byte{1, 2})
	v := s.Get([]byte("k"))
	v[0] = 9
	require.Equal(t, []byte{1, 2}, s.Get([]byte("k")))
}

func TestJournal_RollbackRestoresEverything(t *testing.T) {
	base := state.NewMemoryStore()
	base.Put([]byte("keep"), []byte{1})
	base.Put([]byte("gone"), []byte{2})

	j := state.NewJournal(base)
	j.Begin()
	j.Put([]byte("keep"), []byte{7})
	j.Put([]byte("keep"), []byte{8})
	j.Delete([]byte("gone"))
	j.Put([]byte("new"), []byte{3})
	j.Rollback()

	require.Equal(t, []byte{1}, base.Get([]byte("keep")))
	require.Equal(t, []byte{2}, base.Get([]byte("gone")))
	require.Nil(t, base.Get([]byte("new")))
	require.False(t, j.Active())
}

func TestJournal_CommitReportsNetChanges(t *testing.T) {
	base := state.NewMemoryStore()
	base.Put([]byte("a"), []byte{1})
	base.Put([]byte("b"), []byte{2})

	j := state.NewJournal(base)
	j.Begin()
	j.Put([]byte("a"), []byte{5})
	j.Put([]byte("b"), []byte{9})
	j.Put([]byte("b"), []byte{2}) // back to original
	j.Delete([]byte("a"))
	j.Put([]byte("c"), []byte{4})
	j.Put([]byte("tmp"), []byte{1})
	j.Delete([]byte("tmp")) // created and removed
	changes := j.Commit()

	require.Len(t, changes, 2)
	require.Equal(t, "a", string(changes[0].Key))
	require.True(t, changes[0].Deleted)
	require.Equal(t, []byte{1}, changes[0].Prev)
	require.Equal(t, "c", string(changes[1].Key))
	require.Equal(t, []byte{4}, changes[1].Value)
	require.Nil(t, changes[1].Prev)
}

func TestJournal_BeginTwicePanics(t *testing.T) {
	j := state.NewJournal(state.NewMemoryStore())
	j.Begin()
	require.Panics(t, j.Begin)
}

func TestCodec_UintZeroDeletes(t *testing.T) {
	s := state.NewMemoryStore()
	key := state.Key('x', []byte("acct"))

	state.PutUint(s, key, uint256.NewInt(42))
	require.Equal(t, uint64(42), state.GetUint(s, key).Uint64())

	state.PutUint(s, key, uint256.NewInt(0))
	require.Nil(t, s.Get(key))
	require.True(t, state.GetUint(s, key).IsZero())
}

func TestCodec_AddressAndFlag(t *testing.T) {
	s := state.NewMemoryStore()
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	state.PutAddress(s, []byte("addr"), addr)
	require.Equal(t, addr, state.GetAddress(s, []byte("addr")))
	require.Equal(t, common.Address{}, state.GetAddress(s, []byte("missing")))

	state.PutBool(s, []byte("flag"), true)
	require.True(t, state.GetBool(s, []byte("flag")))
	state.PutBool(s, []byte("flag"), false)
	require.Nil(t, s.Get([]byte("flag")))
}

func TestCall_As(t *testing.T) {
	user := common.HexToAddress("0x01")
	vault := common.HexToAddress("0x02")
	c := state.Call{Sender: user, Value: uint256.NewInt(5)}

	inner := c.As(vault)
	require.Equal(t, vault, inner.Sender)
	require.True(t, inner.AttachedValue().IsZero())
	require.Equal(t, uint64(5), c.AttachedValue().Uint64())
}
