package state

import (
	"bytes"
	"fmt"
	"sort"
)

// Change is one key written by a committed command.
type Change struct {
	Key     []byte
	Value   []byte // nil when Deleted
	Deleted bool
	// Prev is the value before the command, nil if the key did not exist.
	Prev []byte
}

type undoEntry struct {
	value   []byte
	existed bool
}

// Journal wraps a Store with an undo log so a command either commits all of
// its writes or none of them. Writes outside Begin/Commit go straight to the
// base store (genesis, restore).
//
// Not thread-safe; only the engine goroutine holding the write lock uses it.
type Journal struct {
	base   Store
	active bool
	undo   map[string]undoEntry
}

func NewJournal(base Store) *Journal {
	return &Journal{base: base}
}

// Begin opens a unit of work. Nested units are a programming error.
func (j *Journal) Begin() {
	if j.active {
		panic("state: journal already active")
	}
	j.active = true
	j.undo = make(map[string]undoEntry)
}

// Active reports whether a unit of work is open.
func (j *Journal) Active() bool {
	return j.active
}

// Commit closes the unit of work and returns the touched keys in ascending
// order with their final values. Keys written back to their original value
// are omitted.
func (j *Journal) Commit() []Change {
	if !j.active {
		panic("state: commit without begin")
	}
	changes := make([]Change, 0, len(j.undo))
	for k, prev := range j.undo {
		cur := j.base.Get([]byte(k))
		if cur == nil && !prev.existed {
			continue
		}
		if cur != nil && prev.existed && bytes.Equal(cur, prev.value) {
			continue
		}
		changes = append(changes, Change{Key: []byte(k), Value: cur, Deleted: cur == nil, Prev: prev.value})
	}
	sort.Slice(changes, func(a, b int) bool {
		return bytes.Compare(changes[a].Key, changes[b].Key) < 0
	})
	j.active = false
	j.undo = nil
	return changes
}

// Rollback restores every key touched since Begin.
func (j *Journal) Rollback() {
	if !j.active {
		return
	}
	for k, prev := range j.undo {
		if prev.existed {
			j.base.Put([]byte(k), prev.value)
		} else {
			j.base.Delete([]byte(k))
		}
	}
	j.active = false
	j.undo = nil
}

func (j *Journal) record(key []byte) {
	if !j.active {
		return
	}
	k := string(key)
	if _, seen := j.undo[k]; seen {
		return
	}
	prev := j.base.Get(key)
	j.undo[k] = undoEntry{value: prev, existed: prev != nil}
}

func (j *Journal) Get(key []byte) []byte {
	return j.base.Get(key)
}

func (j *Journal) Put(key, value []byte) {
	if value == nil {
		panic(fmt.Sprintf("state: nil value for key %q", key))
	}
	j.record(key)
	j.base.Put(key, value)
}

func (j *Journal) Delete(key []byte) {
	j.record(key)
	j.base.Delete(key)
}

func (j *Journal) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	j.base.Iterate(prefix, fn)
}
