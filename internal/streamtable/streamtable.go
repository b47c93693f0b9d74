// Package streamtable implements the fixed-capacity, generation-tagged
// handle table a Connection uses to track open subscription streams.
//
// Shaped after smux's Session.streams/streamLock (xtaci/smux/session.go)
// — a mutex-guarded map keyed by stream id with register/remove
// operations — but capacity-bounded and handle-generational, rather
// than smux's unbounded map.
package streamtable

import (
	"sync"

	"github.com/pkg/errors"
)

// DefaultCapacity is the default stream table capacity.
const DefaultCapacity = 16

// ErrFull is returned by Register when the table has no free slots.
var ErrFull = errors.New("streamtable: table is full")

// ErrInvalidHandle is returned when a handle is stale, zero, or
// out of range.
var ErrInvalidHandle = errors.New("streamtable: invalid handle")

type slot struct {
	generation uint32
	occupied   bool
	value      interface{}
}

// Table is a fixed-capacity array of generation-tagged slots. Handle 0 is
// never valid; releasing a slot bumps its generation so handles minted
// before the release can never alias the slot's next occupant.
type Table struct {
	mu    sync.Mutex
	slots []slot
}

// New returns a Table with the given fixed capacity.
func New(capacity int) *Table {
	return &Table{slots: make([]slot, capacity)}
}

// Handle identifies a live entry: generation in the high bits, 1-based
// index in the low 16 bits, computed as (generation << 16) | (index + 1)
// so that the zero handle is never valid.
type Handle uint32

func makeHandle(index int, generation uint32) Handle {
	return Handle((generation << 16) | (uint32(index) + 1))
}

func (h Handle) index() (int, uint32, bool) {
	if h == 0 {
		return 0, 0, false
	}
	idx := int(uint32(h)&0xFFFF) - 1
	gen := uint32(h) >> 16
	return idx, gen, true
}

// Register claims a free slot for value and returns its handle. Returns
// ErrFull if the table has no free slot.
func (t *Table) Register(value interface{}) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].occupied {
			t.slots[i].occupied = true
			t.slots[i].value = value
			return makeHandle(i, t.slots[i].generation), nil
		}
	}
	return 0, ErrFull
}

// Release frees the slot identified by h, bumping its generation so h
// (and any copy of it) becomes permanently invalid. Releasing an already
// invalid handle is a no-op error, not a panic.
func (t *Table) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, gen, ok := h.index()
	if !ok || idx < 0 || idx >= len(t.slots) {
		return ErrInvalidHandle
	}
	s := &t.slots[idx]
	if !s.occupied || s.generation != gen {
		return ErrInvalidHandle
	}
	s.occupied = false
	s.value = nil
	s.generation++
	return nil
}

// Validate reports whether h currently refers to a live slot.
func (t *Table) Validate(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, gen, ok := h.index()
	if !ok || idx < 0 || idx >= len(t.slots) {
		return false
	}
	s := &t.slots[idx]
	return s.occupied && s.generation == gen
}

// WithValue runs fn with the slot's stored value while holding the
// table's lock, failing with ErrInvalidHandle if h is stale. This is the
// table's only safe way to read-or-mutate a slot's value, matching
// socket_handle.c's protected_action pattern of validating and acting
// under a single critical section so a concurrent Release can't race a
// reader onto a freed or reused slot.
func (t *Table) WithValue(h Handle, fn func(value interface{})) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, gen, ok := h.index()
	if !ok || idx < 0 || idx >= len(t.slots) {
		return ErrInvalidHandle
	}
	s := &t.slots[idx]
	if !s.occupied || s.generation != gen {
		return ErrInvalidHandle
	}
	fn(s.value)
	return nil
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.slots {
		if t.slots[i].occupied {
			n++
		}
	}
	return n
}

// Cap returns the table's fixed capacity.
func (t *Table) Cap() int { return len(t.slots) }

// Each invokes fn for every currently occupied slot's handle and value.
// fn must not call back into the table; Each holds the lock for its
// whole iteration.
func (t *Table) Each(fn func(h Handle, value interface{})) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].occupied {
			fn(makeHandle(i, t.slots[i].generation), t.slots[i].value)
		}
	}
}
