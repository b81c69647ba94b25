// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hashtab implements open-addressing hash sets and maps whose probing
// is driven by a separate array of per-slot control bytes, in the style of
// Swiss Tables (https://abseil.io/about/design/swisstables).
//
// # Layout
//
// A table of capacity N (always a power of 2) is an array of N slots and an
// array of N+guardSize control bytes. The high bit of a control byte is set
// when its slot is occupied, in which case the remaining 7 bits hold the top
// 7 bits of the key's hash (the fingerprint). A control byte of zero marks a
// slot that has never been used, and 0x7f marks a slot whose key was removed
// (a tombstone). The guard bytes past slot N-1 always hold the tombstone
// pattern. They are only there so that a group-wide load starting anywhere
// in the table stays in bounds; every scan masks them out.
//
// # Probing
//
// Probing is linear. The start slot of a key is hash&(N-1). Control bytes are
// examined a group at a time: the group is loaded from the group-aligned
// index at or below the start slot and compared against the key's
// fingerprint and the empty pattern in parallel. Matching lanes are
// confirmed with the caller's equality function. A lookup ends at the first
// empty slot; tombstones do not end it. An insert ends at the first empty
// slot too, and places the key in the earliest empty-or-tombstone slot seen
// on the way. See probeFind for the exact traversal.
//
// Two group backends share one probe implementation:
//
//   - vector: 32 lanes compared with AVX2 instructions on amd64.
//   - swar: 8 lanes packed into a uint64 and compared with bit tricks
//     (SIMD Within A Register). This works on every platform.
//
// The backend is chosen the first time a table is probed, based on the CPU
// features reported by golang.org/x/sys/cpu. Building with the purego tag
// always selects swar. Both produce identical results.
//
// # Lifecycle
//
// A Set or Map initialized in place with Init stores its first 32 slots
// inside the Set or Map value itself and performs no allocation until it
// grows. NewSet and NewMap allocate a table of the requested capacity
// (rounded up to a power of 2) from the configured Allocator. When an insert
// would push the number of used slots (live keys plus tombstones) above 7/8
// of the capacity, the table is rebuilt: a new table is allocated, usually
// at double the capacity, every live key is reinserted and the old table is
// released. Tombstones do not survive a rebuild. If the allocation fails the
// insert reports an error and the original table is left untouched.
//
// A Set or Map is NOT goroutine-safe.
package hashtab

import (
	"errors"
	"fmt"
	"math/bits"
	"reflect"
	"strings"
	"unsafe"

	"go.uber.org/zap"
)

const (
	debug = false

	// inlineCapacity is the capacity of a table initialized with Init. Tables
	// of up to 28 elements never allocate.
	inlineCapacity = 32

	// maxCapacity is the largest capacity a table may have. Doubling it
	// cannot overflow, and capacity+guardSize still fits in an int.
	maxCapacity = 1 << (bits.UintSize - 2)
)

// ErrAllocationFailed is returned when the Allocator fails to provide memory
// for a table.
var ErrAllocationFailed = errors.New("hashtab: allocation failed")

// Slot holds a key and value. Sets use a value type of struct{}.
type Slot[K, V any] struct {
	key   K
	value V
}

// inlineStorage holds the slots and control bytes of a table initialized in
// place.
type inlineStorage[K, V any] struct {
	ctrls [inlineCapacity + guardSize]ctrl
	slots [inlineCapacity]Slot[K, V]
}

// noCopy may be embedded into structs which must not be copied after first
// use. It is recognized by go vet's copylocks checker.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// table is the header shared by Set and Map. The Set or Map value is the
// handle the caller holds; the header sits at a fixed position inside it and
// refers to the control bytes and the slots.
type table[K, V any] struct {
	// ctrls is capacity+guardSize in length.
	ctrls []ctrl
	// slots is capacity in length.
	slots []Slot[K, V]
	// The total number of slots (always 2^N). capacity-1 is used as a mask to
	// quickly compute i%capacity.
	capacity uintptr
	// The number of occupied slots.
	size int
	// The number of vacated slots. Tombstones count against the load limit
	// since they lengthen probe sequences just like live keys.
	tombstones int
	eq         EqualFunc[K]
	hash       HashFunc[K]
	allocator  Allocator[K, V]
	logger     *zap.Logger
	// dynalloc is set when ctrls and slots were obtained from allocator and
	// must be returned to it when the table is released. It is clear for a
	// table using inline storage.
	dynalloc bool
}

// init resets t and applies the options. It does not set up storage. Any
// storage t obtained from its allocator is released first.
func (t *table[K, V]) init(eq EqualFunc[K], options []Option[K, V]) {
	if eq == nil {
		panic("hashtab: nil EqualFunc")
	}
	nt := table[K, V]{
		eq:        eq,
		allocator: defaultAllocator[K, V]{},
		logger:    zap.NewNop(),
	}
	for _, op := range options {
		op.apply(&nt)
	}
	if nt.hash == nil {
		h, ok := defaultHash[K]()
		if !ok {
			panic(fmt.Sprintf("hashtab: no default hash for key type %v; use WithHash", reflect.TypeOf((*K)(nil)).Elem()))
		}
		nt.hash = h
	}
	t.release()
	*t = nt
}

// initInline sets t up to use storage, which must live in the same Set or
// Map value as t.
func (t *table[K, V]) initInline(storage *inlineStorage[K, V], eq EqualFunc[K], options []Option[K, V]) {
	t.init(eq, options)
	clear(storage.slots[:])
	t.capacity = inlineCapacity
	t.ctrls = storage.ctrls[:]
	t.slots = storage.slots[:]
	resetCtrls(t.ctrls, t.capacity)
	t.checkInvariants()
}

// copyCheck panics if t refers to inline storage other than storage. That
// happens when the Set or Map holding both was copied after Init, leaving
// the copy sharing the original's slots.
func (t *table[K, V]) copyCheck(storage *inlineStorage[K, V]) {
	if !t.dynalloc && t.ctrls != nil && unsafe.SliceData(t.ctrls) != &storage.ctrls[0] {
		panic("hashtab: illegal use of Set or Map copied by value")
	}
}

// initHeap sets t up with capacity rounded up to a power of 2, allocated
// from the configured allocator.
func (t *table[K, V]) initHeap(eq EqualFunc[K], capacity int, options []Option[K, V]) error {
	t.init(eq, options)
	c := nextPowerOf2(capacity)
	ctrls, slots, err := t.alloc(c)
	if err != nil {
		t.logger.Warn("hashtab: allocation failed",
			zap.Uint64("capacity", uint64(c)), zap.Error(err))
		return err
	}
	t.capacity = c
	t.ctrls = ctrls
	t.slots = slots
	t.dynalloc = true
	t.checkInvariants()
	return nil
}

// nextPowerOf2 returns the smallest power of 2 >= n, and 1 for n <= 1.
func nextPowerOf2(n int) uintptr {
	if n <= 1 {
		return 1
	}
	return uintptr(1) << bits.Len(uint(n-1))
}

// maxLoad returns the number of slots that may be used (occupied or vacated)
// before the table must be rebuilt: 7/8 of the capacity.
func maxLoad(capacity uintptr) uintptr {
	return capacity - capacity/8
}

// alloc obtains control bytes and slots for a table of the given capacity
// and initializes the control bytes. Nothing is retained on failure.
func (t *table[K, V]) alloc(capacity uintptr) ([]ctrl, []Slot[K, V], error) {
	if capacity > maxCapacity {
		return nil, nil, fmt.Errorf("capacity %d: %w", capacity, ErrAllocationFailed)
	}
	slots := t.allocator.AllocSlots(int(capacity))
	if uintptr(len(slots)) < capacity {
		if slots != nil {
			t.allocator.FreeSlots(slots)
		}
		return nil, nil, fmt.Errorf("%d slots: %w", capacity, ErrAllocationFailed)
	}
	raw := t.allocator.AllocControls(int(capacity + guardSize))
	if uintptr(len(raw)) < capacity+guardSize {
		if raw != nil {
			t.allocator.FreeControls(raw)
		}
		t.allocator.FreeSlots(slots)
		return nil, nil, fmt.Errorf("%d control bytes: %w", capacity+guardSize, ErrAllocationFailed)
	}
	ctrls := unsafeConvertSlice[ctrl](raw[:capacity+guardSize])
	resetCtrls(ctrls, capacity)
	return ctrls, slots[:capacity], nil
}

// release returns the storage of t to the allocator if it came from there.
func (t *table[K, V]) release() {
	if !t.dynalloc {
		return
	}
	t.allocator.FreeSlots(t.slots)
	t.allocator.FreeControls(unsafeConvertSlice[uint8](t.ctrls))
	t.dynalloc = false
}

// find returns the slot holding key, or nil.
func (t *table[K, V]) find(key *K) *Slot[K, V] {
	if t.size == 0 {
		return nil
	}
	i := t.findProbe(key, t.hash(key))
	if i == noSlot {
		return nil
	}
	return &t.slots[i]
}

// insert places key in the table unless an equal key is already present. It
// returns the index of the slot holding the key and whether the key was
// already present. The table is rebuilt first if filling an empty slot would
// exceed the load limit, or if the probe found no usable slot at all.
func (t *table[K, V]) insert(key *K) (uintptr, bool, error) {
	h := t.hash(key)
	i, res := t.insertProbe(key, h)
	if res == insertDuplicate {
		return i, true, nil
	}

	if res == insertVacant && t.ctrls[i].isVacated() {
		t.tombstones--
	} else if res == insertFull || uintptr(t.size+t.tombstones) >= maxLoad(t.capacity) {
		if err := t.grow(); err != nil {
			return noSlot, false, err
		}
		i, res = t.insertProbe(key, h)
		if res != insertVacant {
			panic(fmt.Sprintf("hashtab: no vacant slot after rehash (capacity=%d size=%d)",
				t.capacity, t.size))
		}
	}

	if debug {
		fmt.Printf("insert: index=%d size=%d tombstones=%d\n", i, t.size+1, t.tombstones)
	}
	t.slots[i].key = *key
	t.ctrls[i] = encodeOccupied(h)
	t.size++
	t.checkInvariants()
	return i, false, nil
}

// remove deletes key from the table, reporting whether it was present.
func (t *table[K, V]) remove(key *K) bool {
	if t.size == 0 {
		return false
	}
	i := t.findProbe(key, t.hash(key))
	if i == noSlot {
		return false
	}

	t.slots[i] = Slot[K, V]{}
	t.size--
	// A probe that passes slot i continues into slot i+1. If that slot is
	// empty every such probe ends there anyway, so slot i can be marked empty
	// rather than left as a tombstone.
	if t.ctrls[(i+1)&(t.capacity-1)].isEmpty() {
		t.ctrls[i] = ctrlEmpty
	} else {
		t.ctrls[i] = ctrlVacated
		t.tombstones++
	}
	if debug {
		fmt.Printf("remove: index=%d size=%d tombstones=%d\n", i, t.size, t.tombstones)
	}
	t.checkInvariants()
	return true
}

// grow rebuilds the table ahead of an insert. Normally the capacity doubles,
// but if tombstones make up a quarter of the table and the live keys plus
// the new one fit, the table is rebuilt at its current capacity, which drops
// the tombstones.
func (t *table[K, V]) grow() error {
	newCapacity := t.capacity
	if uintptr(t.tombstones) < t.capacity/4 || uintptr(t.size+1) > maxLoad(t.capacity) {
		newCapacity *= 2
	}
	return t.rehash(newCapacity)
}

// reserve grows the table so that n keys fit without another rebuild.
func (t *table[K, V]) reserve(n int) error {
	if n <= 0 {
		return nil
	}
	c := max(t.capacity, 1)
	for uintptr(n) > maxLoad(c) {
		if c >= maxCapacity {
			t.logger.Warn("hashtab: reserve exceeds maximum capacity",
				zap.Int("n", n), zap.Uint64("capacity", uint64(t.capacity)))
			return fmt.Errorf("reserve %d: %w", n, ErrAllocationFailed)
		}
		c *= 2
	}
	if c == t.capacity {
		return nil
	}
	return t.rehash(c)
}

// rehash moves every live key into a newly allocated table of the given
// capacity and releases the old storage. The new storage is fully populated
// before anything about t changes, so a failed allocation leaves t intact.
func (t *table[K, V]) rehash(newCapacity uintptr) error {
	ctrls, slots, err := t.alloc(newCapacity)
	if err != nil {
		t.logger.Warn("hashtab: rehash allocation failed",
			zap.Uint64("capacity", uint64(t.capacity)),
			zap.Uint64("new-capacity", uint64(newCapacity)),
			zap.Int("size", t.size),
			zap.Error(err))
		return err
	}

	nt := table[K, V]{
		ctrls:    ctrls,
		slots:    slots,
		capacity: newCapacity,
		eq:       t.eq,
		hash:     t.hash,
	}
	for i := uintptr(0); i < t.capacity; i++ {
		if !t.ctrls[i].isOccupied() {
			continue
		}
		s := &t.slots[i]
		h := t.hash(&s.key)
		j, res := nt.insertProbe(&s.key, h)
		if res != insertVacant {
			panic(fmt.Sprintf("hashtab: rehash of slot %d found no vacant slot (%d)\n%s",
				i, res, t.debugString()))
		}
		nt.slots[j] = *s
		nt.ctrls[j] = encodeOccupied(h)
		nt.size++
	}

	if ce := t.logger.Check(zap.DebugLevel, "hashtab: rehash"); ce != nil {
		ce.Write(
			zap.Uint64("capacity", uint64(t.capacity)),
			zap.Uint64("new-capacity", uint64(newCapacity)),
			zap.Int("size", t.size),
			zap.Int("tombstones", t.tombstones),
			zap.Stringer("backend", selectISA()))
	}

	t.release()
	t.ctrls = nt.ctrls
	t.slots = nt.slots
	t.capacity = newCapacity
	t.tombstones = 0
	t.dynalloc = true
	t.checkInvariants()
	return nil
}

// clear removes every key, keeping the capacity.
func (t *table[K, V]) clear() {
	resetCtrls(t.ctrls, t.capacity)
	clear(t.slots)
	t.size = 0
	t.tombstones = 0
	t.checkInvariants()
}

// cloneInto makes dst a heap copy of t.
func (t *table[K, V]) cloneInto(dst *table[K, V]) error {
	ctrls, slots, err := t.alloc(t.capacity)
	if err != nil {
		t.logger.Warn("hashtab: clone allocation failed",
			zap.Uint64("capacity", uint64(t.capacity)), zap.Error(err))
		return err
	}
	copy(ctrls, t.ctrls)
	copy(slots, t.slots)
	*dst = *t
	dst.ctrls = ctrls
	dst.slots = slots
	dst.dynalloc = true
	dst.checkInvariants()
	return nil
}

// close releases the storage of t. It is idempotent.
func (t *table[K, V]) close() {
	t.release()
	t.ctrls = nil
	t.slots = nil
	t.capacity = 0
	t.size = 0
	t.tombstones = 0
}

// all calls yield for every occupied slot until it returns false. The
// control bytes and slots are snapshotted so that iteration remains valid if
// the table is rebuilt by yield.
func (t *table[K, V]) all(yield func(s *Slot[K, V]) bool) {
	capacity := t.capacity
	ctrls := t.ctrls
	slots := t.slots

	for i := uintptr(0); i < capacity; i++ {
		if ctrls[i].isOccupied() {
			if !yield(&slots[i]) {
				return
			}
		}
	}
}

func (t *table[K, V]) checkInvariants() {
	if invariants {
		if t.capacity == 0 || t.capacity&(t.capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of 2", t.capacity))
		}
		if uintptr(len(t.ctrls)) != t.capacity+guardSize || uintptr(len(t.slots)) != t.capacity {
			panic(fmt.Sprintf("invariant failed: capacity=%d but len(ctrls)=%d len(slots)=%d",
				t.capacity, len(t.ctrls), len(t.slots)))
		}
		// Verify the guard is intact.
		for i := t.capacity; i < t.capacity+guardSize; i++ {
			if c := t.ctrls[i]; c != ctrlVacated {
				panic(fmt.Sprintf("invariant failed: guard ctrl(%d)=%02x\n%s", i, uint8(c), t.debugString()))
			}
		}

		// For every occupied slot, verify the fingerprint and that we can find
		// the key. Count the number of occupied and vacated slots.
		var size, tombstones int
		for i := uintptr(0); i < t.capacity; i++ {
			c := t.ctrls[i]
			switch {
			case c.isEmpty():
			case c.isVacated():
				tombstones++
			case c.isOccupied():
				s := &t.slots[i]
				h := t.hash(&s.key)
				if c != encodeOccupied(h) {
					panic(fmt.Sprintf("invariant failed: slot(%d): %v has ctrl %02x, expected %02x\n%s",
						i, s.key, uint8(c), uint8(encodeOccupied(h)), t.debugString()))
				}
				if j := t.findProbe(&s.key, h); j != i {
					panic(fmt.Sprintf("invariant failed: slot(%d): %v found at %d\n%s",
						i, s.key, int64(j), t.debugString()))
				}
				size++
			default:
				panic(fmt.Sprintf("invariant failed: ctrl(%d): invalid %02x", i, uint8(c)))
			}
		}

		if size != t.size {
			panic(fmt.Sprintf("invariant failed: found %d occupied slots, but size is %d\n%s",
				size, t.size, t.debugString()))
		}
		if tombstones != t.tombstones {
			panic(fmt.Sprintf("invariant failed: found %d vacated slots, but tombstones is %d\n%s",
				tombstones, t.tombstones, t.debugString()))
		}
	}
}

func (t *table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  size=%d  tombstones=%d  dynalloc=%t\n",
		t.capacity, t.size, t.tombstones, t.dynalloc)
	for i := uintptr(0); i < uintptr(len(t.ctrls)); i++ {
		switch c := t.ctrls[i]; {
		case i >= t.capacity:
			fmt.Fprintf(&buf, "  %4d: guard [ctrl=%02x]\n", i, uint8(c))
		case c.isOccupied():
			s := &t.slots[i]
			fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x h=%016x]\n", i, s.key, uint8(c), t.hash(&s.key))
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, c)
		}
	}
	return buf.String()
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
