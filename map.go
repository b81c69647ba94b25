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

package hashtab

import "unsafe"

// Map is an unordered map from keys to values with Put, Get, Delete, and All
// operations. It shares its table implementation with Set; the value is
// stored next to the key in each slot.
//
// A Map initialized with Init keeps its first table inside the Map value
// itself, so such a Map must not be copied once initialized. A
// copy is detected, and panics, while it still refers to that storage.
//
// A Map is NOT goroutine-safe.
type Map[K, V any] struct {
	noCopy noCopy
	t      table[K, V]
	inline inlineStorage[K, V]
}

func (m *Map[K, V]) table() *table[K, V] {
	m.t.copyCheck(&m.inline)
	return &m.t
}

// NewMap constructs a heap-allocated Map able to hold capacity entries
// before growing, rounded up to a power of 2. An error is returned if the
// configured Allocator cannot provide the memory.
func NewMap[K, V any](eq EqualFunc[K], capacity int, options ...Option[K, V]) (*Map[K, V], error) {
	m := &Map[K, V]{}
	if err := m.t.initHeap(eq, capacity, options); err != nil {
		return nil, err
	}
	return m, nil
}

// Init initializes m in place using the storage embedded in m. It never
// allocates; memory is only requested from the Allocator once m outgrows its
// inline capacity. Init may be used to reset a Map, in which case any memory
// it obtained from its Allocator is released first.
func (m *Map[K, V]) Init(eq EqualFunc[K], options ...Option[K, V]) {
	m.t.initInline(&m.inline, eq, options)
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	m.table().close()
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. If growing the map fails the error
// is returned and the map is unchanged.
func (m *Map[K, V]) Put(key K, value V) error {
	i, _, err := m.table().insert((*K)(noescape(unsafe.Pointer(&key))))
	if err != nil {
		return err
	}
	m.table().slots[i].value = value
	return nil
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if slot := m.table().find((*K)(noescape(unsafe.Pointer(&key)))); slot != nil {
		return slot.value, true
	}
	return value, false
}

// Find returns a pointer to the value stored for key, or nil. The value may
// be modified through the pointer, which is valid until the next Put,
// Delete, Clear or Close.
func (m *Map[K, V]) Find(key K) *V {
	if slot := m.table().find((*K)(noescape(unsafe.Pointer(&key)))); slot != nil {
		return &slot.value
	}
	return nil
}

// Delete deletes the entry corresponding to the specified key from the map,
// reporting whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	return m.table().remove((*K)(noescape(unsafe.Pointer(&key))))
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.table().size
}

// Cap returns the number of slots in the map's table.
func (m *Map[K, V]) Cap() int {
	return int(m.table().capacity)
}

// Clear deletes every entry, keeping the current capacity.
func (m *Map[K, V]) Clear() {
	m.table().clear()
}

// Reserve grows the map so that n entries fit without another rebuild.
func (m *Map[K, V]) Reserve(n int) error {
	return m.table().reserve(n)
}

// Clone returns a heap-allocated copy of m with the same capacity and
// options.
func (m *Map[K, V]) Clone() (*Map[K, V], error) {
	c := &Map[K, V]{}
	if err := m.table().cloneInto(&c.t); err != nil {
		return nil, err
	}
	return c, nil
}

// All calls yield sequentially for each key and value present in the map.
// If yield returns false, All stops the iteration. The map may be mutated
// by yield. Modifications to a key or value that has not yet been yielded
// by the iterator may or may not be visible to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.table().all(func(slot *Slot[K, V]) bool {
		return yield(slot.key, slot.value)
	})
}
