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

// Set is an unordered set of keys of type K with Insert, Contains, Remove
// and All operations. Keys are compared with the EqualFunc given at
// construction and hashed with the HashFunc chosen by WithHash, or a default
// derived from K.
//
// A Set initialized with Init keeps its first table inside the Set value
// itself, so such a Set must not be copied once initialized. A
// copy is detected, and panics, while it still refers to that storage.
//
// A Set is NOT goroutine-safe.
type Set[K any] struct {
	noCopy noCopy
	t      table[K, struct{}]
	inline inlineStorage[K, struct{}]
}

func (s *Set[K]) table() *table[K, struct{}] {
	s.t.copyCheck(&s.inline)
	return &s.t
}

// NewSet constructs a heap-allocated Set able to hold capacity keys before
// growing, rounded up to a power of 2. An error is returned if the
// configured Allocator cannot provide the memory.
func NewSet[K any](eq EqualFunc[K], capacity int, options ...Option[K, struct{}]) (*Set[K], error) {
	s := &Set[K]{}
	if err := s.t.initHeap(eq, capacity, options); err != nil {
		return nil, err
	}
	return s, nil
}

// Init initializes s in place using the storage embedded in s. It never
// allocates; memory is only requested from the Allocator once s outgrows its
// inline capacity. Init may be used to reset a Set, in which case any memory
// it obtained from its Allocator is released first.
func (s *Set[K]) Init(eq EqualFunc[K], options ...Option[K, struct{}]) {
	s.t.initInline(&s.inline, eq, options)
}

// Close releases any memory obtained from the configured Allocator. It is
// unnecessary to close a Set using the default allocator. It is invalid to
// use a Set after it has been closed, though Close itself is idempotent.
func (s *Set[K]) Close() {
	s.table().close()
}

// Insert adds key to the set. It returns true if key was added and false if
// an equal key was already present, in which case the set is unchanged. The
// error is non-nil only if growing the set failed, in which case the set is
// also unchanged.
func (s *Set[K]) Insert(key K) (bool, error) {
	_, dup, err := s.table().insert((*K)(noescape(unsafe.Pointer(&key))))
	if err != nil {
		return false, err
	}
	return !dup, nil
}

// Contains reports whether an element equal to key is present.
func (s *Set[K]) Contains(key K) bool {
	return s.table().find((*K)(noescape(unsafe.Pointer(&key)))) != nil
}

// Find returns a pointer to the stored element equal to key, or nil. The
// pointer is valid until the next Insert, Remove, Clear or Close.
func (s *Set[K]) Find(key K) *K {
	if slot := s.table().find((*K)(noescape(unsafe.Pointer(&key)))); slot != nil {
		return &slot.key
	}
	return nil
}

// Remove removes the element equal to key, reporting whether it was present.
func (s *Set[K]) Remove(key K) bool {
	return s.table().remove((*K)(noescape(unsafe.Pointer(&key))))
}

// Len returns the number of elements in the set.
func (s *Set[K]) Len() int {
	return s.table().size
}

// Cap returns the number of slots in the set's table.
func (s *Set[K]) Cap() int {
	return int(s.table().capacity)
}

// Clear removes every element, keeping the current capacity.
func (s *Set[K]) Clear() {
	s.table().clear()
}

// Reserve grows the set so that n elements fit without another rebuild.
func (s *Set[K]) Reserve(n int) error {
	return s.table().reserve(n)
}

// Clone returns a heap-allocated copy of s with the same capacity and
// options.
func (s *Set[K]) Clone() (*Set[K], error) {
	c := &Set[K]{}
	if err := s.table().cloneInto(&c.t); err != nil {
		return nil, err
	}
	return c, nil
}

// All calls yield sequentially for each element present in the set. If
// yield returns false, All stops the iteration. The set may be mutated by
// yield; elements added during iteration may or may not be visited.
func (s *Set[K]) All(yield func(key K) bool) {
	s.table().all(func(slot *Slot[K, struct{}]) bool {
		return yield(slot.key)
	})
}
