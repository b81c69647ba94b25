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

import "go.uber.org/zap"

// Option configures a table while it is being created.
type Option[K, V any] interface {
	apply(t *table[K, V])
}

type hashOption[K, V any] struct {
	hash HashFunc[K]
}

func (op hashOption[K, V]) apply(t *table[K, V]) {
	t.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a table. If
// it is not given, a default derived from the key type is used. It is
// consistent with == for strings, numbers, pointers, channels and arrays
// and structs of those. Key types containing interfaces, slices (other than
// []byte), maps or funcs have no default, and a table of such keys panics
// at construction unless WithHash is given.
func WithHash[K, V any](hash HashFunc[K]) Option[K, V] {
	return hashOption[K, V]{hash}
}

// Allocator specifies an interface for allocating and releasing the memory
// used by heap tables and by tables that have outgrown their inline storage.
// The default allocator utilizes Go's builtin make() and allows the GC to
// reclaim memory.
//
// An allocator reports failure by returning nil. The table operation that
// needed the memory then fails with ErrAllocationFailed and the table is
// left unchanged.
//
// If the allocator is manually managing memory and requires that slots and
// controls be freed then Close must be called in order to ensure FreeSlots
// and FreeControls are called.
type Allocator[K, V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n).
	AllocSlots(n int) []Slot[K, V]

	// AllocControls should return a slice equivalent to make([]uint8, n).
	AllocControls(n int) []uint8

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot[K, V])

	// FreeControls can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocControls.
	FreeControls(v []uint8)
}

type defaultAllocator[K, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) AllocControls(n int) []uint8 {
	return make([]uint8, n)
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

func (defaultAllocator[K, V]) FreeControls(v []uint8) {
}

type allocatorOption[K, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(t *table[K, V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a table.
func WithAllocator[K, V any](allocator Allocator[K, V]) Option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type loggerOption[K, V any] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(t *table[K, V]) {
	t.logger = op.logger
}

// WithLogger is an option to specify the logger a table reports rehashes
// and allocation failures to. Tables use a no-op logger by default.
func WithLogger[K, V any](logger *zap.Logger) Option[K, V] {
	return loggerOption[K, V]{logger}
}
