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

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// EqualFunc reports whether two keys are equal. The first argument points at
// the key stored in the table and the second at the key being looked up.
// Neither pointer may be retained after the call returns.
type EqualFunc[K any] func(a, b *K) bool

// HashFunc returns the 64-bit hash of a key. The low bits of the hash select
// the start slot and the 7 high bits are stored as the slot's fingerprint, so
// both ends of the hash should be well mixed. The pointer may not be
// retained after the call returns.
type HashFunc[K any] func(key *K) uint64

// shortKeySize is the largest key, in bytes, hashed with FNV-1a by the
// default hash function. Longer keys are hashed with xxhash.
const shortKeySize = 16

// Equal returns an EqualFunc using ==.
func Equal[K comparable]() EqualFunc[K] {
	return func(a, b *K) bool {
		return *a == *b
	}
}

// BytesEqual compares byte slice keys by content.
func BytesEqual(a, b *[]byte) bool {
	return bytes.Equal(*a, *b)
}

// StringHash hashes the contents of a string key.
func StringHash(key *string) uint64 {
	return xxhash.Sum64String(*key)
}

// BytesHash hashes the contents of a byte slice key.
func BytesHash(key *[]byte) uint64 {
	return xxhash.Sum64(*key)
}

// FNV1a returns the 64-bit FNV-1a hash of data.
func FNV1a(data []byte) uint64 {
	const (
		offsetBasis = 0xcbf29ce484222325
		prime       = 0x100000001b3
	)
	h := uint64(offsetBasis)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}

// defaultHashes caches the default HashFunc of each key type, keyed by
// reflect.Type.
var defaultHashes sync.Map

// defaultHash returns the hash function used when none is supplied with
// WithHash, and false if K has no default. String and byte slice keys are
// hashed by content. Other keys are hashed field by field following the
// definition of ==: strings by content, floats by value (so +0 and -0 hash
// alike), padding and blank fields skipped. Keys containing interfaces,
// slices, maps or funcs have no default.
func defaultHash[K any]() (HashFunc[K], bool) {
	typ := reflect.TypeOf((*K)(nil)).Elem()
	if h, ok := defaultHashes.Load(typ); ok {
		return h.(HashFunc[K]), true
	}
	h, ok := buildDefaultHash[K](typ)
	if !ok {
		return nil, false
	}
	defaultHashes.Store(typ, h)
	return h, true
}

func buildDefaultHash[K any](typ reflect.Type) (HashFunc[K], bool) {
	var k K
	switch any(k).(type) {
	case string:
		return func(key *K) uint64 {
			return xxhash.Sum64String(*(*string)(unsafe.Pointer(key)))
		}, true
	case []byte:
		return func(key *K) uint64 {
			return xxhash.Sum64(*(*[]byte)(unsafe.Pointer(key)))
		}, true
	}

	segs, ok := appendHashSegments(nil, typ, 0)
	if !ok {
		return nil, false
	}

	size := typ.Size()
	if len(segs) == 1 && segs[0].kind == segmentMemory && segs[0].size == size {
		// The key is compared byte for byte: hash its memory directly.
		if size <= shortKeySize {
			return func(key *K) uint64 {
				return FNV1a(unsafe.Slice((*byte)(unsafe.Pointer(key)), size))
			}, true
		}
		return func(key *K) uint64 {
			return xxhash.Sum64(unsafe.Slice((*byte)(unsafe.Pointer(key)), size))
		}, true
	}
	return func(key *K) uint64 {
		return hashSegments(unsafe.Pointer(key), segs)
	}, true
}

type segmentKind uint8

const (
	segmentMemory segmentKind = iota
	segmentString
	segmentFloat32
	segmentFloat64
)

// hashSegment is a part of a key hashed as a unit.
type hashSegment struct {
	offset uintptr
	size   uintptr
	kind   segmentKind
}

// appendHashSegments appends the segments of a value of type typ located at
// offset off. Adjacent memory segments are merged. It returns false if typ
// contains a kind whose equality cannot be derived from its layout.
func appendHashSegments(segs []hashSegment, typ reflect.Type, off uintptr) ([]hashSegment, bool) {
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		if n := len(segs); n > 0 && segs[n-1].kind == segmentMemory && segs[n-1].offset+segs[n-1].size == off {
			segs[n-1].size += typ.Size()
			return segs, true
		}
		return append(segs, hashSegment{offset: off, size: typ.Size(), kind: segmentMemory}), true
	case reflect.Float32:
		return append(segs, hashSegment{offset: off, size: 4, kind: segmentFloat32}), true
	case reflect.Float64:
		return append(segs, hashSegment{offset: off, size: 8, kind: segmentFloat64}), true
	case reflect.Complex64:
		return append(segs,
			hashSegment{offset: off, size: 4, kind: segmentFloat32},
			hashSegment{offset: off + 4, size: 4, kind: segmentFloat32}), true
	case reflect.Complex128:
		return append(segs,
			hashSegment{offset: off, size: 8, kind: segmentFloat64},
			hashSegment{offset: off + 8, size: 8, kind: segmentFloat64}), true
	case reflect.String:
		return append(segs, hashSegment{offset: off, size: typ.Size(), kind: segmentString}), true
	case reflect.Array:
		elem := typ.Elem()
		for i := 0; i < typ.Len(); i++ {
			var ok bool
			if segs, ok = appendHashSegments(segs, elem, off+uintptr(i)*elem.Size()); !ok {
				return nil, false
			}
		}
		return segs, true
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if f.Name == "_" {
				continue
			}
			var ok bool
			if segs, ok = appendHashSegments(segs, f.Type, off+f.Offset); !ok {
				return nil, false
			}
		}
		return segs, true
	default:
		return nil, false
	}
}

// hashSegments hashes the segments of the value at p.
func hashSegments(p unsafe.Pointer, segs []hashSegment) uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [8]byte
	for _, s := range segs {
		q := unsafe.Add(p, s.offset)
		switch s.kind {
		case segmentMemory:
			_, _ = d.Write(unsafe.Slice((*byte)(q), s.size))
		case segmentString:
			str := *(*string)(q)
			binary.LittleEndian.PutUint64(buf[:], uint64(len(str)))
			_, _ = d.Write(buf[:])
			_, _ = d.WriteString(str)
		case segmentFloat32:
			f := *(*float32)(q)
			if f == 0 {
				f = 0
			}
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
			_, _ = d.Write(buf[:4])
		case segmentFloat64:
			f := *(*float64)(q)
			if f == 0 {
				f = 0
			}
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}
