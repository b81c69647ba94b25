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
	"math"
	"reflect"
	"testing"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"
)

func TestFNV1a(t *testing.T) {
	testCases := []struct {
		data     string
		expected uint64
	}{
		{"", 0xcbf29ce484222325},
		{"a", 0xaf63dc4c8601ec8c},
		{"foobar", 0x85944171f73967e8},
	}
	for _, c := range testCases {
		t.Run(c.data, func(t *testing.T) {
			require.Equal(t, c.expected, FNV1a([]byte(c.data)))
		})
	}
}

func mustDefaultHash[K any](t *testing.T) HashFunc[K] {
	h, ok := defaultHash[K]()
	require.True(t, ok)
	return h
}

type stringIntKey struct {
	s string
	n int
}

type paddedKey struct {
	a uint8
	b uint64
}

type blankFieldKey struct {
	a int32
	_ int32
	b int64
}

type floatKey struct {
	f float64
	c complex64
}

type namedString string

func TestDefaultHash(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		h := mustDefaultHash[string](t)
		a := "hello world"
		b := string([]byte("hello world"))
		require.Equal(t, h(&a), h(&b))
		require.Equal(t, xxhash.Sum64String(a), h(&a))
		require.Equal(t, StringHash(&a), h(&a))
	})

	t.Run("bytes", func(t *testing.T) {
		h := mustDefaultHash[[]byte](t)
		a := []byte("hello world")
		b := append([]byte(nil), a...)
		require.Equal(t, h(&a), h(&b))
		require.Equal(t, BytesHash(&a), h(&a))
	})

	t.Run("short", func(t *testing.T) {
		h := mustDefaultHash[uint32](t)
		k := uint32(0x04030201)
		require.Equal(t, FNV1a([]byte{1, 2, 3, 4}), h(&k))
	})

	t.Run("long", func(t *testing.T) {
		type key struct {
			a, b, c uint64
		}
		h := mustDefaultHash[key](t)
		k1 := key{1, 2, 3}
		k2 := key{1, 2, 3}
		k3 := key{1, 2, 4}
		require.Equal(t, h(&k1), h(&k2))
		require.NotEqual(t, h(&k1), h(&k3))
	})

	t.Run("string-field", func(t *testing.T) {
		h := mustDefaultHash[stringIntKey](t)
		k1 := stringIntKey{"hello", 1}
		k2 := stringIntKey{string([]byte("hello")), 1}
		require.Equal(t, k1, k2)
		require.Equal(t, h(&k1), h(&k2))
		k3 := stringIntKey{"hello", 2}
		k4 := stringIntKey{"hellp", 1}
		require.NotEqual(t, h(&k1), h(&k3))
		require.NotEqual(t, h(&k1), h(&k4))
	})

	t.Run("named-string", func(t *testing.T) {
		h := mustDefaultHash[namedString](t)
		a := namedString("abc")
		b := namedString([]byte("abc"))
		require.Equal(t, h(&a), h(&b))
	})

	t.Run("padding", func(t *testing.T) {
		h := mustDefaultHash[paddedKey](t)
		k1 := paddedKey{1, 2}
		k2 := paddedKey{1, 2}
		// Scribble over the padding after a.
		*(*byte)(unsafe.Add(unsafe.Pointer(&k2), 1)) = 0xff
		require.True(t, k1 == k2)
		require.Equal(t, h(&k1), h(&k2))
	})

	t.Run("blank-field", func(t *testing.T) {
		h := mustDefaultHash[blankFieldKey](t)
		k1 := blankFieldKey{a: 1, b: 2}
		k2 := blankFieldKey{a: 1, b: 2}
		*(*int32)(unsafe.Add(unsafe.Pointer(&k2), 4)) = 7
		require.True(t, k1 == k2)
		require.Equal(t, h(&k1), h(&k2))
	})

	t.Run("float", func(t *testing.T) {
		h := mustDefaultHash[floatKey](t)
		negZero := math.Copysign(0, -1)
		k1 := floatKey{0, complex(0, 1)}
		k2 := floatKey{negZero, complex(float32(negZero), 1)}
		require.True(t, k1 == k2)
		require.Equal(t, h(&k1), h(&k2))
		k3 := floatKey{1, complex(0, 1)}
		require.NotEqual(t, h(&k1), h(&k3))

		hf := mustDefaultHash[float64](t)
		zero := 0.0
		require.Equal(t, hf(&zero), hf(&negZero))
	})

	t.Run("array", func(t *testing.T) {
		h := mustDefaultHash[[2]stringIntKey](t)
		k1 := [2]stringIntKey{{"a", 1}, {"b", 2}}
		k2 := [2]stringIntKey{{string([]byte("a")), 1}, {string([]byte("b")), 2}}
		require.Equal(t, h(&k1), h(&k2))
		// The string length is part of the hash, so moving bytes between
		// adjacent strings changes it.
		k3 := [2]stringIntKey{{"ab", 1}, {"", 2}}
		require.NotEqual(t, h(&k1), h(&k3))
	})

	t.Run("pointer", func(t *testing.T) {
		h := mustDefaultHash[*int](t)
		x, y := 1, 1
		p1, p2 := &x, &x
		p3 := &y
		require.Equal(t, h(&p1), h(&p2))
		require.NotEqual(t, h(&p1), h(&p3))
	})

	t.Run("unsupported", func(t *testing.T) {
		_, ok := defaultHash[any]()
		require.False(t, ok)
		_, ok = defaultHash[struct {
			n int
			e error
		}]()
		require.False(t, ok)
		_, ok = defaultHash[[]int]()
		require.False(t, ok)
	})

	t.Run("cached", func(t *testing.T) {
		_ = mustDefaultHash[stringIntKey](t)
		v, ok := defaultHashes.Load(reflect.TypeOf((*stringIntKey)(nil)).Elem())
		require.True(t, ok)
		require.IsType(t, HashFunc[stringIntKey](nil), v)
	})
}

func TestHashSegments(t *testing.T) {
	segs, ok := appendHashSegments(nil, reflect.TypeOf((*paddedKey)(nil)).Elem(), 0)
	require.True(t, ok)
	require.Equal(t, []hashSegment{
		{offset: 0, size: 1, kind: segmentMemory},
		{offset: 8, size: 8, kind: segmentMemory},
	}, segs)

	// Adjacent fields are merged into one segment.
	segs, ok = appendHashSegments(nil, reflect.TypeOf((*[4]int32)(nil)).Elem(), 0)
	require.True(t, ok)
	require.Equal(t, []hashSegment{{offset: 0, size: 16, kind: segmentMemory}}, segs)

	segs, ok = appendHashSegments(nil, reflect.TypeOf((*stringIntKey)(nil)).Elem(), 0)
	require.True(t, ok)
	require.Len(t, segs, 2)
	require.Equal(t, segmentString, segs[0].kind)
	require.Equal(t, segmentMemory, segs[1].kind)
}

func TestEqual(t *testing.T) {
	eq := Equal[string]()
	a, b, c := "x", "x", "y"
	require.True(t, eq(&a, &b))
	require.False(t, eq(&a, &c))

	x, y, z := []byte("abc"), []byte("abc"), []byte("abd")
	require.True(t, BytesEqual(&x, &y))
	require.False(t, BytesEqual(&x, &z))
}
