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
	"encoding/binary"
	"math/bits"
	"strings"
	"sync/atomic"
	"unsafe"
)

const (
	swarGroupSize   = 8
	vectorGroupSize = 32
	maxGroupSize    = vectorGroupSize

	// guardSize is the number of control bytes past the end of the table.
	// A group load starting at any index in [0, capacity) reads at most
	// maxGroupSize bytes, so this many trailing bytes keep it in bounds.
	guardSize = maxGroupSize - 1

	bitsetLSB  = 0x0101010101010101
	bitsetMSB  = 0x8080808080808080
	bitsetLow7 = 0x7f7f7f7f7f7f7f7f

	// movemaskMagic gathers the low bit of each byte of a word into the top
	// byte of the product. Byte i contributes at bit 56+i and every other
	// partial product lands on a distinct bit below 56 or overflows, so no
	// carries reach the result byte.
	movemaskMagic = 0x0102040810204080
)

// bitset holds one bit per lane of a group: lane i is bit i.
type bitset uint32

// next returns the lowest set lane.
func (b bitset) next() uintptr {
	return uintptr(bits.TrailingZeros32(uint32(b)))
}

func (b bitset) clear(i uintptr) bitset {
	return b &^ (1 << i)
}

// before returns the lanes strictly below the lowest set lane of b.
func (b bitset) before() bitset {
	return (b & -b) - 1
}

// through returns the lanes up to and including the lowest set lane of b.
func (b bitset) through() bitset {
	return (b&-b)<<1 - 1
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(maxGroupSize)
	for i := 0; i < maxGroupSize; i++ {
		if b&(1<<i) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// lanesFrom returns the lanes at or above i.
func lanesFrom(i uintptr) bitset {
	return ^bitset(0) << i
}

// lanesBelow returns the lanes strictly below n. n may be as large as 32.
func lanesBelow(n uintptr) bitset {
	return bitset(1)<<n - 1
}

// groupMatch is the result of comparing one group of control bytes against
// a fingerprint.
type groupMatch struct {
	// fingerprint has a bit set for every lane equal to the probed control
	// byte.
	fingerprint bitset
	// empty has a bit set for every ctrlEmpty lane.
	empty bitset
	// occupied has a bit set for every lane with the occupied bit set.
	occupied bitset
}

// groupOps is the set of operations the probe engine needs from a metadata
// backend. A group is width() consecutive control bytes starting at a
// multiple of width(); match must not read past ctrls[base+width()-1].
type groupOps interface {
	width() uintptr
	match(ctrls []ctrl, base uintptr, fp ctrl) groupMatch
}

// swarGroup compares 8 control bytes at a time using bit tricks on a uint64
// (SIMD Within A Register).
type swarGroup struct{}

func (swarGroup) width() uintptr { return swarGroupSize }

func (swarGroup) match(ctrls []ctrl, base uintptr, fp ctrl) groupMatch {
	v := swarLoad(ctrls, base)
	return groupMatch{
		fingerprint: swarMovemask(swarCompareEq(v, swarBroadcast(fp))),
		empty:       swarMovemask(swarCompareEq(v, 0)),
		occupied:    swarMovemask(v & bitsetMSB),
	}
}

// swarLoad loads the 8 control bytes starting at base. Lane i of the result
// is the low byte shifted left by 8*i regardless of the host byte order.
func swarLoad(ctrls []ctrl, base uintptr) uint64 {
	_ = ctrls[base+swarGroupSize-1]
	return binary.LittleEndian.Uint64(unsafe.Slice((*byte)(&ctrls[base]), swarGroupSize))
}

// swarBroadcast replicates c into every lane.
func swarBroadcast(c ctrl) uint64 {
	return bitsetLSB * uint64(c)
}

// swarCompareEq returns a word whose lanes are 0x80 where a and b are equal
// and 0x00 elsewhere.
//
// For each byte y of a^b, (y&0x7f)+0x7f has its high bit set iff any of the
// low 7 bits of y are set, and cannot carry into the next byte. OR-ing in y
// adds its own high bit, so the high bit of the complement is set iff y is
// zero. Unlike the classic (y-0x01)&^y trick this never reports a false
// positive, which matters because an empty lane ends a probe.
func swarCompareEq(a, b uint64) uint64 {
	x := a ^ b
	return ^(((x & bitsetLow7) + bitsetLow7) | x) & bitsetMSB
}

// swarMovemask compresses a word with lanes of 0x80 or 0x00 into a bitset.
func swarMovemask(v uint64) bitset {
	return bitset(((v >> 7) * movemaskMagic) >> 56)
}

// swarReadLane returns lane i of v.
func swarReadLane(v uint64, i uintptr) ctrl {
	return ctrl(v >> (i << 3))
}

// vectorGroup compares 32 control bytes at a time. On amd64 it uses AVX2;
// elsewhere it is emulated with four SWAR words.
type vectorGroup struct{}

func (vectorGroup) width() uintptr { return vectorGroupSize }

// isa identifies the group backend used by probing.
type isa uint32

const (
	isaUnknown isa = iota
	isaVector
	isaSWAR
)

func (v isa) String() string {
	switch v {
	case isaVector:
		return "vector"
	case isaSWAR:
		return "swar"
	default:
		return "unknown"
	}
}

// isaSupport caches the result of detectISA. Detection is deterministic, so
// goroutines racing on first use may each run it, but they all store the same
// value.
var isaSupport atomic.Uint32

// selectISA returns the group backend for this process, detecting it on
// first use.
func selectISA() isa {
	if v := isa(isaSupport.Load()); v != isaUnknown {
		return v
	}
	v := detectISA()
	isaSupport.Store(uint32(v))
	return v
}
