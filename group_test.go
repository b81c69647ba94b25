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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func bitsetFromString(t *testing.T, str string) bitset {
	require.LessOrEqual(t, len(str), maxGroupSize)
	var b bitset
	for i := 0; i < len(str); i++ {
		require.True(t, str[i] == '0' || str[i] == '1')
		if str[i] == '1' {
			b |= 1 << i
		}
	}
	return b
}

func TestBitset(t *testing.T) {
	b := bitsetFromString(t, "00101100")
	require.EqualValues(t, 2, b.next())
	require.Equal(t, bitsetFromString(t, "00001100"), b.clear(2))
	require.Equal(t, bitsetFromString(t, "11"), b.before())
	require.Equal(t, bitsetFromString(t, "111"), b.through())
	require.Equal(t, "00101100000000000000000000000000", b.String())

	require.Equal(t, bitsetFromString(t, "00011111111111111111111111111111"), lanesFrom(3))
	require.Equal(t, ^bitset(0), lanesFrom(0))
	require.Equal(t, bitset(0), lanesBelow(0))
	require.Equal(t, bitsetFromString(t, "111"), lanesBelow(3))
	require.Equal(t, ^bitset(0), lanesBelow(32))

	top := bitset(1) << 31
	require.Equal(t, ^bitset(0), top.through())
	require.Equal(t, ^top, top.before())
}

func TestSWARCompareEq(t *testing.T) {
	// Every pair of byte values in every lane, with the other lanes
	// randomized. The classic zero-byte trick reports false positives when a
	// lane above a matching lane is 0x01; this must not.
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			lane := uint(rand.Intn(8)) * 8
			x := rand.Uint64()&^(0xff<<lane) | uint64(a)<<lane
			y := x&^(0xff<<lane) | uint64(b)<<lane
			r := swarCompareEq(x, y)
			if a == b {
				require.Equal(t, uint64(bitsetMSB), r, "a=%02x b=%02x", a, b)
			} else {
				require.Equal(t, uint64(bitsetMSB)&^(0x80<<lane), r, "a=%02x b=%02x", a, b)
			}
		}
	}
	require.Equal(t, uint64(0x8000800000000000), swarCompareEq(0x0101000101010101, 0x0100000000000000))
}

func TestSWARMovemask(t *testing.T) {
	for i := 0; i < 256; i++ {
		var v uint64
		for lane := 0; lane < 8; lane++ {
			if i&(1<<lane) != 0 {
				v |= 0x80 << (lane * 8)
			}
		}
		require.Equal(t, bitset(i), swarMovemask(v))
	}
}

func TestSWARLoad(t *testing.T) {
	ctrls := []ctrl{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	v := swarLoad(ctrls, 1)
	require.EqualValues(t, 0x0908070605040302, v)
	for i := uintptr(0); i < swarGroupSize; i++ {
		require.Equal(t, ctrls[1+i], swarReadLane(v, i))
	}
	require.Equal(t, uint64(0x7f7f7f7f7f7f7f7f), swarBroadcast(ctrlVacated))
}

// referenceMatch computes a groupMatch one byte at a time.
func referenceMatch(ctrls []ctrl, base, width uintptr, fp ctrl) groupMatch {
	var m groupMatch
	for i := uintptr(0); i < width; i++ {
		c := ctrls[base+i]
		if c == fp {
			m.fingerprint |= 1 << i
		}
		if c.isEmpty() {
			m.empty |= 1 << i
		}
		if c.isOccupied() {
			m.occupied |= 1 << i
		}
	}
	return m
}

func TestGroupMatch(t *testing.T) {
	groups := []groupOps{swarGroup{}}
	if vectorSupported() {
		groups = append(groups, vectorGroup{})
	}
	for _, g := range groups {
		width := g.width()
		ctrls := make([]ctrl, 4*width)
		for iter := 0; iter < 1000; iter++ {
			fp := encodeOccupied(rand.Uint64())
			for i := range ctrls {
				switch rand.Intn(4) {
				case 0:
					ctrls[i] = ctrlEmpty
				case 1:
					ctrls[i] = ctrlVacated
				case 2:
					ctrls[i] = fp
				default:
					ctrls[i] = ctrl(rand.Intn(256))
				}
			}
			for base := uintptr(0); base < uintptr(len(ctrls)); base += width {
				require.Equal(t, referenceMatch(ctrls, base, width, fp), g.match(ctrls, base, fp))
			}
		}
	}
}

func TestGroupMatchGuard(t *testing.T) {
	// A table of 4 slots followed by its guard. The guard lanes are neither
	// empty nor occupied and never match a fingerprint.
	ctrls := make([]ctrl, 4+guardSize)
	resetCtrls(ctrls, 4)
	fp := encodeOccupied(0)
	ctrls[1] = fp

	m := swarGroup{}.match(ctrls, 0, fp)
	require.Equal(t, bitset(0b0010), m.fingerprint)
	require.Equal(t, bitset(0b1101), m.empty)
	require.Equal(t, bitset(0b0010), m.occupied)

	if vectorSupported() {
		m = vectorGroup{}.match(ctrls, 0, fp)
		require.Equal(t, bitset(0b0010), m.fingerprint)
		require.Equal(t, bitset(0b1101), m.empty)
		require.Equal(t, bitset(0b0010), m.occupied)
	}
}

func TestSelectISA(t *testing.T) {
	prev := isaSupport.Load()
	defer isaSupport.Store(prev)

	isaSupport.Store(uint32(isaUnknown))
	v := selectISA()
	require.Equal(t, detectISA(), v)
	require.NotEqual(t, isaUnknown, v)
	require.EqualValues(t, v, isaSupport.Load())
	require.Equal(t, v, selectISA())

	if v == isaVector {
		require.True(t, vectorSupported())
	}
	require.Equal(t, "vector", isaVector.String())
	require.Equal(t, "swar", isaSWAR.String())
	require.Equal(t, "unknown", isaUnknown.String())
}
