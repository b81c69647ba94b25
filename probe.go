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

import "fmt"

// noSlot is returned by the probe functions when there is no slot to report.
const noSlot = ^uintptr(0)

// insertResult describes the outcome of insertProbe.
type insertResult uint8

const (
	// insertVacant means the returned slot is empty or vacated and may
	// receive the key.
	insertVacant insertResult = iota
	// insertDuplicate means the key is already present at the returned slot.
	insertDuplicate
	// insertFull means every slot is occupied by other keys.
	insertFull
)

// findProbe returns the index of the slot holding key, or noSlot.
func (t *table[K, V]) findProbe(key *K, h uint64) uintptr {
	if selectISA() == isaVector {
		return probeFind(vectorGroup{}, t, key, h)
	}
	return probeFind(swarGroup{}, t, key, h)
}

// insertProbe returns the slot key should be inserted into, or the slot
// already holding it.
func (t *table[K, V]) insertProbe(key *K, h uint64) (uintptr, insertResult) {
	if selectISA() == isaVector {
		return probeInsert(vectorGroup{}, t, key, h)
	}
	return probeInsert(swarGroup{}, t, key, h)
}

// probeFind walks the control bytes looking for key. Probing is linear: it
// starts at slot hash&(capacity-1), which lies somewhere inside the group
// starting at the multiple of the group width below it, and proceeds one
// group at a time, wrapping at capacity. The lanes of the first group before
// the start slot are examined last, after every other group, so each slot is
// visited at most once:
//
//	     first          offset
//	       v              v
//	  .... [ residual     | initial partial group ] [ group ] [ group ] ....
//
// Within a group, candidates are the occupied lanes whose control byte
// equals the key's fingerprint; each is confirmed with the equality
// callback. Tombstones and fingerprint mismatches are skipped. The first
// empty lane ends the probe. If the table has no empty slot at all the probe
// ends after the residual lanes.
func probeFind[K, V any, G groupOps](g G, t *table[K, V], key *K, h uint64) uintptr {
	width := g.width()
	mask := t.capacity - 1
	fp := encodeOccupied(h)
	start := uintptr(h) & mask
	first := start &^ (width - 1)
	offset := start - first
	if debug {
		fmt.Printf("find: start=%d first=%d offset=%d fp=%02x\n", start, first, offset, uint8(fp))
	}

	lanes := lanesFrom(offset)
	for base := first; ; {
		m := g.match(t.ctrls, base, fp)
		if i, done := t.scanFind(m, lanes&t.lanes(base, width), base, key); done {
			return i
		}
		// When the capacity is smaller than the group width the table is a
		// single group and this wraps straight back to first.
		base = (base + width) & mask
		if base == first {
			break
		}
		lanes = ^bitset(0)
	}

	if offset != 0 {
		m := g.match(t.ctrls, first, fp)
		if i, done := t.scanFind(m, lanesBelow(offset)&t.lanes(first, width), first, key); done {
			return i
		}
	}
	return noSlot
}

// probeInsert follows the same path as probeFind. It remembers the first
// lane without the occupied bit (empty or vacated) but keeps scanning until
// it either finds key, in which case the duplicate's slot is returned, or
// reaches an empty lane. Stopping at the first tombstone would be wrong: the
// key may have been inserted further along the chain before the tombstone
// was created.
func probeInsert[K, V any, G groupOps](g G, t *table[K, V], key *K, h uint64) (uintptr, insertResult) {
	width := g.width()
	mask := t.capacity - 1
	fp := encodeOccupied(h)
	start := uintptr(h) & mask
	first := start &^ (width - 1)
	offset := start - first
	candidate := noSlot

	lanes := lanesFrom(offset)
	for base := first; ; {
		m := g.match(t.ctrls, base, fp)
		i, dup, done := t.scanInsert(m, lanes&t.lanes(base, width), base, key, &candidate)
		if dup {
			return i, insertDuplicate
		}
		if done {
			return candidate, insertVacant
		}
		base = (base + width) & mask
		if base == first {
			break
		}
		lanes = ^bitset(0)
	}

	if offset != 0 {
		m := g.match(t.ctrls, first, fp)
		i, dup, _ := t.scanInsert(m, lanesBelow(offset)&t.lanes(first, width), first, key, &candidate)
		if dup {
			return i, insertDuplicate
		}
	}
	if candidate == noSlot {
		return noSlot, insertFull
	}
	return candidate, insertVacant
}

// lanes returns the lanes of the group at base that correspond to slots of
// the table. Only a table smaller than the group width has lanes that fall
// into the guard.
func (t *table[K, V]) lanes(base, width uintptr) bitset {
	if n := t.capacity - base; n < width {
		return lanesBelow(n)
	}
	return lanesBelow(width)
}

// scanFind examines the selected lanes of a group in ascending order. It
// returns done=true if the probe is over, either because key was found at
// the returned index or because an empty lane was reached (index noSlot).
func (t *table[K, V]) scanFind(m groupMatch, lanes bitset, base uintptr, key *K) (uintptr, bool) {
	done := false
	if e := m.empty & lanes; e != 0 {
		lanes &= e.before()
		done = true
	}
	for match := m.fingerprint & lanes; match != 0; {
		i := match.next()
		if debug {
			fmt.Printf("find(checking): index=%d\n", base+i)
		}
		if t.eq(&t.slots[base+i].key, key) {
			return base + i, true
		}
		match = match.clear(i)
	}
	return noSlot, done
}

// scanInsert is the insertProbe counterpart of scanFind. The earliest lane
// without the occupied bit is recorded in *candidate if none has been seen
// yet. It reports dup=true with the slot index when key is found.
func (t *table[K, V]) scanInsert(
	m groupMatch, lanes bitset, base uintptr, key *K, candidate *uintptr,
) (i uintptr, dup, done bool) {
	if e := m.empty & lanes; e != 0 {
		lanes &= e.through()
		done = true
	}
	for match := m.fingerprint & lanes; match != 0; {
		j := match.next()
		if t.eq(&t.slots[base+j].key, key) {
			return base + j, true, true
		}
		match = match.clear(j)
	}
	if *candidate == noSlot {
		if vacant := lanes &^ m.occupied; vacant != 0 {
			*candidate = base + vacant.next()
		}
	}
	return noSlot, false, done
}
