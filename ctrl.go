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

// Each slot in the table has a control byte which can have one of three
// states: empty, vacated and occupied. They have the following bit patterns:
//
//	   empty: 0 0 0 0 0 0 0 0
//	 vacated: 0 1 1 1 1 1 1 1
//	occupied: 1 h h h h h h h  // h represents the 7 high bits of the hash
//
// An empty control byte terminates every probe. A vacated control byte (a
// tombstone) is skipped by lookups but may be reused by inserts. The guard
// bytes following the last slot always hold the vacated pattern; they exist
// so that a full group load starting at any slot index stays inside the
// control slice and are never treated as part of the table.
type ctrl uint8

const (
	ctrlEmpty    ctrl = 0b00000000
	ctrlVacated  ctrl = 0b01111111
	ctrlOccupied ctrl = 0b10000000

	// fingerprintShift extracts the 7 high bits of a hash. The start slot is
	// taken from the low bits, so the two do not overlap for any capacity
	// below 2^57.
	fingerprintShift = 57
)

// encodeOccupied returns the control byte for a slot holding a key with hash
// h.
func encodeOccupied(h uint64) ctrl {
	return ctrlOccupied | ctrl(h>>fingerprintShift)
}

func (c ctrl) isOccupied() bool {
	return c&ctrlOccupied != 0
}

func (c ctrl) isVacated() bool {
	return c == ctrlVacated
}

func (c ctrl) isEmpty() bool {
	return c == ctrlEmpty
}

// fingerprint returns the hash bits stored in an occupied control byte.
func (c ctrl) fingerprint() uint8 {
	return uint8(c &^ ctrlOccupied)
}

func (c ctrl) String() string {
	switch {
	case c.isEmpty():
		return "empty"
	case c.isVacated():
		return "vacated"
	case c.isOccupied():
		return fmt.Sprintf("occupied(%02x)", c.fingerprint())
	default:
		return fmt.Sprintf("invalid(%02x)", uint8(c))
	}
}

// resetCtrls marks the first capacity control bytes as empty and the guard
// bytes that follow them as vacated.
func resetCtrls(ctrls []ctrl, capacity uintptr) {
	for i := uintptr(0); i < capacity; i++ {
		ctrls[i] = ctrlEmpty
	}
	for i := capacity; i < capacity+guardSize; i++ {
		ctrls[i] = ctrlVacated
	}
}
