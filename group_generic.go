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

//go:build !amd64 || purego

package hashtab

func (vectorGroup) match(ctrls []ctrl, base uintptr, fp ctrl) groupMatch {
	var m groupMatch
	for i := uintptr(0); i < vectorGroupSize; i += swarGroupSize {
		w := swarGroup{}.match(ctrls, base+i, fp)
		m.fingerprint |= w.fingerprint << i
		m.empty |= w.empty << i
		m.occupied |= w.occupied << i
	}
	return m
}

// vectorSupported reports whether vectorGroup can be used. The emulated
// version always can, though it is never selected by detectISA.
func vectorSupported() bool {
	return true
}

func detectISA() isa {
	return isaSWAR
}
