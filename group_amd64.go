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

//go:build amd64 && !purego

package hashtab

import "golang.org/x/sys/cpu"

// matchAVX2 loads the 32 control bytes at ctrls and returns, as lane masks,
// the lanes equal to fp, the empty lanes and the occupied lanes.
//
//go:noescape
func matchAVX2(ctrls *ctrl, fp ctrl) (fingerprint, empty, occupied uint32)

func (vectorGroup) match(ctrls []ctrl, base uintptr, fp ctrl) groupMatch {
	_ = ctrls[base+vectorGroupSize-1]
	f, e, o := matchAVX2(&ctrls[base], fp)
	return groupMatch{
		fingerprint: bitset(f),
		empty:       bitset(e),
		occupied:    bitset(o),
	}
}

func vectorSupported() bool {
	return cpu.X86.HasAVX2
}

func detectISA() isa {
	if vectorSupported() {
		return isaVector
	}
	return isaSWAR
}
