// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package toyfs

import (
	"fmt"

	"github.com/jacobsa/syncutil"
)

// DefaultInodeTableBuckets is the bucket count used when MountConfig does
// not override it.
const DefaultInodeTableBuckets = 33377

// The table doubles its bucket array when the average chain length exceeds
// this.
const itableMaxLoad = 4

// An inodeTable maps inode numbers to live inode-info handles using
// separate chaining through InodeInfo.next. New entries prepend to their
// bucket.
type inodeTable struct {
	mu syncutil.InvariantMutex

	// INVARIANT: len(buckets) > 0
	// INVARIANT: count equals the number of entries reachable from buckets
	buckets []*InodeInfo // GUARDED_BY(mu)
	count   uint64       // GUARDED_BY(mu)
}

func newInodeTable(buckets int) *inodeTable {
	if buckets <= 0 {
		buckets = DefaultInodeTableBuckets
	}

	t := &inodeTable{
		buckets: make([]*InodeInfo, buckets),
	}

	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *inodeTable) checkInvariants() {
	if len(t.buckets) == 0 {
		panic("Empty bucket array")
	}

	var n uint64
	for _, head := range t.buckets {
		for ii := head; ii != nil; ii = ii.next {
			if ii.imagic != imagic {
				panic(fmt.Sprintf("Bad imagic: %#x", ii.imagic))
			}
			n++
		}
	}

	if n != t.count {
		panic(fmt.Sprintf("Count mismatch: %d vs. %d", n, t.count))
	}
}

// Find returns the live inode-info for the given inode number, or nil.
func (t *inodeTable) Find(ino InodeID) *InodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for ii := t.buckets[uint64(ino)%uint64(len(t.buckets))]; ii != nil; ii = ii.next {
		if ii.in.ino == ino {
			return ii
		}
	}

	return nil
}

// Insert adds an inode-info to the table. Inserting the same handle twice
// is a programming error.
func (t *inodeTable) Insert(ii *InodeInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := uint64(ii.in.ino) % uint64(len(t.buckets))
	for e := t.buckets[slot]; e != nil; e = e.next {
		if e == ii {
			panic(fmt.Sprintf("Insert: inode %d already present", ii.in.ino))
		}
	}

	ii.next = t.buckets[slot]
	t.buckets[slot] = ii
	t.count++

	if t.count > itableMaxLoad*uint64(len(t.buckets)) {
		t.growLocked()
	}
}

// Remove detaches an inode-info from the table. Removing a handle that is
// not a member is a programming error.
func (t *inodeTable) Remove(ii *InodeInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := uint64(ii.in.ino) % uint64(len(t.buckets))
	pp := &t.buckets[slot]
	for *pp != nil {
		if *pp == ii {
			*pp = ii.next
			ii.next = nil
			t.count--
			return
		}

		pp = &(*pp).next
	}

	panic(fmt.Sprintf("Remove: inode %d not present", ii.in.ino))
}

// Double the bucket array and rehash every chain.
//
// LOCKS_REQUIRED(t.mu)
func (t *inodeTable) growLocked() {
	old := t.buckets
	t.buckets = make([]*InodeInfo, 2*len(old))

	for _, head := range old {
		for head != nil {
			next := head.next
			slot := uint64(head.in.ino) % uint64(len(t.buckets))
			head.next = t.buckets[slot]
			t.buckets[slot] = head
			head = next
		}
	}
}
