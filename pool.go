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
	"github.com/jacobsa/toyfs/pagepool"
)

// Record footprints charged against the arena when a slab page is carved.
// Carving one page yields PageSize/footprint records of the type.
const (
	inodeRecordSize  = 256
	direntRecordSize = 288
	blkrefRecordSize = 32

	inodesPerCarve  = PageSize / inodeRecordSize
	direntsPerCarve = PageSize / direntRecordSize
	blkrefsPerCarve = PageSize / blkrefRecordSize
)

// A pool sub-allocates typed records from the raw page arena. Each record
// type has its own LIFO free-list; when a list runs dry the pool pops one
// raw page from the arena and carves it into fresh records in the same
// critical section, so two lists can never race each other for the last
// page. Carving is irreversible: a page consumed by a slab is charged to
// the arena until unmount.
//
// All dblkref reference counts are mutated under the pool mutex, and only
// there.
type pool struct {
	mu syncutil.InvariantMutex

	arena *pagepool.Arena // GUARDED_BY(mu)

	freeInodes   []*inode   // GUARDED_BY(mu)
	freeDirents  []*dirent  // GUARDED_BY(mu)
	freeDblkrefs []*dblkref // GUARDED_BY(mu)
	freeIblkrefs []*iblkref // GUARDED_BY(mu)

	// Accounting.
	//
	// INVARIANT: pagesUsed == arena.NumPages() - arena.NumFree()
	// INVARIANT: carvedPages <= pagesUsed
	pagesUsed   uint64 // GUARDED_BY(mu)
	carvedPages uint64 // GUARDED_BY(mu)
	inodesUsed  uint64 // GUARDED_BY(mu)
}

// A consistent snapshot of the pool's accounting, for statvfs.
type poolStats struct {
	totalPages uint64
	freePages  uint64
	inodesUsed uint64
}

func newPool(arena *pagepool.Arena) *pool {
	p := &pool{
		arena: arena,
	}

	p.mu = syncutil.NewInvariantMutex(p.checkInvariants)
	return p
}

func (p *pool) checkInvariants() {
	used := p.arena.NumPages() - p.arena.NumFree()
	if p.pagesUsed != used {
		panic(fmt.Sprintf(
			"Page accounting mismatch: %d vs. %d",
			p.pagesUsed,
			used))
	}

	if p.carvedPages > p.pagesUsed {
		panic(fmt.Sprintf(
			"More carved pages than used pages: %d vs. %d",
			p.carvedPages,
			p.pagesUsed))
	}
}

func (p *pool) Stats() poolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return poolStats{
		totalPages: p.arena.NumPages(),
		freePages:  p.arena.NumFree(),
		inodesUsed: p.inodesUsed,
	}
}

////////////////////////////////////////////////////////////////////////
// Raw pages
////////////////////////////////////////////////////////////////////////

// AllocPage pops a raw page for file data or a long symlink target. The
// page is not zeroed.
func (p *pool) AllocPage() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.allocPageLocked()
}

// FreePage returns a raw data page. Pages that were carved into slabs must
// never come back through here.
func (p *pool) FreePage(bn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.freePageLocked(bn)
}

// LOCKS_REQUIRED(p.mu)
func (p *pool) allocPageLocked() (uint64, error) {
	bn, err := p.arena.AllocPage()
	if err != nil {
		return 0, ENOSPC
	}

	p.pagesUsed++
	return bn, nil
}

// LOCKS_REQUIRED(p.mu)
func (p *pool) freePageLocked(bn uint64) {
	p.arena.FreePage(bn)
	p.pagesUsed--
}

// Page returns the backing memory of a page. The arena itself is
// unsynchronized, but page lookups are pure address arithmetic and the
// mapping never moves, so no lock is needed.
func (p *pool) Page(bn uint64) []byte {
	return p.arena.Page(bn)
}

////////////////////////////////////////////////////////////////////////
// Inode records
////////////////////////////////////////////////////////////////////////

func (p *pool) AllocInode() (*inode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeInodes) == 0 {
		if _, err := p.carveLocked(); err != nil {
			return nil, err
		}

		for i := 0; i < inodesPerCarve; i++ {
			p.freeInodes = append(p.freeInodes, new(inode))
		}
	}

	in := p.freeInodes[len(p.freeInodes)-1]
	p.freeInodes = p.freeInodes[:len(p.freeInodes)-1]
	p.inodesUsed++

	return in, nil
}

func (p *pool) FreeInode(in *inode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	*in = inode{}
	p.freeInodes = append(p.freeInodes, in)
	p.inodesUsed--
}

////////////////////////////////////////////////////////////////////////
// Dirent records
////////////////////////////////////////////////////////////////////////

func (p *pool) AllocDirent() (*dirent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeDirents) == 0 {
		if _, err := p.carveLocked(); err != nil {
			return nil, err
		}

		for i := 0; i < direntsPerCarve; i++ {
			p.freeDirents = append(p.freeDirents, new(dirent))
		}
	}

	de := p.freeDirents[len(p.freeDirents)-1]
	p.freeDirents = p.freeDirents[:len(p.freeDirents)-1]

	return de, nil
}

func (p *pool) FreeDirent(de *dirent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	*de = dirent{}
	p.freeDirents = append(p.freeDirents, de)
}

////////////////////////////////////////////////////////////////////////
// Block references
////////////////////////////////////////////////////////////////////////

// AllocDblkref acquires a data-block reference owning the given page, with
// a reference count of one.
func (p *pool) AllocDblkref(bn uint64) (*dblkref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeDblkrefs) == 0 {
		if _, err := p.carveLocked(); err != nil {
			return nil, err
		}

		for i := 0; i < blkrefsPerCarve; i++ {
			p.freeDblkrefs = append(p.freeDblkrefs, new(dblkref))
		}
	}

	d := p.freeDblkrefs[len(p.freeDblkrefs)-1]
	p.freeDblkrefs = p.freeDblkrefs[:len(p.freeDblkrefs)-1]

	d.bn = bn
	d.refcount = 1

	return d, nil
}

func (p *pool) AllocIblkref() (*iblkref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeIblkrefs) == 0 {
		if _, err := p.carveLocked(); err != nil {
			return nil, err
		}

		for i := 0; i < blkrefsPerCarve; i++ {
			p.freeIblkrefs = append(p.freeIblkrefs, new(iblkref))
		}
	}

	ib := p.freeIblkrefs[len(p.freeIblkrefs)-1]
	p.freeIblkrefs = p.freeIblkrefs[:len(p.freeIblkrefs)-1]

	return ib, nil
}

func (p *pool) FreeIblkref(ib *iblkref) {
	p.mu.Lock()
	defer p.mu.Unlock()

	*ib = iblkref{}
	p.freeIblkrefs = append(p.freeIblkrefs, ib)
}

// RefBlock takes another reference on a shared data block.
func (p *pool) RefBlock(d *dblkref) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d.refcount == 0 {
		panic("RefBlock: zero refcount")
	}

	d.refcount++
}

// UnrefBlock drops one reference. When the count hits zero the backing
// page goes back to the raw free-list and the record is recycled.
func (p *pool) UnrefBlock(d *dblkref) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d.refcount == 0 {
		panic("UnrefBlock: zero refcount")
	}

	d.refcount--
	if d.refcount > 0 {
		return
	}

	p.freePageLocked(d.bn)

	*d = dblkref{}
	p.freeDblkrefs = append(p.freeDblkrefs, d)
}

// Shared reports whether the block is referenced by more than one iblkref.
func (p *pool) Shared(d *dblkref) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return d.refcount > 1
}

////////////////////////////////////////////////////////////////////////
// Carving
////////////////////////////////////////////////////////////////////////

// Consume one raw page for a typed slab.
//
// LOCKS_REQUIRED(p.mu)
func (p *pool) carveLocked() (uint64, error) {
	bn, err := p.allocPageLocked()
	if err != nil {
		return 0, err
	}

	p.carvedPages++
	return bn, nil
}
