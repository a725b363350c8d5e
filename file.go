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
	"sort"

	"golang.org/x/sys/unix"
)

// A data-block reference. Exactly one dblkref owns each data page; a
// reference count above one means the page is shared by several iblkrefs,
// possibly in different files. The count is guarded by the pool mutex.
type dblkref struct {
	bn       uint64
	refcount uint32
}

// A per-file entry mapping a page-aligned file offset to a data-block
// reference. Offsets missing from a file's block list are holes.
type iblkref struct {
	off uint64
	dbr *dblkref
}

func pageStart(off uint64) uint64 {
	return off &^ (PageSize - 1)
}

func pageRoundUp(off uint64) uint64 {
	return (off + PageSize - 1) &^ (PageSize - 1)
}

// Validate a read or write request.
func checkIO(off int64, length int) error {
	if off < 0 || length == 0 || length > MaxIOSize {
		return EINVAL
	}

	if uint64(off)+uint64(length) > ISizeMax {
		return EFBIG
	}

	return nil
}

func (ii *InodeInfo) mustBeRegular() error {
	switch {
	case ii.in.isRegular():
		return nil
	case ii.in.isDir():
		return EISDIR
	default:
		return EINVAL
	}
}

////////////////////////////////////////////////////////////////////////
// Block map
////////////////////////////////////////////////////////////////////////

// Find the block list index of the entry at the page-aligned offset boff,
// or the index where it would be inserted.
func (ii *InodeInfo) searchBlocks(boff uint64) (i int, found bool) {
	blocks := ii.in.reg.blocks
	i = sort.Search(len(blocks), func(k int) bool {
		return blocks[k].off >= boff
	})

	found = i < len(blocks) && blocks[i].off == boff
	return
}

// Replace a shared block with a private copy of its contents.
func (ii *InodeInfo) cowBlock(ib *iblkref) error {
	sb := ii.sb

	bn, err := sb.pool.AllocPage()
	if err != nil {
		return err
	}

	copy(sb.pool.Page(bn), sb.pool.Page(ib.dbr.bn))

	d, err := sb.pool.AllocDblkref(bn)
	if err != nil {
		sb.pool.FreePage(bn)
		return err
	}

	sb.pool.UnrefBlock(ib.dbr)
	ib.dbr = d

	return nil
}

// Find or create a private, writable block at the page-aligned offset
// boff: insert a fresh zeroed block into a hole, unshare a shared one, and
// use a private one in place.
func (ii *InodeInfo) requireBlock(boff uint64) (*iblkref, error) {
	sb := ii.sb
	in := ii.in

	i, found := ii.searchBlocks(boff)
	if found {
		ib := in.reg.blocks[i]
		if sb.pool.Shared(ib.dbr) {
			if err := ii.cowBlock(ib); err != nil {
				return nil, err
			}
		}

		return ib, nil
	}

	bn, err := sb.allocDataPage()
	if err != nil {
		return nil, err
	}

	d, err := sb.pool.AllocDblkref(bn)
	if err != nil {
		sb.pool.FreePage(bn)
		return nil, err
	}

	ib, err := sb.pool.AllocIblkref()
	if err != nil {
		sb.pool.UnrefBlock(d)
		return nil, err
	}

	ib.off = boff
	ib.dbr = d

	in.reg.blocks = append(in.reg.blocks, nil)
	copy(in.reg.blocks[i+1:], in.reg.blocks[i:])
	in.reg.blocks[i] = ib
	in.blocks++

	return ib, nil
}

// Drop every block whose offset is at or beyond the page-aligned offset
// from, releasing block references and, at refcount zero, pages.
func (ii *InodeInfo) dropBlocksFrom(from uint64) {
	in := ii.in

	i, _ := ii.searchBlocks(from)
	for _, ib := range in.reg.blocks[i:] {
		ii.sb.pool.UnrefBlock(ib.dbr)
		ii.sb.pool.FreeIblkref(ib)
		in.blocks--
	}

	in.reg.blocks = in.reg.blocks[:i]
}

// Drop the single block at the page-aligned offset boff, if present.
func (ii *InodeInfo) dropBlock(boff uint64) {
	in := ii.in

	i, found := ii.searchBlocks(boff)
	if !found {
		return
	}

	ii.sb.pool.UnrefBlock(in.reg.blocks[i].dbr)
	ii.sb.pool.FreeIblkref(in.reg.blocks[i])
	in.reg.blocks = append(in.reg.blocks[:i], in.reg.blocks[i+1:]...)
	in.blocks--
}

// Zero the byte range [from, to) wherever blocks exist, unsharing shared
// blocks first so that clone siblings never observe the zeros. Holes are
// left alone.
func (ii *InodeInfo) zeroBytes(from, to uint64) error {
	sb := ii.sb

	for cur := from; cur < to; {
		boff := pageStart(cur)
		end := boff + PageSize
		if end > to {
			end = to
		}

		i, found := ii.searchBlocks(boff)
		if found {
			ib := ii.in.reg.blocks[i]
			if sb.pool.Shared(ib.dbr) {
				if err := ii.cowBlock(ib); err != nil {
					return err
				}
			}

			p := sb.pool.Page(ib.dbr.bn)
			for k := cur - boff; k < end-boff; k++ {
				p[k] = 0
			}
		}

		cur = end
	}

	return nil
}

// GetBlock returns the block number backing the given page index, or zero
// when the index falls in a hole.
func (ii *InodeInfo) GetBlock(index uint64) uint64 {
	if !ii.in.isRegular() {
		return 0
	}

	i, found := ii.searchBlocks(index * PageSize)
	if !found {
		return 0
	}

	return ii.in.reg.blocks[i].dbr.bn
}

////////////////////////////////////////////////////////////////////////
// Read and write
////////////////////////////////////////////////////////////////////////

// ReadAt copies file contents at the given offset into p, stopping at the
// end of file. Holes read as zeros. It returns the number of bytes read.
func (ii *InodeInfo) ReadAt(p []byte, off int64) (int, error) {
	if err := ii.mustBeRegular(); err != nil {
		return 0, err
	}

	if err := checkIO(off, len(p)); err != nil {
		return 0, err
	}

	in := ii.in
	if uint64(off) >= in.size {
		return 0, nil
	}

	if rem := in.size - uint64(off); uint64(len(p)) > rem {
		p = p[:rem]
	}

	var n int
	cur := uint64(off)
	for n < len(p) {
		boff := pageStart(cur)
		chunk := int(boff + PageSize - cur)
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		if i, found := ii.searchBlocks(boff); found {
			page := ii.sb.pool.Page(in.reg.blocks[i].dbr.bn)
			copy(p[n:n+chunk], page[cur-boff:])
		} else {
			for k := n; k < n+chunk; k++ {
				p[k] = 0
			}
		}

		n += chunk
		cur += uint64(chunk)
	}

	return n, nil
}

// WriteAt copies p into the file at the given offset, allocating pages for
// holes and unsharing shared pages as it goes. If the arena runs dry
// mid-write the already-written prefix is retained, the size reflects it,
// and ENOSPC is returned alongside the short count.
func (ii *InodeInfo) WriteAt(p []byte, off int64) (int, error) {
	if err := ii.mustBeRegular(); err != nil {
		return 0, err
	}

	if err := checkIO(off, len(p)); err != nil {
		return 0, err
	}

	in := ii.in

	var n int
	var werr error
	cur := uint64(off)
	for n < len(p) {
		boff := pageStart(cur)
		chunk := int(boff + PageSize - cur)
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		ib, err := ii.requireBlock(boff)
		if err != nil {
			werr = err
			break
		}

		page := ii.sb.pool.Page(ib.dbr.bn)
		copy(page[cur-boff:], p[n:n+chunk])

		n += chunk
		cur += uint64(chunk)
	}

	if end := uint64(off) + uint64(n); n > 0 && end > in.size {
		in.size = end
	}

	if n > 0 {
		now := ii.sb.clock.Now()
		in.mtime = now
		in.ctime = now
	}

	return n, werr
}

////////////////////////////////////////////////////////////////////////
// Truncate, fallocate, seek
////////////////////////////////////////////////////////////////////////

// Truncate sets the file size. Shrinking drops whole pages past the new
// end and zeros the tail of the boundary page, so that a later grow reads
// zeros. Growing only moves the size; the gap is a hole.
func (ii *InodeInfo) Truncate(size uint64) error {
	if err := ii.mustBeRegular(); err != nil {
		return err
	}

	if size > ISizeMax {
		return EFBIG
	}

	in := ii.in

	if size < in.size {
		ii.dropBlocksFrom(pageRoundUp(size))

		if size%PageSize != 0 {
			if err := ii.zeroBytes(size, pageRoundUp(size)); err != nil {
				return err
			}
		}
	}

	in.size = size

	now := ii.sb.clock.Now()
	in.mtime = now
	in.ctime = now

	return nil
}

// Fallocate implements preallocation, hole punching and range zeroing.
// Flags other than FALLOC_FL_KEEP_SIZE, FALLOC_FL_PUNCH_HOLE and
// FALLOC_FL_ZERO_RANGE are rejected with ENOTSUP.
func (ii *InodeInfo) Fallocate(off int64, length int64, flags uint32) error {
	if err := ii.mustBeRegular(); err != nil {
		return err
	}

	if off < 0 || length <= 0 {
		return EINVAL
	}

	if uint64(off)+uint64(length) > ISizeMax {
		return EFBIG
	}

	const known = unix.FALLOC_FL_KEEP_SIZE |
		unix.FALLOC_FL_PUNCH_HOLE |
		unix.FALLOC_FL_ZERO_RANGE

	if flags&^uint32(known) != 0 {
		return ENOTSUP
	}

	from := uint64(off)
	to := from + uint64(length)

	var err error
	switch {
	case flags&unix.FALLOC_FL_PUNCH_HOLE != 0:
		if flags&unix.FALLOC_FL_KEEP_SIZE == 0 {
			return EINVAL
		}
		err = ii.punchHole(from, to)

	case flags&unix.FALLOC_FL_ZERO_RANGE != 0:
		err = ii.zeroBytes(from, to)

	default:
		err = ii.preallocate(from, to)
		if err == nil && flags&unix.FALLOC_FL_KEEP_SIZE == 0 && to > ii.in.size {
			ii.in.size = to
		}
	}

	if err != nil {
		return err
	}

	ii.in.ctime = ii.sb.clock.Now()
	return nil
}

// Punch the byte range [from, to): drop fully covered pages, zero partial
// intersections. The size is unchanged.
func (ii *InodeInfo) punchHole(from, to uint64) error {
	// Partial head page.
	if from%PageSize != 0 {
		end := pageStart(from) + PageSize
		if end > to {
			end = to
		}

		if err := ii.zeroBytes(from, end); err != nil {
			return err
		}

		from = end
		if from >= to {
			return nil
		}
	}

	// Whole pages.
	for boff := from; boff+PageSize <= to; boff += PageSize {
		ii.dropBlock(boff)
	}

	// Partial tail page.
	if tail := pageStart(to); tail >= from && to%PageSize != 0 {
		if err := ii.zeroBytes(tail, to); err != nil {
			return err
		}
	}

	return nil
}

// Ensure every page covering [from, to) has a private block.
func (ii *InodeInfo) preallocate(from, to uint64) error {
	for boff := pageStart(from); boff < to; boff += PageSize {
		if _, err := ii.requireBlock(boff); err != nil {
			return err
		}
	}

	return nil
}

// Seek locates data and holes. Whence must be unix.SEEK_DATA or
// unix.SEEK_HOLE; offsets at or past the end of file return ENXIO.
func (ii *InodeInfo) Seek(off int64, whence int) (int64, error) {
	if err := ii.mustBeRegular(); err != nil {
		return 0, err
	}

	if off < 0 {
		return 0, EINVAL
	}

	in := ii.in
	if uint64(off) >= in.size {
		return 0, ENXIO
	}

	switch whence {
	case unix.SEEK_DATA:
		for boff := pageStart(uint64(off)); boff < in.size; boff += PageSize {
			if _, found := ii.searchBlocks(boff); found {
				if boff <= uint64(off) {
					return off, nil
				}
				return int64(boff), nil
			}
		}
		return 0, ENXIO

	case unix.SEEK_HOLE:
		for boff := pageStart(uint64(off)); boff < in.size; boff += PageSize {
			if _, found := ii.searchBlocks(boff); !found {
				if boff <= uint64(off) {
					return off, nil
				}
				return int64(boff), nil
			}
		}
		return int64(in.size), nil
	}

	return 0, EINVAL
}

// Sync flushes the backing arena for pmem mounts.
func (ii *InodeInfo) Sync() error {
	return ii.sb.Sync()
}
