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

// Package pagepool carves a flat memory region into fixed-size pages.
//
// The region is either a persistent-memory device mapped shared, or an
// anonymous private mapping when no device is attached. Pages are addressed
// by block number. Block numbers start at ReservedPages so that the numbering
// matches the on-media layout, where pages 0 and 1 hold the superblock
// mirrors and the root inode; block number zero therefore never names an
// arena page and is free to mean "no block".
package pagepool

import (
	"encoding/binary"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// PageSize is the fixed allocation unit, in bytes.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// ReservedPages is the number of leading device pages that never enter
	// the arena: the mirrored superblock page and the root inode page.
	ReservedPages = 2

	// DefaultAnonymousSize is the size of the anonymous mapping used when no
	// pmem device is attached.
	DefaultAnonymousSize = 1 << 30
)

// The raw free-list is a LIFO stack threaded through the first word of each
// free page. This value terminates the list; it can never collide with a
// block number.
const nilBn = ^uint64(0)

// An Arena is a contiguous region of pages with a LIFO free-list of raw
// pages. Page addresses are stable for the life of the arena.
//
// The arena performs no locking of its own. The caller must serialize all
// calls; in practice the pool mutex owns the arena.
type Arena struct {
	mem      []byte
	file     *os.File // nil for anonymous arenas
	base     uint64   // first valid block number
	dataOff  uint64   // byte offset of block `base` within mem
	numPages uint64

	freeHead uint64
	numFree  uint64
}

// NewAnonymous creates an arena backed by an anonymous private mapping of
// the given size, rounded down to a whole number of pages.
func NewAnonymous(size uint64) (*Arena, error) {
	size &^= PageSize - 1
	if size == 0 {
		return nil, fmt.Errorf("arena size %d is smaller than one page", size)
	}

	mem, err := unix.Mmap(
		-1, 0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous arena: %w", err)
	}

	a := &Arena{
		mem:      mem,
		base:     ReservedPages,
		numPages: size / PageSize,
	}

	a.buildFreeList()
	return a, nil
}

// NewPmem creates an arena backed by a shared mapping of the named device.
// The device's first two pages are reserved for the superblock mirrors and
// the root inode and are not handed out.
func NewPmem(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open pmem device: %w", err)
	}

	size, err := f.Seek(0, 2)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size pmem device: %w", err)
	}

	pages := uint64(size) / PageSize
	if pages <= ReservedPages {
		f.Close()
		return nil, fmt.Errorf("pmem device too small: %d pages", pages)
	}

	mem, err := unix.Mmap(
		int(f.Fd()), 0,
		int(pages*PageSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap pmem device: %w", err)
	}

	// The mapping covers the whole device so that block numbers line up
	// with the on-media layout; the reserved pages are simply never handed
	// out.
	a := &Arena{
		mem:      mem,
		file:     f,
		base:     ReservedPages,
		dataOff:  ReservedPages * PageSize,
		numPages: pages - ReservedPages,
	}

	a.buildFreeList()
	return a, nil
}

// Push every page onto the raw free-list, lowest block number on top.
func (a *Arena) buildFreeList() {
	a.freeHead = nilBn
	for bn := a.base + a.numPages; bn > a.base; bn-- {
		a.pushFree(bn - 1)
	}
}

func (a *Arena) pushFree(bn uint64) {
	binary.LittleEndian.PutUint64(a.Page(bn), a.freeHead)
	a.freeHead = bn
	a.numFree++
}

// AllocPage pops a raw page from the free-list. The page's contents are
// whatever its previous user left there; callers that need zeros must zero
// it themselves.
func (a *Arena) AllocPage() (uint64, error) {
	if a.freeHead == nilBn {
		return 0, syscall.ENOSPC
	}

	bn := a.freeHead
	a.freeHead = binary.LittleEndian.Uint64(a.Page(bn))
	a.numFree--

	return bn, nil
}

// FreePage pushes a page back onto the raw free-list.
func (a *Arena) FreePage(bn uint64) {
	if bn < a.base || bn >= a.base+a.numPages {
		panic(fmt.Sprintf("FreePage: block number %d out of range", bn))
	}

	a.pushFree(bn)
}

// Page returns the page with the given block number. The returned slice
// aliases the arena; it is valid for the life of the arena.
func (a *Arena) Page(bn uint64) []byte {
	if bn < a.base || bn >= a.base+a.numPages {
		panic(fmt.Sprintf("Page: block number %d out of range", bn))
	}

	off := a.dataOff + (bn-a.base)*PageSize
	return a.mem[off : off+PageSize : off+PageSize]
}

// BlockNumber translates a slice previously returned by Page back to its
// block number.
func (a *Arena) BlockNumber(p []byte) uint64 {
	off := uintptr(unsafe.Pointer(&p[0])) - uintptr(unsafe.Pointer(&a.mem[0]))
	return (uint64(off)-a.dataOff)/PageSize + a.base
}

// NumPages returns the total number of pages in the arena.
func (a *Arena) NumPages() uint64 {
	return a.numPages
}

// NumFree returns the number of pages on the raw free-list.
func (a *Arena) NumFree() uint64 {
	return a.numFree
}

// Sync flushes a pmem-backed arena to its device. It is a no-op for
// anonymous arenas.
func (a *Arena) Sync() error {
	if a.file == nil {
		return nil
	}

	if err := unix.Msync(a.mem, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}

	return nil
}

// Destroy unmaps the arena. No page may be used afterward.
func (a *Arena) Destroy() error {
	if err := unix.Munmap(a.mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	a.mem = nil

	if a.file != nil {
		if err := a.file.Close(); err != nil {
			return err
		}
		a.file = nil
	}

	return nil
}
