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
	"os"
	"time"
)

// Sentinel carried by every live InodeInfo, checked by the inode table's
// invariant function.
const imagic = 0x70f5a61c

// An inode record. Records come from the pool's inode slab and return to it
// via FreeInode.
//
// The payload is discriminated by the file type bits of mode: exactly one
// of dir, reg and lnk is populated, and for FIFOs, sockets and device nodes
// all three are empty.
//
// Operations that mutate a single inode (block-map edits, dirent-list
// edits, size updates) are serialized by the shim; the record itself is
// unlocked.
type inode struct {
	ino    InodeID
	mode   os.FileMode
	nlink  uint32
	uid    uint32
	gid    uint32
	rdev   uint32
	size   uint64
	blocks uint64 // pages owned, including shared data pages
	gen    uint64
	parent InodeID

	atime time.Time
	mtime time.Time
	ctime time.Time

	// INVARIANT: If !isDir(), dir is the zero value
	dir dirPayload

	// INVARIANT: If !isRegular(), reg is the zero value
	reg regPayload

	// INVARIANT: If !isSymlink(), lnk is the zero value
	lnk linkPayload
}

// Directory payload: the ordered child list and the monotone directory
// offset counter. Offsets 0 and 1 belong to "." and ".." and are never
// materialized as dirents, so the counter starts at 2.
type dirPayload struct {
	children []*dirent
	offMax   uint64
}

// Regular-file payload.
//
// INVARIANT: blocks is strictly increasing by off, each off page-aligned
type regPayload struct {
	blocks      []*iblkref
	firstParent InodeID
}

// Symlink payload. Short targets live inline; long ones occupy one owned
// page.
type linkPayload struct {
	inline  string
	page    uint64 // 0 = no page
	pageLen int
}

func (in *inode) isDir() bool {
	return in.mode&os.ModeDir != 0
}

func (in *inode) isSymlink() bool {
	return in.mode&os.ModeSymlink != 0
}

func (in *inode) isRegular() bool {
	return in.mode&os.ModeType == 0
}

////////////////////////////////////////////////////////////////////////
// Inode-info handles
////////////////////////////////////////////////////////////////////////

// An InodeInfo binds a live inode record to its superblock. It is the
// handle the shim holds between iget and free, and the receiver for all
// per-inode operations.
type InodeInfo struct {
	imagic uint32
	next   *InodeInfo // inode-table chain

	sb *Super
	in *inode
}

// InodeAttributes is the header snapshot returned to the shim for getattr.
type InodeAttributes struct {
	Size       uint64
	Blocks     uint64
	Nlink      uint32
	Mode       os.FileMode
	Uid        uint32
	Gid        uint32
	Rdev       uint32
	Generation uint64
	ParentIno  InodeID
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
}

// AllocInodeInfo creates an empty inode-info handle bound to this
// superblock, with no inode record attached yet.
func (sb *Super) AllocInodeInfo() *InodeInfo {
	return &InodeInfo{
		imagic: imagic,
		sb:     sb,
	}
}

// FreeInodeInfo invalidates a handle previously returned by
// AllocInodeInfo. The attached inode record, if any, must already have been
// released.
func (sb *Super) FreeInodeInfo(ii *InodeInfo) {
	if ii.in != nil {
		panic(fmt.Sprintf("FreeInodeInfo: inode %d still attached", ii.in.ino))
	}

	ii.imagic = 0
	ii.sb = nil
}

// IGet returns the live handle for the given inode number.
func (sb *Super) IGet(ino InodeID) (*InodeInfo, error) {
	ii := sb.itable.Find(ino)
	if ii == nil {
		return nil, ENOENT
	}

	return ii, nil
}

// Ino returns the inode number.
func (ii *InodeInfo) Ino() InodeID {
	return ii.in.ino
}

// Attributes returns a snapshot of the inode header.
func (ii *InodeInfo) Attributes() InodeAttributes {
	in := ii.in
	return InodeAttributes{
		Size:       in.size,
		Blocks:     in.blocks,
		Nlink:      in.nlink,
		Mode:       in.mode,
		Uid:        in.uid,
		Gid:        in.gid,
		Rdev:       in.rdev,
		Generation: in.gen,
		ParentIno:  in.parent,
		Atime:      in.atime,
		Mtime:      in.mtime,
		Ctime:      in.ctime,
	}
}

////////////////////////////////////////////////////////////////////////
// Creation and teardown
////////////////////////////////////////////////////////////////////////

// NewInode allocates and fills a fresh inode of the type encoded in mode,
// inserts it into the inode table, and returns its handle. Symlinks take
// their target from target; device nodes take their device number from
// rdev. The new inode's link count is zero (one for directories, counting
// "."); AddDentry establishes the first link.
func (sb *Super) NewInode(
	parent *InodeInfo,
	mode os.FileMode,
	uid uint32,
	gid uint32,
	rdev uint32,
	target string) (*InodeInfo, error) {
	switch {
	case mode&os.ModeDir != 0,
		mode&os.ModeSymlink != 0,
		mode&os.ModeNamedPipe != 0,
		mode&os.ModeSocket != 0,
		mode&os.ModeDevice != 0,
		mode&os.ModeType == 0:
	default:
		return nil, ENOTSUP
	}

	in, err := sb.pool.AllocInode()
	if err != nil {
		return nil, err
	}

	now := sb.clock.Now()
	in.ino = sb.nextIno()
	in.mode = mode
	in.uid = uid
	in.gid = gid
	in.rdev = rdev
	in.gen = sb.nextGeneration()
	in.parent = parent.in.ino
	in.atime = now
	in.mtime = now
	in.ctime = now

	switch {
	case in.isDir():
		in.nlink = 1 // "."
		in.dir.offMax = 2

	case in.isSymlink():
		if err := sb.setSymlinkTarget(in, target); err != nil {
			sb.pool.FreeInode(in)
			return nil, err
		}

	case in.isRegular():
		in.reg.firstParent = parent.in.ino
	}

	ii := sb.AllocInodeInfo()
	ii.in = in
	sb.itable.Insert(ii)

	return ii, nil
}

// FreeInode drops an inode's payload, removes it from the inode table, and
// returns its record and data pages to the pool. Freeing a directory that
// still has children is a programming error.
func (sb *Super) FreeInode(ii *InodeInfo) {
	in := ii.in

	switch {
	case in.isDir():
		if len(in.dir.children) != 0 {
			panic(fmt.Sprintf(
				"FreeInode: directory %d has %d children",
				in.ino,
				len(in.dir.children)))
		}

	case in.isRegular():
		ii.dropBlocksFrom(0)

	case in.isSymlink():
		if in.lnk.page != 0 {
			sb.freeDataPage(in.lnk.page)
			in.blocks--
		}
	}

	sb.itable.Remove(ii)
	sb.pool.FreeInode(in)

	ii.in = nil
	sb.FreeInodeInfo(ii)
}

////////////////////////////////////////////////////////////////////////
// Setattr
////////////////////////////////////////////////////////////////////////

// SetAttr applies the non-nil parameters to the inode header. A size
// change delegates to Truncate and is only valid for regular files.
func (ii *InodeInfo) SetAttr(
	size *uint64,
	mode *os.FileMode,
	nlink *uint32,
	uid *uint32,
	gid *uint32,
	atime *time.Time,
	mtime *time.Time) error {
	in := ii.in

	if size != nil {
		if err := ii.Truncate(*size); err != nil {
			return err
		}
	}

	if mode != nil {
		// Permission bits only; the file type is immutable.
		in.mode = (in.mode &^ os.ModePerm) | (*mode & os.ModePerm)
	}

	if nlink != nil {
		in.nlink = *nlink
	}

	if uid != nil {
		in.uid = *uid
	}

	if gid != nil {
		in.gid = *gid
	}

	if atime != nil {
		in.atime = *atime
	}

	if mtime != nil {
		in.mtime = *mtime
	}

	in.ctime = ii.sb.clock.Now()
	return nil
}
