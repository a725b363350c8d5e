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
	"sync/atomic"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/jacobsa/toyfs/format"
	"github.com/jacobsa/toyfs/pagepool"
	"github.com/sirupsen/logrus"
)

// MountConfig carries everything NewSuper needs to bring a file system up.
type MountConfig struct {
	// PmemPath names the pmem device backing the arena. When empty, the
	// arena is an anonymous mapping of ArenaSize bytes.
	PmemPath string

	// ArenaSize is the anonymous arena size in bytes. Zero means
	// pagepool.DefaultAnonymousSize. Ignored when PmemPath is set.
	ArenaSize uint64

	// InodeTableBuckets overrides the inode table's initial bucket count.
	// Zero means DefaultInodeTableBuckets.
	InodeTableBuckets int

	// Uid and Gid own the root directory.
	Uid uint32
	Gid uint32

	// ACLEnabled records whether POSIX ACLs are advertised to the VFS. The
	// engine stores the flag; it does not enforce ACLs.
	ACLEnabled bool

	// Clock provides inode timestamps. Nil means the real-time clock.
	Clock timeutil.Clock
}

// A Super is the in-memory superblock: the page arena, the typed pool, the
// inode table, and the root directory. It is the entry point for every
// operation the shim delegates.
type Super struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	clock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	config MountConfig
	arena  *pagepool.Arena
	pool   *pool
	itable *inodeTable

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Guards the root pointer. The statvfs counters live behind the pool
	// mutex; StatFS takes mu first and snapshots the pool, so the two lock
	// domains never invert.
	mu syncutil.InvariantMutex

	// INVARIANT: root != nil
	// INVARIANT: root.in.isDir()
	root *InodeInfo // GUARDED_BY(mu)

	// The next inode number to hand out. Monotone; inode numbers are never
	// reused within a mount. Accessed atomically.
	topIno uint64

	// The next inode generation. Accessed atomically.
	generation uint64
}

// A StatVFS is the statvfs-like accounting snapshot returned to the shim.
type StatVFS struct {
	BlockSize    uint32
	FragmentSize uint32
	Blocks       uint64
	BlocksFree   uint64
	BlocksAvail  uint64
	Files        uint64
	FilesFree    uint64
	FilesAvail   uint64
	NameMax      uint32
}

// NewSuper constructs the arena, pool and inode table, creates the root
// inode, and returns the superblock ready for callbacks.
func NewSuper(config *MountConfig) (*Super, error) {
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	var arena *pagepool.Arena
	var err error
	if config.PmemPath != "" {
		// A pmem device must carry a valid image before we trust its pages.
		if _, err := format.ReadSuperblock(config.PmemPath); err != nil {
			return nil, fmt.Errorf("superblock: %w", err)
		}

		arena, err = pagepool.NewPmem(config.PmemPath)
	} else {
		size := config.ArenaSize
		if size == 0 {
			size = pagepool.DefaultAnonymousSize
		}
		arena, err = pagepool.NewAnonymous(size)
	}
	if err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}

	sb := &Super{
		clock:  clock,
		config: *config,
		arena:  arena,
		pool:   newPool(arena),
		itable: newInodeTable(config.InodeTableBuckets),
		topIno: uint64(RootInodeID) + 1,
	}

	if err := sb.makeRoot(); err != nil {
		arena.Destroy()
		return nil, err
	}

	sb.mu = syncutil.NewInvariantMutex(sb.checkInvariants)

	logrus.WithFields(logrus.Fields{
		"pmem":  config.PmemPath,
		"pages": arena.NumPages(),
	}).Info("toyfs: mounted")

	return sb, nil
}

// Bootstrap the root directory: inode 1, mode 0755, two links, its own
// parent.
func (sb *Super) makeRoot() error {
	in, err := sb.pool.AllocInode()
	if err != nil {
		return err
	}

	now := sb.clock.Now()
	in.ino = RootInodeID
	in.mode = 0755 | os.ModeDir
	in.nlink = 2
	in.uid = sb.config.Uid
	in.gid = sb.config.Gid
	in.gen = sb.nextGeneration()
	in.parent = RootInodeID
	in.atime = now
	in.mtime = now
	in.ctime = now
	in.dir.offMax = 2

	ii := sb.AllocInodeInfo()
	ii.in = in
	sb.itable.Insert(ii)

	// Single-threaded bring-up; the super mutex doesn't exist yet.
	sb.root = ii

	return nil
}

func (sb *Super) checkInvariants() {
	if sb.root == nil {
		panic("Nil root")
	}

	if !sb.root.in.isDir() {
		panic("Expected root to be a directory.")
	}
}

// Root returns the root directory's handle.
func (sb *Super) Root() *InodeInfo {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return sb.root
}

// StatFS fills the statvfs accounting snapshot.
func (sb *Super) StatFS() StatVFS {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	stats := sb.pool.Stats()

	files := stats.totalPages * inodesPerCarve
	return StatVFS{
		BlockSize:    PageSize,
		FragmentSize: PageSize,
		Blocks:       stats.totalPages,
		BlocksFree:   stats.freePages,
		BlocksAvail:  stats.freePages,
		Files:        files,
		FilesFree:    files - stats.inodesUsed,
		FilesAvail:   files - stats.inodesUsed,
		NameMax:      NameMax,
	}
}

// Sync flushes a pmem-backed arena to media.
func (sb *Super) Sync() error {
	return sb.arena.Sync()
}

// Destroy tears the mount down and unmaps the arena. No handle returned by
// the superblock may be used afterward.
func (sb *Super) Destroy() error {
	logrus.WithField("pmem", sb.config.PmemPath).Info("toyfs: unmounted")

	return sb.arena.Destroy()
}

// nextIno returns a fresh inode number. Total order, never reused.
func (sb *Super) nextIno() InodeID {
	return InodeID(atomic.AddUint64(&sb.topIno, 1) - 1)
}

func (sb *Super) nextGeneration() uint64 {
	return atomic.AddUint64(&sb.generation, 1)
}

// Allocate a zeroed data page.
func (sb *Super) allocDataPage() (uint64, error) {
	bn, err := sb.pool.AllocPage()
	if err != nil {
		return 0, err
	}

	p := sb.pool.Page(bn)
	for i := range p {
		p[i] = 0
	}

	return bn, nil
}

func (sb *Super) freeDataPage(bn uint64) {
	sb.pool.FreePage(bn)
}
