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

	"github.com/jacobsa/toyfs/toyfsutil"
)

// A directory entry record, owned by its directory's child list. Entries
// come from the pool's dirent slab.
type dirent struct {
	ino   InodeID
	off   uint64 // readdir cursor position; unique and monotone per directory
	dtype toyfsutil.DirentType
	name  string
}

func direntType(mode os.FileMode) toyfsutil.DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return toyfsutil.DT_Directory
	case mode&os.ModeSymlink != 0:
		return toyfsutil.DT_Link
	case mode&os.ModeNamedPipe != 0:
		return toyfsutil.DT_FIFO
	case mode&os.ModeSocket != 0:
		return toyfsutil.DT_Socket
	case mode&os.ModeCharDevice != 0:
		return toyfsutil.DT_Char
	case mode&os.ModeDevice != 0:
		return toyfsutil.DT_Block
	default:
		return toyfsutil.DT_File
	}
}

func (ii *InodeInfo) mustBeDir(op string) {
	if !ii.in.isDir() {
		panic(fmt.Sprintf("%s called on non-directory %d", op, ii.in.ino))
	}
}

// AddDentry links child into the directory under the given name. The new
// entry is appended to the tail of the child list with a directory offset
// strictly greater than every earlier one.
func (ii *InodeInfo) AddDentry(child *InodeInfo, name string) error {
	ii.mustBeDir("AddDentry")

	if len(name) == 0 {
		return EINVAL
	}

	if len(name) > NameMax {
		return ENAMETOOLONG
	}

	de, err := ii.sb.pool.AllocDirent()
	if err != nil {
		return err
	}

	dir := ii.in
	dir.dir.offMax++
	de.ino = child.in.ino
	de.off = dir.dir.offMax * PageSize
	de.dtype = direntType(child.in.mode)
	de.name = name

	dir.dir.children = append(dir.dir.children, de)

	// The observable directory size grows with each link.
	dir.size = de.off + PageSize + 2

	now := ii.sb.clock.Now()
	child.in.nlink++
	child.in.ctime = now
	if child.in.isDir() {
		// The child's ".." entry.
		dir.nlink++
		child.in.parent = dir.ino
	}

	dir.mtime = now
	dir.ctime = now

	return nil
}

// RemoveDentry unlinks the named child. Removing a non-empty directory
// fails with ENOTEMPTY.
func (ii *InodeInfo) RemoveDentry(name string) error {
	ii.mustBeDir("RemoveDentry")

	i := ii.findChild(name)
	if i < 0 {
		return ENOENT
	}

	child := ii.sb.itable.Find(ii.in.dir.children[i].ino)
	if child == nil {
		panic(fmt.Sprintf(
			"RemoveDentry: no live inode %d for %q",
			ii.in.dir.children[i].ino,
			name))
	}

	if child.in.isDir() && len(child.in.dir.children) != 0 {
		return ENOTEMPTY
	}

	ii.detachChild(i, child)
	return nil
}

// Detach the child at index i and update link counts and times.
func (ii *InodeInfo) detachChild(i int, child *InodeInfo) {
	dir := ii.in
	de := dir.dir.children[i]
	dir.dir.children = append(dir.dir.children[:i], dir.dir.children[i+1:]...)
	ii.sb.pool.FreeDirent(de)

	now := ii.sb.clock.Now()
	child.in.nlink--
	child.in.ctime = now
	if child.in.isDir() {
		dir.nlink--

		// An unlinked empty directory can never gain another link; force the
		// count to zero so the shim frees it.
		if child.in.nlink == 1 && len(child.in.dir.children) == 0 {
			child.in.nlink = 0
		}
	}

	dir.mtime = now
	dir.ctime = now
}

// Lookup returns the inode number linked under the given name. Name
// comparison is byte-exact.
func (ii *InodeInfo) Lookup(name string) (InodeID, error) {
	ii.mustBeDir("Lookup")

	i := ii.findChild(name)
	if i < 0 {
		return 0, ENOENT
	}

	return ii.in.dir.children[i].ino, nil
}

func (ii *InodeInfo) findChild(name string) int {
	for i, de := range ii.in.dir.children {
		if de.name == name {
			return i
		}
	}

	return -1
}

// ReadDir emits directory entries starting at the supplied cursor. Cursor
// zero names ".", cursor one names "..", and larger cursors resume within
// the child list. The emitter may reject an entry when its buffer is full;
// iteration then stops and hasMore is true. The returned cursor resumes
// after the last emitted entry.
func (ii *InodeInfo) ReadDir(
	cursor uint64,
	emit toyfsutil.DirentEmitter) (next uint64, hasMore bool, err error) {
	ii.mustBeDir("ReadDir")

	if cursor == 0 {
		ok := emit(toyfsutil.Dirent{
			Ino:  uint64(ii.in.ino),
			Off:  0,
			Type: toyfsutil.DT_Directory,
			Name: ".",
		})
		if !ok {
			return 0, true, nil
		}

		cursor = 1
	}

	if cursor == 1 {
		ok := emit(toyfsutil.Dirent{
			Ino:  uint64(ii.in.parent),
			Off:  1,
			Type: toyfsutil.DT_Directory,
			Name: "..",
		})
		if !ok {
			return 1, true, nil
		}

		cursor = 2
	}

	for _, de := range ii.in.dir.children {
		if de.off < cursor {
			continue
		}

		ok := emit(toyfsutil.Dirent{
			Ino:  uint64(de.ino),
			Off:  de.off,
			Type: de.dtype,
			Name: de.name,
		})
		if !ok {
			return cursor, true, nil
		}

		cursor = de.off + 1
	}

	return cursor, false, nil
}

// Rename moves the entry oldName in this directory to newName in newParent
// (which may be the same directory), replacing an existing target if there
// is one. Replacing a non-empty directory fails with ENOTEMPTY.
func (ii *InodeInfo) Rename(
	newParent *InodeInfo,
	oldName string,
	newName string) error {
	ii.mustBeDir("Rename")
	newParent.mustBeDir("Rename")

	if len(newName) == 0 {
		return EINVAL
	}

	if len(newName) > NameMax {
		return ENAMETOOLONG
	}

	oldIdx := ii.findChild(oldName)
	if oldIdx < 0 {
		return ENOENT
	}

	de := ii.in.dir.children[oldIdx]
	child := ii.sb.itable.Find(de.ino)
	if child == nil {
		panic(fmt.Sprintf("Rename: no live inode %d for %q", de.ino, oldName))
	}

	// Renaming an entry onto itself is a no-op.
	if tgtIdx := newParent.findChild(newName); tgtIdx >= 0 {
		tgt := newParent.in.dir.children[tgtIdx]
		if tgt == de {
			return nil
		}

		tgtInfo := ii.sb.itable.Find(tgt.ino)
		if tgtInfo == nil {
			panic(fmt.Sprintf("Rename: no live inode %d for %q", tgt.ino, newName))
		}

		if tgtInfo.in.isDir() && len(tgtInfo.in.dir.children) != 0 {
			return ENOTEMPTY
		}

		newParent.detachChild(tgtIdx, tgtInfo)

		// detachChild may have shifted oldIdx when both names live in the
		// same directory.
		if newParent == ii {
			oldIdx = ii.findChild(oldName)
		}
	}

	// Detach from the old directory, keeping the dirent record.
	ii.in.dir.children = append(
		ii.in.dir.children[:oldIdx],
		ii.in.dir.children[oldIdx+1:]...)

	// Attach under the new name with a fresh offset at the tail.
	newDir := newParent.in
	newDir.dir.offMax++
	de.off = newDir.dir.offMax * PageSize
	de.name = newName
	newDir.dir.children = append(newDir.dir.children, de)
	newDir.size = de.off + PageSize + 2

	now := ii.sb.clock.Now()
	if child.in.isDir() && newParent != ii {
		ii.in.nlink--
		newDir.nlink++
		child.in.parent = newDir.ino
	}

	child.in.ctime = now
	ii.in.mtime = now
	ii.in.ctime = now
	newDir.mtime = now
	newDir.ctime = now

	return nil
}
