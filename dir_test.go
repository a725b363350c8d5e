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

package toyfs_test

import (
	"os"
	"strings"
	"testing"

	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/toyfs"
	"github.com/jacobsa/toyfs/toyfsutil"
)

func TestDir(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type DirTest struct {
	fsTest
}

func init() { RegisterTestSuite(&DirTest{}) }

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *DirTest) EmptyDirectory() {
	root := t.Super.Root()

	entries := readDirAll(root)
	AssertEq(2, len(entries))

	ExpectEq(".", entries[0].Name)
	ExpectEq(uint64(toyfs.RootInodeID), entries[0].Ino)
	ExpectEq("..", entries[1].Name)
	ExpectEq(uint64(toyfs.RootInodeID), entries[1].Ino)
}

func (t *DirTest) CreateAndList() {
	root := t.Super.Root()

	a := t.create(root, "a", 0755|os.ModeDir)
	b := t.create(root, "b", 0755|os.ModeDir)

	entries := readDirAll(root)
	AssertEq(4, len(entries))

	ExpectEq(".", entries[0].Name)
	ExpectEq("..", entries[1].Name)
	ExpectEq("a", entries[2].Name)
	ExpectEq(uint64(a.Ino()), entries[2].Ino)
	ExpectEq(toyfsutil.DT_Directory, entries[2].Type)
	ExpectEq("b", entries[3].Name)
	ExpectEq(uint64(b.Ino()), entries[3].Ino)
}

func (t *DirTest) LookupFindsExactNamesOnly() {
	root := t.Super.Root()

	child := t.create(root, "taco", 0644)

	ino, err := root.Lookup("taco")
	AssertEq(nil, err)
	ExpectEq(child.Ino(), ino)

	_, err = root.Lookup("tac")
	ExpectEq(toyfs.ENOENT, err)

	_, err = root.Lookup("tacos")
	ExpectEq(toyfs.ENOENT, err)

	_, err = root.Lookup("TACO")
	ExpectEq(toyfs.ENOENT, err)
}

func (t *DirTest) OffsetsAreUniqueAndMonotone() {
	root := t.Super.Root()

	t.create(root, "a", 0644)
	t.create(root, "b", 0644)
	t.create(root, "c", 0644)

	entries := readDirAll(root)
	AssertEq(5, len(entries))

	prev := entries[1].Off
	for _, e := range entries[2:] {
		ExpectLt(prev, e.Off)
		ExpectEq(uint64(0), e.Off%toyfs.PageSize)
		prev = e.Off
	}
}

func (t *DirTest) SizeGrowsWithEachLink() {
	root := t.Super.Root()

	before := root.Attributes().Size

	t.create(root, "a", 0644)
	mid := root.Attributes().Size
	ExpectLt(before, mid)

	t.create(root, "b", 0644)
	ExpectLt(mid, root.Attributes().Size)
}

func (t *DirTest) LinkCounts() {
	root := t.Super.Root()

	// Root starts with "." and "..".
	ExpectEq(2, root.Attributes().Nlink)

	d := t.create(root, "d", 0755|os.ModeDir)
	ExpectEq(2, d.Attributes().Nlink)
	ExpectEq(3, root.Attributes().Nlink)

	f := t.create(root, "f", 0644)
	ExpectEq(1, f.Attributes().Nlink)
	ExpectEq(3, root.Attributes().Nlink)
}

func (t *DirTest) RemoveUnknownName() {
	root := t.Super.Root()

	err := root.RemoveDentry("nope")
	ExpectEq(toyfs.ENOENT, err)
}

func (t *DirTest) RemoveFile() {
	root := t.Super.Root()

	f := t.create(root, "f", 0644)
	AssertEq(nil, root.RemoveDentry("f"))

	ExpectEq(0, f.Attributes().Nlink)

	_, err := root.Lookup("f")
	ExpectEq(toyfs.ENOENT, err)
	ExpectEq(2, len(readDirAll(root)))
}

func (t *DirTest) RemoveNonEmptyDirectory() {
	root := t.Super.Root()

	d := t.create(root, "d", 0755|os.ModeDir)
	t.create(d, "child", 0644)

	err := root.RemoveDentry("d")
	ExpectEq(toyfs.ENOTEMPTY, err)

	// Emptying the directory unblocks the removal, and the unlinked empty
	// directory can never be linked again.
	AssertEq(nil, d.RemoveDentry("child"))
	AssertEq(nil, root.RemoveDentry("d"))
	ExpectEq(0, d.Attributes().Nlink)
	ExpectEq(2, root.Attributes().Nlink)
}

func (t *DirTest) ReaddirResumesAfterFullBuffer() {
	root := t.Super.Root()

	a := t.create(root, "a", 0644)
	b := t.create(root, "b", 0644)

	// Room for exactly one packed entry at a time.
	var all []toyfsutil.Dirent
	var cursor uint64
	var rounds int
	for {
		buf := toyfsutil.NewDirentBuffer(make([]byte, 40))
		next, more, err := root.ReadDir(cursor, buf.Emit)
		AssertEq(nil, err)
		AssertEq(1, buf.Count())

		all = append(all, toyfsutil.Dirent{}) // placeholder, counted below
		cursor = next
		rounds++

		if !more {
			break
		}
		AssertLt(rounds, 10)
	}

	// ".", "..", "a", "b" in four rounds.
	ExpectEq(4, rounds)
	ExpectEq(4, len(all))

	// Resuming from a stored cursor skips what came before it.
	entries := readDirAll(root)
	AssertEq(4, len(entries))

	var fromA []toyfsutil.Dirent
	_, more, err := root.ReadDir(
		entries[2].Off,
		func(d toyfsutil.Dirent) bool {
			fromA = append(fromA, d)
			return true
		})
	AssertEq(nil, err)
	ExpectFalse(more)
	AssertEq(2, len(fromA))
	ExpectEq(uint64(a.Ino()), fromA[0].Ino)
	ExpectEq(uint64(b.Ino()), fromA[1].Ino)
}

func (t *DirTest) NameLimits() {
	root := t.Super.Root()

	f, err := t.Super.NewInode(root, 0644, 0, 0, 0, "")
	AssertEq(nil, err)

	ExpectEq(toyfs.EINVAL, root.AddDentry(f, ""))
	ExpectEq(
		toyfs.ENAMETOOLONG,
		root.AddDentry(f, strings.Repeat("x", toyfs.NameMax+1)))

	ExpectEq(nil, root.AddDentry(f, strings.Repeat("x", toyfs.NameMax)))
}

func (t *DirTest) RenameWithinDirectory() {
	root := t.Super.Root()

	f := t.create(root, "old", 0644)
	AssertEq(nil, root.Rename(root, "old", "new"))

	_, err := root.Lookup("old")
	ExpectEq(toyfs.ENOENT, err)

	ino, err := root.Lookup("new")
	AssertEq(nil, err)
	ExpectEq(f.Ino(), ino)
	ExpectEq(1, f.Attributes().Nlink)
}

func (t *DirTest) RenameAcrossDirectories() {
	root := t.Super.Root()

	d1 := t.create(root, "d1", 0755|os.ModeDir)
	d2 := t.create(root, "d2", 0755|os.ModeDir)
	sub := t.create(d1, "sub", 0755|os.ModeDir)

	AssertEq(3, d1.Attributes().Nlink)

	AssertEq(nil, d1.Rename(d2, "sub", "sub"))

	_, err := d1.Lookup("sub")
	ExpectEq(toyfs.ENOENT, err)

	ino, err := d2.Lookup("sub")
	AssertEq(nil, err)
	ExpectEq(sub.Ino(), ino)

	// ".." accounting moved with the child.
	ExpectEq(2, d1.Attributes().Nlink)
	ExpectEq(3, d2.Attributes().Nlink)
	ExpectEq(d2.Ino(), sub.Attributes().ParentIno)
}

func (t *DirTest) RenameReplacesExistingTarget() {
	root := t.Super.Root()

	f := t.create(root, "f", 0644)
	g := t.create(root, "g", 0644)

	AssertEq(nil, root.Rename(root, "f", "g"))

	ino, err := root.Lookup("g")
	AssertEq(nil, err)
	ExpectEq(f.Ino(), ino)
	ExpectEq(0, g.Attributes().Nlink)
	ExpectEq(3, len(readDirAll(root)))
}

func (t *DirTest) RenameOntoNonEmptyDirectory() {
	root := t.Super.Root()

	t.create(root, "f", 0755|os.ModeDir)
	d := t.create(root, "d", 0755|os.ModeDir)
	t.create(d, "child", 0644)

	ExpectEq(toyfs.ENOTEMPTY, root.Rename(root, "f", "d"))
}

func (t *DirTest) RenameRejectsBadNames() {
	root := t.Super.Root()

	t.create(root, "f", 0644)

	ExpectEq(toyfs.EINVAL, root.Rename(root, "f", ""))
	ExpectEq(toyfs.ENOENT, root.Rename(root, "missing", "g"))
	ExpectEq(
		toyfs.ENAMETOOLONG,
		root.Rename(root, "f", strings.Repeat("x", toyfs.NameMax+1)))
}

func (t *DirTest) RenameOntoItselfIsANoOp() {
	root := t.Super.Root()

	f := t.create(root, "f", 0644)
	AssertEq(nil, root.Rename(root, "f", "f"))

	ino, err := root.Lookup("f")
	AssertEq(nil, err)
	ExpectEq(f.Ino(), ino)
	ExpectEq(1, f.Attributes().Nlink)
}
