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
	"time"

	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/jacobsa/toyfs"
	"github.com/jacobsa/toyfs/toyfsutil"
)

func init() { syncutil.EnableInvariantChecking() }

// Common scaffolding for suites that need a mounted file system on a small
// anonymous arena.
type fsTest struct {
	Clock  timeutil.SimulatedClock
	Config toyfs.MountConfig
	Super  *toyfs.Super
}

func (t *fsTest) SetUp(ti *TestInfo) {
	t.Clock.SetTime(time.Date(2021, 7, 1, 12, 0, 0, 0, time.UTC))

	if t.Config.ArenaSize == 0 {
		t.Config.ArenaSize = 4 << 20
	}
	t.Config.Clock = &t.Clock

	var err error
	t.Super, err = toyfs.NewSuper(&t.Config)
	AssertEq(nil, err)
}

func (t *fsTest) TearDown() {
	if t.Super != nil {
		AssertEq(nil, t.Super.Destroy())
	}
}

// Create an inode of the given mode and link it under parent.
func (t *fsTest) create(
	parent *toyfs.InodeInfo,
	name string,
	mode os.FileMode) *toyfs.InodeInfo {
	ii, err := t.Super.NewInode(parent, mode, 0, 0, 0, "")
	AssertEq(nil, err)
	AssertEq(nil, parent.AddDentry(ii, name))

	return ii
}

// Read every entry of the directory, resuming as often as needed.
func readDirAll(dir *toyfs.InodeInfo) []toyfsutil.Dirent {
	var entries []toyfsutil.Dirent

	var cursor uint64
	for {
		next, more, err := dir.ReadDir(
			cursor,
			func(d toyfsutil.Dirent) bool {
				entries = append(entries, d)
				return true
			})

		AssertEq(nil, err)
		cursor = next
		if !more {
			return entries
		}
	}
}

// Fill a buffer with the given byte.
func filled(b byte, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b
	}

	return p
}
