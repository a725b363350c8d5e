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
	"github.com/jacobsa/toyfs/pagepool"
)

// An InodeID is an inode number. Inode numbers are never reused within a
// mount.
type InodeID uint64

const (
	// RootInodeID is the inode number of the root directory.
	RootInodeID InodeID = 1

	// PageSize is the fixed page size, in bytes. Identical to the arena's.
	PageSize = pagepool.PageSize

	// ISizeMax is the largest supported file size; a read, write or
	// truncate whose end lies beyond it is rejected with EFBIG.
	ISizeMax = 1 << 50

	// MaxIOSize is the largest read or write honored in one call. It matches
	// the shim's ioctl map window.
	MaxIOSize = 2 << 20

	// NameMax is the longest directory entry name, in bytes.
	NameMax = 255

	// MaxInlineSymlink is the longest symlink target stored inline in the
	// inode record. Longer targets occupy one owned page.
	MaxInlineSymlink = 40
)
