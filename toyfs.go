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

// Package toyfs implements the data and metadata engine of a user-space
// reference file system servicing VFS callbacks delegated by a kernel shim.
//
// The primary elements of interest are:
//
//  *  Super, the in-memory superblock. All operations hang off of it or off
//     of the InodeInfo handles it returns.
//
//  *  MountConfig and NewSuper, which bring a file system up on a pmem
//     device or an anonymous arena.
//
//  *  The format package, which writes the on-media image consumed by
//     pmem-backed mounts.
//
// The engine stores directories, regular files, symlinks and special nodes
// on a flat array of fixed-size pages. Regular file data is reference
// counted, so whole files and page-aligned ranges can be cloned
// copy-on-write.
//
// Callers must serialize operations that target the same inode; everything
// else is safe for concurrent use. In the intended deployment the kernel
// shim provides that serialization.
package toyfs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// The process-wide registered file system descriptor. The daemon registers
// exactly once during start and unregisters at stop.
var registeredFS *FSDescriptor

// An FSDescriptor identifies a registered file system type to the shim.
type FSDescriptor struct {
	// Name is the file system type name announced to the kernel.
	Name string

	// AcceptsPmem indicates whether mounts may attach pmem devices.
	AcceptsPmem bool
}

// RegisterFS installs the process-wide file system descriptor. Registering
// twice is a programming error.
func RegisterFS(desc *FSDescriptor) {
	if registeredFS != nil {
		panic(fmt.Sprintf("RegisterFS: %q already registered", registeredFS.Name))
	}

	registeredFS = desc
	logrus.WithField("name", desc.Name).Info("toyfs: registered")
}

// UnregisterFS removes the descriptor installed by RegisterFS.
func UnregisterFS() {
	if registeredFS == nil {
		panic("UnregisterFS: nothing registered")
	}

	logrus.WithField("name", registeredFS.Name).Info("toyfs: unregistered")
	registeredFS = nil
}

// RegisteredFS returns the descriptor installed by RegisterFS, or nil.
func RegisteredFS() *FSDescriptor {
	return registeredFS
}
