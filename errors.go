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
	"syscall"
)

const (
	// Errors corresponding to kernel error numbers. These are the values the
	// shim translates back to the VFS layer; everything user-visible that can
	// fail returns one of them.
	EEXIST       = syscall.EEXIST
	EFBIG        = syscall.EFBIG
	EINVAL       = syscall.EINVAL
	EISDIR       = syscall.EISDIR
	ENAMETOOLONG = syscall.ENAMETOOLONG
	ENOENT       = syscall.ENOENT
	ENOMEM       = syscall.ENOMEM
	ENOSPC       = syscall.ENOSPC
	ENOTEMPTY    = syscall.ENOTEMPTY
	ENOTSUP      = syscall.EOPNOTSUPP
	ENXIO        = syscall.ENXIO
)
