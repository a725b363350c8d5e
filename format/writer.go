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

package format

import (
	"fmt"
	"io"
	"os"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
)

// Options tunes Format.
type Options struct {
	// Size, when non-zero and larger than a regular-file device's current
	// size, preallocates the device to Size bytes before formatting.
	Size int64

	// Force formats a device that already contains a file system.
	Force bool

	// Clock supplies s_wtime. Nil means the real-time clock.
	Clock timeutil.Clock
}

// Format writes a fresh file system image to the named device: the
// mirrored superblock at page 0 and the root inode at page 1, flushed to
// storage before returning. The device must be a regular file or a block
// device of at least MinDeviceSize bytes. devUUID becomes the tier-1
// device's identity; the file system's own UUID is freshly generated.
//
// The decoded device table is returned for inspection.
func Format(path string, devUUID uuid.UUID, o *Options) (*DevTable, error) {
	if o == nil {
		o = &Options{}
	}

	clock := o.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	regular := fi.Mode().IsRegular()
	block := fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0
	if !regular && !block {
		return nil, fmt.Errorf("%s: not a regular file or block device", path)
	}

	if regular && o.Size > fi.Size() {
		if err := fallocate.Fallocate(f, 0, o.Size); err != nil {
			return nil, fmt.Errorf("fallocate %s: %w", path, err)
		}
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("size %s: %w", path, err)
	}

	if size < MinDeviceSize {
		return nil, fmt.Errorf(
			"%s: device too small: %d bytes, need at least %d",
			path,
			size,
			int64(MinDeviceSize))
	}

	if !o.Force {
		if err := refuseExisting(f); err != nil {
			return nil, err
		}
	}

	t := &DevTable{
		UUID:     uuid.New(),
		Version:  Version,
		Magic:    Magic,
		Flags:    0,
		T1Blocks: uint64(size) / PageSize,
		Wtime:    uint64(clock.Now().UnixNano()),
	}
	t.DevList.IDIndex = 0
	t.DevList.T1Count = 1
	t.DevList.DevIDs[0] = DevID{
		UUID:   devUUID,
		Blocks: t.T1Blocks,
	}

	page := make([]byte, PageSize)
	t.Marshal(page[:HalfSize])
	t.Sum = ChecksumHalf(page[:HalfSize])
	t.Marshal(page[:HalfSize])

	// The second half is a byte-for-byte mirror of the first.
	copy(page[HalfSize:], page[:HalfSize])

	rootPage := make([]byte, PageSize)
	NewRootInode().Marshal(rootPage)

	if _, err := f.WriteAt(page, 0); err != nil {
		return nil, fmt.Errorf("write superblock: %w", err)
	}

	if _, err := f.WriteAt(rootPage, PageSize); err != nil {
		return nil, fmt.Errorf("write root inode: %w", err)
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("fsync %s: %w", path, err)
	}

	return t, nil
}

// Refuse to clobber a device that already validates as a file system.
func refuseExisting(f *os.File) error {
	half := make([]byte, HalfSize)
	if _, err := f.ReadAt(half, 0); err != nil {
		// Short devices were rejected above; treat unreadable contents as
		// unformatted.
		return nil
	}

	if UnmarshalDevTable(half).Magic == Magic {
		return fmt.Errorf("device already contains a file system (use force)")
	}

	return nil
}

// ReadSuperblock reads and validates the superblock page of a formatted
// device, returning the decoded first half.
func ReadSuperblock(path string) (*DevTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	page := make([]byte, PageSize)
	if _, err := f.ReadAt(page, 0); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}

	if err := ValidateSuperblockPage(page); err != nil {
		return nil, err
	}

	return UnmarshalDevTable(page[:HalfSize]), nil
}
