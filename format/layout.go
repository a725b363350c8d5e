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

// Package format defines the on-media layout and writes file system
// images.
//
// Page 0 holds the superblock: two byte-identical mirrored halves, each a
// device table protected by a CRC-16 over its static region. Page 1 holds
// the root inode. Everything else is the page arena.
package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/jacobsa/toyfs/pagepool"
	"golang.org/x/sys/unix"
)

const (
	// Magic is the value of s_magic: "ZUFS", little endian.
	Magic = 0x5346555A

	MajorVersion   = 1
	MinorVersion   = 0
	MinorsPerMajor = 1024

	// Version is the packed on-media version number.
	Version = MajorVersion*MinorsPerMajor + MinorVersion

	// PageSize mirrors the arena's page size.
	PageSize = pagepool.PageSize

	// HalfSize is the size of one superblock mirror.
	HalfSize = PageSize / 2

	// MaxDevIDs bounds the device list. Only one tier-1 device is supported
	// today.
	MaxDevIDs = 4

	// MinDeviceSize is the smallest device a file system fits on.
	MinDeviceSize = 1 << 20
)

// Byte offsets of the device-table fields within one superblock half. All
// integers are little endian.
const (
	offUUID     = 0   // 16 bytes
	offVersion  = 16  // uint64
	offMagic    = 24  // uint64
	offFlags    = 32  // uint64
	offT1Blocks = 40  // uint64
	offIDIndex  = 48  // uint16
	offT1Count  = 50  // uint16
	offDevIDs   = 56  // MaxDevIDs * 24 bytes: uuid + uint64
	offWtime    = 152 // uint64, nanoseconds since epoch
	offSum      = 160 // uint16

	devIDSize = 24

	// The checksum covers [staticStart, staticEnd).
	staticStart = offVersion
	staticEnd   = offSum
)

// Mode bits of the on-media root inode.
const RootMode = unix.S_IFDIR | 0755

// A DevID identifies one backing device in the device list.
type DevID struct {
	UUID   uuid.UUID
	Blocks uint64
}

// A DevList enumerates the devices of a multi-device file system. The
// format writer always emits a single tier-1 device.
type DevList struct {
	IDIndex uint16
	T1Count uint16
	DevIDs  [MaxDevIDs]DevID
}

// A DevTable is the decoded form of one superblock half.
type DevTable struct {
	// UUID identifies this particular file system instance; it is freshly
	// generated at format time.
	UUID uuid.UUID

	Version  uint64
	Magic    uint64
	Flags    uint64
	T1Blocks uint64
	DevList  DevList

	// Wtime is the format time in nanoseconds since the epoch.
	Wtime uint64

	// Sum is the CRC-16 over the static region.
	Sum uint16
}

// Marshal encodes the table into one superblock half. The buffer must be
// at least HalfSize bytes; the remainder is zeroed.
func (t *DevTable) Marshal(buf []byte) {
	for i := 0; i < HalfSize; i++ {
		buf[i] = 0
	}

	copy(buf[offUUID:], t.UUID[:])
	binary.LittleEndian.PutUint64(buf[offVersion:], t.Version)
	binary.LittleEndian.PutUint64(buf[offMagic:], t.Magic)
	binary.LittleEndian.PutUint64(buf[offFlags:], t.Flags)
	binary.LittleEndian.PutUint64(buf[offT1Blocks:], t.T1Blocks)
	binary.LittleEndian.PutUint16(buf[offIDIndex:], t.DevList.IDIndex)
	binary.LittleEndian.PutUint16(buf[offT1Count:], t.DevList.T1Count)
	for i, id := range t.DevList.DevIDs {
		off := offDevIDs + i*devIDSize
		copy(buf[off:], id.UUID[:])
		binary.LittleEndian.PutUint64(buf[off+16:], id.Blocks)
	}
	binary.LittleEndian.PutUint64(buf[offWtime:], t.Wtime)
	binary.LittleEndian.PutUint16(buf[offSum:], t.Sum)
}

// UnmarshalDevTable decodes one superblock half.
func UnmarshalDevTable(buf []byte) *DevTable {
	t := &DevTable{}

	copy(t.UUID[:], buf[offUUID:])
	t.Version = binary.LittleEndian.Uint64(buf[offVersion:])
	t.Magic = binary.LittleEndian.Uint64(buf[offMagic:])
	t.Flags = binary.LittleEndian.Uint64(buf[offFlags:])
	t.T1Blocks = binary.LittleEndian.Uint64(buf[offT1Blocks:])
	t.DevList.IDIndex = binary.LittleEndian.Uint16(buf[offIDIndex:])
	t.DevList.T1Count = binary.LittleEndian.Uint16(buf[offT1Count:])
	for i := range t.DevList.DevIDs {
		off := offDevIDs + i*devIDSize
		copy(t.DevList.DevIDs[i].UUID[:], buf[off:off+16])
		t.DevList.DevIDs[i].Blocks = binary.LittleEndian.Uint64(buf[off+16:])
	}
	t.Wtime = binary.LittleEndian.Uint64(buf[offWtime:])
	t.Sum = binary.LittleEndian.Uint16(buf[offSum:])

	return t
}

// ChecksumHalf computes the CRC-16 of a marshaled half's static region.
func ChecksumHalf(half []byte) uint16 {
	return Sum16(half[staticStart:staticEnd])
}

// ValidateHalf checks one superblock half's magic and checksum.
func ValidateHalf(half []byte) error {
	t := UnmarshalDevTable(half)

	if t.Magic != Magic {
		return fmt.Errorf("bad magic: %#x", t.Magic)
	}

	if sum := ChecksumHalf(half); sum != t.Sum {
		return fmt.Errorf("bad checksum: %#x vs. %#x", sum, t.Sum)
	}

	return nil
}

// ValidateSuperblockPage checks both mirrored halves of page 0 and their
// byte identity.
func ValidateSuperblockPage(page []byte) error {
	if err := ValidateHalf(page[:HalfSize]); err != nil {
		return fmt.Errorf("part1: %w", err)
	}

	if err := ValidateHalf(page[HalfSize:PageSize]); err != nil {
		return fmt.Errorf("part2: %w", err)
	}

	if !bytes.Equal(page[:HalfSize], page[HalfSize:PageSize]) {
		return fmt.Errorf("superblock mirrors differ")
	}

	return nil
}

// Byte offsets of the on-media root inode within page 1.
const (
	offRootIno     = 0  // uint64
	offRootParent  = 8  // uint64
	offRootSize    = 16 // uint64
	offRootDOffMax = 24 // uint64
	offRootNlink   = 32 // uint16
	offRootMode    = 34 // uint16
)

// A RootInode is the decoded on-media root inode record.
type RootInode struct {
	Ino       uint64
	ParentIno uint64
	Size      uint64
	DirOffMax uint64
	Nlink     uint16
	Mode      uint16
}

// NewRootInode returns the record the format utility writes at page 1.
func NewRootInode() *RootInode {
	return &RootInode{
		Ino:       1,
		ParentIno: 1,
		Size:      0,
		DirOffMax: 2,
		Nlink:     2,
		Mode:      RootMode,
	}
}

// Marshal encodes the root inode into page 1. The buffer must be at least
// PageSize bytes; the remainder is zeroed.
func (r *RootInode) Marshal(buf []byte) {
	for i := 0; i < PageSize; i++ {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint64(buf[offRootIno:], r.Ino)
	binary.LittleEndian.PutUint64(buf[offRootParent:], r.ParentIno)
	binary.LittleEndian.PutUint64(buf[offRootSize:], r.Size)
	binary.LittleEndian.PutUint64(buf[offRootDOffMax:], r.DirOffMax)
	binary.LittleEndian.PutUint16(buf[offRootNlink:], r.Nlink)
	binary.LittleEndian.PutUint16(buf[offRootMode:], r.Mode)
}

// UnmarshalRootInode decodes page 1.
func UnmarshalRootInode(buf []byte) *RootInode {
	return &RootInode{
		Ino:       binary.LittleEndian.Uint64(buf[offRootIno:]),
		ParentIno: binary.LittleEndian.Uint64(buf[offRootParent:]),
		Size:      binary.LittleEndian.Uint64(buf[offRootSize:]),
		DirOffMax: binary.LittleEndian.Uint64(buf[offRootDOffMax:]),
		Nlink:     binary.LittleEndian.Uint16(buf[offRootNlink:]),
		Mode:      binary.LittleEndian.Uint16(buf[offRootMode:]),
	}
}
