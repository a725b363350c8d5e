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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "00112233-4455-6677-8899-aabbccddeeff"

func tempDevice(t *testing.T, size int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dev")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	return path
}

func TestFormat64MiBDevice(t *testing.T) {
	dev := tempDevice(t, 64<<20)

	devUUID := uuid.MustParse(testUUID)

	var clock timeutil.SimulatedClock
	clock.SetTime(time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC))

	table, err := Format(dev, devUUID, &Options{Clock: &clock})
	require.NoError(t, err)

	fi, err := os.Stat(dev)
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), fi.Size())

	// Decode the raw superblock page.
	raw, err := os.ReadFile(dev)
	require.NoError(t, err)

	part1 := raw[:HalfSize]
	part2 := raw[HalfSize:PageSize]
	assert.True(t, bytes.Equal(part1, part2), "superblock mirrors differ")

	got := UnmarshalDevTable(part1)
	assert.Equal(t, "", pretty.Compare(table, got))

	assert.EqualValues(t, Magic, got.Magic)
	assert.EqualValues(t, Version, got.Version)
	assert.EqualValues(t, 16384, got.T1Blocks)
	assert.EqualValues(t, 0, got.Flags)
	assert.Equal(t, devUUID, got.DevList.DevIDs[0].UUID)
	assert.EqualValues(t, 16384, got.DevList.DevIDs[0].Blocks)
	assert.EqualValues(t, 1, got.DevList.T1Count)
	assert.EqualValues(t, 0, got.DevList.IDIndex)
	assert.EqualValues(t, clock.Now().UnixNano(), got.Wtime)

	// The file system UUID is freshly generated, not the device UUID.
	assert.NotEqual(t, devUUID, got.UUID)

	// Checksums hold for both halves.
	assert.Equal(t, got.Sum, ChecksumHalf(part1))
	require.NoError(t, ValidateHalf(part1))
	require.NoError(t, ValidateHalf(part2))
	require.NoError(t, ValidateSuperblockPage(raw[:PageSize]))

	// The root inode sits at page 1.
	root := UnmarshalRootInode(raw[PageSize : 2*PageSize])
	assert.EqualValues(t, 1, root.Ino)
	assert.EqualValues(t, 1, root.ParentIno)
	assert.EqualValues(t, 0, root.Size)
	assert.EqualValues(t, 2, root.DirOffMax)
	assert.EqualValues(t, 2, root.Nlink)
	assert.EqualValues(t, RootMode, root.Mode)
}

func TestReadSuperblock(t *testing.T) {
	dev := tempDevice(t, 16<<20)

	_, err := Format(dev, uuid.MustParse(testUUID), nil)
	require.NoError(t, err)

	table, err := ReadSuperblock(dev)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, table.T1Blocks)
}

func TestReadSuperblockRejectsCorruption(t *testing.T) {
	dev := tempDevice(t, 16<<20)

	_, err := Format(dev, uuid.MustParse(testUUID), nil)
	require.NoError(t, err)

	// Flip one byte inside part2's static region.
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	buf := []byte{0xFF}
	_, err = f.WriteAt(buf, HalfSize+offT1Blocks)
	require.NoError(t, err)

	_, err = ReadSuperblock(dev)
	assert.Error(t, err)
}

func TestFormatRejectsSmallDevices(t *testing.T) {
	dev := tempDevice(t, MinDeviceSize-PageSize)

	_, err := Format(dev, uuid.MustParse(testUUID), nil)
	assert.Error(t, err)
}

func TestFormatRejectsMissingDevices(t *testing.T) {
	_, err := Format(
		filepath.Join(t.TempDir(), "nope"),
		uuid.MustParse(testUUID),
		nil)
	assert.Error(t, err)
}

func TestFormatPreallocatesRegularFiles(t *testing.T) {
	dev := tempDevice(t, 0)

	table, err := Format(
		dev,
		uuid.MustParse(testUUID),
		&Options{Size: 8 << 20})
	require.NoError(t, err)

	fi, err := os.Stat(dev)
	require.NoError(t, err)
	assert.EqualValues(t, 8<<20, fi.Size())
	assert.EqualValues(t, 2048, table.T1Blocks)
}

func TestFormatRefusesToClobber(t *testing.T) {
	dev := tempDevice(t, 16<<20)

	_, err := Format(dev, uuid.MustParse(testUUID), nil)
	require.NoError(t, err)

	_, err = Format(dev, uuid.MustParse(testUUID), nil)
	assert.Error(t, err)

	_, err = Format(dev, uuid.MustParse(testUUID), &Options{Force: true})
	assert.NoError(t, err)
}

func TestDevTableRoundTrip(t *testing.T) {
	in := &DevTable{
		UUID:     uuid.MustParse(testUUID),
		Version:  Version,
		Magic:    Magic,
		Flags:    7,
		T1Blocks: 99,
		Wtime:    123456789,
		Sum:      0xBEEF,
	}
	in.DevList.IDIndex = 1
	in.DevList.T1Count = 2
	in.DevList.DevIDs[1] = DevID{UUID: uuid.MustParse(testUUID), Blocks: 42}

	buf := make([]byte, HalfSize)
	in.Marshal(buf)

	out := UnmarshalDevTable(buf)
	if diff := pretty.Compare(in, out); diff != "" {
		t.Fatalf("round trip diff: %s", diff)
	}
}
