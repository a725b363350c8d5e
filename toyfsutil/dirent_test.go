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

package toyfsutil

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDirentLayout(t *testing.T) {
	buf := make([]byte, 64)

	n := WriteDirent(buf, Dirent{
		Ino:  17,
		Off:  4096,
		Type: DT_File,
		Name: "taco",
	})

	// Header, name, padding to the 8-byte boundary.
	require.Equal(t, 24+4+4, n)

	assert.EqualValues(t, 17, binary.LittleEndian.Uint64(buf[0:]))
	assert.EqualValues(t, 4096, binary.LittleEndian.Uint64(buf[8:]))
	assert.EqualValues(t, 4, binary.LittleEndian.Uint32(buf[16:]))
	assert.EqualValues(t, DT_File, binary.LittleEndian.Uint32(buf[20:]))
	assert.Equal(t, "taco", string(buf[24:28]))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf[28:32])
}

func TestWriteDirentAlignedName(t *testing.T) {
	buf := make([]byte, 64)

	n := WriteDirent(buf, Dirent{Name: "12345678"})
	assert.Equal(t, 24+8, n)
}

func TestWriteDirentTooSmall(t *testing.T) {
	buf := make([]byte, 16)

	n := WriteDirent(buf, Dirent{Name: "x"})
	assert.Equal(t, 0, n)
}

func TestDirentBuffer(t *testing.T) {
	b := NewDirentBuffer(make([]byte, 70))

	assert.True(t, b.Emit(Dirent{Ino: 1, Name: "a"}))
	assert.True(t, b.Emit(Dirent{Ino: 2, Name: "b"}))
	assert.False(t, b.Emit(Dirent{Ino: 3, Name: "c"}))

	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 64, len(b.Bytes()))
}
