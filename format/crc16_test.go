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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum16KnownVectors(t *testing.T) {
	// The standard check value for poly 0xA001, init 0xFFFF, no final xor.
	assert.Equal(t, uint16(0x4B37), Sum16([]byte("123456789")))

	assert.Equal(t, uint16(0xFFFF), Sum16(nil))
	assert.Equal(t, uint16(0xFFFF), Sum16([]byte{}))
	assert.Equal(t, uint16(0x40BF), Sum16([]byte{0x00}))
	assert.Equal(t, uint16(0x807E), Sum16([]byte{0x01}))
}

func TestSum16IsOrderSensitive(t *testing.T) {
	assert.NotEqual(t, Sum16([]byte{1, 2}), Sum16([]byte{2, 1}))
}

func TestSum16DetectsSingleBitFlips(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	want := Sum16(data)
	for i := 0; i < len(data); i += 37 {
		data[i] ^= 0x10
		assert.NotEqual(t, want, Sum16(data), "flip at %d undetected", i)
		data[i] ^= 0x10
	}
}
