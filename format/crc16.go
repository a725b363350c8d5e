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

// The reflected CRC-16 polynomial used by the on-media checksum.
const crc16Poly = 0xA001

var crc16Table [256]uint16

func init() {
	for i := range crc16Table {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc16Poly
			} else {
				crc >>= 1
			}
		}
		crc16Table[i] = crc
	}
}

// Sum16 computes the on-media CRC-16 of p: polynomial 0xA001 (reflected),
// initial value 0xFFFF, bytes processed low-byte first, no final XOR.
func Sum16(p []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range p {
		crc = (crc >> 8) ^ crc16Table[byte(crc)^b]
	}

	return crc
}
