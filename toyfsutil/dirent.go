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

// Package toyfsutil contains the readdir wire format shared by the engine
// and the shim.
package toyfsutil

import (
	"unsafe"
)

// A DirentType is the type byte carried by a directory entry, matching the
// kernel's DT_* values.
type DirentType uint32

const (
	DT_Unknown   DirentType = 0
	DT_FIFO      DirentType = 1
	DT_Char      DirentType = 2
	DT_Directory DirentType = 4
	DT_Block     DirentType = 6
	DT_File      DirentType = 8
	DT_Link      DirentType = 10
	DT_Socket    DirentType = 12
)

// A Dirent is one entry emitted by readdir.
type Dirent struct {
	// The inode of the entry's target.
	Ino uint64

	// The entry's own directory offset; the cursor that resumes at this
	// entry.
	Off uint64

	Type DirentType
	Name string
}

// A DirentEmitter consumes entries emitted by readdir. It returns false to
// reject an entry, which stops the iteration; the rejected entry is
// re-emitted on the next call with the returned cursor.
type DirentEmitter func(Dirent) bool

// WriteDirent packs the supplied entry into buf in the wire format the
// shim copies back through the ioctl map, returning the number of bytes
// written. It returns zero if the entry would not fit.
func WriteDirent(buf []byte, d Dirent) (n int) {
	// The layout of the fixed header, in host order, aligned to 8 bytes per
	// entry.
	type direntHeader struct {
		ino     uint64
		off     uint64
		namelen uint32
		type_   uint32
	}

	const direntAlignment = 8
	const direntSize = 8 + 8 + 4 + 4

	var padLen int
	if len(d.Name)%direntAlignment != 0 {
		padLen = direntAlignment - (len(d.Name) % direntAlignment)
	}

	totalLen := direntSize + len(d.Name) + padLen
	if totalLen > len(buf) {
		return n
	}

	de := direntHeader{
		ino:     d.Ino,
		off:     d.Off,
		namelen: uint32(len(d.Name)),
		type_:   uint32(d.Type),
	}

	n += copy(buf[n:], (*[direntSize]byte)(unsafe.Pointer(&de))[:])
	n += copy(buf[n:], d.Name)

	if padLen != 0 {
		var padding [direntAlignment]byte
		n += copy(buf[n:], padding[:padLen])
	}

	return n
}

// A DirentBuffer accumulates packed entries up to a fixed capacity. Its
// Emit method is a DirentEmitter.
type DirentBuffer struct {
	buf []byte
	n   int

	// The number of entries accepted.
	count int
}

// NewDirentBuffer creates a buffer emitter over the given backing slice.
func NewDirentBuffer(buf []byte) *DirentBuffer {
	return &DirentBuffer{buf: buf}
}

// Emit packs one entry, rejecting it when the remaining space is too
// small.
func (b *DirentBuffer) Emit(d Dirent) bool {
	n := WriteDirent(b.buf[b.n:], d)
	if n == 0 {
		return false
	}

	b.n += n
	b.count++
	return true
}

// Bytes returns the packed entries accepted so far.
func (b *DirentBuffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Count returns the number of entries accepted so far.
func (b *DirentBuffer) Count() int {
	return b.count
}
