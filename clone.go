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

// Clone shares the data pages of a byte range of src into dst,
// copy-on-write. Both inodes must be regular files. Cloning a file onto
// itself is a no-op. When srcOff, dstOff and length are all zero, the
// entire source file is cloned and dst becomes a snapshot of src.
// Otherwise all three must be page-aligned.
//
// After a clone, writes to either file unshare the affected pages and are
// never observed through the other file.
func (sb *Super) Clone(
	src *InodeInfo,
	dst *InodeInfo,
	srcOff uint64,
	dstOff uint64,
	length uint64) error {
	if err := src.mustBeRegular(); err != nil {
		return err
	}
	if err := dst.mustBeRegular(); err != nil {
		return err
	}

	if src == dst {
		return nil
	}

	if srcOff == 0 && dstOff == 0 && length == 0 {
		return sb.cloneEntire(src, dst)
	}

	if srcOff%PageSize != 0 || dstOff%PageSize != 0 || length%PageSize != 0 {
		return ENOTSUP
	}

	return sb.cloneRange(src, dst, srcOff, dstOff, length)
}

// Replace dst's contents with shared references to every source block.
func (sb *Super) cloneEntire(src, dst *InodeInfo) error {
	dst.dropBlocksFrom(0)

	for _, sib := range src.in.reg.blocks {
		dib, err := sb.pool.AllocIblkref()
		if err != nil {
			return err
		}

		dib.off = sib.off
		dib.dbr = sib.dbr
		sb.pool.RefBlock(sib.dbr)

		dst.in.reg.blocks = append(dst.in.reg.blocks, dib)
		dst.in.blocks++
	}

	dst.in.size = src.in.size

	now := sb.clock.Now()
	dst.in.mtime = now
	dst.in.ctime = now

	return nil
}

// Share the page-aligned range [srcOff, srcOff+length) of src into dst at
// dstOff. Source holes force the corresponding destination pages to read
// as zeros.
func (sb *Super) cloneRange(
	src *InodeInfo,
	dst *InodeInfo,
	srcOff uint64,
	dstOff uint64,
	length uint64) error {
	for done := uint64(0); done < length; done += PageSize {
		sboff := srcOff + done
		dboff := dstOff + done

		si, found := src.searchBlocks(sboff)
		if found {
			sib := src.in.reg.blocks[si]

			di, dfound := dst.searchBlocks(dboff)
			if dfound {
				dib := dst.in.reg.blocks[di]
				sb.pool.RefBlock(sib.dbr)
				sb.pool.UnrefBlock(dib.dbr)
				dib.dbr = sib.dbr
				continue
			}

			dib, err := sb.pool.AllocIblkref()
			if err != nil {
				return err
			}

			dib.off = dboff
			dib.dbr = sib.dbr
			sb.pool.RefBlock(sib.dbr)

			blocks := dst.in.reg.blocks
			blocks = append(blocks, nil)
			copy(blocks[di+1:], blocks[di:])
			blocks[di] = dib
			dst.in.reg.blocks = blocks
			dst.in.blocks++
			continue
		}

		// Source hole: the destination page, if any, must read as zeros.
		// Unshare it first so a clone sibling keeps its bytes.
		if err := dst.zeroBytes(dboff, dboff+PageSize); err != nil {
			return err
		}
	}

	if end := dstOff + length; end > dst.in.size {
		dst.in.size = end
	}

	now := sb.clock.Now()
	dst.in.mtime = now
	dst.in.ctime = now

	return nil
}
