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

// Install a symlink target in a freshly allocated inode record. Targets up
// to MaxInlineSymlink bytes are stored inline; longer ones are copied into
// one owned page.
func (sb *Super) setSymlinkTarget(in *inode, target string) error {
	if len(target) == 0 {
		return EINVAL
	}

	if len(target) > PageSize {
		return ENAMETOOLONG
	}

	in.size = uint64(len(target))

	if len(target) <= MaxInlineSymlink {
		in.lnk.inline = target
		return nil
	}

	bn, err := sb.allocDataPage()
	if err != nil {
		return err
	}

	copy(sb.pool.Page(bn), target)
	in.lnk.page = bn
	in.lnk.pageLen = len(target)
	in.blocks++

	return nil
}

// GetSymlink returns the symlink target.
func (ii *InodeInfo) GetSymlink() (string, error) {
	in := ii.in
	if !in.isSymlink() {
		return "", EINVAL
	}

	if in.lnk.page == 0 {
		return in.lnk.inline, nil
	}

	p := ii.sb.pool.Page(in.lnk.page)
	return string(p[:in.lnk.pageLen]), nil
}
