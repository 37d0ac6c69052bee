/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pow2

import (
	"io"
	"strconv"

	"github.com/bytedance/gopkg/lang/mcache"
)

// ClassNonEmpty reports whether class cls has a free block.
func (a *Allocator) ClassNonEmpty(cls int) bool {
	if cls < 0 || cls >= MaxClasses {
		return false
	}
	return a.freeLists[cls] != noBlock
}

// BlocksInClass returns the number of free blocks in class cls.
func (a *Allocator) BlocksInClass(cls int) int {
	if cls < 0 || cls >= MaxClasses {
		return 0
	}
	n := 0
	for b := a.freeLists[cls]; b != noBlock; b = a.next(b) {
		n++
	}
	return n
}

// FreeList returns the header offsets of the free blocks of class cls in list order.
func (a *Allocator) FreeList(cls int) []int {
	if cls < 0 || cls >= MaxClasses {
		return nil
	}
	var offsets []int
	for b := a.freeLists[cls]; b != noBlock; b = a.next(b) {
		offsets = append(offsets, b)
	}
	return offsets
}

// TotalFree returns the total size of all free blocks, headers included.
func (a *Allocator) TotalFree() int {
	total := 0
	for cls := 0; cls < MaxClasses; cls++ {
		total += a.BlocksInClass(cls) << cls
	}
	return total
}

// LargestFree returns the size of the largest free block, header included.
func (a *Allocator) LargestFree() int {
	for cls := MaxClasses - 1; cls >= 0; cls-- {
		if a.ClassNonEmpty(cls) {
			return 1 << cls
		}
	}
	return 0
}

// Dump writes the free list of every class to w.
func (a *Allocator) Dump(w io.Writer) error {
	buf := mcache.Malloc(0, 64)
	defer mcache.Free(buf)

	if _, err := w.Write(append(buf, "[power-of-two allocator dump]\n"...)); err != nil {
		return err
	}
	for cls := 0; cls < MaxClasses; cls++ {
		line := append(buf[:0], "class "...)
		line = strconv.AppendInt(line, int64(cls), 10)
		line = append(line, " (size="...)
		line = strconv.AppendInt(line, int64(1)<<cls, 10)
		line = append(line, "): "...)
		if a.freeLists[cls] == noBlock {
			line = append(line, "empty\n"...)
			if _, err := w.Write(line); err != nil {
				return err
			}
			continue
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		for b := a.freeLists[cls]; b != noBlock; b = a.next(b) {
			line = append(buf[:0], "[0x"...)
			line = strconv.AppendInt(line, int64(b), 16)
			line = append(line, "] -> "...)
			if _, err := w.Write(line); err != nil {
				return err
			}
		}
		if _, err := w.Write(append(buf[:0], "NULL\n"...)); err != nil {
			return err
		}
	}
	_, err := w.Write(append(buf[:0], "[end]\n"...))
	return err
}
