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

package freelist

import (
	"io"
	"strconv"

	"github.com/bytedance/gopkg/lang/mcache"
)

// Head returns the first block of the chain.
// ok is false when the allocator is unusable.
func (a *Allocator) Head() (b Block, ok bool) {
	if a.region == nil || a.head == noBlock {
		return Block{}, false
	}
	return a.block(a.head), true
}

// Next returns the address-order successor of b.
func (a *Allocator) Next(b Block) (Block, bool) {
	if a.region == nil {
		return Block{}, false
	}
	next := a.next(b.Offset)
	if next == noBlock {
		return Block{}, false
	}
	return a.block(next), true
}

// Blocks returns every block in chain order.
func (a *Allocator) Blocks() []Block {
	var blocks []Block
	for b, ok := a.Head(); ok; b, ok = a.Next(b) {
		blocks = append(blocks, b)
	}
	return blocks
}

// TotalFree returns the sum of the payload sizes of all free blocks.
func (a *Allocator) TotalFree() int {
	total := 0
	for b, ok := a.Head(); ok; b, ok = a.Next(b) {
		if b.Free {
			total += b.Size
		}
	}
	return total
}

// LargestFree returns the payload size of the largest free block.
func (a *Allocator) LargestFree() int {
	largest := 0
	for b, ok := a.Head(); ok; b, ok = a.Next(b) {
		if b.Free && b.Size > largest {
			largest = b.Size
		}
	}
	return largest
}

// Dump writes one line per block, in chain order, to w.
func (a *Allocator) Dump(w io.Writer) error {
	buf := mcache.Malloc(0, 128)
	defer mcache.Free(buf)

	line := append(buf, "[free list dump]\n"...)
	if _, err := w.Write(line); err != nil {
		return err
	}
	for b, ok := a.Head(); ok; b, ok = a.Next(b) {
		line = append(buf[:0], "  block@0x"...)
		line = strconv.AppendInt(line, int64(b.Offset), 16)
		line = append(line, " size="...)
		line = strconv.AppendInt(line, int64(b.Size), 10)
		line = append(line, " free="...)
		line = strconv.AppendBool(line, b.Free)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) block(b int) Block {
	return Block{Offset: b, Size: a.size(b), Free: a.isFree(b)}
}
