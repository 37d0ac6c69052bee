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

// Package arena reserves the fixed-size memory regions the allocators in this
// module carve up, and provides bounds-checked access to the header words
// stored inside them.
package arena

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrReservation is returned when the OS declines to provide backing memory.
var ErrReservation = errors.New("arena: reservation failed")

// Ptr is an arena-relative payload offset.
// A payload always follows a block header, so no valid Ptr is zero.
type Ptr int

// Nil is the Ptr returned when an allocation fails.
const Nil Ptr = 0

// IsNil reports whether p is Nil.
func (p Ptr) IsNil() bool { return p == Nil }

// Reserver reserves a region of exactly size bytes.
// Reserve is the default; tests substitute their own.
type Reserver func(size int) (*Region, error)

// Region is one contiguous, zero-filled, fixed-size block of memory.
// It is owned by a single allocator and never resized.
type Region struct {
	data   []byte
	mapped bool
}

// Reserve requests size bytes of zero-filled read/write memory from the OS.
func Reserve(size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrReservation, "invalid size %d", size)
	}
	data, err := mmap(size)
	if err != nil {
		return nil, errors.Wrapf(ErrReservation, "map %d bytes: %v", size, err)
	}
	return &Region{data: data, mapped: mmapped}, nil
}

// FromBytes wraps caller-owned memory as a Region.
// Release on such a Region only detaches it.
func FromBytes(b []byte) *Region {
	return &Region{data: b}
}

// Len returns the capacity of the region, or 0 once released.
func (r *Region) Len() int {
	if r == nil {
		return 0
	}
	return len(r.data)
}

// Bytes returns the n bytes starting at off. It panics if the span is not
// inside the region.
func (r *Region) Bytes(off, n int) []byte {
	return r.data[off : off+n : off+n]
}

// Int64 reads the 8-byte word at off.
func (r *Region) Int64(off int) int64 {
	return int64(binary.LittleEndian.Uint64(r.data[off : off+8]))
}

// PutInt64 writes v as the 8-byte word at off.
func (r *Region) PutInt64(off int, v int64) {
	binary.LittleEndian.PutUint64(r.data[off:off+8], uint64(v))
}

// Release gives the memory back to the OS. It is safe to call more than once.
func (r *Region) Release() error {
	if r == nil || r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if !r.mapped {
		return nil
	}
	if err := munmap(data); err != nil {
		return errors.Wrap(err, "arena: unmap")
	}
	return nil
}
