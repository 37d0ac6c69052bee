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

// Package pow2 implements a power-of-two segregated allocator over one arena.
//
// Free blocks are kept in per-class singly-linked lists, class k holding
// blocks of exactly 2^k bytes including their 16-byte header. A request is
// served from its own class or by halving the smallest larger free block.
// Freed blocks go back to their class list and are not merged with their
// buddy; Coalesce does that on demand.
//
// IMPORTANT: This package is NOT goroutine-safe.
// An Allocator must be owned by a single goroutine, or guarded by the caller.
package pow2

import (
	"log/slog"
	"slices"

	"github.com/pkg/errors"

	"github.com/cloudwego/arenalloc/arena"
	"github.com/cloudwego/arenalloc/internal/sizeclass"
)

const (
	// HeaderSize is the size of the header in front of every payload.
	HeaderSize = 16

	// MaxClasses is the number of size classes, class k holding 2^k byte blocks.
	MaxClasses = 32

	// DefaultArenaSize is the default arena capacity (8MB = 2^23).
	DefaultArenaSize = 8 << 20

	// header layout: [size][next], 8 bytes each
	offSize = 0
	offNext = 8

	noBlock = -1
)

var (
	// ErrInitialized is returned by Init on an allocator that already owns an arena.
	ErrInitialized = errors.New("pow2: already initialized")

	// ErrArenaSize is returned by Init when the arena size is not a usable power of two.
	ErrArenaSize = errors.New("pow2: arena size must be a power of two")
)

// Option configures an Allocator.
type Option struct {
	// ArenaSize is the capacity of the arena in bytes, a power of two.
	ArenaSize int

	// Reserve provides the arena. Defaults to arena.Reserve.
	Reserve arena.Reserver

	// Logger receives arena lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		ArenaSize: DefaultArenaSize,
		Reserve:   arena.Reserve,
		Logger:    slog.Default(),
	}
}

// Allocator is a power-of-two segregated allocator.
// The zero value is unusable; call New then Init.
type Allocator struct {
	o      Option
	region *arena.Region

	// freeLists holds the header offset of the first free block of each class.
	freeLists [MaxClasses]int

	// arenaClass is the class of the whole arena.
	arenaClass int

	splitCount uint64
	// mergeCount only moves when Coalesce is called.
	mergeCount uint64
}

// New creates an allocator. No memory is reserved until Init.
func New(o *Option) *Allocator {
	d := DefaultOption()
	if o != nil {
		if o.ArenaSize != 0 {
			d.ArenaSize = o.ArenaSize
		}
		if o.Reserve != nil {
			d.Reserve = o.Reserve
		}
		if o.Logger != nil {
			d.Logger = o.Logger
		}
	}
	a := &Allocator{o: *d}
	a.clearFreeLists()
	return a
}

// Init reserves the arena and inserts it as one free block of its class.
// If the reservation fails the allocator stays unusable: Malloc returns
// arena.Nil and Free does nothing.
func (a *Allocator) Init() error {
	if a.region != nil {
		return ErrInitialized
	}
	size := a.o.ArenaSize
	if !sizeclass.IsPowerOfTwo(size) || size < 2*HeaderSize || sizeclass.Class(size) >= MaxClasses {
		return errors.Wrapf(ErrArenaSize, "size %d", size)
	}
	r, err := a.o.Reserve(size)
	if err != nil {
		a.o.Logger.Error("pow2: arena reservation failed", "size", size, "error", err)
		return err
	}
	a.region = r
	a.splitCount = 0
	a.mergeCount = 0
	a.clearFreeLists()

	a.arenaClass = sizeclass.Class(size)
	a.setSize(0, size)
	a.push(0, a.arenaClass)
	a.o.Logger.Debug("pow2: arena reserved", "size", size, "class", a.arenaClass)
	return nil
}

// Close releases the arena. The allocator is unusable afterwards.
func (a *Allocator) Close() error {
	r := a.region
	a.region = nil
	a.clearFreeLists()
	return r.Release()
}

// Malloc allocates a block of the smallest class that fits size bytes plus
// the header and returns its payload pointer, or arena.Nil if no free block
// of that class or above exists.
func (a *Allocator) Malloc(size int) arena.Ptr {
	if a.region == nil || size <= 0 || size > a.region.Len() {
		return arena.Nil
	}
	cls := sizeclass.Class(size + HeaderSize)
	if cls >= MaxClasses {
		return arena.Nil
	}

	// Fast path: exact class match
	if b := a.pop(cls); b != noBlock {
		return arena.Ptr(b + HeaderSize)
	}
	return a.mallocSlow(cls)
}

func (a *Allocator) mallocSlow(cls int) arena.Ptr {
	// Find the smallest larger class with a free block
	cur := -1
	for c := cls + 1; c < MaxClasses; c++ {
		if a.freeLists[c] != noBlock {
			cur = c
			break
		}
	}
	if cur == -1 {
		return arena.Nil
	}

	// Halve until we reach the requested class.
	// The lower half is kept, the upper half goes to the free list one class down.
	b := a.pop(cur)
	for cur > cls {
		cur--
		half := 1 << cur
		a.setSize(b+half, half)
		a.push(b+half, cur)
		a.setSize(b, half)
		a.splitCount++
	}
	return arena.Ptr(b + HeaderSize)
}

// Free pushes the block of p onto the list of the class recorded in its header.
// The block is not merged with its buddy.
//
// Freeing arena.Nil is a no-op. Freeing a pointer that was not returned by
// this allocator, or freeing twice, is undefined.
func (a *Allocator) Free(p arena.Ptr) {
	if p == arena.Nil || a.region == nil {
		return
	}
	b := int(p) - HeaderSize
	a.push(b, sizeclass.Class(a.size(b)))
}

// Coalesce merges every free block with its free buddy, repeating upward
// through the classes, and returns the number of merges performed.
// Malloc and Free never call it.
func (a *Allocator) Coalesce() int {
	if a.region == nil {
		return 0
	}
	merged := 0
	for cls := 0; cls < a.arenaClass; cls++ {
		freeList := a.FreeList(cls)
		if len(freeList) < 2 {
			continue
		}
		// Sort so buddies are adjacent (they differ by exactly blockSize).
		slices.Sort(freeList)

		blockSize := 1 << cls
		a.freeLists[cls] = noBlock
		for i := 0; i < len(freeList); {
			offset := freeList[i]
			// When sorted, the buddy of a left block is offset ^ blockSize
			// and immediately follows it.
			if i+1 < len(freeList) && freeList[i+1] == offset^blockSize {
				a.setSize(offset, blockSize<<1)
				a.push(offset, cls+1)
				a.mergeCount++
				merged++
				i += 2
			} else {
				a.push(offset, cls)
				i++
			}
		}
	}
	return merged
}

// BlockSize returns the total size of the block of p, header included.
func (a *Allocator) BlockSize(p arena.Ptr) int {
	if p == arena.Nil || a.region == nil {
		return 0
	}
	return a.size(int(p) - HeaderSize)
}

// Bytes returns the payload of p. It is valid until p is freed.
func (a *Allocator) Bytes(p arena.Ptr) []byte {
	if p == arena.Nil || a.region == nil {
		return nil
	}
	return a.region.Bytes(int(p), a.BlockSize(p)-HeaderSize)
}

// SplitCount returns the number of halvings since Init.
func (a *Allocator) SplitCount() uint64 { return a.splitCount }

// MergeCount returns the number of buddy merges since Init.
// Only Coalesce merges blocks.
func (a *Allocator) MergeCount() uint64 { return a.mergeCount }

// ArenaClass returns the class of the whole arena.
func (a *Allocator) ArenaClass() int { return a.arenaClass }

func (a *Allocator) push(b, cls int) {
	a.setNext(b, a.freeLists[cls])
	a.freeLists[cls] = b
}

func (a *Allocator) pop(cls int) int {
	b := a.freeLists[cls]
	if b != noBlock {
		a.freeLists[cls] = a.next(b)
	}
	return b
}

func (a *Allocator) clearFreeLists() {
	for i := range a.freeLists {
		a.freeLists[i] = noBlock
	}
}

func (a *Allocator) size(b int) int { return int(a.region.Int64(b + offSize)) }

func (a *Allocator) setSize(b, size int) { a.region.PutInt64(b+offSize, int64(size)) }

func (a *Allocator) next(b int) int { return int(a.region.Int64(b + offNext)) }

func (a *Allocator) setNext(b, next int) { a.region.PutInt64(b+offNext, int64(next)) }
