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

// Package freelist implements a first-fit free-list allocator over one arena.
//
// Every block, used or free, starts with a 32-byte header and all blocks form
// one address-ordered doubly-linked chain that tiles the whole arena.
// Allocation splits the first block large enough; Free merges the freed block
// with its immediate neighbours.
//
// IMPORTANT: This package is NOT goroutine-safe.
// An Allocator must be owned by a single goroutine, or guarded by the caller.
package freelist

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/cloudwego/arenalloc/arena"
	"github.com/cloudwego/arenalloc/internal/sizeclass"
)

const (
	// HeaderSize is the size of the header in front of every payload.
	HeaderSize = 32

	// DefaultArenaSize is the default arena capacity (8MB).
	DefaultArenaSize = 8 << 20

	// header layout: [size][free][next][prev], 8 bytes each
	offSize = 0
	offFree = 8
	offNext = 16
	offPrev = 24

	noBlock = -1
)

var (
	// ErrInitialized is returned by Init on an allocator that already owns an arena.
	ErrInitialized = errors.New("freelist: already initialized")

	// ErrArenaSize is returned by Init when the arena cannot hold a single header.
	ErrArenaSize = errors.New("freelist: arena too small")
)

// Option configures an Allocator.
type Option struct {
	// ArenaSize is the capacity of the arena in bytes.
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

// Block describes one block of the chain.
type Block struct {
	// Offset is the arena offset of the block header.
	Offset int
	// Size is the payload capacity, not including the header.
	Size int
	Free bool
}

// Ptr returns the payload pointer of b.
func (b Block) Ptr() arena.Ptr {
	return arena.Ptr(b.Offset + HeaderSize)
}

// Allocator is a first-fit free-list allocator.
// The zero value is unusable; call New then Init.
type Allocator struct {
	o      Option
	region *arena.Region

	// head is the header offset of the first block, noBlock when unusable.
	head int

	splitCount uint64
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
	return &Allocator{o: *d, head: noBlock}
}

// Init reserves the arena and installs one free block spanning all of it.
// If the reservation fails the allocator stays unusable: Malloc returns
// arena.Nil and Free does nothing.
func (a *Allocator) Init() error {
	if a.region != nil {
		return ErrInitialized
	}
	if a.o.ArenaSize < HeaderSize {
		return errors.Wrapf(ErrArenaSize, "size %d", a.o.ArenaSize)
	}
	r, err := a.o.Reserve(a.o.ArenaSize)
	if err != nil {
		a.o.Logger.Error("freelist: arena reservation failed", "size", a.o.ArenaSize, "error", err)
		return err
	}
	a.region = r
	a.head = 0
	a.splitCount = 0
	a.mergeCount = 0
	a.writeHeader(0, r.Len()-HeaderSize, true, noBlock, noBlock)
	a.o.Logger.Debug("freelist: arena reserved", "size", r.Len())
	return nil
}

// Close releases the arena. The allocator is unusable afterwards.
func (a *Allocator) Close() error {
	r := a.region
	a.region = nil
	a.head = noBlock
	return r.Release()
}

// Malloc allocates at least size bytes and returns the payload pointer,
// or arena.Nil if no free block is large enough.
// The size is rounded up to a multiple of 16.
func (a *Allocator) Malloc(size int) arena.Ptr {
	if a.region == nil || size < 0 || size > a.region.Len() {
		return arena.Nil
	}
	size = sizeclass.RoundUp(size)

	b := a.findBlock(size)
	if b == noBlock {
		return arena.Nil
	}
	a.splitBlock(b, size)
	a.setFree(b, false)
	return arena.Ptr(b + HeaderSize)
}

// Free returns the block of p to the allocator and merges it with a free
// successor and a free predecessor. Only the immediate neighbours are checked.
//
// Freeing arena.Nil is a no-op. Freeing a pointer that was not returned by
// this allocator, or freeing twice, is undefined.
func (a *Allocator) Free(p arena.Ptr) {
	if p == arena.Nil || a.region == nil {
		return
	}
	b := int(p) - HeaderSize
	a.setFree(b, true)
	a.mergeNeighbours(b)
}

// Realloc resizes the allocation of p to at least size bytes.
//
// A Nil p behaves as Malloc. If the block already holds size bytes p is
// returned unchanged. Otherwise the payload moves to a new block and p is
// freed; on failure arena.Nil is returned and p stays valid.
func (a *Allocator) Realloc(p arena.Ptr, size int) arena.Ptr {
	if p == arena.Nil {
		return a.Malloc(size)
	}
	if a.region == nil || size < 0 {
		return arena.Nil
	}
	old := a.BlockSize(p)
	if old >= size {
		return p
	}
	np := a.Malloc(size)
	if np == arena.Nil {
		return arena.Nil
	}
	copy(a.Bytes(np), a.Bytes(p)[:min(old, size)])
	a.Free(p)
	return np
}

// Coalesce merges every run of adjacent free blocks into one block and
// returns the number of merges performed. Free only merges immediate
// neighbours, so runs of three or more free blocks can survive it.
func (a *Allocator) Coalesce() int {
	if a.region == nil {
		return 0
	}
	merged := 0
	for b := a.head; b != noBlock; b = a.next(b) {
		if !a.isFree(b) {
			continue
		}
		for next := a.next(b); next != noBlock && a.isFree(next); next = a.next(b) {
			a.absorb(b, next)
			merged++
		}
	}
	return merged
}

// BlockSize returns the payload capacity recorded in the header of p.
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
	return a.region.Bytes(int(p), a.BlockSize(p))
}

// SplitCount returns the number of block splits since Init.
func (a *Allocator) SplitCount() uint64 { return a.splitCount }

// MergeCount returns the number of block merges since Init.
func (a *Allocator) MergeCount() uint64 { return a.mergeCount }

func (a *Allocator) findBlock(size int) int {
	for b := a.head; b != noBlock; b = a.next(b) {
		if a.isFree(b) && a.size(b) >= size {
			return b
		}
	}
	return noBlock
}

// splitBlock carves size bytes off the front of b when the remainder can hold
// a header plus one alignment unit of payload.
func (a *Allocator) splitBlock(b, size int) {
	remain := a.size(b) - size
	if remain < HeaderSize+sizeclass.Align {
		return
	}
	nb := b + HeaderSize + size
	next := a.next(b)
	a.writeHeader(nb, remain-HeaderSize, true, next, b)
	if next != noBlock {
		a.setPrev(next, nb)
	}
	a.setNext(b, nb)
	a.setSize(b, size)
	a.splitCount++
}

func (a *Allocator) mergeNeighbours(b int) {
	if next := a.next(b); next != noBlock && a.isFree(next) {
		a.absorb(b, next)
	}
	if prev := a.prev(b); prev != noBlock && a.isFree(prev) {
		a.absorb(prev, b)
	}
}

// absorb merges right into its address-order predecessor left.
func (a *Allocator) absorb(left, right int) {
	a.setSize(left, a.size(left)+HeaderSize+a.size(right))
	next := a.next(right)
	a.setNext(left, next)
	if next != noBlock {
		a.setPrev(next, left)
	}
	a.mergeCount++
}

func (a *Allocator) writeHeader(b, size int, free bool, next, prev int) {
	a.setSize(b, size)
	a.setFree(b, free)
	a.setNext(b, next)
	a.setPrev(b, prev)
}

func (a *Allocator) size(b int) int { return int(a.region.Int64(b + offSize)) }

func (a *Allocator) setSize(b, size int) { a.region.PutInt64(b+offSize, int64(size)) }

func (a *Allocator) isFree(b int) bool { return a.region.Int64(b+offFree) != 0 }

func (a *Allocator) setFree(b int, free bool) {
	var v int64
	if free {
		v = 1
	}
	a.region.PutInt64(b+offFree, v)
}

func (a *Allocator) next(b int) int { return int(a.region.Int64(b + offNext)) }

func (a *Allocator) setNext(b, next int) { a.region.PutInt64(b+offNext, int64(next)) }

func (a *Allocator) prev(b int) int { return int(a.region.Int64(b + offPrev)) }

func (a *Allocator) setPrev(b, prev int) { a.region.PutInt64(b+offPrev, int64(prev)) }
