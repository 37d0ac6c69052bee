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
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/arenalloc/arena"
)

func TestInit(t *testing.T) {
	a := newTestAllocator(t, DefaultArenaSize)

	head, ok := a.Head()
	require.True(t, ok)
	assert.Equal(t, Block{Offset: 0, Size: DefaultArenaSize - HeaderSize, Free: true}, head)
	_, ok = a.Next(head)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), a.SplitCount())
	assert.Equal(t, uint64(0), a.MergeCount())

	assert.ErrorIs(t, a.Init(), ErrInitialized)
}

func TestInitReservationFailure(t *testing.T) {
	a := New(&Option{
		ArenaSize: 64 << 10,
		Reserve: func(int) (*arena.Region, error) {
			return nil, arena.ErrReservation
		},
	})
	require.ErrorIs(t, a.Init(), arena.ErrReservation)

	// every call must fail safely
	assert.Equal(t, arena.Nil, a.Malloc(32))
	assert.NotPanics(t, func() { a.Free(arena.Ptr(64)) })
	assert.Equal(t, arena.Nil, a.Realloc(arena.Ptr(64), 128))
	assert.Equal(t, 0, a.BlockSize(arena.Ptr(64)))
	assert.Nil(t, a.Bytes(arena.Ptr(64)))
	assert.Empty(t, a.Blocks())
	assert.Equal(t, 0, a.Coalesce())
	_, ok := a.Head()
	assert.False(t, ok)
}

func TestInitArenaTooSmall(t *testing.T) {
	a := New(&Option{ArenaSize: HeaderSize - 1})
	assert.ErrorIs(t, a.Init(), ErrArenaSize)
	assert.Equal(t, arena.Nil, a.Malloc(1))
}

func TestMallocRoundsUp(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	tests := []struct {
		size int
		want int
	}{
		{0, 0},
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
		{100, 112},
	}
	for _, tt := range tests {
		p := a.Malloc(tt.size)
		require.NotEqual(t, arena.Nil, p, "size=%d", tt.size)
		assert.Equal(t, tt.want, a.BlockSize(p), "size=%d", tt.size)
	}
	assertTiling(t, a)
}

func TestMallocNegative(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	assert.Equal(t, arena.Nil, a.Malloc(-1))
	assert.Equal(t, arena.Nil, a.Malloc(1<<40))
}

func TestScenario(t *testing.T) {
	a := newTestAllocator(t, DefaultArenaSize)

	p1 := a.Malloc(32)
	p2 := a.Malloc(64)
	p3 := a.Malloc(128)
	require.NotEqual(t, arena.Nil, p1)
	require.NotEqual(t, arena.Nil, p2)
	require.NotEqual(t, arena.Nil, p3)
	assert.LessOrEqual(t, int(p1)+32, int(p2))
	assert.LessOrEqual(t, int(p2)+64, int(p3))
	assert.Equal(t, uint64(3), a.SplitCount())

	a.Free(p2)
	assert.Equal(t, []Block{
		{Offset: 0, Size: 32, Free: false},
		{Offset: 64, Size: 64, Free: true},
		{Offset: 160, Size: 128, Free: false},
		{Offset: 320, Size: DefaultArenaSize - 320 - HeaderSize, Free: true},
	}, a.Blocks())
	assert.Equal(t, uint64(0), a.MergeCount())

	a.Free(p1)
	a.Free(p3)
	assert.Equal(t, []Block{
		{Offset: 0, Size: DefaultArenaSize - HeaderSize, Free: true},
	}, a.Blocks())
	assert.Equal(t, uint64(3), a.MergeCount())
	assertTiling(t, a)
}

func TestSplitThreshold(t *testing.T) {
	// payload of the only block is 96 bytes
	a := newTestAllocator(t, 96+HeaderSize)

	// remainder 96-48=48 fits a header and one alignment unit
	p := a.Malloc(48)
	require.NotEqual(t, arena.Nil, p)
	assert.Equal(t, 48, a.BlockSize(p))
	assert.Equal(t, uint64(1), a.SplitCount())
	a.Free(p)

	// remainder 96-64=32 does not, the whole block is handed out
	p = a.Malloc(64)
	require.NotEqual(t, arena.Nil, p)
	assert.Equal(t, 96, a.BlockSize(p))
	assert.Equal(t, uint64(1), a.SplitCount())
	assertTiling(t, a)
}

func TestFirstFit(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	p1 := a.Malloc(256)
	a.Malloc(16)
	p3 := a.Malloc(256)
	a.Malloc(16)

	a.Free(p3)
	a.Free(p1)

	// both holes fit, the lower one wins
	p := a.Malloc(128)
	assert.Equal(t, p1, p)
}

func TestExhaustion(t *testing.T) {
	a := newTestAllocator(t, 4096)
	var ptrs []arena.Ptr
	for {
		p := a.Malloc(64)
		if p == arena.Nil {
			break
		}
		ptrs = append(ptrs, p)
	}
	// 42 blocks of 32+64 bytes, leaving a 32-byte free tail
	assert.Equal(t, 42, len(ptrs))
	assert.Equal(t, arena.Nil, a.Malloc(64))
	assert.Equal(t, 32, a.LargestFree())
	assertTiling(t, a)

	for _, p := range ptrs {
		a.Free(p)
	}
	assert.Len(t, a.Blocks(), 1)
	assert.Equal(t, arena.Ptr(HeaderSize), a.Malloc(4096-HeaderSize))
}

func TestFreeNil(t *testing.T) {
	a := newTestAllocator(t, 4096)
	before := a.Blocks()
	a.Free(arena.Nil)
	assert.Equal(t, before, a.Blocks())
}

func TestCoalescingOrder(t *testing.T) {
	tests := []struct {
		name string
		// order in which the two adjacent blocks are freed
		first, second int
	}{
		{"LowerFirst", 0, 1},
		{"UpperFirst", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAllocator(t, 64<<10)
			ptrs := []arena.Ptr{a.Malloc(48), a.Malloc(80)}
			guard := a.Malloc(16) // keeps the tail out of the merge
			require.NotEqual(t, arena.Nil, guard)

			a.Free(ptrs[tt.first])
			assert.Equal(t, uint64(0), a.MergeCount())
			a.Free(ptrs[tt.second])
			assert.Equal(t, uint64(1), a.MergeCount())

			head, _ := a.Head()
			assert.Equal(t, Block{Offset: 0, Size: 48 + 80 + HeaderSize, Free: true}, head)
			assertTiling(t, a)
		})
	}
}

func TestFreeMergesBothSides(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	p1 := a.Malloc(16)
	p2 := a.Malloc(16)
	p3 := a.Malloc(16)
	a.Malloc(16)

	a.Free(p1)
	a.Free(p3)
	merges := a.MergeCount()
	a.Free(p2)
	assert.Equal(t, merges+2, a.MergeCount())

	head, _ := a.Head()
	assert.Equal(t, Block{Offset: 0, Size: 3*16 + 2*HeaderSize, Free: true}, head)
}

func TestCoalesce(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	var ptrs []arena.Ptr
	for i := 0; i < 4; i++ {
		ptrs = append(ptrs, a.Malloc(32))
	}
	a.Malloc(32)

	// mark a run of four blocks free without merging
	for _, p := range ptrs {
		a.setFree(int(p)-HeaderSize, true)
	}
	assert.Equal(t, 3, a.Coalesce())
	assert.Equal(t, uint64(3), a.MergeCount())

	head, _ := a.Head()
	assert.Equal(t, Block{Offset: 0, Size: 4*32 + 3*HeaderSize, Free: true}, head)
	assert.Equal(t, 0, a.Coalesce())
	assertTiling(t, a)
}

func TestRealloc(t *testing.T) {
	a := newTestAllocator(t, 64<<10)

	t.Run("Nil", func(t *testing.T) {
		p := a.Realloc(arena.Nil, 40)
		require.NotEqual(t, arena.Nil, p)
		assert.Equal(t, 48, a.BlockSize(p))
		a.Free(p)
	})

	t.Run("Fits", func(t *testing.T) {
		p := a.Malloc(100)
		assert.Equal(t, p, a.Realloc(p, 112))
		assert.Equal(t, p, a.Realloc(p, 8))
		assert.Equal(t, 112, a.BlockSize(p))
		a.Free(p)
	})

	t.Run("Grow", func(t *testing.T) {
		p := a.Malloc(32)
		guard := a.Malloc(16)
		copy(a.Bytes(p), "0123456789abcdef0123456789abcdef")

		np := a.Realloc(p, 256)
		require.NotEqual(t, arena.Nil, np)
		assert.NotEqual(t, p, np)
		assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), a.Bytes(np)[:32])
		assert.True(t, blockOf(a, p).Free)
		a.Free(np)
		a.Free(guard)
	})

	t.Run("Fail", func(t *testing.T) {
		p := a.Malloc(32)
		copy(a.Bytes(p), "keep")
		assert.Equal(t, arena.Nil, a.Realloc(p, 1<<20))
		assert.False(t, blockOf(a, p).Free)
		assert.Equal(t, []byte("keep"), a.Bytes(p)[:4])
		a.Free(p)
	})

	assertTiling(t, a)
}

func TestBytesIsolated(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	p1 := a.Malloc(64)
	p2 := a.Malloc(64)
	b1 := a.Bytes(p1)
	for i := range b1 {
		b1[i] = 0xFF
	}
	assert.Equal(t, make([]byte, 64), a.Bytes(p2))
	assertTiling(t, a)
}

func TestDump(t *testing.T) {
	a := newTestAllocator(t, 1024)
	p := a.Malloc(32)
	a.Malloc(64)
	a.Free(p)

	var buf bytes.Buffer
	require.NoError(t, a.Dump(&buf))
	assert.Equal(t, "[free list dump]\n"+
		"  block@0x0 size=32 free=true\n"+
		"  block@0x40 size=64 free=false\n"+
		"  block@0xa0 size=832 free=true\n", buf.String())
}

func TestFragmentationAccounting(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	p1 := a.Malloc(1024)
	a.Malloc(16)
	a.Free(p1)

	tail := 64<<10 - 1024 - 16 - 3*HeaderSize
	assert.Equal(t, tail, a.LargestFree())
	assert.Equal(t, 1024+tail, a.TotalFree())
}

func TestRandomAllocFree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := newTestAllocator(t, 1<<20)
	initial := a.TotalFree()

	type alloc struct {
		p    arena.Ptr
		size int
	}
	var live []alloc
	for i := 0; i < 20000; i++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			size := rng.Intn(2048) + 1
			p := a.Malloc(size)
			if p == arena.Nil {
				continue
			}
			// stamp the payload so aliasing shows up as corruption
			b := a.Bytes(p)[:size]
			for j := range b {
				b[j] = byte(p)
			}
			live = append(live, alloc{p, size})
		} else {
			idx := rng.Intn(len(live))
			x := live[idx]
			for j, c := range a.Bytes(x.p)[:x.size] {
				if c != byte(x.p) {
					t.Fatalf("payload of %d corrupted at %d", x.p, j)
				}
			}
			a.Free(x.p)
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		if i%1000 == 0 {
			assertTiling(t, a)
		}
	}
	for _, x := range live {
		a.Free(x.p)
	}
	a.Coalesce()
	assertTiling(t, a)
	assert.Equal(t, initial, a.TotalFree())
	assert.Len(t, a.Blocks(), 1)
}

func TestRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	a.Malloc(100)
	before := a.TotalFree()
	for _, size := range []int{1, 16, 100, 4096} {
		p := a.Malloc(size)
		require.NotEqual(t, arena.Nil, p)
		a.Free(p)
		assert.Equal(t, before, a.TotalFree(), "size=%d", size)
	}
}

func TestClose(t *testing.T) {
	a := New(&Option{ArenaSize: 4096})
	require.NoError(t, a.Init())
	require.NoError(t, a.Close())
	assert.Equal(t, arena.Nil, a.Malloc(16))
	assert.NoError(t, a.Close())
	// an allocator may be initialized again after Close
	require.NoError(t, a.Init())
	assert.NotEqual(t, arena.Nil, a.Malloc(16))
	require.NoError(t, a.Close())
}

// helpers

func newTestAllocator(t *testing.T, size int) *Allocator {
	t.Helper()
	a := New(&Option{ArenaSize: size})
	require.NoError(t, a.Init())
	t.Cleanup(func() { a.Close() })
	return a
}

func blockOf(a *Allocator, p arena.Ptr) Block {
	return a.block(int(p) - HeaderSize)
}

// assertTiling checks that the chain covers the arena exactly, in address
// order, with consistent back links.
func assertTiling(t *testing.T, a *Allocator) {
	t.Helper()
	off, prev := 0, noBlock
	for b := a.head; b != noBlock; b = a.next(b) {
		require.Equal(t, off, b, "block out of address order")
		require.Equal(t, prev, a.prev(b), "broken back link at %d", b)
		off += HeaderSize + a.size(b)
		prev = b
	}
	require.Equal(t, a.region.Len(), off, "chain does not tile the arena")
}

// benchmarks

func BenchmarkMallocFree(b *testing.B) {
	a := New(nil)
	if err := a.Init(); err != nil {
		b.Fatal(err)
	}
	defer a.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Free(a.Malloc(128))
	}
}
