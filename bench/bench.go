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

// Package bench drives allocate/free workloads against the allocators of this
// module and reports timing and fragmentation statistics.
package bench

import (
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"

	"github.com/cloudwego/arenalloc/arena"
)

// Target is the allocator surface a workload needs.
// *freelist.Allocator and *pow2.Allocator implement it.
type Target interface {
	Malloc(size int) arena.Ptr
	Free(p arena.Ptr)
	// BlockSize returns the size actually granted to p.
	BlockSize(p arena.Ptr) int
	SplitCount() uint64
	MergeCount() uint64
	TotalFree() int
	LargestFree() int
}

// Workload describes one allocate-all then free-all run.
type Workload struct {
	// Ops is the number of allocations.
	Ops int
	// RandomSizes draws each request from [1, MaxRequest].
	// Otherwise every request is FixedRequest bytes.
	RandomSizes  bool
	MaxRequest   int
	FixedRequest int
}

// DefaultWorkload returns the default values of Workload.
func DefaultWorkload() Workload {
	return Workload{
		Ops:          200000,
		RandomSizes:  true,
		MaxRequest:   2048,
		FixedRequest: 128,
	}
}

func (w Workload) request() int {
	if w.RandomSizes && w.MaxRequest > 0 {
		return fastrand.Intn(w.MaxRequest) + 1
	}
	return w.FixedRequest
}

// Metrics is the raw outcome of one Run.
type Metrics struct {
	Name string

	MallocTimes []time.Duration
	FreeTimes   []time.Duration

	Splits uint64
	Merges uint64

	// InternalFragSum is the sum of granted-minus-requested bytes.
	InternalFragSum   int
	InternalFragCount int

	CurrentAllocated int
	PeakAllocated    int

	// Failed counts allocations that returned arena.Nil.
	Failed int

	LargestFree int
	TotalFree   int
}

// Run allocates w.Ops blocks from t, then frees them in allocation order,
// timing every call. Fragmentation is sampled after the last free.
func Run(name string, t Target, w Workload) *Metrics {
	m := &Metrics{
		Name:        name,
		MallocTimes: make([]time.Duration, 0, w.Ops),
		FreeTimes:   make([]time.Duration, 0, w.Ops),
	}
	ptrs := make([]arena.Ptr, w.Ops)

	for i := range ptrs {
		req := w.request()

		t0 := time.Now()
		p := t.Malloc(req)
		m.MallocTimes = append(m.MallocTimes, time.Since(t0))

		ptrs[i] = p
		if p == arena.Nil {
			m.Failed++
			continue
		}
		granted := t.BlockSize(p)
		if granted > req {
			m.InternalFragSum += granted - req
		}
		m.InternalFragCount++
		m.CurrentAllocated += granted
		if m.CurrentAllocated > m.PeakAllocated {
			m.PeakAllocated = m.CurrentAllocated
		}
	}

	for _, p := range ptrs {
		if p == arena.Nil {
			continue
		}
		granted := t.BlockSize(p)

		t0 := time.Now()
		t.Free(p)
		m.FreeTimes = append(m.FreeTimes, time.Since(t0))

		m.CurrentAllocated -= granted
	}

	m.Splits = t.SplitCount()
	m.Merges = t.MergeCount()
	m.LargestFree = t.LargestFree()
	m.TotalFree = t.TotalFree()
	return m
}
