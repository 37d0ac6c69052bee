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

package bench

import (
	"math"
	"slices"
	"time"
)

// Avg returns the mean of ds.
func Avg(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// Percentile returns the p-th percentile (0 <= p <= 1) of ds by the
// nearest-rank method. ds is not modified.
func Percentile(ds []time.Duration, p float64) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	idx := int(p * float64(len(sorted)))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Variance returns the sample variance of ds in microseconds squared.
func Variance(ds []time.Duration) float64 {
	if len(ds) < 2 {
		return 0
	}
	mean := micros(Avg(ds))
	var s float64
	for _, d := range ds {
		x := micros(d) - mean
		s += x * x
	}
	return s / float64(len(ds)-1)
}

// Jitter returns p99 - p50 of ds.
func Jitter(ds []time.Duration) time.Duration {
	return Percentile(ds, 0.99) - Percentile(ds, 0.50)
}

// ExternalFragmentation returns the share of free memory, in percent,
// that lies outside the largest free block.
func ExternalFragmentation(largest, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * (1 - float64(largest)/float64(total))
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func round(f float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(f*p) / p
}
