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

// Package sizeclass holds the size arithmetic shared by the allocators.
package sizeclass

import "math/bits"

// Align is the minimum alignment of every payload size.
const Align = 16

// RoundUp rounds size up to the nearest multiple of Align.
func RoundUp(size int) int {
	return (size + Align - 1) &^ (Align - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Class returns the smallest k such that 1<<k >= n.
func Class(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}
