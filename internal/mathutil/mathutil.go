// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package mathutil provides small overflow-checked integer helpers. No other
// package imports it: the GCS codec calls bits.Mul64 directly and the block
// body store does its own file-rolling division.
package mathutil

import "math/bits"

// Mul128 returns the full 128-bit product of x and y as (hi, lo).
func Mul128(x, y uint64) (hi, lo uint64) {
	return bits.Mul64(x, y)
}

// SafeAdd returns x+y and whether the addition overflowed a uint64.
func SafeAdd(x, y uint64) (sum uint64, overflow bool) {
	sum, carry := bits.Add64(x, y, 0)
	return sum, carry != 0
}

// CeilDiv returns ceil(x/y) for non-negative y; 0 if y is 0.
func CeilDiv(x, y uint64) uint64 {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// FloorToMultiple rounds x down to the nearest multiple of y (y must be a
// power of two); used to find the start of the file containing offset x.
func FloorToMultiple(x, y uint64) uint64 {
	if y == 0 {
		return x
	}
	return x - (x % y)
}

// CeilToMultiple rounds x up to the nearest multiple of y (y must be a power
// of two); used when a write would straddle a file boundary.
func CeilToMultiple(x, y uint64) uint64 {
	if y == 0 {
		return x
	}
	rem := x % y
	if rem == 0 {
		return x
	}
	return x + (y - rem)
}
