// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package work implements the arbitrary-precision cumulative-work type used
// by the header oracle to pick the best chain. It wraps holiman/uint256,
// the teacher's own 256-bit integer type, rather than math/big: headers
// never need more than 256 bits of accumulated work and uint256 avoids
// math/big's heap allocation per operation.
package work

import (
	"github.com/holiman/uint256"
)

// Work is a non-negative 256-bit integer representing cumulative expected
// hash attempts (§3 DATA MODEL).
type Work struct {
	v uint256.Int
}

// Zero is the additive identity.
var Zero = Work{}

// FromUint64 builds a Work from a small non-negative integer.
func FromUint64(n uint64) Work {
	var w Work
	w.v.SetUint64(n)
	return w
}

// FromBits expands a compact difficulty target ("nBits") into the expected
// number of hash attempts to produce a block at that difficulty:
// work = 2^256 / (target + 1), the standard Bitcoin-family definition.
func FromBits(nBits uint32) Work {
	target := compactToTarget(nBits)
	if target.IsZero() {
		return Zero
	}
	var one, denom, numerator, quotient uint256.Int
	one.SetUint64(1)
	denom.Add(target, &one)

	// 2^256 as a 257-bit value does not fit in uint256, so compute
	// ((2^256 - 1) / denom) + 1 when denom does not evenly divide, which is
	// equivalent to ceil(2^256 / denom) for the denom values targets produce.
	var maxVal uint256.Int
	maxVal.SetAllOne()
	quotient.Div(&maxVal, &denom)
	quotient.AddUint64(&quotient, 1)
	numerator = quotient
	return Work{v: numerator}
}

// compactToTarget expands the compact ("nBits") representation into a full
// 256-bit target, as used by Bitcoin-family proof of work.
func compactToTarget(nBits uint32) *uint256.Int {
	exponent := nBits >> 24
	mantissa := nBits & 0x007fffff
	var target uint256.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target.SetUint64(uint64(mantissa))
		return &target
	}
	target.SetUint64(uint64(mantissa))
	target.Lsh(&target, uint(8*(exponent-3)))
	return &target
}

// Add returns a+b.
func Add(a, b Work) Work {
	var out Work
	out.v.Add(&a.v, &b.v)
	return out
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b,
// comparing the big-endian byte serialization lexicographically as §3
// requires (uint256.Int.Cmp already does exactly this).
func Compare(a, b Work) int {
	return a.v.Cmp(&b.v)
}

// GreaterThan reports whether a > b.
func GreaterThan(a, b Work) bool {
	return Compare(a, b) > 0
}

// Bytes returns the big-endian, fixed 32-byte serialization of w.
func (w Work) Bytes() [32]byte {
	return w.v.Bytes32()
}

// FromBytes parses a big-endian 32-byte serialization into a Work.
func FromBytes(b []byte) Work {
	var w Work
	w.v.SetBytes(b)
	return w
}

// Equal reports whether a and b represent the same value.
func Equal(a, b Work) bool {
	return Compare(a, b) == 0
}

// String returns the decimal representation, useful in log fields.
func (w Work) String() string {
	return w.v.Dec()
}

// MeetsTarget reports whether hash is less than or equal to the target
// implied by nBits — the proof-of-work check the header oracle runs before
// accepting a header (§4.6 "fails with InvalidHeader if PoW check fails").
//
// hash is in chainhash.Hash's internal byte order, the natural SHA-256d
// digest order, which is little-endian-significant: byte 0 is the least
// significant byte of the number. uint256.Int.SetBytes expects big-endian
// input, so the bytes are reversed first, the same reversal
// chainhash.Hash.String does before hex-encoding for display.
func MeetsTarget(hash [32]byte, nBits uint32) bool {
	target := compactToTarget(nBits)
	var reversed [32]byte
	for i := range hash {
		reversed[i] = hash[31-i]
	}
	var h uint256.Int
	h.SetBytes(reversed[:])
	return h.Cmp(target) <= 0
}
