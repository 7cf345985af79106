// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package work

import "testing"

// TestMeetsTargetRespectsHashByteOrder pins down MeetsTarget's byte-order
// handling: hash is in chainhash.Hash's natural (little-endian-significant)
// digest order, the same order Raw.Hash produces, not big-endian.
func TestMeetsTargetRespectsHashByteOrder(t *testing.T) {
	// exponent==3 makes compactToTarget return the mantissa unshifted, so
	// the target here is exactly 0x1000 (4096).
	const nBits = 0x03001000

	var low [32]byte
	low[0] = 0x64 // least-significant byte holds 100 < 4096
	if !MeetsTarget(low, nBits) {
		t.Fatalf("hash numerically below target was rejected")
	}

	var high [32]byte
	high[31] = 0x01 // most-significant byte set: numeric value 2^248, far above target
	if MeetsTarget(high, nBits) {
		t.Fatalf("hash numerically above target was accepted")
	}
}

// TestMeetsTargetBoundary checks the <= boundary condition explicitly.
func TestMeetsTargetBoundary(t *testing.T) {
	const nBits = 0x03001000 // target 0x1000

	var atTarget [32]byte
	atTarget[1] = 0x10 // little-endian value 0x10*256 == 0x1000, exactly the target
	if !MeetsTarget(atTarget, nBits) {
		t.Fatalf("hash equal to target was rejected")
	}

	var aboveTarget [32]byte
	aboveTarget[0] = 0x01
	aboveTarget[1] = 0x10 // little-endian value 0x1001, one above target
	if MeetsTarget(aboveTarget, nBits) {
		t.Fatalf("hash one above target was accepted")
	}
}
