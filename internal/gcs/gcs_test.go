// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gcs

import (
	"bytes"
	"testing"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
)

func testElements() [][]byte {
	return [][]byte{
		[]byte("element-one"),
		[]byte("element-two"),
		[]byte("element-three"),
		[]byte("another-distinct-value"),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const p = 19
	const m = 784931
	key := DeriveKey(chainhash.DoubleHashRaw([]byte("genesis")))

	elements := testElements()
	encoded := Encode(p, m, key, elements)

	values, err := Decode(p, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(values) != len(elements) {
		t.Fatalf("decoded %d values, want %d", len(values), len(elements))
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("decoded values not sorted at index %d: %v", i, values)
		}
	}
}

func TestMatchFindsMember(t *testing.T) {
	const p = 19
	const m = 784931
	key := DeriveKey(chainhash.DoubleHashRaw([]byte("block-7")))

	elements := testElements()
	encoded := Encode(p, m, key, elements)

	ok, err := Match(p, uint64(len(elements)), m, key, encoded, elements[2])
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !ok {
		t.Fatal("expected member to match")
	}
}

func TestMatchAnyFindsMember(t *testing.T) {
	const p = 19
	const m = 784931
	key := DeriveKey(chainhash.DoubleHashRaw([]byte("block-8")))

	elements := testElements()
	encoded := Encode(p, m, key, elements)

	targets := [][]byte{[]byte("not-present"), elements[0]}
	ok, err := MatchAny(p, uint64(len(elements)), m, key, encoded, targets)
	if err != nil {
		t.Fatalf("match_any: %v", err)
	}
	if !ok {
		t.Fatal("expected match_any to find a member")
	}
}

func TestHashAndHeaderChain(t *testing.T) {
	const p = 19
	const m = 784931
	key := DeriveKey(chainhash.DoubleHashRaw([]byte("genesis")))
	encoded := Encode(p, m, key, testElements())

	want := chainhash.DoubleHashRaw(encoded)
	if got := Hash(encoded); got != want {
		t.Fatalf("Hash mismatch: got %x want %x", got, want)
	}

	var prevHeader chainhash.Hash
	header := Header(encoded, prevHeader)

	filterHash := Hash(encoded)
	buf := append(append([]byte{}, filterHash[:]...), prevHeader[:]...)
	wantHeader := chainhash.DoubleHashRaw(buf)
	if header != wantHeader {
		t.Fatal("Header did not fold hash(filter) || previous_header correctly")
	}
}

func TestEmptySetRoundTrips(t *testing.T) {
	const p = 19
	const m = 784931
	var key [16]byte

	encoded := Encode(p, m, key, nil)
	values, err := Decode(p, encoded)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected no values, got %v", values)
	}
	if !bytes.HasPrefix(encoded, []byte{0}) {
		t.Fatalf("expected leading varint 0 for empty set, got %x", encoded)
	}
}
