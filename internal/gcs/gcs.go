// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gcs implements the Golomb-Coded Set compact probabilistic
// filter codec (§4.3): SipHash-2-4 keyed hashing, range reduction into
// [0, N*M), Golomb-Rice delta coding, and match/match_any queries.
package gcs

import (
	"bytes"
	"math/bits"
	"sort"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
	"github.com/lightcore-labs/lightcore/internal/wire"
)

// DeriveKey takes the first 16 bytes of a block hash as the filter's
// SipHash key (§4.3 step 1).
func DeriveKey(blockHash chainhash.Hash) [16]byte {
	var key [16]byte
	copy(key[:], blockHash[:16])
	return key
}

func hashToRange(k0, k1 uint64, nm uint64, data []byte) uint64 {
	h := sipHash24(k0, k1, data)
	hi, _ := bits.Mul64(h, nm)
	return hi
}

// bitWriter packs bits MSB-first into a growing byte buffer, the
// conventional Golomb-Rice bitstream orientation.
type bitWriter struct {
	buf  bytes.Buffer
	cur  byte
	nbit uint
}

func (w *bitWriter) writeBit(b bool) {
	if b {
		w.cur |= 1 << (7 - w.nbit)
	}
	w.nbit++
	if w.nbit == 8 {
		w.buf.WriteByte(w.cur)
		w.cur = 0
		w.nbit = 0
	}
}

func (w *bitWriter) writeBits(v uint64, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		w.writeBit((v>>uint(i))&1 == 1)
	}
}

func (w *bitWriter) flush() []byte {
	if w.nbit > 0 {
		w.buf.WriteByte(w.cur)
		w.cur = 0
		w.nbit = 0
	}
	return w.buf.Bytes()
}

// writeGolombRice writes delta encoded with parameter p: unary quotient
// (q ones then a zero) followed by p bits of remainder (§4.3 step 4).
func writeGolombRice(w *bitWriter, delta uint64, p uint8) {
	q := delta >> p
	for i := uint64(0); i < q; i++ {
		w.writeBit(true)
	}
	w.writeBit(false)
	w.writeBits(delta, uint(p))
}

type bitReader struct {
	data []byte
	pos  uint // bit position
}

func (r *bitReader) readBit() (bool, bool) {
	byteIdx := r.pos / 8
	if int(byteIdx) >= len(r.data) {
		return false, false
	}
	bit := (r.data[byteIdx] >> (7 - r.pos%8)) & 1
	r.pos++
	return bit == 1, true
}

func (r *bitReader) readBits(n uint) (uint64, bool) {
	var v uint64
	for i := uint(0); i < n; i++ {
		b, ok := r.readBit()
		if !ok {
			return 0, false
		}
		v <<= 1
		if b {
			v |= 1
		}
	}
	return v, true
}

func readGolombRice(r *bitReader, p uint8) (uint64, bool) {
	var q uint64
	for {
		b, ok := r.readBit()
		if !ok {
			return 0, false
		}
		if !b {
			break
		}
		q++
	}
	rem, ok := r.readBits(uint(p))
	if !ok {
		return 0, false
	}
	return (q << p) | rem, true
}

// Encode builds a GCS filter over elements keyed by key, with Golomb-Rice
// parameter P and range modulus M (§4.3). The returned bytes are
// compact-size-varint(N) followed by the bit-packed payload.
func Encode(p uint8, m uint64, key [16]byte, elements [][]byte) []byte {
	n := uint64(len(elements))
	k0, k1 := keyToUint64Pair(key)

	values := make([]uint64, n)
	for i, el := range elements {
		values[i] = hashToRange(k0, k1, n*m, el)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	var bw bitWriter
	var prev uint64
	for i, v := range values {
		var delta uint64
		if i == 0 {
			delta = v
		} else {
			delta = v - prev
		}
		writeGolombRice(&bw, delta, p)
		prev = v
	}
	payload := bw.flush()

	var out bytes.Buffer
	_ = wire.WriteVarInt(&out, n)
	out.Write(payload)
	return out.Bytes()
}

// Decode returns the sorted vector of range values encoded in data for N
// elements under Golomb-Rice parameter P (§4.3).
func Decode(p uint8, data []byte) ([]uint64, error) {
	buf := bytes.NewReader(data)
	n, err := wire.ReadVarInt(buf)
	if err != nil {
		return nil, lcerr.ErrMalformedFilter
	}
	rest := data[len(data)-buf.Len():]
	br := &bitReader{data: rest}

	out := make([]uint64, 0, n)
	var cur uint64
	for i := uint64(0); i < n; i++ {
		delta, ok := readGolombRice(br, p)
		if !ok {
			return nil, lcerr.ErrMalformedFilter
		}
		cur += delta
		out = append(out, cur)
	}
	return out, nil
}

// Match reports whether target's range-mapped hash is present in the
// decoded filter (§4.3 "binary-searches the decoded vector").
func Match(p uint8, n uint64, m uint64, key [16]byte, data []byte, target []byte) (bool, error) {
	values, err := Decode(p, data)
	if err != nil {
		return false, err
	}
	k0, k1 := keyToUint64Pair(key)
	v := hashToRange(k0, k1, n*m, target)
	idx := sort.Search(len(values), func(i int) bool { return values[i] >= v })
	return idx < len(values) && values[idx] == v, nil
}

// MatchAny reports whether any of targets' range-mapped hashes is present
// in the decoded filter.
func MatchAny(p uint8, n uint64, m uint64, key [16]byte, data []byte, targets [][]byte) (bool, error) {
	values, err := Decode(p, data)
	if err != nil {
		return false, err
	}
	k0, k1 := keyToUint64Pair(key)
	for _, target := range targets {
		v := hashToRange(k0, k1, n*m, target)
		idx := sort.Search(len(values), func(i int) bool { return values[i] >= v })
		if idx < len(values) && values[idx] == v {
			return true, nil
		}
	}
	return false, nil
}

// Hash is SHA-256d of the raw encoded filter bytes (§4.3).
func Hash(filterBytes []byte) chainhash.Hash {
	return chainhash.DoubleHashH(filterBytes)
}

// Header folds filterHash into the running filter-header chain (§4.3):
// SHA-256d(hash(filter) || previous_header).
func Header(filterBytes []byte, previousHeader chainhash.Hash) chainhash.Hash {
	h := Hash(filterBytes)
	buf := make([]byte, 0, 64)
	buf = append(buf, h[:]...)
	buf = append(buf, previousHeader[:]...)
	return chainhash.DoubleHashRaw(buf)
}
