// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package addrbook

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/lightcore-labs/lightcore/internal/lcerr"
)

// marshalRecord serializes a Record for storage in kv.Peers. Layout:
// id(32) chain(4) protocol(4) network(1) port(2) lastConnected(8)
// previousLastConnected(8) addrLen(varint-free u16) addrBytes
// servicesLen(u32) servicesBytes previousServicesLen(u32) previousServicesBytes.
func marshalRecord(rec *Record) []byte {
	var buf bytes.Buffer
	buf.Write(rec.ID[:])

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], rec.Chain)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], rec.Protocol)
	buf.Write(u32[:])
	buf.WriteByte(rec.Network)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], rec.Port)
	buf.Write(u16[:])

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(rec.LastConnected.Unix()))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(rec.PreviousLastConnected.Unix()))
	buf.Write(u64[:])

	binary.BigEndian.PutUint16(u16[:], uint16(len(rec.Bytes)))
	buf.Write(u16[:])
	buf.Write(rec.Bytes)

	writeBitset(&buf, rec.Services)
	writeBitset(&buf, rec.PreviousServices)

	return buf.Bytes()
}

func writeBitset(buf *bytes.Buffer, bs *bitset.BitSet) {
	var u32 [4]byte
	if bs == nil {
		binary.BigEndian.PutUint32(u32[:], 0)
		buf.Write(u32[:])
		return
	}
	raw, err := bs.MarshalBinary()
	if err != nil {
		binary.BigEndian.PutUint32(u32[:], 0)
		buf.Write(u32[:])
		return
	}
	binary.BigEndian.PutUint32(u32[:], uint32(len(raw)))
	buf.Write(u32[:])
	buf.Write(raw)
}

func unmarshalRecord(b []byte) (*Record, error) {
	r := bytes.NewReader(b)
	rec := &Record{}

	if _, err := readFull(r, rec.ID[:]); err != nil {
		return nil, err
	}

	var u32 [4]byte
	if _, err := readFull(r, u32[:]); err != nil {
		return nil, err
	}
	rec.Chain = binary.BigEndian.Uint32(u32[:])
	if _, err := readFull(r, u32[:]); err != nil {
		return nil, err
	}
	rec.Protocol = binary.BigEndian.Uint32(u32[:])

	var netByte [1]byte
	if _, err := readFull(r, netByte[:]); err != nil {
		return nil, err
	}
	rec.Network = netByte[0]

	var u16 [2]byte
	if _, err := readFull(r, u16[:]); err != nil {
		return nil, err
	}
	rec.Port = binary.BigEndian.Uint16(u16[:])

	var u64 [8]byte
	if _, err := readFull(r, u64[:]); err != nil {
		return nil, err
	}
	if sec := int64(binary.BigEndian.Uint64(u64[:])); sec != 0 {
		rec.LastConnected = time.Unix(sec, 0).UTC()
	}
	if _, err := readFull(r, u64[:]); err != nil {
		return nil, err
	}
	if sec := int64(binary.BigEndian.Uint64(u64[:])); sec != 0 {
		rec.PreviousLastConnected = time.Unix(sec, 0).UTC()
	}

	if _, err := readFull(r, u16[:]); err != nil {
		return nil, err
	}
	addrLen := binary.BigEndian.Uint16(u16[:])
	rec.Bytes = make([]byte, addrLen)
	if _, err := readFull(r, rec.Bytes); err != nil {
		return nil, err
	}

	var err error
	rec.Services, err = readBitset(r)
	if err != nil {
		return nil, err
	}
	rec.PreviousServices, err = readBitset(r)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func readBitset(r *bytes.Reader) (*bitset.BitSet, error) {
	var u32 [4]byte
	if _, err := readFull(r, u32[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(u32[:])
	if n == 0 {
		return nil, nil
	}
	raw := make([]byte, n)
	if _, err := readFull(r, raw); err != nil {
		return nil, err
	}
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: bitset unmarshal: %v", lcerr.ErrInvalidInput, err)
	}
	return bs, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, fmt.Errorf("%w: peer record truncated: %v", lcerr.ErrInvalidInput, err)
	}
	if n != len(b) {
		return n, fmt.Errorf("%w: peer record truncated", lcerr.ErrInvalidInput)
	}
	return n, nil
}
