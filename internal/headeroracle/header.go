// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package headeroracle is the core of the core (§4.6): it maintains the
// canonical best chain by cumulative work in the presence of out-of-order
// header arrivals, reorgs, sibling chains, and administrator checkpoints.
// Grounded on opentxs's client/HeaderOracle.cpp (retrieved under
// original_source/), the one component in this module whose accept/reorg
// algorithm the teacher itself doesn't implement.
package headeroracle

import (
	"encoding/binary"
	"fmt"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
	"github.com/lightcore-labs/lightcore/internal/work"
)

// Status is a header's membership state (§3 BlockHeader.status).
type Status uint8

const (
	StatusNormal Status = iota
	StatusDisconnected
	StatusCheckpointBanned
)

// CheckpointRelation is a header's relation to the active checkpoint
// (§3 BlockHeader.checkpointStatus).
type CheckpointRelation uint8

const (
	RelationUnknown CheckpointRelation = iota
	RelationMatches
	RelationSibling
	RelationDescendent
)

// Raw is the wire-level header fields a caller supplies to AddHeaders —
// everything needed to validate and link a header before the oracle
// derives height/work/status.
type Raw struct {
	Version    int32
	Prev       chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Hash computes the header's identity hash (double-SHA256 of its 80-byte
// serialization, the Bitcoin-family convention every retrieved header
// store in the pack assumes).
func (r Raw) Hash() chainhash.Hash {
	var buf [80]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Version))
	copy(buf[4:36], r.Prev[:])
	copy(buf[36:68], r.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], r.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], r.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], r.Nonce)
	return chainhash.DoubleHashRaw(buf[:])
}

// Header is the oracle's full internal record for one header (§3).
type Header struct {
	Raw

	Hash               chainhash.Hash
	Height             chainhash.Height
	Work               work.Work
	ParentWork         work.Work
	Status             Status
	CheckpointRelation CheckpointRelation
}

func marshalHeader(h *Header) []byte {
	buf := make([]byte, 0, 80+32+8+32+32+1+1)
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(h.Version))
	buf = append(buf, b4[:]...)
	buf = append(buf, h.Prev[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	binary.LittleEndian.PutUint32(b4[:], h.Timestamp)
	buf = append(buf, b4[:]...)
	binary.LittleEndian.PutUint32(b4[:], h.Bits)
	buf = append(buf, b4[:]...)
	binary.LittleEndian.PutUint32(b4[:], h.Nonce)
	buf = append(buf, b4[:]...)

	buf = append(buf, h.Hash[:]...)

	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], uint64(h.Height))
	buf = append(buf, b8[:]...)

	workBytes := h.Work.Bytes()
	buf = append(buf, workBytes[:]...)
	parentWorkBytes := h.ParentWork.Bytes()
	buf = append(buf, parentWorkBytes[:]...)

	buf = append(buf, byte(h.Status))
	buf = append(buf, byte(h.CheckpointRelation))
	return buf
}

const marshaledHeaderLen = 80 + 32 + 8 + 32 + 32 + 1 + 1

func unmarshalHeader(b []byte) (*Header, error) {
	if len(b) != marshaledHeaderLen {
		return nil, fmt.Errorf("%w: header record has %d bytes, want %d", lcerr.ErrInvalidHeader, len(b), marshaledHeaderLen)
	}
	h := &Header{}
	h.Version = int32(binary.LittleEndian.Uint32(b[0:4]))
	copy(h.Prev[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(b[68:72])
	h.Bits = binary.LittleEndian.Uint32(b[72:76])
	h.Nonce = binary.LittleEndian.Uint32(b[76:80])

	off := 80
	copy(h.Hash[:], b[off:off+32])
	off += 32

	h.Height = chainhash.Height(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	h.Work = work.FromBytes(b[off : off+32])
	off += 32
	h.ParentWork = work.FromBytes(b[off : off+32])
	off += 32

	h.Status = Status(b[off])
	off++
	h.CheckpointRelation = CheckpointRelation(b[off])
	return h, nil
}
