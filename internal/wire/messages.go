// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
)

// Message is satisfied by every type in the minimum wire message set
// required by §6.
type Message interface {
	Command() string
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// Command name constants, matching §6's required set verbatim.
const (
	CmdVersion      = "version"
	CmdVerAck       = "verack"
	CmdPing         = "ping"
	CmdPong         = "pong"
	CmdGetAddr      = "getaddr"
	CmdAddr         = "addr"
	CmdGetHeaders   = "getheaders"
	CmdHeaders      = "headers"
	CmdGetData      = "getdata"
	CmdBlock        = "block"
	CmdGetCFHeaders = "getcfheaders"
	CmdCFHeaders    = "cfheaders"
	CmdGetCFilters  = "getcfilters"
	CmdCFilter      = "cfilter"
	CmdGetCFCheckpt = "getcfcheckpt"
	CmdCFCheckpt    = "cfcheckpt"
	CmdInv          = "inv"
	CmdNotFound     = "notfound"
	CmdMemPool      = "mempool"
	CmdFilterLoad   = "filterload"
	CmdFilterAdd    = "filteradd"
	CmdFilterClear  = "filterclear"
	CmdSendHeaders  = "sendheaders"
)

// New constructs a zero-value Message for command, or (nil, false) if the
// command is not recognized (§4.4 UnknownCommand: "non-fatal warning;
// frame is dropped").
func New(command string) (Message, bool) {
	switch command {
	case CmdVersion:
		return &MsgVersion{}, true
	case CmdVerAck:
		return &MsgVerAck{}, true
	case CmdPing:
		return &MsgPing{}, true
	case CmdPong:
		return &MsgPong{}, true
	case CmdGetAddr:
		return &MsgGetAddr{}, true
	case CmdAddr:
		return &MsgAddr{}, true
	case CmdGetHeaders:
		return &MsgGetHeaders{}, true
	case CmdHeaders:
		return &MsgHeaders{}, true
	case CmdGetData:
		return &MsgGetData{}, true
	case CmdBlock:
		return &MsgBlock{}, true
	case CmdGetCFHeaders:
		return &MsgGetCFHeaders{}, true
	case CmdCFHeaders:
		return &MsgCFHeaders{}, true
	case CmdGetCFilters:
		return &MsgGetCFilters{}, true
	case CmdCFilter:
		return &MsgCFilter{}, true
	case CmdGetCFCheckpt:
		return &MsgGetCFCheckpt{}, true
	case CmdCFCheckpt:
		return &MsgCFCheckpt{}, true
	case CmdInv:
		return &MsgInv{}, true
	case CmdNotFound:
		return &MsgNotFound{}, true
	case CmdMemPool:
		return &MsgMemPool{}, true
	case CmdFilterLoad:
		return &MsgFilterLoad{}, true
	case CmdFilterAdd:
		return &MsgFilterAdd{}, true
	case CmdFilterClear:
		return &MsgFilterClear{}, true
	case CmdSendHeaders:
		return &MsgSendHeaders{}, true
	default:
		return nil, false
	}
}

// Decode parses frame.Payload into the message type registered for
// frame.Command, returning lcerr.ErrUnknownCommand if none is registered.
func Decode(frame *Frame) (Message, error) {
	msg, ok := New(frame.Command)
	if !ok {
		return nil, fmt.Errorf("%w: %q", lcerr.ErrUnknownCommand, frame.Command)
	}
	if err := msg.Decode(bytes.NewReader(frame.Payload)); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeFrame serializes msg and writes it framed under magic.
func EncodeFrame(w io.Writer, magic [4]byte, msg Message) error {
	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		return err
	}
	return WriteFrame(w, magic, msg.Command(), buf.Bytes())
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeInt64(w io.Writer, v int64) error { return writeUint64(w, uint64(v)) }
func readInt64(r io.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeHash(w io.Writer, h chainhash.Hash) error {
	_, err := w.Write(h[:])
	return err
}

func readHash(r io.Reader) (chainhash.Hash, error) {
	var h chainhash.Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader, max uint64) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, lcerr.ErrOversizedPayload
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString(w io.Writer, s string) error { return writeVarBytes(w, []byte(s)) }
func readString(r io.Reader, max uint64) (string, error) {
	b, err := readVarBytes(r, max)
	return string(b), err
}

// NetAddr is a single peer address entry as carried in addr messages.
type NetAddr struct {
	Timestamp uint32
	Services  uint64
	IP        [16]byte
	Port      uint16
}

func (a *NetAddr) encode(w io.Writer) error {
	if err := writeUint32(w, a.Timestamp); err != nil {
		return err
	}
	if err := writeUint64(w, a.Services); err != nil {
		return err
	}
	if _, err := w.Write(a.IP[:]); err != nil {
		return err
	}
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], a.Port)
	_, err := w.Write(p[:])
	return err
}

func (a *NetAddr) decode(r io.Reader) error {
	var err error
	if a.Timestamp, err = readUint32(r); err != nil {
		return err
	}
	if a.Services, err = readUint64(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.IP[:]); err != nil {
		return err
	}
	var p [2]byte
	if _, err := io.ReadFull(r, p[:]); err != nil {
		return err
	}
	a.Port = binary.BigEndian.Uint16(p[:])
	return nil
}

// InvType discriminates the kind of item named by an InvVect.
type InvType uint32

const (
	InvBlock InvType = iota
	InvFilteredBlock
	InvCmpctBlock
)

// InvVect is one entry of an inv/getdata/notfound list.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

func (v *InvVect) encode(w io.Writer) error {
	if err := writeUint32(w, uint32(v.Type)); err != nil {
		return err
	}
	return writeHash(w, v.Hash)
}

func (v *InvVect) decode(r io.Reader) error {
	t, err := readUint32(r)
	if err != nil {
		return err
	}
	v.Type = InvType(t)
	v.Hash, err = readHash(r)
	return err
}

// MsgVersion is the handshake's first message (§4.8 "send version
// message").
type MsgVersion struct {
	ProtocolVersion uint32
	Services        uint64
	Timestamp       int64
	AddrRecv        NetAddr
	AddrFrom        NetAddr
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	RelayFilters    bool
}

func (m *MsgVersion) Command() string { return CmdVersion }

func (m *MsgVersion) Encode(w io.Writer) error {
	if err := writeUint32(w, m.ProtocolVersion); err != nil {
		return err
	}
	if err := writeUint64(w, m.Services); err != nil {
		return err
	}
	if err := writeInt64(w, m.Timestamp); err != nil {
		return err
	}
	if err := m.AddrRecv.encode(w); err != nil {
		return err
	}
	if err := m.AddrFrom.encode(w); err != nil {
		return err
	}
	if err := writeUint64(w, m.Nonce); err != nil {
		return err
	}
	if err := writeString(w, m.UserAgent); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(m.StartHeight)); err != nil {
		return err
	}
	var rf byte
	if m.RelayFilters {
		rf = 1
	}
	_, err := w.Write([]byte{rf})
	return err
}

func (m *MsgVersion) Decode(r io.Reader) error {
	var err error
	if m.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	if m.Services, err = readUint64(r); err != nil {
		return err
	}
	if m.Timestamp, err = readInt64(r); err != nil {
		return err
	}
	if err = m.AddrRecv.decode(r); err != nil {
		return err
	}
	if err = m.AddrFrom.decode(r); err != nil {
		return err
	}
	if m.Nonce, err = readUint64(r); err != nil {
		return err
	}
	if m.UserAgent, err = readString(r, 256); err != nil {
		return err
	}
	h, err := readUint32(r)
	if err != nil {
		return err
	}
	m.StartHeight = int32(h)
	var rf [1]byte
	if _, err := io.ReadFull(r, rf[:]); err != nil {
		return err
	}
	m.RelayFilters = rf[0] != 0
	return nil
}

// MsgVerAck acknowledges a version message. No payload.
type MsgVerAck struct{}

func (m *MsgVerAck) Command() string          { return CmdVerAck }
func (m *MsgVerAck) Encode(w io.Writer) error { return nil }
func (m *MsgVerAck) Decode(r io.Reader) error { return nil }

// MsgPing carries a liveness nonce (§4.8 per-tick bookkeeping).
type MsgPing struct{ Nonce uint64 }

func (m *MsgPing) Command() string { return CmdPing }
func (m *MsgPing) Encode(w io.Writer) error {
	return writeUint64(w, m.Nonce)
}
func (m *MsgPing) Decode(r io.Reader) error {
	n, err := readUint64(r)
	m.Nonce = n
	return err
}

// MsgPong echoes a ping's nonce.
type MsgPong struct{ Nonce uint64 }

func (m *MsgPong) Command() string { return CmdPong }
func (m *MsgPong) Encode(w io.Writer) error {
	return writeUint64(w, m.Nonce)
}
func (m *MsgPong) Decode(r io.Reader) error {
	n, err := readUint64(r)
	m.Nonce = n
	return err
}

// MsgGetAddr requests a peer's address book sample. No payload.
type MsgGetAddr struct{}

func (m *MsgGetAddr) Command() string         { return CmdGetAddr }
func (m *MsgGetAddr) Encode(w io.Writer) error { return nil }
func (m *MsgGetAddr) Decode(r io.Reader) error { return nil }

// MsgAddr carries a batch of peer addresses.
type MsgAddr struct{ Addrs []NetAddr }

func (m *MsgAddr) Command() string { return CmdAddr }
func (m *MsgAddr) Encode(w io.Writer) error {
	if err := WriteVarInt(w, uint64(len(m.Addrs))); err != nil {
		return err
	}
	for i := range m.Addrs {
		if err := m.Addrs[i].encode(w); err != nil {
			return err
		}
	}
	return nil
}
func (m *MsgAddr) Decode(r io.Reader) error {
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.Addrs = make([]NetAddr, n)
	for i := range m.Addrs {
		if err := m.Addrs[i].decode(r); err != nil {
			return err
		}
	}
	return nil
}

// MsgGetHeaders requests headers via a block locator (§4.6 reads it to
// answer with a headers message starting after the first locator hash it
// recognizes).
type MsgGetHeaders struct {
	ProtocolVersion uint32
	Locator         []chainhash.Hash
	HashStop        chainhash.Hash
}

func (m *MsgGetHeaders) Command() string { return CmdGetHeaders }
func (m *MsgGetHeaders) Encode(w io.Writer) error {
	if err := writeUint32(w, m.ProtocolVersion); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(m.Locator))); err != nil {
		return err
	}
	for _, h := range m.Locator {
		if err := writeHash(w, h); err != nil {
			return err
		}
	}
	return writeHash(w, m.HashStop)
}
func (m *MsgGetHeaders) Decode(r io.Reader) error {
	var err error
	if m.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.Locator = make([]chainhash.Hash, n)
	for i := range m.Locator {
		if m.Locator[i], err = readHash(r); err != nil {
			return err
		}
	}
	m.HashStop, err = readHash(r)
	return err
}

// HeaderEntry is a single serialized block header as carried in a headers
// message. Fields mirror §3's BlockHeader data model.
type HeaderEntry struct {
	Version    int32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

func (h *HeaderEntry) encode(w io.Writer) error {
	if err := writeUint32(w, uint32(h.Version)); err != nil {
		return err
	}
	if err := writeHash(w, h.PrevBlock); err != nil {
		return err
	}
	if err := writeHash(w, h.MerkleRoot); err != nil {
		return err
	}
	if err := writeUint32(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return err
	}
	return writeUint32(w, h.Nonce)
}

func (h *HeaderEntry) decode(r io.Reader) error {
	v, err := readUint32(r)
	if err != nil {
		return err
	}
	h.Version = int32(v)
	if h.PrevBlock, err = readHash(r); err != nil {
		return err
	}
	if h.MerkleRoot, err = readHash(r); err != nil {
		return err
	}
	if h.Timestamp, err = readUint32(r); err != nil {
		return err
	}
	if h.Bits, err = readUint32(r); err != nil {
		return err
	}
	h.Nonce, err = readUint32(r)
	return err
}

// MsgHeaders carries up to 2000 headers in answer to getheaders.
type MsgHeaders struct{ Headers []HeaderEntry }

func (m *MsgHeaders) Command() string { return CmdHeaders }
func (m *MsgHeaders) Encode(w io.Writer) error {
	if err := WriteVarInt(w, uint64(len(m.Headers))); err != nil {
		return err
	}
	for i := range m.Headers {
		if err := m.Headers[i].encode(w); err != nil {
			return err
		}
	}
	return nil
}
func (m *MsgHeaders) Decode(r io.Reader) error {
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.Headers = make([]HeaderEntry, n)
	for i := range m.Headers {
		if err := m.Headers[i].decode(r); err != nil {
			return err
		}
	}
	return nil
}

// MsgGetData requests the items named by Inv (blocks today; the minimum
// set in §6 doesn't include transaction relay for a filter-serving light
// client).
type MsgGetData struct{ Inv []InvVect }

func (m *MsgGetData) Command() string { return CmdGetData }
func (m *MsgGetData) Encode(w io.Writer) error { return encodeInvList(w, m.Inv) }
func (m *MsgGetData) Decode(r io.Reader) error {
	inv, err := decodeInvList(r)
	m.Inv = inv
	return err
}

func encodeInvList(w io.Writer, inv []InvVect) error {
	if err := WriteVarInt(w, uint64(len(inv))); err != nil {
		return err
	}
	for i := range inv {
		if err := inv[i].encode(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeInvList(r io.Reader) ([]InvVect, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	out := make([]InvVect, n)
	for i := range out {
		if err := out[i].decode(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MsgBlock carries one full block payload, opaque to the wire layer —
// interpretation belongs to internal/blockstore's caller.
type MsgBlock struct{ Raw []byte }

func (m *MsgBlock) Command() string { return CmdBlock }
func (m *MsgBlock) Encode(w io.Writer) error {
	_, err := w.Write(m.Raw)
	return err
}
func (m *MsgBlock) Decode(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, MaxPayloadSize))
	m.Raw = raw
	return err
}

// MsgGetCFHeaders requests a range of compact filter headers for one
// flavor (§4.7, §6).
type MsgGetCFHeaders struct {
	FilterType       uint8
	StartHeight      uint32
	StopHash         chainhash.Hash
}

func (m *MsgGetCFHeaders) Command() string { return CmdGetCFHeaders }
func (m *MsgGetCFHeaders) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if err := writeUint32(w, m.StartHeight); err != nil {
		return err
	}
	return writeHash(w, m.StopHash)
}
func (m *MsgGetCFHeaders) Decode(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}
	m.FilterType = t[0]
	var err error
	if m.StartHeight, err = readUint32(r); err != nil {
		return err
	}
	m.StopHash, err = readHash(r)
	return err
}

// MsgCFHeaders answers getcfheaders with a filter-header chain segment.
type MsgCFHeaders struct {
	FilterType    uint8
	StopHash      chainhash.Hash
	PrevHeader    chainhash.Hash
	FilterHashes  []chainhash.Hash
}

func (m *MsgCFHeaders) Command() string { return CmdCFHeaders }
func (m *MsgCFHeaders) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if err := writeHash(w, m.StopHash); err != nil {
		return err
	}
	if err := writeHash(w, m.PrevHeader); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(m.FilterHashes))); err != nil {
		return err
	}
	for _, h := range m.FilterHashes {
		if err := writeHash(w, h); err != nil {
			return err
		}
	}
	return nil
}
func (m *MsgCFHeaders) Decode(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}
	m.FilterType = t[0]
	var err error
	if m.StopHash, err = readHash(r); err != nil {
		return err
	}
	if m.PrevHeader, err = readHash(r); err != nil {
		return err
	}
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.FilterHashes = make([]chainhash.Hash, n)
	for i := range m.FilterHashes {
		if m.FilterHashes[i], err = readHash(r); err != nil {
			return err
		}
	}
	return nil
}

// MsgGetCFilters requests raw filter content for a height range.
type MsgGetCFilters struct {
	FilterType  uint8
	StartHeight uint32
	StopHash    chainhash.Hash
}

func (m *MsgGetCFilters) Command() string { return CmdGetCFilters }
func (m *MsgGetCFilters) Encode(w io.Writer) error {
	return (&MsgGetCFHeaders{FilterType: m.FilterType, StartHeight: m.StartHeight, StopHash: m.StopHash}).Encode(w)
}
func (m *MsgGetCFilters) Decode(r io.Reader) error {
	inner := &MsgGetCFHeaders{}
	if err := inner.Decode(r); err != nil {
		return err
	}
	m.FilterType, m.StartHeight, m.StopHash = inner.FilterType, inner.StartHeight, inner.StopHash
	return nil
}

// MsgCFilter carries one block's encoded GCS filter (§4.3 serialization).
type MsgCFilter struct {
	FilterType uint8
	BlockHash  chainhash.Hash
	Filter     []byte
}

func (m *MsgCFilter) Command() string { return CmdCFilter }
func (m *MsgCFilter) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if err := writeHash(w, m.BlockHash); err != nil {
		return err
	}
	return writeVarBytes(w, m.Filter)
}
func (m *MsgCFilter) Decode(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}
	m.FilterType = t[0]
	var err error
	if m.BlockHash, err = readHash(r); err != nil {
		return err
	}
	m.Filter, err = readVarBytes(r, MaxPayloadSize)
	return err
}

// MsgGetCFCheckpt requests filter-header checkpoints spaced every 1000
// blocks (the conventional BIP157 checkpoint interval).
type MsgGetCFCheckpt struct {
	FilterType uint8
	StopHash   chainhash.Hash
}

func (m *MsgGetCFCheckpt) Command() string { return CmdGetCFCheckpt }
func (m *MsgGetCFCheckpt) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	return writeHash(w, m.StopHash)
}
func (m *MsgGetCFCheckpt) Decode(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}
	m.FilterType = t[0]
	var err error
	m.StopHash, err = readHash(r)
	return err
}

// MsgCFCheckpt answers getcfcheckpt with a list of filter headers.
type MsgCFCheckpt struct {
	FilterType     uint8
	StopHash       chainhash.Hash
	FilterHeaders  []chainhash.Hash
}

func (m *MsgCFCheckpt) Command() string { return CmdCFCheckpt }
func (m *MsgCFCheckpt) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if err := writeHash(w, m.StopHash); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(m.FilterHeaders))); err != nil {
		return err
	}
	for _, h := range m.FilterHeaders {
		if err := writeHash(w, h); err != nil {
			return err
		}
	}
	return nil
}
func (m *MsgCFCheckpt) Decode(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}
	m.FilterType = t[0]
	var err error
	if m.StopHash, err = readHash(r); err != nil {
		return err
	}
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.FilterHeaders = make([]chainhash.Hash, n)
	for i := range m.FilterHeaders {
		if m.FilterHeaders[i], err = readHash(r); err != nil {
			return err
		}
	}
	return nil
}

// MsgInv announces available items to a peer.
type MsgInv struct{ Inv []InvVect }

func (m *MsgInv) Command() string         { return CmdInv }
func (m *MsgInv) Encode(w io.Writer) error { return encodeInvList(w, m.Inv) }
func (m *MsgInv) Decode(r io.Reader) error {
	inv, err := decodeInvList(r)
	m.Inv = inv
	return err
}

// MsgNotFound answers a getdata for items the peer doesn't have.
type MsgNotFound struct{ Inv []InvVect }

func (m *MsgNotFound) Command() string         { return CmdNotFound }
func (m *MsgNotFound) Encode(w io.Writer) error { return encodeInvList(w, m.Inv) }
func (m *MsgNotFound) Decode(r io.Reader) error {
	inv, err := decodeInvList(r)
	m.Inv = inv
	return err
}

// MsgMemPool requests a peer's mempool transaction ids. No payload; a
// light client core never populates a reply but still frames the request
// for a future full-node peer to answer.
type MsgMemPool struct{}

func (m *MsgMemPool) Command() string         { return CmdMemPool }
func (m *MsgMemPool) Encode(w io.Writer) error { return nil }
func (m *MsgMemPool) Decode(r io.Reader) error { return nil }

// MsgFilterLoad installs a bloom filter on the connection (legacy BIP37
// path, kept for peers that haven't adopted BIP157 compact filters).
type MsgFilterLoad struct {
	Filter    []byte
	HashFuncs uint32
	Tweak     uint32
	Flags     uint8
}

func (m *MsgFilterLoad) Command() string { return CmdFilterLoad }
func (m *MsgFilterLoad) Encode(w io.Writer) error {
	if err := writeVarBytes(w, m.Filter); err != nil {
		return err
	}
	if err := writeUint32(w, m.HashFuncs); err != nil {
		return err
	}
	if err := writeUint32(w, m.Tweak); err != nil {
		return err
	}
	_, err := w.Write([]byte{m.Flags})
	return err
}
func (m *MsgFilterLoad) Decode(r io.Reader) error {
	var err error
	if m.Filter, err = readVarBytes(r, 36000); err != nil {
		return err
	}
	if m.HashFuncs, err = readUint32(r); err != nil {
		return err
	}
	if m.Tweak, err = readUint32(r); err != nil {
		return err
	}
	var f [1]byte
	if _, err := io.ReadFull(r, f[:]); err != nil {
		return err
	}
	m.Flags = f[0]
	return nil
}

// MsgFilterAdd adds one element to the loaded bloom filter.
type MsgFilterAdd struct{ Data []byte }

func (m *MsgFilterAdd) Command() string { return CmdFilterAdd }
func (m *MsgFilterAdd) Encode(w io.Writer) error {
	return writeVarBytes(w, m.Data)
}
func (m *MsgFilterAdd) Decode(r io.Reader) error {
	b, err := readVarBytes(r, 520)
	m.Data = b
	return err
}

// MsgFilterClear removes any loaded bloom filter. No payload.
type MsgFilterClear struct{}

func (m *MsgFilterClear) Command() string         { return CmdFilterClear }
func (m *MsgFilterClear) Encode(w io.Writer) error { return nil }
func (m *MsgFilterClear) Decode(r io.Reader) error { return nil }

// MsgSendHeaders requests the peer announce new blocks via headers rather
// than inv. No payload.
type MsgSendHeaders struct{}

func (m *MsgSendHeaders) Command() string         { return CmdSendHeaders }
func (m *MsgSendHeaders) Encode(w io.Writer) error { return nil }
func (m *MsgSendHeaders) Decode(r io.Reader) error { return nil }
