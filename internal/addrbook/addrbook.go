// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package addrbook is the peer address book (§4.5): a persistent catalog
// of peers in C1 plus in-memory multi-attribute secondary indices used
// for weighted candidate selection by internal/peermgr.
package addrbook

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/btree"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
)

// Record is a PeerAddress (§3): identity fields that make up id are
// immutable once computed; services and lastConnected are refreshed on
// every connect/disconnect without changing id (invariant 8).
type Record struct {
	ID      chainhash.Hash
	Chain   uint32
	Protocol uint32
	Network  uint8
	Bytes    []byte // raw address bytes (4 for IPv4, 16 for IPv6, etc.)
	Port     uint16

	LastConnected time.Time
	Services      *bitset.BitSet

	PreviousServices      *bitset.BitSet
	PreviousLastConnected time.Time
}

// DeriveID computes the deterministic id (§3 invariant 8): a hash of the
// normalized (protocol, network, bytes, port, chain) tuple with time and
// service list blanked.
func DeriveID(protocol uint32, network uint8, addrBytes []byte, port uint16, chain uint32) chainhash.Hash {
	buf := make([]byte, 0, 4+1+len(addrBytes)+2+4)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], protocol)
	buf = append(buf, tmp4[:]...)
	buf = append(buf, network)
	buf = append(buf, addrBytes...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], port)
	buf = append(buf, tmp2[:]...)
	binary.BigEndian.PutUint32(tmp4[:], chain)
	buf = append(buf, tmp4[:]...)
	return chainhash.DoubleHashRaw(buf)
}

// idItem is a btree.Item ordering peer ids by their raw bytes, used by
// every secondary index below.
type idItem chainhash.Hash

func (a idItem) Less(than btree.Item) bool {
	b := than.(idItem)
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// bucketIndex maps an integer attribute value to the set of peer ids
// observed with that value, backed by one google/btree per bucket so
// `find`'s per-bucket membership test and in-order walk are both cheap
// (§4.5+ secondary indices as ordered trees).
type bucketIndex struct {
	buckets map[uint64]*btree.BTree
}

func newBucketIndex() *bucketIndex {
	return &bucketIndex{buckets: make(map[uint64]*btree.BTree)}
}

func (bi *bucketIndex) add(bucket uint64, id chainhash.Hash) {
	t, ok := bi.buckets[bucket]
	if !ok {
		t = btree.New(32)
		bi.buckets[bucket] = t
	}
	t.ReplaceOrInsert(idItem(id))
}

func (bi *bucketIndex) remove(bucket uint64, id chainhash.Hash) {
	t, ok := bi.buckets[bucket]
	if !ok {
		return
	}
	t.Delete(idItem(id))
	if t.Len() == 0 {
		delete(bi.buckets, bucket)
	}
}

func (bi *bucketIndex) has(bucket uint64, id chainhash.Hash) bool {
	t, ok := bi.buckets[bucket]
	if !ok {
		return false
	}
	return t.Has(idItem(id))
}

func (bi *bucketIndex) all(bucket uint64) []chainhash.Hash {
	t, ok := bi.buckets[bucket]
	if !ok {
		return nil
	}
	out := make([]chainhash.Hash, 0, t.Len())
	t.Ascend(func(it btree.Item) bool {
		out = append(out, chainhash.Hash(it.(idItem)))
		return true
	})
	return out
}

// Book is the in-memory mirror plus C1-backed persistent store (§4.5).
type Book struct {
	db kv.RwDB

	mu             sync.RWMutex
	records        map[chainhash.Hash]*Record
	byChain        *bucketIndex
	byProtocol     *bucketIndex
	byService      *bucketIndex // bucket = service bit index
	byNetwork      *bucketIndex
	byLastConn     *bucketIndex // bucket = lastConnected in unix seconds
}

// Open loads every secondary index table under one read transaction,
// rebuilding the in-memory mirrors (§4.5 "rebuilt at startup").
func Open(ctx context.Context, db kv.RwDB) (*Book, error) {
	b := &Book{
		db:         db,
		records:    make(map[chainhash.Hash]*Record),
		byChain:    newBucketIndex(),
		byProtocol: newBucketIndex(),
		byService:  newBucketIndex(),
		byNetwork:  newBucketIndex(),
		byLastConn: newBucketIndex(),
	}
	err := db.View(ctx, func(tx kv.Tx) error {
		return tx.ForEach(kv.Peers, kv.Forward, func(k, v []byte) (bool, error) {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return false, err
			}
			b.indexInMemory(rec)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Book) indexInMemory(rec *Record) {
	b.records[rec.ID] = rec
	b.byChain.add(uint64(rec.Chain), rec.ID)
	b.byProtocol.add(uint64(rec.Protocol), rec.ID)
	b.byNetwork.add(uint64(rec.Network), rec.ID)
	b.byLastConn.add(lastConnBucket(rec.LastConnected), rec.ID)
	if rec.Services != nil {
		for i, e := rec.Services.NextSet(0); e; i, e = rec.Services.NextSet(i + 1) {
			b.byService.add(uint64(i), rec.ID)
		}
	}
}

func lastConnBucket(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

// Get returns the in-memory record for id, if known. Callers that need to
// preserve a peer's previously observed Services across a reconnect (§4.5
// invariant 8: services/lastConnected refresh without changing id) should
// look the record up here before building a replacement to AddOrUpdate.
func (b *Book) Get(id chainhash.Hash) (*Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	return rec, ok
}

// AddOrUpdate computes rec's id if unset, writes the primary record and
// every secondary index within one write transaction, and removes any
// obsolete service/lastConnected bucket entries (§4.5 add_or_update).
func (b *Book) AddOrUpdate(ctx context.Context, rec *Record) error {
	if rec.ID.IsZero() {
		rec.ID = DeriveID(rec.Protocol, rec.Network, rec.Bytes, rec.Port, rec.Chain)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.records[rec.ID]

	err := b.db.Update(ctx, func(tx kv.RwTx) error {
		if err := tx.Put(kv.Peers, rec.ID[:], marshalRecord(rec), 0); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		if prev == nil {
			if err := putBucket(tx, kv.PeerByChain, uint64(rec.Chain), rec.ID); err != nil {
				return err
			}
			if err := putBucket(tx, kv.PeerByProtocol, uint64(rec.Protocol), rec.ID); err != nil {
				return err
			}
			if err := putBucket(tx, kv.PeerByNetwork, uint64(rec.Network), rec.ID); err != nil {
				return err
			}
		} else if prev.LastConnected != rec.LastConnected {
			if err := deleteBucket(tx, kv.PeerByLastConnected, lastConnBucket(prev.LastConnected), rec.ID); err != nil {
				return err
			}
		}
		if err := putBucket(tx, kv.PeerByLastConnected, lastConnBucket(rec.LastConnected), rec.ID); err != nil {
			return err
		}

		// obsolete service bits: present previously, absent now.
		if prev != nil && prev.Services != nil {
			for i, e := prev.Services.NextSet(0); e; i, e = prev.Services.NextSet(i + 1) {
				if rec.Services == nil || !rec.Services.Test(i) {
					if err := deleteBucket(tx, kv.PeerByService, uint64(i), rec.ID); err != nil {
						return err
					}
				}
			}
		}
		if rec.Services != nil {
			for i, e := rec.Services.NextSet(0); e; i, e = rec.Services.NextSet(i + 1) {
				if prev == nil || prev.Services == nil || !prev.Services.Test(i) {
					if err := putBucket(tx, kv.PeerByService, uint64(i), rec.ID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if prev != nil {
		b.byLastConn.remove(lastConnBucket(prev.LastConnected), rec.ID)
		if prev.Services != nil {
			for i, e := prev.Services.NextSet(0); e; i, e = prev.Services.NextSet(i + 1) {
				if rec.Services == nil || !rec.Services.Test(i) {
					b.byService.remove(uint64(i), rec.ID)
				}
			}
		}
	} else {
		b.byChain.add(uint64(rec.Chain), rec.ID)
		b.byProtocol.add(uint64(rec.Protocol), rec.ID)
		b.byNetwork.add(uint64(rec.Network), rec.ID)
	}
	b.byLastConn.add(lastConnBucket(rec.LastConnected), rec.ID)
	if rec.Services != nil {
		for i, e := rec.Services.NextSet(0); e; i, e = rec.Services.NextSet(i + 1) {
			b.byService.add(uint64(i), rec.ID)
		}
	}
	b.records[rec.ID] = rec
	return nil
}

func putBucket(tx kv.RwTx, table string, bucket uint64, id chainhash.Hash) error {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], bucket)
	if err := tx.Put(table, key[:], id[:], 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}

func deleteBucket(tx kv.RwTx, table string, bucket uint64, id chainhash.Hash) error {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], bucket)
	if err := tx.DeleteDup(table, key[:], id[:]); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}

// Find selects exactly one candidate matching chain/protocol, present on
// at least one of onNetworks, and present in every withServices bucket,
// weighted by recency of connection (§4.5 find).
func (b *Book) Find(chain, protocol uint32, onNetworks []uint8, withServices []uint32) (*Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	chainSet := b.byChain.all(uint64(chain))
	if len(chainSet) == 0 {
		return nil, false
	}
	protocolIDs := toSet(b.byProtocol.all(uint64(protocol)))

	var networkIDs map[chainhash.Hash]struct{}
	if len(onNetworks) == 0 {
		networkIDs = nil // no network filter
	} else {
		networkIDs = make(map[chainhash.Hash]struct{})
		for _, n := range onNetworks {
			for _, id := range b.byNetwork.all(uint64(n)) {
				networkIDs[id] = struct{}{}
			}
		}
	}

	var candidates []chainhash.Hash
	for _, id := range chainSet {
		if _, ok := protocolIDs[id]; !ok {
			continue
		}
		if networkIDs != nil {
			if _, ok := networkIDs[id]; !ok {
				continue
			}
		}
		ok := true
		for _, s := range withServices {
			if !b.byService.has(uint64(s), id) {
				ok = false
				break
			}
		}
		if ok {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	weights := make([]int64, len(candidates))
	total := int64(0)
	now := time.Now()
	for i, id := range candidates {
		rec := b.records[id]
		w := int64(1)
		if rec != nil && !rec.LastConnected.IsZero() {
			age := now.Sub(rec.LastConnected)
			switch {
			case age < time.Hour:
				w = 10
			case age < 24*time.Hour:
				w = 5
			}
		}
		weights[i] = w
		total += w
	}

	pick, err := rand.Int(rand.Reader, big.NewInt(total))
	if err != nil {
		return b.records[candidates[0]], true
	}
	target := pick.Int64()
	for i, w := range weights {
		if target < w {
			return b.records[candidates[i]], true
		}
		target -= w
	}
	return b.records[candidates[len(candidates)-1]], true
}

func toSet(ids []chainhash.Hash) map[chainhash.Hash]struct{} {
	out := make(map[chainhash.Hash]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Import bulk-adds only previously unknown ids, returning the count of
// genuinely new records inserted — a behavior the distilled spec leaves
// implicit but which original_source/src/blockchain/database/Peers.cpp's
// Import return value makes explicit (SPEC_FULL.md §6++++).
func (b *Book) Import(ctx context.Context, recs []*Record) (int, error) {
	imported := 0
	for _, rec := range recs {
		if rec.ID.IsZero() {
			rec.ID = DeriveID(rec.Protocol, rec.Network, rec.Bytes, rec.Port, rec.Chain)
		}
		b.mu.RLock()
		_, known := b.records[rec.ID]
		b.mu.RUnlock()
		if known {
			continue
		}
		if err := b.AddOrUpdate(ctx, rec); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
