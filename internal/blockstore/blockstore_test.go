// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package blockstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/config"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/memdb"
)

func openTestStore(t *testing.T, policy config.StoragePolicy, capacity uint64) *Store {
	t.Helper()
	db := memdb.Open(kv.ChaindataTablesCfg)
	ctx := context.Background()
	if err := config.EnsureInitialized(ctx, db, policy); err != nil {
		t.Fatalf("init config: %v", err)
	}
	s, err := Open(ctx, t.TempDir(), db, policy, capacity)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.PolicyAll, 0)

	hash := chainhash.DoubleHashRaw([]byte("block-1"))
	payload := []byte("this is a test block payload")

	if err := s.Store(ctx, hash, payload); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := s.Load(ctx, hash)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected block to be found")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, payload)
	}
}

func TestStoreIsIdempotentForEqualSize(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.PolicyAll, 0)

	hash := chainhash.DoubleHashRaw([]byte("block-2"))
	payload := []byte("fixed size payload")

	if err := s.Store(ctx, hash, payload); err != nil {
		t.Fatalf("first store: %v", err)
	}
	var p1 uint64
	if err := s.db.View(ctx, func(tx kv.Tx) error {
		var err error
		p1, err = config.NextBlockAddress(tx)
		return err
	}); err != nil {
		t.Fatalf("read P: %v", err)
	}

	if err := s.Store(ctx, hash, payload); err != nil {
		t.Fatalf("second store: %v", err)
	}
	var p2 uint64
	if err := s.db.View(ctx, func(tx kv.Tx) error {
		var err error
		p2, err = config.NextBlockAddress(tx)
		return err
	}); err != nil {
		t.Fatalf("read P: %v", err)
	}

	if p1 != p2 {
		t.Fatalf("P advanced on idempotent re-store: %d -> %d", p1, p2)
	}
}

func TestStoreRejectsEmptyPayload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.PolicyAll, 0)
	hash := chainhash.DoubleHashRaw([]byte("block-3"))

	if err := s.Store(ctx, hash, nil); err == nil {
		t.Fatal("expected error storing empty payload")
	}
}

func TestNoBlockStraddlesFileBoundary(t *testing.T) {
	ctx := context.Background()
	const capacity = 4096
	s := openTestStore(t, config.PolicyAll, capacity)

	payload := bytes.Repeat([]byte{0xab}, 3000)
	for i := 0; i < 3; i++ {
		hash := chainhash.DoubleHashRaw([]byte{byte(i)})
		if err := s.Store(ctx, hash, payload); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}

	if err := s.db.View(ctx, func(tx kv.Tx) error {
		return tx.ForEach(kv.BlockIndex, kv.Forward, func(k, v []byte) (bool, error) {
			e, err := unmarshalIndexEntry(v)
			if err != nil {
				return false, err
			}
			startFile := e.offset / capacity
			endFile := (e.offset + e.storedSize - 1) / capacity
			if startFile != endFile {
				t.Fatalf("entry at offset %d size %d straddles files %d and %d", e.offset, e.storedSize, startFile, endFile)
			}
			return true, nil
		})
	}); err != nil {
		t.Fatalf("iterate index: %v", err)
	}
}

func TestPolicyNoneStoresNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.PolicyNone, 0)
	hash := chainhash.DoubleHashRaw([]byte("block-none"))

	if err := s.Store(ctx, hash, []byte("irrelevant")); err != nil {
		t.Fatalf("store: %v", err)
	}
	exists, err := s.Exists(ctx, hash)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected no index entry under PolicyNone")
	}
}
