// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package addrbook

import (
	"context"
	"testing"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/memdb"
)

func openTestBook(t *testing.T) *Book {
	t.Helper()
	db := memdb.Open(kv.ChaindataTablesCfg)
	book, err := Open(context.Background(), db)
	if err != nil {
		t.Fatalf("open book: %v", err)
	}
	return book
}

func TestDeriveIDDeterministic(t *testing.T) {
	id1 := DeriveID(70015, 1, []byte{127, 0, 0, 1}, 8333, 1)
	id2 := DeriveID(70015, 1, []byte{127, 0, 0, 1}, 8333, 1)
	if id1 != id2 {
		t.Fatal("DeriveID not deterministic for identical identity tuple")
	}
}

func TestAddOrUpdatePreservesID(t *testing.T) {
	book := openTestBook(t)
	ctx := context.Background()

	rec := &Record{Chain: 1, Protocol: 70015, Network: 1, Bytes: []byte{10, 0, 0, 1}, Port: 8333}
	if err := book.AddOrUpdate(ctx, rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	id := rec.ID

	svc := bitset.New(8).Set(2)
	rec2 := &Record{ID: id, Chain: 1, Protocol: 70015, Network: 1, Bytes: []byte{10, 0, 0, 1}, Port: 8333, Services: svc, LastConnected: time.Now()}
	if err := book.AddOrUpdate(ctx, rec2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec2.ID != id {
		t.Fatalf("id changed across update: %v -> %v", id, rec2.ID)
	}
}

func TestFindReturnsCandidateMatchingFilters(t *testing.T) {
	book := openTestBook(t)
	ctx := context.Background()

	svc := bitset.New(8).Set(3)
	rec := &Record{Chain: 1, Protocol: 70015, Network: 1, Bytes: []byte{1, 2, 3, 4}, Port: 8333, Services: svc, LastConnected: time.Now()}
	if err := book.AddOrUpdate(ctx, rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	found, ok := book.Find(1, 70015, []uint8{1}, []uint32{3})
	if !ok {
		t.Fatal("expected a candidate")
	}
	if found.ID != rec.ID {
		t.Fatalf("got %v want %v", found.ID, rec.ID)
	}
}

func TestFindNoCandidateOnEmptyIntersection(t *testing.T) {
	book := openTestBook(t)
	ctx := context.Background()

	rec := &Record{Chain: 1, Protocol: 70015, Network: 1, Bytes: []byte{1, 2, 3, 4}, Port: 8333}
	if err := book.AddOrUpdate(ctx, rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, ok := book.Find(1, 70015, []uint8{1}, []uint32{99}); ok {
		t.Fatal("expected no candidate for an unsatisfied service filter")
	}
}

func TestImportOnlyCountsNewIDs(t *testing.T) {
	book := openTestBook(t)
	ctx := context.Background()

	recs := []*Record{
		{Chain: 1, Protocol: 70015, Network: 1, Bytes: []byte{1, 1, 1, 1}, Port: 8333},
		{Chain: 1, Protocol: 70015, Network: 1, Bytes: []byte{2, 2, 2, 2}, Port: 8333},
	}
	n, err := book.Import(ctx, recs)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 new records, got %d", n)
	}

	n2, err := book.Import(ctx, recs)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("expected 0 new records on re-import, got %d", n2)
	}
}

func TestWeightedSamplingFavorsRecentlyConnected(t *testing.T) {
	book := openTestBook(t)
	ctx := context.Background()

	stale := &Record{Chain: 1, Protocol: 1, Network: 1, Bytes: []byte{1, 1, 1, 1}, Port: 1, LastConnected: time.Now().Add(-72 * time.Hour)}
	fresh := &Record{Chain: 1, Protocol: 1, Network: 1, Bytes: []byte{2, 2, 2, 2}, Port: 2, LastConnected: time.Now()}
	if err := book.AddOrUpdate(ctx, stale); err != nil {
		t.Fatalf("add stale: %v", err)
	}
	if err := book.AddOrUpdate(ctx, fresh); err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	freshHits := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		found, ok := book.Find(1, 1, nil, nil)
		if !ok {
			t.Fatal("expected a candidate")
		}
		if found.ID == fresh.ID {
			freshHits++
		}
	}
	// weight 10 vs weight 1 => ~90.9% expected; assert it's at least biased
	// well above uniform (50%) rather than pinning an exact ratio.
	if freshHits < trials*7/10 {
		t.Fatalf("expected weighted sampling to favor the recently-connected peer, got %d/%d", freshHits, trials)
	}
}
