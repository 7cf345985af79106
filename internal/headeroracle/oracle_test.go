// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package headeroracle

import (
	"context"
	"testing"
	"time"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/memdb"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
	"github.com/lightcore-labs/lightcore/internal/reorg"
	"github.com/lightcore-labs/lightcore/internal/work"
)

// easyBits is the regtest-style nBits 0x207fffff, whose target is just under
// 2^255: roughly half of all hashes pass the PoW check, so chainBuilder only
// has to try a few nonces per header.
const easyBits = 0x207fffff

func openTestOracle(t *testing.T, bus *reorg.Bus) *Oracle {
	t.Helper()
	db := memdb.Open(kv.ChaindataTablesCfg)
	o, err := Open(context.Background(), db, 1, bus)
	if err != nil {
		t.Fatalf("open oracle: %v", err)
	}
	o.now = func() time.Time { return time.Unix(1700000000, 0) }
	return o
}

// chainBuilder produces a deterministic sequence of linked Raw headers
// whose hashes differ only via the Nonce field, starting from genesis
// (an all-zero Prev). next advances the nonce until the header meets
// easyBits.
type chainBuilder struct {
	prev  chainhash.Hash
	nonce uint32
}

func (c *chainBuilder) next() Raw {
	r := Raw{
		Version:    1,
		Prev:       c.prev,
		MerkleRoot: chainhash.Hash{},
		Timestamp:  1700000000,
		Bits:       easyBits,
		Nonce:      c.nonce,
	}
	for !work.MeetsTarget(r.Hash(), r.Bits) {
		r.Nonce++
	}
	c.nonce = r.Nonce + 1
	c.prev = r.Hash()
	return r
}

func (c *chainBuilder) fork(from chainhash.Hash, startNonce uint32) *chainBuilder {
	return &chainBuilder{prev: from, nonce: startNonce}
}

func TestGenesisOnlyStart(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	genesis := cb.next()

	if err := o.AddHeaders(context.Background(), []Raw{genesis}); err != nil {
		t.Fatalf("AddHeaders: %v", err)
	}
	tip := o.BestTip()
	if tip.Height != 0 || tip.Hash != genesis.Hash() {
		t.Fatalf("unexpected tip %+v", tip)
	}
}

func TestLinearExtension(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	var batch []Raw
	for i := 0; i < 10; i++ {
		batch = append(batch, cb.next())
	}
	if err := o.AddHeaders(context.Background(), batch); err != nil {
		t.Fatalf("AddHeaders: %v", err)
	}
	tip := o.BestTip()
	if tip.Height != 9 {
		t.Fatalf("want height 9, got %d", tip.Height)
	}
	if tip.Hash != batch[9].Hash() {
		t.Fatalf("tip hash mismatch")
	}
}

func TestReFeedingKnownHeaderIsNoOp(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	genesis := cb.next()
	if err := o.AddHeaders(context.Background(), []Raw{genesis}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := o.AddHeaders(context.Background(), []Raw{genesis}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	tip := o.BestTip()
	if tip.Height != 0 || tip.Hash != genesis.Hash() {
		t.Fatalf("tip moved on re-feed: %+v", tip)
	}
}

func TestSimpleReorg(t *testing.T) {
	var gotEvent reorg.Event
	bus := reorg.NewBus()
	bus.Subscribe(reorg.SubscriberFunc(func(ctx context.Context, ev reorg.Event) error {
		gotEvent = ev
		return nil
	}))
	o := openTestOracle(t, bus)

	cb := &chainBuilder{}
	genesis := cb.next()
	a1 := cb.next()
	a2 := cb.next()
	if err := o.AddHeaders(context.Background(), []Raw{genesis, a1, a2}); err != nil {
		t.Fatalf("seed chain: %v", err)
	}

	forkPoint := genesis.Hash()
	fb := (&chainBuilder{}).fork(forkPoint, 1000)
	b1 := fb.next()
	b2 := fb.next()
	b3 := fb.next()
	if err := o.AddHeaders(context.Background(), []Raw{b1, b2, b3}); err != nil {
		t.Fatalf("add longer fork: %v", err)
	}

	tip := o.BestTip()
	if tip.Hash != b3.Hash() || tip.Height != 3 {
		t.Fatalf("expected reorg onto b3, got %+v", tip)
	}
	if gotEvent.CommonAncestorHash != forkPoint || gotEvent.CommonAncestorHeight != 0 {
		t.Fatalf("unexpected reorg event %+v", gotEvent)
	}

	oldTipHeader, ok, err := o.HeaderByHash(context.Background(), a2.Hash())
	if err != nil || !ok {
		t.Fatalf("old tip header missing: %v", err)
	}
	_ = oldTipHeader
}

func TestDisconnectedFragmentThenParent(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	genesis := cb.next()
	child := cb.next()
	grandchild := cb.next()

	if err := o.AddHeaders(context.Background(), []Raw{child, grandchild}); err != nil {
		t.Fatalf("add orphan fragment: %v", err)
	}
	if tip := o.BestTip(); !tip.IsNone() {
		t.Fatalf("expected no best tip before genesis arrives, got %+v", tip)
	}

	if err := o.AddHeaders(context.Background(), []Raw{genesis}); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	tip := o.BestTip()
	if tip.Height != 2 || tip.Hash != grandchild.Hash() {
		t.Fatalf("fragment did not reconnect: %+v", tip)
	}
}

func TestInvalidHeaderRejectedOnBadProofOfWork(t *testing.T) {
	o := openTestOracle(t, nil)
	bad := Raw{Version: 1, Timestamp: 1700000000, Bits: 0x1d00ffff, Nonce: 0}
	err := o.AddHeaders(context.Background(), []Raw{bad})
	if err == nil {
		t.Fatal("expected PoW rejection")
	}
}

func TestAddCheckpointBansDivergentChain(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	genesis := cb.next()
	a1 := cb.next()
	a2 := cb.next()
	if err := o.AddHeaders(context.Background(), []Raw{genesis, a1, a2}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := o.AddCheckpoint(context.Background(), 1, a1.Hash()); err != nil {
		t.Fatalf("add checkpoint: %v", err)
	}

	tip := o.BestTip()
	if tip.Hash != a2.Hash() {
		t.Fatalf("checkpoint-matching chain should remain tip, got %+v", tip)
	}

	fb := (&chainBuilder{}).fork(genesis.Hash(), 2000)
	rogue1 := fb.next()
	rogue2 := fb.next()
	rogue3 := fb.next()
	rogue4 := fb.next()
	err := o.AddHeaders(context.Background(), []Raw{rogue1, rogue2, rogue3, rogue4})
	if err != nil {
		t.Fatalf("add rogue fork: %v", err)
	}
	tip = o.BestTip()
	if tip.Hash != a2.Hash() {
		t.Fatalf("longer chain diverging from checkpoint must not win, got %+v", tip)
	}
}

func TestAddCheckpointRejectsDuplicateHeight(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	genesis := cb.next()
	if err := o.AddHeaders(context.Background(), []Raw{genesis}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := o.AddCheckpoint(context.Background(), 0, genesis.Hash()); err != nil {
		t.Fatalf("first checkpoint: %v", err)
	}
	err := o.AddCheckpoint(context.Background(), 0, genesis.Hash())
	if err == nil || !errorsIs(err, lcerr.ErrCheckpointExists) {
		t.Fatalf("expected ErrCheckpointExists, got %v", err)
	}
}

func TestDeleteCheckpointRoundTrip(t *testing.T) {
	o := openTestOracle(t, nil)
	cb := &chainBuilder{}
	genesis := cb.next()
	a1 := cb.next()
	if err := o.AddHeaders(context.Background(), []Raw{genesis, a1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := o.AddCheckpoint(context.Background(), 1, a1.Hash()); err != nil {
		t.Fatalf("add checkpoint: %v", err)
	}
	if err := o.DeleteCheckpoint(context.Background(), 1); err != nil {
		t.Fatalf("delete checkpoint: %v", err)
	}
	if o.checkpoint != nil {
		t.Fatal("checkpoint should be cleared")
	}
}

func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
