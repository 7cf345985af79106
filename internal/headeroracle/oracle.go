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
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
	"github.com/lightcore-labs/lightcore/internal/reorg"
	"github.com/lightcore-labs/lightcore/internal/work"
)

const checkpointKey = "checkpoint"

// maxFutureDrift bounds how far in the future a header's timestamp may be
// relative to the node's clock before it is rejected (§4.6).
const maxFutureDrift = 2 * time.Hour

// Checkpoint pins a known-good (height, hash) pair (§4.6 add_checkpoint).
type Checkpoint struct {
	Height chainhash.Height
	Hash   chainhash.Hash
}

// Oracle is the header-chain state machine (§4.6). All accept/reorg work
// for one chain happens under oracle.mu, matching §5's "dedicated
// serialization task" concurrency model collapsed onto a mutex: requests
// are processed in the order they arrive and never interleave.
type Oracle struct {
	db    kv.RwDB
	chain uint32
	bus   *reorg.Bus
	now   func() time.Time

	mu         sync.Mutex
	cache      *lru.Cache[chainhash.Hash, *Header]
	tipHeight  chainhash.Height
	tipHash    chainhash.Hash
	checkpoint *Checkpoint
}

// Open loads the current best-chain tip and checkpoint from db and
// returns a ready Oracle. bus may be nil if reorg notifications are not
// needed (e.g. in isolated tests).
func Open(ctx context.Context, db kv.RwDB, chain uint32, bus *reorg.Bus) (*Oracle, error) {
	cache, err := lru.New[chainhash.Hash, *Header](4096)
	if err != nil {
		return nil, fmt.Errorf("headeroracle: new cache: %w", err)
	}
	o := &Oracle{db: db, chain: chain, bus: bus, now: time.Now, cache: cache, tipHeight: chainhash.NoHeight}

	err = db.View(ctx, func(tx kv.Tx) error {
		if err := o.loadTip(tx); err != nil {
			return err
		}
		return o.loadCheckpoint(tx)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Oracle) loadTip(tx kv.Tx) error {
	found := false
	if err := tx.ForEach(kv.HeaderByHeight, kv.Backward, func(k, v []byte) (bool, error) {
		o.tipHeight = chainhash.Height(int64(binary.BigEndian.Uint64(k)))
		copy(o.tipHash[:], v)
		found = true
		return false, nil
	}); err != nil {
		return err
	}
	if !found {
		o.tipHeight = chainhash.NoHeight
	}
	return nil
}

func (o *Oracle) loadCheckpoint(tx kv.Tx) error {
	v, ok, err := tx.GetOne(kv.Checkpoint, []byte(checkpointKey))
	if err != nil {
		return err
	}
	if !ok {
		o.checkpoint = nil
		return nil
	}
	cp := &Checkpoint{}
	cp.Height = chainhash.Height(int64(binary.BigEndian.Uint64(v[0:8])))
	copy(cp.Hash[:], v[8:40])
	o.checkpoint = cp
	return nil
}

// BestTip returns the current best-chain tip position.
func (o *Oracle) BestTip() chainhash.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tipHeight == chainhash.NoHeight {
		return chainhash.NonePosition
	}
	return chainhash.Position{Height: o.tipHeight, Hash: o.tipHash}
}

func headerKey(h chainhash.Hash) []byte { return h[:] }

func heightKey(height chainhash.Height) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(height))
	return k[:]
}

func (o *Oracle) getHeader(tx kv.Tx, hash chainhash.Hash) (*Header, bool, error) {
	if h, ok := o.cache.Get(hash); ok {
		return h, true, nil
	}
	v, ok, err := tx.GetOne(kv.Headers, headerKey(hash))
	if err != nil || !ok {
		return nil, false, err
	}
	h, err := unmarshalHeader(v)
	if err != nil {
		return nil, false, err
	}
	o.cache.Add(hash, h)
	return h, true, nil
}

func (o *Oracle) putHeader(tx kv.RwTx, h *Header) error {
	if err := tx.Put(kv.Headers, headerKey(h.Hash), marshalHeader(h), 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	o.cache.Add(h.Hash, h)
	return nil
}

// HeaderByHash looks up a known header.
func (o *Oracle) HeaderByHash(ctx context.Context, hash chainhash.Hash) (*Header, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var h *Header
	var ok bool
	err := o.db.View(ctx, func(tx kv.Tx) error {
		var err error
		h, ok, err = o.getHeader(tx, hash)
		return err
	})
	return h, ok, err
}

// HeaderByHeight looks up the best-chain header at height.
func (o *Oracle) HeaderByHeight(ctx context.Context, height chainhash.Height) (*Header, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var h *Header
	var ok bool
	err := o.db.View(ctx, func(tx kv.Tx) error {
		v, found, err := tx.GetOne(kv.HeaderByHeight, heightKey(height))
		if err != nil || !found {
			return err
		}
		var hash chainhash.Hash
		copy(hash[:], v)
		h, ok, err = o.getHeader(tx, hash)
		return err
	})
	return h, ok, err
}

// acceptCtx accumulates state across the processing of one AddHeaders
// batch: candidate tips discovered, and the tie-break order they were
// seen in (§4.6 step 1 "Build/extend the candidate chain segment"; step 2
// "break ties deterministically by earliest-seen").
type acceptCtx struct {
	tx            kv.RwTx
	candidateTips []chainhash.Hash
	seen          map[chainhash.Hash]struct{}
}

func (ac *acceptCtx) addCandidate(hash chainhash.Hash) {
	if _, ok := ac.seen[hash]; ok {
		return
	}
	ac.seen[hash] = struct{}{}
	ac.candidateTips = append(ac.candidateTips, hash)
}

func (ac *acceptCtx) removeCandidate(hash chainhash.Hash) {
	delete(ac.seen, hash)
	for i, h := range ac.candidateTips {
		if h == hash {
			ac.candidateTips = append(ac.candidateTips[:i], ac.candidateTips[i+1:]...)
			return
		}
	}
}

// AddHeaders runs the accept algorithm (§4.6) over batch atomically: every
// header is staged, candidates are built, a winner is chosen, and (if the
// winner differs from the current tip) a reorg is performed — all inside
// one storage transaction. A reorg notification is published only after
// the transaction commits successfully.
func (o *Oracle) AddHeaders(ctx context.Context, batch []Raw) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var reorgEvent *reorg.Event

	err := o.db.Update(ctx, func(tx kv.RwTx) error {
		ac := &acceptCtx{tx: tx, seen: make(map[chainhash.Hash]struct{})}

		for _, raw := range batch {
			if err := o.accept(ac, raw); err != nil {
				return err
			}
		}

		ev, err := o.selectWinnerAndCommit(ac)
		if err != nil {
			return err
		}
		reorgEvent = ev
		return nil
	})
	if err != nil {
		return err
	}

	if reorgEvent != nil && o.bus != nil {
		return o.bus.Publish(ctx, *reorgEvent)
	}
	return nil
}

// accept stages a single incoming header h, recursing into any previously
// disconnected children once h itself becomes known (§4.6 step 1).
func (o *Oracle) accept(ac *acceptCtx, raw Raw) error {
	hash := raw.Hash()
	if existing, known, err := o.getHeader(ac.tx, hash); err != nil {
		return err
	} else if known && existing.Status != StatusDisconnected {
		return nil
	}

	if raw.Timestamp > uint32(o.now().Add(maxFutureDrift).Unix()) {
		return lcerr.ErrInvalidHeader
	}
	if !work.MeetsTarget(hash, raw.Bits) {
		return lcerr.ErrInvalidHeader
	}

	h := &Header{Raw: raw, Hash: hash}

	isGenesis := raw.Prev.IsZero()
	var parent *Header
	var haveParent bool
	if !isGenesis {
		var err error
		parent, haveParent, err = o.getHeader(ac.tx, raw.Prev)
		if err != nil {
			return err
		}
	}

	if !isGenesis && (!haveParent || parent.Status == StatusDisconnected) {
		h.Status = StatusDisconnected
		h.Height = chainhash.NoHeight
		if err := o.putHeader(ac.tx, h); err != nil {
			return err
		}
		if err := ac.tx.Put(kv.Disconnected, raw.Prev[:], hash[:], 0); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		return nil
	}

	if isGenesis {
		h.Height = 0
		h.Work = work.FromBits(raw.Bits)
		h.ParentWork = work.Zero
	} else {
		h.Height = parent.Height + 1
		h.ParentWork = parent.Work
		h.Work = work.Add(parent.Work, work.FromBits(raw.Bits))
	}

	h.Status = StatusNormal
	o.applyCheckpointRelation(h, parent)

	if !isGenesis {
		if wasSibling, err := ac.tx.Has(kv.Siblings, raw.Prev[:]); err != nil {
			return err
		} else if wasSibling {
			if err := ac.tx.Delete(kv.Siblings, raw.Prev[:]); err != nil {
				return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
			}
		}
		ac.removeCandidate(raw.Prev)
	}

	if err := o.putHeader(ac.tx, h); err != nil {
		return err
	}
	ac.addCandidate(hash)

	return o.reconnectChildren(ac, hash)
}

// applyCheckpointRelation sets h's CheckpointRelation and bans it if its
// parent was banned or if it mismatches an active checkpoint at the
// checkpoint height (§4.6, §3).
func (o *Oracle) applyCheckpointRelation(h *Header, parent *Header) {
	if parent != nil && parent.Status == StatusCheckpointBanned {
		h.Status = StatusCheckpointBanned
		h.CheckpointRelation = RelationDescendent
		return
	}
	if o.checkpoint == nil || h.Height != o.checkpoint.Height {
		if o.checkpoint != nil && h.Height > o.checkpoint.Height && parent != nil && parent.CheckpointRelation == RelationMatches {
			h.CheckpointRelation = RelationDescendent
		}
		return
	}
	if h.Hash == o.checkpoint.Hash {
		h.CheckpointRelation = RelationMatches
	} else {
		h.CheckpointRelation = RelationSibling
		h.Status = StatusCheckpointBanned
	}
}

// reconnectChildren re-runs acceptance for every header previously staged
// as disconnected under parentHash, now that parentHash is known (§4.6
// step 1 "For every child in disconnected[h.hash], re-run acceptance...").
func (o *Oracle) reconnectChildren(ac *acceptCtx, parentHash chainhash.Hash) error {
	var children []chainhash.Hash
	if err := ac.tx.ForEachDup(kv.Disconnected, parentHash[:], func(v []byte) (bool, error) {
		var child chainhash.Hash
		copy(child[:], v)
		children = append(children, child)
		return true, nil
	}); err != nil {
		return err
	}

	for _, childHash := range children {
		child, ok, err := o.getHeader(ac.tx, childHash)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := ac.tx.DeleteDup(kv.Disconnected, parentHash[:], childHash[:]); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		if err := o.accept(ac, child.Raw); err != nil {
			return err
		}
	}
	return nil
}

// selectWinnerAndCommit implements §4.6 steps 2-5: pick the greatest-work
// tip among the current tip and every candidate, reorg if needed, and
// return the reorg event to publish post-commit (or nil if none).
func (o *Oracle) selectWinnerAndCommit(ac *acceptCtx) (*reorg.Event, error) {
	winner := o.tipHash
	winnerHeight := o.tipHeight
	var winnerWork work.Work
	if o.tipHeight != chainhash.NoHeight {
		h, ok, err := o.getHeader(ac.tx, o.tipHash)
		if err != nil {
			return nil, err
		}
		if ok {
			winnerWork = h.Work
		}
	}

	for _, tip := range ac.candidateTips {
		h, ok, err := o.getHeader(ac.tx, tip)
		if err != nil {
			return nil, err
		}
		if !ok || h.Status == StatusCheckpointBanned {
			continue
		}
		if work.GreaterThan(h.Work, winnerWork) {
			winner = tip
			winnerHeight = h.Height
			winnerWork = h.Work
		}
	}

	if winner == o.tipHash {
		for _, tip := range ac.candidateTips {
			if tip == winner {
				continue
			}
			if err := ac.tx.Put(kv.Siblings, tip[:], []byte{}, 0); err != nil {
				return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
			}
		}
		return nil, nil
	}

	commonAncestor, err := o.findCommonAncestor(ac.tx, o.tipHash, o.tipHeight, winner, winnerHeight)
	if err != nil {
		return nil, err
	}

	if err := o.popBestChainAbove(ac.tx, commonAncestor.Height); err != nil {
		return nil, err
	}
	if err := o.pushBestChainFrom(ac.tx, winner, winnerHeight, commonAncestor.Height); err != nil {
		return nil, err
	}

	if o.tipHeight != chainhash.NoHeight {
		if err := ac.tx.Put(kv.Siblings, o.tipHash[:], []byte{}, 0); err != nil {
			return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
	}
	for _, tip := range ac.candidateTips {
		if tip == winner {
			continue
		}
		if err := ac.tx.Put(kv.Siblings, tip[:], []byte{}, 0); err != nil {
			return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
	}

	o.tipHash = winner
	o.tipHeight = winnerHeight

	return &reorg.Event{Chain: o.chain, CommonAncestorHash: commonAncestor.Hash, CommonAncestorHeight: commonAncestor.Height}, nil
}

// findCommonAncestor walks both chains back to their deepest shared
// Position (§4.6 step 4).
func (o *Oracle) findCommonAncestor(tx kv.Tx, oldTip chainhash.Hash, oldHeight chainhash.Height, newTip chainhash.Hash, newHeight chainhash.Height) (chainhash.Position, error) {
	if oldHeight == chainhash.NoHeight {
		return chainhash.NonePosition, nil
	}

	a, b := oldTip, newTip
	ah, bh := oldHeight, newHeight

	walkTo := func(hash chainhash.Hash, from, to chainhash.Height) (chainhash.Hash, error) {
		cur := hash
		for h := from; h > to; h-- {
			hdr, ok, err := o.getHeader(tx, cur)
			if err != nil {
				return chainhash.Hash{}, err
			}
			if !ok {
				return chainhash.Hash{}, lcerr.ErrInvalidHeader
			}
			cur = hdr.Prev
		}
		return cur, nil
	}

	if ah > bh {
		var err error
		a, err = walkTo(a, ah, bh)
		if err != nil {
			return chainhash.Position{}, err
		}
		ah = bh
	} else if bh > ah {
		var err error
		b, err = walkTo(b, bh, ah)
		if err != nil {
			return chainhash.Position{}, err
		}
		bh = ah
	}

	for a != b {
		ha, ok, err := o.getHeader(tx, a)
		if err != nil || !ok {
			return chainhash.Position{}, err
		}
		hb, ok, err := o.getHeader(tx, b)
		if err != nil || !ok {
			return chainhash.Position{}, err
		}
		a, b = ha.Prev, hb.Prev
		ah--
	}
	return chainhash.Position{Height: ah, Hash: a}, nil
}

func (o *Oracle) popBestChainAbove(tx kv.RwTx, height chainhash.Height) error {
	if o.tipHeight == chainhash.NoHeight {
		return nil
	}
	for h := o.tipHeight; h > height; h-- {
		if err := tx.Delete(kv.HeaderByHeight, heightKey(h)); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
	}
	return nil
}

func (o *Oracle) pushBestChainFrom(tx kv.RwTx, tip chainhash.Hash, tipHeight, ancestorHeight chainhash.Height) error {
	chain := make([]chainhash.Hash, 0, int(tipHeight-ancestorHeight))
	cur := tip
	for h := tipHeight; h > ancestorHeight; h-- {
		chain = append(chain, cur)
		hdr, ok, err := o.getHeader(tx, cur)
		if err != nil {
			return err
		}
		if !ok {
			return lcerr.ErrInvalidHeader
		}
		cur = hdr.Prev
	}
	for i := len(chain) - 1; i >= 0; i-- {
		height := ancestorHeight + chainhash.Height(len(chain)-i)
		if err := tx.Put(kv.HeaderByHeight, heightKey(height), chain[i][:], 0); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
	}
	return nil
}

// ancestorHash walks hash (known to be at height from) back to height to,
// returning the hash of its ancestor there.
func (o *Oracle) ancestorHash(tx kv.Tx, hash chainhash.Hash, from, to chainhash.Height) (chainhash.Hash, error) {
	cur := hash
	for h := from; h > to; h-- {
		hdr, ok, err := o.getHeader(tx, cur)
		if err != nil {
			return chainhash.Hash{}, err
		}
		if !ok {
			return chainhash.Hash{}, lcerr.ErrInvalidHeader
		}
		cur = hdr.Prev
	}
	return cur, nil
}

func storeCheckpointRecord(tx kv.RwTx, height chainhash.Height, hash chainhash.Hash) error {
	var v [40]byte
	binary.BigEndian.PutUint64(v[0:8], uint64(height))
	copy(v[8:40], hash[:])
	if err := tx.Put(kv.Checkpoint, []byte(checkpointKey), v[:], 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}

// allTips returns the current best-chain tip plus every recorded sibling
// tip — the full set of chain heads the oracle is tracking (§4.6, §3
// "siblings").
func (o *Oracle) allTips(tx kv.Tx) ([]chainhash.Hash, error) {
	var tips []chainhash.Hash
	if o.tipHeight != chainhash.NoHeight {
		tips = append(tips, o.tipHash)
	}
	if err := tx.ForEach(kv.Siblings, kv.Forward, func(k, v []byte) (bool, error) {
		var h chainhash.Hash
		copy(h[:], k)
		tips = append(tips, h)
		return true, nil
	}); err != nil {
		return nil, err
	}
	return tips, nil
}

// banChainFrom walks tip back to stopHeight (inclusive), marking every
// header on that path StatusCheckpointBanned (§4.6 add_checkpoint: "ban
// all known headers at that height with a different hash plus their
// descendants").
func (o *Oracle) banChainFrom(tx kv.RwTx, tip chainhash.Hash, tipHeight, stopHeight chainhash.Height) error {
	cur := tip
	for h := tipHeight; h >= stopHeight; h-- {
		hdr, ok, err := o.getHeader(tx, cur)
		if err != nil {
			return err
		}
		if !ok {
			return lcerr.ErrInvalidHeader
		}
		hdr.Status = StatusCheckpointBanned
		if h == stopHeight {
			hdr.CheckpointRelation = RelationSibling
		} else {
			hdr.CheckpointRelation = RelationDescendent
		}
		if err := o.putHeader(tx, hdr); err != nil {
			return err
		}
		cur = hdr.Prev
	}
	return nil
}

// unbanChainFrom is the inverse of banChainFrom, used by DeleteCheckpoint:
// it walks tip back clearing StatusCheckpointBanned until it reaches a
// header that was never banned (the chain's unaffected prefix).
func (o *Oracle) unbanChainFrom(tx kv.RwTx, tip chainhash.Hash) error {
	cur := tip
	for {
		hdr, ok, err := o.getHeader(tx, cur)
		if err != nil {
			return err
		}
		if !ok || hdr.Status != StatusCheckpointBanned {
			return nil
		}
		hdr.Status = StatusNormal
		hdr.CheckpointRelation = RelationUnknown
		if err := o.putHeader(tx, hdr); err != nil {
			return err
		}
		if hdr.Prev.IsZero() {
			return nil
		}
		cur = hdr.Prev
	}
}

// pickBest scans candidates (any subset of allTips) plus the current tip,
// skipping banned entries, and returns the greatest-work survivor.
func (o *Oracle) pickBest(tx kv.Tx, candidates []chainhash.Hash, excludeTip bool) (chainhash.Hash, chainhash.Height, bool, error) {
	var winner chainhash.Hash
	var winnerHeight chainhash.Height
	var winnerWork work.Work
	have := false

	if !excludeTip && o.tipHeight != chainhash.NoHeight {
		hdr, ok, err := o.getHeader(tx, o.tipHash)
		if err != nil {
			return chainhash.Hash{}, 0, false, err
		}
		if ok && hdr.Status != StatusCheckpointBanned {
			winner, winnerHeight, winnerWork, have = o.tipHash, hdr.Height, hdr.Work, true
		}
	}

	for _, cand := range candidates {
		hdr, ok, err := o.getHeader(tx, cand)
		if err != nil {
			return chainhash.Hash{}, 0, false, err
		}
		if !ok || hdr.Status == StatusCheckpointBanned {
			continue
		}
		if !have || work.GreaterThan(hdr.Work, winnerWork) {
			winner, winnerHeight, winnerWork, have = cand, hdr.Height, hdr.Work, true
		}
	}
	return winner, winnerHeight, have, nil
}

// reorgTo performs the common-ancestor pop/push dance onto newTip and
// returns the event to publish, updating o.tipHash/o.tipHeight.
func (o *Oracle) reorgTo(tx kv.RwTx, newTip chainhash.Hash, newHeight chainhash.Height) (*reorg.Event, error) {
	if newTip == o.tipHash {
		return nil, nil
	}
	oldTip, oldHeight := o.tipHash, o.tipHeight

	commonAncestor, err := o.findCommonAncestor(tx, oldTip, oldHeight, newTip, newHeight)
	if err != nil {
		return nil, err
	}
	if err := o.popBestChainAbove(tx, commonAncestor.Height); err != nil {
		return nil, err
	}
	if err := o.pushBestChainFrom(tx, newTip, newHeight, commonAncestor.Height); err != nil {
		return nil, err
	}
	if oldHeight != chainhash.NoHeight {
		if err := tx.Put(kv.Siblings, oldTip[:], []byte{}, 0); err != nil {
			return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
	}
	if err := tx.Delete(kv.Siblings, newTip[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}

	o.tipHash = newTip
	o.tipHeight = newHeight
	return &reorg.Event{Chain: o.chain, CommonAncestorHash: commonAncestor.Hash, CommonAncestorHeight: commonAncestor.Height}, nil
}

// AddCheckpoint pins (height, hash) as known-good (§4.6 add_checkpoint).
// Every known chain tip is walked back to height: a tip whose ancestor
// there matches hash is left alone; a tip that diverges has that
// divergent segment (height..tip) banned. If the currently-selected best
// chain was banned, the best surviving candidate is promoted and the
// resulting reorg is published on the bus after the transaction commits.
func (o *Oracle) AddCheckpoint(ctx context.Context, height chainhash.Height, hash chainhash.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var reorgEvent *reorg.Event
	err := o.db.Update(ctx, func(tx kv.RwTx) error {
		if o.checkpoint != nil && o.checkpoint.Height == height {
			return lcerr.ErrCheckpointExists
		}

		tips, err := o.allTips(tx)
		if err != nil {
			return err
		}

		var survivors []chainhash.Hash
		tipBanned := false
		for _, tip := range tips {
			hdr, ok, err := o.getHeader(tx, tip)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if hdr.Height < height {
				survivors = append(survivors, tip)
				continue
			}
			ancestor, err := o.ancestorHash(tx, tip, hdr.Height, height)
			if err != nil {
				return err
			}
			if ancestor == hash {
				survivors = append(survivors, tip)
				continue
			}
			if err := o.banChainFrom(tx, tip, hdr.Height, height); err != nil {
				return err
			}
			if tip != o.tipHash {
				if err := tx.Delete(kv.Siblings, tip[:]); err != nil {
					return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
				}
			} else {
				tipBanned = true
			}
		}

		if err := storeCheckpointRecord(tx, height, hash); err != nil {
			return err
		}
		o.checkpoint = &Checkpoint{Height: height, Hash: hash}

		if !tipBanned {
			return nil
		}

		var candidates []chainhash.Hash
		for _, s := range survivors {
			if s != o.tipHash {
				candidates = append(candidates, s)
			}
		}
		winner, winnerHeight, have, err := o.pickBest(tx, candidates, true)
		if err != nil {
			return err
		}
		if !have {
			return lcerr.ErrNoCandidateSelected
		}
		ev, err := o.reorgTo(tx, winner, winnerHeight)
		if err != nil {
			return err
		}
		reorgEvent = ev
		return nil
	})
	if err != nil {
		return err
	}
	if reorgEvent != nil && o.bus != nil {
		return o.bus.Publish(ctx, *reorgEvent)
	}
	return nil
}

// DeleteCheckpoint clears the active checkpoint at height and un-bans
// every chain segment it had banned, then re-examines all tips in case a
// previously-banned chain now outweighs the current best chain (§4.6
// delete_checkpoint).
func (o *Oracle) DeleteCheckpoint(ctx context.Context, height chainhash.Height) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.checkpoint == nil || o.checkpoint.Height != height {
		return lcerr.ErrCheckpointPosition
	}

	var reorgEvent *reorg.Event
	err := o.db.Update(ctx, func(tx kv.RwTx) error {
		if err := tx.Delete(kv.Checkpoint, []byte(checkpointKey)); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		o.checkpoint = nil

		tips, err := o.allTips(tx)
		if err != nil {
			return err
		}
		for _, tip := range tips {
			if err := o.unbanChainFrom(tx, tip); err != nil {
				return err
			}
		}

		var candidates []chainhash.Hash
		for _, t := range tips {
			if t != o.tipHash {
				candidates = append(candidates, t)
			}
		}
		winner, winnerHeight, have, err := o.pickBest(tx, candidates, false)
		if err != nil {
			return err
		}
		if !have || winner == o.tipHash {
			return nil
		}
		ev, err := o.reorgTo(tx, winner, winnerHeight)
		if err != nil {
			return err
		}
		reorgEvent = ev
		return nil
	})
	if err != nil {
		return err
	}
	if reorgEvent != nil && o.bus != nil {
		return o.bus.Publish(ctx, *reorgEvent)
	}
	return nil
}
