// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package filteroracle is the filter store (§4.7): per filter flavor it
// holds the GCS filter bytes and the chained filter-header for every
// stored block, tracks how far each has been populated, and rolls both
// tips back on a header-oracle reorg notification.
package filteroracle

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lightcore-labs/lightcore/internal/chaincfg"
	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/gcs"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
	"github.com/lightcore-labs/lightcore/internal/reorg"
)

// FilterHeaderEntry is one chained filter-header record (§4.7 table
// "filter_headers[flavor]": BlockHash → (prev, filter_hash, header)).
type FilterHeaderEntry struct {
	Position   chainhash.Position
	Prev       chainhash.Hash
	FilterHash chainhash.Hash
	Header     chainhash.Hash
}

// FilterEntry is one raw filter record to store.
type FilterEntry struct {
	Position chainhash.Position
	Filter   []byte
}

type cacheKey struct {
	flavor chaincfg.FilterFlavor
	hash   chainhash.Hash
}

// Oracle is the filter store for one chain's configured flavors.
type Oracle struct {
	db     kv.RwDB
	params chaincfg.Params

	mu         sync.Mutex
	filterTip  map[chaincfg.FilterFlavor]chainhash.Position
	headerTip  map[chaincfg.FilterFlavor]chainhash.Position
	filterLRU  *lru.Cache[cacheKey, []byte]
	fheaderLRU *lru.Cache[cacheKey, FilterHeaderEntry]
}

func flavorKey(flavor chaincfg.FilterFlavor, hash chainhash.Hash) []byte {
	k := make([]byte, 1+chainhash.Size)
	k[0] = byte(flavor)
	copy(k[1:], hash[:])
	return k
}

func tipKey(flavor chaincfg.FilterFlavor) []byte {
	return []byte{byte(flavor)}
}

func marshalPosition(p chainhash.Position) []byte {
	var b [8 + chainhash.Size]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(p.Height))
	copy(b[8:], p.Hash[:])
	return b[:]
}

func unmarshalPosition(b []byte) (chainhash.Position, error) {
	if len(b) != 8+chainhash.Size {
		return chainhash.Position{}, fmt.Errorf("%w: filter tip record has %d bytes", lcerr.ErrInvalidInput, len(b))
	}
	p := chainhash.Position{Height: chainhash.Height(int64(binary.BigEndian.Uint64(b[0:8])))}
	copy(p.Hash[:], b[8:])
	return p, nil
}

func marshalFilterHeaderEntry(e FilterHeaderEntry) []byte {
	buf := make([]byte, 0, chainhash.Size*3)
	buf = append(buf, e.Prev[:]...)
	buf = append(buf, e.FilterHash[:]...)
	buf = append(buf, e.Header[:]...)
	return buf
}

func unmarshalFilterHeaderEntry(b []byte) (FilterHeaderEntry, error) {
	if len(b) != chainhash.Size*3 {
		return FilterHeaderEntry{}, fmt.Errorf("%w: filter-header record has %d bytes", lcerr.ErrInvalidInput, len(b))
	}
	var e FilterHeaderEntry
	copy(e.Prev[:], b[0:32])
	copy(e.FilterHash[:], b[32:64])
	copy(e.Header[:], b[64:96])
	return e, nil
}

// Open loads recorded tips for every configured flavor, seeding genesis
// filters for any flavor that has never been stored (§4.7 "Genesis
// seeding at startup").
func Open(ctx context.Context, db kv.RwDB, params chaincfg.Params) (*Oracle, error) {
	filterLRU, err := lru.New[cacheKey, []byte](2048)
	if err != nil {
		return nil, fmt.Errorf("filteroracle: new cache: %w", err)
	}
	fheaderLRU, err := lru.New[cacheKey, FilterHeaderEntry](2048)
	if err != nil {
		return nil, fmt.Errorf("filteroracle: new cache: %w", err)
	}

	o := &Oracle{
		db:         db,
		params:     params,
		filterTip:  make(map[chaincfg.FilterFlavor]chainhash.Position),
		headerTip:  make(map[chaincfg.FilterFlavor]chainhash.Position),
		filterLRU:  filterLRU,
		fheaderLRU: fheaderLRU,
	}

	if err := db.Update(ctx, func(tx kv.RwTx) error {
		for _, flavor := range params.Flavors {
			if err := o.loadOrSeed(tx, flavor); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Oracle) loadOrSeed(tx kv.RwTx, flavor chaincfg.FilterFlavor) error {
	v, ok, err := tx.GetOne(kv.FilterTips, tipKey(flavor))
	if err != nil {
		return err
	}
	if ok {
		pos, err := unmarshalPosition(v)
		if err != nil {
			return err
		}
		o.filterTip[flavor] = pos

		hv, hok, err := tx.GetOne(kv.FilterHeaderTips, tipKey(flavor))
		if err != nil {
			return err
		}
		if hok {
			hpos, err := unmarshalPosition(hv)
			if err != nil {
				return err
			}
			o.headerTip[flavor] = hpos
		}
		return nil
	}

	gf, ok := o.params.GenesisFilters[flavor]
	if !ok {
		// No genesis data configured for this flavor; leave both tips
		// unset (chainhash.NonePosition) until the caller stores one.
		o.filterTip[flavor] = chainhash.NonePosition
		o.headerTip[flavor] = chainhash.NonePosition
		return nil
	}

	genesis := chainhash.Position{Height: chainhash.Height(o.params.GenesisHeight), Hash: o.params.GenesisHash}
	filterHash := gcs.Hash(gf.Filter)

	if err := tx.Put(kv.Filters, flavorKey(flavor, genesis.Hash), gf.Filter, 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	entry := FilterHeaderEntry{Position: genesis, Prev: chainhash.Hash{}, FilterHash: filterHash, Header: gf.Header}
	if err := tx.Put(kv.FilterHeaders, flavorKey(flavor, genesis.Hash), marshalFilterHeaderEntry(entry), 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	if err := tx.Put(kv.FilterTips, tipKey(flavor), marshalPosition(genesis), 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	if err := tx.Put(kv.FilterHeaderTips, tipKey(flavor), marshalPosition(genesis), 0); err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	o.filterTip[flavor] = genesis
	o.headerTip[flavor] = genesis
	return nil
}

// FilterTip returns the highest position filter content is stored for.
func (o *Oracle) FilterTip(flavor chaincfg.FilterFlavor) chainhash.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filterTip[flavor]
}

// FilterHeaderTip returns the highest position the chained filter-header
// is stored for.
func (o *Oracle) FilterHeaderTip(flavor chaincfg.FilterFlavor) chainhash.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.headerTip[flavor]
}

// Filter returns the raw filter bytes for blockHash under flavor.
func (o *Oracle) Filter(ctx context.Context, flavor chaincfg.FilterFlavor, blockHash chainhash.Hash) ([]byte, bool, error) {
	if v, ok := o.filterLRU.Get(cacheKey{flavor, blockHash}); ok {
		return v, true, nil
	}
	var out []byte
	var found bool
	err := o.db.View(ctx, func(tx kv.Tx) error {
		v, ok, err := tx.GetOne(kv.Filters, flavorKey(flavor, blockHash))
		if err != nil || !ok {
			return err
		}
		out = append([]byte(nil), v...)
		found = true
		return nil
	})
	if found {
		o.filterLRU.Add(cacheKey{flavor, blockHash}, out)
	}
	return out, found, err
}

// FilterHeader returns the chained filter-header record for blockHash.
func (o *Oracle) FilterHeader(ctx context.Context, flavor chaincfg.FilterFlavor, blockHash chainhash.Hash) (FilterHeaderEntry, bool, error) {
	if v, ok := o.fheaderLRU.Get(cacheKey{flavor, blockHash}); ok {
		return v, true, nil
	}
	var out FilterHeaderEntry
	var found bool
	err := o.db.View(ctx, func(tx kv.Tx) error {
		v, ok, err := tx.GetOne(kv.FilterHeaders, flavorKey(flavor, blockHash))
		if err != nil || !ok {
			return err
		}
		entry, err := unmarshalFilterHeaderEntry(v)
		if err != nil {
			return err
		}
		out = entry
		found = true
		return nil
	})
	if found {
		o.fheaderLRU.Add(cacheKey{flavor, blockHash}, out)
	}
	return out, found, err
}

// StoreFilters appends filter content and advances filter_tip to the
// highest position supplied (§4.7 store_filters).
func (o *Oracle) StoreFilters(ctx context.Context, flavor chaincfg.FilterFlavor, entries []FilterEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	best := o.filterTip[flavor]
	err := o.db.Update(ctx, func(tx kv.RwTx) error {
		for _, e := range entries {
			if err := tx.Put(kv.Filters, flavorKey(flavor, e.Position.Hash), e.Filter, 0); err != nil {
				return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
			}
			if best.IsNone() || e.Position.Height > best.Height {
				best = e.Position
			}
		}
		if best != o.filterTip[flavor] {
			if err := tx.Put(kv.FilterTips, tipKey(flavor), marshalPosition(best), 0); err != nil {
				return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.filterTip[flavor] = best
	for _, e := range entries {
		o.filterLRU.Add(cacheKey{flavor, e.Position.Hash}, e.Filter)
	}
	return nil
}

// StoreFilterHeaders appends chained filter-header records and advances
// filter_header_tip to the highest position supplied (§4.7
// store_filter_headers). Verifying that Header == gcs.Header(filter,
// Prev-header) is the caller's responsibility (§4.7 Failure clause).
func (o *Oracle) StoreFilterHeaders(ctx context.Context, flavor chaincfg.FilterFlavor, entries []FilterHeaderEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	best := o.headerTip[flavor]
	err := o.db.Update(ctx, func(tx kv.RwTx) error {
		for _, e := range entries {
			if err := tx.Put(kv.FilterHeaders, flavorKey(flavor, e.Position.Hash), marshalFilterHeaderEntry(e), 0); err != nil {
				return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
			}
			if best.IsNone() || e.Position.Height > best.Height {
				best = e.Position
			}
		}
		if best != o.headerTip[flavor] {
			if err := tx.Put(kv.FilterHeaderTips, tipKey(flavor), marshalPosition(best), 0); err != nil {
				return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.headerTip[flavor] = best
	for _, e := range entries {
		o.fheaderLRU.Add(cacheKey{flavor, e.Position.Hash}, e)
	}
	return nil
}

// resetTips lowers both tips for flavor to min(current, commonAncestor)
// (§4.7 reset_tips). Filter data for the orphaned blocks is left in
// place, to be overwritten on re-application.
func (o *Oracle) resetTips(tx kv.RwTx, flavor chaincfg.FilterFlavor, commonAncestor chainhash.Position) error {
	if ft := o.filterTip[flavor]; !ft.IsNone() && ft.Height > commonAncestor.Height {
		if err := tx.Put(kv.FilterTips, tipKey(flavor), marshalPosition(commonAncestor), 0); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		o.filterTip[flavor] = commonAncestor
	}
	if ht := o.headerTip[flavor]; !ht.IsNone() && ht.Height > commonAncestor.Height {
		if err := tx.Put(kv.FilterHeaderTips, tipKey(flavor), marshalPosition(commonAncestor), 0); err != nil {
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		o.headerTip[flavor] = commonAncestor
	}
	return nil
}

// Handle implements reorg.Subscriber: on a reorg notification, every
// configured flavor's tips are rolled back synchronously before this call
// returns (§4.10 "the filter oracle performs reset_tips synchronously
// before acknowledging").
func (o *Oracle) Handle(ctx context.Context, ev reorg.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	commonAncestor := chainhash.Position{Height: ev.CommonAncestorHeight, Hash: ev.CommonAncestorHash}
	return o.db.Update(ctx, func(tx kv.RwTx) error {
		for _, flavor := range o.params.Flavors {
			if err := o.resetTips(tx, flavor, commonAncestor); err != nil {
				return err
			}
		}
		return nil
	})
}
