// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package memdb is a pure-Go kv.RwDB backend over a sorted-slice table
// representation, used by unit tests and any embedded deployment that
// cannot carry cgo. It implements the identical table/flags/duplicate-key
// semantics as the mdbx-go backend in internal/kv/mdbxkv so higher layers
// (header oracle, filter oracle, address book) are backend-agnostic.
package memdb

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/lightcore-labs/lightcore/internal/kv"
)

type entry struct {
	key, value []byte
}

// table is a sorted slice of (key,value) pairs; non-dup tables keep exactly
// one entry per key, dup-sort tables keep one per (key,value) pair sorted
// by key then value.
type table struct {
	flags   kv.TableFlags
	entries []entry
}

func (t *table) clone() *table {
	out := &table{flags: t.flags, entries: make([]entry, len(t.entries))}
	copy(out.entries, t.entries)
	return out
}

func (t *table) isDup() bool { return t.flags&kv.DupSort != 0 }

func (t *table) find(key []byte) (int, bool) {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].key, key) >= 0
	})
	if idx < len(t.entries) && bytes.Equal(t.entries[idx].key, key) {
		return idx, true
	}
	return idx, false
}

func (t *table) findPair(key, value []byte) (int, bool) {
	idx := sort.Search(len(t.entries), func(i int) bool {
		if c := bytes.Compare(t.entries[i].key, key); c != 0 {
			return c >= 0
		}
		return bytes.Compare(t.entries[i].value, value) >= 0
	})
	if idx < len(t.entries) && bytes.Equal(t.entries[idx].key, key) && bytes.Equal(t.entries[idx].value, value) {
		return idx, true
	}
	return idx, false
}

func (t *table) put(key, value []byte, flags kv.PutFlags) error {
	if t.isDup() {
		idx, ok := t.findPair(key, value)
		if ok {
			return nil
		}
		t.insertAt(idx, entry{append([]byte(nil), key...), append([]byte(nil), value...)})
		return nil
	}
	idx, ok := t.find(key)
	if ok {
		if flags&kv.NoOverwrite != 0 {
			return kv.ErrKeyExists
		}
		t.entries[idx].value = append([]byte(nil), value...)
		return nil
	}
	t.insertAt(idx, entry{append([]byte(nil), key...), append([]byte(nil), value...)})
	return nil
}

func (t *table) insertAt(idx int, e entry) {
	t.entries = append(t.entries, entry{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = e
}

func (t *table) delete(key []byte) {
	for {
		idx, ok := t.find(key)
		if !ok {
			return
		}
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	}
}

func (t *table) deleteDup(key, value []byte) {
	idx, ok := t.findPair(key, value)
	if !ok {
		return
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
}

// DB is an in-memory environment holding every table named in cfg.
type DB struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// Open creates a fresh in-memory environment with one table per cfg entry.
func Open(cfg kv.TableCfg) *DB {
	db := &DB{tables: make(map[string]*table, len(cfg))}
	for name, item := range cfg {
		db.tables[name] = &table{flags: item.Flags}
	}
	return db
}

func (db *DB) Close() error { return nil }

func (db *DB) BeginRo(context.Context) (kv.Tx, error) {
	db.mu.RLock()
	return &tx{db: db, ro: true}, nil
}

func (db *DB) View(ctx context.Context, fn func(kv.Tx) error) error {
	txn, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

func (db *DB) BeginRw(context.Context) (kv.RwTx, error) {
	db.mu.Lock()
	return &tx{db: db, overlay: make(map[string]*table)}, nil
}

func (db *DB) Update(ctx context.Context, fn func(kv.RwTx) error) error {
	txn, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// tx is a copy-on-write transaction: write transactions clone a table into
// an overlay on first touch and mutate the overlay only; Commit splats the
// overlay into db.tables, Rollback (including via the caller's deferred
// call after a successful Commit, which is then a no-op) discards it.
type tx struct {
	db      *DB
	ro      bool
	done    bool
	overlay map[string]*table
}

func (t *tx) tableRO(name string) *table {
	if t.overlay != nil {
		if tb, ok := t.overlay[name]; ok {
			return tb
		}
	}
	kv.MustHaveTable(name)
	return t.db.tables[name]
}

func (t *tx) tableRW(name string) *table {
	if tb, ok := t.overlay[name]; ok {
		return tb
	}
	kv.MustHaveTable(name)
	tb := t.db.tables[name].clone()
	t.overlay[name] = tb
	return tb
}

func (t *tx) GetOne(table string, key []byte) ([]byte, bool, error) {
	tb := t.tableRO(table)
	idx, ok := tb.find(key)
	if !ok {
		return nil, false, nil
	}
	return tb.entries[idx].value, true, nil
}

func (t *tx) Has(table string, key []byte) (bool, error) {
	_, ok := t.tableRO(table).find(key)
	return ok, nil
}

func (t *tx) ForEach(table string, dir kv.Direction, fn func(k, v []byte) (bool, error)) error {
	tb := t.tableRO(table)
	if dir == kv.Forward {
		for _, e := range tb.entries {
			cont, err := fn(e.key, e.value)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	}
	for i := len(tb.entries) - 1; i >= 0; i-- {
		cont, err := fn(tb.entries[i].key, tb.entries[i].value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (t *tx) ForEachDup(table string, key []byte, fn func(v []byte) (bool, error)) error {
	tb := t.tableRO(table)
	idx, _ := tb.find(key)
	for ; idx < len(tb.entries) && bytes.Equal(tb.entries[idx].key, key); idx++ {
		cont, err := fn(tb.entries[idx].value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (t *tx) Put(table string, key, value []byte, flags kv.PutFlags) error {
	return t.tableRW(table).put(key, value, flags)
}

func (t *tx) Delete(table string, key []byte) error {
	t.tableRW(table).delete(key)
	return nil
}

func (t *tx) DeleteDup(table string, key, value []byte) error {
	t.tableRW(table).deleteDup(key, value)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	for name, tb := range t.overlay {
		t.db.tables[name] = tb
	}
	t.done = true
	t.db.mu.Unlock()
	return nil
}

func (t *tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.overlay != nil {
		t.db.mu.Unlock()
	} else {
		t.db.mu.RUnlock()
	}
}
