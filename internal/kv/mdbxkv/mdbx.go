// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package mdbxkv is the production kv.RwDB backend, a thin adapter over
// github.com/erigontech/mdbx-go — the teacher's own storage engine. One
// environment is opened per chain-id datadir (§6), with one MDBX
// sub-database (DBI) per logical table named in internal/kv.TableCfg.
package mdbxkv

import (
	"context"
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
)

// DB wraps an opened mdbx.Env plus the resolved DBI handle for every table.
type DB struct {
	env  *mdbx.Env
	dbis map[string]mdbx.DBI
}

// Open creates or opens an MDBX environment rooted at path, creating a DBI
// for every table in cfg with the matching flags. maxSizeBytes bounds the
// memory-mapped size of the environment (MDBX's MapSize).
func Open(path string, cfg kv.TableCfg, maxSizeBytes uint64) (*DB, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: new env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(cfg))); err != nil {
		return nil, fmt.Errorf("mdbxkv: set max dbs: %w", err)
	}
	if err := env.SetGeometry(-1, -1, int(maxSizeBytes), -1, -1, -1); err != nil {
		return nil, fmt.Errorf("mdbxkv: set geometry: %w", err)
	}
	if err := env.Open(path, mdbx.NoSubdir|mdbx.Coalesce|mdbx.LifoReclaim, 0o644); err != nil {
		return nil, fmt.Errorf("mdbxkv: open %s: %w", path, err)
	}

	db := &DB{env: env, dbis: make(map[string]mdbx.DBI, len(cfg))}
	if err := env.Update(func(txn *mdbx.Txn) error {
		for name, item := range cfg {
			flags := uint(mdbx.Create)
			if item.Flags&kv.DupSort != 0 {
				flags |= mdbx.DupSort
			}
			// kv.IntegerKey tables (HeaderByHeight, PeerByChain/Protocol/
			// Service/Network/LastConnected) hold fixed-size big-endian byte
			// keys, not native-endian machine integers. MDBX_INTEGERKEY
			// requires the latter, so it is deliberately not set here: MDBX's
			// default lexicographic byte-string comparator already orders
			// big-endian keys numerically, which is all these tables need.
			dbi, err := txn.OpenDBISimple(name, flags)
			if err != nil {
				return fmt.Errorf("mdbxkv: open table %s: %w", name, err)
			}
			db.dbis[name] = dbi
		}
		return nil
	}); err != nil {
		env.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	db.env.Close()
	return nil
}

func (db *DB) dbi(name string) mdbx.DBI {
	kv.MustHaveTable(name)
	d, ok := db.dbis[name]
	if !ok {
		panic(fmt.Sprintf("mdbxkv: table %q not opened in this environment", name))
	}
	return d
}

func (db *DB) BeginRo(context.Context) (kv.Tx, error) {
	txn, err := db.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return &roTx{db: db, txn: txn}, nil
}

func (db *DB) View(ctx context.Context, fn func(kv.Tx) error) error {
	t, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback()
	return fn(t)
}

func (db *DB) BeginRw(context.Context) (kv.RwTx, error) {
	txn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return &rwTx{roTx: roTx{db: db, txn: txn}}, nil
}

// Update runs fn inside one write transaction, committing on success and
// rolling back on error or panic (§4.1 "guaranteed rollback on all
// non-committing exit paths").
func (db *DB) Update(ctx context.Context, fn func(kv.RwTx) error) (err error) {
	t, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			t.Rollback()
			panic(r)
		}
	}()
	defer t.Rollback()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

type roTx struct {
	db  *DB
	txn *mdbx.Txn
}

func (t *roTx) GetOne(table string, key []byte) ([]byte, bool, error) {
	v, err := t.txn.Get(t.db.dbi(table), key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return v, true, nil
}

func (t *roTx) Has(table string, key []byte) (bool, error) {
	_, ok, err := t.GetOne(table, key)
	return ok, err
}

func (t *roTx) ForEach(table string, dir kv.Direction, fn func(k, v []byte) (bool, error)) error {
	c, err := t.txn.OpenCursor(t.db.dbi(table))
	if err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	defer c.Close()

	op := mdbx.First
	if dir == kv.Backward {
		op = mdbx.Last
	}
	next := mdbx.Next
	if dir == kv.Backward {
		next = mdbx.Prev
	}
	for k, v, err := c.Get(nil, nil, op); ; k, v, err = c.Get(nil, nil, next) {
		if err != nil {
			if mdbx.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

func (t *roTx) ForEachDup(table string, key []byte, fn func(v []byte) (bool, error)) error {
	c, err := t.txn.OpenCursor(t.db.dbi(table))
	if err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	defer c.Close()

	for k, v, err := c.Get(key, nil, mdbx.SetKey); ; k, v, err = c.Get(nil, nil, mdbx.NextDup) {
		if err != nil {
			if mdbx.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
		}
		_ = k
		cont, err := fn(v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

func (t *roTx) Rollback() {
	if t.txn == nil {
		return
	}
	t.txn.Abort()
	t.txn = nil
}

type rwTx struct {
	roTx
}

func (t *rwTx) Put(table string, key, value []byte, flags kv.PutFlags) error {
	var f uint
	if flags&kv.NoOverwrite != 0 {
		f |= mdbx.NoOverwrite
	}
	if flags&kv.Append != 0 {
		f |= mdbx.Append
	}
	err := t.txn.Put(t.db.dbi(table), key, value, f)
	if err != nil {
		if mdbx.IsKeyExist(err) {
			return kv.ErrKeyExists
		}
		if mdbx.IsMapFull(err) {
			return lcerr.ErrStorageFull
		}
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}

func (t *rwTx) Delete(table string, key []byte) error {
	if err := t.txn.Del(t.db.dbi(table), key, nil); err != nil && !mdbx.IsNotFound(err) {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}

func (t *rwTx) DeleteDup(table string, key, value []byte) error {
	if err := t.txn.Del(t.db.dbi(table), key, value); err != nil && !mdbx.IsNotFound(err) {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}

func (t *rwTx) Commit() error {
	if t.txn == nil {
		return nil
	}
	_, err := t.txn.Commit()
	t.txn = nil
	if err != nil {
		return fmt.Errorf("%w: %v", lcerr.ErrStorageError, err)
	}
	return nil
}
