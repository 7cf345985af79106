// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package kv defines the named-table transactional key-value store
// contract (§4.1). It is intentionally small: two backends satisfy it,
// internal/kv/mdbxkv (production, cgo, github.com/erigontech/mdbx-go) and
// internal/kv/memdb (tests, pure Go, sorted per-table slices), following
// the teacher's own separation between the kv interfaces package and its
// mdbx/memdb implementations.
package kv

import "context"

// Direction controls the order a ForEach walks a table.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// PutFlags modify Put's behavior.
type PutFlags uint8

const (
	// NoOverwrite makes Put a no-op (returning ErrKeyExists) if key exists.
	NoOverwrite PutFlags = 1 << iota
	// Append asserts the key sorts after every existing key in the table,
	// allowing the backend to skip a binary search on insert.
	Append
)

// ErrKeyExists is returned by Put when NoOverwrite collides with an
// existing key.
var ErrKeyExists = errKeyExists{}

type errKeyExists struct{}

func (errKeyExists) Error() string { return "kv: key already exists" }

// Tx is a read-only transaction: a consistent snapshot of every table.
type Tx interface {
	// GetOne returns the value for key in table, or (nil, false) if absent.
	// The returned slice is a zero-copy view valid only for the lifetime of
	// the transaction; callers that retain it must clone.
	GetOne(table string, key []byte) (value []byte, ok bool, err error)

	// Has reports whether key exists in table without fetching its value.
	Has(table string, key []byte) (bool, error)

	// ForEach iterates table in the given direction starting at the
	// beginning (or end, for Backward), calling fn for every pair until fn
	// returns false or an error, or the table is exhausted.
	ForEach(table string, dir Direction, fn func(k, v []byte) (bool, error)) error

	// ForEachDup iterates every value stored under key in a duplicate-sorted
	// table, in sorted order.
	ForEachDup(table string, key []byte, fn func(v []byte) (bool, error)) error

	// Rollback releases the transaction. Safe to call multiple times and
	// after Commit on a write transaction (a no-op in that case).
	Rollback()
}

// RwTx is a read-write transaction. Writes made through it are only durable
// once Commit returns nil.
type RwTx interface {
	Tx

	Put(table string, key, value []byte, flags PutFlags) error
	Delete(table string, key []byte) error
	// DeleteDup deletes one specific (key,value) pairing from a
	// duplicate-sorted table, leaving other values under key intact.
	DeleteDup(table string, key, value []byte) error

	Commit() error
}

// RoDB is a read-only handle to an opened environment.
type RoDB interface {
	BeginRo(ctx context.Context) (Tx, error)
	// View runs fn inside a read transaction, guaranteeing Rollback on every
	// exit path (§4.1 "scoped acquisition with guaranteed rollback").
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// RwDB is a read-write handle to an opened environment.
type RwDB interface {
	RoDB
	BeginRw(ctx context.Context) (RwTx, error)
	// Update runs fn inside a write transaction, committing on a nil return
	// and rolling back otherwise; guarantees rollback on panic too.
	Update(ctx context.Context, fn func(tx RwTx) error) error
}

// TableFlags mirror the physical layout options an environment must
// support at open time (§4.1): integer keys, duplicate-sorted values, or
// both together.
type TableFlags uint8

const (
	Default    TableFlags = 0x00
	DupSort    TableFlags = 0x04 // multiple values per key, sorted+deduped
	IntegerKey TableFlags = 0x08 // fixed-size big-endian integer keys
)

// TableCfgItem configures one named table.
type TableCfgItem struct {
	Flags TableFlags
}

// TableCfg is the full schema passed to Open: every table the opener will
// use, keyed by name.
type TableCfg map[string]TableCfgItem
