// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config holds the small set of keys persisted in the kv.Config
// table (§6 "Configuration keys") and the typed get/set helpers built
// around them.
package config

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/lightcore-labs/lightcore/internal/kv"
)

// StoragePolicy controls whether the block store retains raw payloads.
type StoragePolicy uint8

const (
	PolicyNone  StoragePolicy = iota // keep nothing; store is a no-op
	PolicyCache                      // snappy-compressed payloads
	PolicyAll                        // raw payloads
)

const (
	keyVersion            = "version"
	keyNextBlockAddress   = "next_block_address"
	keySipHashKey         = "siphash_key"
	keyBlockStoragePolicy = "block_storage_policy"

	// CurrentSchemaVersion is written on first initialization of a
	// datadir; later opens do not compare the stored value against it.
	CurrentSchemaVersion uint32 = 1
)

// EnsureInitialized writes the fixed-size config keys with their defaults
// if they are absent, generating a fresh random SipHash key the way the
// teacher's chain-init path seeds any per-datadir secret on first run.
func EnsureInitialized(ctx context.Context, db kv.RwDB, policy StoragePolicy) error {
	return db.Update(ctx, func(tx kv.RwTx) error {
		if _, ok, err := tx.GetOne(kv.Config, []byte(keyVersion)); err != nil {
			return err
		} else if !ok {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], CurrentSchemaVersion)
			if err := tx.Put(kv.Config, []byte(keyVersion), buf[:], 0); err != nil {
				return err
			}
		}
		if _, ok, err := tx.GetOne(kv.Config, []byte(keyNextBlockAddress)); err != nil {
			return err
		} else if !ok {
			var buf [8]byte
			if err := tx.Put(kv.Config, []byte(keyNextBlockAddress), buf[:], 0); err != nil {
				return err
			}
		}
		if _, ok, err := tx.GetOne(kv.Config, []byte(keySipHashKey)); err != nil {
			return err
		} else if !ok {
			var key [16]byte
			if _, err := rand.Read(key[:]); err != nil {
				return fmt.Errorf("config: generate siphash key: %w", err)
			}
			if err := tx.Put(kv.Config, []byte(keySipHashKey), key[:], 0); err != nil {
				return err
			}
		}
		if _, ok, err := tx.GetOne(kv.Config, []byte(keyBlockStoragePolicy)); err != nil {
			return err
		} else if !ok {
			if err := tx.Put(kv.Config, []byte(keyBlockStoragePolicy), []byte{byte(policy)}, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

// SchemaVersion reads the persisted schema version.
func SchemaVersion(tx kv.Tx) (uint32, error) {
	v, ok, err := tx.GetOne(kv.Config, []byte(keyVersion))
	if err != nil {
		return 0, err
	}
	if !ok || len(v) != 4 {
		return 0, fmt.Errorf("config: %s not initialized", keyVersion)
	}
	return binary.BigEndian.Uint32(v), nil
}

// NextBlockAddress reads the global block-store write position P.
func NextBlockAddress(tx kv.Tx) (uint64, error) {
	v, ok, err := tx.GetOne(kv.Config, []byte(keyNextBlockAddress))
	if err != nil {
		return 0, err
	}
	if !ok || len(v) != 8 {
		return 0, fmt.Errorf("config: %s not initialized", keyNextBlockAddress)
	}
	return binary.BigEndian.Uint64(v), nil
}

// PutNextBlockAddress persists a new P as part of the same transaction that
// commits a block write (§4.2 "atomically commit index update + P update").
func PutNextBlockAddress(tx kv.RwTx, p uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], p)
	return tx.Put(kv.Config, []byte(keyNextBlockAddress), buf[:], 0)
}

// SipHashKey reads the per-datadir SipHash-2-4 key used by internal/gcs.
func SipHashKey(tx kv.Tx) ([16]byte, error) {
	var key [16]byte
	v, ok, err := tx.GetOne(kv.Config, []byte(keySipHashKey))
	if err != nil {
		return key, err
	}
	if !ok || len(v) != 16 {
		return key, fmt.Errorf("config: %s not initialized", keySipHashKey)
	}
	copy(key[:], v)
	return key, nil
}

// BlockStoragePolicy reads the configured retention policy.
func BlockStoragePolicy(tx kv.Tx) (StoragePolicy, error) {
	v, ok, err := tx.GetOne(kv.Config, []byte(keyBlockStoragePolicy))
	if err != nil {
		return PolicyNone, err
	}
	if !ok || len(v) != 1 {
		return PolicyNone, fmt.Errorf("config: %s not initialized", keyBlockStoragePolicy)
	}
	return StoragePolicy(v[0]), nil
}
