// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package peermgr

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lightcore-labs/lightcore/internal/addrbook"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/memdb"
	"github.com/lightcore-labs/lightcore/internal/peer"
)

func testBook(t *testing.T) *addrbook.Book {
	t.Helper()
	db := memdb.Open(kv.ChaindataTablesCfg)
	b, err := addrbook.Open(context.Background(), db)
	if err != nil {
		t.Fatalf("open book: %v", err)
	}
	return b
}

// fakeDialer hands back an in-memory net.Pipe connection for every dial,
// draining whatever the spawned Peer writes so its handshake never blocks,
// and records per-address attempt counts for assertions.
type fakeDialer struct {
	mu       sync.Mutex
	attempts map[string]int
	fail     map[string]bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{attempts: make(map[string]int), fail: make(map[string]bool)}
}

func (d *fakeDialer) dial(ctx context.Context, network, address string) (peer.Conn, error) {
	d.mu.Lock()
	d.attempts[address]++
	shouldFail := d.fail[address]
	d.mu.Unlock()
	if shouldFail {
		return nil, errors.New("fake dial failure")
	}
	local, remote := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	return local, nil
}

func (d *fakeDialer) attemptsFor(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[addr]
}

func baseConfig(defaultPeer string, dial Dialer) Config {
	return Config{
		Chain:              1,
		ProtocolVersion:    70015,
		TargetPeerCount:    1,
		MaxConcurrentDials: 2,
		DefaultPeer:        defaultPeer,
		Dialer:             dial,
	}
}

func TestDialsDefaultPeerFirst(t *testing.T) {
	fd := newFakeDialer()
	book := testBook(t)
	cfg := baseConfig("default.example:8333", fd.dial)
	m := New(cfg, book, zap.NewNop().Sugar())

	m.maintain(context.Background())
	time.Sleep(100 * time.Millisecond)

	if fd.attemptsFor("default.example:8333") == 0 {
		t.Fatalf("expected default peer to be dialed")
	}
	if m.PeerCount() != 1 {
		t.Fatalf("expected 1 peer, got %d", m.PeerCount())
	}
}

func TestFailedDialSchedulesBackoff(t *testing.T) {
	fd := newFakeDialer()
	fd.fail["default.example:8333"] = true
	book := testBook(t)
	cfg := baseConfig("default.example:8333", fd.dial)
	m := New(cfg, book, zap.NewNop().Sugar())

	m.maintain(context.Background())
	time.Sleep(100 * time.Millisecond)

	id := addrbook.DeriveID(cfg.ProtocolVersion, 0, []byte(cfg.DefaultPeer), 0, cfg.Chain)
	m.mu.Lock()
	_, scheduled := m.nextTry[id]
	m.mu.Unlock()
	if !scheduled {
		t.Fatalf("expected a backoff to be scheduled after failed dial")
	}
	if m.PeerCount() != 0 {
		t.Fatalf("expected no peer on failed dial, got %d", m.PeerCount())
	}
}

func TestReapRemovesShutdownPeers(t *testing.T) {
	fd := newFakeDialer()
	book := testBook(t)
	cfg := baseConfig("default.example:8333", fd.dial)
	m := New(cfg, book, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	m.maintain(ctx)
	time.Sleep(100 * time.Millisecond)
	if m.PeerCount() != 1 {
		t.Fatalf("expected 1 peer before shutdown, got %d", m.PeerCount())
	}

	cancel()
	m.shutdownAll()
	time.Sleep(100 * time.Millisecond)
	m.reap()
	if m.PeerCount() != 0 {
		t.Fatalf("expected peer to be reaped after shutdown, got %d", m.PeerCount())
	}
}

func TestFallsBackToAddressBookWhenNoDefaultPeer(t *testing.T) {
	fd := newFakeDialer()
	book := testBook(t)
	rec := &addrbook.Record{
		Chain:    1,
		Protocol: 70015,
		Network:  1,
		Bytes:    net.ParseIP("203.0.113.7").To4(),
		Port:     8333,
	}
	if err := book.AddOrUpdate(context.Background(), rec); err != nil {
		t.Fatalf("seed address book: %v", err)
	}

	cfg := baseConfig("", fd.dial)
	m := New(cfg, book, zap.NewNop().Sugar())

	m.maintain(context.Background())
	time.Sleep(100 * time.Millisecond)

	if m.PeerCount() != 1 {
		t.Fatalf("expected 1 peer dialed from address book, got %d", m.PeerCount())
	}
}
