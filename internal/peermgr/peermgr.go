// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package peermgr is the peer manager (§4.9): it maintains a target peer
// count by cascading through candidate sources, reaps dead peers, and
// distributes manager-level requests across connected peers' inboxes.
package peermgr

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/dnscache"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lightcore-labs/lightcore/internal/addrbook"
	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/peer"
	"github.com/lightcore-labs/lightcore/internal/wire"
)

// ServiceCompactFilters is the service bit a light client prefers its
// peers advertise (§4.9 "services include CompactFilters").
const ServiceCompactFilters uint32 = 1 << 6

const (
	defaultMaintainInterval = 5 * time.Second
	defaultDialTimeout      = 10 * time.Second
	dnsCacheRefresh         = 5 * time.Minute
)

// Dialer abstracts outbound connection establishment for testability.
type Dialer func(ctx context.Context, network, address string) (peer.Conn, error)

func defaultDialer(ctx context.Context, network, address string) (peer.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures a Manager.
type Config struct {
	Chain              uint32
	ProtocolVersion    uint32
	Magic              [4]byte
	TargetPeerCount    int
	MaxConcurrentDials int64
	DefaultPeer        string // optional "host:port"
	DNSSeeds           []string
	DefaultPort        string
	StartHeight        int32
	Handlers           peer.Handlers
	Dialer             Dialer
}

type peerEntry struct {
	p      *peer.Peer
	addrID chainhash.Hash
}

// Manager maintains a target-sized set of connected peers (§4.9).
type Manager struct {
	cfg      Config
	book     *addrbook.Book
	log      *zap.SugaredLogger
	resolver *dnscache.Resolver
	dialSem  *semaphore.Weighted
	dialer   Dialer

	mu        sync.Mutex
	peers     map[string]*peerEntry // peer id -> entry
	active    map[chainhash.Hash]int
	connected map[chainhash.Hash]struct{}
	backoffs  map[chainhash.Hash]*backoff.ExponentialBackOff
	nextTry   map[chainhash.Hash]time.Time
}

// New creates a Manager. book and log must be non-nil.
func New(cfg Config, book *addrbook.Book, log *zap.SugaredLogger) *Manager {
	if cfg.MaxConcurrentDials <= 0 {
		cfg.MaxConcurrentDials = 4
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = defaultDialer
	}
	return &Manager{
		cfg:       cfg,
		book:      book,
		log:       log,
		resolver:  &dnscache.Resolver{},
		dialSem:   semaphore.NewWeighted(cfg.MaxConcurrentDials),
		dialer:    dialer,
		peers:     make(map[string]*peerEntry),
		active:    make(map[chainhash.Hash]int),
		connected: make(map[chainhash.Hash]struct{}),
		backoffs:  make(map[chainhash.Hash]*backoff.ExponentialBackOff),
		nextTry:   make(map[chainhash.Hash]time.Time),
	}
}

// Run drives the maintenance loop until ctx is canceled (§4.9 "Loop...
// fires on state-machine tick and on external events" — rendered here as
// a fixed-interval ticker, the idiomatic Go equivalent).
func (m *Manager) Run(ctx context.Context) error {
	refreshCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.resolver.Refresh(refreshCtx, dnsCacheRefresh)

	ticker := time.NewTicker(defaultMaintainInterval)
	defer ticker.Stop()

	m.maintain(ctx)
	for {
		select {
		case <-ctx.Done():
			m.shutdownAll()
			return ctx.Err()
		case <-ticker.C:
			m.maintain(ctx)
		}
	}
}

// PeerCount returns the number of currently tracked peers.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Broadcast distributes msg to every connected peer's outbound queue
// (§4.9 step 3 "distribute manager-level requests... via per-peer
// inboxes").
func (m *Manager) Broadcast(msg wire.Message) {
	m.mu.Lock()
	entries := make([]*peerEntry, 0, len(m.peers))
	for _, e := range m.peers {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		if _, err := e.p.Send(msg); err != nil {
			m.log.Warnw("broadcast send failed", "peer", e.p.ID, "err", err)
		}
	}
}

func (m *Manager) maintain(ctx context.Context) {
	m.reap()

	m.mu.Lock()
	need := len(m.peers) < m.cfg.TargetPeerCount
	m.mu.Unlock()
	if !need {
		return
	}

	rec, ok := m.selectCandidate(ctx)
	if !ok {
		return
	}
	m.dial(ctx, rec)
}

// reap removes any peer whose lifecycle has reached Shutdown (§4.9 step 1).
func (m *Manager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.peers {
		select {
		case <-e.p.Done():
			delete(m.peers, id)
			m.active[e.addrID]--
			if m.active[e.addrID] <= 0 {
				delete(m.active, e.addrID)
				delete(m.connected, e.addrID)
			}
		default:
		}
	}
}

type candidate struct {
	id      chainhash.Hash
	network uint8
	bytes   []byte
	port    uint16
	addr    string
}

// selectCandidate runs the §4.9 cascade: default seed, address book with
// service filter, DNS seed, address book without filter.
func (m *Manager) selectCandidate(ctx context.Context) (candidate, bool) {
	if m.cfg.DefaultPeer != "" {
		id := addrbook.DeriveID(m.cfg.ProtocolVersion, 0, []byte(m.cfg.DefaultPeer), 0, m.cfg.Chain)
		m.mu.Lock()
		_, isConnected := m.connected[id]
		until, backingOff := m.nextTry[id]
		m.mu.Unlock()
		if !isConnected && !(backingOff && time.Now().Before(until)) {
			return candidate{id: id, addr: m.cfg.DefaultPeer}, true
		}
	}

	if rec, ok := m.book.Find(m.cfg.Chain, m.cfg.ProtocolVersion, nil, []uint32{ServiceCompactFilters}); ok {
		if c, ok := m.candidateFromRecord(rec); ok {
			return c, true
		}
	}

	if c, ok := m.selectFromDNS(ctx); ok {
		return c, true
	}

	if rec, ok := m.book.Find(m.cfg.Chain, m.cfg.ProtocolVersion, nil, nil); ok {
		if c, ok := m.candidateFromRecord(rec); ok {
			return c, true
		}
	}

	return candidate{}, false
}

func (m *Manager) candidateFromRecord(rec *addrbook.Record) (candidate, bool) {
	m.mu.Lock()
	_, isConnected := m.connected[rec.ID]
	m.mu.Unlock()
	if isConnected {
		return candidate{}, false
	}
	return candidate{
		id:      rec.ID,
		network: rec.Network,
		bytes:   rec.Bytes,
		port:    rec.Port,
		addr:    net.JoinHostPort(net.IP(rec.Bytes).String(), fmt.Sprintf("%d", rec.Port)),
	}, true
}

func (m *Manager) selectFromDNS(ctx context.Context) (candidate, bool) {
	if len(m.cfg.DNSSeeds) == 0 {
		return candidate{}, false
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(m.cfg.DNSSeeds))))
	if err != nil {
		return candidate{}, false
	}
	seed := m.cfg.DNSSeeds[idx.Int64()]

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	addrs, err := m.resolver.LookupHost(dialCtx, seed)
	if err != nil {
		m.log.Warnw("dns seed lookup failed", "seed", seed, "err", err)
		return candidate{}, false
	}

	for _, ip := range addrs {
		bytes := net.ParseIP(ip)
		if bytes == nil {
			continue
		}
		network := uint8(1)
		b := bytes.To4()
		if b == nil {
			network = 2
			b = bytes.To16()
		}
		port := defaultPortNumber(m.cfg.DefaultPort)
		id := addrbook.DeriveID(m.cfg.ProtocolVersion, network, b, port, m.cfg.Chain)
		m.mu.Lock()
		_, isActive := m.active[id]
		m.mu.Unlock()
		if isActive {
			continue
		}
		return candidate{id: id, network: network, bytes: b, port: port, addr: net.JoinHostPort(ip, m.cfg.DefaultPort)}, true
	}
	return candidate{}, false
}

func defaultPortNumber(s string) uint16 {
	var port uint16
	_, _ = fmt.Sscanf(s, "%d", &port)
	return port
}

func (m *Manager) dial(ctx context.Context, c candidate) {
	m.mu.Lock()
	if until, ok := m.nextTry[c.id]; ok && time.Now().Before(until) {
		m.mu.Unlock()
		return
	}
	m.active[c.id]++
	m.connected[c.id] = struct{}{}
	m.mu.Unlock()

	if !m.dialSem.TryAcquire(1) {
		// No dial was attempted: undo the bookkeeping above so this
		// candidate remains selectable on the next maintain() tick instead
		// of looking permanently active/connected with no peer to reap it.
		m.mu.Lock()
		m.active[c.id]--
		if m.active[c.id] <= 0 {
			delete(m.active, c.id)
		}
		delete(m.connected, c.id)
		m.mu.Unlock()
		return
	}

	go func() {
		defer m.dialSem.Release(1)

		dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
		conn, err := m.dialer(dialCtx, "tcp", c.addr)
		if err != nil {
			m.onDialFailure(c)
			m.log.Warnw("dial failed", "addr", c.addr, "err", err)
			return
		}
		m.onDialSuccess(c)

		p := peer.New(c.addr, conn, m.cfg.Magic, true, m.cfg.ProtocolVersion, m.cfg.StartHeight, m.log, m.cfg.Handlers)
		m.mu.Lock()
		m.peers[p.ID] = &peerEntry{p: p, addrID: c.id}
		m.mu.Unlock()

		// Preserve whatever services the address book already recorded for
		// this peer (e.g. learned from a prior handshake or an addr
		// gossip) — a bare new Record here would otherwise wipe them,
		// since AddOrUpdate treats a nil Services as "all bits cleared".
		var services *bitset.BitSet
		if existing, ok := m.book.Get(c.id); ok {
			services = existing.Services
		}
		rec := &addrbook.Record{ID: c.id, Chain: m.cfg.Chain, Protocol: m.cfg.ProtocolVersion, Network: c.network, Bytes: c.bytes, Port: c.port, LastConnected: time.Now(), Services: services}
		if err := m.book.AddOrUpdate(ctx, rec); err != nil {
			m.log.Warnw("address book update failed", "addr", c.addr, "err", err)
		}

		if err := p.Run(ctx); err != nil {
			m.log.Infow("peer disconnected", "addr", c.addr, "err", err)
		}
	}()
}

func (m *Manager) onDialFailure(c candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[c.id]--
	if m.active[c.id] <= 0 {
		delete(m.active, c.id)
	}
	delete(m.connected, c.id)

	bo, ok := m.backoffs[c.id]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0
		m.backoffs[c.id] = bo
	}
	m.nextTry[c.id] = time.Now().Add(bo.NextBackOff())
}

func (m *Manager) onDialSuccess(c candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bo, ok := m.backoffs[c.id]; ok {
		bo.Reset()
	}
	delete(m.nextTry, c.id)
}

func (m *Manager) shutdownAll() {
	m.mu.Lock()
	entries := make([]*peerEntry, 0, len(m.peers))
	for _, e := range m.peers {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	for _, e := range entries {
		e.p.Shutdown()
	}
}
