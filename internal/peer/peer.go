// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package peer implements one peer connection's state machine (§4.8):
// Handshake, Run, Shutdown, driven by a reader/writer/ticker goroutine
// trio supervised by golang.org/x/sync/errgroup — idiomatic Go's
// rendition of the spec's cooperatively-scheduled single task per peer.
package peer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lightcore-labs/lightcore/internal/lcerr"
	"github.com/lightcore-labs/lightcore/internal/wire"
)

// State is the peer's lifecycle stage (§4.8).
type State int32

const (
	StateHandshake State = iota
	StateRun
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateRun:
		return "run"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

const (
	handshakeTimeout  = 15 * time.Second
	deadPeerTimeout   = 40 * time.Second
	pingAfterIdle     = 30 * time.Second
	getAddrInterval   = 10 * time.Minute
	tickInterval      = 1 * time.Second
	shutdownHardLimit = 1 * time.Second
)

// Conn is the subset of net.Conn the peer needs; satisfied directly by
// net.Conn, abstracted so tests can drive a peer over an in-memory pipe.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}

// Handlers are the application-level callbacks dispatched from Run as
// frames arrive. Every field is optional; a nil handler means the command
// is accepted and silently dropped.
type Handlers struct {
	OnVersion   func(*Peer, *wire.MsgVersion) error
	OnAddr      func(*Peer, *wire.MsgAddr) error
	OnGetAddr   func(*Peer) error
	OnHeaders   func(*Peer, *wire.MsgHeaders) error
	OnGetHeaders func(*Peer, *wire.MsgGetHeaders) error
	OnBlock     func(*Peer, *wire.MsgBlock) error
	OnInv       func(*Peer, *wire.MsgInv) error
	OnCFHeaders func(*Peer, *wire.MsgCFHeaders) error
	OnCFilter   func(*Peer, *wire.MsgCFilter) error
	OnNotFound  func(*Peer, *wire.MsgNotFound) error
}

type outboundItem struct {
	msg     wire.Message
	promise chan bool
}

// Peer runs one connection's protocol state machine.
type Peer struct {
	ID          string
	conn        Conn
	magic       [4]byte
	outbound    bool
	startHeight int32
	protocol    uint32
	log         *zap.SugaredLogger
	handlers    Handlers

	outCh chan outboundItem

	mu            sync.Mutex
	state         State
	lastActivity  time.Time
	localDone     bool
	remoteDone    bool
	pendingPingAt time.Time
	pendingNonce  uint64
	lastGetAddr   time.Time

	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a peer wrapping conn. Start must be called to run its
// protocol loops.
func New(id string, conn Conn, magic [4]byte, outbound bool, protocolVersion uint32, startHeight int32, log *zap.SugaredLogger, handlers Handlers) *Peer {
	return &Peer{
		ID:           id,
		conn:         conn,
		magic:        magic,
		outbound:     outbound,
		protocol:     protocolVersion,
		startHeight:  startHeight,
		log:          log,
		handlers:     handlers,
		outCh:        make(chan outboundItem, 64),
		state:        StateHandshake,
		lastActivity: time.Now(),
		doneCh:       make(chan struct{}),
	}
}

// State returns the peer's current lifecycle stage.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

// Done returns a channel closed once the peer has fully shut down.
func (p *Peer) Done() <-chan struct{} { return p.doneCh }

// Run drives the handshake and then the Run state until ctx is canceled,
// the connection fails, or a protocol violation triggers Shutdown. It
// blocks until the peer is fully torn down.
func (p *Peer) Run(ctx context.Context) error {
	defer close(p.doneCh)

	ctx, p.cancel = context.WithCancel(ctx)

	version := &wire.MsgVersion{
		ProtocolVersion: p.protocol,
		Timestamp:       time.Now().Unix(),
		Nonce:           randNonce(),
		StartHeight:     p.startHeight,
	}
	if _, err := p.enqueue(version); err != nil {
		p.shutdown()
		return err
	}

	hctx, hcancel := context.WithTimeout(ctx, handshakeTimeout)
	defer hcancel()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return p.readLoop(egCtx) })
	eg.Go(func() error { return p.writeLoop(egCtx) })
	eg.Go(func() error { return p.tickLoop(egCtx) })
	eg.Go(func() error { return p.awaitHandshake(hctx) })

	err := eg.Wait()
	p.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Peer) awaitHandshake(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if p.handshakeComplete() {
				return nil
			}
			return fmt.Errorf("peer %s: handshake timed out", p.ID)
		case <-ticker.C:
			if p.handshakeComplete() {
				p.setState(StateRun)
				return nil
			}
		}
	}
}

func (p *Peer) handshakeComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localDone && p.remoteDone
}

// Send enqueues msg on the outbound channel and returns a future
// resolving to whether the write succeeded (§4.8 "send(bytes) ->
// future<bool>").
func (p *Peer) Send(msg wire.Message) (<-chan bool, error) {
	return p.enqueue(msg)
}

func (p *Peer) enqueue(msg wire.Message) (<-chan bool, error) {
	promise := make(chan bool, 1)
	p.mu.Lock()
	shuttingDown := p.state == StateShutdown
	p.mu.Unlock()
	if shuttingDown {
		promise <- false
		return promise, nil
	}
	select {
	case p.outCh <- outboundItem{msg: msg, promise: promise}:
		return promise, nil
	default:
		// Outbound queue full: suspend the caller's goroutine on the send
		// (§4.8 "suspends on... channel send when channel is full").
		go func() {
			select {
			case p.outCh <- outboundItem{msg: msg, promise: promise}:
			case <-p.doneCh:
				promise <- false
			}
		}()
		return promise, nil
	}
}

// Shutdown closes the connection, cancels internal timers, drains the
// outbound queue resolving every pending promise to false, and returns the
// Done channel without waiting; that channel is closed once Run has finished.
func (p *Peer) Shutdown() <-chan struct{} {
	p.shutdown()
	return p.doneCh
}

func (p *Peer) shutdown() {
	p.closeOnce.Do(func() {
		p.setState(StateShutdown)
		if p.cancel != nil {
			p.cancel()
		}
		_ = p.conn.Close()
		go func() {
			select {
			case <-p.doneCh:
			case <-time.After(shutdownHardLimit):
				_ = p.conn.Close()
			}
		}()
		p.drainOutbound()
	})
}

func (p *Peer) drainOutbound() {
	for {
		select {
		case item := <-p.outCh:
			item.promise <- false
		default:
			return
		}
	}
}

func (p *Peer) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := wire.ReadFrame(p.conn, p.magic)
		if err != nil {
			if errors.Is(err, lcerr.ErrBadMagic) || errors.Is(err, lcerr.ErrBadChecksum) {
				p.log.Warnw("dropping malformed frame", "peer", p.ID, "err", err)
				continue
			}
			return err
		}
		p.touch()

		msg, err := wire.Decode(frame)
		if err != nil {
			if errors.Is(err, lcerr.ErrUnknownCommand) {
				p.log.Warnw("ignoring unknown command", "peer", p.ID, "command", frame.Command)
				continue
			}
			return fmt.Errorf("peer %s: %w", p.ID, err)
		}

		if err := p.dispatch(msg); err != nil {
			return err
		}
	}
}

func (p *Peer) dispatch(msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		p.mu.Lock()
		p.remoteDone = true
		p.mu.Unlock()
		if p.handlers.OnVersion != nil {
			if err := p.handlers.OnVersion(p, m); err != nil {
				return err
			}
		}
		_, err := p.enqueue(&wire.MsgVerAck{})
		return err
	case *wire.MsgVerAck:
		p.mu.Lock()
		p.localDone = true
		p.mu.Unlock()
		return nil
	case *wire.MsgPing:
		_, err := p.enqueue(&wire.MsgPong{Nonce: m.Nonce})
		return err
	case *wire.MsgPong:
		p.mu.Lock()
		if p.pendingNonce == m.Nonce {
			p.pendingNonce = 0
		}
		p.mu.Unlock()
		return nil
	case *wire.MsgGetAddr:
		if p.handlers.OnGetAddr != nil {
			return p.handlers.OnGetAddr(p)
		}
		return nil
	case *wire.MsgAddr:
		if p.handlers.OnAddr != nil {
			return p.handlers.OnAddr(p, m)
		}
		return nil
	case *wire.MsgGetHeaders:
		if p.handlers.OnGetHeaders != nil {
			return p.handlers.OnGetHeaders(p, m)
		}
		return nil
	case *wire.MsgHeaders:
		if p.handlers.OnHeaders != nil {
			return p.handlers.OnHeaders(p, m)
		}
		return nil
	case *wire.MsgBlock:
		if p.handlers.OnBlock != nil {
			return p.handlers.OnBlock(p, m)
		}
		return nil
	case *wire.MsgInv:
		if p.handlers.OnInv != nil {
			return p.handlers.OnInv(p, m)
		}
		return nil
	case *wire.MsgCFHeaders:
		if p.handlers.OnCFHeaders != nil {
			return p.handlers.OnCFHeaders(p, m)
		}
		return nil
	case *wire.MsgCFilter:
		if p.handlers.OnCFilter != nil {
			return p.handlers.OnCFilter(p, m)
		}
		return nil
	case *wire.MsgNotFound:
		if p.handlers.OnNotFound != nil {
			return p.handlers.OnNotFound(p, m)
		}
		return nil
	default:
		// Recognized but unhandled command: accepted, ignored.
		return nil
	}
}

func (p *Peer) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-p.outCh:
			err := wire.EncodeFrame(p.conn, p.magic, item.msg)
			item.promise <- err == nil
			if err != nil {
				return err
			}
		}
	}
}

func (p *Peer) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.onTick(); err != nil {
				return err
			}
		}
	}
}

func (p *Peer) onTick() error {
	p.mu.Lock()
	idle := time.Since(p.lastActivity)
	needsGetAddr := time.Since(p.lastGetAddr) >= getAddrInterval
	hasPending := p.pendingNonce != 0
	p.mu.Unlock()

	if idle >= deadPeerTimeout {
		return fmt.Errorf("peer %s: dead peer (idle %s)", p.ID, idle)
	}
	if idle >= pingAfterIdle && !hasPending {
		nonce := randNonce()
		p.mu.Lock()
		p.pendingNonce = nonce
		p.pendingPingAt = time.Now()
		p.mu.Unlock()
		if _, err := p.enqueue(&wire.MsgPing{Nonce: nonce}); err != nil {
			return err
		}
	}
	if needsGetAddr {
		p.mu.Lock()
		p.lastGetAddr = time.Now()
		p.mu.Unlock()
		if _, err := p.enqueue(&wire.MsgGetAddr{}); err != nil {
			return err
		}
	}
	return nil
}

func randNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
