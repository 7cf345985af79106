// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lightcore-labs/lightcore/internal/wire"
)

var testMagic = [4]byte{0xfa, 0xbf, 0xb5, 0xda}

func newTestPeer(t *testing.T, conn Conn, outbound bool, handlers Handlers) *Peer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	return New("test-peer", conn, testMagic, outbound, 70015, 0, logger, handlers)
}

func TestHandshakeCompletesBothDirections(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	pa := newTestPeer(t, connA, true, Handlers{})
	pb := newTestPeer(t, connB, false, Handlers{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- pa.Run(ctx) }()
	go func() { errB <- pb.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for pa.State() != StateRun || pb.State() != StateRun {
		select {
		case <-deadline:
			t.Fatalf("handshake did not complete: a=%s b=%s", pa.State(), pb.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-pa.Done()
	<-pb.Done()
}

func TestSendResolvesPromise(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	received := make(chan *wire.MsgPing, 1)
	pa := newTestPeer(t, connA, true, Handlers{})
	pb := newTestPeer(t, connB, false, Handlers{})
	_ = pb // only pa.Send is under test; pb drains frames via its own readLoop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go pa.Run(ctx)
	go pb.Run(ctx)

	for pa.State() != StateRun {
		time.Sleep(5 * time.Millisecond)
	}

	promise, err := pa.Send(&wire.MsgPing{Nonce: 42})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case ok := <-promise:
		if !ok {
			t.Fatal("expected send to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("promise never resolved")
	}
	_ = received

	cancel()
	<-pa.Done()
	<-pb.Done()
}

func TestShutdownBreaksOutstandingPromises(t *testing.T) {
	connA, connB := net.Pipe()
	defer connB.Close()

	// Drain whatever pa writes (its handshake version message) so pa's
	// writeLoop never blocks forever on an unread net.Pipe.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := connB.Read(buf); err != nil {
				return
			}
		}
	}()

	pa := newTestPeer(t, connA, true, Handlers{})

	ctx := context.Background()
	go pa.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	pa.Shutdown()
	<-pa.Done()

	promise, err := pa.Send(&wire.MsgGetAddr{})
	if err != nil {
		t.Fatalf("send after shutdown: %v", err)
	}
	select {
	case ok := <-promise:
		if ok {
			t.Fatal("promise should resolve false after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("promise never resolved after shutdown")
	}
}
