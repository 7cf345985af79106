// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package reorg is the reorg coordinator (§4.10): a publish-subscribe
// point the header oracle publishes to after committing a reorg, and the
// filter oracle (and an enclosing wallet) subscribe to.
package reorg

import (
	"context"
	"sync"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
)

// Event is published after a header-oracle commit that performed a reorg
// (§4.6 step 4, §4.10).
type Event struct {
	Chain                uint32
	CommonAncestorHash   chainhash.Hash
	CommonAncestorHeight chainhash.Height
}

// Subscriber receives reorg events. Handle is called synchronously from
// Bus.Publish — per §4.10 "the filter oracle performs reset_tips
// synchronously before acknowledging" — so a slow or blocking subscriber
// delays every other subscriber and the publisher itself.
type Subscriber interface {
	Handle(ctx context.Context, ev Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev Event) error

func (f SubscriberFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus is the shared event bus the header oracle publishes reorgs on.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers sub to receive every future Publish call. There is
// no Unsubscribe: subscribers live for the process lifetime, matching the
// fixed (filter oracle, wallet) subscriber set §4.10 describes.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish delivers ev to every subscriber in registration order, stopping
// at the first error (§5 ordering: "strictly after the commit that
// produced them and strictly before the next add_headers... is accepted
// by subscribers" — callers must hold whatever serialization guarantees
// that ordering; Publish itself only guarantees in-order delivery to
// subscribers for one call).
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
