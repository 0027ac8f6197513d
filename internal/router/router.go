// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router maps inbound envelopes to topic subscribers. A topic
// is a broadcast channel: every listener registered under the key
// receives every dispatched envelope, in registration order. There is
// no buffering or replay; a topic with no listeners drops silently.
package router

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/riglink/internal/protocol"
)

// Handler receives one dispatched envelope.
type Handler func(env *protocol.Envelope)

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription is the handle returned by Subscribe. Listeners
// unregister by handle, never by function identity, so cancelling
// twice is harmless and two subscriptions with the same callback stay
// independent.
type Subscription struct {
	topic string
	id    uint64
	r     *Router
}

// Topic returns the topic key this subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Cancel detaches the listener. After Cancel returns, the listener
// receives no further envelopes. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.r.cancel(s.topic, s.id)
}

type entry struct {
	id uint64
	fn Handler
}

// =============================================================================
// ROUTER
// =============================================================================

// Router is the topic registry. Dispatch happens on the single inbound
// goroutine, but subscriptions come from caller goroutines, so the
// registry is mutex-guarded.
type Router struct {
	mu     sync.Mutex
	topics map[string][]entry
	nextID uint64
	log    zerolog.Logger
}

// New creates an empty router.
func New(log zerolog.Logger) *Router {
	return &Router{
		topics: make(map[string][]entry),
		log:    log.With().Str("component", "router").Logger(),
	}
}

// Subscribe registers a listener for the topic key and returns its
// cancellation handle. Multiple listeners may share a key.
func (r *Router) Subscribe(topic string, fn Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.topics[topic] = append(r.topics[topic], entry{id: id, fn: fn})
	return &Subscription{topic: topic, id: id, r: r}
}

func (r *Router) cancel(topic string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.topics[topic]
	for i, e := range entries {
		if e.id == id {
			r.topics[topic] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	// The topic entry itself goes away only once its listener set is
	// empty.
	if len(r.topics[topic]) == 0 {
		delete(r.topics, topic)
	}
}

// Listeners returns the number of listeners registered for the topic.
func (r *Router) Listeners(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

// Dispatch fans the envelope out to every listener currently
// registered under its topic and returns how many were reached.
// Delivery iterates over a snapshot of the listener set, so a listener
// unsubscribing mid-dispatch cannot disturb the pass it is part of.
func (r *Router) Dispatch(env *protocol.Envelope) int {
	topic := env.Topic()
	if topic == "" {
		return 0
	}

	r.mu.Lock()
	entries := r.topics[topic]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	r.mu.Unlock()

	if len(snapshot) == 0 {
		r.log.Debug().Str("topic", topic).Msg("no listeners, envelope dropped")
		return 0
	}

	for _, e := range snapshot {
		e.fn(env)
	}
	return len(snapshot)
}
