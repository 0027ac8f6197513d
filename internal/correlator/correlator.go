// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package correlator pairs outbound commands with their eventual
// responses. Each tracked correlation id owns a future the caller
// waits on and a cancelable timeout timer; a disconnect fails every
// pending entry at once so nothing hangs silently across a reconnect.
package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/riglink/internal/protocol"
)

// DefaultTimeout is the per-request response window.
const DefaultTimeout = 30 * time.Second

// =============================================================================
// FUTURE
// =============================================================================

// Future is the pending result of one command. It resolves exactly
// once. A caller that loses interest simply stops waiting; a late
// resolution is stored and discarded, never a crash.
type Future struct {
	done    chan struct{}
	once    sync.Once
	payload json.RawMessage
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(payload json.RawMessage, err error) {
	f.once.Do(func() {
		f.payload = payload
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or the context ends. On
// success it returns the data envelope's payload.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the
// future is unresolved.
func (f *Future) Result() (payload json.RawMessage, err error, ok bool) {
	select {
	case <-f.done:
		return f.payload, f.err, true
	default:
		return nil, nil, false
	}
}

// =============================================================================
// CORRELATOR
// =============================================================================

type pendingEntry struct {
	fut     *Future
	timer   *time.Timer
	created time.Time
}

// Correlator tracks pending requests by correlation id.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a correlator with the given per-request timeout
// (DefaultTimeout when zero).
func New(timeout time.Duration, log zerolog.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		pending: make(map[string]*pendingEntry),
		timeout: timeout,
		log:     log.With().Str("component", "correlator").Logger(),
	}
}

// SetTimeout changes the response window for requests tracked from now
// on. Entries already pending keep the window they were created with.
func (c *Correlator) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// Track registers a correlation id and returns its future. The entry
// expires with Timeout if no response arrives in the window.
func (c *Correlator) Track(id string) *Future {
	fut := newFuture()

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, exists := c.pending[id]; exists {
		// Should never happen with uuid ids; fail the stale entry
		// rather than stranding its caller.
		c.log.Error().Str("correlation_id", id).Msg("correlation id reused while pending")
		prev.timer.Stop()
		prev.fut.resolve(nil, protocol.ErrConnectionLost)
	}

	c.pending[id] = &pendingEntry{
		fut:     fut,
		timer:   time.AfterFunc(c.timeout, func() { c.expire(id) }),
		created: time.Now(),
	}
	return fut
}

// expire fails a pending entry with Timeout and removes it.
func (c *Correlator) expire(id string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		c.log.Warn().Str("correlation_id", id).Dur("after", c.timeout).Msg("request timed out")
		entry.fut.resolve(nil, protocol.ErrTimeout)
	}
}

// take removes and returns the entry for id, stopping its timer.
func (c *Correlator) take(id string) (*pendingEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	entry.timer.Stop()
	return entry, true
}

// Resolve completes the pending request with a response payload.
// A correlation id is consumed exactly once: an id with no pending
// entry (already answered, timed out, or never tracked) is a protocol
// anomaly, logged and reported as false.
func (c *Correlator) Resolve(id string, payload json.RawMessage) bool {
	entry, ok := c.take(id)
	if !ok {
		c.log.Warn().Str("correlation_id", id).Msg("response for unknown correlation id")
		return false
	}
	entry.fut.resolve(payload, nil)
	return true
}

// Reject fails the pending request with the given error.
func (c *Correlator) Reject(id string, err error) bool {
	entry, ok := c.take(id)
	if !ok {
		c.log.Warn().Str("correlation_id", id).Msg("error for unknown correlation id")
		return false
	}
	entry.fut.resolve(nil, err)
	return true
}

// FailAll fails every pending entry with err. Called when the physical
// connection drops: callers decide whether to resubmit.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	entries := make([]*pendingEntry, 0, len(c.pending))
	for id, entry := range c.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if len(entries) > 0 {
		c.log.Warn().Int("count", len(entries)).Err(err).Msg("failing all pending requests")
	}
	for _, entry := range entries {
		entry.fut.resolve(nil, err)
	}
}

// Pending returns the number of requests still awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
