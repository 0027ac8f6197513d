// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream folds ordered sequences of partial-content envelopes
// into whole messages. Each message id accumulates append-only until a
// terminal marker completes it or a failure moves it to errored;
// renderers only ever see immutable snapshots, so reads never race
// with an in-progress append.
package stream

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of one streaming message.
type Status int

const (
	// StatusStreaming means chunks are still arriving.
	StatusStreaming Status = iota
	// StatusComplete means the terminal marker arrived; content is
	// final and immutable.
	StatusComplete
	// StatusErrored means the stream broke (connection loss or an
	// explicit error). Partial content is preserved for display but is
	// not final truth.
	StatusErrored
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusStreaming:
		return "streaming"
	case StatusComplete:
		return "complete"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable view of one streaming message, safe to hand
// to renderers while the accumulation continues.
type Snapshot struct {
	ID      string
	Role    string
	Content string
	Status  Status
	Err     error
}

// message is the in-progress accumulation for one id. The builder is
// append-only; length only grows.
type message struct {
	id     string
	role   string
	buf    strings.Builder
	status Status
	err    error
}

func (m *message) snapshot() Snapshot {
	return Snapshot{
		ID:      m.id,
		Role:    m.role,
		Content: m.buf.String(),
		Status:  m.status,
		Err:     m.err,
	}
}

// =============================================================================
// REASSEMBLER
// =============================================================================

// UpdateFunc observes a message after each state change: every
// append, the completion, and an error.
type UpdateFunc func(snap Snapshot)

// FinalizeFunc receives a completed message exactly once per id.
// Ownership of the final value transfers to the receiver; the
// reassembler keeps only the completion marker to stay idempotent.
type FinalizeFunc func(snap Snapshot)

// Reassembler owns in-progress accumulation for all streaming message
// ids. Chunk application order is wire arrival order; no reordering,
// no deduplication. Ordered delivery per message id is a property of
// the single duplex connection underneath.
type Reassembler struct {
	mu     sync.Mutex
	active map[string]*message
	// finalized remembers completed ids so a duplicate terminal
	// envelope is a no-op instead of a second finalize.
	finalized map[string]bool
	// errored remembers failed ids: no finalize may follow an error,
	// and straggler chunks for a failed id are dropped.
	errored map[string]bool

	onUpdate   UpdateFunc
	onFinalize FinalizeFunc
	log        zerolog.Logger
}

// New creates an empty reassembler.
func New(log zerolog.Logger) *Reassembler {
	return &Reassembler{
		active:    make(map[string]*message),
		finalized: make(map[string]bool),
		errored:   make(map[string]bool),
		log:       log.With().Str("component", "stream").Logger(),
	}
}

// OnUpdate registers the per-change observer. Register before chunks
// flow.
func (r *Reassembler) OnUpdate(fn UpdateFunc) { r.onUpdate = fn }

// OnFinalize registers the exactly-once completion receiver.
func (r *Reassembler) OnFinalize(fn FinalizeFunc) { r.onFinalize = fn }

// Append applies one partial-content chunk to the message id, creating
// the entry in streaming state on first sight. Appending to a
// completed id is an anomaly and is dropped.
func (r *Reassembler) Append(id, role, chunk string) {
	r.mu.Lock()
	if r.finalized[id] {
		r.mu.Unlock()
		r.log.Warn().Str("message_id", id).Msg("chunk for completed message dropped")
		return
	}
	if r.errored[id] {
		r.mu.Unlock()
		r.log.Warn().Str("message_id", id).Msg("chunk for errored message dropped")
		return
	}

	m, ok := r.active[id]
	if !ok {
		m = &message{id: id, role: role, status: StatusStreaming}
		r.active[id] = m
	}
	if m.role == "" {
		m.role = role
	}
	if m.status == StatusStreaming {
		m.buf.WriteString(chunk)
	}
	snap := m.snapshot()
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(snap)
	}
}

// Complete applies the terminal marker for the id. The first call
// finalizes: content becomes immutable and the snapshot is handed to
// the finalize receiver exactly once. A duplicate terminal for an
// already-complete id is a logged no-op.
func (r *Reassembler) Complete(id string) (Snapshot, bool) {
	r.mu.Lock()
	if r.finalized[id] {
		r.mu.Unlock()
		r.log.Warn().Str("message_id", id).Msg("duplicate terminal for completed message")
		return Snapshot{}, false
	}
	if r.errored[id] {
		// The message already failed; its error is terminal and no
		// completion may follow.
		r.mu.Unlock()
		r.log.Warn().Str("message_id", id).Msg("terminal for errored message dropped")
		return Snapshot{}, false
	}

	m, ok := r.active[id]
	if !ok {
		// Terminal with no prior chunks: an empty message, still a
		// valid completion.
		m = &message{id: id, status: StatusStreaming}
	}
	m.status = StatusComplete
	delete(r.active, id)
	r.finalized[id] = true
	snap := m.snapshot()
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(snap)
	}
	if r.onFinalize != nil {
		r.onFinalize(snap)
	}
	return snap, true
}

// Fail moves a streaming message to errored, preserving its partial
// content. No finalize occurs; callers are signaled via the update
// observer so live affordances can stop.
func (r *Reassembler) Fail(id string, err error) {
	r.mu.Lock()
	m, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	m.status = StatusErrored
	m.err = err
	delete(r.active, id)
	r.errored[id] = true
	snap := m.snapshot()
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(snap)
	}
}

// FailAll errors every in-progress message. Called on connection loss.
func (r *Reassembler) FailAll(err error) {
	r.mu.Lock()
	snaps := make([]Snapshot, 0, len(r.active))
	for id, m := range r.active {
		m.status = StatusErrored
		m.err = err
		snaps = append(snaps, m.snapshot())
		delete(r.active, id)
		r.errored[id] = true
	}
	r.mu.Unlock()

	if len(snaps) > 0 {
		r.log.Warn().Int("count", len(snaps)).Err(err).Msg("failing in-progress streams")
	}
	if r.onUpdate != nil {
		for _, snap := range snaps {
			r.onUpdate(snap)
		}
	}
}

// Snapshot returns the current view of an in-progress message.
func (r *Reassembler) Snapshot(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.active[id]
	if !ok {
		return Snapshot{}, false
	}
	return m.snapshot(), true
}

// Active returns the number of messages still streaming.
func (r *Reassembler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
