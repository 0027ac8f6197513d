// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package link

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/riglink/internal/config"
	"github.com/jeranaias/riglink/internal/correlator"
	"github.com/jeranaias/riglink/internal/history"
	"github.com/jeranaias/riglink/internal/protocol"
	"github.com/jeranaias/riglink/internal/router"
	"github.com/jeranaias/riglink/internal/stream"
	"github.com/jeranaias/riglink/internal/transport"
)

// =============================================================================
// WIRE ABSTRACTION
// =============================================================================

// Wire is the transport surface the Manager drives. *transport.Transport
// satisfies it; tests substitute an in-memory fake.
type Wire interface {
	Open(ctx context.Context) error
	SendRaw(data []byte) error
	OnMessage(fn transport.MessageHandler)
	OnStateChange(fn transport.StateHandler)
	State() transport.State
	Close() error
}

var _ Wire = (*transport.Transport)(nil)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Manager.
type Options struct {
	// RequestTimeout is how long a request waits for its correlated
	// response (default: 30s).
	RequestTimeout time.Duration

	// RatePerSec caps outbound commands per second; 0 means no cap.
	RatePerSec float64

	// RateBurst is the token bucket burst when RatePerSec is set.
	RateBurst int

	// History, when non-nil, receives every finalized chat message.
	History *history.Store
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager is the connection core facade.
type Manager struct {
	wire    Wire
	routes  *router.Router
	pending *correlator.Correlator
	streams *stream.Reassembler
	hist    *history.Store
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a Manager driving the given wire. Handlers are wired
// immediately; call Open to establish the link.
func New(wire Wire, opts Options, log zerolog.Logger) *Manager {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = correlator.DefaultTimeout
	}

	m := &Manager{
		wire:    wire,
		routes:  router.New(log),
		pending: correlator.New(opts.RequestTimeout, log),
		streams: stream.New(log),
		hist:    opts.History,
		log:     log.With().Str("component", "link").Logger(),
	}

	if opts.RatePerSec > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	m.streams.OnFinalize(m.persistFinalized)

	wire.OnMessage(m.handleFrame)
	wire.OnStateChange(m.handleState)

	return m
}

// NewFromConfig builds the full stack from configuration: transport,
// optional history store, and the Manager on top.
func NewFromConfig(cfg *config.Config, log zerolog.Logger) (*Manager, error) {
	tcfg := transport.DefaultConfig(cfg.Server.URL)
	tcfg.Token = cfg.Server.Token
	tcfg.HandshakeTimeout = cfg.HandshakeTimeout()
	tcfg.WriteTimeout = cfg.WriteTimeout()
	tcfg.Backoff = transport.BackoffPolicy{
		InitialDelay: cfg.InitialReconnectDelay(),
		MaxDelay:     cfg.MaxReconnectDelay(),
		Multiplier:   cfg.Reconnect.Multiplier,
		Jitter:       cfg.Reconnect.Jitter,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
	}
	tcfg.DisableReconnect = !cfg.Reconnect.Enabled

	opts := Options{
		RequestTimeout: cfg.RequestTimeout(),
		RatePerSec:     cfg.Request.RatePerSec,
		RateBurst:      cfg.Request.RateBurst,
	}

	if cfg.History.Enabled {
		path, err := cfg.HistoryPath()
		if err != nil {
			return nil, err
		}
		hist, err := history.Open(path)
		if err != nil {
			return nil, err
		}
		opts.History = hist
	}

	return New(transport.New(tcfg, log), opts, log), nil
}

// Open establishes the link.
func (m *Manager) Open(ctx context.Context) error {
	return m.wire.Open(ctx)
}

// Close tears down the link, failing all in-flight work. The history
// store, when owned, stays open until Shutdown.
func (m *Manager) Close() error {
	err := m.wire.Close()
	m.pending.FailAll(protocol.ErrConnectionLost)
	m.streams.FailAll(protocol.ErrConnectionLost)
	return err
}

// Shutdown closes the link and releases the history store.
func (m *Manager) Shutdown() error {
	err := m.Close()
	if m.hist != nil {
		if herr := m.hist.Close(); err == nil {
			err = herr
		}
	}
	return err
}

// State returns the current link state.
func (m *Manager) State() transport.State {
	return m.wire.State()
}

// ApplyConfig adjusts the runtime-tunable settings from a freshly
// loaded configuration: the request timeout and the outbound rate cap.
// Connection settings take effect on the next Open.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.pending.SetTimeout(cfg.RequestTimeout())

	if m.limiter != nil && cfg.Request.RatePerSec > 0 {
		burst := cfg.Request.RateBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter.SetLimit(rate.Limit(cfg.Request.RatePerSec))
		m.limiter.SetBurst(burst)
	}

	m.log.Info().Dur("request_timeout", cfg.RequestTimeout()).Msg("runtime settings applied")
}

// History returns the history store, or nil when persistence is off.
func (m *Manager) History() *history.Store {
	return m.hist
}

// =============================================================================
// INBOUND PIPELINE
// =============================================================================

// handleFrame is the single inbound dispatch point. It runs on the
// transport's read goroutine, so frames are processed one at a time in
// arrival order.
func (m *Manager) handleFrame(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		// Bad input is logged and dropped, never fatal.
		m.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed envelope")
		return
	}

	if env.IsAck() {
		m.log.Debug().Str("correlation_id", env.CorrelationID).Msg("ack received")
		return
	}

	// A correlation id marks the envelope as the answer to a pending
	// request, never a broadcast.
	if env.CorrelationID != "" {
		m.resolvePending(env)
		return
	}

	// Uncorrelated errors belong to a broadcast channel, not a pending
	// request; subscribers on that topic still hear about the failure.
	if env.IsError() {
		if env.Topic() == "" {
			m.log.Warn().Str("message", env.Message).Msg("uncorrelated remote error without topic")
			return
		}
		if n := m.routes.Dispatch(env); n == 0 {
			m.log.Warn().Str("topic", env.Topic()).Str("message", env.Message).Msg("remote error with no listeners")
		}
		return
	}

	if env.PayloadType() == protocol.PayloadChatToken {
		m.handleChatToken(env)
	}

	if n := m.routes.Dispatch(env); n == 0 && env.PayloadType() != protocol.PayloadChatToken {
		m.log.Debug().Str("topic", env.Topic()).Msg("no listeners for envelope")
	}
}

func (m *Manager) resolvePending(env *protocol.Envelope) {
	if env.IsError() {
		m.pending.Reject(env.CorrelationID, protocol.NewRemoteError(env.Message))
		return
	}
	m.pending.Resolve(env.CorrelationID, env.Data)
}

func (m *Manager) handleChatToken(env *protocol.Envelope) {
	var tok protocol.ChatTokenPayload
	if err := env.DecodePayload(&tok); err != nil {
		m.log.Warn().Err(err).Msg("dropping malformed chat token")
		return
	}
	if tok.MessageID == "" {
		m.log.Warn().Msg("dropping chat token without message id")
		return
	}

	if tok.Content != "" {
		m.streams.Append(tok.MessageID, tok.Role, tok.Content)
	}
	if tok.Done {
		m.streams.Complete(tok.MessageID)
	}
}

// persistFinalized commits a completed assistant message to history.
// history.Append is keyed by message id, so a replayed terminal chunk
// cannot produce a duplicate row.
func (m *Manager) persistFinalized(snap stream.Snapshot) {
	if m.hist == nil {
		return
	}
	if _, err := m.hist.Append(history.Record{
		ID:      snap.ID,
		Role:    snap.Role,
		Content: snap.Content,
	}); err != nil {
		m.log.Error().Err(err).Str("message_id", snap.ID).Msg("failed to persist message")
	}
}

// handleState reacts to link state transitions. Losing the link fails
// every pending request and every in-flight stream; nothing waits on a
// connection that no longer exists.
func (m *Manager) handleState(s transport.State) {
	m.log.Info().Str("state", s.String()).Msg("link state changed")

	switch s {
	case transport.StateReconnecting, transport.StateDisconnected, transport.StateClosed:
		m.pending.FailAll(protocol.ErrConnectionLost)
		m.streams.FailAll(protocol.ErrConnectionLost)
	}
}

// =============================================================================
// OUTBOUND REQUESTS
// =============================================================================

// SendAsync encodes and transmits a command, returning a future for
// its correlated response. The send fails fast with NotConnected when
// the link is not open.
func (m *Manager) SendAsync(ctx context.Context, method string, params any) (*correlator.Future, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	cmd := protocol.Command{Method: method, Params: params}
	data, err := protocol.Encode(&cmd)
	if err != nil {
		return nil, err
	}

	// Track before transmit: the response cannot race its own
	// registration.
	fut := m.pending.Track(cmd.CorrelationID)

	if err := m.wire.SendRaw(data); err != nil {
		m.pending.Reject(cmd.CorrelationID, err)
		return nil, err
	}

	m.log.Debug().Str("method", method).Str("correlation_id", cmd.CorrelationID).Msg("command sent")
	return fut, nil
}

// Send transmits a command and blocks for its correlated response.
func (m *Manager) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	fut, err := m.SendAsync(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers a handler for broadcast envelopes on a topic.
// Cancel the returned subscription to stop delivery.
func (m *Manager) Subscribe(topic string, fn router.Handler) *router.Subscription {
	return m.routes.Subscribe(topic, fn)
}

// OnStreamUpdate registers an observer for in-flight chat message
// snapshots. Must be set before Open.
func (m *Manager) OnStreamUpdate(fn stream.UpdateFunc) {
	m.streams.OnUpdate(fn)
}

// StreamSnapshot returns the current snapshot of an in-flight message.
func (m *Manager) StreamSnapshot(id string) (stream.Snapshot, bool) {
	return m.streams.Snapshot(id)
}

// =============================================================================
// DOMAIN OPERATIONS
// =============================================================================

// Search runs a semantic document search and returns the ranked hits.
func (m *Manager) Search(ctx context.Context, params protocol.SearchParams) ([]protocol.DocumentSearchResult, error) {
	raw, err := m.Send(ctx, protocol.MethodDocumentsSearch, params)
	if err != nil {
		return nil, err
	}

	var payload protocol.SearchResultsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &protocol.LinkError{
			Type:    protocol.ErrTypeMalformed,
			Message: "failed to decode search results",
			Cause:   err,
		}
	}
	return payload.Results, nil
}

// UploadDocument submits a file for ingestion. Processing progress
// arrives as document_processing_progress broadcasts; subscribe before
// uploading to observe them.
func (m *Manager) UploadDocument(ctx context.Context, projectID, fileName string, content []byte) (json.RawMessage, error) {
	return m.Send(ctx, protocol.MethodDocumentsUpload, protocol.UploadParams{
		ProjectID: projectID,
		FileName:  fileName,
		Content:   base64.StdEncoding.EncodeToString(content),
	})
}

// SendChat submits a user chat message. The user's side is committed
// to history immediately; the assistant reply streams in as chat_token
// envelopes and is committed when its terminal chunk arrives. Returns
// the id assigned to the user message.
func (m *Manager) SendChat(ctx context.Context, conversationID, content string) (string, error) {
	userID := uuid.New().String()

	if _, err := m.Send(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
		ConversationID: conversationID,
		Content:        content,
	}); err != nil {
		return "", err
	}

	if m.hist != nil {
		if _, err := m.hist.Append(history.Record{
			ID:             userID,
			ConversationID: conversationID,
			Role:           "user",
			Content:        content,
		}); err != nil {
			m.log.Error().Err(err).Msg("failed to persist user message")
		}
	}

	return userID, nil
}
