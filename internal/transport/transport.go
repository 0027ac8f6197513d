// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/riglink/internal/protocol"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds transport configuration.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "wss://host/ws/workbench".
	URL string

	// Token, when set, is sent as a bearer Authorization header on the
	// handshake request.
	Token string

	// HandshakeTimeout bounds the dial (default: 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write (default: 10s).
	WriteTimeout time.Duration

	// MaxMessageSize limits inbound frame size in bytes (default: 1MB).
	MaxMessageSize int64

	// Backoff is the reconnection policy.
	Backoff BackoffPolicy

	// DisableReconnect turns off automatic reconnection. A lost link
	// then settles in StateDisconnected until Open is called again.
	DisableReconnect bool
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   1024 * 1024,
		Backoff:          DefaultBackoffPolicy(),
	}
}

func (c Config) normalize() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024
	}
	return c
}

// MessageHandler receives one raw inbound frame.
type MessageHandler func(raw []byte)

// StateHandler receives link state transitions.
type StateHandler func(s State)

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport owns the physical WebSocket and its reconnection.
//
// Handlers must be registered before Open. The message handler is
// invoked from a single read goroutine, one frame at a time in arrival
// order; the state handler is invoked from whichever goroutine drives
// the transition.
type Transport struct {
	cfg Config
	log zerolog.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	// gorilla/websocket does not support concurrent writers, so every
	// WriteMessage goes through writeMu.
	writeMu sync.Mutex

	state atomic.Int32

	onMessage MessageHandler
	onState   StateHandler

	backoff *Backoff

	reconnectMu    sync.Mutex
	reconnectTimer *time.Timer

	lastErrMu sync.Mutex
	lastErr   error

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a transport for the given endpoint.
func New(cfg Config, log zerolog.Logger) *Transport {
	cfg = cfg.normalize()
	return &Transport{
		cfg:     cfg,
		log:     log.With().Str("component", "transport").Logger(),
		backoff: NewBackoff(cfg.Backoff),
		done:    make(chan struct{}),
	}
}

// OnMessage registers the inbound frame handler.
func (t *Transport) OnMessage(fn MessageHandler) { t.onMessage = fn }

// OnStateChange registers the state transition handler.
func (t *Transport) OnStateChange(fn StateHandler) { t.onState = fn }

// State returns the current link state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Retries returns the reconnect attempts since the last successful
// handshake.
func (t *Transport) Retries() int {
	return t.backoff.Attempt()
}

// LastError returns the most recent link failure, if any.
func (t *Transport) LastError() error {
	t.lastErrMu.Lock()
	defer t.lastErrMu.Unlock()
	return t.lastErr
}

func (t *Transport) setLastError(err error) {
	t.lastErrMu.Lock()
	t.lastErr = err
	t.lastErrMu.Unlock()
}

// setState transitions the link state and notifies the handler when it
// actually changed.
func (t *Transport) setState(s State) {
	old := State(t.state.Swap(int32(s)))
	if old != s && t.onState != nil {
		t.onState(s)
	}
}

func (t *Transport) isShutdown() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// =============================================================================
// OPEN / CLOSE
// =============================================================================

// Open dials the endpoint and starts the read loop. A failed initial
// dial is returned to the caller and does not start reconnection;
// only established links are supervised.
func (t *Transport) Open(ctx context.Context) error {
	if t.isShutdown() {
		return protocol.ErrConnectionLost
	}

	t.setState(StateConnecting)

	conn, err := t.dial(ctx)
	if err != nil {
		t.setLastError(err)
		t.setState(StateDisconnected)
		return &protocol.LinkError{Type: protocol.ErrTypeConnectionLost, Message: "dial failed", Cause: err}
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.setState(StateOpen)
	t.backoff.Reset()
	t.log.Info().Str("url", t.cfg.URL).Msg("link open")

	go t.readLoop(conn)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	var header http.Header
	if t.cfg.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + t.cfg.Token}}
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, t.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(t.cfg.MaxMessageSize)
	return conn, nil
}

// Close deliberately shuts the link down. No reconnect follows.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.reconnectMu.Lock()
		if t.reconnectTimer != nil {
			t.reconnectTimer.Stop()
			t.reconnectTimer = nil
		}
		t.reconnectMu.Unlock()

		t.setState(StateClosed)
		t.closeConn()
		t.log.Info().Msg("link closed")
	})
	return nil
}

func (t *Transport) closeConn() {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.cfg.WriteTimeout),
		)
		t.writeMu.Unlock()
		_ = conn.Close()
	}
}

// =============================================================================
// SEND
// =============================================================================

// SendRaw writes one text frame. It fails fast with NotConnected while
// the link is not open; callers decide whether to retry the logical
// operation. Delivery is at-most-once per physical connection.
func (t *Transport) SendRaw(data []byte) error {
	if t.State() != StateOpen {
		return protocol.ErrNotConnected
	}

	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return protocol.ErrNotConnected
	}

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()

	if err != nil {
		return &protocol.LinkError{Type: protocol.ErrTypeNotConnected, Message: "write failed", Cause: err}
	}
	return nil
}

// =============================================================================
// READ LOOP & RECONNECTION
// =============================================================================

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if t.isShutdown() {
				return
			}
			t.handleDisconnect(err)
			return
		}

		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

// handleDisconnect reacts to an unexpected closure. The CAS guard
// ensures a single goroutine drives the reconnect even if the read
// loop and a writer observe the failure at the same time.
func (t *Transport) handleDisconnect(cause error) {
	if !t.state.CompareAndSwap(int32(StateOpen), int32(StateReconnecting)) {
		return
	}
	if t.onState != nil {
		t.onState(StateReconnecting)
	}

	t.setLastError(cause)
	t.log.Warn().Err(cause).Msg("link lost, reconnecting")

	t.connMu.Lock()
	t.conn = nil
	t.connMu.Unlock()

	t.scheduleReconnect()
}

func (t *Transport) scheduleReconnect() {
	if t.isShutdown() {
		return
	}
	if t.cfg.DisableReconnect {
		t.log.Warn().Msg("reconnect disabled, link stays down")
		t.setState(StateDisconnected)
		return
	}
	if t.backoff.Exhausted() {
		t.log.Error().Int("attempts", t.backoff.Attempt()).Msg("reconnect attempts exhausted")
		t.setState(StateClosed)
		return
	}

	delay := t.backoff.Next()
	t.log.Info().Dur("delay", delay).Int("attempt", t.backoff.Attempt()).Msg("reconnect scheduled")

	t.reconnectMu.Lock()
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
	}
	t.reconnectTimer = time.AfterFunc(delay, t.tryReconnect)
	t.reconnectMu.Unlock()
}

func (t *Transport) tryReconnect() {
	if t.isShutdown() || t.State() != StateReconnecting {
		return
	}

	conn, err := t.dial(context.Background())
	if err != nil {
		t.setLastError(err)
		t.log.Warn().Err(err).Int("attempt", t.backoff.Attempt()).Msg("reconnect failed")
		t.scheduleReconnect()
		return
	}

	// Close may have won the race while the dial was in flight; never
	// leave a second live socket behind, and never flip a closed link
	// back to open. The shutdown check and the install share one
	// critical section so Close cannot interleave between them.
	t.connMu.Lock()
	if t.isShutdown() {
		t.connMu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.connMu.Unlock()

	if !t.state.CompareAndSwap(int32(StateReconnecting), int32(StateOpen)) {
		t.closeConn()
		return
	}
	if t.onState != nil {
		t.onState(StateOpen)
	}
	t.backoff.Reset()
	t.log.Info().Msg("link reestablished")

	go t.readLoop(conn)
}
