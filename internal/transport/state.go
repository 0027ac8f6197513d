// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

// State is the link state of the connection.
type State int32

const (
	// StateDisconnected is the initial state before the first Open.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateOpen means the handshake succeeded and sends are allowed.
	StateOpen
	// StateReconnecting means the link dropped unexpectedly and the
	// supervisor is re-establishing it. Sends fail fast in this state.
	StateReconnecting
	// StateClosed means the link was deliberately closed, or reconnect
	// attempts were exhausted. Terminal.
	StateClosed
)

// String returns the state's wire-level name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
