// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope kinds as they appear on the wire.
//
// Inbound frames carry "data", "error" or "ack". Outbound commands carry
// the "workbench_command" discriminator so the backend can tell client
// commands apart from its own envelope kinds.
const (
	TypeData    = "data"
	TypeError   = "error"
	TypeAck     = "ack"
	TypeCommand = "workbench_command"
)

// Envelope is one discrete unit of wire traffic.
//
// Every outbound command carries a freshly generated correlation id;
// every inbound response that answers a command echoes that id. Data
// envelopes that belong to a broadcast channel rather than a specific
// request carry a channel key instead (or, for payloads that name
// their own subtype, only the payload type).
type Envelope struct {
	Type          string          `json:"type"`
	Method        string          `json:"method,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Message       string          `json:"message,omitempty"` // error text for TypeError

	// payloadType caches the "type" discriminator inside Data,
	// extracted once at decode time.
	payloadType string
}

// IsData reports whether the envelope is a data envelope.
func (e *Envelope) IsData() bool { return e.Type == TypeData }

// IsError reports whether the envelope is a remote error envelope.
func (e *Envelope) IsError() bool { return e.Type == TypeError }

// IsAck reports whether the envelope is an acknowledgment.
func (e *Envelope) IsAck() bool { return e.Type == TypeAck }

// PayloadType returns the "type" discriminator of the data payload,
// or "" when the payload has none.
func (e *Envelope) PayloadType() string { return e.payloadType }

// Topic returns the broadcast topic key this envelope routes under:
// the explicit channel when the server set one, otherwise the payload
// subtype. Envelopes with neither have no topic and return "".
func (e *Envelope) Topic() string {
	if e.Channel != "" {
		return e.Channel
	}
	return e.payloadType
}

// DecodePayload unmarshals the data payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Data) == 0 {
		return &LinkError{Type: ErrTypeMalformed, Message: "envelope has no data payload"}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &LinkError{Type: ErrTypeMalformed, Message: "failed to decode data payload", Cause: err}
	}
	return nil
}

// =============================================================================
// DECODE
// =============================================================================

// Decode parses a raw inbound text frame into an Envelope.
//
// Unparsable input returns a MalformedEnvelope error; callers log and
// drop the frame, the pipeline never crashes on bad input.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &LinkError{Type: ErrTypeMalformed, Message: "unparsable envelope", Cause: err}
	}
	if env.Type == "" {
		return nil, &LinkError{Type: ErrTypeMalformed, Message: "envelope missing type discriminator"}
	}

	// Pull the payload subtype out once so routing never re-parses.
	if len(env.Data) > 0 {
		var disc struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(env.Data, &disc); err == nil {
			env.payloadType = disc.Type
		}
	}

	return &env, nil
}

// =============================================================================
// OUTBOUND COMMANDS
// =============================================================================

// Command is an outbound remote operation before serialization.
type Command struct {
	// Method identifies the remote operation, e.g. "documents.search".
	Method string

	// Params is the structured argument value for the operation.
	Params any

	// CorrelationID links the command to its eventual response.
	// Left empty, Encode stamps a fresh one.
	CorrelationID string
}

// commandFrame is the wire shape of an outbound command.
type commandFrame struct {
	Type          string `json:"type"`
	Method        string `json:"method"`
	CorrelationID string `json:"correlation_id"`
	Params        any    `json:"params,omitempty"`
}

// Encode serializes the command to its wire form, stamping a fresh
// correlation id if the caller did not supply one. The stamped id is
// written back to cmd so the caller can track the pending request.
func Encode(cmd *Command) ([]byte, error) {
	if cmd.Method == "" {
		return nil, &LinkError{Type: ErrTypeMalformed, Message: "command missing method"}
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.New().String()
	}

	data, err := json.Marshal(commandFrame{
		Type:          TypeCommand,
		Method:        cmd.Method,
		CorrelationID: cmd.CorrelationID,
		Params:        cmd.Params,
	})
	if err != nil {
		return nil, &LinkError{Type: ErrTypeMalformed, Message: "failed to serialize command", Cause: err}
	}
	return data, nil
}
