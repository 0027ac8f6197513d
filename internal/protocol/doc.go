// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the wire envelope shared by every layer of
// the riglink connection core: the envelope model, the JSON codec for
// inbound frames, outbound command serialization with correlation-id
// stamping, the document command/result payloads, and the error
// taxonomy the rest of the core reports failures with.
package protocol
