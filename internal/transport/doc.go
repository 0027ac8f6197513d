// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport owns the single physical duplex connection to the
// backend. It dials the WebSocket, serializes raw sends, delivers
// inbound frames to one handler, and supervises reconnection: an
// unexpected closure moves the link to reconnecting and re-dials with
// capped, jittered exponential backoff, while a deliberate Close ends
// the link for good. At most one physical socket is live at a time,
// and nothing sent before a disconnect is ever replayed.
package transport
