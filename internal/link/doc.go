// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package link composes the connection core: the websocket transport,
// envelope codec, subscription router, request correlator and stream
// reassembler, behind one Manager facade.
//
// The Manager owns the inbound dispatch pipeline. Every raw frame is
// decoded once, then classified: responses resolve their pending
// request, chat tokens feed the stream reassembler, and broadcast data
// envelopes fan out to topic subscribers. Outbound requests flow
// through an optional rate cap and fail fast when the link is down.
package link
