// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestDecodeDataEnvelope(t *testing.T) {
	raw := []byte(`{"type":"data","correlation_id":"abc","data":{"type":"document_search_results","results":[]}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !env.IsData() {
		t.Error("expected data envelope")
	}
	if env.CorrelationID != "abc" {
		t.Errorf("expected correlation id 'abc', got %q", env.CorrelationID)
	}
	if env.PayloadType() != PayloadSearchResults {
		t.Errorf("expected payload type %q, got %q", PayloadSearchResults, env.PayloadType())
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"empty object", "{}"},
		{"truncated", `{"type":"data"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatal("expected error for malformed input")
			}
			if !IsMalformed(err) {
				t.Errorf("expected MalformedEnvelope, got %v", err)
			}
		})
	}
}

func TestTopicPrefersChannel(t *testing.T) {
	env, err := Decode([]byte(`{"type":"data","channel":"doc-upload","data":{"type":"document_processed"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Topic() != "doc-upload" {
		t.Errorf("expected channel to win, got topic %q", env.Topic())
	}
}

func TestTopicFallsBackToPayloadType(t *testing.T) {
	env, err := Decode([]byte(`{"type":"data","data":{"type":"document_processing_progress","progress":0.5}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Topic() != PayloadProcessingProgress {
		t.Errorf("expected payload-type topic, got %q", env.Topic())
	}
}

func TestDecodePayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"data","data":{"type":"document_search_results","results":[{"document_id":"d1","chunk_id":"c1","chunk_index":0,"file_name":"invoice.pdf","content":"total due","score":0.82}]}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var payload SearchResultsPayload
	if err := env.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if len(payload.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(payload.Results))
	}
	if payload.Results[0].Score != 0.82 {
		t.Errorf("expected score 0.82, got %v", payload.Results[0].Score)
	}
}

// =============================================================================
// ENCODE TESTS
// =============================================================================

func TestEncodeStampsCorrelationID(t *testing.T) {
	cmd := &Command{
		Method: MethodDocumentsSearch,
		Params: SearchParams{ProjectID: "p1", Query: "invoice totals", Limit: 10},
	}

	data, err := Encode(cmd)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if cmd.CorrelationID == "" {
		t.Fatal("Encode should stamp a correlation id")
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("encoded command is not valid JSON: %v", err)
	}
	if frame["type"] != TypeCommand {
		t.Errorf("expected type %q, got %v", TypeCommand, frame["type"])
	}
	if frame["method"] != MethodDocumentsSearch {
		t.Errorf("expected method %q, got %v", MethodDocumentsSearch, frame["method"])
	}
	if frame["correlation_id"] != cmd.CorrelationID {
		t.Errorf("wire correlation id %v does not match stamped %q", frame["correlation_id"], cmd.CorrelationID)
	}
}

func TestEncodeKeepsCallerCorrelationID(t *testing.T) {
	cmd := &Command{Method: MethodChatSend, CorrelationID: "caller-id"}

	if _, err := Encode(cmd); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if cmd.CorrelationID != "caller-id" {
		t.Errorf("Encode must not overwrite a caller-supplied id, got %q", cmd.CorrelationID)
	}
}

func TestEncodeUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		cmd := &Command{Method: MethodDocumentsUpload}
		if _, err := Encode(cmd); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if seen[cmd.CorrelationID] {
			t.Fatalf("duplicate correlation id %q", cmd.CorrelationID)
		}
		seen[cmd.CorrelationID] = true
	}
}

func TestEncodeRejectsMissingMethod(t *testing.T) {
	if _, err := Encode(&Command{}); err == nil {
		t.Fatal("expected error for command without method")
	}
}

// =============================================================================
// ERROR TAXONOMY TESTS
// =============================================================================

func TestErrorHelpers(t *testing.T) {
	if !IsNotConnected(ErrNotConnected) {
		t.Error("IsNotConnected should match the sentinel")
	}
	if !IsTimeout(ErrTimeout) {
		t.Error("IsTimeout should match the sentinel")
	}
	if !IsConnectionLost(ErrConnectionLost) {
		t.Error("IsConnectionLost should match the sentinel")
	}
	if !IsRemote(NewRemoteError("boom")) {
		t.Error("IsRemote should match a remote error")
	}
	if IsTimeout(ErrNotConnected) {
		t.Error("helpers must not cross-match categories")
	}
}

func TestErrorsIsMatchesByCategory(t *testing.T) {
	wrapped := &LinkError{Type: ErrTypeTimeout, Message: "request timed out", Cause: errors.New("deadline")}
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("errors.Is should match timeout errors by category")
	}
	if errors.Is(wrapped, ErrConnectionLost) {
		t.Error("errors.Is must not match a different category")
	}
}

func TestRemoteErrorSurfacesMessageVerbatim(t *testing.T) {
	err := NewRemoteError("index unavailable: rebuilding")
	if err.Error() != "index unavailable: rebuilding" {
		t.Errorf("remote message must surface verbatim, got %q", err.Error())
	}
}
