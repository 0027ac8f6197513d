// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// =============================================================================
// COMMAND METHODS
// =============================================================================

// Remote operation methods recognized by the backend.
const (
	MethodDocumentsSearch = "documents.search"
	MethodDocumentsUpload = "documents.upload"
	MethodChatSend        = "chat.send"
)

// Inbound data payload subtypes.
const (
	PayloadSearchResults      = "document_search_results"
	PayloadProcessingProgress = "document_processing_progress"
	PayloadDocumentProcessed  = "document_processed"
	PayloadChatToken          = "chat_token"
)

// =============================================================================
// COMMAND PARAMS
// =============================================================================

// SearchParams are the arguments of documents.search.
type SearchParams struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

// UploadParams are the arguments of documents.upload.
// Content is the base64-encoded file body.
type UploadParams struct {
	ProjectID string `json:"project_id"`
	FileName  string `json:"file_name"`
	Content   string `json:"content"`
}

// ChatSendParams are the arguments of chat.send. The streamed reply
// arrives as chat_token data envelopes, not on the command's
// correlation id.
type ChatSendParams struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

// =============================================================================
// DATA PAYLOADS
// =============================================================================

// DocumentSearchResult is one semantic search hit.
type DocumentSearchResult struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	FileName   string  `json:"file_name"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"` // 0..1
	PageNumber *int    `json:"page_number,omitempty"`
}

// SearchResultsPayload is the document_search_results data payload.
type SearchResultsPayload struct {
	Type    string                 `json:"type"`
	Results []DocumentSearchResult `json:"results"`
}

// ProcessingProgressPayload is the document_processing_progress payload.
type ProcessingProgressPayload struct {
	Type       string  `json:"type"`
	DocumentID string  `json:"document_id,omitempty"`
	Progress   float64 `json:"progress"` // 0..1
}

// ChatTokenPayload is one streamed fragment of an assistant reply.
// Done marks the terminal envelope for the message id.
type ChatTokenPayload struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
}
