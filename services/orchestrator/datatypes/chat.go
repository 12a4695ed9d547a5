// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the compliance orchestrator.
//
// This file contains the request types for the streaming chat endpoint.
// Standards, policy, and retrieval configuration types live in standards.go;
// the server-to-client stream chunk types live in stream.go.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single user message.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxImageAttachments is the maximum number of image data URIs per turn.
	MaxImageAttachments = 5

	// MaxFileAttachments is the maximum number of file attachments per turn.
	MaxFileAttachments = 10

	// MaxImageBytes is the maximum decoded size of a single image (5 MiB).
	MaxImageBytes = 5 * 1024 * 1024

	// MaxFileBytes is the maximum decoded size of a single document (20 MiB).
	MaxFileBytes = 20 * 1024 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized payloads
// are rejected before any upstream call.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Streaming Chat Request Types
// =============================================================================

// FileAttachment is a document attached to a chat turn as a data URI.
//
// # Fields
//
//   - DataURI: Required. RFC 2397 data URI ("data:<mime>;base64,<payload>").
//   - FileName: Display name used in prompts and validation messages.
//   - MimeType: Declared MIME type. Must agree with the data URI's MIME type.
type FileAttachment struct {
	DataURI  string `json:"dataUri" validate:"required"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// McpApprovalResponse is the caller's verdict on a pending MCP tool call.
type McpApprovalResponse struct {
	ApprovalRequestID string `json:"approvalRequestId" validate:"required"`
	Approved          bool   `json:"approved"`
}

// ChatStreamRequest is the request body for POST /v1/chat/stream.
//
// # Description
//
// A turn is either fresh (Message required, attachments and standards
// considered) or a resumption (McpApproval plus PreviousResponseID set, in
// which case validation, retrieval, and prompt assembly are all skipped and
// the approval verdict is forwarded to the in-flight agent response).
//
// # Fields
//
//   - Message: User message. Required on fresh turns, ignored on resumptions.
//   - ConversationID: Existing conversation to continue. When empty a new
//     conversation is created and its id is streamed back first.
//   - ImageDataURIs: Optional inline images (data URIs).
//   - FileDataURIs: Optional document attachments.
//   - McpApproval: Optional approval verdict for a pending MCP tool call.
//   - PreviousResponseID: Response to resume when delivering an approval.
//   - StandardsSelected: Explicit standards to evaluate against. When empty
//     the full catalog is used.
//   - Policy: Optional evaluation policy overrides.
//   - Retrieval: Optional retrieval tuning.
//   - AgentRouteHint: Optional explicit route ("default", "air", "eir", "bep").
type ChatStreamRequest struct {
	Message            string               `json:"message" validate:"maxbytes"`
	ConversationID     string               `json:"conversationId"`
	ImageDataURIs      []string             `json:"imageDataUris" validate:"max=5"`
	FileDataURIs       []FileAttachment     `json:"fileDataUris" validate:"max=10,dive"`
	McpApproval        *McpApprovalResponse `json:"mcpApproval"`
	PreviousResponseID string               `json:"previousResponseId"`
	StandardsSelected  []StandardSelection  `json:"standardsSelected" validate:"dive"`
	Policy             *PolicyConfig        `json:"policy"`
	Retrieval          *RetrievalOptions    `json:"retrieval"`
	AgentRouteHint     string               `json:"agentRouteHint"`
}

// Validate checks structural constraints on the request.
//
// # Description
//
// Runs the validator tags (message size, attachment counts, required data
// URIs). Semantic checks such as "fresh turns need a non-empty message" and
// MIME/size enforcement belong to the orchestrator, which can distinguish
// fresh turns from resumptions.
//
// # Outputs
//
//   - error: Non-nil if any structural constraint is violated.
func (r *ChatStreamRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// IsResumption reports whether this turn resumes a paused agent response
// instead of starting a fresh one.
func (r *ChatStreamRequest) IsResumption() bool {
	return r.McpApproval != nil && r.PreviousResponseID != ""
}
