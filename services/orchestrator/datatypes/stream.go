// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Server-to-client stream chunk types. These are the units the orchestrator
// yields while consuming an agent response; the SSE handler maps each kind
// onto a wire event.
package datatypes

// StreamChunkKind discriminates the chunk union.
type StreamChunkKind string

const (
	ChunkKindAgent               StreamChunkKind = "agent"
	ChunkKindConversationCreated StreamChunkKind = "conversationId"
	ChunkKindText                StreamChunkKind = "chunk"
	ChunkKindAnnotations         StreamChunkKind = "annotations"
	ChunkKindMcpApprovalRequest  StreamChunkKind = "mcpApprovalRequest"
	ChunkKindUsage               StreamChunkKind = "usage"
)

// AgentInfo names the agent serving the turn and the route that selected it.
type AgentInfo struct {
	Name  string `json:"name"`
	Route string `json:"route"`
}

// Annotation is a single citation attached to streamed output.
//
// # Fields
//
//   - Type: Citation kind ("uri_citation", "file_citation", "file_path",
//     "container_file_citation").
//   - Label: Display label (title, filename, or synthesized standard ref).
//   - Quote: Quoted source text, when available.
//   - URI: Link target for uri citations.
//   - FileID: Upstream file identifier for file citations.
//   - StartIndex/EndIndex: Character offsets into the streamed text, when
//     the upstream reported them.
type Annotation struct {
	Type       string `json:"type"`
	Label      string `json:"label"`
	Quote      string `json:"quote,omitempty"`
	URI        string `json:"uri,omitempty"`
	FileID     string `json:"fileId,omitempty"`
	StartIndex *int   `json:"startIndex,omitempty"`
	EndIndex   *int   `json:"endIndex,omitempty"`
}

// McpApprovalRequest asks the caller to approve or deny an MCP tool call
// before the agent response can continue.
type McpApprovalRequest struct {
	ID          string `json:"id"`
	ToolName    string `json:"toolName"`
	ServerLabel string `json:"serverLabel"`
	Arguments   string `json:"arguments"`
	ResponseID  string `json:"previousResponseId"`
}

// Usage summarizes token consumption for a completed turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StreamChunk is one unit of orchestrator output. Exactly one payload field
// matching Kind is populated.
type StreamChunk struct {
	Kind           StreamChunkKind
	Agent          *AgentInfo
	ConversationID string
	Text           string
	Annotations    []Annotation
	McpApproval    *McpApprovalRequest
	Usage          *Usage
}

// =============================================================================
// SSE Wire Events
// =============================================================================

// StreamEvent is the wire shape of one SSE event.
//
// # Description
//
// Every event carries integrity metadata: a UUID id, a creation timestamp,
// a SHA-256 hash of its content, and the hash of the previous event. The
// hash chain lets clients detect dropped or reordered events on flaky
// proxies. Exactly one payload field matching Type is populated.
//
// # Fields
//
//   - Id: UUID v4, assigned at write time.
//   - Type: Event type ("agent", "conversationId", "chunk", "annotations",
//     "mcpApprovalRequest", "usage", "done", "error").
//   - CreatedAt: Unix timestamp in milliseconds.
//   - Hash, PrevHash: SHA-256 integrity chain.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"createdAt"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prevHash"`

	Agent           *AgentInfo          `json:"agent,omitempty"`
	ConversationID  string              `json:"conversationId,omitempty"`
	Content         string              `json:"content,omitempty"`
	Annotations     []Annotation        `json:"annotations,omitempty"`
	ApprovalRequest *McpApprovalRequest `json:"approvalRequest,omitempty"`
	Usage           *UsageEvent         `json:"usage,omitempty"`
	Code            string              `json:"code,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// UsageEvent is the usage payload on the wire, extending token counts with
// the measured turn duration.
type UsageEvent struct {
	DurationMs       int64 `json:"durationMs"`
	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	TotalTokens      int   `json:"totalTokens"`
}
