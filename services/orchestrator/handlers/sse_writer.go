// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The streaming handler emits keepalives from a separate goroutine.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteAgent announces which agent handles the turn. Always the first
	// event on the stream.
	WriteAgent(info datatypes.AgentInfo) error

	// WriteConversationCreated surfaces the id of a freshly created
	// conversation so the client can continue the thread.
	WriteConversationCreated(conversationID string) error

	// WriteChunk writes one increment of streamed response text.
	WriteChunk(content string) error

	// WriteAnnotations writes the citations backing the streamed text.
	WriteAnnotations(annotations []datatypes.Annotation) error

	// WriteApprovalRequest asks the client to approve or deny an MCP tool
	// call before the turn can resume.
	WriteApprovalRequest(request datatypes.McpApprovalRequest) error

	// WriteUsage writes token counts and the measured turn duration.
	WriteUsage(usage datatypes.UsageEvent) error

	// WriteError writes a terminal error event with a stable code and a
	// sanitized message. At most one error event is written per stream.
	WriteError(code, message string) error

	// WriteDone writes the final event indicating clean completion. No
	// events follow it.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment to prevent idle-connection
	// timeouts on load balancers. Comments do not join the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
// Each event is written in the format:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification:
//   - Each event's Hash is SHA-256 of its content (including annotations)
//   - Each event's PrevHash links to the previous event
//
// That gives clients a chain of custody over the streamed verdict text and
// its citations.
//
// # Thread Safety
//
// Thread-safe via mutex. Hash chain integrity is maintained across
// concurrent writes.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:   w,
		flusher:  flusher,
		prevHash: "",
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
//
// # Description
//
// Populates event metadata (Id, CreatedAt, Hash, PrevHash), serializes
// to JSON, and writes in SSE format. Flushes immediately after writing.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	// Hash is computed over the still-empty Hash field.
	event.Hash = w.computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash of event content.
//
// Covers metadata, text content, the error fields, and the JSON rendering
// of all structured payloads so citation tampering breaks the chain.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
	payloadJSON := ""
	if event.Agent != nil || len(event.Annotations) > 0 ||
		event.ApprovalRequest != nil || event.Usage != nil {
		payload := struct {
			Agent           *datatypes.AgentInfo          `json:"agent,omitempty"`
			Annotations     []datatypes.Annotation        `json:"annotations,omitempty"`
			ApprovalRequest *datatypes.McpApprovalRequest `json:"approvalRequest,omitempty"`
			Usage           *datatypes.UsageEvent         `json:"usage,omitempty"`
		}{event.Agent, event.Annotations, event.ApprovalRequest, event.Usage}
		if data, err := json.Marshal(payload); err == nil {
			payloadJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.ConversationID,
		event.Content,
		event.Code,
		event.Error,
		payloadJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// WriteAgent announces the agent handling the turn.
func (w *sseWriter) WriteAgent(info datatypes.AgentInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  "agent",
		Agent: &info,
	})
}

// WriteConversationCreated surfaces a freshly created conversation id.
func (w *sseWriter) WriteConversationCreated(conversationID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:           "conversationId",
		ConversationID: conversationID,
	})
}

// WriteChunk writes one increment of streamed response text.
func (w *sseWriter) WriteChunk(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "chunk",
		Content: content,
	})
}

// WriteAnnotations writes the citations backing the streamed text.
func (w *sseWriter) WriteAnnotations(annotations []datatypes.Annotation) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:        "annotations",
		Annotations: annotations,
	})
}

// WriteApprovalRequest asks the client to approve an MCP tool call.
func (w *sseWriter) WriteApprovalRequest(request datatypes.McpApprovalRequest) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:            "mcpApprovalRequest",
		ApprovalRequest: &request,
	})
}

// WriteUsage writes token counts and the measured turn duration.
func (w *sseWriter) WriteUsage(usage datatypes.UsageEvent) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  "usage",
		Usage: &usage,
	})
}

// WriteError writes a terminal error event.
//
// # Inputs
//
//   - code: Stable machine-readable code (BAD_REQUEST, STANDARDS_EMPTY,
//     AUTH_REQUIRED, STREAM_FAILURE).
//   - message: Sanitized error message for client display. No internal
//     details.
func (w *sseWriter) WriteError(code, message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  "error",
		Code:  code,
		Error: message,
	})
}

// WriteDone writes the final event indicating clean completion.
func (w *sseWriter) WriteDone() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: "done",
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
//
// SSE comments are ignored by clients but reset load balancer timeout
// counters (AWS ALB, Nginx default 60s). They do not join the hash chain.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
