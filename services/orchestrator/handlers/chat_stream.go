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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/middleware"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/observability"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/services"
)

// heartbeatInterval is how often keepalive comments are sent during long
// operations (retrieval, agent thinking). Below common LB idle timeouts.
const heartbeatInterval = 15 * time.Second

// TurnStreamer runs one orchestrated chat turn. Implemented by
// services.ComplianceStreamService.
type TurnStreamer interface {
	StreamTurn(ctx context.Context, req *datatypes.ChatStreamRequest,
		emit services.ChunkSink) error
}

// ChatStreamHandler serves the streaming chat endpoint.
//
// # Description
//
// The handler owns the HTTP and SSE mechanics of a turn: request binding
// and validation, SSE setup, keepalive heartbeats, translation of
// orchestrator chunks into wire events, and terminal error/done events.
// Turn semantics live in the TurnStreamer.
//
// # Error Contract
//
// Problems detected before the SSE stream opens are returned as JSON HTTP
// errors. Once streaming has started, exactly one terminal event is
// written: "done" on success, or a single "error" event carrying a stable
// code and sanitized message.
type ChatStreamHandler struct {
	streamer TurnStreamer
	tracer   trace.Tracer
}

// NewChatStreamHandler creates the streaming chat handler.
//
// Panics if streamer is nil.
func NewChatStreamHandler(streamer TurnStreamer) *ChatStreamHandler {
	if streamer == nil {
		panic("NewChatStreamHandler: streamer is required")
	}
	return &ChatStreamHandler{
		streamer: streamer,
		tracer:   otel.Tracer("comply.orchestrator.handlers"),
	}
}

// HandleChatStream handles POST /v1/chat/stream.
//
// # Description
//
// Runs one conversational turn and streams the result over SSE. The event
// sequence on a successful turn is:
//
//	event: agent
//	data: {"type":"agent","agent":{"name":"...","route":"..."},...}
//
//	event: conversationId        (fresh conversations only)
//	event: chunk                 (repeated)
//	event: annotations           (citations, when grounded)
//	event: mcpApprovalRequest    (when the agent requests tool approval)
//	event: usage
//	event: done
//
// A failed turn ends with a single error event instead of done. A client
// disconnect ends the stream silently.
//
// # Assumptions
//
//   - Auth middleware has already validated the caller
//   - Client supports SSE
func (h *ChatStreamHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	if authInfo := middleware.GetAuthInfo(c); authInfo != nil {
		span.SetAttributes(attribute.String("user.id", authInfo.UserID))
	}

	// Step 1: Parse request body.
	var req datatypes.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat stream request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	span.SetAttributes(
		attribute.Bool("request.resumption", req.IsResumption()),
		attribute.Int("request.standards", len(req.StandardsSelected)),
		attribute.Int("request.files", len(req.FileDataURIs)),
		attribute.Int("request.images", len(req.ImageDataURIs)),
	)

	// Step 2: Validate request.
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat stream request validation failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 3: Set SSE headers and create writer.
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 4: Start heartbeat goroutine to prevent connection timeouts.
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 5: Run the turn, translating chunks to wire events.
	var agentName string
	firstChunkTime := time.Time{}
	emit := func(chunk datatypes.StreamChunk) error {
		switch chunk.Kind {
		case datatypes.ChunkKindAgent:
			agentName = chunk.Agent.Name
			return sseWriter.WriteAgent(*chunk.Agent)
		case datatypes.ChunkKindConversationCreated:
			return sseWriter.WriteConversationCreated(chunk.ConversationID)
		case datatypes.ChunkKindText:
			if firstChunkTime.IsZero() {
				firstChunkTime = time.Now()
			}
			return sseWriter.WriteChunk(chunk.Text)
		case datatypes.ChunkKindAnnotations:
			return sseWriter.WriteAnnotations(chunk.Annotations)
		case datatypes.ChunkKindMcpApprovalRequest:
			return sseWriter.WriteApprovalRequest(*chunk.McpApproval)
		case datatypes.ChunkKindUsage:
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTokens(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens, agentName)
			}
			return sseWriter.WriteUsage(datatypes.UsageEvent{
				DurationMs:       time.Since(startTime).Milliseconds(),
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			})
		}
		return nil
	}

	streamErr := h.streamer.StreamTurn(ctx, &req, emit)
	close(heartbeatDone)

	if !firstChunkTime.IsZero() {
		ttfc := firstChunkTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_chunk_seconds", ttfc))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstChunk(endpoint, ttfc)
		}
	}

	if streamErr != nil {
		h.finishWithError(ctx, span, sseWriter, endpoint, streamErr)
		return
	}

	// Step 6: Emit done event.
	if err := sseWriter.WriteDone(); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event", "error", err)
		return
	}
	success = true
}

// finishWithError writes the single terminal error event for a failed turn.
// Client disconnects end the stream silently; there is no one left to read
// an error event.
func (h *ChatStreamHandler) finishWithError(ctx context.Context, span trace.Span,
	sseWriter SSEWriter, endpoint observability.Endpoint, streamErr error) {

	if errors.Is(streamErr, context.Canceled) || ctx.Err() != nil {
		slog.Info("Client disconnected during stream")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
			m.RecordClientDisconnect(endpoint)
		}
		return
	}

	span.RecordError(streamErr)
	span.SetStatus(codes.Error, "turn failed")
	slog.Error("Chat stream turn failed", "error", streamErr)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, metricsErrorCode(streamErr))
	}

	code := services.ClassifyStreamError(streamErr)
	if err := sseWriter.WriteError(code, clientErrorMessage(streamErr)); err != nil {
		slog.Error("Failed to write error event", "error", err)
	}
}

// metricsErrorCode maps a turn error onto its metrics category.
func metricsErrorCode(err error) observability.ErrorCode {
	switch {
	case services.IsValidationError(err):
		return observability.ErrorCodeValidation
	case services.IsConfigurationError(err):
		return observability.ErrorCodeConfiguration
	case services.IsGroundingIntegrityError(err):
		return observability.ErrorCodeGroundingIntegrity
	case services.IsUpstreamError(err):
		return observability.ErrorCodeUpstream
	default:
		return observability.ErrorCodeInternal
	}
}

// clientErrorMessage returns the message sent to the client. Typed turn
// errors carry client-safe messages; anything else gets a generic one so
// internals stay internal.
func clientErrorMessage(err error) string {
	if services.IsValidationError(err) || services.IsConfigurationError(err) ||
		services.IsGroundingIntegrityError(err) || services.IsUpstreamError(err) {
		return err.Error()
	}
	return "Stream processing failed"
}

// runHeartbeat sends periodic keepalive pings until the turn finishes.
func (h *ChatStreamHandler) runHeartbeat(ctx context.Context, writer SSEWriter,
	endpoint observability.Endpoint, done <-chan struct{}) {

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}
