// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("comply.orchestrator.agent")

// AgentRef identifies a resolved agent at the runtime.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContentPart is one part of a user input item.
//
// # Fields
//
//   - Type: "input_text", "input_image", or "input_file".
//   - Text: Text content for input_text parts.
//   - ImageDataURI: Data URI for input_image parts.
//   - FileName, MimeType, FileData: File metadata and base64 payload for
//     input_file parts.
type ContentPart struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	ImageDataURI string `json:"image_url,omitempty"`
	FileName     string `json:"filename,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileData     string `json:"file_data,omitempty"`
}

// InputItem is one message in the request input list.
type InputItem struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"content"`
}

// ApprovalSubmission forwards the caller's MCP approval verdict to a paused
// response.
type ApprovalSubmission struct {
	ApprovalRequestID string `json:"approval_request_id"`
	Approved          bool   `json:"approved"`
}

// StreamRequest is the payload for opening a streaming response.
//
// # Fields
//
//   - AgentID: Required. The resolved agent id.
//   - ConversationID: Conversation to append the turn to.
//   - PreviousResponseID: Set on resumption turns together with McpApproval.
//   - McpApproval: Approval verdict for a paused tool call.
//   - Input: Ordered input items (context prompts first, user message last).
type StreamRequest struct {
	AgentID            string              `json:"agent_id"`
	ConversationID     string              `json:"conversation_id,omitempty"`
	PreviousResponseID string              `json:"previous_response_id,omitempty"`
	McpApproval        *ApprovalSubmission `json:"mcp_approval,omitempty"`
	Input              []InputItem         `json:"input,omitempty"`
}

// Client is the remote agent runtime surface the orchestrator depends on.
//
// # Description
//
// Implementations must be safe for concurrent use. StreamResponse blocks
// until the stream ends, invoking the callback for every decoded update in
// order.
type Client interface {
	ResolveAgent(ctx context.Context, name string) (AgentRef, error)
	CreateConversation(ctx context.Context, title string) (string, error)
	StreamResponse(ctx context.Context, req StreamRequest, callback UpdateCallback) error
}

// HTTPClient talks to the agent runtime over HTTP with SSE streaming.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a runtime client.
//
// # Inputs
//
//   - baseURL: Runtime base URL, e.g. "http://agent-runtime:8801".
//   - apiKey: Bearer token. May be empty for unauthenticated runtimes.
//
// # Outputs
//
//   - *HTTPClient: Ready client. Streaming requests carry no client-side
//     timeout; cancellation is via ctx.
//   - error: Non-nil if baseURL is empty or unparseable.
func NewHTTPClient(baseURL, apiKey string) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("agent runtime base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid agent runtime URL %q: %w", baseURL, err)
	}
	return &HTTPClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}, nil
}

// ResolveAgent looks up an agent by reference name.
func (c *HTTPClient) ResolveAgent(ctx context.Context, name string) (AgentRef, error) {
	ctx, span := tracer.Start(ctx, "agent.ResolveAgent")
	defer span.End()
	span.SetAttributes(attribute.String("agent.name", name))

	lookupURL := fmt.Sprintf("%s/v1/agents/%s", c.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, "GET", lookupURL, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AgentRef{}, fmt.Errorf("failed to create agent lookup request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AgentRef{}, fmt.Errorf("agent lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AgentRef{}, fmt.Errorf("failed to read agent lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("agent %q lookup failed with status %d: %s", name, resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return AgentRef{}, err
	}

	var ref AgentRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return AgentRef{}, fmt.Errorf("failed to parse agent lookup response: %w", err)
	}
	if ref.ID == "" {
		return AgentRef{}, fmt.Errorf("agent %q lookup returned no id", name)
	}
	return ref, nil
}

// CreateConversation creates a new conversation and returns its id.
func (c *HTTPClient) CreateConversation(ctx context.Context, title string) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.CreateConversation")
	defer span.End()

	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/v1/conversations", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create conversation request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("conversation create failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read conversation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := fmt.Errorf("conversation create failed with status %d: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("failed to parse conversation response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("conversation create returned no id")
	}
	slog.Debug("Conversation created", "conversation_id", created.ID)
	return created.ID, nil
}

// StreamResponse opens a streaming response and feeds decoded updates to
// the callback.
//
// # Description
//
// The runtime replies with SSE; each data line is a JSON event whose "type"
// field selects the update kind. Unknown event types are skipped. The call
// returns when the stream ends, the context is cancelled, or the callback
// returns an error.
//
// # Limitations
//
//   - A runtime-reported error event is delivered as an UpdateError update,
//     not a Go error; translating it into a failure is the caller's call.
func (c *HTTPClient) StreamResponse(ctx context.Context, streamReq StreamRequest,
	callback UpdateCallback) error {

	ctx, span := tracer.Start(ctx, "agent.StreamResponse")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", streamReq.AgentID),
		attribute.Bool("agent.resumption", streamReq.PreviousResponseID != ""),
	)

	payload := struct {
		StreamRequest
		Stream bool `json:"stream"`
	}{StreamRequest: streamReq, Stream: true}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/v1/responses", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, string(respBody))
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream rejected")
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	events := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		update, ok, err := decodeWireEvent([]byte(data))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed stream event")
			return fmt.Errorf("malformed stream event: %w", err)
		}
		if !ok {
			continue
		}
		events++
		if err := callback(update); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream read failed")
		return fmt.Errorf("stream read failed: %w", err)
	}

	span.SetAttributes(attribute.Int("agent.stream_events", events))
	slog.Debug("Agent stream finished",
		"events", events, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// wireEvent is the raw SSE event envelope.
type wireEvent struct {
	Type     string       `json:"type"`
	Response *wireRespRef `json:"response,omitempty"`
	Delta    string       `json:"delta,omitempty"`
	Item     *OutputItem  `json:"item,omitempty"`
	Error    *wireError   `json:"error,omitempty"`
}

type wireRespRef struct {
	ID    string       `json:"id"`
	Usage *UsageCounts `json:"usage,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
}

// decodeWireEvent maps one wire event onto the update union. The second
// return is false for event types this client does not consume.
func decodeWireEvent(data []byte) (ResponseUpdate, bool, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ResponseUpdate{}, false, err
	}

	responseID := ""
	if ev.Response != nil {
		responseID = ev.Response.ID
	}

	switch ev.Type {
	case "response.created":
		return ResponseUpdate{Kind: UpdateCreated, ResponseID: responseID}, true, nil
	case "response.in_progress":
		return ResponseUpdate{Kind: UpdateInProgress, ResponseID: responseID}, true, nil
	case "response.completed":
		var usage *UsageCounts
		if ev.Response != nil {
			usage = ev.Response.Usage
		}
		return ResponseUpdate{Kind: UpdateCompleted, ResponseID: responseID, Usage: usage}, true, nil
	case "response.output_text.delta":
		return ResponseUpdate{Kind: UpdateDelta, Delta: ev.Delta}, true, nil
	case "response.output_item.done":
		if ev.Item == nil {
			return ResponseUpdate{}, false, nil
		}
		return ResponseUpdate{Kind: UpdateOutputItem, Item: ev.Item}, true, nil
	case "response.error", "error":
		message := "unknown stream error"
		if ev.Error != nil && ev.Error.Message != "" {
			message = ev.Error.Message
		}
		return ResponseUpdate{Kind: UpdateError, ErrorMessage: message}, true, nil
	default:
		return ResponseUpdate{}, false, nil
	}
}
