// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent is the client for the remote agent runtime: agent lookup,
// conversation creation, and streaming response consumption.
//
// The runtime's wire events are decoded into the closed ResponseUpdate
// union so the orchestration layer can switch on update kinds without
// touching wire details.
package agent

// UpdateKind discriminates the ResponseUpdate union.
type UpdateKind string

const (
	// UpdateCreated: the runtime accepted the request and assigned a
	// response id.
	UpdateCreated UpdateKind = "created"
	// UpdateInProgress: periodic lifecycle refresh carrying the response id.
	UpdateInProgress UpdateKind = "in_progress"
	// UpdateCompleted: terminal lifecycle event carrying final usage.
	UpdateCompleted UpdateKind = "completed"
	// UpdateDelta: one increment of streamed output text.
	UpdateDelta UpdateKind = "delta"
	// UpdateOutputItem: a completed output item (message with annotations,
	// MCP approval request, or file-search call).
	UpdateOutputItem UpdateKind = "output_item"
	// UpdateError: the runtime reported a fatal stream error.
	UpdateError UpdateKind = "error"
)

// OutputItem type markers used by the runtime.
const (
	ItemTypeMessage            = "message"
	ItemTypeMcpApprovalRequest = "mcp_approval_request"
	ItemTypeFileSearchCall     = "file_search_call"
)

// Raw annotation type markers used by the runtime.
const (
	AnnotationURICitation           = "uri_citation"
	AnnotationFileCitation          = "file_citation"
	AnnotationFilePath              = "file_path"
	AnnotationContainerFileCitation = "container_file_citation"
)

// RawAnnotation is a citation exactly as the runtime reported it.
type RawAnnotation struct {
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	URI        string `json:"uri,omitempty"`
	Filename   string `json:"filename,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
}

// FileSearchResult is one hit from a runtime-side file search tool call.
type FileSearchResult struct {
	FileID string `json:"file_id"`
	Text   string `json:"text"`
}

// OutputItem is a completed item from the response output stream.
//
// # Fields
//
//   - Type: One of the ItemType markers.
//   - ID: Item id. For approval requests this is the approval request id.
//   - ToolName, ServerLabel, ArgumentsJSON: MCP approval request details.
//   - Annotations: Citations attached to a message item.
//   - SearchResults: Hits attached to a file-search item.
type OutputItem struct {
	Type          string             `json:"type"`
	ID            string             `json:"id"`
	ToolName      string             `json:"tool_name,omitempty"`
	ServerLabel   string             `json:"server_label,omitempty"`
	ArgumentsJSON string             `json:"arguments,omitempty"`
	Annotations   []RawAnnotation    `json:"annotations,omitempty"`
	SearchResults []FileSearchResult `json:"results,omitempty"`
}

// UsageCounts is the runtime's token accounting for a completed response.
type UsageCounts struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResponseUpdate is one decoded stream event. Kind selects which payload
// fields are meaningful.
type ResponseUpdate struct {
	Kind         UpdateKind
	ResponseID   string
	Delta        string
	Item         *OutputItem
	Usage        *UsageCounts
	ErrorMessage string
}

// UpdateCallback receives each decoded update in stream order. Returning an
// error aborts the stream.
type UpdateCallback func(update ResponseUpdate) error
