// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services contains the turn orchestration core: route resolution,
// agent resolution, grounding, stream consumption, and citation
// reconciliation for one chat turn.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/agent"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/observability"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/prompts"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/routing"
)

var tracer = otel.Tracer("comply.orchestrator.services")

// conversationTitleLimit caps the auto-generated conversation title.
const conversationTitleLimit = 50

// Retriever is the grounding surface the orchestrator depends on.
//
// # Description
//
// Implemented by the Weaviate-backed retrieval service. IsConfigured and
// DisabledReason gate the standards flow: turns that need grounding fail
// with a ConfigurationError when no backend is available.
type Retriever interface {
	IsConfigured() bool
	DisabledReason() string
	DefaultChunkTypeName() string
	RetrieveClauses(ctx context.Context, query string,
		standards []datatypes.StandardSelection, opts *datatypes.RetrievalOptions) ([]datatypes.GroundedClause, error)
	Catalog(ctx context.Context) ([]datatypes.StandardCatalogItem, error)
	RequirementInventory(ctx context.Context, standards []datatypes.StandardSelection,
		maxPerStandard, pageSize int, chunkType string) ([]datatypes.RequirementItem, error)
}

// ChunkSink receives orchestrator output chunks in stream order. Returning
// an error aborts the turn.
type ChunkSink func(chunk datatypes.StreamChunk) error

// ComplianceStreamConfig configures the stream service.
//
// # Fields
//
//   - Agents: Required. Agent runtime client.
//   - Retriever: Required. Standards grounding backend (may be
//     unconfigured, but not nil).
//   - Prompts: Required. Prompt builder.
//   - AgentTable: Per-route agent names. Default must be set.
//   - RequirementsFirstEnabled: Service default for requirements-first
//     mode; per-turn policy can override.
//   - RequirementsFirstMax, RequirementsFirstPageSize: Inventory bounds.
type ComplianceStreamConfig struct {
	Agents                   agent.Client
	Retriever                Retriever
	Prompts                  *prompts.Builder
	AgentTable               routing.AgentTable
	RequirementsFirstEnabled bool
	RequirementsFirstMax     int
	RequirementsFirstPage    int
}

// ComplianceStreamService orchestrates one streaming chat turn end to end.
//
// # Thread Safety
//
// Safe for concurrent use; per-turn state lives on the stack of StreamTurn.
type ComplianceStreamService struct {
	agents            agent.Client
	retriever         Retriever
	prompts           *prompts.Builder
	agentTable        routing.AgentTable
	defaultAgentCache agent.RefCache
	reqFirstEnabled   bool
	reqFirstMax       int
	reqFirstPage      int
}

// NewComplianceStreamService creates the stream service.
//
// Panics if a required dependency is nil; construction happens once at
// startup and a missing dependency is a programming error.
func NewComplianceStreamService(cfg ComplianceStreamConfig) *ComplianceStreamService {
	if cfg.Agents == nil {
		panic("NewComplianceStreamService: Agents is required")
	}
	if cfg.Retriever == nil {
		panic("NewComplianceStreamService: Retriever is required")
	}
	if cfg.Prompts == nil {
		panic("NewComplianceStreamService: Prompts is required")
	}
	if cfg.AgentTable.Default == "" {
		panic("NewComplianceStreamService: AgentTable.Default is required")
	}
	return &ComplianceStreamService{
		agents:          cfg.Agents,
		retriever:       cfg.Retriever,
		prompts:         cfg.Prompts,
		agentTable:      cfg.AgentTable,
		reqFirstEnabled: cfg.RequirementsFirstEnabled,
		reqFirstMax:     cfg.RequirementsFirstMax,
		reqFirstPage:    cfg.RequirementsFirstPage,
	}
}

// StreamTurn runs one chat turn and emits chunks to the sink.
//
// # Description
//
// The turn walks a fixed sequence: route determination, agent resolution,
// turn-type decision, input assembly (fresh turns only), stream
// consumption, and post-turn citation reconciliation. The agent chunk is
// always emitted first; a fresh conversation id follows when one was
// created. Fatal problems are returned as typed errors; translating them
// into wire error events is the transport's job.
//
// # Inputs
//
//   - ctx: Context for cancellation. A context.Canceled return means the
//     caller went away, not that the turn failed.
//   - req: The validated chat request.
//   - emit: Chunk sink.
//
// # Outputs
//
//   - error: ValidationError, ConfigurationError, GroundingIntegrityError,
//     UpstreamError, or a context/transport error. Nil on a clean turn.
func (s *ComplianceStreamService) StreamTurn(ctx context.Context,
	req *datatypes.ChatStreamRequest, emit ChunkSink) error {

	ctx, span := tracer.Start(ctx, "services.StreamTurn")
	defer span.End()

	// Route determination.
	decision := s.resolveRoute(req)
	span.SetAttributes(
		attribute.String("turn.route", string(decision.Route)),
		attribute.String("turn.route_reason", decision.Reason),
		attribute.Bool("turn.resumption", req.IsResumption()),
	)
	slog.Info("Route determined",
		"route", string(decision.Route), "reason", decision.Reason)

	// Agent resolution.
	agentName := s.agentTable.AgentNameFor(decision.Route)
	ref, err := s.resolveAgentRef(ctx, decision.Route, agentName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent resolution failed")
		return err
	}
	if err := emit(datatypes.StreamChunk{
		Kind:  datatypes.ChunkKindAgent,
		Agent: &datatypes.AgentInfo{Name: ref.Name, Route: string(decision.Route)},
	}); err != nil {
		return err
	}

	// Fresh turns need a message before any side effects happen.
	if !req.IsResumption() && strings.TrimSpace(req.Message) == "" {
		err := &ValidationError{Message: "Message cannot be empty"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty message")
		return err
	}

	// Conversation setup.
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID, err = s.agents.CreateConversation(ctx, conversationTitle(req.Message))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "conversation create failed")
			return &UpstreamError{Message: "failed to create conversation", Err: err}
		}
		if err := emit(datatypes.StreamChunk{
			Kind:           datatypes.ChunkKindConversationCreated,
			ConversationID: conversationID,
		}); err != nil {
			return err
		}
	}

	// Turn-type decision: resumption forwards the approval verdict and
	// skips validation, grounding, and prompt assembly entirely.
	streamReq := agent.StreamRequest{
		AgentID:        ref.ID,
		ConversationID: conversationID,
	}
	var retrievedClauses []datatypes.GroundedClause
	if req.IsResumption() {
		streamReq.PreviousResponseID = req.PreviousResponseID
		streamReq.McpApproval = &agent.ApprovalSubmission{
			ApprovalRequestID: req.McpApproval.ApprovalRequestID,
			Approved:          req.McpApproval.Approved,
		}
	} else {
		streamReq.Input, retrievedClauses, err = s.buildFreshTurnInput(ctx, req, decision.Route, span)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "input assembly failed")
			return err
		}
	}
	retrievalRan := len(retrievedClauses) > 0

	// Stream consumption and post-turn reconciliation.
	return s.consumeStream(ctx, streamReq, retrievalRan, retrievedClauses, emit)
}

// resolveRoute builds the routing signals from the request.
func (s *ComplianceStreamService) resolveRoute(req *datatypes.ChatStreamRequest) routing.Decision {
	fileNames := make([]string, 0, len(req.FileDataURIs))
	for _, f := range req.FileDataURIs {
		fileNames = append(fileNames, f.FileName)
	}
	standardIDs := make([]string, 0, len(req.StandardsSelected))
	for _, std := range req.StandardsSelected {
		standardIDs = append(standardIDs, std.StandardID)
	}
	return routing.DetermineRoute(routing.Signals{
		Hint:        req.AgentRouteHint,
		FileNames:   fileNames,
		StandardIDs: standardIDs,
		Message:     req.Message,
	})
}

// resolveAgentRef resolves the agent for the turn. The default route goes
// through the single-flight cache; specialists are resolved per turn.
func (s *ComplianceStreamService) resolveAgentRef(ctx context.Context,
	route routing.Route, agentName string) (agent.AgentRef, error) {

	if agentName == s.agentTable.Default {
		return s.defaultAgentCache.Get(ctx, func(ctx context.Context) (agent.AgentRef, error) {
			return s.resolveWithVersionFallback(ctx, agentName)
		})
	}
	return s.resolveWithVersionFallback(ctx, agentName)
}

// resolveWithVersionFallback resolves a versioned agent reference, retrying
// once with the normalized base name when the versioned lookup is reported
// as not found. Runtimes drop old versions; the base name keeps routing to
// the current one.
func (s *ComplianceStreamService) resolveWithVersionFallback(ctx context.Context,
	name string) (agent.AgentRef, error) {

	ref, err := s.agents.ResolveAgent(ctx, name)
	if err == nil {
		return ref, nil
	}
	if strings.Contains(name, ":") && isAgentNotFound(err) {
		baseName := routing.NormalizeAgentReferenceName(name)
		if baseName != "" && baseName != name {
			slog.Warn("Versioned agent not found, retrying with base name",
				"agent", name, "base_name", baseName, "error", err)
			if ref, retryErr := s.agents.ResolveAgent(ctx, baseName); retryErr == nil {
				return ref, nil
			}
		}
	}
	return agent.AgentRef{}, &UpstreamError{
		Message: fmt.Sprintf("failed to resolve agent %q", name),
		Err:     err,
	}
}

// isAgentNotFound matches the not-found shapes runtimes report for missing
// agent versions.
func isAgentNotFound(err error) bool {
	message := err.Error()
	return strings.Contains(message, "with version not found") ||
		strings.Contains(message, "ServiceError: not_found") ||
		strings.Contains(message, `"code": "not_found"`) ||
		strings.Contains(message, `"code":"not_found"`)
}

// buildFreshTurnInput assembles the input items for a fresh turn: context
// prompts first, the user message last. Returns the retrieved clauses so
// post-turn reconciliation can synthesize citations from them.
func (s *ComplianceStreamService) buildFreshTurnInput(ctx context.Context,
	req *datatypes.ChatStreamRequest, route routing.Route,
	span trace.Span) ([]agent.InputItem, []datatypes.GroundedClause, error) {

	var input []agent.InputItem
	var retrievedClauses []datatypes.GroundedClause

	if route == routing.RouteBep {
		// BEP comparison works document-to-document; no corpus grounding.
		input = append(input, textItem(s.prompts.BuildBepComparisonContextPrompt()))
		span.SetAttributes(attribute.Int("turn.standards", 0))
	} else {
		effectiveStandards, err := s.resolveStandards(ctx, req.StandardsSelected)
		if err != nil {
			return nil, nil, err
		}
		span.SetAttributes(attribute.Int("turn.standards", len(effectiveStandards)))

		if len(effectiveStandards) > 0 {
			input = append(input, textItem(s.prompts.BuildPolicyPrompt(req.Policy, effectiveStandards)))

			if s.requirementsFirstEnabled(req.Policy) {
				items, err := s.enumerateRequirements(ctx, req, effectiveStandards)
				if err != nil {
					return nil, nil, err
				}
				if len(items) == 0 {
					slog.Warn("No requirements were retrieved. Falling back to document-only analysis for this request.")
					input = append(input, textItem(s.prompts.BuildNoStandardsFallbackPrompt()))
				} else {
					input = append(input, textItem(s.prompts.BuildRequirementsFirstPrompt(items)))
					for _, item := range items {
						retrievedClauses = append(retrievedClauses, datatypes.GroundedClause{
							StandardID: item.StandardID,
							ClauseRef:  item.ClauseRef,
							SourceDoc:  item.SourceDoc,
							Text:       item.Text,
						})
					}
				}
			} else {
				retrievedClauses, err = s.retriever.RetrieveClauses(ctx, req.Message, effectiveStandards, req.Retrieval)
				if err != nil {
					return nil, nil, &UpstreamError{Message: "standards retrieval failed", Err: err}
				}
				if len(retrievedClauses) == 0 {
					slog.Warn("No standards clauses were retrieved. Falling back to document-only analysis for this request.")
					input = append(input, textItem(s.prompts.BuildNoStandardsFallbackPrompt()))
				} else {
					input = append(input, textItem(s.prompts.BuildGroundedClausesPrompt(retrievedClauses)))
				}
			}
		}
	}

	userMessage, err := BuildUserMessage(req.Message, req.ImageDataURIs, req.FileDataURIs)
	if err != nil {
		return nil, nil, err
	}
	input = append(input, userMessage)
	return input, retrievedClauses, nil
}

// resolveStandards returns the standards for the turn: the explicit
// selection when present, otherwise the full corpus catalog. Both paths
// require a configured retrieval backend.
func (s *ComplianceStreamService) resolveStandards(ctx context.Context,
	selected []datatypes.StandardSelection) ([]datatypes.StandardSelection, error) {

	if !s.retriever.IsConfigured() {
		return nil, &ConfigurationError{
			Message: "Standards retrieval is not configured. " + s.retriever.DisabledReason(),
		}
	}
	if len(selected) > 0 {
		return selected, nil
	}

	catalog, err := s.retriever.Catalog(ctx)
	if err != nil {
		return nil, &UpstreamError{Message: "standards catalog lookup failed", Err: err}
	}
	if len(catalog) == 0 {
		return nil, &ConfigurationError{
			Message: "No standards were found in the standards index. Ensure the knowledge source is indexed and contains standards metadata.",
		}
	}

	standards := make([]datatypes.StandardSelection, 0, len(catalog))
	for i, item := range catalog {
		priority := i + 1
		mandatory := true
		standards = append(standards, datatypes.StandardSelection{
			StandardID:   item.StandardID,
			Title:        item.Title,
			Version:      item.Version,
			Jurisdiction: item.Jurisdiction,
			Priority:     &priority,
			Mandatory:    &mandatory,
		})
	}
	return standards, nil
}

// requirementsFirstEnabled merges the per-turn policy override with the
// service default.
func (s *ComplianceStreamService) requirementsFirstEnabled(policy *datatypes.PolicyConfig) bool {
	if policy != nil && policy.RequirementsFirst != nil {
		return policy.RequirementsFirst.Enabled
	}
	return s.reqFirstEnabled
}

// enumerateRequirements runs the requirement inventory with per-turn
// overrides applied.
func (s *ComplianceStreamService) enumerateRequirements(ctx context.Context,
	req *datatypes.ChatStreamRequest,
	standards []datatypes.StandardSelection) ([]datatypes.RequirementItem, error) {

	maxPerStandard := s.reqFirstMax
	pageSize := s.reqFirstPage
	if req.Policy != nil && req.Policy.RequirementsFirst != nil {
		rf := req.Policy.RequirementsFirst
		if rf.MaxPerStandard != nil && *rf.MaxPerStandard > 0 {
			maxPerStandard = *rf.MaxPerStandard
		}
		if rf.PageSize != nil && *rf.PageSize > 0 {
			pageSize = *rf.PageSize
		}
	}
	chunkType := s.retriever.DefaultChunkTypeName()
	if req.Retrieval != nil && req.Retrieval.ChunkType != "" {
		chunkType = req.Retrieval.ChunkType
	}

	items, err := s.retriever.RequirementInventory(ctx, standards, maxPerStandard, pageSize, chunkType)
	if err != nil {
		return nil, &UpstreamError{Message: "requirement inventory failed", Err: err}
	}
	return items, nil
}

// consumeStream drives the agent response stream and reconciles citations
// afterwards.
func (s *ComplianceStreamService) consumeStream(ctx context.Context,
	streamReq agent.StreamRequest, retrievalRan bool,
	retrievedClauses []datatypes.GroundedClause, emit ChunkSink) error {

	ctx, span := tracer.Start(ctx, "services.consumeStream")
	defer span.End()

	currentResponseID := streamReq.PreviousResponseID
	fileSearchQuotes := make(map[string]string)
	emittedAnnotations := false
	var usage *datatypes.Usage

	err := s.agents.StreamResponse(ctx, streamReq, func(update agent.ResponseUpdate) error {
		switch update.Kind {
		case agent.UpdateCreated, agent.UpdateInProgress:
			if update.ResponseID != "" {
				currentResponseID = update.ResponseID
			}

		case agent.UpdateCompleted:
			if update.ResponseID != "" {
				currentResponseID = update.ResponseID
			}
			if update.Usage != nil {
				usage = &datatypes.Usage{
					PromptTokens:     update.Usage.InputTokens,
					CompletionTokens: update.Usage.OutputTokens,
					TotalTokens:      update.Usage.TotalTokens,
				}
			}

		case agent.UpdateDelta:
			if update.Delta == "" {
				return nil
			}
			return emit(datatypes.StreamChunk{Kind: datatypes.ChunkKindText, Text: update.Delta})

		case agent.UpdateOutputItem:
			return s.handleOutputItem(update.Item, currentResponseID, fileSearchQuotes,
				&emittedAnnotations, emit)

		case agent.UpdateError:
			return &UpstreamError{Message: "Stream error: " + update.ErrorMessage}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// The caller went away; nothing to reconcile.
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream consumption failed")
		return err
	}

	// Post-turn reconciliation: a grounded turn must end with citations.
	if retrievalRan && !emittedAnnotations {
		fallback := BuildFallbackAnnotations(retrievedClauses)
		if len(fallback) == 0 {
			return &GroundingIntegrityError{
				Message: "Citations are required for retrieval-backed responses, but none were produced.",
			}
		}
		slog.Info("Synthesized fallback citations", "count", len(fallback))
		span.SetAttributes(attribute.Int("turn.fallback_citations", len(fallback)))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordFallbackCitations()
		}
		if err := emit(datatypes.StreamChunk{
			Kind:        datatypes.ChunkKindAnnotations,
			Annotations: fallback,
		}); err != nil {
			return err
		}
	}

	if usage != nil {
		if err := emit(datatypes.StreamChunk{Kind: datatypes.ChunkKindUsage, Usage: usage}); err != nil {
			return err
		}
	}
	return nil
}

// handleOutputItem dispatches one completed output item. Priority order:
// MCP approval requests, file-search results (recorded for quote lookup,
// not surfaced), then message annotations.
func (s *ComplianceStreamService) handleOutputItem(item *agent.OutputItem,
	currentResponseID string, fileSearchQuotes map[string]string,
	emittedAnnotations *bool, emit ChunkSink) error {

	if item == nil {
		return nil
	}

	switch item.Type {
	case agent.ItemTypeMcpApprovalRequest:
		toolName := item.ToolName
		if toolName == "" {
			toolName = "Unknown tool"
		}
		serverLabel := item.ServerLabel
		if serverLabel == "" {
			serverLabel = "MCP Server"
		}
		return emit(datatypes.StreamChunk{
			Kind: datatypes.ChunkKindMcpApprovalRequest,
			McpApproval: &datatypes.McpApprovalRequest{
				ID:          item.ID,
				ToolName:    toolName,
				ServerLabel: serverLabel,
				Arguments:   item.ArgumentsJSON,
				ResponseID:  currentResponseID,
			},
		})

	case agent.ItemTypeFileSearchCall:
		for _, result := range item.SearchResults {
			if result.FileID != "" {
				fileSearchQuotes[result.FileID] = result.Text
			}
		}
		return nil

	default:
		annotations := ExtractAnnotations(item, fileSearchQuotes)
		if len(annotations) == 0 {
			return nil
		}
		*emittedAnnotations = true
		return emit(datatypes.StreamChunk{
			Kind:        datatypes.ChunkKindAnnotations,
			Annotations: annotations,
		})
	}
}

// textItem wraps a context prompt as a user input item.
func textItem(text string) agent.InputItem {
	return agent.InputItem{
		Role:  "user",
		Parts: []agent.ContentPart{{Type: "input_text", Text: text}},
	}
}

// conversationTitle derives a conversation title from the first message,
// truncating on a rune boundary.
func conversationTitle(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) > conversationTitleLimit {
		return string(runes[:conversationTitleLimit]) + "..."
	}
	return message
}
