// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/agent"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/prompts"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/routing"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeAgentClient struct {
	resolveErrs   map[string]error
	resolveCalls  []string
	createdTitle  string
	conversations int
	streamReq     *agent.StreamRequest
	updates       []agent.ResponseUpdate
	streamErr     error
}

var _ agent.Client = (*fakeAgentClient)(nil)

func (f *fakeAgentClient) ResolveAgent(_ context.Context, name string) (agent.AgentRef, error) {
	f.resolveCalls = append(f.resolveCalls, name)
	if err, ok := f.resolveErrs[name]; ok && err != nil {
		return agent.AgentRef{}, err
	}
	return agent.AgentRef{ID: "id-" + name, Name: name}, nil
}

func (f *fakeAgentClient) CreateConversation(_ context.Context, title string) (string, error) {
	f.createdTitle = title
	f.conversations++
	return "conv-1", nil
}

func (f *fakeAgentClient) StreamResponse(_ context.Context, req agent.StreamRequest,
	callback agent.UpdateCallback) error {
	f.streamReq = &req
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, update := range f.updates {
		if err := callback(update); err != nil {
			return err
		}
	}
	return nil
}

type fakeRetriever struct {
	configured     bool
	catalog        []datatypes.StandardCatalogItem
	catalogCalls   int
	clauses        []datatypes.GroundedClause
	retrieveCalls  int
	requirements   []datatypes.RequirementItem
	inventoryCalls int
}

var _ Retriever = (*fakeRetriever)(nil)

func (f *fakeRetriever) IsConfigured() bool { return f.configured }

func (f *fakeRetriever) DisabledReason() string {
	return "standards retrieval backend is not configured (set WEAVIATE_URL)"
}

func (f *fakeRetriever) DefaultChunkTypeName() string { return "paragraph" }

func (f *fakeRetriever) RetrieveClauses(_ context.Context, _ string,
	_ []datatypes.StandardSelection, _ *datatypes.RetrievalOptions) ([]datatypes.GroundedClause, error) {
	f.retrieveCalls++
	return f.clauses, nil
}

func (f *fakeRetriever) Catalog(_ context.Context) ([]datatypes.StandardCatalogItem, error) {
	f.catalogCalls++
	return f.catalog, nil
}

func (f *fakeRetriever) RequirementInventory(_ context.Context, _ []datatypes.StandardSelection,
	_, _ int, _ string) ([]datatypes.RequirementItem, error) {
	f.inventoryCalls++
	return f.requirements, nil
}

// ============================================================================
// Helpers
// ============================================================================

func newTestService(t *testing.T, agents *fakeAgentClient, retriever *fakeRetriever) *ComplianceStreamService {
	t.Helper()
	return NewComplianceStreamService(ComplianceStreamConfig{
		Agents:    agents,
		Retriever: retriever,
		Prompts:   prompts.NewBuilder(prompts.Defaults{}),
		AgentTable: routing.AgentTable{
			Default: "comply-default",
			Air:     "comply-air",
			Eir:     "comply-eir",
			Bep:     "comply-bep",
		},
		RequirementsFirstMax:  500,
		RequirementsFirstPage: 100,
	})
}

func collectChunks(chunks *[]datatypes.StreamChunk) ChunkSink {
	return func(chunk datatypes.StreamChunk) error {
		*chunks = append(*chunks, chunk)
		return nil
	}
}

func chunkKinds(chunks []datatypes.StreamChunk) []datatypes.StreamChunkKind {
	kinds := make([]datatypes.StreamChunkKind, 0, len(chunks))
	for _, c := range chunks {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

func groundedUpdates() []agent.ResponseUpdate {
	return []agent.ResponseUpdate{
		{Kind: agent.UpdateCreated, ResponseID: "resp-1"},
		{Kind: agent.UpdateDelta, Delta: "The corridor widths "},
		{Kind: agent.UpdateDelta, Delta: "meet the requirement."},
		{Kind: agent.UpdateOutputItem, Item: &agent.OutputItem{
			Type: agent.ItemTypeMessage,
			Annotations: []agent.RawAnnotation{
				{Type: agent.AnnotationURICitation, Title: "ISO 19650-2", URI: "https://example.org/iso19650"},
			},
		}},
		{Kind: agent.UpdateCompleted, ResponseID: "resp-1", Usage: &agent.UsageCounts{
			InputTokens: 120, OutputTokens: 45, TotalTokens: 165,
		}},
	}
}

func sampleSelection() []datatypes.StandardSelection {
	return []datatypes.StandardSelection{{StandardID: "ISO 19650-2", Title: "ISO 19650-2"}}
}

func sampleClauses() []datatypes.GroundedClause {
	return []datatypes.GroundedClause{
		{StandardID: "ISO 19650-2", Version: "2018", ClauseRef: "5.1.2", SourceDoc: "iso19650-2.pdf", Text: "The appointing party shall establish exchange information requirements."},
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestStreamTurn_GroundedTurn_EmitsChunksInOrder(t *testing.T) {
	agents := &fakeAgentClient{updates: groundedUpdates()}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Evaluate this AIR for information requirements",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, []datatypes.StreamChunkKind{
		datatypes.ChunkKindAgent,
		datatypes.ChunkKindConversationCreated,
		datatypes.ChunkKindText,
		datatypes.ChunkKindText,
		datatypes.ChunkKindAnnotations,
		datatypes.ChunkKindUsage,
	}, chunkKinds(chunks))

	require.NotNil(t, chunks[0].Agent)
	assert.Equal(t, "comply-air", chunks[0].Agent.Name)
	assert.Equal(t, "air", chunks[0].Agent.Route)
	assert.Equal(t, "conv-1", chunks[1].ConversationID)
	assert.Equal(t, 165, chunks[5].Usage.TotalTokens)

	// Context prompts precede the user message, which always comes last.
	require.NotNil(t, agents.streamReq)
	input := agents.streamReq.Input
	require.Len(t, input, 3)
	assert.Contains(t, input[0].Parts[0].Text, "Selected standards to validate against")
	assert.Contains(t, input[1].Parts[0].Text, "GROUNDED_STANDARDS_CLAUSES")
	assert.Equal(t, "Evaluate this AIR for information requirements", input[2].Parts[0].Text)
}

func TestStreamTurn_NoAnnotationsEmitted_SynthesizesFallbackCitations(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateCreated, ResponseID: "resp-1"},
		{Kind: agent.UpdateDelta, Delta: "Compliant."},
		{Kind: agent.UpdateCompleted, ResponseID: "resp-1"},
	}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	var annotationChunks []datatypes.StreamChunk
	for _, c := range chunks {
		if c.Kind == datatypes.ChunkKindAnnotations {
			annotationChunks = append(annotationChunks, c)
		}
	}
	require.Len(t, annotationChunks, 1)
	require.Len(t, annotationChunks[0].Annotations, 1)
	assert.Equal(t, "ISO 19650-2 5.1.2 • iso19650-2.pdf", annotationChunks[0].Annotations[0].Label)
	assert.Equal(t, "file_citation", annotationChunks[0].Annotations[0].Type)
}

func TestStreamTurn_EmptyRetrieval_FallsBackToDocumentOnly(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateDelta, Delta: "Analysis without grounding."},
		{Kind: agent.UpdateCompleted},
	}}
	retriever := &fakeRetriever{configured: true}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	// No clauses means no citation obligation and a fallback notice prompt.
	for _, c := range chunks {
		assert.NotEqual(t, datatypes.ChunkKindAnnotations, c.Kind)
	}
	input := agents.streamReq.Input
	require.Len(t, input, 3)
	assert.Contains(t, input[1].Parts[0].Text, "STANDARDS_GROUNDING_NOTICE")
}

func TestStreamTurn_Resumption_SkipsGroundingAndValidation(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateDelta, Delta: "Tool call approved and executed."},
		{Kind: agent.UpdateCompleted},
	}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		ConversationID:     "conv-9",
		PreviousResponseID: "resp-7",
		McpApproval: &datatypes.McpApprovalResponse{
			ApprovalRequestID: "appr-1",
			Approved:          true,
		},
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Zero(t, retriever.catalogCalls)
	assert.Zero(t, retriever.retrieveCalls)
	assert.Zero(t, agents.conversations)

	require.NotNil(t, agents.streamReq)
	assert.Empty(t, agents.streamReq.Input)
	assert.Equal(t, "resp-7", agents.streamReq.PreviousResponseID)
	require.NotNil(t, agents.streamReq.McpApproval)
	assert.Equal(t, "appr-1", agents.streamReq.McpApproval.ApprovalRequestID)
	assert.True(t, agents.streamReq.McpApproval.Approved)
}

func TestStreamTurn_EmptyMessage_IsValidationError(t *testing.T) {
	svc := newTestService(t, &fakeAgentClient{}, &fakeRetriever{configured: true})

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message: "   ",
	}, collectChunks(&chunks))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestStreamTurn_UnconfiguredRetriever_IsConfigurationError(t *testing.T) {
	svc := newTestService(t, &fakeAgentClient{}, &fakeRetriever{configured: false})

	// Explicit selection does not bypass the configuration requirement.
	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestStreamTurn_EmptyCatalog_IsConfigurationError(t *testing.T) {
	svc := newTestService(t, &fakeAgentClient{}, &fakeRetriever{configured: true})

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message: "Check the standards",
	}, collectChunks(&chunks))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "No standards were found in the standards index")
}

func TestStreamTurn_CatalogBackfillsSelection(t *testing.T) {
	agents := &fakeAgentClient{updates: groundedUpdates()}
	retriever := &fakeRetriever{
		configured: true,
		catalog: []datatypes.StandardCatalogItem{
			{StandardID: "BS EN 17412-1", Title: "Level of Information Need", Version: "2020", Jurisdiction: "EU"},
			{StandardID: "ISO 19650-2", Title: "ISO 19650-2", Version: "2018"},
		},
		clauses: sampleClauses(),
	}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message: "Evaluate against all indexed standards",
	}, collectChunks(&chunks))
	require.NoError(t, err)
	assert.Equal(t, 1, retriever.catalogCalls)

	// Catalog order drives priority; every catalog standard is mandatory.
	policyPrompt := agents.streamReq.Input[0].Parts[0].Text
	assert.Contains(t, policyPrompt, `standard_id = "BS EN 17412-1"`)
	assert.Contains(t, policyPrompt, "priority = 1")
	assert.Contains(t, policyPrompt, "priority = 2")
	assert.Contains(t, policyPrompt, "mandatory = true")
}

func TestStreamTurn_BepRoute_SkipsRetrieval(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateDelta, Delta: "Comparison complete."},
		{Kind: agent.UpdateCompleted},
	}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:        "Compare the BEP against the EIR",
		AgentRouteHint: "bep",
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Zero(t, retriever.catalogCalls)
	assert.Zero(t, retriever.retrieveCalls)
	assert.Equal(t, "comply-bep", chunks[0].Agent.Name)
	input := agents.streamReq.Input
	require.Len(t, input, 2)
	assert.Contains(t, input[0].Parts[0].Text, "COMPARISON_CONTEXT")
}

func TestStreamTurn_McpApprovalRequest_EmitsApprovalChunk(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateCreated, ResponseID: "resp-3"},
		{Kind: agent.UpdateOutputItem, Item: &agent.OutputItem{
			Type:          agent.ItemTypeMcpApprovalRequest,
			ID:            "appr-9",
			ArgumentsJSON: `{"path":"air.pdf"}`,
		}},
	}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	var approval *datatypes.McpApprovalRequest
	for _, c := range chunks {
		if c.Kind == datatypes.ChunkKindMcpApprovalRequest {
			approval = c.McpApproval
		}
	}
	require.NotNil(t, approval)
	assert.Equal(t, "appr-9", approval.ID)
	assert.Equal(t, "Unknown tool", approval.ToolName)
	assert.Equal(t, "MCP Server", approval.ServerLabel)
	assert.Equal(t, "resp-3", approval.ResponseID)
}

func TestStreamTurn_FileSearchQuotes_AttachToFileCitations(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateOutputItem, Item: &agent.OutputItem{
			Type: agent.ItemTypeFileSearchCall,
			SearchResults: []agent.FileSearchResult{
				{FileID: "file-1", Text: "exchange information requirements shall be defined"},
			},
		}},
		{Kind: agent.UpdateOutputItem, Item: &agent.OutputItem{
			Type: agent.ItemTypeMessage,
			Annotations: []agent.RawAnnotation{
				{Type: agent.AnnotationFileCitation, FileID: "file-1", Filename: "iso19650-2.pdf"},
			},
		}},
		{Kind: agent.UpdateCompleted},
	}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	var annotations []datatypes.Annotation
	for _, c := range chunks {
		if c.Kind == datatypes.ChunkKindAnnotations {
			annotations = c.Annotations
		}
	}
	require.Len(t, annotations, 1)
	assert.Equal(t, "iso19650-2.pdf", annotations[0].Label)
	assert.Equal(t, "exchange information requirements shall be defined", annotations[0].Quote)
}

func TestStreamTurn_VersionedAgentNotFound_RetriesBaseName(t *testing.T) {
	agents := &fakeAgentClient{
		updates: []agent.ResponseUpdate{{Kind: agent.UpdateCompleted}},
		resolveErrs: map[string]error{
			"comply-air:3": errors.New("agent with version not found"),
		},
	}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := NewComplianceStreamService(ComplianceStreamConfig{
		Agents:    agents,
		Retriever: retriever,
		Prompts:   prompts.NewBuilder(prompts.Defaults{}),
		AgentTable: routing.AgentTable{
			Default: "comply-default",
			Air:     "comply-air:3",
		},
	})

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Review the AIR document",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, []string{"comply-air:3", "comply-air"}, agents.resolveCalls)
	assert.Equal(t, "comply-air", chunks[0].Agent.Name)
}

func TestStreamTurn_StreamErrorUpdate_IsUpstreamError(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateDelta, Delta: "partial"},
		{Kind: agent.UpdateError, ErrorMessage: "model overloaded"},
	}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.Error(t, err)
	assert.True(t, IsUpstreamError(err))
	assert.Contains(t, err.Error(), "Stream error: model overloaded")
}

func TestStreamTurn_RequirementsFirst_UsesInventory(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{
		{Kind: agent.UpdateDelta, Delta: `{"run_id":"r1"}`},
		{Kind: agent.UpdateCompleted},
	}}
	retriever := &fakeRetriever{
		configured: true,
		requirements: []datatypes.RequirementItem{
			{RequirementID: "uid-1", StandardID: "ISO 19650-2", ClauseRef: "5.1.2", SourceDoc: "iso19650-2.pdf", Text: "Exchange information requirements shall be established."},
		},
	}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Evaluate the AIR",
		StandardsSelected: sampleSelection(),
		Policy: &datatypes.PolicyConfig{
			RequirementsFirst: &datatypes.RequirementsFirstConfig{Enabled: true},
		},
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.inventoryCalls)
	assert.Zero(t, retriever.retrieveCalls)
	input := agents.streamReq.Input
	require.Len(t, input, 3)
	assert.Contains(t, input[1].Parts[0].Text, "REQUIREMENTS_FIRST_EVALUATION")

	// The enumerated requirements back the citation obligation.
	var annotations []datatypes.Annotation
	for _, c := range chunks {
		if c.Kind == datatypes.ChunkKindAnnotations {
			annotations = c.Annotations
		}
	}
	require.Len(t, annotations, 1)
	assert.Equal(t, "ISO 19650-2 5.1.2 • iso19650-2.pdf", annotations[0].Label)
}

func TestStreamTurn_ConversationTitleTruncated(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{{Kind: agent.UpdateCompleted}}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	longMessage := strings.Repeat("evaluate ", 20)
	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           longMessage,
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, strings.TrimSpace(longMessage)[:50]+"...", agents.createdTitle)
}

func TestConversationTitle(t *testing.T) {
	assert.Equal(t, "Review my AIR", conversationTitle("  Review my AIR  "))

	long := strings.Repeat("a", 51)
	assert.Equal(t, strings.Repeat("a", 50)+"...", conversationTitle(long))

	// Truncation counts runes, never splitting a multi-byte sequence.
	wide := strings.Repeat("要", 60)
	got := conversationTitle(wide)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("要", 50)+"...", got)

	exact := strings.Repeat("b", 50)
	assert.Equal(t, exact, conversationTitle(exact), "at the limit nothing is appended")
}

func TestStreamTurn_ExistingConversation_NoCreate(t *testing.T) {
	agents := &fakeAgentClient{updates: []agent.ResponseUpdate{{Kind: agent.UpdateCompleted}}}
	retriever := &fakeRetriever{configured: true, clauses: sampleClauses()}
	svc := newTestService(t, agents, retriever)

	var chunks []datatypes.StreamChunk
	err := svc.StreamTurn(context.Background(), &datatypes.ChatStreamRequest{
		Message:           "Check the AIR",
		ConversationID:    "conv-42",
		StandardsSelected: sampleSelection(),
	}, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Zero(t, agents.conversations)
	for _, c := range chunks {
		assert.NotEqual(t, datatypes.ChunkKindConversationCreated, c.Kind)
	}
	assert.Equal(t, "conv-42", agents.streamReq.ConversationID)
}
