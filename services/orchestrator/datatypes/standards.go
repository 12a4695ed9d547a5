// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Standards, policy, and retrieval configuration types shared by the
// routing, retrieval, prompt, and orchestration layers.
package datatypes

// =============================================================================
// Standards Selection
// =============================================================================

// StandardSelection identifies one standard the caller wants the uploaded
// document evaluated against.
//
// # Fields
//
//   - StandardID: Required. Standard number or identifier ("ISO 19650-1").
//   - Title: Human-readable title, used for routing hints and prompts.
//   - Version: Edition or revision, when known.
//   - Jurisdiction: Governing region, when known.
//   - Priority: Evaluation ordering weight. Lower sorts first. Default 1.
//   - Mandatory: Whether a failure against this standard is disqualifying.
//     Default true.
type StandardSelection struct {
	StandardID   string `json:"standardId" validate:"required"`
	Title        string `json:"title"`
	Version      string `json:"version"`
	Jurisdiction string `json:"jurisdiction"`
	Priority     *int   `json:"priority"`
	Mandatory    *bool  `json:"mandatory"`
}

// EffectivePriority returns the selection priority, defaulting to 1.
func (s *StandardSelection) EffectivePriority() int {
	if s.Priority == nil {
		return 1
	}
	return *s.Priority
}

// EffectiveMandatory returns the mandatory flag, defaulting to true.
func (s *StandardSelection) EffectiveMandatory() bool {
	if s.Mandatory == nil {
		return true
	}
	return *s.Mandatory
}

// StandardCatalogItem is one entry in the retrieval corpus catalog.
type StandardCatalogItem struct {
	StandardID   string `json:"standardId"`
	Title        string `json:"title,omitempty"`
	Version      string `json:"version,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// =============================================================================
// Policy Configuration
// =============================================================================

// RequirementsFirstConfig tunes the requirements-first evaluation mode, where
// the corpus is enumerated exhaustively instead of similarity-searched.
type RequirementsFirstConfig struct {
	Enabled        bool `json:"enabled"`
	MaxPerStandard *int `json:"maxPerStandard"`
	PageSize       *int `json:"pageSize"`
}

// PolicyConfig carries the caller's evaluation policy overrides. Every field
// is optional; defaults are applied during prompt assembly.
//
// # Fields
//
//   - DocType: Document type under evaluation ("AIR", "EIR", "BEP").
//   - ValidationMode: "strict" or "advisory".
//   - ScoringMethod: Aggregate scoring strategy.
//   - MandatoryWeight / NonMandatoryWeight: Per-standard weights.
//   - CriticalFailsImmediate: Whether a critical finding fails the document.
//   - MaxMajorBeforeFail: Major findings tolerated before overall failure.
//   - Notes: Free-text guidance included in the policy prompt.
//   - RunID: Correlation id stamped into the policy prompt. Generated when
//     absent.
//   - ProjectProfile: Optional project context block.
//   - CompanyInternalStandardID: Optional in-house standard to include.
//   - RequirementsFirst: Optional requirements-first mode settings.
type PolicyConfig struct {
	DocType                   string                   `json:"docType"`
	ValidationMode            string                   `json:"validationMode"`
	ScoringMethod             string                   `json:"scoringMethod"`
	MandatoryWeight           *float64                 `json:"mandatoryWeight"`
	NonMandatoryWeight        *float64                 `json:"nonMandatoryWeight"`
	CriticalFailsImmediate    *bool                    `json:"criticalFailsImmediate"`
	MaxMajorBeforeFail        *int                     `json:"maxMajorBeforeFail"`
	Notes                     string                   `json:"notes"`
	RunID                     string                   `json:"runId"`
	ProjectProfile            string                   `json:"projectProfile"`
	CompanyInternalStandardID string                   `json:"companyInternalStandardId"`
	RequirementsFirst         *RequirementsFirstConfig `json:"requirementsFirst"`
}

// =============================================================================
// Retrieval Configuration and Results
// =============================================================================

// RetrievalOptions tunes clause retrieval for a single turn.
type RetrievalOptions struct {
	TopKClausesPerStandard *int   `json:"topKClausesPerStandard"`
	ChunkType              string `json:"chunkType"`
}

// GroundedClause is one retrieved clause used to ground the agent's answer.
//
// # Fields
//
//   - StandardID: Standard the clause belongs to.
//   - Version: Standard edition, empty when unknown.
//   - ClauseRef: Section/paragraph/page reference, empty when unknown.
//   - SourceDoc: Originating document name.
//   - Text: Clause text presented to the agent.
type GroundedClause struct {
	StandardID string `json:"standardId"`
	Version    string `json:"version,omitempty"`
	ClauseRef  string `json:"clauseRef,omitempty"`
	SourceDoc  string `json:"sourceDoc,omitempty"`
	Text       string `json:"text"`
}

// RequirementItem is one enumerated requirement in requirements-first mode.
type RequirementItem struct {
	RequirementID string `json:"requirementId"`
	StandardID    string `json:"standardId"`
	ClauseRef     string `json:"clauseRef,omitempty"`
	SourceDoc     string `json:"sourceDoc,omitempty"`
	Text          string `json:"text"`
}
