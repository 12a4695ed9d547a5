// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts assembles the system context blocks sent ahead of the
// user message: the evaluation policy, the grounded clause evidence, the
// requirements-first inventory, and the fixed BEP comparison and
// no-grounding notices.
//
// Builders are pure string assembly. The only non-determinism is run id
// generation in BuildPolicyPrompt when the caller did not configure one.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// Defaults are the policy values applied when the caller omits a field.
//
// # Fields
//
// Mirror the PolicyConfig knobs. Zero-value Defaults are completed by
// ApplyDefaults, so a Builder constructed with prompts.Builder{} behaves
// sensibly.
type Defaults struct {
	DocType                   string
	ValidationMode            string
	ScoringMethod             string
	MandatoryWeight           float64
	NonMandatoryWeight        float64
	CriticalFailsImmediate    bool
	MaxMajorBeforeFail        int
	ScoringNotes              string
	RunID                     string
	ProjectProfile            string
	CompanyInternalStandardID string
}

// ApplyDefaults fills unset fields with the standard policy defaults.
func (d Defaults) ApplyDefaults() Defaults {
	if d.DocType == "" {
		d.DocType = "AIR"
	}
	if d.ValidationMode == "" {
		d.ValidationMode = "strict"
	}
	if d.ScoringMethod == "" {
		d.ScoringMethod = "weighted_by_priority"
	}
	if d.MandatoryWeight == 0 {
		d.MandatoryWeight = 1.0
	}
	if d.NonMandatoryWeight == 0 {
		d.NonMandatoryWeight = 0.5
	}
	if d.ScoringNotes == "" {
		d.ScoringNotes = "Mandatory standards weighted highest."
	}
	d.CriticalFailsImmediate = true
	return d
}

// Builder assembles prompt blocks for a turn.
type Builder struct {
	defaults Defaults
}

// NewBuilder creates a Builder with the given service-level defaults.
func NewBuilder(defaults Defaults) *Builder {
	return &Builder{defaults: defaults.ApplyDefaults()}
}

// BuildPolicyPrompt renders the POLICY block.
//
// # Description
//
// Combines caller policy overrides with the service defaults and lists the
// selected standards ordered by priority then standard id. The run id comes
// from the policy config, then the service default, then a fresh UUID.
//
// # Inputs
//
//   - policy: Caller overrides. May be nil.
//   - standards: Standards under evaluation.
//
// # Outputs
//
//   - string: The POLICY block, newline-terminated.
func (b *Builder) BuildPolicyPrompt(policy *datatypes.PolicyConfig,
	standards []datatypes.StandardSelection) string {

	d := b.defaults
	docType := d.DocType
	validationMode := d.ValidationMode
	scoringMethod := d.ScoringMethod
	mandatoryWeight := d.MandatoryWeight
	nonMandatoryWeight := d.NonMandatoryWeight
	criticalFailsImmediate := d.CriticalFailsImmediate
	maxMajorBeforeFail := d.MaxMajorBeforeFail
	scoringNotes := d.ScoringNotes
	runID := d.RunID
	projectProfile := d.ProjectProfile
	companyStandardID := d.CompanyInternalStandardID

	if policy != nil {
		if policy.DocType != "" {
			docType = policy.DocType
		}
		if policy.ValidationMode != "" {
			validationMode = policy.ValidationMode
		}
		if policy.ScoringMethod != "" {
			scoringMethod = policy.ScoringMethod
		}
		if policy.MandatoryWeight != nil {
			mandatoryWeight = *policy.MandatoryWeight
		}
		if policy.NonMandatoryWeight != nil {
			nonMandatoryWeight = *policy.NonMandatoryWeight
		}
		if policy.CriticalFailsImmediate != nil {
			criticalFailsImmediate = *policy.CriticalFailsImmediate
		}
		if policy.MaxMajorBeforeFail != nil {
			maxMajorBeforeFail = *policy.MaxMajorBeforeFail
		}
		if policy.Notes != "" {
			scoringNotes = policy.Notes
		}
		if policy.RunID != "" {
			runID = policy.RunID
		}
		if policy.ProjectProfile != "" {
			projectProfile = policy.ProjectProfile
		}
		if policy.CompanyInternalStandardID != "" {
			companyStandardID = policy.CompanyInternalStandardID
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	sorted := make([]datatypes.StandardSelection, len(standards))
	copy(sorted, standards)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].EffectivePriority(), sorted[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return sorted[i].StandardID < sorted[j].StandardID
	})

	var sb strings.Builder
	sb.WriteString("POLICY\n\n")
	sb.WriteString("Document type:\n")
	fmt.Fprintf(&sb, "- doc_type = %q\n\n", docType)
	sb.WriteString("Selected standards to validate against (ordered by priority):\n")
	for _, std := range sorted {
		title := std.Title
		if title == "" {
			title = std.StandardID
		}
		version := std.Version
		if version == "" {
			version = "unknown"
		}
		jurisdiction := std.Jurisdiction
		if jurisdiction == "" {
			jurisdiction = "unknown"
		}
		fmt.Fprintf(&sb, "- standard_id = %q\n", std.StandardID)
		fmt.Fprintf(&sb, "  title = %q\n", title)
		fmt.Fprintf(&sb, "  version = %q\n", version)
		fmt.Fprintf(&sb, "  jurisdiction = %q\n", jurisdiction)
		fmt.Fprintf(&sb, "  priority = %d\n", std.EffectivePriority())
		fmt.Fprintf(&sb, "  mandatory = %t\n", std.EffectiveMandatory())
	}
	sb.WriteString("\nValidation mode:\n")
	fmt.Fprintf(&sb, "- mode = %q\n\n", validationMode)
	sb.WriteString("Scoring:\n")
	fmt.Fprintf(&sb, "- scoring_method = %q\n", scoringMethod)
	sb.WriteString("- weights:\n")
	fmt.Fprintf(&sb, "  - mandatory_weight = %g\n", mandatoryWeight)
	fmt.Fprintf(&sb, "  - non_mandatory_weight = %g\n", nonMandatoryWeight)
	sb.WriteString("- fail_thresholds:\n")
	fmt.Fprintf(&sb, "  - critical_fails_immediate = %t\n", criticalFailsImmediate)
	fmt.Fprintf(&sb, "  - max_major_before_fail = %d\n", maxMajorBeforeFail)
	sb.WriteString("- notes:\n")
	fmt.Fprintf(&sb, "  - %q\n\n", scoringNotes)
	sb.WriteString("Output requirements:\n")
	sb.WriteString("- response must include:\n")
	sb.WriteString("  1) Clarification Questions (as tasks)\n")
	sb.WriteString("  2) Compliance Score (with calculation notes)\n")
	sb.WriteString("  3) Structured List of Non-Compliant/Missing Topics\n")
	sb.WriteString("- every finding must include citations grounded in the clauses below\n")
	sb.WriteString("- populate citation_document_name and citation fields for each task\n\n")
	sb.WriteString("Run metadata:\n")
	fmt.Fprintf(&sb, "- run_id = %q\n", runID)
	if strings.TrimSpace(projectProfile) != "" {
		fmt.Fprintf(&sb, "- project_profile = %q\n", projectProfile)
	}
	if strings.TrimSpace(companyStandardID) != "" {
		fmt.Fprintf(&sb, "- company_internal_standard_id = %q\n", companyStandardID)
	}
	return sb.String()
}

// BuildGroundedClausesPrompt renders the GROUNDED_STANDARDS_CLAUSES block
// containing the retrieved clause evidence. Emits the
// "(no clauses retrieved)" sentinel for an empty clause set.
func (b *Builder) BuildGroundedClausesPrompt(clauses []datatypes.GroundedClause) string {
	var sb strings.Builder
	sb.WriteString("GROUNDED_STANDARDS_CLAUSES\n\n")
	sb.WriteString("Rules for use:\n")
	sb.WriteString("- Only use the clauses below as evidence.\n")
	sb.WriteString("- Every claim must cite at least one clause below using citation_document_name and citation.\n")
	sb.WriteString("- If a requirement is not evidenced below, mark citation fields as \"N/A\" and explain the gap.\n\n")
	sb.WriteString("Clauses:\n")

	if len(clauses) == 0 {
		sb.WriteString("(no clauses retrieved)\n")
		return sb.String()
	}

	for _, clause := range clauses {
		version := clause.Version
		if version == "" {
			version = "unknown"
		}
		clauseRef := clause.ClauseRef
		if clauseRef == "" {
			clauseRef = "n/a"
		}
		fmt.Fprintf(&sb, "[standard_id: %s | version: %s | clause_ref: %s | source_doc: %s]\n",
			clause.StandardID, version, clauseRef, clause.SourceDoc)
		sb.WriteString(clause.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildRequirementsFirstPrompt renders the REQUIREMENTS_FIRST_EVALUATION
// block: evaluation rules, the required JSON output schema, and the full
// requirement inventory. Emits the "(no requirements provided)" sentinel for
// an empty inventory.
func (b *Builder) BuildRequirementsFirstPrompt(requirements []datatypes.RequirementItem) string {
	var sb strings.Builder
	sb.WriteString("REQUIREMENTS_FIRST_EVALUATION\n\n")
	sb.WriteString("Rules for use:\n")
	sb.WriteString("- You MUST produce one task row per requirement listed below.\n")
	sb.WriteString("- Use only the uploaded document as evidence.\n")
	sb.WriteString("- Do NOT call external tools; rely on the requirements list and the uploaded document only.\n")
	sb.WriteString("- Determine verdict using the strongest evidence you can find in the uploaded document:\n")
	sb.WriteString("  - Pass: requirement clearly satisfied with direct evidence.\n")
	sb.WriteString("  - Partial: requirement partially addressed or ambiguous.\n")
	sb.WriteString("  - Fail: requirement contradicted or clearly missing mandatory content.\n")
	sb.WriteString("  - NoEvidence: only when no relevant evidence is found at all.\n")
	sb.WriteString("- Evidence must quote exact source text when available; use \"N/A\" only when truly no evidence exists.\n")
	sb.WriteString("- Output MUST be valid JSON only (no markdown). Use the schema below.\n\n")
	sb.WriteString("Required JSON schema:\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"document_name\": \"<uploaded document name>\",\n")
	sb.WriteString("  \"id\": \"<uuid>\",\n")
	sb.WriteString("  \"response\": \"full evaluation including score + findings + clarification questions\",\n")
	sb.WriteString("  \"tasks\": [\n")
	sb.WriteString("    {\n")
	sb.WriteString("      \"id\": \"<uuid>\",\n")
	sb.WriteString("      \"name\": \"<short task name>\",\n")
	sb.WriteString("      \"standard_id\": \"<standard_id>\",\n")
	sb.WriteString("      \"clause_ref\": \"<standard clause reference>\",\n")
	sb.WriteString("      \"standard_reference\": \"<standard_id + clause_ref>\",\n")
	sb.WriteString("      \"requirement_text\": \"<requirement text>\",\n")
	sb.WriteString("      \"verdict\": \"Pass|Partial|Fail|NA|Unknown|NoEvidence\",\n")
	sb.WriteString("      \"severity\": \"critical|major|minor|info\",\n")
	sb.WriteString("      \"evidence\": \"<exact quote from uploaded document or N/A>\",\n")
	sb.WriteString("      \"citation_document_name\": \"<document name or N/A>\",\n")
	sb.WriteString("      \"citation\": \"<supporting citation text or N/A>\",\n")
	sb.WriteString("      \"document_reference\": \"<page/section/key from uploaded doc if known>\",\n")
	sb.WriteString("      \"reference\": [\"<exact triggering text from uploaded document>\"],\n")
	sb.WriteString("      \"description\": \"<what is missing/non-compliant and why>\",\n")
	sb.WriteString("      \"remediation\": \"<what to add/fix if missing>\"\n")
	sb.WriteString("    }\n")
	sb.WriteString("  ]\n")
	sb.WriteString("}\n")
	sb.WriteString("- Do not include internal requirement IDs in name, description, evidence, or remediation text.\n\n")
	sb.WriteString("Requirements:\n")

	if len(requirements) == 0 {
		sb.WriteString("(no requirements provided)\n")
		return sb.String()
	}

	for _, req := range requirements {
		clauseRef := req.ClauseRef
		if strings.TrimSpace(clauseRef) == "" {
			clauseRef = "see source_doc"
		}
		fmt.Fprintf(&sb, "[standard_id: %s | clause_ref: %s | source_doc: %s]\n",
			req.StandardID, clauseRef, req.SourceDoc)
		sb.WriteString(req.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildBepComparisonContextPrompt returns the fixed comparison context used
// on the BEP route, where the uploaded BEP is checked directly against
// uploaded AIR/EIR documents instead of corpus clauses.
func (b *Builder) BuildBepComparisonContextPrompt() string {
	return "COMPARISON_CONTEXT\n\n" +
		"You are evaluating an uploaded BEP against uploaded AIR and EIR documents.\n" +
		"- Prioritize direct cross-document consistency checks between BEP, AIR, and EIR.\n" +
		"- Produce a complete structured report with score, findings, and remediation tasks.\n" +
		"- Do not depend on standards retrieval unless explicitly provided in the conversation."
}

// BuildNoStandardsFallbackPrompt returns the notice injected when retrieval
// was attempted but produced nothing, so the agent reports the missing
// grounding instead of fabricating citations.
func (b *Builder) BuildNoStandardsFallbackPrompt() string {
	return "STANDARDS_GROUNDING_NOTICE\n\n" +
		"No grounded standards clauses were retrieved for this request. " +
		"Continue with document-only analysis and explicitly state that standards grounding was unavailable for this run."
}
