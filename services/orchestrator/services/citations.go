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
	"strings"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/agent"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// ExtractAnnotations converts a message item's raw annotations into wire
// annotations.
//
// # Description
//
// Each raw annotation type maps onto a labeled citation: uri citations use
// the page title, file citations the filename (with the quoted passage
// looked up from the file-search quote table), file paths a fixed
// "Generated File" label, and container file citations the container
// filename. Unknown annotation types are skipped.
//
// # Inputs
//
//   - item: The completed output item. Non-message items yield nothing.
//   - fileSearchQuotes: file id -> quoted text collected from earlier
//     file-search items. May be nil.
//
// # Outputs
//
//   - []datatypes.Annotation: Converted annotations, possibly empty.
func ExtractAnnotations(item *agent.OutputItem,
	fileSearchQuotes map[string]string) []datatypes.Annotation {

	if item == nil || item.Type != agent.ItemTypeMessage {
		return nil
	}

	annotations := make([]datatypes.Annotation, 0, len(item.Annotations))
	for _, raw := range item.Annotations {
		switch raw.Type {
		case agent.AnnotationURICitation:
			label := raw.Title
			if label == "" {
				label = "Source"
			}
			annotations = append(annotations, datatypes.Annotation{
				Type:       raw.Type,
				Label:      label,
				URI:        raw.URI,
				StartIndex: raw.StartIndex,
				EndIndex:   raw.EndIndex,
			})

		case agent.AnnotationFileCitation:
			label := raw.Filename
			if label == "" {
				label = raw.FileID
			}
			if label == "" {
				label = "File"
			}
			annotations = append(annotations, datatypes.Annotation{
				Type:       raw.Type,
				Label:      label,
				FileID:     raw.FileID,
				Quote:      fileSearchQuotes[raw.FileID],
				StartIndex: raw.StartIndex,
				EndIndex:   raw.EndIndex,
			})

		case agent.AnnotationFilePath:
			annotations = append(annotations, datatypes.Annotation{
				Type:       raw.Type,
				Label:      "Generated File",
				FileID:     raw.FileID,
				StartIndex: raw.StartIndex,
				EndIndex:   raw.EndIndex,
			})

		case agent.AnnotationContainerFileCitation:
			label := raw.Filename
			if label == "" {
				label = "Container File"
			}
			annotations = append(annotations, datatypes.Annotation{
				Type:       raw.Type,
				Label:      label,
				FileID:     raw.FileID,
				Quote:      fileSearchQuotes[raw.FileID],
				StartIndex: raw.StartIndex,
				EndIndex:   raw.EndIndex,
			})
		}
	}
	return annotations
}

// BuildFallbackAnnotations synthesizes citations from the retrieved clauses
// for turns where the runtime streamed none.
//
// # Description
//
// One file citation per distinct clause: the label is the standard id plus
// clause reference, suffixed with the source document when known, and the
// quote is the clause text. Duplicates are dropped on a case-insensitive
// "label|quote" key so repeated clauses collapse to one citation.
//
// # Outputs
//
//   - []datatypes.Annotation: One annotation per distinct (label, quote)
//     pair, in clause order. Empty input yields an empty slice.
func BuildFallbackAnnotations(clauses []datatypes.GroundedClause) []datatypes.Annotation {
	if len(clauses) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(clauses))
	annotations := make([]datatypes.Annotation, 0, len(clauses))

	for _, clause := range clauses {
		baseLabel := clause.StandardID
		if strings.TrimSpace(clause.ClauseRef) != "" {
			baseLabel = clause.StandardID + " " + clause.ClauseRef
		}
		label := baseLabel
		if strings.TrimSpace(clause.SourceDoc) != "" {
			label = baseLabel + " • " + clause.SourceDoc
		}

		key := strings.ToLower(label + "|" + clause.Text)
		if seen[key] {
			continue
		}
		seen[key] = true

		annotations = append(annotations, datatypes.Annotation{
			Type:  "file_citation",
			Label: label,
			Quote: clause.Text,
		})
	}
	return annotations
}
