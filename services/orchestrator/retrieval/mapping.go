// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// rowToClause maps a corpus row to a grounded clause. requestedID is used
// when the row carries no standard identifier of its own.
func rowToClause(row datatypes.StandardsClauseResult, requestedID string) datatypes.GroundedClause {
	standardID := row.StandardNumber
	if standardID == "" {
		standardID = row.StandardID
	}
	if standardID == "" {
		standardID = requestedID
	}
	return datatypes.GroundedClause{
		StandardID: standardID,
		Version:    row.Version,
		ClauseRef:  buildClauseRef(row),
		SourceDoc:  sourceDocName(row),
		Text:       clauseText(row),
	}
}

// clauseText picks the clause text: the ranked snippet first, then the full
// chunk content, then a metadata summary as a last resort.
func clauseText(row datatypes.StandardsClauseResult) string {
	if s := strings.TrimSpace(row.Snippet); s != "" {
		return s
	}
	if c := strings.TrimSpace(row.Content); c != "" {
		return c
	}
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(row.Title); t != "" {
		parts = append(parts, t)
	}
	if d := strings.TrimSpace(row.PublicationDate); d != "" {
		parts = append(parts, "Publication date: "+d)
	}
	if o := strings.TrimSpace(row.IssuingOrg); o != "" {
		parts = append(parts, "Issuing organization: "+o)
	}
	return strings.Join(parts, ". ")
}

// buildClauseRef joins section, paragraph, and page into a human-readable
// clause reference ("4.2 / 4.2.1 / p.17"). Empty when the row has none.
func buildClauseRef(row datatypes.StandardsClauseResult) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(row.SectionID); s != "" {
		parts = append(parts, s)
	}
	if p := strings.TrimSpace(row.ParagraphID); p != "" {
		parts = append(parts, p)
	}
	if row.Page != nil {
		parts = append(parts, fmt.Sprintf("p.%d", *row.Page))
	}
	return strings.Join(parts, " / ")
}

// sourceDocName resolves the originating document name with a fallback chain
// of blob name, source title, clause title, standard id.
func sourceDocName(row datatypes.StandardsClauseResult) string {
	for _, candidate := range []string{row.BlobName, row.SourceTitle, row.Title, row.StandardNumber, row.StandardID} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	return ""
}

// requirementClauseRef builds a clause reference for requirement inventory
// rows, with extra fallbacks so every requirement is locatable: the joined
// reference, then paragraph, section, page, and finally the trailing segment
// of the row uid.
func requirementClauseRef(row datatypes.StandardsClauseResult) string {
	if ref := buildClauseRef(row); ref != "" {
		return ref
	}
	if p := strings.TrimSpace(row.ParagraphID); p != "" {
		return p
	}
	if s := strings.TrimSpace(row.SectionID); s != "" {
		return s
	}
	if row.Page != nil {
		return fmt.Sprintf("p.%d", *row.Page)
	}
	if uid := strings.TrimSpace(row.UID); uid != "" {
		if i := strings.LastIndex(uid, "-"); i >= 0 && i+1 < len(uid) {
			return uid[i+1:]
		}
		return uid
	}
	return ""
}

// requirementID assigns a stable identifier to an inventory row: the corpus
// uid when present, otherwise a synthesized "standard/clause/NNNN" id using
// the row's running sequence number.
func requirementID(row datatypes.StandardsClauseResult, standardID string, sequence int) string {
	if uid := strings.TrimSpace(row.UID); uid != "" {
		return uid
	}
	ref := requirementClauseRef(row)
	if ref == "" {
		ref = "clause"
	}
	return strings.Join([]string{standardID, ref, fmt.Sprintf("%04d", sequence)}, "/")
}
