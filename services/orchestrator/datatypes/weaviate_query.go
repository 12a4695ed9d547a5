// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("StandardsClause").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[StandardsClauseQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, c := range parsed.Get.StandardsClause {
//	    fmt.Println(c.StandardID)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// StandardsClause Response Types
// =============================================================================

// StandardsClauseQueryResponse is the response shape for queries against the
// StandardsClause class.
type StandardsClauseQueryResponse struct {
	Get struct {
		StandardsClause []StandardsClauseResult `json:"StandardsClause"`
	} `json:"Get"`
}

// StandardsClauseResult is a single clause row from the corpus.
//
// # Fields
//
// Snippet holds the ranked excerpt when the index produced one; Content is
// the full chunk text. Either may be empty, in which case the title plus
// publication metadata stands in for the clause text.
type StandardsClauseResult struct {
	StandardID      string `json:"standardId"`
	StandardNumber  string `json:"standardNumber"`
	Title           string `json:"title"`
	Version         string `json:"version"`
	Jurisdiction    string `json:"jurisdiction"`
	ChunkType       string `json:"chunkType"`
	SectionID       string `json:"sectionId"`
	ParagraphID     string `json:"paragraphId"`
	Page            *int   `json:"page"`
	Snippet         string `json:"snippet"`
	Content         string `json:"content"`
	BlobName        string `json:"blobName"`
	SourceTitle     string `json:"sourceTitle"`
	UID             string `json:"uid"`
	PublicationDate string `json:"publicationDate"`
	IssuingOrg      string `json:"issuingOrg"`
	Additional      struct {
		ID string `json:"id"`
	} `json:"_additional"`
}
