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
	"context"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// ClauseQuery describes one page of a Get query against the clause class.
//
// # Fields
//
//   - Query: BM25 ranking text. Blank means unranked.
//   - StandardID: Standard filter value (matched against standardNumber or
//     standardId). "" means no standard filter.
//   - ChunkType: Chunk granularity filter. "" means no chunk type filter.
//   - Limit: Maximum rows to return.
//   - Offset: Rows to skip, for offset pagination.
type ClauseQuery struct {
	Query      string
	StandardID string
	ChunkType  string
	Limit      int
	Offset     int
}

// ClauseQuerier executes clause queries against the standards corpus.
//
// # Description
//
// ClauseQuerier is the seam between the retrieval logic (cascade tiers,
// catalog scan, inventory pagination) and the Weaviate backend. The
// production implementation translates a ClauseQuery into a GraphQL Get
// call; tests substitute a canned implementation.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ClauseQuerier interface {
	// QueryClauses runs one query and returns the matching rows in corpus
	// order. An empty slice with a nil error means no matches.
	QueryClauses(ctx context.Context, q ClauseQuery) ([]datatypes.StandardsClauseResult, error)
}
