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
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// clauseFields is the field set fetched for every clause query.
var clauseFields = []graphql.Field{
	{Name: "standardId"},
	{Name: "standardNumber"},
	{Name: "title"},
	{Name: "version"},
	{Name: "jurisdiction"},
	{Name: "chunkType"},
	{Name: "sectionId"},
	{Name: "paragraphId"},
	{Name: "page"},
	{Name: "snippet"},
	{Name: "content"},
	{Name: "blobName"},
	{Name: "sourceTitle"},
	{Name: "uid"},
	{Name: "publicationDate"},
	{Name: "issuingOrg"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
	}},
}

// weaviateClauseQuerier runs clause queries through the Weaviate GraphQL API.
type weaviateClauseQuerier struct {
	client    *weaviate.Client
	className string
}

var _ ClauseQuerier = (*weaviateClauseQuerier)(nil)

// QueryClauses executes one Get query against the clause class.
func (w *weaviateClauseQuerier) QueryClauses(ctx context.Context,
	q ClauseQuery) ([]datatypes.StandardsClauseResult, error) {

	builder := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(clauseFields...).
		WithLimit(q.Limit)
	if q.Offset > 0 {
		builder = builder.WithOffset(q.Offset)
	}
	if where := buildWhere(q.StandardID, q.ChunkType); where != nil {
		builder = builder.WithWhere(where)
	}
	if text := strings.TrimSpace(q.Query); text != "" {
		bm25 := w.client.GraphQL().Bm25ArgBuilder().WithQuery(text)
		builder = builder.WithBM25(bm25)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate GraphQL error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[standardsClauseResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clause response: %w", err)
	}
	return parsed.Get.StandardsClause, nil
}

// buildWhere assembles the where clause for the requested filters, or nil
// when the query is unfiltered.
func buildWhere(standardID, chunkType string) *filters.WhereBuilder {
	switch {
	case standardID != "" && chunkType != "":
		return filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				standardFilter(standardID),
				chunkTypeFilter(chunkType),
			})
	case standardID != "":
		return standardFilter(standardID)
	case chunkType != "":
		return chunkTypeFilter(chunkType)
	default:
		return nil
	}
}

// standardFilter matches rows whose standardNumber or standardId equals the
// requested standard.
func standardFilter(standardID string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"standardNumber"}).
				WithOperator(filters.Equal).
				WithValueString(standardID),
			filters.Where().
				WithPath([]string{"standardId"}).
				WithOperator(filters.Equal).
				WithValueString(standardID),
		})
}

func chunkTypeFilter(chunkType string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"chunkType"}).
		WithOperator(filters.Equal).
		WithValueString(chunkType)
}

// standardsClauseResponse aliases the shared response shape so parsing stays
// local to this package.
type standardsClauseResponse = datatypes.StandardsClauseQueryResponse
