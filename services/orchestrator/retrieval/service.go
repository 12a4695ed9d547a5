// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval fetches standards clauses from the Weaviate corpus.
//
// Retrieval degrades gracefully: each standard is queried with the tightest
// filter first (standard plus chunk type), then standard only, then
// unfiltered, stopping at the first tier that returns rows. The package also
// exposes the corpus catalog and an exhaustive requirement inventory used by
// requirements-first evaluation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/observability"
)

var tracer = otel.Tracer("comply.orchestrator.retrieval")

const (
	// DefaultTopK is the clause budget per standard when the caller does not
	// tune retrieval.
	DefaultTopK = 6

	// DefaultChunkType is the corpus chunk granularity queried by default.
	DefaultChunkType = "paragraph"

	// catalogScanLimit bounds the catalog scan.
	catalogScanLimit = 1000
)

// Config configures the standards retrieval service.
//
// # Fields
//
//   - Client: Weaviate client. Nil leaves retrieval disabled; the service
//     then reports a DisabledReason instead of failing at query time.
//   - ClassName: Corpus class name. Defaults to "StandardsClause".
//   - DefaultTopK: Per-standard clause budget. Defaults to DefaultTopK.
//   - DefaultChunkType: Chunk granularity. Defaults to DefaultChunkType.
type Config struct {
	Client           *weaviate.Client
	ClassName        string
	DefaultTopK      int
	DefaultChunkType string
}

// Service retrieves standards clauses from the corpus.
//
// # Thread Safety
//
// Service is safe for concurrent use. The underlying querier handles
// connection pooling.
type Service struct {
	querier   ClauseQuerier
	topK      int
	chunkType string
}

// NewService creates a retrieval service from the given config, applying
// defaults for unset fields.
func NewService(cfg Config) *Service {
	if cfg.ClassName == "" {
		cfg.ClassName = "StandardsClause"
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.DefaultChunkType == "" {
		cfg.DefaultChunkType = DefaultChunkType
	}
	var querier ClauseQuerier
	if cfg.Client != nil {
		querier = &weaviateClauseQuerier{client: cfg.Client, className: cfg.ClassName}
	}
	return &Service{
		querier:   querier,
		topK:      cfg.DefaultTopK,
		chunkType: cfg.DefaultChunkType,
	}
}

// IsConfigured reports whether a corpus backend is available.
func (s *Service) IsConfigured() bool {
	return s != nil && s.querier != nil
}

// DisabledReason explains why retrieval is unavailable, or returns "" when
// it is configured.
func (s *Service) DisabledReason() string {
	if s.IsConfigured() {
		return ""
	}
	return "standards retrieval backend is not configured (set WEAVIATE_URL)"
}

// DefaultChunkTypeName returns the chunk granularity the service queries
// when the caller does not override it.
func (s *Service) DefaultChunkTypeName() string {
	return s.chunkType
}

// RetrieveClauses runs the degrading retrieval cascade for each standard.
//
// # Description
//
// For every selected standard three tiers are tried in order, stopping at
// the first tier with results:
//
//  1. standard filter (standardNumber or standardId) AND chunk type filter
//  2. standard filter only
//  3. unfiltered, limited to the clause budget
//
// A non-blank query adds BM25 ranking to every tier; a blank query matches
// the corpus unranked.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: Ranking text, typically the user message. May be blank.
//   - standards: Standards to ground against. Must be non-empty.
//   - opts: Optional per-turn tuning (top-k, chunk type).
//
// # Outputs
//
//   - []datatypes.GroundedClause: Retrieved clauses in standard order. May
//     be empty when the corpus has nothing relevant.
//   - error: Non-nil on backend failure or when the service is unconfigured.
func (s *Service) RetrieveClauses(ctx context.Context, query string,
	standards []datatypes.StandardSelection, opts *datatypes.RetrievalOptions) ([]datatypes.GroundedClause, error) {

	ctx, span := tracer.Start(ctx, "retrieval.RetrieveClauses")
	defer span.End()

	if !s.IsConfigured() {
		err := fmt.Errorf("retrieve clauses: %s", s.DisabledReason())
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval unconfigured")
		return nil, err
	}

	topK := s.topK
	chunkType := s.chunkType
	if opts != nil {
		if opts.TopKClausesPerStandard != nil && *opts.TopKClausesPerStandard > 0 {
			topK = *opts.TopKClausesPerStandard
		}
		if opts.ChunkType != "" {
			chunkType = opts.ChunkType
		}
	}
	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.Int("retrieval.standards", len(standards)),
		attribute.String("retrieval.chunk_type", chunkType),
	)

	var clauses []datatypes.GroundedClause
	for _, std := range standards {
		rows, tier, err := s.cascadeForStandard(ctx, query, std.StandardID, chunkType, topK)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cascade query failed")
			return nil, fmt.Errorf("retrieve clauses for %q: %w", std.StandardID, err)
		}
		if len(rows) == 0 {
			slog.Warn("No clauses retrieved for standard",
				"standard_id", std.StandardID, "chunk_type", chunkType)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRetrievalTier("none")
			}
			continue
		}
		slog.Debug("Clauses retrieved",
			"standard_id", std.StandardID, "tier", tier, "count", len(rows))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRetrievalTier(strconv.Itoa(tier))
		}
		for _, row := range rows {
			clauses = append(clauses, rowToClause(row, std.StandardID))
		}
	}

	span.SetAttributes(attribute.Int("retrieval.clauses", len(clauses)))
	return clauses, nil
}

// cascadeForStandard tries the three filter tiers for one standard and
// returns the first non-empty result set along with the tier index (1-3).
func (s *Service) cascadeForStandard(ctx context.Context, query, standardID,
	chunkType string, topK int) ([]datatypes.StandardsClauseResult, int, error) {

	tiers := []ClauseQuery{
		{Query: query, StandardID: standardID, ChunkType: chunkType, Limit: topK},
		{Query: query, StandardID: standardID, Limit: topK},
		{Query: query, Limit: topK},
	}

	for i, tier := range tiers {
		rows, err := s.querier.QueryClauses(ctx, tier)
		if err != nil {
			return nil, 0, err
		}
		if len(rows) > 0 {
			return rows, i + 1, nil
		}
	}
	return nil, len(tiers), nil
}
