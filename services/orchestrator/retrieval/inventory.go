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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

const (
	// DefaultInventoryMax caps the requirements enumerated per standard.
	DefaultInventoryMax = 500

	// DefaultInventoryPageSize is the offset-pagination batch size.
	DefaultInventoryPageSize = 100
)

// RequirementInventory exhaustively enumerates corpus requirements for the
// given standards.
//
// # Description
//
// Unlike RetrieveClauses this does no similarity ranking: every matching row
// is paged out of the corpus in offset batches until the standard is
// exhausted or maxPerStandard is reached. Used by requirements-first
// evaluation, where the agent must consider the complete requirement set.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - standards: Standards to enumerate. Must be non-empty.
//   - maxPerStandard: Per-standard cap. <=0 means DefaultInventoryMax.
//   - pageSize: Batch size. <=0 means DefaultInventoryPageSize.
//   - chunkType: Chunk granularity. "" means the service default.
//
// # Outputs
//
//   - []datatypes.RequirementItem: Enumerated requirements in corpus order.
//   - error: Non-nil on backend failure or when the service is unconfigured.
func (s *Service) RequirementInventory(ctx context.Context,
	standards []datatypes.StandardSelection, maxPerStandard, pageSize int,
	chunkType string) ([]datatypes.RequirementItem, error) {

	ctx, span := tracer.Start(ctx, "retrieval.RequirementInventory")
	defer span.End()

	if !s.IsConfigured() {
		err := fmt.Errorf("requirement inventory: %s", s.DisabledReason())
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval unconfigured")
		return nil, err
	}

	if maxPerStandard <= 0 {
		maxPerStandard = DefaultInventoryMax
	}
	if pageSize <= 0 {
		pageSize = DefaultInventoryPageSize
	}
	if pageSize > maxPerStandard {
		pageSize = maxPerStandard
	}
	if chunkType == "" {
		chunkType = s.chunkType
	}
	span.SetAttributes(
		attribute.Int("inventory.max_per_standard", maxPerStandard),
		attribute.Int("inventory.page_size", pageSize),
		attribute.String("inventory.chunk_type", chunkType),
	)

	var items []datatypes.RequirementItem
	for _, std := range standards {
		collected, err := s.inventoryForStandard(ctx, std.StandardID, chunkType, maxPerStandard, pageSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inventory query failed")
			return nil, fmt.Errorf("requirement inventory for %q: %w", std.StandardID, err)
		}
		if len(collected) == 0 {
			slog.Warn("No requirements found for standard",
				"standard_id", std.StandardID, "chunk_type", chunkType)
		}
		items = append(items, collected...)
	}

	span.SetAttributes(attribute.Int("inventory.items", len(items)))
	return items, nil
}

// inventoryForStandard pages through one standard's rows with the tight
// (standard AND chunk type) filter, advancing an offset until the corpus is
// exhausted or the cap is hit.
func (s *Service) inventoryForStandard(ctx context.Context, standardID,
	chunkType string, maxPerStandard, pageSize int) ([]datatypes.RequirementItem, error) {

	var items []datatypes.RequirementItem
	skip := 0
	for len(items) < maxPerStandard {
		limit := pageSize
		if remaining := maxPerStandard - len(items); remaining < limit {
			limit = remaining
		}
		rows, err := s.querier.QueryClauses(ctx, ClauseQuery{
			StandardID: standardID,
			ChunkType:  chunkType,
			Limit:      limit,
			Offset:     skip,
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			sequence := len(items) + 1
			items = append(items, datatypes.RequirementItem{
				RequirementID: requirementID(row, standardID, sequence),
				StandardID:    standardID,
				ClauseRef:     requirementClauseRef(row),
				SourceDoc:     sourceDocName(row),
				Text:          clauseText(row),
			})
		}
		skip += len(rows)
	}
	return items, nil
}
