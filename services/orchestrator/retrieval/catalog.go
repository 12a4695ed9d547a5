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
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// Catalog lists the distinct standards present in the corpus.
//
// # Description
//
// Scans up to catalogScanLimit rows, dedupes by standard number
// (case-insensitive), and returns the catalog sorted ascending by standard
// id. An empty catalog is not an error here; the orchestrator decides
// whether that is fatal for the turn.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//
// # Outputs
//
//   - []datatypes.StandardCatalogItem: Distinct standards, sorted by id.
//   - error: Non-nil on backend failure or when the service is unconfigured.
func (s *Service) Catalog(ctx context.Context) ([]datatypes.StandardCatalogItem, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Catalog")
	defer span.End()

	if !s.IsConfigured() {
		err := fmt.Errorf("standards catalog: %s", s.DisabledReason())
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval unconfigured")
		return nil, err
	}

	rows, err := s.querier.QueryClauses(ctx, ClauseQuery{Limit: catalogScanLimit})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog scan failed")
		return nil, fmt.Errorf("standards catalog scan: %w", err)
	}

	items := DedupeCatalog(rows)
	span.SetAttributes(
		attribute.Int("catalog.rows", len(rows)),
		attribute.Int("catalog.standards", len(items)),
	)
	return items, nil
}

// DedupeCatalog reduces clause rows to distinct catalog entries.
//
// Rows with neither a standard number nor a standard id are skipped. The
// first row seen for a number wins; later rows only fill in blank title,
// version, or jurisdiction fields.
func DedupeCatalog(rows []datatypes.StandardsClauseResult) []datatypes.StandardCatalogItem {
	seen := make(map[string]int)
	items := make([]datatypes.StandardCatalogItem, 0, len(rows))

	for _, row := range rows {
		number := strings.TrimSpace(row.StandardNumber)
		if number == "" {
			number = strings.TrimSpace(row.StandardID)
		}
		if number == "" {
			continue
		}
		key := strings.ToLower(number)
		if idx, ok := seen[key]; ok {
			if items[idx].Title == "" {
				items[idx].Title = strings.TrimSpace(row.Title)
			}
			if items[idx].Version == "" {
				items[idx].Version = strings.TrimSpace(row.Version)
			}
			if items[idx].Jurisdiction == "" {
				items[idx].Jurisdiction = strings.TrimSpace(row.Jurisdiction)
			}
			continue
		}
		seen[key] = len(items)
		items = append(items, datatypes.StandardCatalogItem{
			StandardID:   number,
			Title:        strings.TrimSpace(row.Title),
			Version:      strings.TrimSpace(row.Version),
			Jurisdiction: strings.TrimSpace(row.Jurisdiction),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].StandardID < items[j].StandardID
	})
	return items
}
