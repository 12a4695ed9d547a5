// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/observability"
)

// StandardsCatalog lists the standards discoverable in the corpus.
// Implemented by the retrieval service.
type StandardsCatalog interface {
	IsConfigured() bool
	DisabledReason() string
	Catalog(ctx context.Context) ([]datatypes.StandardCatalogItem, error)
}

// StandardsHandler serves the standards discovery endpoint.
type StandardsHandler struct {
	catalog StandardsCatalog
	tracer  trace.Tracer
}

// NewStandardsHandler creates the standards handler.
//
// Panics if catalog is nil.
func NewStandardsHandler(catalog StandardsCatalog) *StandardsHandler {
	if catalog == nil {
		panic("NewStandardsHandler: catalog is required")
	}
	return &StandardsHandler{
		catalog: catalog,
		tracer:  otel.Tracer("comply.orchestrator.handlers"),
	}
}

// HandleListStandards handles GET /v1/standards.
//
// # Description
//
// Returns the deduplicated corpus catalog so clients can offer a standard
// picker. Responds 503 with the disabled reason when no retrieval backend
// is configured; an empty catalog is a successful empty list, letting the
// client distinguish "nothing indexed" from "not wired up".
func (h *StandardsHandler) HandleListStandards(c *gin.Context) {
	endpoint := observability.EndpointStandardsCatalog

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleListStandards")
	defer span.End()

	if !h.catalog.IsConfigured() {
		span.SetStatus(codes.Error, "retrieval not configured")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeConfiguration)
			m.RecordRequest(endpoint, false)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": h.catalog.DisabledReason(),
		})
		return
	}

	items, err := h.catalog.Catalog(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup failed")
		slog.Error("Standards catalog lookup failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeUpstream)
			m.RecordRequest(endpoint, false)
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "failed to list standards",
		})
		return
	}

	span.SetAttributes(attribute.Int("standards.count", len(items)))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}

	if items == nil {
		items = []datatypes.StandardCatalogItem{}
	}
	c.JSON(http.StatusOK, gin.H{"standards": items})
}
