// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires handlers onto the HTTP router.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/handlers"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/middleware"
)

// Handlers bundles the endpoint handlers registered by SetupRoutes.
type Handlers struct {
	ChatStream *handlers.ChatStreamHandler
	Standards  *handlers.StandardsHandler
	AgentInfo  *handlers.AgentInfoHandler
}

// SetupRoutes registers all HTTP routes.
//
// /health and /metrics are unauthenticated; everything under /v1 goes
// through the bearer auth middleware.
func SetupRoutes(router *gin.Engine, h Handlers, validator middleware.TokenValidator) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(validator))
	{
		v1.POST("/chat/stream", h.ChatStream.HandleChatStream)
		v1.GET("/standards", h.Standards.HandleListStandards)
		v1.GET("/agent", h.AgentInfo.HandleGetAgentInfo)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
