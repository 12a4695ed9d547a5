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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/observability"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/routing"
)

// starterPromptSeparator splits the configured starter prompt list.
// "||" keeps commas usable inside individual prompts.
const starterPromptSeparator = "||"

// AgentInfoHandler serves the agent discovery endpoint.
//
// Clients use it to show which agents handle which document routes and to
// seed the conversation UI with starter prompts.
type AgentInfoHandler struct {
	agentTable     routing.AgentTable
	starterPrompts []string
}

// NewAgentInfoHandler creates the agent discovery handler.
//
// # Inputs
//
//   - agentTable: Per-route agent names.
//   - starterPromptConfig: Raw starter prompt list, entries separated by
//     "||". Blank entries are dropped.
func NewAgentInfoHandler(agentTable routing.AgentTable, starterPromptConfig string) *AgentInfoHandler {
	return &AgentInfoHandler{
		agentTable:     agentTable,
		starterPrompts: splitStarterPrompts(starterPromptConfig),
	}
}

// HandleGetAgentInfo handles GET /v1/agent.
func (h *AgentInfoHandler) HandleGetAgentInfo(c *gin.Context) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(observability.EndpointAgentInfo, true)
	}

	c.JSON(http.StatusOK, gin.H{
		"defaultAgent": h.agentTable.Default,
		"routes": gin.H{
			string(routing.RouteAir): h.agentTable.AgentNameFor(routing.RouteAir),
			string(routing.RouteEir): h.agentTable.AgentNameFor(routing.RouteEir),
			string(routing.RouteBep): h.agentTable.AgentNameFor(routing.RouteBep),
		},
		"starterPrompts": h.starterPrompts,
	})
}

// splitStarterPrompts parses the configured prompt list.
func splitStarterPrompts(raw string) []string {
	prompts := []string{}
	for _, p := range strings.Split(raw, starterPromptSeparator) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			prompts = append(prompts, trimmed)
		}
	}
	return prompts
}
