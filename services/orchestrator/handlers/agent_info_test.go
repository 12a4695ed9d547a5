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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/routing"
)

func performGetAgentInfo(t *testing.T, table routing.AgentTable, prompts string) *httptest.ResponseRecorder {
	t.Helper()

	router := gin.New()
	router.GET("/v1/agent", NewAgentInfoHandler(table, prompts).HandleGetAgentInfo)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/v1/agent", nil))
	return recorder
}

func TestHandleGetAgentInfo(t *testing.T) {
	table := routing.AgentTable{
		Default: "comply-default",
		Air:     "comply-air",
		Eir:     "comply-eir",
		Bep:     "comply-bep",
	}
	recorder := performGetAgentInfo(t, table,
		"Evaluate my AIR against ISO 19650 || Compare my BEP with the EIR")

	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		DefaultAgent   string            `json:"defaultAgent"`
		Routes         map[string]string `json:"routes"`
		StarterPrompts []string          `json:"starterPrompts"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	assert.Equal(t, "comply-default", body.DefaultAgent)
	assert.Equal(t, "comply-air", body.Routes["air"])
	assert.Equal(t, "comply-eir", body.Routes["eir"])
	assert.Equal(t, "comply-bep", body.Routes["bep"])
	assert.Equal(t, []string{
		"Evaluate my AIR against ISO 19650",
		"Compare my BEP with the EIR",
	}, body.StarterPrompts)
}

func TestHandleGetAgentInfo_MissingSpecialistsFallBack(t *testing.T) {
	recorder := performGetAgentInfo(t, routing.AgentTable{Default: "comply-default"}, "")

	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Routes         map[string]string `json:"routes"`
		StarterPrompts []string          `json:"starterPrompts"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	assert.Equal(t, "comply-default", body.Routes["air"])
	assert.Empty(t, body.StarterPrompts)
}

func TestSplitStarterPrompts(t *testing.T) {
	assert.Empty(t, splitStarterPrompts(""))
	assert.Equal(t, []string{"one"}, splitStarterPrompts("  one  "))
	assert.Equal(t, []string{"a", "b"}, splitStarterPrompts("a|| ||b"))
}
