// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the compliance orchestrator HTTP server.
//
// This is the main entry point for the containerized orchestrator service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 12210)
//   - WEAVIATE_URL: Standards corpus Weaviate URL (optional)
//   - STANDARDS_CLASS_NAME: Weaviate class for standards clauses (default: StandardsClause)
//   - AGENT_RUNTIME_URL: Base URL of the remote agent runtime (required)
//   - AGENT_RUNTIME_API_KEY: API key for the agent runtime (optional)
//   - API_TOKEN: Bearer token required on /v1 routes (optional)
//   - DEFAULT_AGENT: Fallback agent reference (default: comply-default)
//   - AIR_AGENT, EIR_AGENT, BEP_AGENT: Specialist agent references (optional)
//   - POLICY_RUN_ID: Run id stamped on evaluation policies (optional)
//   - AGENT_STARTER_PROMPTS: "||"-separated starter prompt list (optional)
//   - REQUIREMENTS_FIRST: "true" enables requirements-first grounding by default
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/ArdenComply/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:                     getEnvInt("PORT", 12210),
		WeaviateURL:              os.Getenv("WEAVIATE_URL"),
		StandardsClassName:       os.Getenv("STANDARDS_CLASS_NAME"),
		AgentRuntimeURL:          os.Getenv("AGENT_RUNTIME_URL"),
		AgentRuntimeAPIKey:       os.Getenv("AGENT_RUNTIME_API_KEY"),
		APIToken:                 os.Getenv("API_TOKEN"),
		DefaultAgent:             getEnvString("DEFAULT_AGENT", "comply-default"),
		AirAgent:                 os.Getenv("AIR_AGENT"),
		EirAgent:                 os.Getenv("EIR_AGENT"),
		BepAgent:                 os.Getenv("BEP_AGENT"),
		PolicyRunID:              os.Getenv("POLICY_RUN_ID"),
		StarterPrompts:           os.Getenv("AGENT_STARTER_PROMPTS"),
		RequirementsFirstEnabled: os.Getenv("REQUIREMENTS_FIRST") == "true",
		OTelEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"weaviate_url", cfg.WeaviateURL,
		"agent_runtime_url", cfg.AgentRuntimeURL,
		"default_agent", cfg.DefaultAgent,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
