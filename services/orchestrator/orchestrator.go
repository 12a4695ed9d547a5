// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core compliance orchestrator service.
//
// This package contains the main Service type that wires together all
// components: HTTP routing, the remote agent runtime client, standards
// retrieval over Weaviate, prompt assembly, and observability
// infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/agent"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/handlers"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/middleware"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/observability"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/prompts"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/retrieval"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/routes"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/routing"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Limitations
//
//   - No graceful shutdown method yet (planned for future)
//   - Run() blocks until server error
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables or programmatically
// for testing. Zero values use the defaults applied by New().
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Full configuration
//	cfg := Config{
//	    Port:            12210,
//	    WeaviateURL:     "http://localhost:8080",
//	    AgentRuntimeURL: "http://agent-runtime:8090",
//	    DefaultAgent:    "comply-default",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// WeaviateURL is the standards corpus Weaviate URL.
	// If empty, retrieval runs in document-only mode.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// StandardsClassName is the Weaviate class holding standards clauses.
	// Default: "StandardsClause"
	StandardsClassName string

	// AgentRuntimeURL is the base URL of the remote agent runtime.
	AgentRuntimeURL string

	// AgentRuntimeAPIKey authenticates requests to the agent runtime.
	// Optional when the runtime sits on a trusted network.
	AgentRuntimeAPIKey string

	// APIToken, when set, requires clients to present it as a bearer
	// token on /v1 routes. Empty disables client authentication.
	APIToken string

	// DefaultAgent is the agent reference used when routing finds no
	// document-type signal. Default: "comply-default"
	DefaultAgent string

	// AirAgent, EirAgent, and BepAgent are the specialist agent
	// references per document type. Empty falls back to DefaultAgent.
	AirAgent string
	EirAgent string
	BepAgent string

	// PolicyRunID tags evaluation runs in the policy prompt.
	// Empty generates a fresh run id per turn.
	PolicyRunID string

	// StarterPrompts is a "||"-separated list of suggested prompts
	// surfaced by the agent info endpoint.
	StarterPrompts string

	// RequirementsFirstEnabled turns on requirement-inventory grounding
	// by default. Callers can still override per request.
	RequirementsFirstEnabled bool

	// RequirementsFirstMax caps the requirement inventory per standard.
	// Default: 500
	RequirementsFirstMax int

	// RequirementsFirstPage is the inventory scan page size.
	// Default: 100
	RequirementsFirstPage int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// If empty, tracing is disabled.
	OTelEndpoint string

	// DisableMetrics turns off Prometheus metric registration. Metrics are
	// on by default.
	DisableMetrics bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - Agent runtime client for streamed turns
//   - Standards retrieval over Weaviate
//   - Prompt assembly for grounded evaluation
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	agentClient    agent.Client
	retriever      *retrieval.Service
	weaviateClient *weaviate.Client
	compliance     *services.ComplianceStreamService
	tracerCleanup  func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (when an endpoint is configured)
//  3. Initializes Prometheus metrics
//  4. Creates the Weaviate client and retrieval service
//  5. Creates the agent runtime client
//  6. Assembles the compliance stream service
//  7. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Limitations
//
//   - Weaviate connection is optional; without it the service serves
//     document-only turns and reports standards retrieval as disabled
//
// # Assumptions
//
//   - The agent runtime is reachable at the configured URL
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if s.config.AgentRuntimeURL == "" {
		return nil, fmt.Errorf("AgentRuntimeURL is required")
	}

	// Initialize OpenTelemetry tracer (optional)
	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	} else {
		slog.Info("OTLP endpoint not configured, tracing disabled")
	}

	// Initialize Prometheus metrics
	if !s.config.DisableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	// Initialize Weaviate client (optional)
	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, standards retrieval disabled",
			"error", err)
		// Not fatal - continue in document-only mode
	}

	s.retriever = retrieval.NewService(retrieval.Config{
		Client:    s.weaviateClient,
		ClassName: s.config.StandardsClassName,
	})

	// Initialize agent runtime client
	agentClient, err := agent.NewHTTPClient(s.config.AgentRuntimeURL, s.config.AgentRuntimeAPIKey)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create agent runtime client: %w", err)
	}
	s.agentClient = agentClient

	// Assemble the compliance stream service
	s.compliance = services.NewComplianceStreamService(services.ComplianceStreamConfig{
		Agents:                   s.agentClient,
		Retriever:                s.retriever,
		Prompts:                  prompts.NewBuilder(prompts.Defaults{RunID: s.config.PolicyRunID}),
		AgentTable:               s.agentTable(),
		RequirementsFirstEnabled: s.config.RequirementsFirstEnabled,
		RequirementsFirstMax:     s.config.RequirementsFirstMax,
		RequirementsFirstPage:    s.config.RequirementsFirstPage,
	})

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = "comply-default"
	}
	if cfg.RequirementsFirstMax <= 0 {
		cfg.RequirementsFirstMax = 500
	}
	if cfg.RequirementsFirstPage <= 0 {
		cfg.RequirementsFirstPage = 100
	}
	return cfg
}

// agentTable builds the routing table from the configured agent names.
func (s *service) agentTable() routing.AgentTable {
	return routing.AgentTable{
		Default: s.config.DefaultAgent,
		Air:     s.config.AirAgent,
		Eir:     s.config.EirAgent,
		Bep:     s.config.BepAgent,
	}
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to send spans to the configured
// collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at the configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("comply-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate initializes the Weaviate standards corpus client.
//
// # Description
//
// Creates a Weaviate client if WeaviateURL is configured and validates
// the URL format.
//
// # Outputs
//
//   - error: Non-nil if Weaviate initialization fails
//
// # Limitations
//
//   - Returns nil error if WeaviateURL is empty (optional dependency)
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, standards retrieval disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// tokenValidator selects the client auth strategy from configuration.
func (s *service) tokenValidator() middleware.TokenValidator {
	if s.config.APIToken != "" {
		return &middleware.StaticTokenValidator{Token: s.config.APIToken}
	}
	return middleware.NopTokenValidator{}
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Assumptions
//
//   - All dependencies (agent client, retriever, compliance service)
//     are initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("comply-orchestrator"))

	routes.SetupRoutes(s.router, routes.Handlers{
		ChatStream: handlers.NewChatStreamHandler(s.compliance),
		Standards:  handlers.NewStandardsHandler(s.retriever),
		AgentInfo:  handlers.NewAgentInfoHandler(s.agentTable(), s.config.StarterPrompts),
	}, s.tokenValidator())
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Shuts down the
// tracer and any other cleanup tasks.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
