// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform assembles the multi-tenant chat service.
//
// # Description
//
// Platform wires the full request path: config registry, guardrail
// engine, Weaviate-backed retrieval, prompt assembly, LLM providers, the
// Badger conversation store, background title generation, and document
// ingestion. The HTTP surface is Gin with OpenTelemetry middleware and a
// Prometheus metrics endpoint.
//
// # Usage
//
//	svc, err := platform.New(platform.Config{ConfigPath: "platform.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run(ctx))
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianCloud/pkg/secrets"
	"github.com/AleutianAI/AleutianCloud/services/guardrail"
	"github.com/AleutianAI/AleutianCloud/services/ingest"
	"github.com/AleutianAI/AleutianCloud/services/platform/config"
	"github.com/AleutianAI/AleutianCloud/services/platform/handlers"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
	"github.com/AleutianAI/AleutianCloud/services/platform/pipeline"
	"github.com/AleutianAI/AleutianCloud/services/platform/store"
	"github.com/AleutianAI/AleutianCloud/services/prompt"
	"github.com/AleutianAI/AleutianCloud/services/retrieval"
	"github.com/AleutianAI/AleutianCloud/services/titles"

	badger "github.com/dgraph-io/badger/v4"
)

// Config holds service construction options.
type Config struct {
	// ConfigPath is the platform definition file. Required.
	ConfigPath string

	// GinMode overrides the Gin framework mode ("debug", "release",
	// "test"). Empty uses the GIN_MODE environment variable.
	GinMode string

	// WatchConfig enables hot reload of the definition file.
	WatchConfig bool
}

// Service is the assembled chat platform.
type Service struct {
	cfg      Config
	file     *config.File
	registry *config.Registry
	vault    *secrets.Manager

	router *gin.Engine
	server *http.Server

	db           *badger.DB
	titles       *titles.Scheduler
	ingestQueue  *ingest.Queue
	bgCancel     context.CancelFunc
	traceCleanup func(context.Context)
}

// New builds the service from the definition file at cfg.ConfigPath.
func New(cfg Config) (*Service, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s := &Service{cfg: cfg, vault: secrets.NewManager()}

	registry, err := config.NewRegistry(cfg.ConfigPath, s.vault)
	if err != nil {
		return nil, err
	}
	s.registry = registry
	s.file = registry.File()

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	s.traceCleanup = cleanup

	observability.Init()

	weaviateClient, err := s.initWeaviate()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize weaviate: %w", err)
	}

	if err := s.initStore(); err != nil {
		s.Close()
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	convStore := store.NewConversationStore(s.db)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s.bgCancel = bgCancel
	if !s.file.Store.InMemory && s.file.Store.GCInterval > 0 {
		go store.RunGC(bgCtx, s.db, s.file.Store.GCInterval)
	}

	guardrails := guardrail.NewEngine(guardrail.Config{})

	retriever := retrieval.NewEngine(retrieval.Config{
		Searcher: retrieval.NewWeaviateChunkSearcher(weaviateClient),
		Catalog:  registry,
		Embed:    retrieval.ProviderEmbed(),
	})

	titleGen := titles.NewGenerator(convStore, titles.ProviderComplete())
	s.titles = titles.NewScheduler(titleGen, titles.SchedulerConfig{
		Workers: s.file.Titles.Workers,
		Buffer:  s.file.Titles.Buffer,
		Delay:   s.file.Titles.Delay,
	})
	s.titles.Start(bgCtx)

	chatPipeline := pipeline.New(pipeline.Config{
		Guardrails: guardrails,
		Retriever:  retriever,
		Prompts:    prompt.NewAssembler(guardrails),
		Store:      convStore,
		Titles:     s.titles,
	})

	ingestSvc := ingest.NewService(ingest.Config{
		Writer: ingest.NewWeaviateChunkWriter(weaviateClient),
		Embed:  ingest.ProviderEmbed(),
	})
	s.ingestQueue = ingest.NewQueue(ingestSvc, ingest.QueueConfig{})
	s.ingestQueue.Start(bgCtx)

	if cfg.WatchConfig {
		go func() {
			if err := registry.Watch(bgCtx); err != nil && bgCtx.Err() == nil {
				slog.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	s.initRouter(chatPipeline, ingestSvc)
	return s, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// server fails. Shutdown drains in-flight requests up to the configured
// timeout.
func (s *Service) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.file.Server.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting platform server", "addr", s.file.Server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.file.Server.ShutdownTimeout)
		defer cancel()
		slog.Info("Shutting down platform server")
		return s.server.Shutdown(shutdownCtx)
	}
}

// Router exposes the configured engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Close releases background workers, the store, and telemetry. Safe to
// call after a failed New.
func (s *Service) Close() {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.ingestQueue != nil {
		s.ingestQueue.Close()
	}
	if s.titles != nil {
		s.titles.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Conversation store close error", "error", err)
		}
	}
	if s.traceCleanup != nil {
		s.traceCleanup(context.Background())
	}
	if s.vault != nil {
		s.vault.Purge()
	}
}

// initTracer sets up OTLP export when a collector endpoint is configured
// and falls back to stdout spans for local development.
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	if endpoint := s.file.Telemetry.OTLPEndpoint; endpoint != "" {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
	} else {
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.file.Telemetry.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down trace provider", "error", err)
		}
	}, nil
}

func (s *Service) initWeaviate() (*weaviate.Client, error) {
	clientCfg := weaviate.Config{
		Host:   s.file.Weaviate.Host,
		Scheme: s.file.Weaviate.Scheme,
	}
	if env := s.file.Weaviate.APIKeyEnv; env != "" {
		if err := s.vault.LoadEnv(env); err != nil {
			return nil, err
		}
		key, err := s.vault.Reveal(env)
		if err != nil {
			return nil, err
		}
		clientCfg.AuthConfig = auth.ApiKey{Value: key}
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Weaviate client initialized",
		"host", s.file.Weaviate.Host, "scheme", s.file.Weaviate.Scheme)
	return client, nil
}

func (s *Service) initStore() error {
	var err error
	if s.file.Store.InMemory {
		s.db, err = store.OpenInMemory()
		return err
	}
	storeCfg := store.DefaultConfig(s.file.Store.Path)
	storeCfg.SyncWrites = s.file.Store.SyncWrites
	storeCfg.GCInterval = s.file.Store.GCInterval
	s.db, err = store.Open(storeCfg)
	return err
}

func (s *Service) initRouter(p *pipeline.Pipeline, ingestSvc *ingest.Service) {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.file.Telemetry.ServiceName))

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	v1.POST("/chat", handlers.HandleChat(p, s.registry))
	v1.GET("/chat/ws", handlers.HandleChatWebSocket(p, s.registry))
	v1.POST("/documents", handlers.HandleIngestDocument(s.ingestQueue, s.registry, s.registry))
	v1.GET("/documents/:id/status", handlers.HandleDocumentStatus(ingestSvc.Tracker()))
}
