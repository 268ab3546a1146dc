package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agent-orchestrator/internal/api"
	"agent-orchestrator/internal/config"
	"agent-orchestrator/internal/guardrails"
	"agent-orchestrator/internal/llm"
	"agent-orchestrator/internal/monitor"
	"agent-orchestrator/internal/orchestrator"
	"agent-orchestrator/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := monitor.NewMetrics()

	// Initialize database (optional — falls back to in-memory storage
	// for development)
	var db *storage.DB
	var store orchestrator.PersistenceStore
	var lister api.ExecutionLister
	var violations storage.ViolationStore
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("database unavailable")
		}
		defer db.Close()
		store = db
		lister = db
		violations = db
	} else {
		log.Warn().Msg("no database DSN configured — using in-memory storage, state is lost on restart")
		mem := storage.NewMemStore()
		store = mem
		lister = mem
		violations = mem
	}

	// Buffered violation audit trail
	auditWriter := storage.NewAuditWriter(violations, cfg.Guardrails.AuditBufferSize)
	auditWriter.Start()
	defer auditWriter.Flush(cfg.Guardrails.AuditFlushTimeout)

	// Guardrails engine shared across tenants
	gr := guardrails.NewService(guardrails.EngineConfig{
		InputRiskThreshold:  cfg.Guardrails.InputRiskThreshold,
		OutputRiskThreshold: cfg.Guardrails.OutputRiskThreshold,
	}, guardrails.WithAuditSink(auditWriter))

	// LLM provider client
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		log.Warn().Str("env", cfg.LLM.APIKeyEnv).Msg("no provider API key in environment; generation requests will be unauthenticated")
	}
	llmClient := llm.NewClient(cfg.LLM.BaseURL, apiKey, cfg.LLM.RequestTimeout)

	// One orchestrator per tenant, created on first use
	manager := orchestrator.NewManager(orchestrator.ManagerConfig{
		Factory: func(tenantID string) *orchestrator.Orchestrator {
			return orchestrator.New(orchestrator.Config{
				TenantID:       tenantID,
				Store:          store,
				Guardrails:     gr,
				LLM:            llmClient,
				Memory:         memoryStore(store),
				Metrics:        metrics,
				DefaultTimeout: cfg.Orchestrator.DefaultTimeout,
				MaxTimeout:     cfg.Orchestrator.MaxTimeout,
			})
		},
		Metrics:       metrics,
		SweepInterval: cfg.Orchestrator.SweepInterval,
		StaleAge:      cfg.Orchestrator.StaleAge,
	})
	manager.StartMonitoring()
	defer manager.StopMonitoring()

	// Create and start HTTP server
	server := api.NewServer(cfg, manager, gr, db, lister, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

// memoryStore narrows the persistence store to the memory surface when
// it supports one.
func memoryStore(store orchestrator.PersistenceStore) orchestrator.MemoryStore {
	if m, ok := store.(orchestrator.MemoryStore); ok {
		return m
	}
	return nil
}
