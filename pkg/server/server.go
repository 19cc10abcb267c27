// Package server wires the vahan-rakshak components into a ready HTTP
// handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	ln, err := net.Listen("tcp", ":8000")
//	err = srv.Run(ctx, ln, server.DefaultShutdownGrace)
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/agents"
	"github.com/korrapati-satish/vahan-rakshak/internal/api"
	"github.com/korrapati-satish/vahan-rakshak/internal/api/handlers"
	"github.com/korrapati-satish/vahan-rakshak/internal/config"
	"github.com/korrapati-satish/vahan-rakshak/internal/fleet"
	"github.com/korrapati-satish/vahan-rakshak/internal/notify"
	"github.com/korrapati-satish/vahan-rakshak/internal/orchestrate"
	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/internal/telemetry"
	"github.com/korrapati-satish/vahan-rakshak/internal/workflow"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized bridge.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store holds finished workflow results. Close it on shutdown.
	Store store.Store

	// Fleet is the per-vehicle state shared by the API and the workflow engine.
	Fleet *fleet.Registry

	// Notifier delivers workflow webhooks. Nil when none are configured; call
	// Wait on shutdown to drain pending deliveries.
	Notifier *notify.Service

	// Config is the configuration the server was built from.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and builds a Server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds a Server from an explicit configuration.
//
// Missing execution service credentials are not fatal unless
// cfg.Orchestrate.Require is set: the server starts and its agent routes
// answer 503 while read routes keep working.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	registry := fleet.NewRegistry(fleet.DefaultHistory)
	notifier := notify.NewService(notify.Config{
		URLs:    cfg.Notify.WebhookURLs,
		Secret:  cfg.Notify.Secret,
		Events:  cfg.Notify.Events,
		Timeout: cfg.Notify.Timeout,
	})

	var (
		caller *agents.Caller
		engine *workflow.Engine
	)
	switch {
	case cfg.Orchestrate.Configured():
		client, err := orchestrate.NewClient(orchestrate.Credentials{
			EndpointURL: cfg.Orchestrate.URL,
			APIKey:      cfg.Orchestrate.APIKey,
			ProjectID:   cfg.Orchestrate.ProjectID,
			SpaceID:     cfg.Orchestrate.SpaceID,
		}, orchestrate.Options{
			IAMURL:            cfg.Orchestrate.IAMURL,
			SubmitTimeout:     cfg.Orchestrate.SubmitTimeout,
			ReadTimeout:       cfg.Orchestrate.ReadTimeout,
			TokenTimeout:      cfg.Orchestrate.TokenTimeout,
			TokenSafetyMargin: cfg.Orchestrate.TokenSafetyMargin,
		})
		if err != nil {
			dataStore.Close()
			shutdown(ctx)
			return nil, fmt.Errorf("init orchestrate client: %w", err)
		}
		caller = agents.FromClient(client, agents.Config{
			MaxWait:      cfg.Orchestrate.MaxWait,
			PollInterval: cfg.Orchestrate.PollInterval,
			ExtraActions: []string{cfg.Agents.MonitorAction, cfg.Agents.SpeedAction},
		})
		wfCfg := workflow.Config{
			GatekeeperID: cfg.Agents.GatekeeperID,
			GuardianID:   cfg.Agents.GuardianID,
		}
		if notifier != nil {
			wfCfg.Notifier = notifier
		}
		engine = workflow.NewEngine(caller, dataStore, registry, wfCfg)
		log.Info().
			Str("endpoint", cfg.Orchestrate.URL).
			Str("gatekeeper", cfg.Agents.GatekeeperID).
			Str("guardian", cfg.Agents.GuardianID).
			Msg("✅ Agent orchestration initialized")
	case cfg.Orchestrate.Require:
		dataStore.Close()
		shutdown(ctx)
		return nil, errors.New("agent orchestration required but WATSONX_API_URL or WATSONX_API_KEY is missing")
	default:
		log.Warn().Msg("⚠️  WATSONX_API_URL or WATSONX_API_KEY not set, agent routes will answer 503")
	}

	// A nil *Caller must not become a non-nil workflow.Agents.
	var agentAPI workflow.Agents
	if caller != nil {
		agentAPI = caller
	}

	h := handlers.New(agentAPI, engine, dataStore, registry, cfg.Agents)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Fleet:        registry,
		Notifier:     notifier,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// DefaultShutdownGrace is how long Run waits for in-flight requests after
// its context is done.
const DefaultShutdownGrace = 15 * time.Second

// Run serves on ln until ctx is done, then stops accepting connections and
// waits up to grace for in-flight requests. Only after that does it drain
// webhooks, flush telemetry and close the store, so a workflow finishing
// during shutdown is still persisted and announced. Run always releases the
// server's resources before returning.
func (s *Server) Run(ctx context.Context, ln net.Listener, grace time.Duration) error {
	httpServer := &http.Server{
		Handler:      s.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.Config.ResponseTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	served := make(chan error, 1)
	go func() { served <- httpServer.Serve(ln) }()

	log.Info().
		Str("addr", ln.Addr().String()).
		Dur("write_timeout", httpServer.WriteTimeout).
		Msg("🛡️  Vahan Rakshak is on duty!")

	var err error
	select {
	case err = <-served:
		// Serve failed on its own; nothing is in flight.
	case <-ctx.Done():
		log.Info().Dur("grace", grace).Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		err = httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("In-flight requests outlived the shutdown grace")
		}
		<-served
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	s.close()
	return err
}

func (s *Server) close() {
	s.Notifier.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ShutdownFunc(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "redis":
		s, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Retention: cfg.Retention,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("✅ Redis store initialized")
		return s, nil
	default:
		s := store.NewMemoryStore(store.MemoryOptions{
			DataDir:   cfg.DataDir,
			Retention: cfg.Retention,
		})
		log.Info().Msg("✅ In-memory store initialized")
		return s, nil
	}
}
