// Vahan Rakshak: the agent bridge for vehicle safety.
//
// This is the main entry point for the bridge server. It provides:
//   - Direct gatekeeper and guardian agent calls
//   - Departure clearance and emergency response workflows
//   - Per-vehicle status, incidents and alerts
//   - Workflow result storage (in-memory or Redis)

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/config"
	"github.com/korrapati-satish/vahan-rakshak/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("version", cfg.Version).Msg("🚛 Vahan Rakshak starting...")

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", srv.Port))
	if err != nil {
		log.Fatal().Err(err).Int("port", srv.Port).Msg("Failed to listen")
	}

	if err := srv.Run(ctx, ln, server.DefaultShutdownGrace); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("👋 Shutdown complete")
}
