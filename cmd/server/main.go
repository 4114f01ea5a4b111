// ViewCraft backend — REST service fronting seven self-improving
// YouTube agents.
//
// This is the main entry point for the backend server. It provides:
//   - Seven agent task endpoints (audits, scripts, scenes, ideas,
//     roadmaps, video fetching), each wrapped in a Q-learning loop
//   - Unified analytics-aware chat for the scriptwriter and
//     scene-writer personas
//   - Channel tracking with analytics snapshots and video ideas
//   - Three-tier agent memory (Redis STM, MongoDB LTM, shared central)
//     with a 30-minute collective sync job
//   - Learning-system introspection endpoints

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viewcraft/viewcraft/backend/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("🎬 ViewCraft backend starting...")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.Close(ctx)
	defer srv.ShutdownFunc(ctx)

	// Background jobs: memory sync and retention sweep
	srv.Start(ctx)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", srv.Port).
		Int("agents", len(srv.Registry.All())).
		Msg("🎬 ViewCraft is live!")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
