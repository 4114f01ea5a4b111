// Package server is the composition root for the ViewCraft backend: it
// wires the store, the agent registry with its memory tiers, the
// channel tracker, the memory integrator, and the HTTP surface into one
// ready-to-serve unit.
//
// Every backing service is optional at runtime. MongoDB falls back to
// an in-memory store, Redis tiers fall back to in-process buffers, and
// a missing YouTube key leaves data-dependent tasks degraded. The
// server itself always comes up.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/agents"
	"github.com/viewcraft/viewcraft/backend/internal/api"
	"github.com/viewcraft/viewcraft/backend/internal/api/handlers"
	"github.com/viewcraft/viewcraft/backend/internal/config"
	"github.com/viewcraft/viewcraft/backend/internal/integrator"
	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/internal/notify"
	"github.com/viewcraft/viewcraft/backend/internal/retention"
	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/internal/telemetry"
	"github.com/viewcraft/viewcraft/backend/internal/tracker"
	"github.com/viewcraft/viewcraft/backend/internal/youtube"
)

// Server holds the initialized ViewCraft backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the operational data store (MongoDB, or in-memory when
	// the database is unreachable).
	Store store.Store

	// Registry owns the seven agents and their memory tiers.
	Registry *agents.Registry

	// Integrator runs the collective memory cycle.
	Integrator *integrator.Integrator

	// Janitor sweeps stored snapshots and recommendations.
	Janitor *retention.Janitor

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry.
	ShutdownFunc func(context.Context) error

	syncEnabled      bool
	retentionEnabled bool
	bgCancel         context.CancelFunc
}

// New initializes all backend components from the environment and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the backend with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if ms, err := store.NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database); err != nil {
		log.Warn().Err(err).Msg("MongoDB unreachable, falling back to in-memory store")
		dataStore = store.NewMemoryStore()
	} else {
		dataStore = ms
		log.Info().Str("database", cfg.Mongo.Database).Msg("✅ MongoDB store initialized")
	}

	metrics := memory.NewRealtimeMetrics(ctx, cfg.Memory.STMRedisURL, cfg.Memory.MetricsRedisDB)
	central := memory.NewCentral(cfg.Memory.CentralMongoURL, cfg.Memory.CentralDatabase)
	registry := agents.NewRegistry(ctx, cfg.Memory, central, metrics)

	var yt youtube.Client
	if cfg.YouTube.APIKey != "" {
		yt = youtube.NewHTTP(cfg.YouTube.BaseURL, cfg.YouTube.APIKey)
		log.Info().Msg("✅ YouTube data client initialized")
	} else {
		log.Warn().Msg("YOUTUBE_API_KEY not set; live channel data unavailable")
	}

	svc := agents.NewService(registry, yt, metrics)
	tr := tracker.New(dataStore, yt)

	var notifier integrator.Notifier
	if ns := notify.NewService(cfg.Notify); ns.Configured() {
		notifier = ns
		log.Info().Int("webhooks", len(cfg.Notify.WebhookURLs)).Msg("✅ Urgent-insight notifier initialized")
	}
	integ := integrator.New(registry, notifier,
		time.Duration(cfg.Sync.IntervalMinutes)*time.Minute,
		cfg.Memory.PromoteThreshold, cfg.Memory.ShareThreshold)

	janitor := retention.New(dataStore,
		time.Duration(cfg.Retention.IntervalHours)*time.Hour,
		cfg.Retention.KeepSnapshots,
		time.Duration(cfg.Retention.RecommendationDays)*24*time.Hour)

	h := handlers.New(dataStore, svc, tr, integ)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:          router,
		Store:            dataStore,
		Registry:         registry,
		Integrator:       integ,
		Janitor:          janitor,
		Port:             cfg.Port,
		ShutdownFunc:     shutdown,
		syncEnabled:      cfg.Sync.Enabled,
		retentionEnabled: cfg.Retention.Enabled,
	}, nil
}

// Start launches the background jobs: the memory-sync cycle and the
// retention sweep. Either can be disabled by configuration.
func (s *Server) Start(ctx context.Context) {
	if !s.syncEnabled && !s.retentionEnabled {
		log.Info().Msg("Background jobs disabled by configuration")
		return
	}
	ctx, s.bgCancel = context.WithCancel(ctx)
	if s.syncEnabled {
		go s.Integrator.Start(ctx)
	} else {
		log.Info().Msg("Memory sync disabled by configuration")
	}
	if s.retentionEnabled {
		go s.Janitor.Start(ctx)
	} else {
		log.Info().Msg("Retention sweep disabled by configuration")
	}
}

// Close stops background work and releases store and memory-tier
// connections.
func (s *Server) Close(ctx context.Context) {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.Registry.Close(ctx)
	if err := s.Store.Close(); err != nil {
		log.Debug().Err(err).Msg("store close")
	}
}
