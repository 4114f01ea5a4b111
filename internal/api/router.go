// Package api assembles the HTTP surface: middleware chain, route tree,
// and the public info endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/viewcraft/viewcraft/backend/internal/api/handlers"
	"github.com/viewcraft/viewcraft/backend/internal/api/middleware"
	"github.com/viewcraft/viewcraft/backend/internal/config"
)

// ServiceName identifies this backend in info endpoints and logs.
const ServiceName = "viewcraft-backend"

// Version is the API version reported by the info endpoints.
const Version = "1.0.0"

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.UserExtractor)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-User-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth().Middleware)

	// Health & info
	r.Get("/", rootHandler)
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)

	r.Route("/api", func(r chi.Router) {
		// Agent tasks
		r.Post("/agent1/audit-channels", h.AuditChannels)
		r.Post("/agent2/audit-titles", h.AuditTitles)
		r.Post("/agent3/generate-script", h.GenerateScript)
		r.Post("/agent4/script-to-prompts", h.ScriptToPrompts)
		r.Post("/agent5/generate-ideas", h.GenerateIdeas)
		r.Post("/agent6/generate-roadmap", h.GenerateRoadmap)
		r.Post("/agent7/fetch-fifty-videos", h.FetchFiftyVideos)

		// Unified chat (analytics-aware scriptwriter and scene-writer)
		r.Route("/unified", func(r chi.Router) {
			r.Post("/scriptwriter-chat", h.ScriptwriterChat)
			r.Post("/scene-writer-chat", h.SceneWriterChat)
			r.Get("/get-scriptwriter-chat/{sessionID}", h.ScriptwriterHistory)
			r.Get("/get-scene-writer-chat/{sessionID}", h.SceneWriterHistory)
			r.Delete("/clear-scriptwriter-chat/{sessionID}", h.ClearScriptwriterChat)
			r.Delete("/clear-scene-writer-chat/{sessionID}", h.ClearSceneWriterChat)
			r.Get("/analytics-status/{channelID}", h.AnalyticsStatus)
		})

		// Channel tracking
		r.Route("/channel", func(r chi.Router) {
			r.Post("/track", h.TrackChannel)
			r.Get("/tracked", h.TrackedChannels)
			r.Post("/video-ideas", h.VideoIdeas)
			r.Get("/recommendations", h.Recommendations)
		})

		// Learning system introspection
		r.Route("/rl", func(r chi.Router) {
			r.Get("/status", h.RLStatus)
			r.Get("/agents/{agentID}/insights", h.AgentInsights)
			r.Post("/sync", h.RunSync)
		})

		// Saved responses
		r.Route("/responses", func(r chi.Router) {
			r.Get("/", h.ListResponses)
			r.Post("/", h.CreateResponse)
			r.Route("/{responseID}", func(r chi.Router) {
				r.Get("/", h.GetResponse)
				r.Put("/", h.UpdateResponse)
				r.Delete("/", h.DeleteResponse)
			})
		})
	})

	return r
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service": ServiceName,
		"message": "YouTube automation agents API",
		"version": Version,
		"agents": map[string]string{
			"agent1": "Channel Auditor - deep channel audit with live statistics",
			"agent2": "Title Auditor - packaging heuristics and rewrites",
			"agent3": "Script Generator - full script scaffolds from a topic",
			"agent4": "Script to Scenes - numbered scenes with visual prompts",
			"agent5": "Ideas Generator - niche video concepts",
			"agent6": "Roadmap Generator - multi-week posting plans",
			"agent7": "Fifty Videos Fetcher - latest 50 uploads of a channel",
		},
		"endpoints": map[string]string{
			"agents":    "POST /api/agent{1..7}/…",
			"chat":      "POST /api/unified/scriptwriter-chat, scene-writer-chat",
			"channels":  "POST /api/channel/track, GET /api/channel/tracked",
			"learning":  "GET /api/rl/status, POST /api/rl/sync",
			"responses": "GET/POST /api/responses",
		},
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": Version,
		"service": ServiceName,
	})
}
