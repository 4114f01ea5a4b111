// Package handlers implements the HTTP handlers for the ViewCraft
// backend: the seven agent task endpoints, the unified chat surfaces,
// channel tracking, saved responses, and the learning-system
// introspection endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/agents"
	"github.com/viewcraft/viewcraft/backend/internal/integrator"
	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/internal/tracker"
	"github.com/viewcraft/viewcraft/backend/internal/youtube"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store      store.Store
	Agents     *agents.Service
	Tracker    *tracker.Tracker
	Integrator *integrator.Integrator
}

// New creates a new Handlers instance with all dependencies.
func New(st store.Store, svc *agents.Service, tr *tracker.Tracker, integ *integrator.Integrator) *Handlers {
	return &Handlers{
		Store:      st,
		Agents:     svc,
		Tracker:    tr,
		Integrator: integ,
	}
}

// taskResponse is the envelope every agent task endpoint returns.
type taskResponse struct {
	Success bool               `json:"success"`
	Result  *agents.TaskResult `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// errorStatus maps task and tracker errors onto HTTP statuses. A
// reference we cannot parse is the caller's fault; a missing data-API
// key is a deployment gap, not an internal failure.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, youtube.ErrBadReference):
		return http.StatusBadRequest
	case errors.Is(err, youtube.ErrNoAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, youtube.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondTask maps a task outcome onto the envelope.
func respondTask(w http.ResponseWriter, result *agents.TaskResult, err error) {
	if err != nil {
		respondJSON(w, errorStatus(err), taskResponse{Success: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, taskResponse{Success: true, Result: result})
}

// ══════════════════════════════════════════════════════════════
// ── Agent Task Handlers ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type auditChannelsRequest struct {
	ChannelURLs []string `json:"channel_urls"`
	UserQuery   string   `json:"user_query"`
}

func (h *Handlers) AuditChannels(w http.ResponseWriter, r *http.Request) {
	var req auditChannelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.ChannelURLs) == 0 {
		respondError(w, http.StatusBadRequest, "channel_urls is required")
		return
	}

	result, err := h.Agents.AuditChannels(r.Context(), req.ChannelURLs, req.UserQuery)
	respondTask(w, result, err)
}

type auditTitlesRequest struct {
	Titles    []string `json:"titles"`
	VideoURLs []string `json:"video_urls"`
}

func (h *Handlers) AuditTitles(w http.ResponseWriter, r *http.Request) {
	var req auditTitlesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Titles) == 0 && len(req.VideoURLs) == 0 {
		respondError(w, http.StatusBadRequest, "titles or video_urls is required")
		return
	}

	result, err := h.Agents.AuditTitles(r.Context(), req.Titles, req.VideoURLs)
	respondTask(w, result, err)
}

type generateScriptRequest struct {
	Topic             string `json:"topic"`
	TitleAuditData    string `json:"title_audit_data"`
	TargetDurationSec int    `json:"target_duration_sec"`
}

func (h *Handlers) GenerateScript(w http.ResponseWriter, r *http.Request) {
	var req generateScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Topic == "" {
		respondError(w, http.StatusBadRequest, "topic is required")
		return
	}

	result, err := h.Agents.GenerateScript(r.Context(), req.Topic, req.TitleAuditData, req.TargetDurationSec)
	respondTask(w, result, err)
}

type scriptToPromptsRequest struct {
	Script string `json:"script"`
}

func (h *Handlers) ScriptToPrompts(w http.ResponseWriter, r *http.Request) {
	var req scriptToPromptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Script == "" {
		respondError(w, http.StatusBadRequest, "script is required")
		return
	}

	result, err := h.Agents.ScriptToScenes(r.Context(), req.Script)
	respondTask(w, result, err)
}

type generateIdeasRequest struct {
	Niche             string   `json:"niche"`
	WinningVideosData []string `json:"winning_videos_data"`
}

func (h *Handlers) GenerateIdeas(w http.ResponseWriter, r *http.Request) {
	var req generateIdeasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Niche == "" {
		respondError(w, http.StatusBadRequest, "niche is required")
		return
	}

	result, err := h.Agents.GenerateIdeas(r.Context(), req.Niche, req.WinningVideosData)
	respondTask(w, result, err)
}

type generateRoadmapRequest struct {
	Niche       string `json:"niche"`
	WinningData string `json:"winning_data"`
	Weeks       int    `json:"weeks"`
}

func (h *Handlers) GenerateRoadmap(w http.ResponseWriter, r *http.Request) {
	var req generateRoadmapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Niche == "" {
		respondError(w, http.StatusBadRequest, "niche is required")
		return
	}

	result, err := h.Agents.GenerateRoadmap(r.Context(), req.Niche, req.WinningData, req.Weeks)
	respondTask(w, result, err)
}

type fetchFiftyVideosRequest struct {
	ChannelURL string `json:"channel_url"`
}

func (h *Handlers) FetchFiftyVideos(w http.ResponseWriter, r *http.Request) {
	var req fetchFiftyVideosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ChannelURL == "" {
		respondError(w, http.StatusBadRequest, "channel_url is required")
		return
	}

	result, err := h.Agents.FetchFiftyVideos(r.Context(), req.ChannelURL)
	respondTask(w, result, err)
}

// ══════════════════════════════════════════════════════════════
// ── RL Introspection Handlers ────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) RLStatus(w http.ResponseWriter, r *http.Request) {
	reg := h.Agents.Registry()
	all := reg.All()

	status := models.RLSystemStatus{TotalAgents: len(all)}
	allTiersUp := true
	for _, agent := range all {
		s := agent.Status(r.Context())
		status.Agents = append(status.Agents, s)
		if s.Engine.Active {
			status.OperationalAgents++
		}
		// "Fully operational" means the real backing stores, not the
		// in-process fallbacks.
		if !s.STM.Connected || s.STM.StorageType != "redis" || !s.LTM.Connected {
			allTiersUp = false
		}
	}
	status.CentralMemoryConnected = reg.Central().Connected(r.Context())

	status.SyncCyclesCompleted = h.Integrator.Cycles()
	if reports := h.Integrator.RecentReports(); len(reports) > 0 {
		last := reports[len(reports)-1]
		status.LastSyncReport = &last
	}

	switch {
	case status.OperationalAgents == 0:
		status.SystemHealth = models.HealthOffline
	case allTiersUp && status.CentralMemoryConnected:
		status.SystemHealth = models.HealthFullyOperational
	default:
		status.SystemHealth = models.HealthPartiallyOperational
	}

	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) AgentInsights(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	agent, ok := h.Agents.Registry().Get(agentID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown agent: "+agentID)
		return
	}
	respondJSON(w, http.StatusOK, agent.Insights(r.Context()))
}

func (h *Handlers) RunSync(w http.ResponseWriter, r *http.Request) {
	report := h.Integrator.RunCycle(r.Context())
	log.Info().Int("agents", len(report.AgentReports)).Msg("Manual memory sync complete")
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"report":  report,
	})
}

// ── JSON helpers ────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
