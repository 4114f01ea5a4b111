package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/api/middleware"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Unified Chat Handlers ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// chatRequest is the unified-chat request body. UseAnalytics defaults
// to true when omitted.
type chatRequest struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
	ChannelID    string `json:"channel_id"`
	UseAnalytics *bool  `json:"use_analytics"`
}

// videoAnalytics is the trimmed snapshot summary carried in chat
// responses; the full 50-video snapshot stays server-side.
type videoAnalytics struct {
	CapturedAt        time.Time `json:"captured_at"`
	VideoCount        int       `json:"video_count"`
	AvgViewsPerVideo  float64   `json:"avg_views_per_video"`
	AvgEngagementRate float64   `json:"avg_engagement_rate"`
	TopVideoTitle     string    `json:"top_video_title,omitempty"`
}

type chatResponse struct {
	Success        bool                   `json:"success"`
	SessionID      string                 `json:"session_id"`
	Response       string                 `json:"response,omitempty"`
	AnalyticsUsed  bool                   `json:"analytics_used"`
	ChannelInfo    *models.TrackedChannel `json:"channel_info,omitempty"`
	VideoAnalytics *videoAnalytics        `json:"video_analytics,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

func (h *Handlers) ScriptwriterChat(w http.ResponseWriter, r *http.Request) {
	h.chat(w, r, models.ConversationScriptwriter)
}

func (h *Handlers) SceneWriterChat(w http.ResponseWriter, r *http.Request) {
	h.chat(w, r, models.ConversationSceneWriter)
}

func (h *Handlers) chat(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	useAnalytics := req.UseAnalytics == nil || *req.UseAnalytics

	ctx := r.Context()
	history, err := h.Store.GetHistory(ctx, conv, sessionID, userID)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Chat history unavailable, replying without it")
	}

	resp := chatResponse{SessionID: sessionID}

	var snapshot *models.ChannelSnapshot
	if useAnalytics && req.ChannelID != "" {
		if snap, err := h.Tracker.LatestSnapshot(ctx, req.ChannelID); err == nil {
			snapshot = snap
			resp.AnalyticsUsed = true
			resp.VideoAnalytics = summarizeSnapshot(snap)
		} else {
			log.Debug().Err(err).Str("channel", req.ChannelID).Msg("No analytics for chat")
		}
		if ch, err := h.Store.GetTrackedChannel(ctx, req.ChannelID, userID); err == nil {
			resp.ChannelInfo = ch
		}
	}

	result, err := h.Agents.ChatReply(ctx, conv, req.Message, history, snapshot)
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}

	// The reply sits 1ms after the user turn so history reads keep the
	// exchange in order.
	now := time.Now().UTC()
	turns := []*models.ChatMessage{
		{SessionID: sessionID, UserID: userID, Conversation: conv, Role: models.RoleUser, Content: req.Message, Timestamp: now},
		{SessionID: sessionID, UserID: userID, Conversation: conv, Role: models.RoleAssistant, Content: result.Output, Timestamp: now.Add(time.Millisecond)},
	}
	for _, turn := range turns {
		if err := h.Store.AppendMessage(ctx, turn); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Chat turn not persisted")
			break
		}
	}

	resp.Success = true
	resp.Response = result.Output
	respondJSON(w, http.StatusOK, resp)
}

// ── History & clearing ──────────────────────────────────────

type chatHistoryResponse struct {
	Success      bool                 `json:"success"`
	SessionID    string               `json:"session_id"`
	History      []models.ChatMessage `json:"history"`
	MessageCount int                  `json:"message_count"`
}

func (h *Handlers) ScriptwriterHistory(w http.ResponseWriter, r *http.Request) {
	h.chatHistory(w, r, models.ConversationScriptwriter)
}

func (h *Handlers) SceneWriterHistory(w http.ResponseWriter, r *http.Request) {
	h.chatHistory(w, r, models.ConversationSceneWriter)
}

func (h *Handlers) chatHistory(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := middleware.GetUserID(r.Context())

	history, err := h.Store.GetHistory(r.Context(), conv, sessionID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []models.ChatMessage{}
	}

	respondJSON(w, http.StatusOK, chatHistoryResponse{
		Success:      true,
		SessionID:    sessionID,
		History:      history,
		MessageCount: len(history),
	})
}

func (h *Handlers) ClearScriptwriterChat(w http.ResponseWriter, r *http.Request) {
	h.clearChat(w, r, models.ConversationScriptwriter)
}

func (h *Handlers) ClearSceneWriterChat(w http.ResponseWriter, r *http.Request) {
	h.clearChat(w, r, models.ConversationSceneWriter)
}

func (h *Handlers) clearChat(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := middleware.GetUserID(r.Context())

	deleted, err := h.Store.ClearHistory(r.Context(), conv, sessionID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("session", sessionID).Str("user", userID).Int64("deleted", deleted).Msg("Chat session cleared")
	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"session_id":    sessionID,
		"deleted_count": deleted,
	})
}

// ── Analytics status ────────────────────────────────────────

func (h *Handlers) AnalyticsStatus(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	// Status probe only: report what is already captured, never fetch.
	snap, err := h.Store.LatestSnapshot(r.Context(), channelID)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"channel_id":    channelID,
			"has_analytics": false,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"channel_id":    channelID,
		"has_analytics": true,
		"analytics":     summarizeSnapshot(snap),
	})
}

func summarizeSnapshot(snap *models.ChannelSnapshot) *videoAnalytics {
	va := &videoAnalytics{
		CapturedAt:        snap.CapturedAt,
		VideoCount:        len(snap.RecentVideos),
		AvgViewsPerVideo:  snap.AvgViewsPerVideo,
		AvgEngagementRate: snap.AvgEngagementRate,
	}
	var top int64 = -1
	for _, v := range snap.RecentVideos {
		if v.Views > top {
			top = v.Views
			va.TopVideoTitle = v.Title
		}
	}
	return va
}
