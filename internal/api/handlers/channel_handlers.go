package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/api/middleware"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Channel Tracking Handlers ────────────────────────────────
// ══════════════════════════════════════════════════════════════

type trackChannelRequest struct {
	ChannelURL string `json:"channel_url"`
	UserID     string `json:"user_id"`
}

type trackChannelResponse struct {
	Success bool `json:"success"`
	*models.TrackResult
}

func (h *Handlers) TrackChannel(w http.ResponseWriter, r *http.Request) {
	var req trackChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ChannelURL == "" {
		respondError(w, http.StatusBadRequest, "channel_url is required")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}

	result, err := h.Tracker.Track(r.Context(), req.ChannelURL, userID)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, trackChannelResponse{Success: true, TrackResult: result})
}

type trackedChannelsResponse struct {
	Success  bool                    `json:"success"`
	Channels []models.TrackedChannel `json:"channels"`
	Count    int                     `json:"count"`
}

func (h *Handlers) TrackedChannels(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}

	channels, err := h.Tracker.Tracked(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if channels == nil {
		channels = []models.TrackedChannel{}
	}
	respondJSON(w, http.StatusOK, trackedChannelsResponse{
		Success:  true,
		Channels: channels,
		Count:    len(channels),
	})
}

type videoIdeasRequest struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type videoIdeasResponse struct {
	Success        bool                        `json:"success"`
	Recommendation *models.VideoRecommendation `json:"recommendation"`
}

func (h *Handlers) VideoIdeas(w http.ResponseWriter, r *http.Request) {
	var req videoIdeasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ChannelID == "" {
		respondError(w, http.StatusBadRequest, "channel_id is required")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}

	rec, err := h.Tracker.VideoIdeas(r.Context(), req.ChannelID, userID)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	log.Info().Str("channel", req.ChannelID).Int("ideas", len(rec.Ideas)).Msg("Video ideas generated")
	respondJSON(w, http.StatusOK, videoIdeasResponse{Success: true, Recommendation: rec})
}

type recommendationsResponse struct {
	Success         bool                         `json:"success"`
	Recommendations []models.VideoRecommendation `json:"recommendations"`
	Count           int                          `json:"count"`
}

// Recommendations lists previously generated idea batches for a
// channel, newest first.
func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channelID := q.Get("channel_id")
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "channel_id is required")
		return
	}
	userID := q.Get("user_id")
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}
	limit := 10
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := h.Tracker.Recommendations(r.Context(), channelID, userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []models.VideoRecommendation{}
	}
	respondJSON(w, http.StatusOK, recommendationsResponse{
		Success:         true,
		Recommendations: recs,
		Count:           len(recs),
	})
}
