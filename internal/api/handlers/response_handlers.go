package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Saved Response Handlers ──────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := h.Store.ListResponses(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries := make([]models.SavedResponseSummary, 0, len(responses))
	for i := range responses {
		summaries = append(summaries, responses[i].Summary())
	}
	respondJSON(w, http.StatusOK, summaries)
}

func (h *Handlers) CreateResponse(w http.ResponseWriter, r *http.Request) {
	var req models.SavedResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	req.ID = uuid.New().String()
	if req.Title == "" {
		req.Title = models.DefaultResponseTitle
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := h.Store.CreateResponse(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("id", req.ID).Str("agent", req.AgentID).Msg("Response saved")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "responseID")
	resp, err := h.Store.GetResponse(r.Context(), id)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) UpdateResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "responseID")
	resp, err := h.Store.GetResponse(r.Context(), id)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	var req models.SavedResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Only title and content are mutable; agent attribution is fixed
	// at save time.
	if req.Title != "" {
		resp.Title = req.Title
	}
	if req.Content != "" {
		resp.Content = req.Content
	}
	resp.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateResponse(r.Context(), resp); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) DeleteResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "responseID")
	if err := h.Store.DeleteResponse(r.Context(), id); err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
