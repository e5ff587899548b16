package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// ReactionsResponse is the per-emoji summary of one message.
type ReactionsResponse struct {
	MessageID string                   `json:"message_id"`
	Reactions []models.ReactionSummary `json:"reactions"`
}

// ToggleReactionRequest names the emoji to toggle.
type ToggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ToggleReactionResponse reports the toggle outcome with the refreshed summary.
type ToggleReactionResponse struct {
	ReactionsResponse
	Emoji   string `json:"emoji"`
	Present bool   `json:"present"`
}

// GetReactions returns a message's reactions as seen by the caller.
func (h *Handler) GetReactions(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	msgID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message ID format")
		return
	}

	summaries, err := h.svc.Reactions(r.Context(), msgID, profile.ID)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ReactionsResponse{MessageID: msgID.String(), Reactions: summaries})
}

// ToggleReaction adds the caller's reaction, or removes it when present.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	msgID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message ID format")
		return
	}

	var req ToggleReactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	present, err := h.svc.ToggleReaction(r.Context(), msgID, profile.ID, req.Emoji)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	summaries, err := h.svc.Reactions(r.Context(), msgID, profile.ID)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ToggleReactionResponse{
		ReactionsResponse: ReactionsResponse{MessageID: msgID.String(), Reactions: summaries},
		Emoji:             req.Emoji,
		Present:           present,
	})
}
