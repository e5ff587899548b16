package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// ThreadResponse is a conversation's messages in ascending order.
type ThreadResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []models.ThreadMessage `json:"messages"`
}

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// GetMessages loads a thread. Opening a thread marks the caller's incoming
// messages read.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	msgs, err := h.svc.LoadThread(r.Context(), convID, profile.ID)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ThreadResponse{
		ConversationID: convID.String(),
		Messages:       msgs,
	})
}

// PostMessage sends a message to a conversation.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	var req PostMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), convID, profile.ID, req.Content)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}
