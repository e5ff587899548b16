package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// ConversationListResponse is the caller's conversation list.
type ConversationListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

// StartConversationRequest names the user to talk to.
type StartConversationRequest struct {
	UserID string `json:"user_id"`
}

// StartConversationResponse identifies the resolved conversation.
type StartConversationResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// ListConversations returns the caller's private conversations, newest
// activity first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	list, err := h.svc.ListConversations(r.Context(), profile.ID)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ConversationListResponse{Conversations: list})
}

// StartConversation finds or creates the private conversation between the
// caller and user_id. It answers 201 when a conversation was created.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfileFromContext(r.Context())
	if profile == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req StartConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	targetID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user_id format")
		return
	}

	conv, created, err := h.svc.ResolveConversation(r.Context(), profile.ID, targetID)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, StartConversationResponse{ID: conv.ID.String(), Created: created})
}
