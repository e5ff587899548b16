package handlers

import (
	"net/http"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// AdminConversationsResponse is one page of all conversations.
type AdminConversationsResponse struct {
	Conversations []models.ConversationWithParticipants `json:"conversations"`
	Total         int                                   `json:"total"`
	Limit         int                                   `json:"limit"`
	Offset        int                                   `json:"offset"`
}

// AdminConversations lists every conversation, newest activity first.
func (h *Handler) AdminConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 20, 100)

	list, total, err := h.svc.AllConversations(r.Context(), limit, offset)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ConversationWithParticipants{}
	}

	h.JSON(w, http.StatusOK, AdminConversationsResponse{
		Conversations: list,
		Total:         total,
		Limit:         limit,
		Offset:        offset,
	})
}
