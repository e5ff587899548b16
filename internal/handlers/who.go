package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// WhoResponse represents the public profile response.
type WhoResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	PublicKey   string `json:"public_key"`
	JoinedAt    string `json:"joined_at"`
}

// Who handles profile lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	profile, err := h.store.GetProfile(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if profile == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, WhoResponse{
		ID:          profile.ID.String(),
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		PublicKey:   profile.PublicKey,
		JoinedAt:    profile.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
