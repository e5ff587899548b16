package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/crypto"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/metrics"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	PublicKey   string `json:"public_key"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	ID         string `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register handles profile registration. Registering a known public key
// returns the existing profile.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}
	if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	name := sanitizeName(req.DisplayName)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if !isValidAvatarURL(req.AvatarURL) {
		h.Error(w, http.StatusBadRequest, "avatar_url must be an http(s) URL")
		return
	}

	existing, err := h.store.GetProfileByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing != nil {
		h.JSON(w, http.StatusOK, registered(existing))
		return
	}

	profile, err := h.store.CreateProfile(r.Context(), req.PublicKey, name, req.AvatarURL)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent registration of the same key.
		profile, err = h.store.GetProfileByPublicKey(r.Context(), req.PublicKey)
		if err == nil && profile != nil {
			h.JSON(w, http.StatusOK, registered(profile))
			return
		}
	}
	if err != nil || profile == nil {
		h.logger.Error().Err(err).Msg("create profile failed")
		h.Error(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	metrics.ProfilesRegistered.Inc()
	h.logger.Info().Str("user_id", profile.ID.String()).Msg("profile registered")
	h.JSON(w, http.StatusCreated, registered(profile))
}

func registered(p *models.Profile) RegisterResponse {
	return RegisterResponse{
		ID:         p.ID.String(),
		ProfileURL: fmt.Sprintf("/who/%s", p.ID.String()),
	}
}

func isValidAvatarURL(raw string) bool {
	if raw == "" {
		return true
	}
	if len(raw) > 2048 {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
