package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/messaging"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *messaging.Service
	store  store.DataStore
	redis  Pinger
	logger zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil when the server runs
// without Redis.
func NewHandler(svc *messaging.Service, redis Pinger, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		store:  svc.Store(),
		redis:  redis,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps messaging errors to HTTP responses.
func (h *Handler) ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)

	// Only unexpected failures are logged, client errors are not
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	h.Error(w, status, message)
}

// errorStatus maps an error to a status code and a client-safe message.
func errorStatus(err error) (int, string) {
	switch {
	// Invalid input
	case errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrMessageTooLong),
		errors.Is(err, messaging.ErrUnknownEmoji),
		errors.Is(err, messaging.ErrSelfConversation):
		return http.StatusBadRequest, err.Error()
	// Identity and access
	case errors.Is(err, messaging.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, messaging.ErrNotParticipant):
		return http.StatusForbidden, err.Error()
	// Missing rows
	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, messaging.ErrProfileNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, messaging.ErrSendInFlight):
		return http.StatusConflict, err.Error()
	default:
		// Never leak store errors to clients
		return http.StatusInternalServerError, "internal error"
	}
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Hebrew names are multi-byte, cut on runes
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}

// pageParams reads limit and offset query parameters.
func pageParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	// Clamp limit to [1, maxLimit]
	limit := defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	// Negative or malformed offsets start from zero
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// decodeJSON decodes a request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
