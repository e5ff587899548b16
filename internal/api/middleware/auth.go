package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/crypto"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

type contextKey string

const ProfileContextKey contextKey = "profile"

// Signed request headers.
const (
	HeaderUser       = "X-Kayan-User"
	HeaderNonce      = "X-Kayan-Nonce"
	HeaderTimestamp  = "X-Kayan-Timestamp"
	HeaderSignature  = "X-Kayan-Signature"
	HeaderAdminToken = "X-Kayan-Admin-Token"
)

const (
	signatureWindow = 30 * time.Second
	nonceTTL        = 3 * time.Minute
	minNonceLength  = 24
)

// ProfileLookup finds the profile a request claims to come from.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// NonceStore remembers nonces for replay protection. store.RedisStore and
// store.MemoryNonceStore implement it.
type NonceStore interface {
	ClaimNonce(ctx context.Context, userID, nonce string, ttl time.Duration) (bool, error)
}

// AuthMiddleware handles signature verification for authenticated endpoints.
type AuthMiddleware struct {
	profiles ProfileLookup
	nonces   NonceStore
	logger   zerolog.Logger
	window   time.Duration
	now      func() time.Time
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(profiles ProfileLookup, nonces NonceStore, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		profiles: profiles,
		nonces:   nonces,
		logger:   logger,
		window:   signatureWindow,
		now:      time.Now,
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUser)
		nonce := r.Header.Get(HeaderNonce)
		timestamp := r.Header.Get(HeaderTimestamp)
		signature := r.Header.Get(HeaderSignature)

		if userID == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if !m.isTimestampValid(ts) {
			jsonError(w, http.StatusUnauthorized, "timestamp expired or too far in future")
			return
		}

		if len(nonce) < minNonceLength {
			jsonError(w, http.StatusUnauthorized, "nonce must be at least 24 characters")
			return
		}

		id, err := uuid.Parse(userID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid user ID format")
			return
		}

		profile, err := m.profiles.GetProfile(r.Context(), id)
		if err != nil || profile == nil {
			jsonError(w, http.StatusUnauthorized, "user not found")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		pubkey, err := crypto.ValidatePublicKey(profile.PublicKey)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid user public key")
			return
		}
		signed := crypto.SignaturePayload(crypto.BodyHash(body), nonce, ts)
		if err := crypto.VerifySignature(pubkey, signed, signature); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Claimed only after the signature checks out, so forged requests
		// cannot burn a legitimate client's nonce.
		fresh, err := m.nonces.ClaimNonce(r.Context(), userID, nonce, nonceTTL)
		if err != nil {
			m.logger.Error().Err(err).Msg("nonce store unavailable")
			jsonError(w, http.StatusServiceUnavailable, "nonce store unavailable")
			return
		}
		if !fresh {
			jsonError(w, http.StatusUnauthorized, "nonce already used")
			return
		}

		ctx := context.WithValue(r.Context(), ProfileContextKey, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isTimestampValid accepts millisecond timestamps from the last window.
func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := m.now().UnixMilli()
	return ts > now-m.window.Milliseconds() && ts <= now
}

// RequireAdmin checks the admin token header against a bcrypt hash. An empty
// hash disables the admin routes.
func RequireAdmin(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				jsonError(w, http.StatusNotFound, "not found")
				return
			}
			token := r.Header.Get(HeaderAdminToken)
			if token == "" {
				jsonError(w, http.StatusUnauthorized, "admin token required")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				jsonError(w, http.StatusForbidden, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetProfileFromContext retrieves the authenticated profile from the request context.
func GetProfileFromContext(ctx context.Context) *models.Profile {
	p, ok := ctx.Value(ProfileContextKey).(*models.Profile)
	if !ok {
		return nil
	}
	return p
}

// WithProfile returns a context carrying p, as RequireAuth does.
func WithProfile(ctx context.Context, p *models.Profile) context.Context {
	return context.WithValue(ctx, ProfileContextKey, p)
}
