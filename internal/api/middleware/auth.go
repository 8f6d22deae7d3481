package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/auth"
)

// AuthCookie carries the member token.
const AuthCookie = "x-auth-token"

// MemberHandler serves a request already authorized for one room.
type MemberHandler func(w http.ResponseWriter, r *http.Request, capability auth.Capability)

// Authorizer resolves a room id and token into a capability.
type Authorizer interface {
	Authorize(ctx context.Context, roomID, token string) (auth.Capability, error)
}

// AuthMiddleware guards room-scoped endpoints.
type AuthMiddleware struct {
	gate   Authorizer
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(gate Authorizer, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{gate: gate, logger: logger}
}

// RequireMember reads the roomId query parameter and the auth cookie, and
// calls next with the resolved capability. Every rejection looks the same
// to the client.
func (m *AuthMiddleware) RequireMember(next MemberHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("roomId")

		var token string
		if cookie, err := r.Cookie(AuthCookie); err == nil {
			token = cookie.Value
		}

		capability, err := m.gate.Authorize(r.Context(), roomID, token)
		if err != nil {
			if !errors.Is(err, apperr.ErrUnauthorized) {
				m.logger.Error().Err(err).Str("room_id", roomID).Msg("authorization failed")
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":   "Internal Server Error",
					"message": err.Error(),
				})
				return
			}

			m.logger.Warn().
				Str("type", "security").
				Str("event", "unauthorized").
				Str("ip", RealIP(r)).
				Str("endpoint", r.URL.Path).
				Str("reason", err.Error()).
				Msg("unauthorized room access")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next(w, r, capability)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
