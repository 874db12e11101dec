package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/circularops/api/internal/auth"
	"github.com/circularops/api/internal/store"
)

type AuthMiddleware struct {
	Sessions   store.Operators
	CookieName string
	Logger     *slog.Logger
}

func (m AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.CookieName)
		if err != nil || cookie.Value == "" {
			unauthorized(w, r, "Authentication required")
			return
		}

		principal, err := m.Sessions.SessionPrincipal(r.Context(), auth.HashToken(cookie.Value))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				unauthorized(w, r, "Session is invalid")
				return
			}
			writeError(w, r, http.StatusInternalServerError, codeInternal, "Failed to load session", nil)
			return
		}

		if err := m.Sessions.TouchSession(r.Context(), principal.SessionID); err != nil && m.Logger != nil {
			m.Logger.Warn("session_touch_failed", "session_id", principal.SessionID, "error", err)
		}

		ctx := WithActor(r.Context(), Actor{
			SessionID:  principal.SessionID,
			OperatorID: principal.OperatorID,
			Email:      principal.Email,
			FullName:   principal.FullName,
			Role:       principal.Role,
			CSRFToken:  principal.CSRFToken,
			ExpiresAt:  principal.ExpiresAt,
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
