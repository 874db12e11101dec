package middleware

import "net/http"

// RequireRole lets the request through only for operators holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "Authentication required")
				return
			}
			if !actor.HasRole(roles...) {
				writeError(w, r, http.StatusForbidden, codeForbidden, "Permission denied", map[string]any{"requiredRoles": roles})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
