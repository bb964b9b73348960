package httpd

import (
	"context"
	"net/http"

	"github.com/fonoaudio/evaluation-service/internal/service"
)

type contextKey string

const principalKey contextKey = "principal"

// RequirePrincipal extracts the caller identity set by the auth gateway.
// Authentication itself happens upstream; requests that reach this service
// without an identity header are rejected.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}

		role := r.Header.Get("X-User-Role")
		if role == "" {
			role = service.RoleAnonymous
		}

		principal := service.Principal{ID: userID, Role: role}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) service.Principal {
	principal, _ := ctx.Value(principalKey).(service.Principal)
	return principal
}
