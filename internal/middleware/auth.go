package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/service"
)

type contextKey string

const adminKey contextKey = "adminUser"

// AdminFromContext returns the authenticated admin stored by AdminAuth.
func AdminFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(adminKey).(*model.User)
	return u, ok
}

// AdminAuth verifies the bearer token and requires an active admin account.
// Every shortfall answers 403 so probes cannot tell a bad token from a
// non-admin account.
func AdminAuth(authSvc service.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	l := logger.With("layer", "middleware", "component", "adminAuth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				l.Warn("Missing bearer token", slog.String("path", r.URL.Path))
				forbidden(w)
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			user, err := authSvc.CurrentUser(r.Context(), token)
			if err != nil {
				l.Warn("Token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				forbidden(w)
				return
			}
			if !authSvc.IsAdminUser(user) {
				l.Warn("Non-admin blocked",
					slog.String("path", r.URL.Path),
					slog.Int64("user_id", user.ID))
				forbidden(w)
				return
			}

			ctx := context.WithValue(r.Context(), adminKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"success":false,"error":"admin access required"}`))
}
