package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/lsherwin/chalkboard/internal/db"
	"github.com/lsherwin/chalkboard/internal/models"
	"go.uber.org/zap"
)

type contextKey string

const userContextKey contextKey = "user"

// RequireUser resolves the bearer token to a user and stores it on the
// request context. Requests without a valid token get a 401.
func (h *Handler) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := h.db.UserByToken(token)
		if err == db.ErrNotFound {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if err != nil {
			h.logger.Error("failed to look up user", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// userFrom returns the authenticated user. Handlers are only reachable
// through RequireUser, so the value is always present.
func userFrom(r *http.Request) *models.User {
	return r.Context().Value(userContextKey).(*models.User)
}
