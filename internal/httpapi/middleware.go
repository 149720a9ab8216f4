package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey int

const userIDKey ctxKey = iota

// requireUser reads the caller identity from the X-User-ID header.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(userHeader))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// requireCounselor checks the shared counselor bearer token.
func (s *Server) requireCounselor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CounselorToken == "" {
			respondError(w, http.StatusNotFound, "counselor_disabled", "counselor console is not configured")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CounselorToken)) != 1 {
			respondError(w, http.StatusForbidden, "forbidden", "counselor token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func counselorName(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get(counselorHeader)); name != "" {
		return name
	}
	return "counselor"
}
