package server

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const ctxAuthedKey ctxKey = "coordinator_authed"

// authMiddleware enforces a static bearer token against cfg.APIKey for
// every write endpoint, and for read endpoints too when ReadAuth is set,
// except for any path matching PublicPrefixes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		write := r.Method != http.MethodGet && r.Method != http.MethodHead
		if !write && !s.cfg.ReadAuth {
			next.ServeHTTP(w, r)
			return
		}

		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
			return
		}
		ctx := context.WithValue(r.Context(), ctxAuthedKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authorized(r *http.Request) bool {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return key != "" && key == s.cfg.APIKey
}

func (s *Server) isPublic(path string) bool {
	for _, prefix := range s.cfg.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
