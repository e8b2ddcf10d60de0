package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireAdminAuth wraps a handler with bearer-token auth, adapted from the
// teacher's AgentAuthMiddleware: a grace period (Enabled=false) logs a
// would-be rejection instead of enforcing it, so an operator can roll out
// auth without an immediate hard cutover.
func (s *Server) requireAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth.TokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			s.rejectOrWarn(w, r, next, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if err := bcrypt.CompareHashAndPassword([]byte(s.auth.TokenHash), []byte(token)); err != nil {
			s.rejectOrWarn(w, r, next, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) rejectOrWarn(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, reason string) {
	logger := s.auth.Logger
	if logger == nil {
		logger = s.logger
	}
	if s.auth.Enabled {
		logger.Warn("admin auth rejected", "path", r.URL.Path, "reason", reason)
		http.Error(w, "unauthorized: "+reason, http.StatusUnauthorized)
		return
	}
	logger.Debug("admin auth would reject (grace period)", "path", r.URL.Path, "reason", reason)
	next.ServeHTTP(w, r)
}
