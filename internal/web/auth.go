package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// handleLogin exchanges the configured API password for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}

	password := s.settings.Get().APIPassword
	if password == "" {
		s.jsonError(w, http.StatusBadRequest, "Kein API-Passwort konfiguriert")
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Password), []byte(password)) != 1 {
		s.jsonError(w, http.StatusUnauthorized, "Ungültiges Passwort")
		return
	}

	token, err := s.jwt.Generate()
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"token": token})
}

// requireAuth validates the session token on every API request. The check
// is skipped entirely while no API password is configured. The token is
// taken from the Authorization header, the session cookie or, for
// WebSocket clients, the token query parameter.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.settings.Get().APIPassword == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			s.jsonError(w, http.StatusUnauthorized, "Nicht angemeldet")
			return
		}
		if err := s.jwt.Validate(token); err != nil {
			s.jsonError(w, http.StatusUnauthorized, "Ungültiger Token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return bearer
	}
	if cookie, err := r.Cookie("guenther_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
