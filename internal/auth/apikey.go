package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// RequireAPIKey admits requests carrying one of keys as a Bearer token.
// A missing token is 401, an unknown one 403.
func RequireAPIKey(keys []string, next http.Handler) http.Handler {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if !knownKey(valid, []byte(token)) {
			slog.Warn("API: invalid API key", "prefix", keyPrefix(token))
			http.Error(w, "invalid API key", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func knownKey(valid [][]byte, token []byte) bool {
	found := 0
	for _, k := range valid {
		found |= subtle.ConstantTimeCompare(k, token)
	}
	return found == 1
}

func keyPrefix(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return "..."
}
