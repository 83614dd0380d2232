package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKey guards write endpoints with an X-API-Key header check. An
// empty configured key disables the endpoint entirely rather than
// leaving it open.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				http.Error(w, "ingestion is not configured", http.StatusForbidden)
				return
			}
			given := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
