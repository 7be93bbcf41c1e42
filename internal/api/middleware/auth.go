package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const memorySpaceContextKey contextKey = "memory_space"

// MemorySpaceHeader carries the caller's memory space. Requests may also name
// the space in the body; the header acts as a default.
const MemorySpaceHeader = "X-Memory-Space"

// MemorySpaceFromContext returns the memory space the request was scoped to,
// or "" when none was given.
func MemorySpaceFromContext(ctx context.Context) string {
	space, _ := ctx.Value(memorySpaceContextKey).(string)
	return space
}

// MemorySpace middleware stores the X-Memory-Space header in the request
// context for handlers that accept it as a body default.
func MemorySpace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		space := strings.TrimSpace(r.Header.Get(MemorySpaceHeader))
		ctx := context.WithValue(r.Context(), memorySpaceContextKey, space)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyAuth guards routes with a static bearer token. An empty configured key
// disables auth, for local development.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
