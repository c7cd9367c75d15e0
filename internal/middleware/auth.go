package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AuthMiddleware creates an HTTP middleware that validates Bearer tokens.
// With no tokens configured every request passes.
func AuthMiddleware(validTokens []string, logger *zap.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "auth"))

	tokens := make([][]byte, 0, len(validTokens))
	for _, token := range validTokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, []byte(token))
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			logger.Warn("auth failed: missing Authorization header", zap.String("remote_addr", r.RemoteAddr))
			writeUnauthorized(w, "Authorization header required")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			logger.Warn("auth failed: invalid Authorization format", zap.String("remote_addr", r.RemoteAddr))
			writeUnauthorized(w, "Bearer token required")
			return
		}

		token := []byte(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
		if !validToken(tokens, token) {
			logger.Warn("auth failed: invalid token", zap.String("remote_addr", r.RemoteAddr))
			writeUnauthorized(w, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func validToken(tokens [][]byte, candidate []byte) bool {
	for _, token := range tokens {
		if subtle.ConstantTimeCompare(token, candidate) == 1 {
			return true
		}
	}
	return false
}

// writeUnauthorized answers in JSON-RPC shape so MCP clients can surface it.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32001,"message":"` + message + `"}}`))
}
