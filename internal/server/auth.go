package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
)

// ctxKeyAPIKey is the context key under which keyAuth stores the
// authenticated API key for downstream handlers.
type ctxKeyAPIKey struct{}

// withAPIKey returns a child context carrying the authenticated key.
func withAPIKey(ctx context.Context, key *model.APIKey) context.Context {
	return context.WithValue(ctx, ctxKeyAPIKey{}, key)
}

// keyFromContext returns the API key attached by keyAuth, or nil when the
// request never passed through it.
func keyFromContext(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(ctxKeyAPIKey{}).(*model.APIKey)
	return key
}

// adminAuth returns an HTTP middleware that protects the management plane
// with a static Bearer token. If token is empty the middleware is a no-op —
// auth is disabled and a warning is logged at server startup (not per-request).
//
// Protected routes must supply:
//
//	Authorization: Bearer <token>
//
// Requests missing or presenting an incorrect token receive 401 Unauthorized
// with a WWW-Authenticate: Bearer challenge. The invalid token value is never
// logged — only its presence/absence is recorded.
func adminAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		// Auth disabled — pass all requests through unchanged.
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		got := bearerToken(r)
		if got == "" {
			log.Warn("auth: missing Authorization header",
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="corpusd"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authorization required"})
			return
		}

		if got != token {
			log.Warn("auth: invalid admin token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="corpusd" error="invalid_token"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// keyAuth returns an HTTP middleware that authenticates data-plane requests
// with a per-team API key and attaches the key record to the request context.
// Unlike adminAuth there is no disabled mode: a data-plane request without a
// valid, active key is always rejected with 401. The secret itself is never
// logged — only its presence/absence is recorded.
func (s *Server) keyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		secret := bearerToken(r)
		key, err := s.auth.Authenticate(r.Context(), secret)
		if err != nil {
			log.Warn("auth: rejected api key",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", secret != ""),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="corpusd"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid or missing api key"})
			return
		}

		next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), key)))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
