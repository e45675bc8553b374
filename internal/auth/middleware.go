package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
)

type contextKey struct{}

// ClaimsFromContext returns the JWT claims of an authenticated request.
// Requests admitted by API key carry claims with Subject "api-key".
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Authenticator admits a request carrying either the static API key or a
// valid JWT. Credentials are read from "Authorization: Bearer", the
// X-API-Key header, or a token query parameter for browser WebSocket and
// EventSource clients.
type Authenticator struct {
	tokens *TokenService
	apiKey string
	logger logr.Logger
}

func NewAuthenticator(tokens *TokenService, apiKey string, logger logr.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, apiKey: apiKey, logger: logger.WithName("auth")}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a.apiKey != "" || (a.tokens != nil && len(a.tokens.secret) > 0)
}

// Authenticate returns the request's claims or an error.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	credential := credentialFrom(r)
	if credential == "" {
		return nil, ErrInvalidToken
	}
	if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(a.apiKey)) == 1 {
		claims := &Claims{Role: "service"}
		claims.Subject = "api-key"
		return claims, nil
	}
	if a.tokens == nil {
		return nil, ErrInvalidToken
	}
	return a.tokens.Validate(credential)
}

// Middleware rejects unauthenticated requests with 401. With no credential
// configured every request passes.
func (a *Authenticator) Middleware() mux.MiddlewareFunc {
	if !a.Enabled() {
		a.logger.Info("No JWT secret or API key configured, team endpoints are open")
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authenticate(r)
			if err != nil {
				a.logger.V(1).Info("Rejected request", "path", r.URL.Path, "error", err.Error())
				w.Header().Set("WWW-Authenticate", `Bearer realm="medic"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
		})
	}
}

func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}
