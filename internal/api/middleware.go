package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/domain/apikey"
)

type keyContextKey struct{}

// KeyFromContext returns the authenticated key set by Authenticate, if any.
func KeyFromContext(ctx context.Context) (*apikey.Key, bool) {
	k, ok := ctx.Value(keyContextKey{}).(*apikey.Key)
	return k, ok
}

// Authenticate returns middleware that verifies the request's API key,
// optionally requiring scopes, and stores the verified key in the request
// context. Failures are rendered as a JSON error body matching the
// authenticator's classification.
func Authenticate(a *auth.Authenticator, requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := a.Verify(r.Context(), httpRequest{r: r}, requiredScopes...)
			if !res.OK {
				writeAuthFailure(w, res)
				return
			}

			ctx := context.WithValue(r.Context(), keyContextKey{}, res.Key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthFailure renders the classified failure. Scope rejections are 403;
// every other failure is 401.
func writeAuthFailure(w http.ResponseWriter, res auth.Result) {
	status := http.StatusUnauthorized
	if res.Code == auth.CodeMissingScope {
		status = http.StatusForbidden
	}

	body := map[string]any{
		"error":   string(res.Code),
		"message": res.Message,
	}
	if len(res.RequiredScopes) > 0 {
		body["required_scopes"] = res.RequiredScopes
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
