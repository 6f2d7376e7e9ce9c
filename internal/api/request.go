// Package api exposes the key-management HTTP endpoints and the
// authenticating middleware over the verification engine.
package api

import (
	"net/http"
	"strings"

	"github.com/keyward/keyward/internal/auth"
)

var _ auth.Request = httpRequest{}

// httpRequest adapts *http.Request onto the authenticator's transport view.
type httpRequest struct {
	r *http.Request
}

func (h httpRequest) Header(name string) string {
	return h.r.Header.Get(name)
}

func (h httpRequest) QueryParam(name string) string {
	return h.r.URL.Query().Get(name)
}

// Secure reports whether the request arrived over TLS, trusting the
// X-Forwarded-Proto header set by a terminating proxy.
func (h httpRequest) Secure() bool {
	if h.r.TLS != nil {
		return true
	}
	return strings.EqualFold(h.r.Header.Get("X-Forwarded-Proto"), "https")
}
