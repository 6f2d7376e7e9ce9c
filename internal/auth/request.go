package auth

// Request is the minimal view of an incoming request the authenticator
// needs: named header and query-parameter access plus the transport
// security flag. The HTTP layer adapts *http.Request onto this.
type Request interface {
	// Header returns the named header value, or "" when absent.
	Header(name string) string
	// QueryParam returns the named query parameter, or "" when absent.
	QueryParam(name string) string
	// Secure reports whether the request arrived over TLS.
	Secure() bool
}
