package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to make cross-origin requests.
	// Empty, or the single entry "*", allows all origins.
	AllowOrigins []string

	// AllowMethods lists the HTTP methods clients may use. Defaults to
	// "GET, POST, PATCH, DELETE, OPTIONS" when empty.
	AllowMethods []string

	// AllowHeaders lists the request headers clients may send. When empty
	// the middleware echoes the preflight's Access-Control-Request-Headers.
	AllowHeaders []string

	// ExposeHeaders lists response headers the browser may read.
	ExposeHeaders []string

	// AllowCredentials permits credentialed requests. The wildcard origin
	// is forbidden with credentials, so the specific origin is echoed.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0".
	MaxAge int
}

// CORS returns a middleware handling Cross-Origin Resource Sharing with
// case-insensitive origin matching and Vary headers on every branch so
// shared caches never serve a response across origins.
func CORS(cfg CORSConfig) Middleware {
	allowAll := len(cfg.AllowOrigins) == 0
	allowed := make(map[string]string, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		allowed[strings.ToLower(o)] = o
	}
	if cfg.AllowCredentials {
		allowAll = false
	}

	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	if allowMethods == "" {
		allowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	}
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")

	maxAge := ""
	switch {
	case cfg.MaxAge > 0:
		maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		maxAge = "0"
	}

	allowOriginFor := func(origin string) string {
		if allowAll {
			return "*"
		}
		return allowed[strings.ToLower(origin)]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !allowAll {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allowOrigin := allowOriginFor(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Add("Vary", "Origin")
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")

				if allowOrigin != "" {
					w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
					w.Header().Set("Access-Control-Allow-Methods", allowMethods)

					switch {
					case allowHeaders != "":
						w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
					default:
						if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
							w.Header().Set("Access-Control-Allow-Headers", rh)
						}
					}
					if cfg.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
					if maxAge != "" {
						w.Header().Set("Access-Control-Max-Age", maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if !allowAll {
				w.Header().Add("Vary", "Origin")
			}
			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if exposeHeaders != "" {
					w.Header().Set("Access-Control-Expose-Headers", exposeHeaders)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
