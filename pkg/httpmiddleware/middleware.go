// Package httpmiddleware provides composable net/http middleware shared by
// the API server: panic recovery, request IDs, CORS, rate limiting, request
// logging, and tracing instrumentation.
package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Middleware wraps an http.Handler with additional behaviour.
type Middleware = func(http.Handler) http.Handler

// Wrap applies middlewares to h in order: the first middleware becomes the
// outermost layer.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// InjectLogger stores lg in each request's context so handlers can retrieve
// it with zctx.From.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := zctx.Base(r.Context(), lg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Instrument wraps the handler with OpenTelemetry HTTP instrumentation under
// the given operation name.
func Instrument(operation string, opts ...otelhttp.Option) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation, opts...)
	}
}

// statusWriter captures the response status code for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// LogRequests logs one line per request with method, path, status, duration,
// and the request ID when present.
func LogRequests() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			zctx.From(r.Context()).Info("http request", fields...)
		})
	}
}
