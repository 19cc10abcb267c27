// Package middleware holds the HTTP middleware of the vahan-rakshak API:
// request logging, tracing and API key authentication.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// quietRoutes are polled by orchestrators and scrapers every few seconds.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/metrics": true,
}

// responseWriter records what the handler sent.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// routeOf returns the matched chi pattern, e.g. /v1/status/{vehicleId}, or
// the raw path when nothing matched. Valid only after the router has run.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// vehicleOf returns the {vehicleId} URL parameter of the matched route.
func vehicleOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("vehicleId")
	}
	return ""
}

func levelFor(route string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case quietRoutes[route]:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger logs one line per request, keyed by route pattern so vehicle reads
// group together. Agent routes block while a reply is polled, so duration is
// the field to watch.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		route := routeOf(r)
		event := log.WithLevel(levelFor(route, rw.statusCode)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", time.Since(start))
		if v := vehicleOf(r); v != "" {
			event = event.Str("vehicle_id", v)
		}
		event.Msg("request")
	})
}
