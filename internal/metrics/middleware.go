package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// HTTPMiddleware records request counts, latency and error classes for
// every API call. With no global Metrics set it is a passthrough.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			observe(m, r, ww.Status(), time.Since(start))
		}()

		next.ServeHTTP(ww, r)
	})
}

func observe(m *Metrics, r *http.Request, status int, elapsed time.Duration) {
	if status == 0 {
		// Handler wrote no header and no body.
		status = http.StatusOK
	}

	path := normalizePath(r)
	m.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	m.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

	if status >= 400 {
		m.APIErrorsTotal.WithLabelValues(categorizeStatus(status)).Inc()
	}
}

// normalizePath collapses a request path to its route pattern so metric
// cardinality stays bounded regardless of how many campaigns exist.
func normalizePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	// No matched route, mask IDs by hand.
	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		if isUUID(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func categorizeStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "auth_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusConflict:
		return "conflict"
	}
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	}
	return "unknown"
}
