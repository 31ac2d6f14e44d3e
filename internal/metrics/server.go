package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus registry over HTTP, optionally behind
// an IP allow list.
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	addr       string
	path       string
	logger     *slog.Logger
	allowedIPs []netip.Prefix
}

// NewServer builds a metrics server. Entries in allowedIPs may be plain
// addresses or CIDR prefixes; with an empty list every client is served.
func NewServer(m *Metrics, addr, path string, allowedIPs []string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}

	s := &Server{
		metrics:    m,
		addr:       addr,
		path:       path,
		logger:     logger,
		allowedIPs: parseAllowList(allowedIPs, logger),
	}

	if len(s.allowedIPs) > 0 {
		logger.Info("metrics IP filtering enabled", "allowed_networks", len(s.allowedIPs))
	}
	return s
}

func parseAllowList(entries []string, logger *slog.Logger) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			pfx, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", entry, "error", err)
				continue
			}
			prefixes = append(prefixes, pfx.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid IP in allowed_ips", "ip", entry)
			continue
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes
}

// ListenAndServe blocks serving the registry until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	promHandler := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})

	mux := http.NewServeMux()
	mux.Handle(s.path, s.ipFilterMiddleware(promHandler))

	// Liveness probe stays open to load balancers regardless of the
	// allow list.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	s.logger.Info("starting metrics server", "addr", s.addr, "path", s.path)
	return s.httpServer.ListenAndServe()
}

func (s *Server) ipFilterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedIPs) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		client := s.clientAddr(r)
		if !client.IsValid() {
			s.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		for _, pfx := range s.allowedIPs {
			if pfx.Contains(client.Unmap()) {
				next.ServeHTTP(w, r)
				return
			}
		}

		s.logger.Warn("metrics access denied", "ip", client.String())
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// clientAddr resolves the caller address, trusting proxy headers when
// present and falling back to the socket peer.
func (s *Server) clientAddr(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr()
	}
	addr, _ := netip.ParseAddr(r.RemoteAddr)
	return addr
}

// Shutdown stops the metrics server, waiting for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
