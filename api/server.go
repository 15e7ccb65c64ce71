package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes /metrics and /health over HTTP, guarded by the
// authenticator.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on the given address, serving
// the provided registry.
func NewMetricsServer(addr string, reg *prometheus.Registry, auth *Authenticator) *MetricsServer {
	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(reg, auth),
		},
	}
}

// Handler builds the operational HTTP handler. Split out so tests can serve
// it without binding a port.
func Handler(reg *prometheus.Registry, auth *Authenticator) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if auth != nil && auth.IsEnabled() {
		return auth.Middleware(mux)
	}
	return mux
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
