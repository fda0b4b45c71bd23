package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultMetricsAddr is the default address for the metrics server.
	DefaultMetricsAddr = ":9090"

	defaultMetricsReadTimeout  = 10 * time.Second
	defaultMetricsWriteTimeout = 10 * time.Second
	defaultMetricsIdleTimeout  = 60 * time.Second
)

// MetricsServer serves Prometheus metrics on a dedicated port. Keeping
// metrics off the main listener prevents unauthorized access to
// operational metrics through the public surface.
type MetricsServer struct {
	httpServer *http.Server
}

// NewMetricsServer creates a metrics server exposing /metrics for
// Prometheus scraping.
func NewMetricsServer(addr string) *MetricsServer {
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  defaultMetricsReadTimeout,
			WriteTimeout: defaultMetricsWriteTimeout,
			IdleTimeout:  defaultMetricsIdleTimeout,
		},
	}
}

// Start runs the metrics server until it is shut down.
func (m *MetricsServer) Start() error {
	slog.Info("starting metrics server", slog.String("addr", m.httpServer.Addr))
	if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.httpServer.Shutdown(ctx)
}
