package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPServer serves health, metrics, dashboards, entity state and the
// websocket feed.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// ListenAndServe blocks until the server fails or is shut down. Shutdown is
// not reported as an error.
func (s *HTTPServer) ListenAndServe() error {
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// NewMux wires the core HTTP surface and any plugin handlers. hub may be
// nil to disable the websocket feed.
func NewMux(plugins []core.Plugin, registry *prometheus.Registry, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler(plugins))
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/dashboards/", DashboardsHandler(core.DashboardsMap(plugins)))
	mux.HandleFunc("/api/entities", EntitiesHandler(plugins))
	if hub != nil {
		mux.Handle("/ws", hub)
	}
	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	return mux
}
