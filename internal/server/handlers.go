package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DanrwAU/zenwifi/internal/core"
)

type pluginHealth struct {
	Status  core.HealthStatus `json:"status"`
	Message string            `json:"message,omitempty"`
}

type healthResponse struct {
	Status  core.HealthStatus       `json:"status"`
	Plugins map[string]pluginHealth `json:"plugins"`
}

// HealthHandler reports the worst plugin health. ERROR answers 503 so the
// endpoint can back a readiness probe.
func HealthHandler(plugins []core.Plugin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: core.HealthHealthy, Plugins: make(map[string]pluginHealth, len(plugins))}
		for _, p := range plugins {
			status := p.Health()
			resp.Plugins[p.ID()] = pluginHealth{Status: status, Message: p.HealthMessage()}
			switch {
			case status == core.HealthError:
				resp.Status = core.HealthError
			case status == core.HealthDegraded && resp.Status == core.HealthHealthy:
				resp.Status = core.HealthDegraded
			}
		}

		code := http.StatusOK
		if resp.Status == core.HealthError {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// EntitiesHandler renders every entity's current state, sorted by unique id.
func EntitiesHandler(plugins []core.Plugin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, EntityStates(plugins))
	}
}

// EntityStates snapshots the entities of plugins, sorted by unique id.
func EntityStates(plugins []core.Plugin) []core.EntityState {
	entities := core.CollectEntities(plugins)
	states := make([]core.EntityState, 0, len(entities))
	for _, e := range entities {
		states = append(states, core.Snapshot(e))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UniqueID < states[j].UniqueID })
	return states
}

// MetricsHandler exposes the Prometheus registry. A failing collector is
// reported in the scrape instead of failing it.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry:          registry,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

// DashboardsHandler serves embedded dashboards by path. The bare prefix
// lists the available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/dashboards/" {
			paths := make([]string, 0, len(dashboards))
			for path := range dashboards {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			writeJSON(w, http.StatusOK, map[string][]string{"dashboards": paths})
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
