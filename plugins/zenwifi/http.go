package zenwifi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/DanrwAU/zenwifi/internal/rate"
)

const (
	thermostatsEndpoint = "/zenwifi/thermostats"
	modeEndpoint        = "/zenwifi/thermostats/mode"
	temperatureEndpoint = "/zenwifi/thermostats/temperature"
	refreshEndpoint     = "/zenwifi/refresh"
	commandTimeout      = 20 * time.Second
)

var _ core.HTTPRegistrant = (*Plugin)(nil)

// RegisterHTTP exposes thermostat state and commands. Thermostats are
// addressed by the device query parameter, an id or a name.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc(thermostatsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ref := r.URL.Query().Get("device")
		if ref == "" {
			views := make([]ClimateView, 0, len(p.climates))
			for _, c := range p.climates {
				views = append(views, climateView(c))
			}
			writeJSON(w, http.StatusOK, views)
			return
		}
		climate, err := p.Climate(ref)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, climateView(climate))
	})

	mux.HandleFunc(modeEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()

		query := r.URL.Query()
		if err := p.SetHVACMode(ctx, query.Get("device"), query.Get("mode")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc(temperatureEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()
		temperature, err := strconv.ParseFloat(query.Get("temperature"), 64)
		if err != nil {
			http.Error(w, "temperature must be a number", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()

		if err := p.SetTemperature(ctx, query.Get("device"), temperature); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc(refreshEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := p.coordinator.Refresh(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func httpStatus(err error) int {
	var rateErr rate.RateLimitError
	switch {
	case errors.Is(err, ErrUnknownThermostat):
		return http.StatusNotFound
	case errors.Is(err, ErrTemperatureUnsupported):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupportedMode):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
