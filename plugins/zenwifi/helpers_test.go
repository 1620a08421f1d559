package zenwifi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func ptrFloat(v float64) *float64 { return &v }

func ptrBool(v bool) *bool { return &v }

func ptrInt(v int) *int { return &v }

// fakeSource serves a fixed account from memory.
type fakeSource struct {
	mu         sync.Mutex
	devices    []Device
	statuses   map[DeviceID]Status
	statusErrs map[DeviceID]error
	devicesErr error
}

func newFakeSource(devices ...Device) *fakeSource {
	return &fakeSource{
		devices:    devices,
		statuses:   make(map[DeviceID]Status),
		statusErrs: make(map[DeviceID]error),
	}
}

func (f *fakeSource) Devices(context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return append([]Device(nil), f.devices...), nil
}

func (f *fakeSource) DeviceStatus(_ context.Context, id DeviceID) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErrs[id]; err != nil {
		return Status{}, err
	}
	status, ok := f.statuses[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: no status for %s", ErrCommunication, id)
	}
	return status, nil
}

func (f *fakeSource) setStatus(id DeviceID, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

func (f *fakeSource) setDevicesErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devicesErr = err
}

type sentCommand struct {
	id       DeviceID
	mode     CommandMode
	setpoint *float64
}

// fakeCommander records commands and rejects modes without an endpoint the
// same way the client does.
type fakeCommander struct {
	mu    sync.Mutex
	calls []sentCommand
	err   error
}

func (f *fakeCommander) SetMode(_ context.Context, id DeviceID, mode CommandMode, setpoint *float64) error {
	if _, ok := commandPaths[mode]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, sentCommand{id: id, mode: mode, setpoint: setpoint})
	return nil
}

func (f *fakeCommander) sent() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.calls...)
}

// onlineStatus is a heating thermostat reporting every key.
func onlineStatus() Status {
	return Status{
		IsOnline:           ptrBool(true),
		IsOnCWire:          ptrBool(true),
		Mode:               ptrInt(int(ModeHeat)),
		CurrentTemperature: ptrFloat(20.5),
		HeatingSetpoint:    ptrFloat(21),
		CoolingSetpoint:    ptrFloat(25),
	}
}

func setupCoordinator(t *testing.T, source DataSource) *Coordinator {
	t.Helper()
	c := NewCoordinator(source, time.Minute, nil)
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return c
}

// fakeAPI is an in-memory Zen cloud: token endpoint, account, device list,
// status and command endpoints.
type fakeAPI struct {
	t *testing.T

	mu           sync.Mutex
	grants       []string
	issued       int
	rejectTokens map[string]bool
	userinfoHits int
	devices      string
	statuses     map[string]string
	commands     []apiCommand
}

type apiCommand struct {
	Path string
	Body map[string]any
}

func newFakeAPI(t *testing.T) *fakeAPI {
	return &fakeAPI{
		t:            t,
		rejectTokens: make(map[string]bool),
		devices:      `{"devices":[{"id":101,"name":"Hall Thermostat","locationId":5}]}`,
		statuses: map[string]string{
			"101": `{"isOnline":true,"isOnCWire":false,"mode":0,"currentTemperature":19.5,"heatingSetpoint":21,"coolingSetpoint":24,"relayStates":{"w1":true}}`,
		},
	}
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.URL.Path == tokenPath {
		a.token(w, r)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || a.rejectTokens[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/api/v1/account/userinfo":
		a.userinfoHits++
		respondJSON(w, `{"consumerId":9001,"email":"user@example.com"}`)
	case r.URL.Path == "/api/v1/consumer/device/getall":
		if got := r.URL.Query().Get("consumerId"); got != "9001" {
			a.t.Errorf("unexpected consumerId %q", got)
		}
		respondJSON(w, a.devices)
	case r.URL.Path == "/api/v1/device/status":
		status, ok := a.statuses[r.URL.Query().Get("deviceId")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		respondJSON(w, status)
	case strings.HasPrefix(r.URL.Path, "/api/v1/device/") && r.Method == http.MethodPost:
		body := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.t.Errorf("decode command: %v", err)
		}
		a.commands = append(a.commands, apiCommand{Path: r.URL.Path, Body: body})
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "OK")
	default:
		a.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *fakeAPI) token(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, err := url.ParseQuery(string(body))
	if err != nil {
		a.t.Errorf("parse token form: %v", err)
	}
	grant := form.Get("grant_type")
	a.grants = append(a.grants, grant)
	if grant == "password" && form.Get("password") != "secret" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
		return
	}
	a.issued++
	respondJSON(w, fmt.Sprintf(`{"access_token":"access-%d","refresh_token":"refresh-%d","token_type":"bearer","expires_in":3600}`, a.issued, a.issued))
}

func (a *fakeAPI) reject(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejectTokens[token] = true
}

func (a *fakeAPI) grantTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.grants...)
}

func (a *fakeAPI) sentCommands() []apiCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]apiCommand(nil), a.commands...)
}

func respondJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}
