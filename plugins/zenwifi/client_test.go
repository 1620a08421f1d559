package zenwifi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DanrwAU/zenwifi/internal/oauth"
)

type fakeTokens struct {
	mu          sync.Mutex
	token       string
	next        string
	err         error
	loginErr    error
	refreshErr  error
	invalidated []string
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokens) Invalidate(stale string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, stale)
	if stale == f.token && f.next != "" {
		f.token = f.next
	}
}

func (f *fakeTokens) Login(context.Context) error { return f.loginErr }

func (f *fakeTokens) Refresh(context.Context) error { return f.refreshErr }

func newTestClient(t *testing.T, handler http.Handler, tokens TokenSource) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL}, tokens, server.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestDevicesCachesConsumerID(t *testing.T) {
	var userinfo int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer t1" {
			t.Errorf("unexpected authorization %q", got)
		}
		switch r.URL.Path {
		case "/api/v1/account/userinfo":
			atomic.AddInt32(&userinfo, 1)
			respondJSON(w, `{"consumerId":42}`)
		case "/api/v1/consumer/device/getall":
			if got := r.URL.Query().Get("consumerId"); got != "42" {
				t.Errorf("unexpected consumerId %q", got)
			}
			respondJSON(w, `{"devices":[{"id":101,"name":"Hall"},{"id":"abc"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})

	for i := 0; i < 2; i++ {
		devices, err := client.Devices(context.Background())
		if err != nil {
			t.Fatalf("Devices: %v", err)
		}
		if len(devices) != 2 || devices[0].ID != "101" || devices[0].Name != "Hall" || devices[1].ID != "abc" {
			t.Fatalf("unexpected devices: %+v", devices)
		}
	}
	if got := atomic.LoadInt32(&userinfo); got != 1 {
		t.Fatalf("expected one userinfo call, got %d", got)
	}
}

func TestConsumerIDMissing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, `{"email":"user@example.com"}`)
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})

	if _, err := client.ConsumerID(context.Background()); !errors.Is(err, ErrAPI) {
		t.Fatalf("expected ErrAPI, got %v", err)
	}
}

func TestRetriesOnceAfterUnauthorized(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") == "Bearer old" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		respondJSON(w, `{"isOnline":true,"mode":2,"currentTemperature":21.5,"coolingSetpoint":null}`)
	})
	tokens := &fakeTokens{token: "old", next: "new"}
	client := newTestClient(t, handler, tokens)

	status, err := client.DeviceStatus(context.Background(), "101")
	if err != nil {
		t.Fatalf("DeviceStatus: %v", err)
	}
	if status.Mode == nil || *status.Mode != 2 || status.CurrentTemperature == nil || *status.CurrentTemperature != 21.5 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.CoolingSetpoint != nil {
		t.Fatalf("expected null setpoint to read as absent")
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != "old" {
		t.Fatalf("unexpected invalidations: %v", tokens.invalidated)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestSecondUnauthorizedIsAuthenticationError(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})

	_, err := client.DeviceStatus(context.Background(), "101")
	if !errors.Is(err, ErrAuthentication) || !errors.Is(err, ErrAPI) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected exactly one retry, got %d requests", got)
	}
}

func TestSetModeBody(t *testing.T) {
	type request struct {
		path string
		body map[string]any
	}
	var (
		mu       sync.Mutex
		requests []request
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		body := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		requests = append(requests, request{path: r.URL.Path, body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "OK")
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})
	ctx := context.Background()

	if err := client.SetMode(ctx, "7", CommandHeat, ptrFloat(21.5)); err != nil {
		t.Fatalf("SetMode heat: %v", err)
	}
	if err := client.SetMode(ctx, "7", CommandOff, ptrFloat(20)); err != nil {
		t.Fatalf("SetMode off: %v", err)
	}
	if err := client.SetMode(ctx, "7", CommandEmergencyHeat, nil); err != nil {
		t.Fatalf("SetMode emergency heat: %v", err)
	}

	if len(requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(requests))
	}
	if requests[0].path != "/api/v1/device/heat" || requests[0].body["deviceid"] != float64(7) || requests[0].body["setpoint"] != 21.5 {
		t.Fatalf("unexpected heat request: %+v", requests[0])
	}
	if requests[1].path != "/api/v1/device/off" {
		t.Fatalf("unexpected off path %s", requests[1].path)
	}
	if _, ok := requests[1].body["setpoint"]; ok {
		t.Fatalf("off must not carry a setpoint: %+v", requests[1].body)
	}
	if requests[2].path != "/api/v1/device/emergency/heat" {
		t.Fatalf("unexpected emergency path %s", requests[2].path)
	}
	if _, ok := requests[2].body["setpoint"]; ok {
		t.Fatalf("nil setpoint must be omitted: %+v", requests[2].body)
	}
}

func TestSetModeRejectsAuto(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})

	err := client.SetMode(context.Background(), "7", CommandMode("auto"), nil)
	if !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
}

func TestUnexpectedStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})

	_, err := client.DeviceStatus(context.Background(), "101")
	var statusErr HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if !errors.Is(err, ErrAPI) || errors.Is(err, ErrAuthentication) || errors.Is(err, ErrCommunication) {
		t.Fatalf("unexpected classification: %v", err)
	}
}

func TestNonJSONResponseDecodesEmpty(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>maintenance</html>")
	})
	client := newTestClient(t, handler, &fakeTokens{token: "t1"})

	status, err := client.DeviceStatus(context.Background(), "101")
	if err != nil {
		t.Fatalf("DeviceStatus: %v", err)
	}
	if status.IsOnline != nil || status.Mode != nil {
		t.Fatalf("expected empty status, got %+v", status)
	}
}

func TestTransportFailureIsCommunicationError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: baseURL}, &fakeTokens{token: "t1"}, &http.Client{Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Devices(context.Background()); !errors.Is(err, ErrCommunication) {
		t.Fatalf("expected ErrCommunication, got %v", err)
	}
}

func TestTokenErrorsAreClassified(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	tokens := &fakeTokens{
		err:        fmt.Errorf("login: %w", oauth.ErrInvalidCredentials),
		loginErr:   errors.New("dial tcp: connection refused"),
		refreshErr: oauth.ErrNoRefreshToken,
	}
	client := newTestClient(t, handler, tokens)
	ctx := context.Background()

	if _, err := client.DeviceStatus(ctx, "101"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication from token source, got %v", err)
	}
	if err := client.Authenticate(ctx); !errors.Is(err, ErrCommunication) {
		t.Fatalf("expected ErrCommunication from login, got %v", err)
	}
	if err := client.RefreshTokens(ctx); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication from refresh, got %v", err)
	}
}

func TestClientWithTokenManager(t *testing.T) {
	api := newFakeAPI(t)
	server := httptest.NewServer(api)
	defer server.Close()

	cfg := Config{
		BaseURL:     server.URL,
		Credentials: oauth.Credentials{Username: "user@example.com", Password: "secret"},
		StatePath:   t.TempDir() + "/zenwifi.json",
	}
	manager, err := oauth.NewManager(cfg.OAuthDeclaration(), cfg.Credentials, nil, oauth.Options{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	client, err := NewClient(cfg, manager, server.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	api.reject("access-1")

	info, err := client.UserInfo(ctx)
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if info["email"] != "user@example.com" {
		t.Fatalf("unexpected userinfo: %v", info)
	}
	grants := api.grantTypes()
	if len(grants) != 2 || grants[0] != "password" || grants[1] != "refresh_token" {
		t.Fatalf("expected login then refresh, got %v", grants)
	}
}
