package rate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBudgetRefillsOverWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGuardAt(Provider("zenwifi").MaxRequestsPer(Minute, 2), clock.Now)

	if !g.ShouldCall().Allowed || !g.ShouldCall().Allowed {
		t.Fatalf("expected first two calls to pass")
	}
	decision := g.ShouldCall()
	if decision.Allowed || decision.Reason != "budget" {
		t.Fatalf("expected budget block, got %+v", decision)
	}
	if want := clock.now.Add(30 * time.Second); !decision.RetryAt.Equal(want) {
		t.Fatalf("unexpected retry at %s, want %s", decision.RetryAt, want)
	}

	clock.Advance(30 * time.Second)
	if !g.ShouldCall().Allowed {
		t.Fatalf("expected refill after half a window")
	}
}

func TestNoLimitsDisablesCalls(t *testing.T) {
	g := NewGuard(Provider("zenwifi"))
	if d := g.ShouldCall(); d.Allowed || d.Reason != "disabled" {
		t.Fatalf("expected disabled, got %+v", d)
	}
}

func TestRetryAfterStartsCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGuardAt(Provider("zenwifi").MaxRequestsPer(Minute, 100).ReadHeaders(StandardHeaders()), clock.Now)

	headers := http.Header{}
	headers.Set("Retry-After", "120")
	g.RecordResponse(http.StatusServiceUnavailable, headers)

	d := g.ShouldCall()
	if d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown, got %+v", d)
	}
	clock.Advance(121 * time.Second)
	if !g.ShouldCall().Allowed {
		t.Fatalf("expected call after cooldown")
	}
}

func TestTooManyRequestsWithoutHeader(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGuardAt(Provider("zenwifi").MaxRequestsPer(Minute, 100), clock.Now)
	g.RecordResponse(http.StatusTooManyRequests, http.Header{})
	if d := g.ShouldCall(); d.Reason != "cooldown" {
		t.Fatalf("expected cooldown after 429, got %+v", d)
	}
}

func TestWrapHTTPBlocksAndServesCachedGET(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	decl := Provider("zenwifi").MaxRequestsPer(Minute, 1).CacheFor(time.Minute)
	client := WrapHTTP(decl, &http.Client{Timeout: time.Second})

	resp, err := client.Get(server.URL + "/api/v1/device/status?deviceId=1")
	if err != nil {
		t.Fatalf("first GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", body)
	}

	resp, err = client.Get(server.URL + "/api/v1/device/status?deviceId=1")
	if err != nil {
		t.Fatalf("cached GET: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected cached body %s", body)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected one upstream hit, got %d", hits)
	}

	_, err = client.Post(server.URL+"/api/v1/device/off", "application/json", nil)
	var rateErr RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError for POST, got %v", err)
	}
	if rateErr.Provider != "zenwifi" || rateErr.Reason != "budget" {
		t.Fatalf("unexpected rate error: %+v", rateErr)
	}
}
