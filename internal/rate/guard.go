package rate

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned when the guard blocks a call.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	period   time.Duration
	tokens   float64
	last     time.Time
}

// take refills the bucket linearly over its period and consumes one token.
func (b *bucket) take(now time.Time) (bool, time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * float64(b.capacity) / b.period.Seconds()
		if b.tokens > float64(b.capacity) {
			b.tokens = float64(b.capacity)
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, time.Time{}
	}
	missing := 1 - b.tokens
	wait := time.Duration(missing * b.period.Seconds() / float64(b.capacity) * float64(time.Second))
	return false, now.Add(wait)
}

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Guard enforces a provider's request budget in front of an http.RoundTripper.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
	cache    map[string]cacheEntry
}

func NewGuard(decl Declaration) *Guard {
	return newGuardAt(decl, time.Now)
}

func newGuardAt(decl Declaration, now func() time.Time) *Guard {
	g := &Guard{
		decl:    decl,
		now:     now,
		buckets: make(map[Window]*bucket),
		cache:   make(map[string]cacheEntry),
	}
	start := now()
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{
			capacity: limit,
			period:   window.Duration(),
			tokens:   float64(limit),
			last:     start,
		}
	}
	return g
}

// WrapHTTP returns a copy of base whose transport is guarded by decl.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl).WrapHTTP(base)
}

func (g *Guard) WrapHTTP(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

// ShouldCall consumes budget for one request if allowed.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.cooldown) {
		return Decision{Reason: "cooldown", RetryAt: g.cooldown}
	}
	if len(g.buckets) == 0 {
		return Decision{Reason: "disabled"}
	}
	for window, b := range g.buckets {
		if b.capacity <= 0 {
			return Decision{Reason: "disabled"}
		}
		ok, retryAt := b.take(now)
		tokensGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
		if !ok {
			return Decision{Reason: "budget", RetryAt: retryAt}
		}
	}
	return Decision{Allowed: true}
}

// RecordResponse applies server-side throttling signals.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))
	now := g.now()
	cfg := g.decl.Headers()

	if wait, ok := retryAfter(headers.Get(cfg.RetryAfter), now); ok {
		g.cooldown = now.Add(wait)
		return
	}
	if status == http.StatusTooManyRequests {
		g.cooldown = now.Add(time.Minute)
		return
	}
	if cfg.Remaining != "" {
		if remaining, err := strconv.Atoi(strings.TrimSpace(headers.Get(cfg.Remaining))); err == nil && remaining <= 0 {
			g.cooldown = now.Add(time.Minute)
		}
	}
}

// retryAfter parses delta-seconds or an HTTP date.
func retryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func (g *Guard) cached(req *http.Request) *http.Response {
	if g.decl.CacheTTL() <= 0 || req.Method != http.MethodGet {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[cacheKey(req)]
	if !ok || g.now().After(entry.expires) {
		return nil
	}
	cacheHitsTotal.WithLabelValues(g.decl.ProviderName()).Inc()
	return buildResponse(req, entry.status, entry.header, entry.body)
}

func (g *Guard) remember(req *http.Request, resp *http.Response) (*http.Response, error) {
	if g.decl.CacheTTL() <= 0 || req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[cacheKey(req)] = cacheEntry{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		expires: g.now().Add(g.decl.CacheTTL()),
	}
	g.mu.Unlock()

	return buildResponse(req, resp.StatusCode, resp.Header, body), nil
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		if cached := rt.guard.cached(req); cached != nil {
			return cached, nil
		}
		blockedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return rt.guard.remember(req, resp)
}

// cacheKey includes the bearer token so a cached body never crosses accounts.
func cacheKey(req *http.Request) string {
	return req.URL.String() + " " + req.Header.Get("Authorization")
}

func buildResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
