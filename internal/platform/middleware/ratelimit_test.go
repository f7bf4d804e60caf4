package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrledger/internal/platform/auth"
)

func callerRequest(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(auth.WithCaller(req.Context(), addr))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
	}

	e := echo.New()
	mw := RateLimit(cfg)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// Send 5 requests (within burst size), all should pass
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler(c)
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}

		// Verify X-RateLimit-Limit header is set
		limitHeader := rec.Header().Get("X-RateLimit-Limit")
		if limitHeader != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, limitHeader)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         2,
	}

	e := echo.New()
	mw := RateLimit(cfg)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First 2 requests should pass (burst size = 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		err := handler(c)
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	// Third request should be rate limited
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := handler(c)

	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
	}

	e := echo.New()
	mw := RateLimit(cfg)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First request passes
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = handler(c)

	// Second request should be rate limited and include Retry-After
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err := handler(c)

	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}

	retryAfter := rec.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Error("expected Retry-After header to be set")
	}

	retryVal, parseErr := strconv.Atoi(retryAfter)
	if parseErr != nil {
		t.Fatalf("Retry-After header is not a valid integer: %q", retryAfter)
	}
	if retryVal < 1 {
		t.Errorf("expected Retry-After >= 1, got %d", retryVal)
	}

	// Check X-RateLimit-Remaining is "0" for rate-limited requests
	remaining := rec.Header().Get("X-RateLimit-Remaining")
	if remaining != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", remaining)
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
	}

	e := echo.New()
	mw := RateLimit(cfg)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First request from caller 0xaa - should pass
	rec1 := httptest.NewRecorder()
	c1 := e.NewContext(callerRequest("0xaa"), rec1)
	err := handler(c1)
	if err != nil {
		t.Fatalf("caller a first request: expected no error, got %v", err)
	}

	// Second request from caller 0xaa - should be rate limited
	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(callerRequest("0xaa"), rec2)
	err = handler(c2)
	if err == nil {
		t.Fatal("caller a second request: expected rate limit error")
	}

	// First request from caller 0xbb - should pass (separate bucket)
	rec3 := httptest.NewRecorder()
	c3 := e.NewContext(callerRequest("0xbb"), rec3)
	err = handler(c3)
	if err != nil {
		t.Fatalf("caller b first request: expected no error, got %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("expected BurstSize 200, got %d", cfg.BurstSize)
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	// Exhaust the single token
	b.allow()
	// With zero refill rate, retryAfter should return 1
	ra := b.retryAfter()
	if ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestRateLimiterStore_DoubleCheck(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
	}
	store := newRateLimiterStore(cfg)

	// Get a bucket - creates it
	b1 := store.getBucket("key1")
	if b1 == nil {
		t.Fatal("expected non-nil bucket")
	}

	// Get the same bucket again - returns existing
	b2 := store.getBucket("key1")
	if b1 != b2 {
		t.Error("expected same bucket instance for same key")
	}

	// Different key gets different bucket
	b3 := store.getBucket("key2")
	if b1 == b3 {
		t.Error("expected different bucket for different key")
	}
}

func TestRateLimitKey(t *testing.T) {
	e := echo.New()

	c := e.NewContext(callerRequest("0xabc"), httptest.NewRecorder())
	if got := rateLimitKey(c); got != "caller:0xabc" {
		t.Errorf("expected caller key, got %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	c = e.NewContext(req, httptest.NewRecorder())
	if got := rateLimitKey(c); got != "ip:10.1.2.3" {
		t.Errorf("expected ip key, got %q", got)
	}
}

func TestRateLimiterStore_SweepsIdleBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		IdleTTL:           time.Minute,
	})
	store.getBucket("stale")
	store.buckets["stale"].lastRefill = time.Now().Add(-2 * time.Minute)
	store.lastSweep = time.Now().Add(-2 * time.Minute)

	store.getBucket("fresh")

	if store.size() != 1 {
		t.Fatalf("expected stale bucket to be evicted, have %d buckets", store.size())
	}
	if _, ok := store.buckets["fresh"]; !ok {
		t.Error("expected fresh bucket to remain")
	}
}

func TestRateLimit_CallersBehindOneIPAreIsolated(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	send := func(caller string) error {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil)
		req.RemoteAddr = "10.0.0.7:4000"
		if caller != "" {
			req = req.WithContext(auth.WithCaller(req.Context(), caller))
		}
		return handler(e.NewContext(req, httptest.NewRecorder()))
	}

	if err := send("0xacme"); err != nil {
		t.Fatalf("first request for 0xacme: %v", err)
	}
	if err := send("0xacme"); err == nil {
		t.Error("expected 0xacme to be throttled after its burst")
	}
	if err := send("0xbeta"); err != nil {
		t.Errorf("expected 0xbeta to have its own bucket, got %v", err)
	}
	if err := send(""); err != nil {
		t.Errorf("expected anonymous traffic to use the ip bucket, got %v", err)
	}
	if err := send(""); err == nil {
		t.Error("expected anonymous traffic from the same ip to be throttled")
	}
}

func TestRateLimiterStore_SweepKeepsActiveBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		IdleTTL:           time.Minute,
	})
	active := store.getBucket("caller:0xacme")
	if !active.allow() {
		t.Fatal("expected the first request to pass")
	}
	for i := 0; i < 50; i++ {
		b := store.getBucket("caller:0xminted" + strconv.Itoa(i))
		b.lastRefill = time.Now().Add(-time.Hour)
	}
	store.lastSweep = time.Now().Add(-2 * time.Minute)

	store.getBucket("caller:0xnew")

	if store.size() != 2 {
		t.Fatalf("expected only the active and new buckets to remain, have %d", store.size())
	}
	if store.getBucket("caller:0xacme") != active {
		t.Fatal("expected the active bucket to survive the sweep")
	}
	if active.allow() {
		t.Error("expected the surviving bucket to keep its throttled state")
	}
}
