package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := New(60, time.Minute, 3, nil)
	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("expected request %d to be allowed within burst", i)
		}
	}
}

func TestLimiterRejectsOverBurst(t *testing.T) {
	l := New(1, time.Minute, 1, nil)
	if !l.Allow("client-b") {
		t.Fatalf("expected first request to be allowed")
	}
	if l.Allow("client-b") {
		t.Fatalf("expected second immediate request to be rejected")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute, 1, nil)
	if !l.Allow("client-c") {
		t.Fatalf("expected first request for client-c to be allowed")
	}
	if !l.Allow("client-d") {
		t.Fatalf("expected first request for a different client to be allowed independently")
	}
}

func TestMiddlewareReturns429WithRetryAfter(t *testing.T) {
	l := New(1, time.Minute, 1, nil)
	handler := l.Middleware(func(r *http.Request) string { return "same-key" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on rate limited response")
	}
}

func TestCleanupResetsOversizedLimiterSet(t *testing.T) {
	l := New(60, time.Minute, 1, nil)
	for i := 0; i < 10001; i++ {
		l.Allow(string(rune(i)))
	}
	l.Cleanup()
	if len(l.limiters) != 0 {
		t.Fatalf("expected Cleanup to reset an oversized limiter map, still has %d entries", len(l.limiters))
	}
}
