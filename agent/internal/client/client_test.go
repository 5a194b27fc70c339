package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRegisterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/register" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": RegisterResponse{MachineID: "m1", Token: "tok", Message: "registered"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "", zap.NewNop())
	resp, err := c.Register(context.Background(), RegisterRequest{Fingerprint: "fp", Hostname: "host", OSType: "linux"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Token != "tok" || resp.MachineID != "m1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRegisterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zap.NewNop())
	_, err := c.Register(context.Background(), RegisterRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHeartbeatUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "stale-token", zap.NewNop())
	_, err := c.Heartbeat(context.Background(), HeartbeatRequest{IdleSeconds: 5, Timestamp: time.Now()})
	if err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReportResultNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", zap.NewNop())
	if err := c.ReportResult(context.Background(), ResultRequest{CommandID: "c1", Executed: true}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	d := backoffInitial
	for i := 0; i < 20; i++ {
		d = NextBackoff(d)
	}
	if d != backoffMax {
		t.Fatalf("expected backoff capped at %v, got %v", backoffMax, d)
	}
}
