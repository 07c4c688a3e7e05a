package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEvaluate_approved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/data/relay/policies/main" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body["input"]; !ok {
			t.Error("request body missing input wrapper")
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"result": map[string]any{"allow": true},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "relay.policies.main", "v1.0.0", 0)
	d, err := c.Evaluate(context.Background(), map[string]any{"environment": "production"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Approved || d.DenialReason != "" {
		t.Errorf("decision = %+v, want approved with no reason", d)
	}
}

func TestEvaluate_deniedWithDefaultReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"result": map[string]any{"allow": false},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "relay/policies/main", "v1.0.0", 0)
	d, err := c.Evaluate(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Approved {
		t.Error("expected denial")
	}
	if d.DenialReason != "Policy violation" {
		t.Errorf("default denial reason = %q", d.DenialReason)
	}
}

func TestEvaluate_missingResultIsEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "relay/policies/main", "v1.0.0", 0)
	_, err := c.Evaluate(context.Background(), map[string]any{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
}

func TestEvaluate_non2xxIsEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "relay/policies/main", "v1.0.0", 0)
	_, err := c.Evaluate(context.Background(), map[string]any{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
}

func TestEvaluate_connectionRefusedIsEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse immediately

	c := NewClient(srv.URL, "relay/policies/main", "v1.0.0", 100*time.Millisecond)
	_, err := c.Evaluate(context.Background(), map[string]any{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	if !NewClient(healthy.URL, "p", "v", 0).HealthCheck(context.Background()) {
		t.Error("expected healthy")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if NewClient(down.URL, "p", "v", 0).HealthCheck(context.Background()) {
		t.Error("expected unhealthy")
	}
}

func TestPolicyVersion_fallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/data/relay/metadata/version":
			json.NewEncoder(w).Encode(map[string]string{"result": "v2.3.4"}) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "p", "fallback", 0)
	if got := c.PolicyVersion(context.Background()); got != "v2.3.4" {
		t.Errorf("PolicyVersion = %q, want v2.3.4", got)
	}

	broken := NewClient("http://127.0.0.1:1", "p", "fallback", 100*time.Millisecond)
	if got := broken.PolicyVersion(context.Background()); got != "fallback" {
		t.Errorf("PolicyVersion = %q, want fallback", got)
	}
}
