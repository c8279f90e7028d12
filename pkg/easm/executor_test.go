package easm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/redact"
)

func TestDoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer data-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != DefaultDataAPIVersion {
			t.Errorf("api-version = %q, want %q", got, DefaultDataAPIVersion)
		}
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	resp, err := s.do(context.Background(), apiRequest{
		method:   "GET",
		baseURL:  server.URL,
		endpoint: "assets",
		plane:    auth.PlaneData,
	})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	body, err := resp.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if body["name"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestDoControlPlaneVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api-version"); got != DefaultControlAPIVersion {
			t.Errorf("api-version = %q, want %q", got, DefaultControlAPIVersion)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer control-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method:   "GET",
		baseURL:  server.URL,
		endpoint: "workspaces",
		plane:    auth.PlaneControl,
	})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
}

func TestDoAPIVersionOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api-version"); got != "2021-04-01" {
			t.Errorf("api-version = %q, want the override", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method:     "GET",
		baseURL:    server.URL,
		endpoint:   "providers/Microsoft.Resources/tags/default",
		plane:      auth.PlaneControl,
		apiVersion: "2021-04-01",
	})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	if err != nil {
		t.Fatalf("do failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoRetryAfterHeader(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := newTestSession(t, server)
	s.cfg.MaxRetry = 3

	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	apiErr, ok := sdkerrors.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", apiErr.Attempts)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoNonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad filter"}}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	apiErr, ok := sdkerrors.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.LastText, "bad filter") {
		t.Errorf("last text = %q", apiErr.LastText)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDoUnauthorizedRefreshesOnce(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want refresh + resend within one attempt", calls.Load())
	}
}

func TestDoForbiddenAfterRefreshIsTerminal(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	apiErr, ok := sdkerrors.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want exactly one refresh and resend", calls.Load())
	}
}

func TestDoRedactsErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"token rejected","access_token":"eyJhbGciOi.secret.value"}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "eyJhbGciOi") {
		t.Errorf("error leaks token material: %v", err)
	}
	if !strings.Contains(err.Error(), redact.Mask) {
		t.Errorf("error not redacted: %v", err)
	}
}

func TestDoTransportErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	s := newTestSession(t, server)
	s.cfg.MaxRetry = 2
	server.Close()

	_, err := s.do(context.Background(), apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	apiErr, ok := sdkerrors.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("transport failures carry status 0, got %d", apiErr.StatusCode)
	}
	if apiErr.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", apiErr.Attempts)
	}
}

func TestDoContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t, server)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.do(ctx, apiRequest{
		method: "GET", baseURL: server.URL, endpoint: "assets", plane: auth.PlaneData,
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name       string
		base       string
		endpoint   string
		apiVersion string
		want       string
	}{
		{"joins slash", "https://x.example.com/", "/assets", "v1", "https://x.example.com/assets?api-version=v1"},
		{"no endpoint", "https://x.example.com", "", "v1", "https://x.example.com?api-version=v1"},
		{"no version", "https://x.example.com", "assets", "", "https://x.example.com/assets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildURL(tt.base, tt.endpoint, nil, tt.apiVersion)
			if err != nil {
				t.Fatalf("buildURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildURLEscapesSpaces(t *testing.T) {
	got, err := buildURL("https://x.example.com", "discoGroups/Contoso Group:run", nil, "")
	if err != nil {
		t.Fatalf("buildURL failed: %v", err)
	}
	if !strings.Contains(got, "Contoso%20Group:run") {
		t.Errorf("spaces not escaped: %q", got)
	}
}

func TestSnippetCapsLength(t *testing.T) {
	long := strings.Repeat("x", 2*maxErrorSnippet)
	got := snippet(long)
	if len(got) != maxErrorSnippet {
		t.Errorf("len = %d, want %d", len(got), maxErrorSnippet)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated snippet should end with ellipsis")
	}
	if snippet("short") != "short" {
		t.Errorf("short text should pass through")
	}
}
