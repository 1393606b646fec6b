package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(Config{BaseURL: srv.URL, TimeoutSeconds: 2}), srv
}

func TestFetchValueNumeric(t *testing.T) {
	client, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/headers/h-1/latest" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"value": 18.5, "timestamp": "2026-08-27T10:00:00Z"}`))
	})
	defer srv.Close()
	sample, err := client.FetchValue(context.Background(), "h-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sample.Value == nil || *sample.Value != 18.5 {
		t.Fatalf("expected 18.5 got %v", sample.Value)
	}
	if sample.Raw != "18.5" {
		t.Fatalf("expected raw 18.5 got %q", sample.Raw)
	}
}

func TestFetchValueNumericString(t *testing.T) {
	client, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": "42"}`))
	})
	defer srv.Close()
	sample, err := client.FetchValue(context.Background(), "h-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sample.Value == nil || *sample.Value != 42 {
		t.Fatalf("expected 42 got %v", sample.Value)
	}
}

func TestFetchValueNull(t *testing.T) {
	client, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": null}`))
	})
	defer srv.Close()
	sample, err := client.FetchValue(context.Background(), "h-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sample.Value != nil {
		t.Fatalf("expected nil value got %v", *sample.Value)
	}
	if sample.Raw != "null" {
		t.Fatalf("expected raw null got %q", sample.Raw)
	}
}

func TestFetchValueErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, ErrStatus},
		{"no content", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }, ErrNoContent},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {}, ErrNoContent},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"value"`)) }, ErrMalformed},
	}
	for _, tc := range cases {
		client, srv := testClient(tc.handler)
		_, err := client.FetchValue(context.Background(), "h-1")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	if err := os.WriteFile(path, []byte("baseUrl: http://localhost:9000\ntimeoutSeconds: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "http://localhost:9000" || cfg.TimeoutSeconds != 5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
