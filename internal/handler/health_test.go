package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"inference-gateway/internal/client"
	"inference-gateway/internal/config"
	"inference-gateway/internal/probe"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test", nil)
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{Upstream: config.UpstreamConfig{BaseURL: "http://vllm:8000"}}
	h := NewHealthHandler(cfg, "1.0.0", nil)
	if err := h.Health(c); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	var body struct {
		Status    string            `json:"status"`
		Timestamp string            `json:"timestamp"`
		Version   string            `json:"version"`
		Services  map[string]string `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want %q", body.Status, "healthy")
	}
	if _, err := time.Parse(time.RFC3339Nano, body.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", body.Timestamp, err)
	}
	if body.Version != "1.0.0" {
		t.Errorf("version = %q, want %q", body.Version, "1.0.0")
	}
	if body.Services["llm_service"] != "http://vllm:8000" {
		t.Errorf("services.llm_service = %q", body.Services["llm_service"])
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: "http://vllm:8000"},
	}
	h := NewHealthHandler(cfg, "1.2.3", nil)
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("body.version = %v, want %q", body["version"], "1.2.3")
	}
	if body["upstream_url"] != "http://vllm:8000" {
		t.Errorf("body.upstream_url = %v, want %q", body["upstream_url"], "http://vllm:8000")
	}
	if _, ok := body["upstream"]; ok {
		t.Error("upstream snapshot should be absent without a prober")
	}
}

func TestStatus_WithProbeSnapshot(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: upstream.URL, IdleConnections: 1, MaxConnections: 1},
		Probe:    config.ProbeConfig{Enabled: true, Schedule: "@every 1m", Path: "/health"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := probe.NewProber(client.NewUpstreamClient(cfg, logger, nil), cfg, logger, nil)
	p.Check(context.Background())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody), rec)

	if err := NewHealthHandler(cfg, "test", p).Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	var body struct {
		Upstream probe.Snapshot `json:"upstream"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.Upstream.Up || body.Upstream.StatusCode != http.StatusOK {
		t.Errorf("upstream = %+v, want up with 200", body.Upstream)
	}
}
