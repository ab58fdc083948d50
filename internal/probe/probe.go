// Package probe periodically checks whether the inference service answers.
// Results are informational only; forwarding never consults them.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"inference-gateway/internal/client"
	"inference-gateway/internal/config"
	"inference-gateway/internal/metrics"
	"inference-gateway/internal/model"
)

const checkTimeout = 5 * time.Second

// Snapshot is the result of the most recent check.
type Snapshot struct {
	Up          bool      `json:"up"`
	StatusCode  int       `json:"status_code,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	LastError   string    `json:"last_error,omitempty"`
}

// Prober runs upstream health checks on a cron schedule.
type Prober struct {
	client   *client.UpstreamClient
	target   model.UpstreamTarget
	path     string
	schedule string
	enabled  bool
	logger   *slog.Logger
	metrics  *metrics.Metrics

	last atomic.Pointer[Snapshot]

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewProber creates a Prober. The metrics parameter is optional.
func NewProber(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Prober {
	return &Prober{
		client:   c,
		target:   model.UpstreamTarget{BaseURL: cfg.Upstream.BaseURL},
		path:     cfg.Probe.Path,
		schedule: cfg.Probe.Schedule,
		enabled:  cfg.Probe.Enabled,
		logger:   logger.With("component", "upstream_probe"),
		metrics:  m,
		cron:     cron.New(),
	}
}

// Start runs one check immediately and schedules the rest. It does nothing
// when probing is disabled.
func (p *Prober) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		p.logger.Info("upstream probe disabled")
		return nil
	}
	if p.running {
		return nil
	}

	if _, err := p.cron.AddFunc(p.schedule, func() { p.Check(context.Background()) }); err != nil {
		return fmt.Errorf("schedule upstream probe %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.running = true

	go p.Check(context.Background())

	p.logger.Info("upstream probe started",
		"schedule", p.schedule,
		"target", p.target.BaseURL,
		"path", p.path,
	)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.logger.Info("upstream probe stopped")
}

// Check probes the upstream once and records the result.
func (p *Prober) Check(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	snap := Snapshot{LastChecked: time.Now().UTC()}
	status, err := p.get(ctx)
	switch {
	case err != nil:
		snap.LastError = err.Error()
	case status >= 500:
		snap.StatusCode = status
		snap.LastError = fmt.Sprintf("unhealthy status %d", status)
	default:
		snap.StatusCode = status
		snap.Up = true
	}

	prev := p.last.Swap(&snap)
	if p.metrics != nil {
		if snap.Up {
			p.metrics.UpstreamUp.Set(1)
		} else {
			p.metrics.UpstreamUp.Set(0)
		}
	}

	switch {
	case prev == nil || prev.Up != snap.Up:
		p.logger.Info("upstream health changed", "up", snap.Up, "status", snap.StatusCode, "err", snap.LastError)
	default:
		p.logger.Debug("upstream probe", "up", snap.Up, "status", snap.StatusCode)
	}
	return snap
}

// Last returns the most recent snapshot and whether any check has run.
func (p *Prober) Last() (Snapshot, bool) {
	s := p.last.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

func (p *Prober) get(ctx context.Context) (int, error) {
	endpoint, err := p.target.Endpoint(p.path)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}
