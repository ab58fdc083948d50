// Package service implements the completion forwarding gateway.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"inference-gateway/internal/client"
	"inference-gateway/internal/config"
	"inference-gateway/internal/metrics"
	"inference-gateway/internal/model"
	"inference-gateway/internal/tracing"
)

const (
	// CompletionsPath is the only upstream endpoint the gateway calls. The
	// inbound path is never forwarded.
	CompletionsPath = "/v1/completions"

	userAgent      = "inference-gateway/1.0"
	defaultTimeout = 30 * time.Second
	copyBufferSize = 32 * 1024
)

// bufferPool recycles copy buffers across concurrent streams.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// ResponseWriter is the client side of a forwarding call. *echo.Response and
// *httptest.ResponseRecorder both satisfy it.
type ResponseWriter interface {
	http.ResponseWriter
	Flush()
}

// Outcome describes how a forwarding call ended.
type Outcome struct {
	State        State // Done, Failed or Aborted
	FailedIn     State // phase that was active when the call failed
	StatusCode   int   // upstream status, 0 if none was received
	BytesRelayed int64
	Model        string
	Stream       bool
	Duration     time.Duration
}

// Gateway forwards completion requests to the configured upstream. It holds
// no per-request state and is safe for concurrent use.
type Gateway struct {
	client  *client.UpstreamClient
	target  model.UpstreamTarget
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGateway creates a Gateway. The upstream target is fixed at construction.
// The metrics parameter is optional.
func NewGateway(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Gateway{
		client:  c,
		target:  model.UpstreamTarget{BaseURL: cfg.Upstream.BaseURL},
		timeout: timeout,
		logger:  logger.With("component", "gateway"),
		metrics: m,
	}
}

// Target returns the upstream target requests are forwarded to.
func (g *Gateway) Target() model.UpstreamTarget { return g.target }

// Forward relays in to the upstream completions endpoint and streams the
// upstream response into w.
//
// A *GatewayError is returned when the call fails before anything was written
// to w; the caller is expected to answer with Classify. ErrClientGone is
// returned when ctx is canceled before the upstream responded. Once the
// upstream status has been written to w, any failure is reported as
// ErrStreamAborted and w must be considered truncated.
func (g *Gateway) Forward(ctx context.Context, in *model.InboundRequest, w ResponseWriter) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{
		Model:  gjson.GetBytes(in.Body, "model").String(),
		Stream: gjson.GetBytes(in.Body, "stream").Bool(),
	}
	defer func() { out.Duration = time.Since(start) }()

	ctx, span := tracing.StartSpan(ctx, "gateway", "gateway.Forward",
		trace.WithAttributes(
			attribute.String("llm.model", out.Model),
			attribute.Bool("llm.stream", out.Stream),
			attribute.Int("http.request.body.size", len(in.Body)),
		))
	defer span.End()

	var ph phase
	if !gjson.ValidBytes(in.Body) {
		return g.fail(out, span, &ph, &GatewayError{Kind: KindInvalidRequest, Cause: errInvalidJSON})
	}

	endpoint, err := g.target.Endpoint(CompletionsPath)
	if err != nil {
		return g.fail(out, span, &ph, &GatewayError{Kind: KindInternalSetup, Target: g.target.BaseURL, Cause: err})
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(in.Body))
	if err != nil {
		return g.fail(out, span, &ph, &GatewayError{Kind: KindInternalSetup, Target: g.target.BaseURL, Cause: err})
	}
	req.ContentLength = int64(len(in.Body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if id := in.Header.Get("X-Request-Id"); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	otel.GetTextMapPropagator().Inject(callCtx, propagation.HeaderCarrier(req.Header))

	req = req.WithContext(httptrace.WithClientTrace(callCtx, &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) {
			ph.advance(StateSending, StateAwaitingHeaders)
		},
	}))

	g.logger.Debug("forwarding completion",
		"model", out.Model,
		"stream", out.Stream,
		"bytes", len(in.Body),
		"inbound_path", in.Path,
	)

	// The watchdog bounds the wait for headers and, afterwards, every idle gap
	// between body chunks.
	wd := newWatchdog(g.timeout, func() { cancel(errUpstreamDeadline) })
	defer wd.stop()

	ph.set(StateSending)
	resp, err := g.client.Do(req)
	if err != nil {
		return g.fail(out, span, &ph, g.transportError(ctx, callCtx, err))
	}
	defer func() { _ = resp.Body.Close() }()
	wd.reset()

	out.StatusCode = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Flush()
	ph.set(StateStreamingBody)

	n, err := g.relay(w, resp.Body, wd)
	out.BytesRelayed = n
	if g.metrics != nil {
		g.metrics.StreamBytes.Add(float64(n))
	}
	if err != nil {
		if errors.Is(context.Cause(callCtx), errUpstreamDeadline) {
			err = fmt.Errorf("%w: %w", errUpstreamDeadline, err)
		}
		out.State, out.FailedIn = StateAborted, StateStreamingBody
		if g.metrics != nil {
			g.metrics.StreamAborts.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream aborted")
		return out, fmt.Errorf("%w after %d bytes: %w", ErrStreamAborted, n, err)
	}

	ph.set(StateDone)
	out.State = StateDone
	return out, nil
}

// transportError sorts a failed upstream round trip into timeout, client
// disconnect, or unreachable upstream.
func (g *Gateway) transportError(parent, callCtx context.Context, err error) error {
	switch {
	case errors.Is(context.Cause(callCtx), errUpstreamDeadline):
		return &GatewayError{
			Kind:    KindUpstreamTimeout,
			Target:  g.target.BaseURL,
			Timeout: g.timeout,
			Cause:   fmt.Errorf("%w: %w", errUpstreamDeadline, err),
		}
	case parent.Err() != nil:
		return fmt.Errorf("%w: %w", ErrClientGone, err)
	default:
		return &GatewayError{Kind: KindUpstreamUnreachable, Target: g.target.BaseURL, Cause: err}
	}
}

func (g *Gateway) fail(out *Outcome, span trace.Span, ph *phase, err error) (*Outcome, error) {
	out.State, out.FailedIn = StateFailed, ph.get()

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var ge *GatewayError
	if errors.As(err, &ge) && g.metrics != nil {
		g.metrics.GatewayErrors.WithLabelValues(string(ge.Kind)).Inc()
	}
	return out, err
}

// relay copies body to w chunk by chunk, flushing after every write so tokens
// reach the client as soon as the upstream produces them.
func (g *Gateway) relay(w ResponseWriter, body io.Reader, wd *watchdog) (int64, error) {
	bp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bp)
	buf := *bp

	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			wd.reset()
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, fmt.Errorf("write to client: %w", werr)
			}
			w.Flush()
			wd.reset()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read from upstream: %w", rerr)
		}
	}
}

// copyHeaders copies every upstream header except Transfer-Encoding; the
// server frames the relayed body itself.
func copyHeaders(dst, src http.Header) {
	for key, vals := range src {
		if http.CanonicalHeaderKey(key) == "Transfer-Encoding" {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
}

// watchdog cancels a call when it has not been reset within d.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
}

func newWatchdog(d time.Duration, fire func()) *watchdog {
	return &watchdog{d: d, timer: time.AfterFunc(d, fire)}
}

func (w *watchdog) reset() { w.timer.Reset(w.d) }

func (w *watchdog) stop() { w.timer.Stop() }
