package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"inference-gateway/internal/model"
	"inference-gateway/internal/service"
)

// StatusClientClosedRequest is recorded when the client went away before the
// upstream answered. Nobody receives it; it only shows up in logs and metrics.
const StatusClientClosedRequest = 499

// CompletionsHandler relays completion requests to the inference service.
type CompletionsHandler struct {
	gateway *service.Gateway
	logger  *slog.Logger
}

// NewCompletionsHandler creates a CompletionsHandler.
func NewCompletionsHandler(gw *service.Gateway, logger *slog.Logger) *CompletionsHandler {
	return &CompletionsHandler{
		gateway: gw,
		logger:  logger.With("component", "completions_handler"),
	}
}

// Handle forwards the request body and streams the upstream response back.
//
// Failures before the response begins are answered with a JSON error body.
// Once the upstream status has been sent the status cannot change, so a
// later failure aborts the connection and the client sees a truncated body.
func (h *CompletionsHandler) Handle(c echo.Context) error {
	req := c.Request()

	// The body limit middleware caps how much can be read here.
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	in := &model.InboundRequest{
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header,
		Body:   body,
	}

	out, err := h.gateway.Forward(req.Context(), in, c.Response())
	if err == nil {
		return nil
	}

	if c.Response().Committed {
		h.logger.Warn("response stream aborted",
			"err", err,
			"model", out.Model,
			"status", out.StatusCode,
			"bytes_relayed", out.BytesRelayed,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		panic(http.ErrAbortHandler)
	}

	if errors.Is(err, service.ErrClientGone) {
		h.logger.Info("client disconnected before upstream responded",
			"model", out.Model,
			"duration_ms", out.Duration.Milliseconds(),
		)
		return c.NoContent(StatusClientClosedRequest)
	}

	status, errBody := service.Classify(err)
	h.logger.Error("completion forwarding failed",
		"err", err,
		"status", status,
		"phase", out.FailedIn.String(),
		"model", out.Model,
		"target", h.gateway.Target().BaseURL,
	)
	return c.JSON(status, errBody)
}
