// Package middleware provides Echo middleware for logging, metrics and
// header hygiene.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at warn level; an aborted stream is logged before
// the abort propagates.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			log := func(level slog.Level, msg string, status int) {
				req := c.Request()
				res := c.Response()

				logger.Log(context.Background(), level, msg,
					"method", req.Method,
					"path", req.URL.Path,
					"status", status,
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", res.Header().Get(echo.HeaderXRequestID),
					"remote_ip", c.RealIP(),
					"bytes_in", req.ContentLength,
					"bytes_out", res.Size,
				)
			}

			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						log(slog.LevelWarn, "request aborted", c.Response().Status)
					}
					panic(r)
				}
			}()

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log(level, "request", status)

			return err
		}
	}
}
