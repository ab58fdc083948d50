package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorHandler returns an echo.HTTPErrorHandler that renders every error as
// JSON {error, message}.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "Internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = http.StatusText(code)
			if m, ok := he.Message.(string); ok && m != "" {
				message = m
			}
		}

		var body map[string]string
		switch code {
		case http.StatusNotFound:
			body = map[string]string{
				"error":   "Not found",
				"message": fmt.Sprintf("Route %s %s not found", c.Request().Method, c.Request().URL.Path),
			}
		case http.StatusInternalServerError:
			logger.Error("unhandled error", "err", err, "path", c.Request().URL.Path)
			body = map[string]string{
				"error":   "Internal server error",
				"message": "Failed to process request",
			}
		default:
			body = map[string]string{
				"error":   http.StatusText(code),
				"message": message,
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Error("write error response", "err", werr)
		}
	}
}
