package service

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies a forwarding failure that is answered with a JSON error
// because the client response has not begun yet.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindInternalSetup       Kind = "internal_setup_failure"
)

// GatewayError is a failure detected before any status or header was written
// to the client.
type GatewayError struct {
	Kind    Kind
	Target  string        // configured upstream base URL
	Timeout time.Duration // set for KindUpstreamTimeout
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

var (
	// ErrStreamAborted is returned when a failure happens after the upstream
	// status was relayed. The client can only observe a truncated body.
	ErrStreamAborted = errors.New("response stream aborted")

	// ErrClientGone is returned when the inbound request is canceled before
	// the upstream responded.
	ErrClientGone = errors.New("client disconnected")

	errInvalidJSON      = errors.New("request body is not valid JSON")
	errUpstreamDeadline = errors.New("upstream deadline exceeded")
)

// ErrorBody is the JSON document sent to clients for pre-response failures.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Target  string `json:"target,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// Classify maps a forwarding error to the status code and body sent to the
// client. Errors that are not a *GatewayError are treated as internal failures.
func Classify(err error) (int, ErrorBody) {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError, ErrorBody{
			Error:   "Internal server error",
			Message: "Failed to process request",
			Details: causeText(err),
		}
	}

	switch ge.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest, ErrorBody{
			Error:   "Invalid request",
			Message: "Request body must be a valid JSON document",
			Details: causeText(ge.Cause),
		}
	case KindUpstreamUnreachable:
		return http.StatusBadGateway, ErrorBody{
			Error:   "Service unavailable",
			Message: "Unable to connect to LLM service",
			Details: causeText(ge.Cause),
			Target:  ge.Target,
		}
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout, ErrorBody{
			Error:   "Request timeout",
			Message: "LLM service did not respond in time",
			Timeout: formatTimeout(ge.Timeout),
		}
	default:
		return http.StatusInternalServerError, ErrorBody{
			Error:   "Internal server error",
			Message: "Failed to process request",
			Details: causeText(ge.Cause),
		}
	}
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// formatTimeout renders whole seconds, e.g. "30 seconds".
func formatTimeout(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", secs)
}
