package services

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v3"
)

// ErrNotConfigured is returned when a provider has no API key.
var ErrNotConfigured = errors.New("provider not configured")

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

// UpstreamError describes a failed call to OpenAI or Gemini.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream responded %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// wrapUpstream converts SDK errors into an UpstreamError, keeping the
// status code reported by the API when there is one.
func wrapUpstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConfigured) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &UpstreamError{Op: op, StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}
	return &UpstreamError{Op: op, Message: err.Error(), Err: err}
}
