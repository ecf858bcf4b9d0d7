// Package llm adapts language-model providers to a single Model interface.
package llm

import (
	"context"
	"errors"
	"net"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/rcliao/clip-memory/internal/openai"
)

// Request is a single instruction + input generation call.
type Request struct {
	Instructions    string
	Input           string
	MaxOutputTokens int
}

// Model generates text. An empty string with a nil error means the provider
// answered but produced no content.
type Model interface {
	Complete(ctx context.Context, r Request) (string, error)
}

// IsTransient reports whether err is worth retrying: throttling, provider
// 5xx, timeouts and network failures. Context cancellation is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return (&openai.APIError{StatusCode: antErr.StatusCode}).Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
