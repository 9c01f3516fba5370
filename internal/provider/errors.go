package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"
)

var (
	// ErrQuota marks a rate-limit or quota rejection from a provider.
	ErrQuota = errors.New("provider: quota exceeded")
	// ErrTimeout is returned when a single attempt exceeds its deadline.
	ErrTimeout = errors.New("provider: call timed out")
	// ErrParse is returned when a response holds no usable JSON.
	ErrParse = errors.New("provider: unparseable response")
)

// StatusError reports a non-2xx response from an HTTP provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrQuota) match 429 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrQuota && e.StatusCode == 429
}

// IsQuota reports whether err is a rate-limit or quota rejection.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuota) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
}

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsQuota(err) || errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrParse) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
