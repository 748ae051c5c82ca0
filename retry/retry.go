// Package retry classifies provider and network errors as retryable or
// fatal, and drives retry attempts with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Kind tags the broad category of a classified error.
type Kind string

const (
	// KindRetryable covers transient failures worth retrying unchanged.
	KindRetryable Kind = "retryable"
	// KindEmptyCompletion marks a provider response with no content and no
	// tool calls, which is treated as transient and retried.
	KindEmptyCompletion Kind = "empty_completion"
	// KindAgentCallArgument marks a malformed tool-call argument payload.
	KindAgentCallArgument Kind = "agent_call_argument"
	// KindProviderNotAvailable marks a provider/auth configuration failure.
	KindProviderNotAvailable Kind = "provider_not_available"
	// KindWorkspaceNotFound marks a missing workspace on the sync backend.
	KindWorkspaceNotFound Kind = "workspace_not_found"
	// KindIO covers local filesystem/network I/O failures.
	KindIO Kind = "io"
	// KindFatal marks an error that must not be retried.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying error with its classification. It mirrors the
// teacher's pattern of a single sentinel wrapper type per concern.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable Error.
func Retryable(err error) error { return &Error{Kind: KindRetryable, Err: err} }

// EmptyCompletion wraps err (or a default message) as an empty-completion
// Error, which Classify treats as retryable.
func EmptyCompletion(err error) error {
	if err == nil {
		err = errors.New("provider returned an empty completion")
	}
	return &Error{Kind: KindEmptyCompletion, Err: err}
}

// AgentCallArgument wraps err as a malformed tool-call-argument Error.
func AgentCallArgument(err error) error { return &Error{Kind: KindAgentCallArgument, Err: err} }

// ProviderNotAvailable wraps err as a provider-unavailable Error.
func ProviderNotAvailable(err error) error { return &Error{Kind: KindProviderNotAvailable, Err: err} }

// WorkspaceNotFound wraps err as a workspace-not-found Error.
func WorkspaceNotFound(err error) error { return &Error{Kind: KindWorkspaceNotFound, Err: err} }

// IO wraps err as an I/O Error.
func IO(err error) error { return &Error{Kind: KindIO, Err: err} }

// Fatal wraps err as a non-retryable Error.
func Fatal(err error) error { return &Error{Kind: KindFatal, Err: err} }

// HTTPStatusError carries a provider HTTP response's status code.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string { return fmt.Sprintf("http %d: %v", e.StatusCode, e.Err) }
func (e *HTTPStatusError) Unwrap() error { return e.Err }

// Classify reports whether err should be retried. It recognizes the
// package's own Error wrapper first, then falls back to inspecting
// network/context/HTTP errors the way a transport-level error would arrive
// from a provider client.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var classified *Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case KindRetryable, KindEmptyCompletion, KindIO:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusServiceUnavailable, http.StatusTooManyRequests,
			http.StatusBadGateway, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	return false
}

// Config tunes the backoff schedule used by Do.
type Config struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Factor      float64
	MaxAttempts int
	Jitter      bool
}

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MinDelay:    100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
		MaxAttempts: 5,
		Jitter:      true,
	}
}

// Do calls fn, retrying with exponential backoff while Classify(err) is
// true, up to cfg.MaxAttempts attempts total. It returns the last error if
// attempts are exhausted, or if fn returns a non-retryable error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.MinDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Factor
	b.RandomizationFactor = 0
	if cfg.Jitter {
		b.RandomizationFactor = 0.1
	}

	operation := func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !Classify(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(cfg.MaxAttempts, 1))),
	)
	return err
}
