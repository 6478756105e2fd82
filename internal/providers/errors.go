package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the provider-declared error category. The values mirror the
// generation service contract and are preserved verbatim from the provider
// so the resilience layer can classify without string matching.
type ErrorKind string

const (
	ErrKindOverloaded     ErrorKind = "overloaded"
	ErrKindRateLimited    ErrorKind = "rate_limited"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindInvalidRequest ErrorKind = "invalid_request"
	ErrKindAuthentication ErrorKind = "authentication"
	ErrKindConnection     ErrorKind = "connection"
)

// Transient reports whether errors of this kind are worth retrying.
// Invalid requests and authentication failures never heal on retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindOverloaded, ErrKindRateLimited, ErrKindTimeout, ErrKindConnection:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from a generation service call.
type ProviderError struct {
	Kind    ErrorKind
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

// Classify maps an arbitrary error from a provider call to an ErrorKind.
// Already-classified errors pass through; context and network failures are
// mapped to timeout/connection; anything else is treated as a connection
// problem so the retry policy stays conservative.
func Classify(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrKindTimeout
		}
		return ErrKindConnection
	}
	return ErrKindConnection
}

// kindFromStatus maps an HTTP status code to an ErrorKind for providers
// that signal failures at the transport level.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrKindAuthentication
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrKindTimeout
	case status >= 500:
		return ErrKindOverloaded
	default:
		return ErrKindInvalidRequest
	}
}
