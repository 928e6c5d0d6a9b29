package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a single failed provider call.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindUnavailable
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Transient reports whether the condition is expected to clear by itself.
func (k ErrorKind) Transient() bool {
	return k == KindRateLimited || k == KindUnavailable
}

// ProviderCallError describes why one attempt against one provider failed.
type ProviderCallError struct {
	Kind       ErrorKind
	Provider   string
	Variant    string
	StatusCode int // HTTP status when known
	Message    string
	Err        error
}

func (e *ProviderCallError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s/%s: %s (status %d): %s", e.Provider, e.Variant, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s/%s: %s: %s", e.Provider, e.Variant, e.Kind, msg)
}

func (e *ProviderCallError) Unwrap() error {
	return e.Err
}

// NewCallError builds a ProviderCallError.
func NewCallError(kind ErrorKind, provider, variant string, err error) *ProviderCallError {
	return &ProviderCallError{Kind: kind, Provider: provider, Variant: variant, Err: err}
}

// KindForHTTPStatus maps an HTTP status to an error kind.
func KindForHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout,
		status == http.StatusServiceUnavailable,
		status == http.StatusBadGateway,
		status == http.StatusGatewayTimeout,
		status == 529: // model overloaded
		return KindUnavailable
	case status >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// KindForTransportError classifies errors raised before any HTTP status was seen.
// Timeouts and cancelled attempt contexts count as unavailability; whether the
// caller itself cancelled is decided by the retry controller.
func KindForTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return KindUnknown
}
