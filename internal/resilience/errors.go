package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
)

// FailureKind is the explicit classification of a failed call. Timeout and
// endpoint failures are worth one attempt against a fallback endpoint;
// application failures are answers and are never retried elsewhere.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureTimeout: the call did not finish within its deadline.
	FailureTimeout
	// FailureEndpoint: the endpoint is unreachable or answered with garbage
	// (connection refused/reset, DNS, 5xx, malformed body, JSON-RPC transport error).
	FailureEndpoint
	// FailureApplication: the endpoint answered and the answer is an error
	// (unknown miner, 4xx, invalid argument).
	FailureApplication
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureEndpoint:
		return "endpoint"
	case FailureApplication:
		return "application"
	default:
		return "unknown"
	}
}

// TimeoutError reports a call abandoned at its deadline.
type TimeoutError struct {
	Endpoint string
	Op       string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Endpoint, e.Op, e.After)
}

// EndpointError marks a failure of the endpoint itself rather than of the request.
type EndpointError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *EndpointError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Classify maps err onto a FailureKind. Typed errors anywhere in the chain
// decide; the string patterns of IsTransient are the last resort.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.As(err, new(*TimeoutError)), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.As(err, new(*EndpointError)), errors.As(err, new(*jsonrpc.RPCConnectionError)):
		return FailureEndpoint
	case errors.Is(err, context.Canceled):
		return FailureApplication
	case errors.As(err, new(*jsonrpc.ErrClient)):
		// The client could not read a usable response, e.g. an HTML error
		// page or a body of the wrong shape. Errors returned by the remote
		// method itself are not wrapped this way.
		return FailureEndpoint
	case IsTransient(err):
		return FailureEndpoint
	default:
		return FailureApplication
	}
}

// ShouldFallback reports whether err warrants an attempt against a fallback endpoint.
func ShouldFallback(err error) bool {
	k := Classify(err)
	return k == FailureTimeout || k == FailureEndpoint
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError or EndpointError, or if it matches common transient network
// failures (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ee *EndpointError
	if errors.As(err, &ee) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped errors from HTTP and websocket clients lose their type.
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
