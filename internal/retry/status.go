package retry

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusError carries an HTTP-like status code from the remote service.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode implements the interface StatusCode inspects.
func (e *StatusError) StatusCode() int { return e.Code }

// NewStatusError wraps err with code.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

type statusCoder interface {
	StatusCode() int
}

var grpcToHTTP = map[codes.Code]int{
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unknown:            http.StatusInternalServerError,
	codes.Aborted:            http.StatusConflict,
	codes.NotFound:           http.StatusNotFound,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.AlreadyExists:      http.StatusConflict,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.Canceled:           499,
}

// GRPCStatusCode maps a gRPC code to its HTTP-like equivalent.
func GRPCStatusCode(c codes.Code) (int, bool) {
	code, ok := grpcToHTTP[c]
	return code, ok
}

// StatusCode extracts a status code from err: first from any error in the
// chain implementing StatusCode() int, then from a gRPC status.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return GRPCStatusCode(st.Code())
	}
	return 0, false
}

// Retryable reports whether err carries 429 or a 5xx status.
func Retryable(err error) bool {
	code, ok := StatusCode(err)
	if !ok {
		return false
	}
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}
