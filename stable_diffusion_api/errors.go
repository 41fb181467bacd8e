package stable_diffusion_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidParameter
	KindBackendUnreachable
	KindBadResponse
	KindUnsupportedOperation
	KindTransientNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid parameter"
	case KindBackendUnreachable:
		return "backend unreachable"
	case KindBadResponse:
		return "bad response"
	case KindUnsupportedOperation:
		return "unsupported operation"
	case KindTransientNetwork:
		return "transient network"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *APIError of the same kind.
var (
	ErrInvalidParameter     = &APIError{Kind: KindInvalidParameter}
	ErrBackendUnreachable   = &APIError{Kind: KindBackendUnreachable}
	ErrBadResponse          = &APIError{Kind: KindBadResponse}
	ErrUnsupportedOperation = &APIError{Kind: KindUnsupportedOperation}
	ErrTransientNetwork     = &APIError{Kind: KindTransientNetwork}
)

type APIError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}

	if msg == "" {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	other, ok := target.(*APIError)
	if !ok {
		return false
	}

	return other.Kind == e.Kind
}

func newAPIError(kind ErrorKind, message string, err error) *APIError {
	return &APIError{Kind: kind, Message: message, Err: err}
}

// KindOf classifies err. *APIError values keep their kind; transport errors
// are mapped by cause.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindBadResponse
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindBackendUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindBackendUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindBadResponse
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransientNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransientNetwork
	}

	return KindUnknown
}

// classify wraps a transport error in an *APIError of its kind.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	return newAPIError(KindOf(err), "", err)
}
