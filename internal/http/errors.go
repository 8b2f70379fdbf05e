package http

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// KindProtocol covers malformed responses and anything else the
	// classifier cannot place. Not retryable: repeating the request
	// will hit the same bug.
	KindProtocol ErrorKind = iota
	// KindDial means the connection could not be established.
	KindDial
	// KindTimeout means the request exceeded its deadline.
	KindTimeout
	// KindReset means the connection dropped mid-request.
	KindReset
	// KindCanceled means the caller abandoned the request. Never
	// retryable: cancellation is deliberate.
	KindCanceled
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDial:
		return "dial"
	case KindTimeout:
		return "timeout"
	case KindReset:
		return "reset"
	case KindCanceled:
		return "canceled"
	default:
		return "protocol"
	}
}

// TransportError is the only error type Do returns. It wraps the
// underlying failure with a kind the retry layer can act on.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return e.Kind.String() + " error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the request could plausibly
// succeed. Dial failures, timeouts, and dropped connections qualify;
// cancellation and protocol errors do not.
func (e *TransportError) Transient() bool {
	switch e.Kind {
	case KindDial, KindTimeout, KindReset:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a transient transport error.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient()
}

// IsCanceled reports whether err is a cancellation.
func IsCanceled(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindCanceled
}

// Classify wraps err in a TransportError with the appropriate kind.
// Errors from http.Client.Do arrive wrapped in *url.Error; errors.As
// and errors.Is see through that.
func Classify(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	kind := KindProtocol
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindDial
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		kind = KindReset
	case errors.As(err, &opErr) && opErr.Op == "dial":
		kind = KindDial
	}

	return &TransportError{Kind: kind, Err: err}
}
