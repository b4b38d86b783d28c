package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies provider failures by how the call path reacts to them.
type ErrorKind int

const (
	// KindUnknown is never retried.
	KindUnknown ErrorKind = iota
	// KindTransient covers timeouts, 5xx and rate limits; worth one retry.
	KindTransient
	// KindConnectionLost means the provider socket is gone.
	KindConnectionLost
	// KindProtocol is a malformed or unexpected provider message.
	KindProtocol
	// KindConfig is a missing credential or invalid provider setting.
	KindConfig
	// KindInternal is a broken invariant on our side.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConnectionLost:
		return "connection_lost"
	case KindProtocol:
		return "protocol"
	case KindConfig:
		return "config"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingCredential is wrapped by KindConfig errors for absent API keys.
	ErrMissingCredential = errors.New("missing credential")
	// ErrStreamClosed is returned by streams used after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// Error is a classified provider error.
type Error struct {
	Kind    ErrorKind
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s %s: %s", e.Service, e.Op, e.Kind)
	if e.Status != 0 {
		s += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind ErrorKind, service, op string, err error) *Error {
	return &Error{Kind: kind, Service: service, Op: op, Err: err}
}

// MissingCredential reports an absent API key for service.
func MissingCredential(service, key string) *Error {
	return NewError(KindConfig, service, "configure", fmt.Errorf("%w: %s", ErrMissingCredential, key))
}

// StatusError classifies a non-2xx HTTP response. 5xx, 408 and 429 are transient.
func StatusError(service, op string, status int, body []byte) *Error {
	kind := KindProtocol
	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		kind = KindTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = KindConfig
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return &Error{Kind: kind, Service: service, Op: op, Status: status, Err: fmt.Errorf("%s", body)}
}

// Classify wraps a transport-level error. Timeouts and network errors are transient.
func Classify(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return NewError(KindTransient, service, op, err)
	}
	return NewError(KindUnknown, service, op, err)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
