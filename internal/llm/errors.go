package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error classes returned by every Completer. Test with errors.Is.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrAuthentication = errors.New("authentication failed")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrTransport      = errors.New("transport failure")
	ErrService        = errors.New("service error")
)

// Error is a classified failure from a remote model call.
type Error struct {
	// Kind is one of the Err* classes above.
	Kind error

	Provider  string
	Code      string
	Message   string
	RequestID string

	// Err is the underlying SDK or network error, if any.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}

	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.RequestID != "" {
		b.WriteString(" request_id=")
		b.WriteString(e.RequestID)
	}
	return b.String()
}

// Unwrap exposes both the class and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// AsError extracts the classified error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Kind returns the class of err, or nil when err is not classified.
func Kind(err error) error {
	for _, kind := range []error{ErrInvalidInput, ErrAuthentication, ErrQuotaExceeded, ErrTransport, ErrService} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName is a short label for err's class, used in logs and API responses.
func KindName(err error) string {
	switch Kind(err) {
	case ErrInvalidInput:
		return "invalid_input"
	case ErrAuthentication:
		return "authentication"
	case ErrQuotaExceeded:
		return "quota_exceeded"
	case ErrTransport:
		return "transport"
	case ErrService:
		return "service"
	default:
		return "unknown"
	}
}

// classifyHTTPStatus maps a remote HTTP status to an error class.
func classifyHTTPStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuthentication
	case status == 429 || status == 402:
		return ErrQuotaExceeded
	case status == 408:
		return ErrTransport
	default:
		return ErrService
	}
}

// isTransportFailure reports errors that never reached a remote decision.
func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func malformed(provider, format string, args ...any) *Error {
	return &Error{
		Kind:     ErrTransport,
		Provider: provider,
		Message:  fmt.Sprintf("malformed response: "+format, args...),
	}
}
