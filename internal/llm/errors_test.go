package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsClassAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("send: %w", &Error{Kind: ErrTransport, Provider: "hunyuan", Err: cause})

	if !errors.Is(err, ErrTransport) {
		t.Error("errors.Is(err, ErrTransport) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if errors.Is(err, ErrService) {
		t.Error("errors.Is(err, ErrService) = true, want false")
	}

	e, ok := AsError(err)
	if !ok {
		t.Fatal("AsError returned false")
	}
	if e.Provider != "hunyuan" {
		t.Errorf("got provider %q, want %q", e.Provider, "hunyuan")
	}
}

func TestError_String(t *testing.T) {
	err := &Error{
		Kind:      ErrQuotaExceeded,
		Provider:  "hunyuan",
		Code:      "RequestLimitExceeded",
		Message:   "too many requests",
		RequestID: "req-1",
	}

	got := err.Error()
	for _, want := range []string{"hunyuan", "quota exceeded", "too many requests", "(RequestLimitExceeded)", "request_id=req-1"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestKindName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&Error{Kind: ErrInvalidInput}, "invalid_input"},
		{&Error{Kind: ErrAuthentication}, "authentication"},
		{&Error{Kind: ErrQuotaExceeded}, "quota_exceeded"},
		{&Error{Kind: ErrTransport}, "transport"},
		{&Error{Kind: ErrService}, "service"},
		{errors.New("plain"), "unknown"},
	}
	for _, tt := range tests {
		if got := KindName(tt.err); got != tt.want {
			t.Errorf("KindName(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := map[int]error{
		401: ErrAuthentication,
		403: ErrAuthentication,
		429: ErrQuotaExceeded,
		408: ErrTransport,
		400: ErrService,
		500: ErrService,
	}
	for status, want := range tests {
		if got := classifyHTTPStatus(status); got != want {
			t.Errorf("classifyHTTPStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestIsTransportFailure(t *testing.T) {
	if !isTransportFailure(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be a transport failure")
	}
	if isTransportFailure(errors.New("bad request")) {
		t.Error("plain error should not be a transport failure")
	}
}
