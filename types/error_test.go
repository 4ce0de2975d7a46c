package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrSynthesisFailed, "tts failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrSynthesisFailed {
		t.Fatalf("expected code %s, got %s", ErrSynthesisFailed, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrSessionNotFound, "session missing")
	wrapped := fmt.Errorf("resolve session: %w", inner)

	if !IsErrorCode(wrapped, ErrSessionNotFound) {
		t.Fatalf("expected code to be found through fmt wrapping")
	}
	if WrapError(wrapped, ErrInternalError, "x") != inner {
		t.Fatalf("WrapError should return the existing *Error")
	}
	if WrapError(nil, ErrInternalError, "x") != nil {
		t.Fatalf("WrapError(nil) should be nil")
	}

	plain := WrapError(errors.New("boom"), ErrHistoryWrite, "append failed")
	if plain.Code != ErrHistoryWrite || plain.Cause == nil {
		t.Fatalf("unexpected wrap result: %+v", plain)
	}
}

func TestHTTPStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrInvalidRequest:  http.StatusBadRequest,
		ErrUnauthorized:    http.StatusUnauthorized,
		ErrSessionNotFound: http.StatusNotFound,
		ErrRateLimited:     http.StatusTooManyRequests,
		ErrStreamFailed:    http.StatusBadGateway,
		ErrHistoryWrite:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatusFor(code); got != want {
			t.Errorf("HTTPStatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
