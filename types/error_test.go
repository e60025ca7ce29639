package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStorageError, "upsert failed").
		WithCause(root).
		WithHTTPStatus(503).
		WithRetryable(true)

	if GetErrorCode(err) != ErrStorageError {
		t.Fatalf("expected code %s, got %s", ErrStorageError, GetErrorCode(err))
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

func TestWrapError(t *testing.T) {
	t.Parallel()

	if WrapError(nil, ErrInternalError, "x") != nil {
		t.Fatalf("expected nil for nil error")
	}

	plain := errors.New("boom")
	wrapped := WrapError(plain, ErrCacheError, "cache write")
	if wrapped.Code != ErrCacheError || !errors.Is(wrapped, plain) {
		t.Fatalf("unexpected wrap result: %v", wrapped)
	}

	typed := NewInvalidRequestError("bad ratio")
	outer := fmt.Errorf("handler: %w", typed)
	if got := WrapError(outer, ErrInternalError, "ignored"); got != typed {
		t.Fatalf("expected existing *Error to be preserved")
	}
	if !IsErrorCode(outer, ErrInvalidRequest) {
		t.Fatalf("expected code lookup through wrapping")
	}
}
