package socket

import (
	"errors"
	"testing"
)

func TestError_IsMatchesByKindOnly(t *testing.T) {
	inner := errors.New("dial refused")
	err := WrapError(KindCantConnect, "dial", inner)

	if !errors.Is(err, NewError(KindCantConnect, "different message")) {
		t.Error("expected errors.Is to match on Kind regardless of message")
	}
	if errors.Is(err, NewError(KindServerError, "dial")) {
		t.Error("expected errors.Is to not match a different Kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := WrapError(KindConnectionLost, "transport", inner)

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to see through Unwrap to the inner error")
	}
}

func TestKindOf(t *testing.T) {
	err := NewError(KindNoCredentials, "missing api key")
	kind, ok := KindOf(err)
	if !ok || kind != KindNoCredentials {
		t.Errorf("KindOf() = (%v, %v), want (%v, true)", kind, ok, KindNoCredentials)
	}

	plain := errors.New("plain error")
	if _, ok := KindOf(plain); ok {
		t.Error("KindOf(plain error) should report ok=false")
	}
}

func TestIsKind(t *testing.T) {
	err := NewError(KindCancellationRequested, "timed out")
	if !IsKind(err, KindCancellationRequested) {
		t.Error("expected IsKind to match")
	}
	if IsKind(err, KindServerError) {
		t.Error("expected IsKind to reject a different kind")
	}
}

func TestError_ErrorStringIncludesCauseWhenPresent(t *testing.T) {
	err := WrapError(KindAuthenticationFailed, "handshake", errors.New("bad signature"))
	got := err.Error()
	if got == "" {
		t.Fatal("expected non-empty error string")
	}
	if errors.Unwrap(err) == nil {
		t.Error("expected Unwrap() to return the wrapped cause")
	}
}
