package serviceerror

import (
	"errors"
	"testing"
)

func TestErrorCodeAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New("chat.send", "insert_failed", cause)

	var serviceErr *Error
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if serviceErr.Code() != "chat.send.insert_failed" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if err.Error() != "chat.send.insert_failed: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if New("a", "b", nil).Error() != "a.b" {
		t.Fatalf("expected bare code without cause")
	}
}
