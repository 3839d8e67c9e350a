// errors_test.go — Tests for the engine-wide error taxonomy.
package apierrors

import (
	"errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	err := New(KindTimeout, "waitForVisible exceeded 15s")
	want := "timeout: waitForVisible exceeded 15s"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()
	original := New(KindElementNotFound, "no strategy matched #submit")
	wrapped := Wrap(KindHealingExhausted, "both healer stages failed", original)

	if !errors.Is(wrapped, wrapped) {
		t.Error("expected self-identity under errors.Is")
	}
	var target *Error
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to unwrap to *Error")
	}
	if errors.Unwrap(wrapped) != original {
		t.Error("expected Unwrap to return the original error")
	}
}

func TestTerminalFormat(t *testing.T) {
	t.Parallel()
	err := New(KindCheckpointFailure, "expected \"dashboard\", got \"login\"")
	got := err.Terminal(3, 7)
	want := "checkpoint_failure at step 3/7: expected \"dashboard\", got \"login\""
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIsDistinguishesKind(t *testing.T) {
	t.Parallel()
	a := New(KindTimeout, "x")
	b := New(KindConfig, "x")
	if a.Is(b) {
		t.Error("expected different kinds to not match")
	}
	if !a.Is(New(KindTimeout, "different detail")) {
		t.Error("expected same kind to match regardless of detail")
	}
}
