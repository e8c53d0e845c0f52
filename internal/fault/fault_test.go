package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Validation, "name is required")
	if KindOf(err) != Validation {
		t.Errorf("kind = %q, want validation", KindOf(err))
	}
	if !Is(err, Validation) {
		t.Error("Is(validation) = false")
	}
	if Is(err, Conflict) {
		t.Error("Is(conflict) = true for a validation fault")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed")
	err := Wrap(Conflict, cause, "appending version")

	if !errors.Is(err, cause) {
		t.Error("cause lost through Wrap")
	}
	if KindOf(err) != Conflict {
		t.Errorf("kind = %q, want conflict", KindOf(err))
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(Forbidden, "cosign_required")
	outer := fmt.Errorf("approving version: %w", inner)

	if KindOf(outer) != Forbidden {
		t.Errorf("kind through fmt wrap = %q, want forbidden", KindOf(outer))
	}
}

func TestPlainErrorsHaveNoKind(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain error reported a kind")
	}
	if KindOf(nil) != "" {
		t.Error("nil error reported a kind")
	}
}

func TestMessages(t *testing.T) {
	err := New(CapExceeded, "blog %s hit the rewrite cap (%d)", "b1", 10)
	want := "cap_exceeded: blog b1 hit the rewrite cap (10)"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(Timeout, errors.New("deadline"), "rewriter call")
	if wrapped.Error() != "timeout: rewriter call: deadline" {
		t.Errorf("wrapped message = %q", wrapped.Error())
	}
}
