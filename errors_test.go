package haven

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := E(CodeNotFound, "session not found")
	if got := e.Error(); got != "NOT_FOUND: session not found" {
		t.Errorf("Error() = %q", got)
	}
	e.Detail = "id s-1"
	if got := e.Error(); got != "NOT_FOUND: session not found (id s-1)" {
		t.Errorf("Error() with detail = %q", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(CodeStore, "append message", cause)
	if !errors.Is(e, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if e.Detail != "disk full" {
		t.Errorf("Detail = %q", e.Detail)
	}

	var he *Error
	wrapped := fmt.Errorf("outer: %w", e)
	if !errors.As(wrapped, &he) || he.Code != CodeStore {
		t.Errorf("errors.As failed to recover code from %v", wrapped)
	}
}

func TestWithSuggestionCopies(t *testing.T) {
	base := E(CodeValidation, "unsupported file type")
	withHint := base.WithSuggestion("upload txt, md, pdf, or html")
	if base.Suggestion != "" {
		t.Error("WithSuggestion mutated the original")
	}
	if withHint.Suggestion == "" {
		t.Error("suggestion not set on copy")
	}
}
