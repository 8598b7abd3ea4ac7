package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	if !IsTransient(Transient(cause)) {
		t.Fatal("Transient not classified as transient")
	}
	if !IsPermanent(Permanent(cause)) {
		t.Fatal("Permanent not classified as permanent")
	}
	if IsPermanent(Transient(cause)) || IsTransient(Permanent(cause)) {
		t.Fatal("classifications overlap")
	}
	if !IsValidation(&ValidationError{Field: "order", Reason: "missing"}) {
		t.Fatal("ValidationError not classified as validation")
	}
}

func TestErrorTaxonomySurvivesWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("fetch page: %w", Transient(errors.New("timeout")))
	if !IsTransient(wrapped) {
		t.Fatal("wrapped transient error lost its classification")
	}
	if !errors.Is(fmt.Errorf("fetch: %w", ErrCircuitOpen), ErrCircuitOpen) {
		t.Fatal("wrapped circuit-open sentinel not detected")
	}
}

func TestRetryAfterHint(t *testing.T) {
	t.Parallel()

	if _, ok := RetryAfterHint(Transient(errors.New("x"))); ok {
		t.Fatal("hint reported without retry-after")
	}

	err := fmt.Errorf("call: %w", TransientAfter(errors.New("x"), 7*time.Second))
	hint, ok := RetryAfterHint(err)
	if !ok || hint != 7*time.Second {
		t.Fatalf("expected 7s hint, got %v ok=%v", hint, ok)
	}
}
