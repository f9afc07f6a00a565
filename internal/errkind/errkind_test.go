package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapIsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(Transient, cause)

	if !Is(wrapped, Transient) {
		t.Error("expected wrapped error to match Transient")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("expected wrapped error to match its underlying cause")
	}
	if Is(wrapped, PolicyAbsent) {
		t.Error("expected wrapped error not to match an unrelated kind")
	}
	if wrapped.Error() != cause.Error() {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), cause.Error())
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(Transient, nil) != nil {
		t.Error("expected Wrap(kind, nil) to return nil")
	}
}

func TestWrapPreservesFmtErrorfChaining(t *testing.T) {
	wrapped := Wrap(RankAbsent, fmt.Errorf("rank:get: %w", NotFound))
	if !Is(wrapped, RankAbsent) {
		t.Error("expected match against RankAbsent")
	}
	if !Is(wrapped, NotFound) {
		t.Error("expected match against the chained NotFound cause")
	}
}
