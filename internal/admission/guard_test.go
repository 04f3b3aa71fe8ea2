package admission

import (
	"errors"
	"testing"
	"time"
)

func TestGuardAllowsUpToLimit(t *testing.T) {
	guard := NewGuard(GuardConfig{})
	now := time.Unix(1000, 0)

	for attempt := 0; attempt < DefaultLimit; attempt++ {
		if err := guard.Admit("10.0.0.1", now); err != nil {
			t.Fatalf("attempt %d unexpectedly rejected: %v", attempt+1, err)
		}
	}
	if err := guard.Admit("10.0.0.1", now); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections on attempt %d, got %v", DefaultLimit+1, err)
	}
}

func TestGuardWindowSlides(t *testing.T) {
	guard := NewGuard(GuardConfig{Window: time.Minute, Limit: 2})
	base := time.Unix(2000, 0)

	if err := guard.Admit("10.0.0.2", base); err != nil {
		t.Fatalf("first attempt rejected: %v", err)
	}
	if err := guard.Admit("10.0.0.2", base.Add(time.Second)); err != nil {
		t.Fatalf("second attempt rejected: %v", err)
	}
	if err := guard.Admit("10.0.0.2", base.Add(2*time.Second)); err == nil {
		t.Fatal("third attempt inside window should be rejected")
	}
	// Rejected attempts still count toward the window.
	if err := guard.Admit("10.0.0.2", base.Add(30*time.Second)); err == nil {
		t.Fatal("window still saturated half way through")
	}
	if err := guard.Admit("10.0.0.2", base.Add(2*time.Minute)); err != nil {
		t.Fatalf("attempt after full window rejected: %v", err)
	}
}

func TestGuardIsolatesAddresses(t *testing.T) {
	guard := NewGuard(GuardConfig{Limit: 1})
	now := time.Unix(3000, 0)

	if err := guard.Admit("10.0.0.3", now); err != nil {
		t.Fatalf("first address rejected: %v", err)
	}
	if err := guard.Admit("10.0.0.4", now); err != nil {
		t.Fatalf("second address rejected: %v", err)
	}
	if err := guard.Admit("10.0.0.3", now); err == nil {
		t.Fatal("expected saturation for first address")
	}
}
