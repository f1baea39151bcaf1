package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestTryUsesPrimaryWhileHealthy(t *testing.T) {
	var primary, fallback int
	c := NewChain("primary-value", "primary", FailoverConfig{})
	c.Add("fallback", "fallback-value")

	got, err := Try(c, func(v string) (string, error) {
		if v == "primary-value" {
			primary++
		} else {
			fallback++
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if got != "primary-value" {
		t.Errorf("result = %q, want primary-value", got)
	}
	if primary != 1 || fallback != 0 {
		t.Errorf("calls = %d/%d, want 1 primary, 0 fallback", primary, fallback)
	}
}

func TestTryFailsOverToNextBackend(t *testing.T) {
	c := NewChain(1, "down", FailoverConfig{})
	c.Add("up", 2)

	got, err := Try(c, func(v int) (int, error) {
		if v == 1 {
			return 0, errTest
		}
		return v * 10, nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if got != 20 {
		t.Errorf("result = %d, want 20 from the fallback", got)
	}
}

func TestTrySkipsTrippedBackendWithoutCalling(t *testing.T) {
	c := NewChain("down", "down", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 1, CoolDown: time.Hour},
	})
	c.Add("up", "up")

	var downCalls int
	call := func(v string) (string, error) {
		if v == "down" {
			downCalls++
			return "", errTest
		}
		return v, nil
	}

	// First round trips the primary's breaker.
	if _, err := Try(c, call); err != nil {
		t.Fatalf("Try: %v", err)
	}
	// Second round must not touch the tripped primary.
	if _, err := Try(c, call); err != nil {
		t.Fatalf("Try: %v", err)
	}
	if downCalls != 1 {
		t.Errorf("tripped backend called %d times, want 1", downCalls)
	}
}

func TestTryExhaustedWrapsLastError(t *testing.T) {
	c := NewChain(0, "a", FailoverConfig{})
	c.Add("b", 0)

	_, err := Try(c, func(int) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrBackendsExhausted) {
		t.Fatalf("Try = %v, want ErrBackendsExhausted", err)
	}
}

func TestChainBreakersAreIndependent(t *testing.T) {
	c := NewChain("a", "a", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 1, CoolDown: time.Hour},
	})
	c.Add("b", "b")

	// Trip the primary only.
	Try(c, func(v string) (string, error) {
		if v == "a" {
			return "", errTest
		}
		return v, nil
	})

	if got := c.entries[0].breaker.State(); got != StateOpen {
		t.Errorf("primary breaker = %s, want open", got)
	}
	if got := c.entries[1].breaker.State(); got != StateClosed {
		t.Errorf("fallback breaker = %s, want closed", got)
	}
}
