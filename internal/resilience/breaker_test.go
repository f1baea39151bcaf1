package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("backend unavailable")

func TestBreakerForwardsWhileClosed(t *testing.T) {
	b := NewBreaker(BreakerConfig{Backend: "whisper"})

	var calls int
	for range 5 {
		err := b.Do(func() error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State = %s, want closed", got)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Backend: "whisper", TripAfter: 3, CoolDown: time.Hour})

	var calls int
	fail := func() error {
		calls++
		return errTest
	}
	for range 3 {
		if err := b.Do(fail); !errors.Is(err, errTest) {
			t.Fatalf("Do = %v, want errTest", err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State after %d failures = %s, want open", calls, got)
	}

	// Open breaker sheds without calling the backend.
	if err := b.Do(fail); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Do while open = %v, want ErrBreakerOpen", err)
	}
	if calls != 3 {
		t.Errorf("backend called %d times, want 3", calls)
	}
}

func TestBreakerSuccessResetsFailStreak(t *testing.T) {
	b := NewBreaker(BreakerConfig{Backend: "coqui", TripAfter: 3})

	for range 2 {
		b.Do(func() error { return errTest })
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	// The streak restarted, so two more failures must not trip.
	for range 2 {
		b.Do(func() error { return errTest })
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State = %s, want closed", got)
	}
}

func TestBreakerClosesAfterTrialStreak(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Backend: "whisper", TripAfter: 1, CoolDown: 10 * time.Millisecond, TrialCalls: 2,
	})

	b.Do(func() error { return errTest })
	if got := b.State(); got != StateOpen {
		t.Fatalf("State = %s, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State after cool-down = %s, want half-open", got)
	}

	// First trial succeeds but one success is not enough to close.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("State after one trial = %s, want half-open", got)
	}

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("second trial: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State after trial streak = %s, want closed", got)
	}
}

func TestBreakerReopensOnTrialFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Backend: "whisper", TripAfter: 1, CoolDown: 10 * time.Millisecond,
	})

	b.Do(func() error { return errTest })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("trial call = %v, want errTest", err)
	}
	// The failed trial restarted the cool-down; calls are shed again.
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Do after failed trial = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerAdmitsOneTrialAtATime(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Backend: "whisper", TripAfter: 1, CoolDown: 10 * time.Millisecond, TrialCalls: 2,
	})

	b.Do(func() error { return errTest })
	time.Sleep(20 * time.Millisecond)

	// While a trial call is in flight, further calls are shed instead of
	// piling onto a backend that may still be recovering.
	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("concurrent call during trial = %v, want ErrBreakerOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call: %v", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{Backend: "coqui", TripAfter: 1, CoolDown: time.Hour})

	b.Do(func() error { return errTest })
	if got := b.State(); got != StateOpen {
		t.Fatalf("State = %s, want open", got)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Errorf("State after Reset = %s, want closed", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}
