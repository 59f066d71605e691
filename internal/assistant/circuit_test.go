package assistant

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	def := DefaultCircuitBreakerConfig()
	if cb.cfg != def {
		t.Errorf("zero config = %+v, want defaults %+v", cb.cfg, def)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("new breaker state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})

	cb.Failure()
	cb.Failure()
	if cb.State() != CircuitClosed {
		t.Fatalf("state below threshold = %v, want closed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() while closed: %v", err)
	}

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state at threshold = %v, want open", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})

	cb.Failure()
	cb.Failure()
	cb.Success()

	// The streak restarted, so two more failures stay below threshold.
	cb.Failure()
	cb.Failure()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          40 * time.Millisecond,
	})

	cb.Failure()
	cb.Failure()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() while open = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown: %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Errorf("state after cooldown = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenCloses(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          40 * time.Millisecond,
	})

	cb.Failure()
	cb.Failure()
	time.Sleep(50 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown: %v", err)
	}

	cb.Success()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state after one success = %v, want half-open", cb.State())
	}
	cb.Success()
	if cb.State() != CircuitClosed {
		t.Errorf("state after two successes = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          40 * time.Millisecond,
	})

	cb.Failure()
	cb.Failure()
	time.Sleep(50 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown: %v", err)
	}

	// A single half-open failure goes straight back to open.
	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})

	cb.Failure()
	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Fatal("breaker did not open")
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("state after reset = %v, want closed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after reset: %v", err)
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := cb.Allow(); err == nil {
					if (n+j)%3 == 0 {
						cb.Failure()
					} else {
						cb.Success()
					}
				}
				_ = cb.State()
			}
		}(i)
	}
	wg.Wait()

	// Exercised for the race detector; any final state is valid.
	if s := cb.State(); s != CircuitClosed && s != CircuitOpen && s != CircuitHalfOpen {
		t.Errorf("unexpected state %v", s)
	}
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
