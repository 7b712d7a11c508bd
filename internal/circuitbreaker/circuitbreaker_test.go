package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/arbitron/arbitrage-engine/internal/apperror"
)

func TestCircuitBreaker_PassThrough(t *testing.T) {
	cb := New[int](DefaultConfig("test"))

	got, err := cb.Execute(func() (int, error) { return 7, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestCircuitBreaker_PropagatesErrors(t *testing.T) {
	cb := New[int](DefaultConfig("test"))

	wantErr := errors.New("rpc down")
	_, err := cb.Execute(func() (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cfg := Config{
		Name:        "flaky",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		MinRequests: 3,
		FailureRate: 0.5,
	}
	cb := New[int](cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (int, error) { return 0, boom })
	}

	_, err := cb.Execute(func() (int, error) {
		t.Fatal("fn must not run while breaker is open")
		return 0, nil
	})

	if apperror.GetCode(err) != apperror.CodeCircuitOpen {
		t.Fatalf("got code %s, want %s", apperror.GetCode(err), apperror.CodeCircuitOpen)
	}
}
