package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastRetry is a small, quick budget for tests.
var fastRetry = RetryConfig{MaxAttempts: 3, Backoff: 10 * time.Millisecond}

func networkClass(error) ErrorClass { return ErrorClassNetwork }

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", config.MaxAttempts)
	}
	if config.Backoff != 1*time.Second {
		t.Errorf("Backoff = %v, want 1s", config.Backoff)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(ctx, fastRetry, fn, networkClass)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	ctx := context.Background()

	// Function fails twice, then succeeds.
	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	err := retryWithBackoff(ctx, fastRetry, fn, networkClass)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("persistent error")
	fn := func() error {
		callCount++
		return testErr
	}

	err := retryWithBackoff(ctx, fastRetry, fn, networkClass)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != fastRetry.MaxAttempts {
		t.Errorf("Expected %d calls, got %d", fastRetry.MaxAttempts, callCount)
	}
}

func TestRetryWithBackoff_NonRetryableClass(t *testing.T) {
	ctx := context.Background()

	// Server/client/decode classes fail immediately; only transport
	// failures consume budget.
	for _, class := range []ErrorClass{ErrorClassClient, ErrorClassServer, ErrorClassDecode} {
		t.Run(string(class), func(t *testing.T) {
			callCount := 0
			testErr := errors.New("request failed")
			fn := func() error {
				callCount++
				return testErr
			}

			err := retryWithBackoff(ctx, fastRetry, fn, func(error) ErrorClass { return class })

			if callCount != 1 {
				t.Errorf("Expected 1 call, got %d", callCount)
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Error("Should not report exhaustion when no retry was attempted")
			}
			if !errors.Is(err, testErr) {
				t.Errorf("Expected original error, got %v", err)
			}
		})
	}
}

func TestRetryWithBackoff_FixedInterval(t *testing.T) {
	ctx := context.Background()

	config := RetryConfig{MaxAttempts: 3, Backoff: 50 * time.Millisecond}

	timestamps := []time.Time{}
	fn := func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("error")
	}

	_ = retryWithBackoff(ctx, config, fn, networkClass)

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	// The backoff is fixed: both gaps should be close to the configured
	// interval, not growing.
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < config.Backoff || gap > 10*config.Backoff {
			t.Errorf("Gap %d = %v outside expected range around %v", i, gap, config.Backoff)
		}
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return errors.New("error")
	}

	err := retryWithBackoff(ctx, fastRetry, fn, networkClass)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount >= fastRetry.MaxAttempts {
		t.Errorf("Expected fewer than %d calls due to cancellation, got %d", fastRetry.MaxAttempts, callCount)
	}
}

func TestRetryWithBackoff_ZeroBudget(t *testing.T) {
	ctx := context.Background()

	// A non-positive budget still executes the function once.
	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	if err := retryWithBackoff(ctx, RetryConfig{}, fn, networkClass); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}
