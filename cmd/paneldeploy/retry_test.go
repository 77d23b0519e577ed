// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleep returns a sleep function that records every requested
// delay without waiting.
func recordingSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{
			name:    "valid policy",
			policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0},
			wantErr: false,
		},
		{
			name:    "single attempt is valid",
			policy:  RetryPolicy{MaxAttempts: 1, BaseDelay: time.Second, Multiplier: 1.0},
			wantErr: false,
		},
		{
			name:    "zero attempts",
			policy:  RetryPolicy{MaxAttempts: 0, BaseDelay: time.Second, Multiplier: 2.0},
			wantErr: true,
		},
		{
			name:    "zero base delay",
			policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: 0, Multiplier: 2.0},
			wantErr: true,
		},
		{
			name:    "multiplier below one",
			policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 0.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("Validate() error = %v, want ErrInvalidRetryPolicy", err)
			}
		})
	}
}

func TestRetryEngine_BackoffSchedule(t *testing.T) {
	// The health policy {5, 2s, x2} must produce exactly 2s, 4s, 8s,
	// 16s between its five attempts, with no sleep after the last.
	var delays []time.Duration
	engine := NewRetryEngineWithSleep(recordingSleep(&delays))

	calls := 0
	failAlways := errors.New("still down")
	result, err := engine.Retry(context.Background(), DefaultHealthRetryPolicy(),
		func(ctx context.Context, attempt int) error {
			calls++
			return failAlways
		})

	if err == nil {
		t.Fatal("Retry() expected error after exhaustion, got nil")
	}
	if !errors.Is(err, failAlways) {
		t.Errorf("Retry() error = %v, want last attempt error", err)
	}
	if calls != 5 {
		t.Errorf("Retry() made %d calls, want 5", calls)
	}
	if result.Attempts != 5 {
		t.Errorf("Retry() result.Attempts = %d, want 5", result.Attempts)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("Retry() slept %d times (%v), want %d", len(delays), delays, len(want))
	}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("Retry() delay[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestRetryEngine_SucceedsMidway(t *testing.T) {
	var delays []time.Duration
	engine := NewRetryEngineWithSleep(recordingSleep(&delays))

	calls := 0
	result, err := engine.Retry(context.Background(), DefaultInstallRetryPolicy(),
		func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("transient")
			}
			return nil
		})

	if err != nil {
		t.Fatalf("Retry() unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Retry() made %d calls, want 3", calls)
	}
	if result.Attempts != 3 {
		t.Errorf("Retry() result.Attempts = %d, want 3", result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("Retry() result.LastError = %v, want nil", result.LastError)
	}

	// Install policy base is 5s; two failures mean two sleeps.
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("Retry() slept %d times (%v), want %d", len(delays), delays, len(want))
	}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("Retry() delay[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestRetryEngine_FirstAttemptSucceeds(t *testing.T) {
	var delays []time.Duration
	engine := NewRetryEngineWithSleep(recordingSleep(&delays))

	result, err := engine.Retry(context.Background(), DefaultHealthRetryPolicy(),
		func(ctx context.Context, attempt int) error { return nil })

	if err != nil {
		t.Fatalf("Retry() unexpected error: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Retry() result.Attempts = %d, want 1", result.Attempts)
	}
	if len(delays) != 0 {
		t.Errorf("Retry() slept %v, want no sleeps", delays)
	}
}

func TestRetryEngine_InvalidPolicy(t *testing.T) {
	engine := NewRetryEngine()

	called := false
	_, err := engine.Retry(context.Background(), RetryPolicy{},
		func(ctx context.Context, attempt int) error {
			called = true
			return nil
		})

	if !errors.Is(err, ErrInvalidRetryPolicy) {
		t.Errorf("Retry() error = %v, want ErrInvalidRetryPolicy", err)
	}
	if called {
		t.Error("Retry() invoked fn despite invalid policy")
	}
}

func TestRetryEngine_ContextCancelled(t *testing.T) {
	var delays []time.Duration
	engine := NewRetryEngineWithSleep(recordingSleep(&delays))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := engine.Retry(ctx, DefaultInstallRetryPolicy(),
		func(ctx context.Context, attempt int) error {
			calls++
			cancel()
			return errors.New("failing")
		})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("Retry() made %d calls after cancellation, want 1", calls)
	}
}
