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
	"time"
)

// ErrInvalidRetryPolicy is returned when a retry policy fails validation.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy configures retry behavior with exponential backoff.
//
// The delay before attempt n (n >= 2) is BaseDelay * Multiplier^(n-2):
// with {5, 2s, 2.0} the engine sleeps 2s, 4s, 8s, 16s between the five
// attempts. Delays are deterministic; this tool is a single operator
// against a single host, so there is no herd to jitter against.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Must be >= 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Must be > 0.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Must be >= 1.
	Multiplier float64
}

// Validate checks if the retry policy is valid.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if p.BaseDelay <= 0 {
		return ErrInvalidRetryPolicy
	}
	if p.Multiplier < 1.0 {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// RetryResult contains the outcome of a retry operation.
type RetryResult struct {
	// Attempts is the number of attempts made.
	Attempts int

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// RetryableFunc is a function that can be retried. It should return nil
// on success.
type RetryableFunc func(ctx context.Context, attempt int) error

// RetryEngine executes operations with exponential backoff.
//
// The engine is a generic combinator with no knowledge of what it
// retries; health polling and remote installation both use it. The
// sleep function is injectable so tests can verify the exact backoff
// schedule without waiting.
type RetryEngine struct {
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryEngine creates an engine that sleeps on the wall clock.
func NewRetryEngine() *RetryEngine {
	return &RetryEngine{sleep: sleepContext}
}

// NewRetryEngineWithSleep creates an engine with an injected sleep
// function. Test use only.
func NewRetryEngineWithSleep(sleep func(ctx context.Context, d time.Duration) error) *RetryEngine {
	return &RetryEngine{sleep: sleep}
}

// Retry executes fn with exponential backoff.
//
// # Description
//
// Invokes fn up to policy.MaxAttempts times, sleeping the exponential
// delay between a failed attempt and the next. Returns on the first
// succeeding attempt. After exhausting all attempts it returns the last
// error without panicking; the caller is responsible for reporting.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancellation aborts between attempts.
//   - policy: Backoff configuration (validated here).
//   - fn: The operation to execute and potentially retry.
//
// # Outputs
//
//   - RetryResult: Attempt count and last error.
//   - error: nil on success, the last attempt's error on exhaustion,
//     or the context error on cancellation.
func (e *RetryEngine) Retry(ctx context.Context, policy RetryPolicy, fn RetryableFunc) (RetryResult, error) {
	result := RetryResult{}

	if err := policy.Validate(); err != nil {
		result.LastError = err
		return result, err
	}

	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		// No sleep after the final attempt.
		if attempt == policy.MaxAttempts {
			break
		}

		if err := e.sleep(ctx, delay); err != nil {
			result.LastError = err
			return result, err
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
	}

	return result, result.LastError
}

// sleepContext blocks for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
