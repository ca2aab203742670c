// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestLimiter_AdmitsUpToLimit validates the happy path: R acquisitions within
// a fresh window all succeed immediately, and the window then holds exactly R
// grants.
func TestLimiter_AdmitsUpToLimit(t *testing.T) {
	const limit = 5
	l := New(limit)
	ctx := context.Background()

	for i := 0; i < limit; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire #%d returned %v, want nil", i+1, err)
		}
	}
	if got := l.InFlight(); got != limit {
		t.Errorf("InFlight() = %d, want %d", got, limit)
	}
}

// TestLimiter_BlocksWhenWindowFull validates that the R+1-th acquisition does
// not pass while the window is full: with a short deadline it returns the
// context error and consumes no slot.
func TestLimiter_BlocksWhenWindowFull(t *testing.T) {
	const limit = 2
	l := New(limit)
	for i := 0; i < limit; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("setup Acquire failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire on full window = %v, want context.DeadlineExceeded", err)
	}
	if got := l.InFlight(); got != limit {
		t.Errorf("InFlight() after failed Acquire = %d, want %d", got, limit)
	}
}

// TestLimiter_CancelledWaiter validates that cancelling a blocked waiter
// unblocks it promptly with context.Canceled.
func TestLimiter_CancelledWaiter(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("setup Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Acquire after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return within 1s")
	}
}

// TestLimiter_MinimumLimit validates that limits below 1 are raised to 1
// rather than producing a limiter that never grants.
func TestLimiter_MinimumLimit(t *testing.T) {
	for _, limit := range []int{0, -3} {
		l := New(limit)
		if err := l.Acquire(context.Background()); err != nil {
			t.Errorf("New(%d).Acquire() = %v, want nil", limit, err)
		}
	}
}

// TestLimiter_ConcurrentAcquire validates that parallel callers within the
// budget all succeed and the grant count matches exactly.
func TestLimiter_ConcurrentAcquire(t *testing.T) {
	const limit = 20
	l := New(limit)

	var wg sync.WaitGroup
	errs := make(chan error, limit)
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Acquire failed: %v", err)
		}
	}
	if got := l.InFlight(); got != limit {
		t.Errorf("InFlight() = %d, want %d", got, limit)
	}
}
