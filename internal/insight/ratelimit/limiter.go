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

// Package ratelimit implements the sliding-window limiter that gates every
// LLM call so the provider's per-minute budget is never exceeded.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the rolling interval over which at most `limit` grants are issued.
const window = 60 * time.Second

// Limiter is a sliding-window rate limiter. Acquire blocks until a slot is
// free within the rolling window. Fairness under contention is approximate
// FIFO; strict ordering is not guaranteed.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	grants []time.Time // timestamps of prior grants, oldest first
}

// New returns a limiter that admits at most requestsPerMinute grants per
// rolling 60-second window. Values below 1 are raised to 1.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &Limiter{limit: requestsPerMinute}
}

// Acquire blocks until the caller may perform one rate-limited action. It
// returns early with ctx.Err() if the context is cancelled, without consuming
// a slot. The sleep happens outside the critical section so waiters do not
// serialise behind the lock.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.grants) < l.limit {
			l.grants = append(l.grants, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.grants[0].Add(window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			// The front entry aged out between the check and now; retry.
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops grant timestamps older than the window. Callers hold l.mu.
// time.Now values carry Go's monotonic clock reading, so wall-clock jumps do
// not disturb the window arithmetic.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.grants) && l.grants[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// InFlight reports how many grants currently occupy the window. Intended for
// telemetry and tests.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.grants)
}
