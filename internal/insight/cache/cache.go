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

// Package cache memoises analysis results by request fingerprint. It
// deduplicates identical requests so a repeated question never pays for a
// second LLM call within the TTL. Errors are never cached.
//
// Two stores satisfy the same contract: an in-process TTL map with
// approximate LRU eviction (default) and a Redis-backed store for
// deployments that want dedup state shared across processes. The selector
// lives in BuildStore; observable semantics are identical apart from scope.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"insight/internal/insight/model"
)

// DefaultCapacity bounds the number of in-process entries.
const DefaultCapacity = 1000

// Store is the backend contract. Get returns (nil, false) on a miss; Set and
// Clear are best-effort and must never fail the analysis path.
type Store interface {
	Get(ctx context.Context, key string) (*model.AnalysisResult, bool)
	Set(ctx context.Context, key string, result *model.AnalysisResult)
	Clear(ctx context.Context)
}

// Cache fronts a Store with the enabled flag and request fingerprinting.
// When disabled, Get always misses and Set is a no-op.
type Cache struct {
	store   Store
	enabled bool
}

// Config selects and sizes the cache.
type Config struct {
	Enabled  bool
	TTL      time.Duration
	Capacity int // in-process entries; 0 means DefaultCapacity
}

// New returns a cache over the given store. A nil store yields a disabled
// cache regardless of cfg.Enabled.
func New(cfg Config, store Store) *Cache {
	if store == nil {
		return &Cache{enabled: false}
	}
	return &Cache{store: store, enabled: cfg.Enabled}
}

// Get returns the memoised result for the request, or (nil, false).
func (c *Cache) Get(ctx context.Context, structuredData map[string]any, notes []string) (*model.AnalysisResult, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.store.Get(ctx, Fingerprint(structuredData, notes))
}

// Set memoises a successful result for the request.
func (c *Cache) Set(ctx context.Context, structuredData map[string]any, notes []string, result *model.AnalysisResult) {
	if !c.enabled || result == nil {
		return
	}
	c.store.Set(ctx, Fingerprint(structuredData, notes), result)
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.store.Clear(ctx)
}

// Enabled reports whether the cache participates in lookups.
func (c *Cache) Enabled() bool { return c.enabled }

// memoryStore is the in-process backend: a TTL map bounded by capacity with
// approximate LRU eviction. Reads take the read lock and refresh recency via
// an atomic timestamp, so concurrent Gets never serialise; writes take the
// write lock.
type memoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	ttl      time.Duration
	capacity int
}

type memoryEntry struct {
	result    *model.AnalysisResult
	expiresAt time.Time
	lastUsed  atomic.Int64 // UnixNano of the most recent Get or Set
}

// NewMemoryStore returns the in-process store. capacity <= 0 selects
// DefaultCapacity; ttl <= 0 means entries only leave by eviction.
func NewMemoryStore(ttl time.Duration, capacity int) Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &memoryStore{
		entries:  make(map[string]*memoryEntry),
		ttl:      ttl,
		capacity: capacity,
	}
}

func (s *memoryStore) Get(_ context.Context, key string) (*model.AnalysisResult, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && time.Now().After(e.expiresAt) {
		// Expired; drop lazily under the write lock.
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	e.lastUsed.Store(time.Now().UnixNano())
	return e.result, true
}

func (s *memoryStore) Set(_ context.Context, key string, result *model.AnalysisResult) {
	now := time.Now()
	e := &memoryEntry{result: result, expiresAt: now.Add(s.ttl)}
	e.lastUsed.Store(now.UnixNano())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		s.evictLocked(now)
	}
	s.entries[key] = e
}

func (s *memoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.entries = make(map[string]*memoryEntry)
	s.mu.Unlock()
}

// evictLocked makes room for one entry: expired entries go first, otherwise
// the least-recently-used entry found by a full scan. Recency timestamps are
// updated without the lock, so the scan is approximate LRU. Callers hold the
// write lock.
func (s *memoryStore) evictLocked(now time.Time) {
	var oldestKey string
	var oldestUsed int64
	for key, e := range s.entries {
		if s.ttl > 0 && now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.capacity {
		return
	}
	for key, e := range s.entries {
		used := e.lastUsed.Load()
		if oldestKey == "" || used < oldestUsed {
			oldestKey, oldestUsed = key, used
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// BuildStore constructs a Store from a backend selector, mirroring the
// job store's configuration-discriminated construction.
// Supported backends: "" or "memory" (in-process) and "redis".
func BuildStore(backend string, ttl time.Duration, capacity int, redisAddr string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(ttl, capacity), nil
	case "redis":
		return NewRedisStore(redisAddr, ttl), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}
