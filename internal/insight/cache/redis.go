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

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"insight/internal/insight/model"
)

// redisStore keeps cache entries in Redis so identical requests deduplicate
// across processes. Entries are JSON documents under a namespaced key with a
// per-entry TTL. Redis errors degrade to cache misses; the analysis path
// never fails because the cache is unreachable.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisKey returns the namespaced Redis key for a fingerprint.
func RedisKey(fingerprint string) string {
	return fmt.Sprintf("insight:cache:%s", fingerprint)
}

// NewRedisStore returns a Redis-backed store at addr.
func NewRedisStore(addr string, ttl time.Duration) Store {
	return &redisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (s *redisStore) Get(ctx context.Context, key string) (*model.AnalysisResult, bool) {
	payload, err := s.client.Get(ctx, RedisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var result model.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (s *redisStore) Set(ctx context.Context, key string, result *model.AnalysisResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, RedisKey(key), payload, s.ttl).Err()
}

func (s *redisStore) Clear(ctx context.Context) {
	iter := s.client.Scan(ctx, 0, RedisKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		_ = s.client.Del(ctx, iter.Val()).Err()
	}
}
