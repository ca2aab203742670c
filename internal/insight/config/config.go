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

// Package config loads the service settings from the environment. A .env
// file in the working directory is honoured when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the full set of service settings.
type Config struct {
	// Anthropic provider
	AnthropicAPIKey string
	ClaudeModel     string
	MaxTokens       int
	Temperature     float64

	// Result cache
	EnableCache     bool
	CacheTTLSeconds int
	CacheBackend    string // memory | redis
	RedisAddr       string

	// Rate limiting and batch processing
	ClaudeRequestsPerMinute    int
	BatchMaxConcurrentLLMCalls int
	BatchPersistenceBackend    string // memory | file | sqlite
	BatchJobStoragePath        string
	BatchSQLitePath            string
	BatchRecordRetryCount      int

	// Optional per-1K-token prices for the batch cost estimate
	BatchCostPer1KInputTokens  *float64
	BatchCostPer1KOutputTokens *float64

	// Server bind
	Host string
	Port int
}

// Load reads settings from the environment, applying defaults for everything
// except the provider credential.
func Load() (*Config, error) {
	// Best-effort; absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		AnthropicAPIKey:            os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:                getString("CLAUDE_MODEL", "claude-3-5-haiku-20241022"),
		MaxTokens:                  getInt("MAX_TOKENS", 1200),
		Temperature:                getFloat("TEMPERATURE", 0.3),
		EnableCache:                getBool("ENABLE_CACHE", true),
		CacheTTLSeconds:            getInt("CACHE_TTL_SECONDS", 3600),
		CacheBackend:               getString("CACHE_BACKEND", "memory"),
		RedisAddr:                  getString("REDIS_ADDR", "localhost:6379"),
		ClaudeRequestsPerMinute:    getInt("CLAUDE_REQUESTS_PER_MINUTE", 50),
		BatchMaxConcurrentLLMCalls: getInt("BATCH_MAX_CONCURRENT_LLM_CALLS", 5),
		BatchPersistenceBackend:    getString("BATCH_PERSISTENCE_BACKEND", "memory"),
		BatchJobStoragePath:        getString("BATCH_JOB_STORAGE_PATH", "data/batch_jobs"),
		BatchSQLitePath:            getString("BATCH_SQLITE_PATH", "data/batch.db"),
		BatchRecordRetryCount:      getInt("BATCH_RECORD_RETRY_COUNT", 1),
		BatchCostPer1KInputTokens:  getOptionalFloat("BATCH_COST_PER_1K_INPUT_TOKENS"),
		BatchCostPer1KOutputTokens: getOptionalFloat("BATCH_COST_PER_1K_OUTPUT_TOKENS"),
		Host:                       getString("HOST", "0.0.0.0"),
		Port:                       getInt("PORT", 8000),
	}

	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required; set it in the environment or a .env file")
	}
	if cfg.ClaudeRequestsPerMinute < 1 {
		cfg.ClaudeRequestsPerMinute = 1
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getOptionalFloat(key string) *float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
