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

// Package main is the entry point for the Smart Summary & Insight Service.
//
// This file orchestrates the whole service:
//  1. Loading configuration from the environment (and .env, if present).
//  2. Building the shared components: result cache, rate limiter, job store,
//     Claude client, analysis facade, batch dispatcher.
//  3. Starting the HTTP server.
//  4. Managing graceful shutdown so in-flight batches stop cleanly and the
//     persistence backend is closed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"insight/internal/insight/analyzer"
	"insight/internal/insight/api"
	"insight/internal/insight/cache"
	"insight/internal/insight/config"
	"insight/internal/insight/dispatch"
	"insight/internal/insight/jobstore"
	"insight/internal/insight/ratelimit"
	"insight/internal/insight/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	// 1. Load configuration. The Anthropic credential is the only required
	// setting; everything else has a default.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	metrics := telemetry.NewMetrics()

	// 2. Result cache. The memory backend is the default; redis shares the
	// cache across replicas.
	cacheStore, err := cache.BuildStore(cfg.CacheBackend, time.Duration(cfg.CacheTTLSeconds)*time.Second, 0, cfg.RedisAddr)
	if err != nil {
		logger.Fatal("cache backend invalid", zap.Error(err))
	}
	resultCache := cache.New(cache.Config{
		Enabled: cfg.EnableCache,
		TTL:     time.Duration(cfg.CacheTTLSeconds) * time.Second,
	}, cacheStore)

	// 3. Provider-wide rate limiter, shared by the synchronous and batch
	// paths.
	limiter := ratelimit.New(cfg.ClaudeRequestsPerMinute)

	// 4. Job store over the configured persistence backend.
	backend, err := jobstore.BuildBackend(cfg.BatchPersistenceBackend, cfg.BatchJobStoragePath, cfg.BatchSQLitePath)
	if err != nil {
		logger.Fatal("persistence backend invalid", zap.Error(err))
	}
	store := jobstore.New(backend, jobstore.CostConfig{
		Per1KInputTokens:  cfg.BatchCostPer1KInputTokens,
		Per1KOutputTokens: cfg.BatchCostPer1KOutputTokens,
	})

	// 5. Analysis facade and batch dispatcher.
	claude := analyzer.NewClaudeClient(analyzer.ClaudeConfig{
		APIKey:      cfg.AnthropicAPIKey,
		Model:       cfg.ClaudeModel,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	facade := analyzer.New(claude, resultCache, limiter, metrics, logger, cfg.ClaudeModel)
	dispatcher := dispatch.New(store, facade, metrics, logger, cfg.BatchMaxConcurrentLLMCalls, cfg.BatchRecordRetryCount)

	// batchCtx owns background batch processing; cancelling it on shutdown
	// stops in-flight dispatchers.
	batchCtx, cancelBatches := context.WithCancel(context.Background())
	defer cancelBatches()

	server := api.NewServer(batchCtx, facade, dispatcher, store, metrics, logger)
	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	// 6. Serve in a goroutine so main can block on the shutdown signal.
	go func() {
		logger.Info("insight API listening",
			zap.String("addr", cfg.Addr()),
			zap.String("model", cfg.ClaudeModel),
			zap.String("persistence", cfg.BatchPersistenceBackend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	// 7. Stop accepting requests, then cancel background batches. Jobs that
	// were mid-flight stay in their last persisted state and are
	// re-discoverable after restart.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancelBatches()

	if err := store.Close(); err != nil {
		logger.Error("persistence close failed", zap.Error(err))
	}
	logger.Info("stopped")
}
