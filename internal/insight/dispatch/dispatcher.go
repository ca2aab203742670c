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

// Package dispatch fans a batch of records out across the analysis pipeline
// under a concurrency cap, with per-record retry and failure isolation: one
// record's failure never fails the batch.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"insight/internal/insight/jobstore"
	"insight/internal/insight/model"
	"insight/internal/insight/telemetry"
)

// errEmptyNotes is the per-record failure text when a record has no usable
// note after normalisation.
const errEmptyNotes = "At least one note is required"

// Analyzer is the slice of the analysis facade the dispatcher consumes.
type Analyzer interface {
	Cached(ctx context.Context, structuredData map[string]any, notes []string) (*model.AnalysisResult, bool)
	Analyze(ctx context.Context, structuredData map[string]any, notes []string) (*model.AnalysisResult, error)
}

// Dispatcher runs accepted batches to completion.
type Dispatcher struct {
	store         *jobstore.Store
	analyzer      Analyzer
	metrics       *telemetry.Metrics
	logger        *zap.Logger
	maxConcurrent int64
	retryCount    int
}

// New configures a dispatcher. maxConcurrent bounds simultaneous LLM calls;
// retryCount is the number of additional attempts after the first.
func New(store *jobstore.Store, a Analyzer, metrics *telemetry.Metrics, logger *zap.Logger, maxConcurrent, retryCount int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if retryCount < 0 {
		retryCount = 0
	}
	return &Dispatcher{
		store:         store,
		analyzer:      a,
		metrics:       metrics,
		logger:        logger,
		maxConcurrent: int64(maxConcurrent),
		retryCount:    retryCount,
	}
}

// Run processes every record of the batch and returns once each has reached
// a terminal state and the job has been transitioned to completed (or failed
// on a fatal harness error). Records complete in no particular order; each
// result carries its original index.
//
// Cancelling ctx stops in-flight work promptly; the job is left non-terminal
// with its last persisted state.
func (d *Dispatcher) Run(ctx context.Context, jobID string, records []model.Request) {
	if err := d.store.SetProcessing(jobID); err != nil {
		d.logger.Error("batch failed to enter processing", zap.String("job_id", jobID), zap.Error(err))
		_ = d.store.SetJobFailed(jobID, err.Error())
		return
	}

	sem := semaphore.NewWeighted(d.maxConcurrent)
	var (
		wg      sync.WaitGroup
		fatalMu sync.Mutex
		fatal   error
	)

	for i, record := range records {
		wg.Add(1)
		go func(index int, record model.Request) {
			defer wg.Done()
			// A panic escaping a record task is a harness bug, not a record
			// failure; it fails the whole job.
			defer func() {
				if r := recover(); r != nil {
					fatalMu.Lock()
					if fatal == nil {
						fatal = fmt.Errorf("record task panic: %v", r)
					}
					fatalMu.Unlock()
				}
			}()
			d.processRecord(ctx, sem, jobID, index, record)
		}(i, record)
	}
	wg.Wait()

	if ctx.Err() != nil {
		// Shutdown: leave the job re-discoverable in its last persisted state.
		d.logger.Warn("batch cancelled before completion", zap.String("job_id", jobID))
		return
	}
	if fatal != nil {
		d.logger.Error("batch failed", zap.String("job_id", jobID), zap.Error(fatal))
		_ = d.store.SetJobFailed(jobID, fatal.Error())
		return
	}
	if err := d.store.SetJobCompleted(jobID); err != nil {
		d.logger.Error("batch completion not persisted", zap.String("job_id", jobID), zap.Error(err))
	}
}

// processRecord drives one record to a terminal state: validation, cache
// fast path, then up to 1+retryCount rate-limited attempts. The semaphore
// slot is held only for the duration of each attempt and released on every
// exit path.
func (d *Dispatcher) processRecord(ctx context.Context, sem *semaphore.Weighted, jobID string, index int, record model.Request) {
	notes := model.NormalizeNotes(record.Notes)
	if len(notes) == 0 {
		d.recordFailure(jobID, index, errEmptyNotes)
		return
	}

	// Duplicate records resolve from the cache without spending a
	// concurrency or rate-limit slot.
	if cached, ok := d.analyzer.Cached(ctx, record.StructuredData, notes); ok {
		d.recordSuccess(jobID, index, cached)
		return
	}

	var lastErr error
	attempts := 1 + d.retryCount
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while queued; the job stays non-terminal.
			return
		}
		result, err := d.analyzer.Analyze(ctx, record.StructuredData, notes)
		sem.Release(1)

		if err == nil {
			d.recordSuccess(jobID, index, result)
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		d.logger.Warn("record attempt failed",
			zap.String("job_id", jobID),
			zap.Int("index", index),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	d.recordFailure(jobID, index, lastErr.Error())
}

func (d *Dispatcher) recordSuccess(jobID string, index int, result *model.AnalysisResult) {
	tokens := 0
	if result.Metadata.TokensUsed != nil {
		tokens = *result.Metadata.TokensUsed
	}
	d.metrics.ObserveBatchRecord(true)
	if err := d.store.AppendResult(jobID, model.RecordResult{
		Index:    index,
		Success:  true,
		Response: result,
	}, tokens); err != nil {
		d.logger.Warn("result not persisted", zap.String("job_id", jobID), zap.Int("index", index), zap.Error(err))
	}
}

func (d *Dispatcher) recordFailure(jobID string, index int, message string) {
	d.metrics.ObserveBatchRecord(false)
	if err := d.store.AppendResult(jobID, model.RecordResult{
		Index:   index,
		Success: false,
		Error:   message,
	}, 0); err != nil {
		d.logger.Warn("result not persisted", zap.String("job_id", jobID), zap.Int("index", index), zap.Error(err))
	}
}
