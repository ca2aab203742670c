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

// Package jobstore tracks batch job state and results, persisting through an
// interchangeable backend (memory, file-per-job, or sqlite). External
// observers cannot tell the backends apart through the store's operations.
package jobstore

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"insight/internal/insight/model"
)

// JobRow is one row of the job listing (no per-record results).
type JobRow struct {
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	TotalRecords    int       `json:"total_records"`
	CompletedCount  int       `json:"completed_count"`
	FailedCount     int       `json:"failed_count"`
	TotalTokensUsed int       `json:"total_tokens_used"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StatusView is the caller-facing snapshot of a job, including progress and
// any partial results appended so far. EstimatedCost is null unless pricing
// is configured and tokens have been consumed.
type StatusView struct {
	JobID           string               `json:"job_id"`
	Status          model.JobStatus      `json:"status"`
	TotalRecords    int                  `json:"total_records"`
	CompletedCount  int                  `json:"completed_count"`
	FailedCount     int                  `json:"failed_count"`
	ProgressPercent float64              `json:"progress_percent"`
	TotalTokensUsed int                  `json:"total_tokens_used"`
	EstimatedCost   *float64             `json:"estimated_cost"`
	Results         []model.RecordResult `json:"results,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	FailureMessage  string               `json:"failure_message,omitempty"`
}

// Backend is the persistence contract behind the store. Persist receives a
// snapshot the store will not mutate. Load returns (nil, false, nil) when the
// backend has no record of the job. List returns handled=false when the
// backend has no listing of its own (the store then lists from memory).
type Backend interface {
	Persist(job *model.Job) error
	Load(jobID string) (*model.Job, bool, error)
	List(limit int) (rows []JobRow, handled bool, err error)
	Ready() error
	Close() error
}

// CostConfig supplies optional per-1K-token prices for the cost estimate.
type CostConfig struct {
	Per1KInputTokens  *float64
	Per1KOutputTokens *float64
}

// Store holds job state in memory and writes through to its backend. All
// public operations are safe under parallel invocation; a single mutex guards
// the in-memory map, and backend writes happen under it so writes for a given
// job reach the medium in mutation order.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	backend Backend
	cost    CostConfig
}

// New returns a store over the given backend.
func New(backend Backend, cost CostConfig) *Store {
	return &Store{
		jobs:    make(map[string]*model.Job),
		backend: backend,
		cost:    cost,
	}
}

// CreateJob allocates a fresh job in the accepted state and persists it.
func (s *Store) CreateJob(totalRecords int) (string, error) {
	jobID := uuid.NewString()
	now := time.Now().UTC()
	job := &model.Job{
		JobID:        jobID,
		Status:       model.JobAccepted,
		TotalRecords: totalRecords,
		Results:      []model.RecordResult{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = job
	if err := s.backend.Persist(job.Clone()); err != nil {
		return "", fmt.Errorf("persist job %s: %w", jobID, err)
	}
	return jobID, nil
}

// SetProcessing transitions the job from accepted to processing. It is a
// no-op for unknown jobs and for jobs already past accepted (transitions
// never move backwards).
func (s *Store) SetProcessing(jobID string) error {
	return s.mutate(jobID, func(job *model.Job) bool {
		if job.Status != model.JobAccepted {
			return false
		}
		job.Status = model.JobProcessing
		return true
	})
}

// AppendResult records one record's terminal outcome: on success it
// increments completed_count and adds tokensUsed to the job's token total,
// otherwise it increments failed_count. Results accumulate in completion
// order; each carries its original index.
func (s *Store) AppendResult(jobID string, result model.RecordResult, tokensUsed int) error {
	return s.mutate(jobID, func(job *model.Job) bool {
		job.Results = append(job.Results, result)
		if result.Success {
			job.CompletedCount++
			if tokensUsed > 0 {
				job.TotalTokensUsed += tokensUsed
			}
		} else {
			job.FailedCount++
		}
		return true
	})
}

// SetJobCompleted marks the job completed. Calling it again after the first
// terminal transition leaves state unchanged.
func (s *Store) SetJobCompleted(jobID string) error {
	return s.mutate(jobID, func(job *model.Job) bool {
		if job.Status.Terminal() {
			return false
		}
		job.Status = model.JobCompleted
		return true
	})
}

// SetJobFailed marks the job failed, recording the fatal dispatcher error.
func (s *Store) SetJobFailed(jobID, message string) error {
	return s.mutate(jobID, func(job *model.Job) bool {
		if job.Status.Terminal() {
			return false
		}
		job.Status = model.JobFailed
		if message != "" {
			job.FailureMessage = message
		}
		return true
	})
}

// mutate applies fn to the job under the lock and persists when fn reports a
// change. Unknown jobs are a silent no-op, matching the contract.
func (s *Store) mutate(jobID string, fn func(*model.Job) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if !fn(job) {
		return nil
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.backend.Persist(job.Clone()); err != nil {
		return fmt.Errorf("persist job %s: %w", jobID, err)
	}
	return nil
}

// getJob returns a snapshot of the job, hydrating from the backend when it
// is absent in memory (e.g. after restart). Hydration never overwrites a job
// another caller has just mutated in memory.
func (s *Store) getJob(jobID string) (*model.Job, bool) {
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		snapshot := job.Clone()
		s.mu.Unlock()
		return snapshot, true
	}
	s.mu.Unlock()

	loaded, ok, err := s.backend.Load(jobID)
	if err != nil || !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job, raced := s.jobs[jobID]; raced {
		// Another caller repopulated the job while we read the backend; the
		// in-memory state wins.
		return job.Clone(), true
	}
	s.jobs[jobID] = loaded
	return loaded.Clone(), true
}

// GetStatusResponse builds the status view for a job, or (nil, false) when
// the job is unknown to both memory and the backend.
func (s *Store) GetStatusResponse(jobID string) (*StatusView, bool) {
	job, ok := s.getJob(jobID)
	if !ok {
		return nil, false
	}

	progress := 0.0
	if job.TotalRecords > 0 {
		done := job.CompletedCount + job.FailedCount
		progress = round2(float64(done) / float64(job.TotalRecords) * 100.0)
	}

	view := &StatusView{
		JobID:           job.JobID,
		Status:          job.Status,
		TotalRecords:    job.TotalRecords,
		CompletedCount:  job.CompletedCount,
		FailedCount:     job.FailedCount,
		ProgressPercent: progress,
		TotalTokensUsed: job.TotalTokensUsed,
		EstimatedCost:   s.estimateCost(job.TotalTokensUsed),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		FailureMessage:  job.FailureMessage,
	}
	if len(job.Results) > 0 {
		view.Results = job.Results
	}
	return view, true
}

// estimateCost applies the configured per-1K-token prices, splitting the
// total half input / half output. The 50/50 split is an approximation; exact
// attribution would need the provider's per-call usage breakdown.
func (s *Store) estimateCost(totalTokens int) *float64 {
	if totalTokens <= 0 {
		return nil
	}
	if s.cost.Per1KInputTokens == nil && s.cost.Per1KOutputTokens == nil {
		return nil
	}
	half := float64(totalTokens) / 2.0 / 1000.0
	cost := 0.0
	if s.cost.Per1KInputTokens != nil {
		cost += half * *s.cost.Per1KInputTokens
	}
	if s.cost.Per1KOutputTokens != nil {
		cost += half * *s.cost.Per1KOutputTokens
	}
	rounded := round6(cost)
	return &rounded
}

// ListJobs returns up to limit jobs, most recent first. Backends with their
// own listing (file directory, sqlite table) serve it; otherwise the
// in-memory map is sorted by creation time.
func (s *Store) ListJobs(limit int) ([]JobRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if rows, handled, err := s.backend.List(limit); handled {
		return rows, err
	}

	s.mu.Lock()
	jobs := make([]*model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	rows := make([]JobRow, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, rowFromJob(job))
	}
	return rows, nil
}

// Ready reports whether the persistence backend is writable.
func (s *Store) Ready() error {
	return s.backend.Ready()
}

// Close releases backend resources.
func (s *Store) Close() error {
	return s.backend.Close()
}

func rowFromJob(job *model.Job) JobRow {
	return JobRow{
		JobID:           job.JobID,
		Status:          string(job.Status),
		TotalRecords:    job.TotalRecords,
		CompletedCount:  job.CompletedCount,
		FailedCount:     job.FailedCount,
		TotalTokensUsed: job.TotalTokensUsed,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
