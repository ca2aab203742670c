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

// Package model defines the value types exchanged between the HTTP surface,
// the analysis facade, the batch dispatcher, and the job store. Values are
// owned by whichever component currently holds them; crossing a component
// boundary passes ownership.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority levels used by insights and next actions.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Notes is a list of free-text notes. It accepts either a single JSON string
// or an array of strings on the wire; a bare string decodes to a one-element
// list so downstream code always sees a slice.
type Notes []string

// UnmarshalJSON implements the string-or-array decoding for notes.
func (n *Notes) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*n = Notes{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*n = Notes(many)
	return nil
}

// NormalizeNotes trims every note and drops the empties. The result may be
// empty; callers reject the request in that case. Normalisation happens once
// at the boundary; interior code treats notes as already normalised.
func NormalizeNotes(notes []string) []string {
	out := make([]string, 0, len(notes))
	for _, note := range notes {
		trimmed := strings.TrimSpace(note)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Request is one unit of analysis input: optional structured key/value data
// plus one or more free-text notes.
type Request struct {
	StructuredData map[string]any `json:"structured_data,omitempty"`
	Notes          []string       `json:"notes"`
}

// Insight is a single extracted finding.
type Insight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority"`
}

// NextAction is a suggested follow-up.
type NextAction struct {
	Action    string `json:"action"`
	Priority  string `json:"priority"`
	Rationale string `json:"rationale,omitempty"`
}

// Metadata describes how an analysis was produced.
type Metadata struct {
	ConfidenceScore  float64   `json:"confidence_score"`
	ModelVersion     string    `json:"model_version"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
	TokensUsed       *int      `json:"tokens_used,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// AnalysisResult is the structured artifact returned by the LLM pipeline.
type AnalysisResult struct {
	Summary     string       `json:"summary"`
	Insights    []Insight    `json:"insights"`
	NextActions []NextAction `json:"next_actions"`
	Metadata    Metadata     `json:"metadata"`
}

// JobStatus is the lifecycle state of a batch job. Transitions only move
// forward along accepted → processing → {completed, failed}.
type JobStatus string

const (
	JobAccepted   JobStatus = "accepted"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// RecordResult is the terminal outcome of one batch record. Exactly one of
// Response (success) or Error (failure) is present.
type RecordResult struct {
	Index    int             `json:"index"`
	Success  bool            `json:"success"`
	Response *AnalysisResult `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Job is the persistent record of a batch's lifecycle and accumulated
// results. Results are appended in completion order, not index order; each
// carries its original index so readers can reconstruct submission order.
type Job struct {
	JobID           string         `json:"job_id"`
	Status          JobStatus      `json:"status"`
	TotalRecords    int            `json:"total_records"`
	CompletedCount  int            `json:"completed_count"`
	FailedCount     int            `json:"failed_count"`
	TotalTokensUsed int            `json:"total_tokens_used"`
	Results         []RecordResult `json:"results"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	FailureMessage  string         `json:"failure_message,omitempty"`
}

// Clone returns a deep copy of the job so snapshots handed to persistence or
// to status views cannot race with subsequent mutations.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Results = make([]RecordResult, len(j.Results))
	copy(cp.Results, j.Results)
	return &cp
}
