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

// Package analyzer implements the single-record analysis pipeline:
// cache check, rate-limited LLM invocation, tolerant JSON parsing with
// documented defaults, and cache fill. Errors are never cached.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"insight/internal/insight/cache"
	"insight/internal/insight/model"
	"insight/internal/insight/ratelimit"
	"insight/internal/insight/telemetry"
)

// Error marks an unrecoverable analysis failure: the provider call raised,
// the reply carried no recoverable JSON, or the payload was incompatible.
// The synchronous handler maps it to a 500; the dispatcher confines it to the
// failing record.
type Error struct {
	err error
}

func (e *Error) Error() string { return fmt.Sprintf("Failed to analyze data: %v", e.err) }
func (e *Error) Unwrap() error { return e.err }

// Analyzer is the analysis facade.
type Analyzer struct {
	llm     LLMClient
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	metrics *telemetry.Metrics
	logger  *zap.Logger
	model   string
}

// New wires the facade. The cache, limiter, and metrics are shared with the
// batch dispatcher so single and batch paths observe the same budgets.
func New(llm LLMClient, c *cache.Cache, limiter *ratelimit.Limiter, metrics *telemetry.Metrics, logger *zap.Logger, modelVersion string) *Analyzer {
	return &Analyzer{
		llm:     llm,
		cache:   c,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		model:   modelVersion,
	}
}

// Cached returns the memoised result for a request without touching the rate
// limiter. The dispatcher uses it to resolve duplicate records before
// spending a concurrency slot.
func (a *Analyzer) Cached(ctx context.Context, structuredData map[string]any, notes []string) (*model.AnalysisResult, bool) {
	return a.cache.Get(ctx, structuredData, notes)
}

// Analyze runs one record through the pipeline and returns the structured
// artifact. Notes must be normalised and non-empty. A cache hit is returned
// verbatim, stale processing_time_ms and timestamp included.
func (a *Analyzer) Analyze(ctx context.Context, structuredData map[string]any, notes []string) (*model.AnalysisResult, error) {
	start := time.Now()

	if cached, ok := a.cache.Get(ctx, structuredData, notes); ok {
		a.metrics.ObserveCacheLookup(true)
		a.logger.Debug("returning cached analysis")
		return cached, nil
	}
	a.metrics.ObserveCacheLookup(false)

	waitStart := time.Now()
	if err := a.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	a.metrics.ObserveRateLimitWait(time.Since(waitStart))

	completion, err := a.llm.Invoke(ctx, SystemPrompt, BuildUserPrompt(structuredData, notes))
	tokens := 0
	if completion.Usage != nil {
		tokens = completion.Usage.Total()
	}
	a.metrics.ObserveLLMRequest(err, tokens)
	if err != nil {
		return nil, &Error{err: err}
	}

	result, err := a.buildResult(completion, time.Since(start))
	if err != nil {
		return nil, &Error{err: err}
	}

	a.cache.Set(ctx, structuredData, notes, result)
	a.metrics.ObserveAnalysisDuration(time.Since(start))
	return result, nil
}

// llmPayload is the tagged shape we expect back from the model. Pointer
// fields distinguish "absent" from zero so the documented defaults apply
// only to missing keys.
type llmPayload struct {
	Summary         *string          `json:"summary"`
	Insights        []payloadInsight `json:"insights"`
	NextActions     []payloadAction  `json:"next_actions"`
	ConfidenceScore *float64         `json:"confidence_score"`
}

type payloadInsight struct {
	Title       *string `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Priority    *string `json:"priority"`
}

type payloadAction struct {
	Action    string  `json:"action"`
	Priority  *string `json:"priority"`
	Rationale string  `json:"rationale"`
}

// buildResult parses the completion text (with JSON recovery) and applies
// the defaulting rules for missing fields.
func (a *Analyzer) buildResult(completion Completion, elapsed time.Duration) (*model.AnalysisResult, error) {
	raw, err := ExtractJSON(completion.Text)
	if err != nil {
		return nil, err
	}
	var payload llmPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parse analysis payload: %w", err)
	}

	insights := make([]model.Insight, 0, len(payload.Insights))
	for _, in := range payload.Insights {
		insights = append(insights, model.Insight{
			Title:       stringOr(in.Title, "Untitled"),
			Description: in.Description,
			Category:    in.Category,
			Priority:    stringOr(in.Priority, model.PriorityMedium),
		})
	}

	actions := make([]model.NextAction, 0, len(payload.NextActions))
	for _, act := range payload.NextActions {
		actions = append(actions, model.NextAction{
			Action:    act.Action,
			Priority:  stringOr(act.Priority, model.PriorityMedium),
			Rationale: act.Rationale,
		})
	}

	var tokensUsed *int
	if completion.Usage != nil {
		total := completion.Usage.Total()
		tokensUsed = &total
	}

	return &model.AnalysisResult{
		Summary:     stringOr(payload.Summary, "No summary generated"),
		Insights:    insights,
		NextActions: actions,
		Metadata: model.Metadata{
			ConfidenceScore:  floatOr(payload.ConfidenceScore, 0.5),
			ModelVersion:     a.model,
			ProcessingTimeMS: float64(elapsed) / float64(time.Millisecond),
			TokensUsed:       tokensUsed,
			Timestamp:        time.Now().UTC(),
		},
	}, nil
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
