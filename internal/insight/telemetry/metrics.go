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

// Package telemetry holds the Prometheus instrumentation for the analysis
// service. Metrics live on an instance-owned registry so tests construct
// fresh instances instead of fighting the default registry.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter and histogram the service records.
type Metrics struct {
	registry *prometheus.Registry

	llmRequestsTotal *prometheus.CounterVec
	llmTokensTotal   prometheus.Counter
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	batchRecords     *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	rateLimitWait    prometheus.Histogram
	httpRequests     *prometheus.CounterVec
}

// NewMetrics creates and registers the service metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		llmRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_llm_requests_total",
			Help: "LLM provider invocations by outcome (success|error)",
		}, []string{"outcome"}),
		llmTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insight_llm_tokens_total",
			Help: "Total tokens reported by the LLM provider across all calls",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insight_cache_hits_total",
			Help: "Analysis requests served from the result cache",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insight_cache_misses_total",
			Help: "Analysis requests that missed the result cache",
		}),
		batchRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_batch_records_total",
			Help: "Batch records reaching a terminal state by outcome (success|failure)",
		}, []string{"outcome"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insight_analysis_duration_seconds",
			Help:    "End-to-end duration of uncached analyses",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insight_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_http_requests_total",
			Help: "HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.llmRequestsTotal, m.llmTokensTotal,
		m.cacheHitsTotal, m.cacheMissesTotal,
		m.batchRecords, m.analysisDuration, m.rateLimitWait,
		m.httpRequests,
	)
	return m
}

// Gatherer exposes the registry for promhttp.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// ObserveLLMRequest records one provider invocation and its reported tokens.
func (m *Metrics) ObserveLLMRequest(err error, tokens int) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.llmRequestsTotal.WithLabelValues(outcome).Inc()
	if tokens > 0 {
		m.llmTokensTotal.Add(float64(tokens))
	}
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.cacheHitsTotal.Inc()
	} else {
		m.cacheMissesTotal.Inc()
	}
}

// ObserveBatchRecord records one batch record reaching a terminal state.
func (m *Metrics) ObserveBatchRecord(success bool) {
	if success {
		m.batchRecords.WithLabelValues("success").Inc()
	} else {
		m.batchRecords.WithLabelValues("failure").Inc()
	}
}

// ObserveAnalysisDuration records one uncached analysis duration.
func (m *Metrics) ObserveAnalysisDuration(d time.Duration) {
	m.analysisDuration.Observe(d.Seconds())
}

// ObserveRateLimitWait records time spent blocked in Limiter.Acquire.
func (m *Metrics) ObserveRateLimitWait(d time.Duration) {
	m.rateLimitWait.Observe(d.Seconds())
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
