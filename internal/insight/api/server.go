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

// Package api implements the public-facing HTTP server for the analysis
// service: the synchronous /analyze path, the asynchronous batch surface,
// and the health/readiness probes. Validation errors are raised here, at the
// boundary, and never reach the core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"insight/internal/insight/analyzer"
	"insight/internal/insight/jobstore"
	"insight/internal/insight/model"
	"insight/internal/insight/telemetry"
)

const (
	serviceName    = "Smart Summary & Insight Service"
	serviceVersion = "1.0.0"

	// maxBatchRecords bounds one batch submission.
	maxBatchRecords = 500

	// defaultJobsLimit applies when the jobs listing limit is absent or out
	// of the 1..200 range.
	defaultJobsLimit = 50
	maxJobsLimit     = 200
)

// AnalysisService is the slice of the analysis facade the server consumes.
type AnalysisService interface {
	Analyze(ctx context.Context, structuredData map[string]any, notes []string) (*model.AnalysisResult, error)
}

// BatchRunner runs an accepted batch in the background.
type BatchRunner interface {
	Run(ctx context.Context, jobID string, records []model.Request)
}

// Server handles the HTTP requests for the analysis service.
type Server struct {
	analysis AnalysisService
	runner   BatchRunner
	store    *jobstore.Store
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	// batchCtx owns background batch processing; cancelling it at shutdown
	// stops in-flight dispatchers.
	batchCtx context.Context
}

// NewServer wires the HTTP surface. batchCtx should be cancelled at process
// shutdown so dispatcher tasks stop promptly.
func NewServer(batchCtx context.Context, analysis AnalysisService, runner BatchRunner, store *jobstore.Store, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	return &Server{
		analysis: analysis,
		runner:   runner,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		batchCtx: batchCtx,
	}
}

// Handler returns the configured router. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/batch/analyze", s.handleBatchAnalyze)
		r.Get("/batch/{jobID}/status", s.handleBatchStatus)
		r.Get("/batch/jobs", s.handleListJobs)
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
	})

	return r
}

// analyzeRequest is the /analyze wire shape. Notes is a pointer so a missing
// key (422) is distinguishable from notes that normalise to empty (400).
type analyzeRequest struct {
	StructuredData map[string]any `json:"structured_data"`
	Notes          *model.Notes   `json:"notes"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDetail(w, http.StatusUnprocessableEntity, "Malformed request body")
		return
	}
	if req.Notes == nil {
		s.respondDetail(w, http.StatusUnprocessableEntity, "Field 'notes' is required")
		return
	}
	notes := model.NormalizeNotes(*req.Notes)
	if len(notes) == 0 {
		s.respondDetail(w, http.StatusBadRequest, "At least one note is required")
		return
	}

	result, err := s.analysis.Analyze(r.Context(), req.StructuredData, notes)
	if err != nil {
		var analysisErr *analyzer.Error
		if errors.As(err, &analysisErr) {
			s.logger.Error("analysis failed", zap.Error(err))
			s.respondDetail(w, http.StatusInternalServerError, "AI processing failed: "+analysisErr.Error())
			return
		}
		s.logger.Error("unexpected analyze error", zap.Error(err))
		s.respondDetail(w, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// batchAnalyzeRequest is the /batch/analyze wire shape.
type batchAnalyzeRequest struct {
	Records []analyzeRequest `json:"records"`
}

func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req batchAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDetail(w, http.StatusUnprocessableEntity, "Malformed request body")
		return
	}
	if len(req.Records) == 0 {
		s.respondDetail(w, http.StatusUnprocessableEntity, "At least one record is required")
		return
	}
	if len(req.Records) > maxBatchRecords {
		s.respondDetail(w, http.StatusUnprocessableEntity,
			"Batch size exceeds the maximum of "+strconv.Itoa(maxBatchRecords)+" records")
		return
	}

	records := make([]model.Request, len(req.Records))
	for i, rec := range req.Records {
		records[i].StructuredData = rec.StructuredData
		if rec.Notes != nil {
			records[i].Notes = *rec.Notes
		}
	}

	jobID, err := s.store.CreateJob(len(records))
	if err != nil {
		s.logger.Error("batch job not created", zap.Error(err))
		s.respondDetail(w, http.StatusInternalServerError, "Failed to create batch job")
		return
	}

	// The response returns before processing begins; the dispatcher runs on
	// a background task owned by the server's batch context.
	go s.runner.Run(s.batchCtx, jobID, records)

	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":        jobID,
		"status":        string(model.JobAccepted),
		"total_records": len(records),
		"message":       "Batch accepted; poll /api/v1/batch/" + jobID + "/status for progress",
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	view, ok := s.store.GetStatusResponse(jobID)
	if !ok {
		s.respondDetail(w, http.StatusNotFound, "Job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 1 && parsed <= maxJobsLimit {
			limit = parsed
		}
	}
	rows, err := s.store.ListJobs(limit)
	if err != nil {
		s.logger.Error("job listing failed", zap.Error(err))
		s.respondDetail(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": rows})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"analyze":       "/api/v1/analyze",
			"batch_analyze": "/api/v1/batch/analyze",
			"batch_status":  "/api/v1/batch/{job_id}/status",
			"batch_jobs":    "/api/v1/batch/jobs",
			"health":        "/api/v1/health",
			"ready":         "/api/v1/ready",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ready(); err != nil {
		s.logger.Warn("persistence backend not ready", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"detail": err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// loggingMiddleware records an access log line and the HTTP request counter.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(ww.Status()))
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

// respondDetail writes an error body in the {"detail": ...} shape.
func (s *Server) respondDetail(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}
