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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"insight/internal/insight/analyzer"
	"insight/internal/insight/jobstore"
	"insight/internal/insight/model"
	"insight/internal/insight/telemetry"
)

// stubAnalysis returns a fixed artifact, or a scripted error.
type stubAnalysis struct {
	err error
}

func (s *stubAnalysis) Analyze(_ context.Context, _ map[string]any, notes []string) (*model.AnalysisResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.AnalysisResult{
		Summary:     "analysis of " + strings.Join(notes, "; "),
		Insights:    []model.Insight{},
		NextActions: []model.NextAction{},
		Metadata: model.Metadata{
			ConfidenceScore: 0.8,
			ModelVersion:    "test-model",
			Timestamp:       time.Now().UTC(),
		},
	}, nil
}

// recordingRunner captures batch submissions instead of processing them.
type recordingRunner struct {
	mu      sync.Mutex
	jobIDs  []string
	records [][]model.Request
	started chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{started: make(chan struct{}, 16)}
}

func (r *recordingRunner) Run(_ context.Context, jobID string, records []model.Request) {
	r.mu.Lock()
	r.jobIDs = append(r.jobIDs, jobID)
	r.records = append(r.records, records)
	r.mu.Unlock()
	r.started <- struct{}{}
}

func newTestServer(t *testing.T, analysis AnalysisService, runner BatchRunner) (*Server, *jobstore.Store) {
	t.Helper()
	store := jobstore.New(jobstore.NewMemoryBackend(), jobstore.CostConfig{})
	s := NewServer(context.Background(), analysis, runner, store, telemetry.NewMetrics(), zap.NewNop())
	return s, store
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: response not JSON: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec, decoded
}

// TestAnalyzeEndpoint validates the synchronous path: success, the notes
// polymorphism, and each validation and failure status.
func TestAnalyzeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &stubAnalysis{}, newRecordingRunner())
	h := s.Handler()

	t.Run("Success", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/api/v1/analyze",
			`{"structured_data": {"mrr": 1200}, "notes": ["customer asked about renewal"]}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if body["summary"] != "analysis of customer asked about renewal" {
			t.Errorf("summary = %v", body["summary"])
		}
		if _, ok := body["metadata"]; !ok {
			t.Error("response missing metadata")
		}
	})

	t.Run("SingleStringNote", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/api/v1/analyze", `{"notes": "just one note"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if body["summary"] != "analysis of just one note" {
			t.Errorf("summary = %v, want the single note analyzed", body["summary"])
		}
	})

	t.Run("MissingNotesKey", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/analyze", `{"structured_data": {}}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("WhitespaceNotes", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/api/v1/analyze", `{"notes": ["   ", ""]}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if body["detail"] != "At least one note is required" {
			t.Errorf("detail = %v", body["detail"])
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/analyze", `{"notes": [`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})
}

// TestAnalyzeEndpoint_ProviderFailure validates that an analysis failure maps
// to a 500 with the failure detail.
func TestAnalyzeEndpoint_ProviderFailure(t *testing.T) {
	failing := &stubAnalysis{err: fmt.Errorf("wrapped: %w", &analyzer.Error{})}
	s, _ := newTestServer(t, failing, newRecordingRunner())

	rec, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/analyze", `{"notes": ["note"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	detail, _ := body["detail"].(string)
	if !strings.HasPrefix(detail, "AI processing failed:") {
		t.Errorf("detail = %q, want the AI processing prefix", detail)
	}
}

// TestBatchEndpoints validates batch acceptance, the record-count limits, and
// the status and listing surfaces.
func TestBatchEndpoints(t *testing.T) {
	runner := newRecordingRunner()
	s, store := newTestServer(t, &stubAnalysis{}, runner)
	h := s.Handler()

	t.Run("Accepted", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/api/v1/batch/analyze",
			`{"records": [{"notes": ["first"]}, {"notes": "second", "structured_data": {"k": 1}}]}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
		}
		if body["status"] != "accepted" {
			t.Errorf("status field = %v, want accepted", body["status"])
		}
		if body["total_records"] != float64(2) {
			t.Errorf("total_records = %v, want 2", body["total_records"])
		}
		jobID, _ := body["job_id"].(string)
		if jobID == "" {
			t.Fatal("response missing job_id")
		}

		select {
		case <-runner.started:
		case <-time.After(time.Second):
			t.Fatal("dispatcher was not started within 1s")
		}
		runner.mu.Lock()
		defer runner.mu.Unlock()
		if runner.jobIDs[len(runner.jobIDs)-1] != jobID {
			t.Errorf("runner received job %s, want %s", runner.jobIDs[len(runner.jobIDs)-1], jobID)
		}
		got := runner.records[len(runner.records)-1]
		if len(got) != 2 || got[1].Notes[0] != "second" {
			t.Errorf("runner records = %+v, want the submitted records with the string note lifted", got)
		}

		// The job is immediately visible through the status endpoint.
		statusRec, statusBody := doJSON(t, h, http.MethodGet, "/api/v1/batch/"+jobID+"/status", "")
		if statusRec.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d, want 200", statusRec.Code)
		}
		if statusBody["total_records"] != float64(2) {
			t.Errorf("status total_records = %v, want 2", statusBody["total_records"])
		}
		if _, present := statusBody["estimated_cost"]; !present {
			t.Error("status body missing estimated_cost (must be null, not absent)")
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/batch/analyze", `{"records": []}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("OversizedBatch", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString(`{"records": [`)
		for i := 0; i <= maxBatchRecords; i++ {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(`{"notes": ["n"]}`)
		}
		sb.WriteString(`]}`)
		rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/batch/analyze", sb.String())
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("UnknownJob", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/api/v1/batch/nope/status", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		if body["detail"] != "Job not found" {
			t.Errorf("detail = %v", body["detail"])
		}
	})

	t.Run("Listing", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if _, err := store.CreateJob(1); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
		}

		rec, body := doJSON(t, h, http.MethodGet, "/api/v1/batch/jobs?limit=2", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		jobs, _ := body["jobs"].([]any)
		if len(jobs) != 2 {
			t.Errorf("len(jobs) = %d, want 2", len(jobs))
		}

		// Out-of-range limits fall back to the default rather than erroring.
		rec, body = doJSON(t, h, http.MethodGet, "/api/v1/batch/jobs?limit=9999", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		jobs, _ = body["jobs"].([]any)
		if len(jobs) < 3 {
			t.Errorf("len(jobs) = %d, want all jobs under the default limit", len(jobs))
		}
	})
}

// TestOperationalEndpoints validates the root, health, readiness, and metrics
// surfaces.
func TestOperationalEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &stubAnalysis{}, newRecordingRunner())
	h := s.Handler()

	t.Run("Root", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body["service"] != serviceName {
			t.Errorf("service = %v, want %q", body["service"], serviceName)
		}
	})

	t.Run("Health", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/api/v1/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body["status"] != "healthy" || body["version"] != serviceVersion {
			t.Errorf("body = %v, want healthy with version", body)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/api/v1/ready", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body["status"] != "ready" {
			t.Errorf("status field = %v, want ready", body["status"])
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "insight_http_requests_total") {
			t.Error("metrics exposition missing the HTTP request counter")
		}
	})
}
