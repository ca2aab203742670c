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

package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"insight/internal/insight/model"
)

// fileBackend serialises each job as one JSON document named <job_id>.json
// under dir. Every mutation rewrites the whole file through a temp file and
// atomic rename, so readers never observe a torn document.
type fileBackend struct {
	dir string
}

// NewFileBackend returns the file-per-job backend rooted at dir, creating it
// if necessary.
func NewFileBackend(dir string) (Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job storage dir %s: %w", dir, err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) path(jobID string) string {
	return filepath.Join(b.dir, jobID+".json")
}

func (b *fileBackend) Persist(job *model.Job) error {
	payload, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.JobID, err)
	}
	tmp := b.path(job.JobID) + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write job %s: %w", job.JobID, err)
	}
	if err := os.Rename(tmp, b.path(job.JobID)); err != nil {
		return fmt.Errorf("replace job %s: %w", job.JobID, err)
	}
	return nil
}

func (b *fileBackend) Load(jobID string) (*model.Job, bool, error) {
	payload, err := os.ReadFile(b.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read job %s: %w", jobID, err)
	}
	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, false, nil
	}
	job.JobID = jobID
	sanitizeStatus(&job)
	return &job, true, nil
}

func (b *fileBackend) List(limit int) ([]JobRow, bool, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, true, fmt.Errorf("list job storage dir: %w", err)
	}

	type candidate struct {
		jobID string
		mtime int64
	}
	candidates := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			jobID: strings.TrimSuffix(name, ".json"),
			mtime: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime > candidates[j].mtime
	})

	rows := make([]JobRow, 0, limit)
	for _, c := range candidates {
		job, ok, err := b.Load(c.jobID)
		if err != nil || !ok {
			// Unreadable documents are skipped, not fatal to the listing.
			continue
		}
		rows = append(rows, rowFromJob(job))
		if len(rows) >= limit {
			break
		}
	}
	return rows, true, nil
}

// Ready probes the directory for writability.
func (b *fileBackend) Ready() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("job storage dir: %w", err)
	}
	probe := filepath.Join(b.dir, ".ready")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("job storage dir not writable: %w", err)
	}
	return os.Remove(probe)
}

func (b *fileBackend) Close() error { return nil }

// sanitizeStatus maps unknown persisted status strings to completed so a
// document written by a newer build still hydrates.
func sanitizeStatus(job *model.Job) {
	switch job.Status {
	case model.JobAccepted, model.JobProcessing, model.JobCompleted, model.JobFailed:
	default:
		job.Status = model.JobCompleted
	}
}
