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
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"insight/internal/insight/model"
)

// SQLite schema. Every mutation upserts the batch_jobs row and rewrites the
// job's batch_results rows inside one transaction, so a reader always sees a
// result set consistent with the job counters.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
    job_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    total_records INTEGER NOT NULL,
    completed_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    total_tokens_used INTEGER NOT NULL DEFAULT 0,
    failure_message TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    record_index INTEGER NOT NULL,
    success INTEGER NOT NULL,
    response_json TEXT,
    error TEXT,
    FOREIGN KEY (job_id) REFERENCES batch_jobs(job_id)
);
CREATE INDEX IF NOT EXISTS idx_batch_results_job_id ON batch_results(job_id);
`

// sqliteBackend persists jobs to a single-file embedded SQL database.
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteBackend(path string) (Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent job mutations.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Persist(job *model.Job) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO batch_jobs
		   (job_id, status, total_records, completed_count, failed_count, total_tokens_used, failure_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, string(job.Status), job.TotalRecords, job.CompletedCount, job.FailedCount,
		job.TotalTokensUsed, nullString(job.FailureMessage),
		job.CreatedAt.Format(time.RFC3339Nano), job.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("upsert batch_jobs(%s): %w", job.JobID, err)
	}

	if _, err := tx.Exec(`DELETE FROM batch_results WHERE job_id = ?`, job.JobID); err != nil {
		return fmt.Errorf("clear batch_results(%s): %w", job.JobID, err)
	}
	for _, r := range job.Results {
		var responseJSON sql.NullString
		if r.Response != nil {
			payload, err := json.Marshal(r.Response)
			if err != nil {
				return fmt.Errorf("encode result %d: %w", r.Index, err)
			}
			responseJSON = sql.NullString{String: string(payload), Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO batch_results (job_id, record_index, success, response_json, error)
			 VALUES (?, ?, ?, ?, ?)`,
			job.JobID, r.Index, boolToInt(r.Success), responseJSON, nullString(r.Error),
		); err != nil {
			return fmt.Errorf("insert batch_results(%s,%d): %w", job.JobID, r.Index, err)
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) Load(jobID string) (*model.Job, bool, error) {
	row := b.db.QueryRow(
		`SELECT status, total_records, completed_count, failed_count, total_tokens_used, failure_message, created_at, updated_at
		   FROM batch_jobs WHERE job_id = ?`, jobID)

	var (
		status, createdAt, updatedAt string
		failureMessage               sql.NullString
		job                          model.Job
	)
	err := row.Scan(&status, &job.TotalRecords, &job.CompletedCount, &job.FailedCount,
		&job.TotalTokensUsed, &failureMessage, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load batch_jobs(%s): %w", jobID, err)
	}

	job.JobID = jobID
	job.Status = model.JobStatus(status)
	sanitizeStatus(&job)
	job.FailureMessage = failureMessage.String
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	rows, err := b.db.Query(
		`SELECT record_index, success, response_json, error
		   FROM batch_results WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("load batch_results(%s): %w", jobID, err)
	}
	defer rows.Close()

	job.Results = []model.RecordResult{}
	for rows.Next() {
		var (
			r            model.RecordResult
			success      int
			responseJSON sql.NullString
			errText      sql.NullString
		)
		if err := rows.Scan(&r.Index, &success, &responseJSON, &errText); err != nil {
			return nil, false, fmt.Errorf("scan batch_results(%s): %w", jobID, err)
		}
		r.Success = success != 0
		r.Error = errText.String
		if r.Success && responseJSON.Valid {
			var result model.AnalysisResult
			if err := json.Unmarshal([]byte(responseJSON.String), &result); err == nil {
				r.Response = &result
			}
		}
		job.Results = append(job.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return &job, true, nil
}

func (b *sqliteBackend) List(limit int) ([]JobRow, bool, error) {
	rows, err := b.db.Query(
		`SELECT job_id, status, total_records, completed_count, failed_count, total_tokens_used, created_at, updated_at
		   FROM batch_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, true, fmt.Errorf("list batch_jobs: %w", err)
	}
	defer rows.Close()

	out := make([]JobRow, 0, limit)
	for rows.Next() {
		var (
			r                    JobRow
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.JobID, &r.Status, &r.TotalRecords, &r.CompletedCount,
			&r.FailedCount, &r.TotalTokensUsed, &createdAt, &updatedAt); err != nil {
			return nil, true, fmt.Errorf("scan batch_jobs row: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, true, rows.Err()
}

// Ready verifies the database answers and the schema is in place.
func (b *sqliteBackend) Ready() error {
	if err := b.db.Ping(); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := b.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Close() error { return b.db.Close() }

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
