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

import "fmt"

// BuildBackend constructs a Backend from a string selector.
// Supported backends:
//   - "" or "memory": process-local state, lost on restart (default; dev)
//   - "file": one JSON document per job under storagePath
//   - "sqlite": batch_jobs/batch_results tables in the database at sqlitePath
func BuildBackend(backend, storagePath, sqlitePath string) (Backend, error) {
	switch backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(storagePath)
	case "sqlite":
		return NewSQLiteBackend(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown persistence backend: %s", backend)
	}
}
