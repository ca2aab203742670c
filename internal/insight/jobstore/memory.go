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

import "insight/internal/insight/model"

// memoryBackend keeps no state of its own: the store's in-memory map is the
// only copy, and job state is lost on restart. Persist is a no-op and List is
// served by the store.
type memoryBackend struct{}

// NewMemoryBackend returns the process-local backend.
func NewMemoryBackend() Backend { return memoryBackend{} }

func (memoryBackend) Persist(*model.Job) error { return nil }

func (memoryBackend) Load(string) (*model.Job, bool, error) { return nil, false, nil }

func (memoryBackend) List(int) ([]JobRow, bool, error) { return nil, false, nil }

func (memoryBackend) Ready() error { return nil }

func (memoryBackend) Close() error { return nil }
