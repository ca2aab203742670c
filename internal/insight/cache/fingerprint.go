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

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint derives the content-addressed cache key for a request: the
// SHA-256 hex of the canonical JSON {"notes": ..., "structured_data": ...}.
//
// Canonicalisation: structured data is encoded with keys sorted at every
// nesting depth (encoding/json sorts map keys), notes are sorted
// lexicographically so note order does not defeat deduplication, and a nil
// mapping canonicalises to {}. Two requests with the same canonical form
// share a cache entry.
func Fingerprint(structuredData map[string]any, notes []string) string {
	sortedNotes := make([]string, len(notes))
	copy(sortedNotes, notes)
	sort.Strings(sortedNotes)

	data := structuredData
	if data == nil {
		data = map[string]any{}
	}

	canonical := struct {
		Notes          []string       `json:"notes"`
		StructuredData map[string]any `json:"structured_data"`
	}{Notes: sortedNotes, StructuredData: data}

	// Marshal cannot fail for JSON-decoded values; a non-encodable value can
	// only come from a programming error, and an empty key is a safe miss.
	encoded, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
