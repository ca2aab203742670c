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

package analyzer

import (
	"encoding/json"
	"strings"
)

// SystemPrompt instructs the model to answer with the analysis JSON shape and
// nothing else.
const SystemPrompt = `You are a business analyst. Analyze the data and return JSON only:

{
  "summary": "2-3 sentence summary",
  "insights": [{"title": "brief", "description": "concise", "category": "type", "priority": "high|medium|low"}],
  "next_actions": [{"action": "brief action", "priority": "high|medium|low", "rationale": "short reason"}],
  "confidence_score": 0.0-1.0
}

Be concise and actionable. Prioritize by importance.`

// maxPromptTokens bounds the user prompt; longer prompts are truncated from
// the middle so both the data header and the trailing notes survive.
const maxPromptTokens = 6000

// BuildUserPrompt assembles the user prompt: structured data as pretty JSON,
// notes as a bulleted list, then the closing instruction. Notes are expected
// to be normalised already.
func BuildUserPrompt(structuredData map[string]any, notes []string) string {
	var parts []string

	if len(structuredData) > 0 {
		encoded, err := json.MarshalIndent(structuredData, "", "  ")
		if err == nil {
			parts = append(parts, "## Data", string(encoded))
		}
	}

	if len(notes) > 0 {
		parts = append(parts, "## Notes")
		for _, note := range notes {
			parts = append(parts, "- "+note)
		}
	}

	parts = append(parts, "\nAnalyze and return JSON only.")
	return TruncateIfNeeded(strings.Join(parts, "\n"), maxPromptTokens)
}

// EstimateTokens approximates the token count at 4 characters per token.
func EstimateTokens(text string) int { return len(text) / 4 }

// TruncateIfNeeded cuts text down to roughly maxTokens by removing the
// middle, preserving the beginning and the end.
func TruncateIfNeeded(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	maxChars := maxTokens * 4
	half := maxChars / 2
	return text[:half] + "\n\n[... content truncated for length ...]\n\n" + text[len(text)-half:]
}
