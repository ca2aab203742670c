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
	"errors"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON recovers the JSON object from a model reply. Models asked for
// JSON-only output still occasionally wrap it in prose or a markdown fence.
// Recovery order: the text as-is, then the first ```json fenced block, then
// the first balanced {...} substring. Anything else is an error.
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && balancedObject(trimmed) == len(trimmed) {
		return trimmed, nil
	}
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if start := strings.IndexByte(text, '{'); start >= 0 {
		if n := balancedObject(text[start:]); n > 0 {
			return text[start : start+n], nil
		}
	}
	return "", errors.New("could not extract JSON from response")
}

// balancedObject returns the length of the balanced {...} object at the start
// of s, or 0 if the braces never balance. Braces inside JSON strings are
// ignored.
func balancedObject(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}
