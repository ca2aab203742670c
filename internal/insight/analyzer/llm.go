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
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Usage is the provider's token accounting for one invocation, when
// available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Completion is the raw outcome of one LLM invocation.
type Completion struct {
	Text  string
	Usage *Usage
}

// LLMClient abstracts the minimal surface we need from an LLM provider.
// Tests substitute stubs; production wires ClaudeClient.
type LLMClient interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (Completion, error)
}

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

// ClaudeConfig carries the generation controls for the Claude client.
type ClaudeConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewClaudeClient returns a client for the configured model.
func NewClaudeClient(cfg ClaudeConfig) *ClaudeClient {
	return &ClaudeClient{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Invoke sends one message exchange and concatenates the text blocks of the
// reply. An empty reply is an error: the caller expects a JSON payload.
func (c *ClaudeClient) Invoke(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return Completion{}, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return Completion{}, errors.New("no text content in provider response")
	}

	return Completion{
		Text: sb.String(),
		Usage: &Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}
