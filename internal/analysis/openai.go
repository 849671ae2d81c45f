// Copyright (c) 2026 John Earle
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

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/cobalthq/mailwatch/internal/models"
)

const (
	// maxBodySize bounds how much body text is sent to the model.
	maxBodySize = 8192

	analysisPrompt = `You are an email analysis system. Analyze the following email and respond with a JSON object containing:
- category: one of "work", "personal", "newsletter", "marketing", "promotional", "social", "support", "other"
- urgency_score: integer between 0 and 10 (10 means immediate attention required)
- is_spam: boolean
- spam_confidence: number between 0 and 1
- summary: string (one or two sentences)
- suggested_response: string (a short draft reply, empty if no reply is warranted)
- tags: array of short keyword strings

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

	replySystemPrompt = `You are an email writing assistant. Write natural, conversational replies. Answer the sender's questions directly without formal preamble. End with "Best regards," on its own line followed by the sender name. Do not include email addresses in the signature.`
)

// OpenAIAnalyzer implements Analyzer against the OpenAI chat completion
// API.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer creates an analyzer using the given API key and model.
func NewOpenAIAnalyzer(apiKey, model string) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAIAnalyzerWithClient creates an analyzer over a pre-built client.
// Used by tests that point the client at a fake server.
func NewOpenAIAnalyzerWithClient(client *openai.Client, model string) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{client: client, model: model}
}

func truncateBody(body string) string {
	if len(body) <= maxBodySize {
		return body
	}
	return body[:maxBodySize] + "\n[... truncated ...]"
}

// Analyze classifies a message, requesting a strict JSON response and
// falling back to brace extraction when the model wraps the object in
// prose.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, msg models.Message, instructions string) (models.AnalysisResult, error) {
	prompt := fmt.Sprintf(analysisPrompt, msg.From, msg.To, msg.Subject, truncateBody(msg.TextBody))

	system := "You are an email analysis system. Respond only with JSON."
	if instructions != "" {
		system += "\nAccount owner instructions: " + instructions
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.AnalysisResult{}, fmt.Errorf("empty response from model")
	}

	var result models.AnalysisResult
	if err := parseJSONResponse(resp.Choices[0].Message.Content, &result); err != nil {
		return models.AnalysisResult{}, err
	}

	result.Category = strings.ToLower(strings.TrimSpace(result.Category))
	if result.UrgencyScore < 0 {
		result.UrgencyScore = 0
	}
	if result.UrgencyScore > 10 {
		result.UrgencyScore = 10
	}
	return result, nil
}

// GenerateReply produces fresh reply text for a message.
func (a *OpenAIAnalyzer) GenerateReply(ctx context.Context, msg models.Message, instructions string) (string, error) {
	system := replySystemPrompt
	if instructions != "" {
		system += "\nAccount owner instructions: " + instructions
	}

	prompt := fmt.Sprintf("Write a reply to this email.\n\nFrom: %s\nSubject: %s\nBody:\n%s",
		msg.From, msg.Subject, truncateBody(msg.TextBody))

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// parseJSONResponse unmarshals the model output, extracting the outermost
// JSON object when the raw content does not parse.
func parseJSONResponse(content string, out any) error {
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), out); err != nil {
		return fmt.Errorf("parse model response as JSON: %w", err)
	}
	return nil
}
