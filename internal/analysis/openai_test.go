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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/cobalthq/mailwatch/internal/models"
)

func newTestAnalyzer(t *testing.T, completion string) *OpenAIAnalyzer {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": completion},
					"finish_reason": "stop",
				},
			},
		}
		data, _ := json.Marshal(resp)
		w.Write(data)
	}))
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	return NewOpenAIAnalyzerWithClient(openai.NewClientWithConfig(cfg), "gpt-4o-mini")
}

func TestAnalyze(t *testing.T) {
	a := newTestAnalyzer(t, `{"category":"Work","urgency_score":7,"is_spam":false,"spam_confidence":0.02,"summary":"Invoice question.","suggested_response":"Happy to help with that invoice.","tags":["invoice"]}`)

	res, err := a.Analyze(context.Background(), models.Message{
		From: "jane@example.com", Subject: "Invoice", TextBody: "Where is my invoice?",
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != "work" {
		t.Errorf("Category = %q, want lowercased work", res.Category)
	}
	if res.UrgencyScore != 7 || res.IsSpam || res.SuggestedReply == "" {
		t.Errorf("result = %+v", res)
	}
}

// TestAnalyze_ProseWrappedJSON verifies the brace-extraction fallback.
func TestAnalyze_ProseWrappedJSON(t *testing.T) {
	a := newTestAnalyzer(t, "Here is the analysis:\n{\"category\":\"personal\",\"urgency_score\":2,\"is_spam\":false}\nLet me know if you need more.")

	res, err := a.Analyze(context.Background(), models.Message{Subject: "Hi"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != "personal" || res.UrgencyScore != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestAnalyze_UrgencyClamped(t *testing.T) {
	a := newTestAnalyzer(t, `{"category":"work","urgency_score":42}`)

	res, err := a.Analyze(context.Background(), models.Message{Subject: "!!"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UrgencyScore != 10 {
		t.Errorf("UrgencyScore = %d, want clamped to 10", res.UrgencyScore)
	}
}

func TestGenerateReply(t *testing.T) {
	a := newTestAnalyzer(t, "  Sure, the invoice is attached.\n\nBest regards,\nMe\n")

	reply, err := a.GenerateReply(context.Background(), models.Message{Subject: "Invoice"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Sure, the invoice is attached.\n\nBest regards,\nMe" {
		t.Errorf("reply = %q", reply)
	}
}

func TestParseJSONResponse_NoObject(t *testing.T) {
	var out models.AnalysisResult
	if err := parseJSONResponse("no json here", &out); err == nil {
		t.Error("expected error for response without JSON")
	}
}
