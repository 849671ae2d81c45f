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

package autoreply

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cobalthq/mailwatch/internal/models"
	"github.com/cobalthq/mailwatch/internal/transport"
)

// mockResponderStore implements ResponderStore for testing.
type mockResponderStore struct {
	mu        sync.Mutex
	saved     map[string]models.ReplyRecord
	threadIDs map[string]string
}

func newMockResponderStore() *mockResponderStore {
	return &mockResponderStore{
		saved:     make(map[string]models.ReplyRecord),
		threadIDs: make(map[string]string),
	}
}

func (m *mockResponderStore) SaveReply(_ context.Context, accountID int64, key string, rec models.ReplyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[fmt.Sprintf("%d:%s", accountID, key)] = rec
	return nil
}

func (m *mockResponderStore) GetThreadID(_ context.Context, accountID int64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threadIDs[fmt.Sprintf("%d:%s", accountID, key)], nil
}

func (m *mockResponderStore) SetThreadID(_ context.Context, accountID int64, key, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadIDs[fmt.Sprintf("%d:%s", accountID, key)] = threadID
	return nil
}

// mockAnalyzer implements analysis.Analyzer for testing.
type mockAnalyzer struct {
	reply    string
	replyErr error
}

func (m *mockAnalyzer) Analyze(context.Context, models.Message, string) (models.AnalysisResult, error) {
	return models.AnalysisResult{}, nil
}

func (m *mockAnalyzer) GenerateReply(context.Context, models.Message, string) (string, error) {
	return m.reply, m.replyErr
}

// fakeTransport implements transport.Transport, capturing sends.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []transport.OutgoingReply
	sendErr error

	threadID string // served by ThreadIDForMessage when set
}

func (f *fakeTransport) FetchNew(_ context.Context, cursor string) ([]models.Message, string, error) {
	return nil, cursor, nil
}

func (f *fakeTransport) FetchRecent(context.Context, int) ([]models.Message, error) {
	return nil, nil
}

func (f *fakeTransport) Send(_ context.Context, reply transport.OutgoingReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, reply)
	return nil
}

func (f *fakeTransport) lastSent() *transport.OutgoingReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return &f.sent[len(f.sent)-1]
}

// threadedTransport adds the ThreadLookup capability.
type threadedTransport struct {
	fakeTransport
}

func (f *threadedTransport) ThreadIDForMessage(context.Context, string) (string, error) {
	return f.threadID, nil
}

func newResponderFixture(analyzer *mockAnalyzer) (*Responder, *mockResponderStore, *Engine) {
	store := newMockResponderStore()
	engine := NewEngine(newMockReplyStore(), true, defaultExcluded)
	return NewResponder(store, analyzer, engine), store, engine
}

func TestResponder_SendReply(t *testing.T) {
	r, store, _ := newResponderFixture(&mockAnalyzer{reply: "Sure, I will send the invoice over today."})
	tr := &fakeTransport{}

	msg := testMessage()
	if err := r.SendReply(context.Background(), testAccount(), tr, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := tr.lastSent()
	if sent == nil {
		t.Fatal("no reply sent")
	}
	if sent.To != "jane@example.com" {
		t.Errorf("To = %q, want bare sender address", sent.To)
	}
	if sent.Subject != "Re: Question about the invoice" {
		t.Errorf("Subject = %q", sent.Subject)
	}
	if sent.InReplyTo != msg.DedupKey {
		t.Errorf("InReplyTo = %q, want %q", sent.InReplyTo, msg.DedupKey)
	}

	rec, ok := store.saved["1:<msg1@example.com>"]
	if !ok {
		t.Fatal("reply record not saved")
	}
	if !rec.Success || rec.To != "jane@example.com" {
		t.Errorf("record = %+v", rec)
	}
}

func TestResponder_SubjectAlreadyPrefixed(t *testing.T) {
	r, _, _ := newResponderFixture(&mockAnalyzer{reply: "Sounds good, talk tomorrow then."})
	tr := &fakeTransport{}

	msg := testMessage()
	msg.Subject = "RE: Question about the invoice"
	if err := r.SendReply(context.Background(), testAccount(), tr, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tr.lastSent().Subject; got != "RE: Question about the invoice" {
		t.Errorf("Subject = %q, want unchanged", got)
	}
}

// TestResponder_FallbackBody verifies the acknowledgment fallback when
// generation fails or comes back too short.
func TestResponder_FallbackBody(t *testing.T) {
	for _, analyzer := range []*mockAnalyzer{
		{replyErr: fmt.Errorf("model unavailable")},
		{reply: "ok"},
	} {
		r, _, _ := newResponderFixture(analyzer)
		tr := &fakeTransport{}

		account := models.Account{ID: 1, Email: "jane.doe@example.com", AutoReplyEnabled: true}
		if err := r.SendReply(context.Background(), account, tr, testMessage()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := "Thank you for your email.\n\nBest regards,\nJane Doe"
		if got := tr.lastSent().Body; got != want {
			t.Errorf("Body = %q, want %q", got, want)
		}
	}
}

// TestResponder_SendFailure verifies no record is saved and the pending
// marker is still released when the send fails.
func TestResponder_SendFailure(t *testing.T) {
	r, store, engine := newResponderFixture(&mockAnalyzer{reply: "Sure, I can do that for you."})
	tr := &fakeTransport{sendErr: fmt.Errorf("smtp unavailable")}

	ctx := context.Background()
	msg := testMessage()
	if !engine.ShouldReply(ctx, testAccount(), msg, testResult()) {
		t.Fatal("ShouldReply = false, want true")
	}

	if err := r.SendReply(ctx, testAccount(), tr, msg); err == nil {
		t.Fatal("expected send error")
	}

	if len(store.saved) != 0 {
		t.Errorf("reply record saved after failed send: %v", store.saved)
	}
	// Marker released: the message can be approved again.
	if !engine.ShouldReply(ctx, testAccount(), msg, testResult()) {
		t.Error("pending marker not released after failed send")
	}
}

// TestResponder_ThreadLookup verifies the metadata fallback resolves and
// persists the thread id.
func TestResponder_ThreadLookup(t *testing.T) {
	r, store, _ := newResponderFixture(&mockAnalyzer{reply: "Thanks, received and noted."})
	tr := &threadedTransport{}
	tr.threadID = "thread-42"

	msg := testMessage()
	msg.ProviderID = "abc123"
	if err := r.SendReply(context.Background(), testAccount(), tr, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tr.lastSent().ThreadID; got != "thread-42" {
		t.Errorf("ThreadID = %q, want thread-42", got)
	}
	if got := store.threadIDs["1:<msg1@example.com>"]; got != "thread-42" {
		t.Errorf("persisted thread id = %q, want thread-42", got)
	}
}

// TestResponder_ThreadFromStore verifies a stored thread id wins over the
// transport lookup.
func TestResponder_ThreadFromStore(t *testing.T) {
	r, store, _ := newResponderFixture(&mockAnalyzer{reply: "Thanks, received and noted."})
	store.threadIDs["1:<msg1@example.com>"] = "thread-7"

	tr := &threadedTransport{}
	tr.threadID = "thread-should-not-be-used"

	if err := r.SendReply(context.Background(), testAccount(), tr, testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.lastSent().ThreadID; got != "thread-7" {
		t.Errorf("ThreadID = %q, want thread-7", got)
	}
}
