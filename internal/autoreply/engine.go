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
	"log/slog"
	"strings"
	"sync"

	"github.com/cobalthq/mailwatch/internal/models"
)

// minReplyLength is the shortest suggested reply considered usable.
const minReplyLength = 10

// ReplyStore is the reply-existence check the engine consults.
// Implemented by store.Store.
type ReplyStore interface {
	GetReply(ctx context.Context, accountID int64, key string) (*models.ReplyRecord, error)
}

// Engine decides whether a message gets an autonomous reply. All checks
// for one message run under a single process-wide lock together with
// pending-marker insertion, so two concurrent observations of the same
// message can never both be approved.
type Engine struct {
	store    ReplyStore
	excluded map[string]struct{}

	mu      sync.Mutex
	enabled bool
	pending map[string]struct{}
}

// NewEngine creates a decision engine. excludedCategories are analysis
// categories that never receive a reply.
func NewEngine(store ReplyStore, globalEnabled bool, excludedCategories []string) *Engine {
	excluded := make(map[string]struct{}, len(excludedCategories))
	for _, c := range excludedCategories {
		excluded[strings.ToLower(c)] = struct{}{}
	}
	return &Engine{
		store:    store,
		excluded: excluded,
		enabled:  globalEnabled,
		pending:  make(map[string]struct{}),
	}
}

// SetEnabled flips the global kill switch.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled reports the global kill switch state.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func pendingKey(accountID int64, key string) string {
	return fmt.Sprintf("%d:%s", accountID, key)
}

// ShouldReply runs the ordered safety checks and, when all pass, marks
// the message pending before returning true. The caller owns the marker
// from that point and must call Release when the send attempt finishes,
// whatever the outcome.
func (e *Engine) ShouldReply(ctx context.Context, account models.Account, msg models.Message, res models.AnalysisResult) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return false
	}
	if !account.AutoReplyEnabled {
		slog.Debug("auto-reply disabled for account", "account", account.Email)
		return false
	}
	if msg.DedupKey == "" {
		return false
	}

	pk := pendingKey(account.ID, msg.DedupKey)
	if _, inFlight := e.pending[pk]; inFlight {
		slog.Debug("auto-reply already in progress", "account", account.Email, "message_id", msg.DedupKey)
		return false
	}

	if res.IsSpam {
		slog.Debug("skipping auto-reply: spam", "account", account.Email, "message_id", msg.DedupKey)
		return false
	}
	if NormalizeAddress(msg.From) == strings.ToLower(account.Email) {
		slog.Debug("skipping auto-reply: self-addressed", "account", account.Email, "message_id", msg.DedupKey)
		return false
	}
	if _, excluded := e.excluded[strings.ToLower(res.Category)]; excluded {
		slog.Debug("skipping auto-reply: excluded category",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"category", res.Category,
		)
		return false
	}
	if len(strings.TrimSpace(res.SuggestedReply)) < minReplyLength {
		slog.Debug("skipping auto-reply: no usable suggested reply", "account", account.Email, "message_id", msg.DedupKey)
		return false
	}
	if IsNoReplyAddress(msg.From) {
		slog.Debug("skipping auto-reply: noreply sender", "account", account.Email, "message_id", msg.DedupKey)
		return false
	}

	if e.alreadyReplied(ctx, account, msg) {
		return false
	}

	e.pending[pk] = struct{}{}
	slog.Info("auto-reply approved",
		"account", account.Email,
		"message_id", msg.DedupKey,
		"subject", msg.Subject,
	)
	return true
}

// alreadyReplied checks the reply record under both identifier forms. A
// store failure counts as replied; when in doubt, stay silent.
func (e *Engine) alreadyReplied(ctx context.Context, account models.Account, msg models.Message) bool {
	rec, err := e.store.GetReply(ctx, account.ID, msg.DedupKey)
	if err != nil {
		slog.Error("reply lookup failed", "account", account.Email, "message_id", msg.DedupKey, "error", err)
		return true
	}
	if rec == nil && msg.AltKey != "" {
		rec, err = e.store.GetReply(ctx, account.ID, msg.AltKey)
		if err != nil {
			slog.Error("reply lookup failed", "account", account.Email, "message_id", msg.AltKey, "error", err)
			return true
		}
	}
	if rec != nil {
		slog.Debug("skipping auto-reply: already replied",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"sent_at", rec.SentAt,
		)
		return true
	}
	return false
}

// Release removes the pending marker for a message.
func (e *Engine) Release(accountID int64, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, pendingKey(accountID, key))
}
