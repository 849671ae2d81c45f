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
	"time"

	"github.com/cobalthq/mailwatch/internal/analysis"
	"github.com/cobalthq/mailwatch/internal/models"
	"github.com/cobalthq/mailwatch/internal/transport"
)

// ResponderStore is the persistence surface the responder needs.
// Implemented by store.Store.
type ResponderStore interface {
	SaveReply(ctx context.Context, accountID int64, key string, rec models.ReplyRecord) error
	GetThreadID(ctx context.Context, accountID int64, key string) (string, error)
	SetThreadID(ctx context.Context, accountID int64, key, threadID string) error
}

// Responder composes and sends approved auto-replies. The reply body is
// generated fresh at send time; the suggestion captured during analysis
// only gates the decision.
type Responder struct {
	store    ResponderStore
	analyzer analysis.Analyzer
	engine   *Engine
}

// NewResponder creates a responder.
func NewResponder(store ResponderStore, analyzer analysis.Analyzer, engine *Engine) *Responder {
	return &Responder{store: store, analyzer: analyzer, engine: engine}
}

// SendReply sends the auto-reply for an approved message over the
// account's transport. The caller must hold the pending marker from
// ShouldReply; it is released here no matter how the attempt ends. The
// reply record is saved the moment the send succeeds.
func (r *Responder) SendReply(ctx context.Context, account models.Account, tr transport.Transport, msg models.Message) error {
	defer r.engine.Release(account.ID, msg.DedupKey)

	to := NormalizeAddress(msg.From)
	if to == "" {
		return fmt.Errorf("message %s has no sender address", msg.DedupKey)
	}

	body := r.replyBody(ctx, account, msg)
	subject := replySubject(msg.Subject)
	threadID := r.resolveThreadID(ctx, account, tr, msg)

	reply := transport.OutgoingReply{
		From:       account.Email,
		To:         to,
		Subject:    subject,
		Body:       body,
		InReplyTo:  msg.DedupKey,
		References: []string{msg.DedupKey},
		ThreadID:   threadID,
	}

	if err := tr.Send(ctx, reply); err != nil {
		slog.Error("auto-reply send failed",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"to", to,
			"error", err,
		)
		return err
	}

	slog.Info("auto-reply sent",
		"account", account.Email,
		"message_id", msg.DedupKey,
		"to", to,
		"subject", subject,
	)

	rec := models.ReplyRecord{
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC(),
		Success: true,
	}
	if err := r.store.SaveReply(ctx, account.ID, msg.DedupKey, rec); err != nil {
		slog.Error("persist reply record failed",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"error", err,
		)
	}
	return nil
}

// replyBody generates fresh reply text, falling back to a plain
// acknowledgment when generation fails or comes back too short.
func (r *Responder) replyBody(ctx context.Context, account models.Account, msg models.Message) string {
	body, err := r.analyzer.GenerateReply(ctx, msg, account.CustomInstructions)
	if err != nil {
		slog.Warn("reply generation failed, using fallback",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"error", err,
		)
		body = ""
	}
	if len(strings.TrimSpace(body)) < minReplyLength {
		body = fmt.Sprintf("Thank you for your email.\n\nBest regards,\n%s", displayName(account.Email))
	}
	return body
}

// resolveThreadID finds the provider thread id: the message itself, then
// the store, then a transport metadata lookup whose result is persisted
// for the rest of the conversation.
func (r *Responder) resolveThreadID(ctx context.Context, account models.Account, tr transport.Transport, msg models.Message) string {
	if msg.ThreadID != "" {
		return msg.ThreadID
	}

	threadID, err := r.store.GetThreadID(ctx, account.ID, msg.DedupKey)
	if err != nil {
		slog.Warn("thread id lookup failed", "account", account.Email, "message_id", msg.DedupKey, "error", err)
	}
	if threadID != "" {
		return threadID
	}

	lookup, ok := tr.(transport.ThreadLookup)
	if !ok || msg.ProviderID == "" {
		return ""
	}
	threadID, err = lookup.ThreadIDForMessage(ctx, msg.ProviderID)
	if err != nil {
		slog.Warn("thread id metadata lookup failed",
			"account", account.Email,
			"provider_id", msg.ProviderID,
			"error", err,
		)
		return ""
	}
	if threadID != "" {
		if err := r.store.SetThreadID(ctx, account.ID, msg.DedupKey, threadID); err != nil {
			slog.Warn("persist thread id failed", "account", account.Email, "message_id", msg.DedupKey, "error", err)
		}
	}
	return threadID
}

// replySubject prefixes "Re:" exactly once.
func replySubject(subject string) string {
	if subject == "" {
		return "Re: No Subject"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// displayName derives a human name from the local part of an address:
// "jane.doe@example.com" becomes "Jane Doe".
func displayName(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	local = strings.NewReplacer(".", " ", "_", " ").Replace(local)

	words := strings.Fields(local)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "User"
	}
	return strings.Join(words, " ")
}
