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

// Package store provides the Postgres-backed persistence bridge for
// messages, analysis results, and sent-reply records. All writes are
// idempotent upserts keyed on (account_id, message_id); the replies table
// is the single source of truth for "already auto-replied".
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cobalthq/mailwatch/internal/models"
)

// Store provides persistence operations backed by a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure mail store schema: %w", err)
	}
	slog.Info("mail store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id             BIGSERIAL PRIMARY KEY,
			account_id     BIGINT NOT NULL,
			message_id     TEXT NOT NULL,
			alt_message_id TEXT DEFAULT '',
			provider_id    TEXT DEFAULT '',
			from_addr      TEXT NOT NULL,
			to_addr        TEXT DEFAULT '',
			subject        TEXT DEFAULT '',
			text_body      TEXT DEFAULT '',
			html_body      TEXT DEFAULT '',
			date           TIMESTAMPTZ,
			thread_id      TEXT DEFAULT '',
			attachments    JSONB DEFAULT '[]',
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id);
		CREATE INDEX IF NOT EXISTS idx_messages_alt ON messages(account_id, alt_message_id);

		CREATE TABLE IF NOT EXISTS analyses (
			id              BIGSERIAL PRIMARY KEY,
			account_id      BIGINT NOT NULL,
			message_id      TEXT NOT NULL,
			category        TEXT DEFAULT '',
			urgency_score   INT DEFAULT 0,
			is_spam         BOOLEAN DEFAULT FALSE,
			spam_confidence DOUBLE PRECISION DEFAULT 0,
			summary         TEXT DEFAULT '',
			suggested_reply TEXT DEFAULT '',
			tags            JSONB DEFAULT '[]',
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, message_id)
		);

		CREATE TABLE IF NOT EXISTS replies (
			id         BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL,
			message_id TEXT NOT NULL,
			to_addr    TEXT NOT NULL,
			subject    TEXT DEFAULT '',
			body       TEXT DEFAULT '',
			sent_at    TIMESTAMPTZ NOT NULL,
			success    BOOLEAN DEFAULT FALSE,
			UNIQUE(account_id, message_id)
		);
	`)
	return err
}

// ExistingKeys returns which of the given dedup keys already have a
// persisted message for the account. The lookup covers both the canonical
// and alternate identifier columns in a single query, so a message
// re-observed under its other id form is still recognised.
func (s *Store) ExistingKeys(ctx context.Context, accountID int64, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, alt_message_id
		FROM messages
		WHERE account_id = $1
		  AND (message_id = ANY($2) OR alt_message_id = ANY($2))
	`, accountID, keys)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var canonical, alt string
		if err := rows.Scan(&canonical, &alt); err != nil {
			return nil, err
		}
		existing[canonical] = true
		if alt != "" {
			existing[alt] = true
		}
	}
	return existing, rows.Err()
}

// UpsertMessage persists a fetched message. Re-inserting the same key is a
// no-op apart from backfilling a thread id learned later.
func (s *Store) UpsertMessage(ctx context.Context, accountID int64, msg models.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages
			(account_id, message_id, alt_message_id, provider_id, from_addr,
			 to_addr, subject, text_body, html_body, date, thread_id, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, message_id) DO UPDATE SET
			thread_id = CASE WHEN messages.thread_id = '' THEN EXCLUDED.thread_id
			                 ELSE messages.thread_id END
	`, accountID, msg.DedupKey, msg.AltKey, msg.ProviderID, msg.From,
		msg.To, msg.Subject, msg.TextBody, msg.HTMLBody, msg.Date, msg.ThreadID, attachments)
	return err
}

// UpsertAnalysis attaches an analysis result to a persisted message.
func (s *Store) UpsertAnalysis(ctx context.Context, accountID int64, key string, res models.AnalysisResult) error {
	tags, err := json.Marshal(res.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analyses
			(account_id, message_id, category, urgency_score, is_spam,
			 spam_confidence, summary, suggested_reply, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_id, message_id) DO UPDATE SET
			category        = EXCLUDED.category,
			urgency_score   = EXCLUDED.urgency_score,
			is_spam         = EXCLUDED.is_spam,
			spam_confidence = EXCLUDED.spam_confidence,
			summary         = EXCLUDED.summary,
			suggested_reply = EXCLUDED.suggested_reply,
			tags            = EXCLUDED.tags,
			created_at      = NOW()
	`, accountID, key, res.Category, res.UrgencyScore, res.IsSpam,
		res.SpamConfidence, res.Summary, res.SuggestedReply, tags)
	return err
}

// GetReply returns the reply record for (key, account), or nil if no reply
// has been sent.
func (s *Store) GetReply(ctx context.Context, accountID int64, key string) (*models.ReplyRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT to_addr, subject, body, sent_at, success
		FROM replies
		WHERE account_id = $1 AND message_id = $2
	`, accountID, key)

	var r models.ReplyRecord
	err := row.Scan(&r.To, &r.Subject, &r.Body, &r.SentAt, &r.Success)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveReply durably records that an auto-reply was sent. The upsert is
// atomic at the store level; the in-process pending marker only narrows
// the race window, this row closes it.
func (s *Store) SaveReply(ctx context.Context, accountID int64, key string, rec models.ReplyRecord) error {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replies (account_id, message_id, to_addr, subject, body, sent_at, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, message_id) DO UPDATE SET
			to_addr = EXCLUDED.to_addr,
			subject = EXCLUDED.subject,
			body    = EXCLUDED.body,
			sent_at = EXCLUDED.sent_at,
			success = EXCLUDED.success
	`, accountID, key, rec.To, rec.Subject, rec.Body, sentAt, rec.Success)
	return err
}

// GetThreadID returns the stored thread id for a message, matching either
// identifier form. Empty string means unknown.
func (s *Store) GetThreadID(ctx context.Context, accountID int64, key string) (string, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id
		FROM messages
		WHERE account_id = $1 AND (message_id = $2 OR alt_message_id = $2)
	`, accountID, key)

	var threadID string
	err := row.Scan(&threadID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return threadID, nil
}

// SetThreadID persists a thread id recovered after the message was stored,
// so later replies in the same conversation skip the metadata lookup.
func (s *Store) SetThreadID(ctx context.Context, accountID int64, key, threadID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET thread_id = $1
		WHERE account_id = $2 AND (message_id = $3 OR alt_message_id = $3)
	`, threadID, accountID, key)
	return err
}
