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

// Package notify publishes new-message events to a Redis list for
// downstream consumers. Delivery is best-effort; a failed publish never
// blocks or fails the monitoring pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cobalthq/mailwatch/internal/models"
)

// Notifier sends message events to a Redis list.
type Notifier struct {
	rdb       *redis.Client
	queueName string
}

// NewNotifier creates a notifier targeting the specified queue.
func NewNotifier(rdb *redis.Client, queueName string) *Notifier {
	return &Notifier{rdb: rdb, queueName: queueName}
}

// messageEvent is the wire shape consumers read from the queue. Analysis
// fields carry defaults when the event is published before analysis
// completes.
type messageEvent struct {
	EventID      string    `json:"event_id"`
	AccountID    int64     `json:"account_id"`
	AccountEmail string    `json:"account_email"`
	MessageID    string    `json:"message_id"`
	From         string    `json:"from"`
	Subject      string    `json:"subject"`
	Category     string    `json:"category"`
	IsSpam       bool      `json:"is_spam"`
	UrgencyScore int       `json:"urgency_score"`
	Timestamp    time.Time `json:"timestamp"`
}

// PublishNewMessage publishes one event for a fetched message. res may be
// nil when analysis has not completed yet.
func (n *Notifier) PublishNewMessage(ctx context.Context, account models.Account, msg models.Message, res *models.AnalysisResult) error {
	event := messageEvent{
		EventID:      uuid.New().String(),
		AccountID:    account.ID,
		AccountEmail: account.Email,
		MessageID:    msg.DedupKey,
		From:         msg.From,
		Subject:      msg.Subject,
		Category:     "uncategorized",
		Timestamp:    time.Now().UTC(),
	}
	if res != nil {
		if res.Category != "" {
			event.Category = res.Category
		}
		event.IsSpam = res.IsSpam
		event.UrgencyScore = res.UrgencyScore
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}

	if err := n.rdb.LPush(ctx, n.queueName, string(eventJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published message event",
		"event_id", event.EventID,
		"account", account.Email,
		"message_id", msg.DedupKey,
		"queue", n.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (n *Notifier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return n.rdb.Ping(ctx).Err()
}
