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

// Package monitor runs the polling scheduler: a single long-lived loop
// that drives fetch, dedup, persistence, async analysis, auto-reply, and
// notification for every registered account.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cobalthq/mailwatch/internal/analysis"
	"github.com/cobalthq/mailwatch/internal/autoreply"
	"github.com/cobalthq/mailwatch/internal/models"
	"github.com/cobalthq/mailwatch/internal/transport"
)

// Registry is the account source, implemented by accounts.Registry.
type Registry interface {
	ListAccountsWithCredentials(ctx context.Context) ([]models.Account, error)
}

// MessageStore persists fetched messages, implemented by store.Store.
type MessageStore interface {
	UpsertMessage(ctx context.Context, accountID int64, msg models.Message) error
}

// Gate filters fetched messages to unseen ones, implemented by
// dedup.Gate. Forget backs out a key whose persistence failed so the
// message passes the gate again on refetch.
type Gate interface {
	FilterNew(ctx context.Context, accountID int64, msgs []models.Message) ([]models.Message, error)
	Forget(accountID int64, key string)
}

// Notifier publishes new-message events, implemented by notify.Notifier.
type Notifier interface {
	PublishNewMessage(ctx context.Context, account models.Account, msg models.Message, res *models.AnalysisResult) error
}

// TransportFactory builds a transport for an account. The scheduler calls
// it lazily and caches the result per account id.
type TransportFactory func(ctx context.Context, account models.Account) (transport.Transport, error)

// Config holds the scheduler's collaborators.
type Config struct {
	Registry     Registry
	Store        MessageStore
	Gate         Gate
	Dispatcher   *analysis.Dispatcher
	Engine       *autoreply.Engine
	Responder    *autoreply.Responder
	Notifier     Notifier
	NewTransport TransportFactory
	Interval     time.Duration
}

// Scheduler drives the monitoring loop. One instance monitors all
// accounts; per-account failures are isolated so one broken mailbox never
// stalls the rest.
type Scheduler struct {
	registry     Registry
	store        MessageStore
	gate         Gate
	dispatcher   *analysis.Dispatcher
	engine       *autoreply.Engine
	responder    *autoreply.Responder
	notifier     Notifier
	newTransport TransportFactory
	interval     time.Duration

	mu         sync.Mutex
	transports map[int64]transport.Transport
	cursors    map[int64]string
	parked     map[int64]string // account id -> credential fingerprint at parking time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates the scheduler and installs itself as the analysis
// dispatcher's result handler.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		registry:     cfg.Registry,
		store:        cfg.Store,
		gate:         cfg.Gate,
		dispatcher:   cfg.Dispatcher,
		engine:       cfg.Engine,
		responder:    cfg.Responder,
		notifier:     cfg.Notifier,
		newTransport: cfg.NewTransport,
		interval:     cfg.Interval,
		transports:   make(map[int64]transport.Transport),
		cursors:      make(map[int64]string),
		parked:       make(map[int64]string),
	}
	s.dispatcher.SetHandler(s.handleAnalyzed)
	return s
}

// Start launches the monitoring loop with an immediate first cycle.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		slog.Info("monitoring scheduler starting", "interval", s.interval)
		s.cycle(loopCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				slog.Info("monitoring scheduler stopping")
				return
			case <-ticker.C:
				s.cycle(loopCtx)
			}
		}
	}()
}

// Stop shuts down the loop and waits for in-flight analysis batches.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.dispatcher.Wait()
}

// cycle runs one pass over every account. A listing failure skips the
// whole cycle; the next tick retries.
func (s *Scheduler) cycle(ctx context.Context) {
	accounts, err := s.registry.ListAccountsWithCredentials(ctx)
	if err != nil {
		slog.Error("list accounts failed, skipping cycle", "error", err)
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		s.processAccount(ctx, account)
	}
}

// processAccount runs the fetch pipeline for one account. The cursor
// only advances after the batch is deduped and persisted; a transient
// failure before that leaves the old cursor so the next cycle re-fetches
// the same window.
func (s *Scheduler) processAccount(ctx context.Context, account models.Account) {
	if s.isParked(account) {
		return
	}

	tr, err := s.transportFor(ctx, account)
	if err != nil {
		slog.Error("transport setup failed",
			"account", account.Email,
			"error", err,
		)
		return
	}

	s.mu.Lock()
	cursor := s.cursors[account.ID]
	s.mu.Unlock()

	msgs, next, err := tr.FetchNew(ctx, cursor)
	if err != nil {
		var authErr *transport.AuthError
		if errors.As(err, &authErr) {
			s.parkAccount(account)
			return
		}
		slog.Error("fetch failed",
			"account", account.Email,
			"error", err,
		)
		return
	}

	if len(msgs) == 0 {
		s.setCursor(account.ID, next)
		return
	}

	fresh, err := s.gate.FilterNew(ctx, account.ID, msgs)
	if err != nil {
		slog.Error("dedup failed, keeping cursor for refetch",
			"account", account.Email,
			"error", err,
		)
		return
	}

	var persisted []models.Message
	allPersisted := true
	for _, msg := range fresh {
		if err := s.store.UpsertMessage(ctx, account.ID, msg); err != nil {
			slog.Error("persist message failed, keeping cursor for refetch",
				"account", account.Email,
				"message_id", msg.DedupKey,
				"error", err,
			)
			s.gate.Forget(account.ID, msg.DedupKey)
			allPersisted = false
			continue
		}
		persisted = append(persisted, msg)
	}

	if allPersisted {
		s.setCursor(account.ID, next)
	}

	if len(persisted) == 0 {
		return
	}

	slog.Info("new messages ingested",
		"account", account.Email,
		"fetched", len(msgs),
		"new", len(persisted),
	)

	s.dispatcher.DispatchBatch(ctx, account, persisted)
}

func (s *Scheduler) setCursor(accountID int64, cursor string) {
	s.mu.Lock()
	s.cursors[accountID] = cursor
	s.mu.Unlock()
}

// handleAnalyzed is the dispatcher continuation: publish the event, then
// run the reply decision and, when approved, the send.
func (s *Scheduler) handleAnalyzed(ctx context.Context, account models.Account, msg models.Message, res models.AnalysisResult) {
	go func() {
		if err := s.notifier.PublishNewMessage(ctx, account, msg, &res); err != nil {
			slog.Warn("notification publish failed",
				"account", account.Email,
				"message_id", msg.DedupKey,
				"error", err,
			)
		}
	}()

	if !s.engine.ShouldReply(ctx, account, msg, res) {
		return
	}

	s.mu.Lock()
	tr := s.transports[account.ID]
	s.mu.Unlock()
	if tr == nil {
		// Account was parked between analysis and reply.
		s.engine.Release(account.ID, msg.DedupKey)
		return
	}

	if err := s.responder.SendReply(ctx, account, tr, msg); err != nil {
		var authErr *transport.AuthError
		if errors.As(err, &authErr) {
			s.parkAccount(account)
		}
	}
}

// transportFor returns the cached transport for the account, building one
// on first use.
func (s *Scheduler) transportFor(ctx context.Context, account models.Account) (transport.Transport, error) {
	s.mu.Lock()
	tr := s.transports[account.ID]
	s.mu.Unlock()
	if tr != nil {
		return tr, nil
	}

	tr, err := s.newTransport(ctx, account)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.transports[account.ID] = tr
	s.mu.Unlock()
	return tr, nil
}

// parkAccount drops the cached transport and cursor after a terminal
// credential failure and records the failing credential fingerprint.
// Cycles skip the account until its registry row carries different
// credentials; retrying the same revoked material cannot succeed.
func (s *Scheduler) parkAccount(account models.Account) {
	s.mu.Lock()
	s.parked[account.ID] = credentialFingerprint(account)
	delete(s.transports, account.ID)
	delete(s.cursors, account.ID)
	s.mu.Unlock()

	slog.Warn("account credentials rejected, parked until re-authorized",
		"account", account.Email,
	)
}

// isParked reports whether the account is parked with the credentials it
// was parked under. A changed registry row lifts the parking.
func (s *Scheduler) isParked(account models.Account) bool {
	fp := credentialFingerprint(account)

	s.mu.Lock()
	defer s.mu.Unlock()

	parkedFP, parked := s.parked[account.ID]
	if !parked {
		return false
	}
	if parkedFP == fp {
		return true
	}
	delete(s.parked, account.ID)
	return false
}

// credentialFingerprint identifies the credential material of an account
// row. Two rows with the same fingerprint would fail authentication the
// same way.
func credentialFingerprint(account models.Account) string {
	if account.OAuth != nil {
		return fmt.Sprintf("oauth:%s:%s", account.OAuth.RefreshToken, account.OAuth.AccessToken)
	}
	return fmt.Sprintf("password:%s:%s@%s:%d", account.Email, account.Password, account.IMAPHost, account.IMAPPort)
}
