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
	"log/slog"
	"sync"

	"github.com/cobalthq/mailwatch/internal/models"
)

// ResultStore persists analysis results. Implemented by store.Store.
type ResultStore interface {
	UpsertAnalysis(ctx context.Context, accountID int64, key string, res models.AnalysisResult) error
}

// Handler receives each completed analysis. The auto-reply decide path
// hangs off this.
type Handler func(ctx context.Context, account models.Account, msg models.Message, res models.AnalysisResult)

// Dispatcher runs analysis off the fetch path. Each batch is processed on
// its own goroutine; a failed analysis is logged and skipped since the
// message itself is already persisted.
type Dispatcher struct {
	analyzer Analyzer
	store    ResultStore
	handler  Handler
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher without a handler; the consumer
// wires one with SetHandler before the first batch.
func NewDispatcher(analyzer Analyzer, store ResultStore) *Dispatcher {
	return &Dispatcher{analyzer: analyzer, store: store}
}

// SetHandler installs the per-result continuation. Must be called before
// any batch is dispatched.
func (d *Dispatcher) SetHandler(handler Handler) {
	d.handler = handler
}

// DispatchBatch schedules analysis of a batch and returns immediately.
func (d *Dispatcher) DispatchBatch(ctx context.Context, account models.Account, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, msg := range msgs {
			if ctx.Err() != nil {
				return
			}
			d.process(ctx, account, msg)
		}
	}()
}

func (d *Dispatcher) process(ctx context.Context, account models.Account, msg models.Message) {
	res, err := d.analyzer.Analyze(ctx, msg, account.CustomInstructions)
	if err != nil {
		slog.Error("analysis failed",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"error", err,
		)
		// The message is already persisted; hand the empty result on so
		// notification still fires with defaults. The empty suggestion
		// keeps the reply path closed.
		if d.handler != nil {
			d.handler(ctx, account, msg, models.AnalysisResult{})
		}
		return
	}

	if err := d.store.UpsertAnalysis(ctx, account.ID, msg.DedupKey, res); err != nil {
		slog.Error("persist analysis failed",
			"account", account.Email,
			"message_id", msg.DedupKey,
			"error", err,
		)
		// Continue: the decision path works from the in-memory result.
	}

	slog.Info("message analysed",
		"account", account.Email,
		"message_id", msg.DedupKey,
		"category", res.Category,
		"urgency", res.UrgencyScore,
		"spam", res.IsSpam,
	)

	if d.handler != nil {
		d.handler(ctx, account, msg, res)
	}
}

// Wait blocks until all in-flight batches finish. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
