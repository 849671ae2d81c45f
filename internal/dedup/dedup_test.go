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

package dedup

import (
	"context"
	"sync"
	"testing"

	"github.com/cobalthq/mailwatch/internal/models"
)

// mockKeyStore implements KeyStore for testing.
type mockKeyStore struct {
	mu       sync.Mutex
	existing map[string]bool
	queries  int
}

func newMockKeyStore(known ...string) *mockKeyStore {
	m := &mockKeyStore{existing: make(map[string]bool)}
	for _, k := range known {
		m.existing[k] = true
	}
	return m
}

func (m *mockKeyStore) ExistingKeys(_ context.Context, _ int64, keys []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	out := make(map[string]bool)
	for _, k := range keys {
		if m.existing[k] {
			out[k] = true
		}
	}
	return out, nil
}

func (m *mockKeyStore) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

func msg(key string) models.Message {
	return models.Message{DedupKey: key}
}

// TestGate_FilterNew verifies tier-two filtering against the store.
func TestGate_FilterNew(t *testing.T) {
	store := newMockKeyStore("<known@example.com>")
	g := NewGate(store)

	fresh, err := g.FilterNew(context.Background(), 1, []models.Message{
		msg("<known@example.com>"),
		msg("<new@example.com>"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 1 || fresh[0].DedupKey != "<new@example.com>" {
		t.Errorf("fresh = %v, want only <new@example.com>", fresh)
	}
	if store.queryCount() != 1 {
		t.Errorf("queries = %d, want 1", store.queryCount())
	}
}

// TestGate_RecencyCache verifies that a repeated fetch is absorbed by
// tier one without touching the store.
func TestGate_RecencyCache(t *testing.T) {
	store := newMockKeyStore()
	g := NewGate(store)

	batch := []models.Message{msg("<a@x>"), msg("<b@x>")}
	if _, err := g.FilterNew(context.Background(), 1, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same window fetched again next cycle.
	fresh, err := g.FilterNew(context.Background(), 1, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("fresh = %v, want none", fresh)
	}
	if store.queryCount() != 1 {
		t.Errorf("queries = %d, want 1 (repeat batch must not hit the store)", store.queryCount())
	}
}

// TestGate_BatchDuplicates verifies that a duplicate inside one batch is
// admitted once.
func TestGate_BatchDuplicates(t *testing.T) {
	g := NewGate(newMockKeyStore())

	fresh, err := g.FilterNew(context.Background(), 1, []models.Message{
		msg("<dup@x>"), msg("<dup@x>"), msg("<other@x>"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("fresh = %d messages, want 2", len(fresh))
	}
}

// TestGate_AltKeyKnown verifies that a message whose alternate id is in
// the store is rejected.
func TestGate_AltKeyKnown(t *testing.T) {
	store := newMockKeyStore("<xyz@gmail.com>")
	g := NewGate(store)

	fresh, err := g.FilterNew(context.Background(), 1, []models.Message{
		{DedupKey: "<real@example.com>", AltKey: "<xyz@gmail.com>"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("fresh = %v, want none", fresh)
	}
}

// TestGate_AccountIsolation verifies the cache does not leak across
// accounts.
func TestGate_AccountIsolation(t *testing.T) {
	g := NewGate(newMockKeyStore())

	if _, err := g.FilterNew(context.Background(), 1, []models.Message{msg("<shared@x>")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh, err := g.FilterNew(context.Background(), 2, []models.Message{msg("<shared@x>")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("fresh = %v, want the message for account 2", fresh)
	}
}

// TestGate_Forget verifies a backed-out key passes the gate again, as
// after a failed persist.
func TestGate_Forget(t *testing.T) {
	store := newMockKeyStore()
	g := NewGate(store)
	ctx := context.Background()

	if _, err := g.FilterNew(ctx, 1, []models.Message{msg("<retry@x>")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g.Forget(1, "<retry@x>")

	fresh, err := g.FilterNew(ctx, 1, []models.Message{msg("<retry@x>")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("fresh = %v, want the forgotten message again", fresh)
	}
	if store.queryCount() != 2 {
		t.Errorf("queries = %d, want 2 (forgotten key must reach the store)", store.queryCount())
	}
	if len(g.seen) != len(g.order) {
		t.Errorf("cache bookkeeping skewed: seen=%d order=%d", len(g.seen), len(g.order))
	}
}

// TestGate_Eviction verifies the cache stays bounded and evicted keys
// fall back to the store check.
func TestGate_Eviction(t *testing.T) {
	store := newMockKeyStore()
	g := NewGate(store)
	g.capacity = 2

	ctx := context.Background()
	for _, k := range []string{"<1@x>", "<2@x>", "<3@x>"} {
		if _, err := g.FilterNew(ctx, 1, []models.Message{msg(k)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(g.seen) != 2 {
		t.Errorf("cache size = %d, want 2", len(g.seen))
	}

	// <1@x> was evicted; seeing it again goes to the store, which now
	// knows it, so it is still filtered.
	store.existing["<1@x>"] = true
	fresh, err := g.FilterNew(ctx, 1, []models.Message{msg("<1@x>")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("fresh = %v, want none", fresh)
	}
}
