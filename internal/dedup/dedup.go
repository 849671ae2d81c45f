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

// Package dedup provides two-tier message deduplication. Tier one is a
// bounded in-process recency cache that absorbs the common case of polling
// windows overlapping between cycles; tier two is a single batched
// existence query against the persistence store, which catches anything
// the cache has evicted or that predates this process.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/cobalthq/mailwatch/internal/models"
)

// DefaultCapacity bounds the tier-one cache. Poll batches are small, so a
// few thousand keys covers many cycles across every account.
const DefaultCapacity = 4096

// KeyStore is the tier-two existence check, satisfied by store.Store.
type KeyStore interface {
	ExistingKeys(ctx context.Context, accountID int64, keys []string) (map[string]bool, error)
}

// Gate filters fetched messages down to the ones never seen before.
type Gate struct {
	store KeyStore

	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string // FIFO eviction order, oldest first
	capacity int
}

// NewGate creates a dedup gate over the given store.
func NewGate(store KeyStore) *Gate {
	return &Gate{
		store:    store,
		seen:     make(map[string]struct{}),
		capacity: DefaultCapacity,
	}
}

// cacheKey namespaces dedup keys per account so two mailboxes receiving
// the same message do not mask each other.
func cacheKey(accountID int64, key string) string {
	return fmt.Sprintf("%d:%s", accountID, key)
}

// FilterNew returns the subset of msgs not seen before, preserving fetch
// order. Messages that pass both tiers are admitted to the recency cache
// before returning, so a concurrent duplicate fetch in a later batch is
// rejected at tier one. The store is consulted at most once per call.
func (g *Gate) FilterNew(ctx context.Context, accountID int64, msgs []models.Message) ([]models.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	g.mu.Lock()
	var candidates []models.Message
	inBatch := make(map[string]struct{})
	for _, m := range msgs {
		if m.DedupKey == "" {
			continue
		}
		ck := cacheKey(accountID, m.DedupKey)
		if _, dup := g.seen[ck]; dup {
			continue
		}
		// A batch can contain the same message twice.
		if _, dup := inBatch[ck]; dup {
			continue
		}
		inBatch[ck] = struct{}{}
		candidates = append(candidates, m)
	}
	g.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(candidates)*2)
	for _, m := range candidates {
		keys = append(keys, m.DedupKey)
		if m.AltKey != "" {
			keys = append(keys, m.AltKey)
		}
	}
	existing, err := g.store.ExistingKeys(ctx, accountID, keys)
	if err != nil {
		return nil, fmt.Errorf("dedup store lookup: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var fresh []models.Message
	protected := make(map[string]struct{}, len(candidates))
	for _, m := range candidates {
		if existing[m.DedupKey] || (m.AltKey != "" && existing[m.AltKey]) {
			// Known to the store but not the cache. Admit so the next
			// overlapping fetch stops at tier one.
			g.remember(cacheKey(accountID, m.DedupKey), protected)
			continue
		}
		ck := cacheKey(accountID, m.DedupKey)
		protected[ck] = struct{}{}
		g.remember(ck, protected)
		fresh = append(fresh, m)
	}
	return fresh, nil
}

// Remember admits a single key to the recency cache. Used when a message
// is persisted through a path that bypassed FilterNew.
func (g *Gate) Remember(accountID int64, key string) {
	if key == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remember(cacheKey(accountID, key), nil)
}

// Forget backs a key out of the recency cache. Used when persistence of
// an admitted message failed; the next fetch of the same message must
// pass the gate again.
func (g *Gate) Forget(accountID int64, key string) {
	if key == "" {
		return
	}
	ck := cacheKey(accountID, key)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[ck]; !ok {
		return
	}
	delete(g.seen, ck)
	for i, o := range g.order {
		if o == ck {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// remember inserts under g.mu. Eviction never removes a key in the
// protected set; duplicates arriving within one batch must always hit the
// cache.
func (g *Gate) remember(ck string, protected map[string]struct{}) {
	if _, ok := g.seen[ck]; ok {
		return
	}
	g.seen[ck] = struct{}{}
	g.order = append(g.order, ck)

	for len(g.order) > g.capacity {
		oldest := g.order[0]
		if _, keep := protected[oldest]; keep {
			// The whole window is current-batch keys; grow past the
			// bound for this batch rather than evict one.
			break
		}
		g.order = g.order[1:]
		delete(g.seen, oldest)
	}
}
