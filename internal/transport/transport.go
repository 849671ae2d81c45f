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

// Package transport abstracts mail provider access behind a single
// interface with two concrete implementations: an incremental Gmail API
// transport driven by a history cursor, and a polling IMAP/SMTP transport
// for password accounts.
package transport

import (
	"context"
	"fmt"

	"github.com/cobalthq/mailwatch/internal/models"
)

// Transport is the provider-facing surface the scheduler and responder
// consume. FetchNew advances an opaque cursor; polling transports ignore
// it and return it unchanged.
type Transport interface {
	// FetchNew returns messages that arrived since the cursor, plus the
	// cursor to use next time. An empty cursor means "baseline now": the
	// transport establishes a cursor and returns a bounded recent window.
	FetchNew(ctx context.Context, cursor string) ([]models.Message, string, error)

	// FetchRecent returns up to limit recent messages regardless of cursor
	// state.
	FetchRecent(ctx context.Context, limit int) ([]models.Message, error)

	// Send submits an outgoing reply.
	Send(ctx context.Context, reply OutgoingReply) error
}

// ThreadLookup is an optional transport capability: resolving the
// provider-native thread id for a message after the fact. The Gmail
// transport implements it; IMAP has no thread concept.
type ThreadLookup interface {
	ThreadIDForMessage(ctx context.Context, providerID string) (string, error)
}

// OutgoingReply is a composed reply ready for submission.
type OutgoingReply struct {
	From       string
	To         string
	Subject    string
	Body       string
	InReplyTo  string   // bracketed Message-ID of the message being answered
	References []string // thread reference chain, oldest first
	ThreadID   string   // provider-native thread id, when known
}

// AuthError marks a terminal credential failure. The scheduler parks the
// account until its credentials are refreshed; retrying without operator
// action cannot succeed.
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// cursorExpiredError signals that the provider no longer honours the
// stored cursor. Handled inside the transport by re-baselining; it never
// escapes FetchNew.
type cursorExpiredError struct{}

func (e *cursorExpiredError) Error() string { return "history cursor expired" }

func isCursorExpired(err error) bool {
	_, ok := err.(*cursorExpiredError)
	return ok
}
