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

// Package models defines the data structures shared across the monitoring
// service.
package models

import "time"

// CredentialKind distinguishes how an account authenticates to its mail
// provider.
type CredentialKind string

const (
	// CredentialPassword is an IMAP/SMTP account with a stored password.
	CredentialPassword CredentialKind = "password"
	// CredentialOAuth is a Gmail API account with an OAuth token pair.
	CredentialOAuth CredentialKind = "oauth"
)

// OAuthToken holds the OAuth credential pair for a token-based account.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Account is the read-only per-mailbox configuration the monitor operates
// on. It is owned and mutated by the account registry; the core refreshes
// its view once per scheduler cycle.
type Account struct {
	ID                 int64
	Email              string
	Credential         CredentialKind
	Password           string
	IMAPHost           string
	IMAPPort           int
	SMTPHost           string
	SMTPPort           int
	OAuth              *OAuthToken
	AutoReplyEnabled   bool
	CustomInstructions string
}

// Attachment describes a file attached to a message. Only metadata is
// carried; content extraction belongs to other parts of the system.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message is a fetched email in canonical form. DedupKey is the stable
// cross-fetch identity: the RFC 822 Message-ID when the provider exposes
// one, otherwise a synthetic id derived from the transport-native id.
// AltKey carries the other id form when a provider exposes both, so reply
// bookkeeping can be checked under either.
type Message struct {
	ProviderID  string       `json:"provider_id"`
	DedupKey    string       `json:"message_id"`
	AltKey      string       `json:"alt_message_id,omitempty"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Date        time.Time    `json:"date"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// AnalysisResult is the outcome of the external analysis function for one
// message. It is written once and never patched; a re-analysis produces a
// new record.
type AnalysisResult struct {
	Category       string   `json:"category"`
	UrgencyScore   int      `json:"urgency_score"`
	IsSpam         bool     `json:"is_spam"`
	SpamConfidence float64  `json:"spam_confidence"`
	Summary        string   `json:"summary"`
	SuggestedReply string   `json:"suggested_response"`
	Tags           []string `json:"tags,omitempty"`
}

// ReplyRecord is the durable proof that an auto-reply was sent for a
// (message, account) pair. Its existence is the single source of truth for
// "already replied".
type ReplyRecord struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
	Success bool      `json:"success"`
}
