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

// Package accounts provides the Postgres-backed registry of monitored
// mailboxes. The scheduler reads a fresh account list every cycle;
// transports push refreshed OAuth tokens back through UpdateOAuthToken.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cobalthq/mailwatch/internal/models"
)

// Registry provides CRUD operations for monitored accounts in Postgres.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates an account registry backed by the given Postgres
// pool. It ensures the accounts table exists on creation.
func NewRegistry(ctx context.Context, pool *pgxpool.Pool) (*Registry, error) {
	r := &Registry{pool: pool}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure accounts schema: %w", err)
	}
	slog.Info("account registry initialised")
	return r, nil
}

func (r *Registry) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                  BIGSERIAL PRIMARY KEY,
			email               TEXT NOT NULL UNIQUE,
			credential_kind     TEXT NOT NULL DEFAULT 'password',
			password            TEXT DEFAULT '',
			imap_host           TEXT DEFAULT '',
			imap_port           INT DEFAULT 993,
			smtp_host           TEXT DEFAULT '',
			smtp_port           INT DEFAULT 587,
			oauth_access_token  TEXT DEFAULT '',
			oauth_refresh_token TEXT DEFAULT '',
			oauth_expiry        TIMESTAMPTZ,
			auto_reply_enabled  BOOLEAN DEFAULT TRUE,
			custom_instructions TEXT DEFAULT '',
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// ListAccountsWithCredentials returns every account that carries usable
// credentials: either a password with an IMAP host, or an OAuth refresh
// token. Accounts without credentials are skipped silently; they are
// onboarding rows the registry owner has not finished.
func (r *Registry) ListAccountsWithCredentials(ctx context.Context) ([]models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, credential_kind, password, imap_host, imap_port,
		       smtp_host, smtp_port, oauth_access_token, oauth_refresh_token,
		       oauth_expiry, auto_reply_enabled, custom_instructions
		FROM accounts
		WHERE (credential_kind = 'password' AND password <> '' AND imap_host <> '')
		   OR (credential_kind = 'oauth' AND oauth_refresh_token <> '')
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// Get retrieves a single account by id.
func (r *Registry) Get(ctx context.Context, id int64) (*models.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, credential_kind, password, imap_host, imap_port,
		       smtp_host, smtp_port, oauth_access_token, oauth_refresh_token,
		       oauth_expiry, auto_reply_enabled, custom_instructions
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

// UpdateOAuthToken persists a refreshed token pair for an account. The
// refresh token is only overwritten when the provider rotated it.
func (r *Registry) UpdateOAuthToken(ctx context.Context, id int64, tok models.OAuthToken) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET oauth_access_token  = $1,
		    oauth_refresh_token = CASE WHEN $2 <> '' THEN $2 ELSE oauth_refresh_token END,
		    oauth_expiry        = $3,
		    updated_at          = NOW()
		WHERE id = $4
	`, tok.AccessToken, tok.RefreshToken, tok.Expiry, id)
	return err
}

// SetAutoReply flips the per-account auto-reply flag.
func (r *Registry) SetAutoReply(ctx context.Context, id int64, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET auto_reply_enabled = $1, updated_at = NOW()
		WHERE id = $2
	`, enabled, id)
	return err
}

// scanAccount scans a single row into an Account.
func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a           models.Account
		kind        string
		accessTok   string
		refreshTok  string
		oauthExpiry *time.Time
	)
	err := row.Scan(
		&a.ID, &a.Email, &kind, &a.Password, &a.IMAPHost, &a.IMAPPort,
		&a.SMTPHost, &a.SMTPPort, &accessTok, &refreshTok,
		&oauthExpiry, &a.AutoReplyEnabled, &a.CustomInstructions,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Credential = models.CredentialKind(kind)
	if a.Credential == models.CredentialOAuth {
		tok := &models.OAuthToken{AccessToken: accessTok, RefreshToken: refreshTok}
		if oauthExpiry != nil {
			tok.Expiry = *oauthExpiry
		}
		a.OAuth = tok
	}
	return &a, nil
}

// collectAccounts scans multiple rows into a slice of Accounts.
func collectAccounts(rows pgx.Rows) ([]models.Account, error) {
	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		if a != nil {
			accounts = append(accounts, *a)
		}
	}
	return accounts, rows.Err()
}
