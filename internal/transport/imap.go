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

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/cobalthq/mailwatch/internal/models"
)

// searchWindow is how far back the UID search looks. Overlap between
// cycles is expected; the dedup gate absorbs it.
const searchWindow = 24 * time.Hour

// IMAPTransport is the polling transport for password accounts. IMAP has
// no server-side change cursor, so FetchNew is a bounded recent fetch and
// the cursor passes through untouched.
type IMAPTransport struct {
	account    models.Account
	fetchLimit int
}

// NewIMAPTransport builds a polling transport for the account.
func NewIMAPTransport(account models.Account, fetchLimit int) *IMAPTransport {
	if fetchLimit <= 0 {
		fetchLimit = 10
	}
	return &IMAPTransport{account: account, fetchLimit: fetchLimit}
}

// connect dials the IMAP server over TLS and authenticates. A login
// rejection is terminal for the account.
func (t *IMAPTransport) connect(_ context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", t.account.IMAPHost, t.account.IMAPPort)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(t.account.Email, t.account.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{Account: t.account.Email, Err: err}
	}
	return client, nil
}

// FetchNew delegates to FetchRecent; the cursor is returned unchanged.
func (t *IMAPTransport) FetchNew(ctx context.Context, cursor string) ([]models.Message, string, error) {
	msgs, err := t.FetchRecent(ctx, t.fetchLimit)
	return msgs, cursor, err
}

// FetchRecent searches the inbox over the recent window and returns up to
// limit messages with parsed bodies, oldest first.
func (t *IMAPTransport) FetchRecent(ctx context.Context, limit int) ([]models.Message, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{
		Since: time.Now().Add(-searchWindow),
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var msgs []models.Message
	for {
		raw := fetchCmd.Next()
		if raw == nil {
			break
		}
		buf, err := raw.Collect()
		if err != nil {
			slog.Error("imap message collect failed",
				"account", t.account.Email,
				"error", err,
			)
			continue
		}
		msgs = append(msgs, t.messageFromBuffer(buf, bodySection))
	}
	if err := fetchCmd.Close(); err != nil {
		return msgs, fmt.Errorf("fetching messages: %w", err)
	}
	return msgs, nil
}

// messageFromBuffer converts a fetched IMAP message to canonical form. The
// dedup key is the envelope Message-ID; a message without one gets a
// synthetic id from its UID and host.
func (t *IMAPTransport) messageFromBuffer(buf *imapclient.FetchMessageBuffer, section *imap.FetchItemBodySection) models.Message {
	msg := models.Message{
		ProviderID: fmt.Sprintf("%d", uint32(buf.UID)),
	}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.Date = env.Date
		if env.MessageID != "" {
			msg.DedupKey = bracketID(env.MessageID)
		}
		if len(env.From) > 0 {
			msg.From = formatAddress(env.From[0])
		}
		var to []string
		for _, a := range env.To {
			to = append(to, a.Addr())
		}
		msg.To = strings.Join(to, ", ")
	}
	if msg.DedupKey == "" {
		msg.DedupKey = fmt.Sprintf("<%d@%s>", uint32(buf.UID), t.account.IMAPHost)
	}

	if raw := buf.FindBodySection(section); raw != nil {
		text, htmlBody, attachments := parseMIMEBody(raw)
		msg.TextBody = cleanBody(text, htmlBody)
		msg.HTMLBody = htmlBody
		msg.Attachments = attachments
	}
	return msg
}

func formatAddress(a imap.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Addr())
	}
	return a.Addr()
}

// Send submits the reply over SMTP with STARTTLS and PLAIN auth.
func (t *IMAPTransport) Send(ctx context.Context, reply OutgoingReply) error {
	addr := fmt.Sprintf("%s:%d", t.account.SMTPHost, t.account.SMTPPort)

	c, err := smtp.DialStartTLS(addr, &tls.Config{ServerName: t.account.SMTPHost})
	if err != nil {
		return fmt.Errorf("connecting to SMTP %s: %w", addr, err)
	}
	defer c.Close()

	if err := c.Auth(sasl.NewPlainClient("", t.account.Email, t.account.Password)); err != nil {
		return &AuthError{Account: t.account.Email, Err: err}
	}

	from := t.account.Email
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(reply.To, nil); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(composeRFC822(reply)); err != nil {
		wc.Close()
		return fmt.Errorf("writing message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		slog.Warn("SMTP QUIT failed after send", "account", t.account.Email, "error", err)
	}
	return nil
}
