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
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	stdmail "net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cobalthq/mailwatch/internal/models"
)

const gmailUser = "me"

// recentFetchLimit bounds the catch-up window when a cursor is established
// or re-established.
const recentFetchLimit = 20

// TokenUpdate receives refreshed OAuth tokens so the account registry can
// persist them.
type TokenUpdate func(models.OAuthToken)

// GmailTransport is the incremental transport for OAuth accounts. It
// advances a Gmail history-id cursor between fetches; an expired cursor is
// re-baselined from the profile with a bounded recent fetch covering the
// gap.
type GmailTransport struct {
	svc     *gmail.Service
	account models.Account
}

// NewGmailTransport builds a Gmail transport for the account. Refreshed
// tokens are pushed through onRefresh; extra client options are accepted
// so tests can point the service at a fake server.
func NewGmailTransport(ctx context.Context, account models.Account, clientID, clientSecret string, onRefresh TokenUpdate, opts ...option.ClientOption) (*GmailTransport, error) {
	if account.OAuth == nil {
		return nil, fmt.Errorf("account %s has no OAuth token", account.Email)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope},
	}
	base := oauthCfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  account.OAuth.AccessToken,
		RefreshToken: account.OAuth.RefreshToken,
		Expiry:       account.OAuth.Expiry,
	})
	ts := &notifyingTokenSource{
		src:       base,
		last:      account.OAuth.AccessToken,
		onRefresh: onRefresh,
	}

	svc, err := gmail.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service for %s: %w", account.Email, err)
	}
	return &GmailTransport{svc: svc, account: account}, nil
}

// FetchNew returns messages added since the history cursor. An empty
// cursor baselines from the profile; a cursor the API no longer honours
// (HTTP 404) is re-baselined the same way within this call, so the caller
// always gets back a usable cursor.
func (t *GmailTransport) FetchNew(ctx context.Context, cursor string) ([]models.Message, string, error) {
	if cursor == "" {
		return t.baseline(ctx)
	}

	msgs, next, err := t.historySince(ctx, cursor)
	if err != nil {
		if isCursorExpired(err) {
			slog.Warn("gmail history cursor expired, re-baselining",
				"account", t.account.Email,
				"cursor", cursor,
			)
			return t.baseline(ctx)
		}
		return nil, cursor, t.mapErr(err)
	}
	return msgs, next, nil
}

// baseline establishes a fresh cursor from the mailbox profile and returns
// a bounded recent window so messages that arrived across the gap are not
// lost.
func (t *GmailTransport) baseline(ctx context.Context) ([]models.Message, string, error) {
	profile, err := t.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, "", t.mapErr(fmt.Errorf("get gmail profile: %w", err))
	}
	cursor := strconv.FormatUint(profile.HistoryId, 10)

	msgs, err := t.FetchRecent(ctx, recentFetchLimit)
	if err != nil {
		return nil, "", err
	}

	slog.Info("gmail cursor baselined",
		"account", t.account.Email,
		"cursor", cursor,
		"recent", len(msgs),
	)
	return msgs, cursor, nil
}

// historySince pages through the history list from the cursor and fetches
// every added message.
func (t *GmailTransport) historySince(ctx context.Context, cursor string) ([]models.Message, string, error) {
	start, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", &cursorExpiredError{}
	}

	var (
		ids       []string
		seen      = make(map[string]struct{})
		latest    = start
		pageToken string
	)

	for {
		call := t.svc.Users.History.List(gmailUser).
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
				return nil, "", &cursorExpiredError{}
			}
			return nil, "", fmt.Errorf("list gmail history: %w", err)
		}

		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, dup := seen[added.Message.Id]; dup {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				ids = append(ids, added.Message.Id)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	var msgs []models.Message
	for _, id := range ids {
		msg, err := t.getMessage(ctx, id)
		if err != nil {
			slog.Error("gmail message fetch failed",
				"account", t.account.Email,
				"provider_id", id,
				"error", err,
			)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, strconv.FormatUint(latest, 10), nil
}

// FetchRecent returns up to limit recent inbox messages, oldest first.
func (t *GmailTransport) FetchRecent(ctx context.Context, limit int) ([]models.Message, error) {
	resp, err := t.svc.Users.Messages.List(gmailUser).
		MaxResults(int64(limit)).
		Q("in:inbox -in:draft").
		Context(ctx).
		Do()
	if err != nil {
		return nil, t.mapErr(fmt.Errorf("list gmail messages: %w", err))
	}

	var msgs []models.Message
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		msg, err := t.getMessage(ctx, resp.Messages[i].Id)
		if err != nil {
			slog.Error("gmail message fetch failed",
				"account", t.account.Email,
				"provider_id", resp.Messages[i].Id,
				"error", err,
			)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// getMessage fetches one message in full form and converts it to the
// canonical shape. The dedup key is the RFC 822 Message-ID when present,
// with the synthetic gmail-id form carried as the alternate key; a message
// without a Message-ID header gets the synthetic form as its key.
func (t *GmailTransport) getMessage(ctx context.Context, id string) (models.Message, error) {
	gm, err := t.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return models.Message{}, t.mapErr(err)
	}

	msg := models.Message{
		ProviderID: gm.Id,
		ThreadID:   gm.ThreadId,
	}

	var messageID string
	if gm.Payload != nil {
		for _, h := range gm.Payload.Headers {
			switch h.Name {
			case "Message-ID", "Message-Id":
				messageID = strings.TrimSpace(h.Value)
			case "From":
				msg.From = h.Value
			case "To":
				msg.To = h.Value
			case "Subject":
				msg.Subject = h.Value
			case "Date":
				if d, err := stdmail.ParseDate(h.Value); err == nil {
					msg.Date = d
				}
			}
		}
	}
	if msg.Date.IsZero() && gm.InternalDate > 0 {
		msg.Date = time.UnixMilli(gm.InternalDate).UTC()
	}

	synthetic := fmt.Sprintf("<%s@gmail.com>", gm.Id)
	if messageID != "" {
		msg.DedupKey = bracketID(messageID)
		msg.AltKey = synthetic
	} else {
		msg.DedupKey = synthetic
	}

	text, htmlBody, attachments := extractGmailParts(gm.Payload)
	msg.TextBody = cleanBody(text, htmlBody)
	msg.HTMLBody = htmlBody
	msg.Attachments = attachments
	return msg, nil
}

// extractGmailParts walks the payload tree collecting the first text and
// HTML bodies plus attachment descriptors.
func extractGmailParts(payload *gmail.MessagePart) (textBody, htmlBody string, attachments []models.Attachment) {
	if payload == nil {
		return "", "", nil
	}

	if payload.Filename != "" {
		size := int64(0)
		if payload.Body != nil {
			size = payload.Body.Size
		}
		attachments = append(attachments, models.Attachment{
			Filename:    payload.Filename,
			ContentType: payload.MimeType,
			Size:        size,
		})
		return "", "", attachments
	}

	if payload.Body != nil && payload.Body.Data != "" {
		if data := decodeBase64URL(payload.Body.Data); data != nil {
			switch {
			case payload.MimeType == "text/plain":
				textBody = string(data)
			case payload.MimeType == "text/html":
				htmlBody = string(data)
			}
		}
	}

	for _, part := range payload.Parts {
		pt, ph, pa := extractGmailParts(part)
		if textBody == "" {
			textBody = pt
		}
		if htmlBody == "" {
			htmlBody = ph
		}
		attachments = append(attachments, pa...)
	}
	return textBody, htmlBody, attachments
}

func decodeBase64URL(data string) []byte {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b
	}
	return nil
}

// Send submits a reply as a raw RFC 2822 message, threaded into the
// conversation via the native thread id when known.
func (t *GmailTransport) Send(ctx context.Context, reply OutgoingReply) error {
	raw := composeRFC822(reply)
	gm := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}
	if reply.ThreadID != "" {
		gm.ThreadId = reply.ThreadID
	}

	_, err := t.svc.Users.Messages.Send(gmailUser, gm).Context(ctx).Do()
	if err != nil {
		return t.mapErr(fmt.Errorf("send gmail reply: %w", err))
	}
	return nil
}

// ThreadIDForMessage resolves the native thread id with a metadata-only
// fetch.
func (t *GmailTransport) ThreadIDForMessage(ctx context.Context, providerID string) (string, error) {
	gm, err := t.svc.Users.Messages.Get(gmailUser, providerID).Format("metadata").Context(ctx).Do()
	if err != nil {
		return "", t.mapErr(err)
	}
	return gm.ThreadId, nil
}

// mapErr promotes terminal credential failures to AuthError so the
// scheduler parks the account instead of retrying.
func (t *GmailTransport) mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" || rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
			return &AuthError{Account: t.account.Email, Err: err}
		}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized || strings.Contains(gerr.Body, "invalid_grant") {
			return &AuthError{Account: t.account.Email, Err: err}
		}
	}
	return err
}

// notifyingTokenSource wraps an oauth2 token source and reports each new
// access token exactly once.
type notifyingTokenSource struct {
	src       oauth2.TokenSource
	onRefresh TokenUpdate

	mu   sync.Mutex
	last string
}

func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.last
	if changed {
		s.last = tok.AccessToken
	}
	s.mu.Unlock()

	if changed && s.onRefresh != nil {
		s.onRefresh(models.OAuthToken{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		})
	}
	return tok, nil
}
