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
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/cobalthq/mailwatch/internal/models"
)

// quoteMarkers match the start of quoted original content in reply bodies.
var quoteMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-{4,}\s*Original\s*Message\s*-{4,}`),
	regexp.MustCompile(`(?im)^On\s+.{0,200}?\s+wrote:`),
	regexp.MustCompile(`(?i)Le\s+.{0,200}?\s+a\s+écrit\s*:`),
	regexp.MustCompile(`(?im)^From:\s*.+$`),
}

var (
	htmlTagRe        = regexp.MustCompile(`<[^>]+>`)
	htmlStripBlockRe = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// trimQuotedReply strips quoted original content from a reply body so
// downstream analysis sees only the new text. The full body is kept when
// trimming would leave nothing meaningful.
func trimQuotedReply(body string) string {
	markerMatched := false
	for _, re := range quoteMarkers {
		loc := re.FindStringIndex(body)
		if loc == nil {
			continue
		}
		markerMatched = true
		if candidate := strings.TrimSpace(body[:loc[0]]); len(candidate) > 5 {
			return candidate
		}
	}
	if markerMatched {
		// A marker with nothing meaningful before it; keep the full body.
		return body
	}

	// No marker. Bodies whose tail is "> " quoting keep the leading
	// unquoted lines; bodies that open with quoting are kept whole.
	if strings.HasPrefix(strings.TrimSpace(body), ">") {
		return body
	}
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			break
		}
		kept = append(kept, line)
	}
	if candidate := strings.TrimSpace(strings.Join(kept, "\n")); len(candidate) > 5 && candidate != strings.TrimSpace(body) {
		return candidate
	}
	return body
}

// htmlToText degrades an HTML body to plain text: scripts and styles
// removed, tags stripped, entities decoded, whitespace collapsed.
func htmlToText(htmlBody string) string {
	text := htmlStripBlockRe.ReplaceAllString(htmlBody, " ")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// parseMIMEBody parses a raw RFC 2822 message and extracts the plain-text
// body, HTML body, and attachment metadata. A message that cannot be
// parsed as MIME is treated as a bare text body.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, attachments []models.Attachment) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, models.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
			})
		}
	}

	return textBody, htmlBody, attachments
}

// cleanBody produces the analysis-ready text body from the parsed parts.
// Text is preferred; an HTML-only message is degraded to text.
func cleanBody(textBody, htmlBody string) string {
	body := textBody
	if strings.TrimSpace(body) == "" && htmlBody != "" {
		body = htmlToText(htmlBody)
	}
	return trimQuotedReply(body)
}
