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
	"strings"
	"testing"
)

func TestTrimQuotedReply(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"original message marker",
			"Sounds good, see you then.\n\n---------- Original Message ----------\nFrom: jane@example.com\nHi there",
			"Sounds good, see you then.",
		},
		{
			"on wrote marker",
			"Yes, that works for me.\n\nOn Tue, 12 Aug 2026 at 10:00, Jane Doe wrote:\n> earlier text",
			"Yes, that works for me.",
		},
		{
			"angle quoted tail",
			"Agreed, thanks.\n> previous line one\n> previous line two",
			"Agreed, thanks.",
		},
		{
			"no quoting",
			"Just a plain message body.",
			"Just a plain message body.",
		},
		{
			"marker with nothing before it keeps full body",
			"On Tue, 12 Aug 2026 at 10:00, Jane Doe wrote:\n> the whole thing",
			"On Tue, 12 Aug 2026 at 10:00, Jane Doe wrote:\n> the whole thing",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := trimQuotedReply(c.in); got != c.want {
				t.Errorf("trimQuotedReply = %q, want %q", got, c.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p{color:red}</style></head><body><p>Hello &amp; welcome</p><script>alert(1)</script><p>second   line</p></body></html>`
	want := "Hello & welcome second line"
	if got := htmlToText(in); got != want {
		t.Errorf("htmlToText = %q, want %q", got, want)
	}
}

func TestCleanBody_HTMLFallback(t *testing.T) {
	got := cleanBody("", "<p>Only HTML here</p>")
	if got != "Only HTML here" {
		t.Errorf("cleanBody = %q", got)
	}
}

func TestBracketID(t *testing.T) {
	cases := map[string]string{
		"abc@example.com":   "<abc@example.com>",
		"<abc@example.com>": "<abc@example.com>",
		" abc@example.com ": "<abc@example.com>",
		"":                  "",
	}
	for in, want := range cases {
		if got := bracketID(in); got != want {
			t.Errorf("bracketID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComposeRFC822(t *testing.T) {
	raw := string(composeRFC822(OutgoingReply{
		From:      "me@example.com",
		To:        "jane@example.com",
		Subject:   "Re: Hello",
		Body:      "Thanks for reaching out.",
		InReplyTo: "orig@example.com",
	}))

	for _, want := range []string{
		"From: me@example.com\r\n",
		"To: jane@example.com\r\n",
		"Subject: Re: Hello\r\n",
		"In-Reply-To: <orig@example.com>\r\n",
		"References: <orig@example.com>\r\n",
		"Content-Type: text/plain; charset=\"UTF-8\"\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("composed message missing %q:\n%s", want, raw)
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\nThanks for reaching out.") {
		t.Errorf("body not separated from headers:\n%s", raw)
	}
}

// TestReferencesHeader verifies the chain keeps existing references and
// appends the answered id once.
func TestReferencesHeader(t *testing.T) {
	got := referencesHeader(OutgoingReply{
		InReplyTo:  "<c@x>",
		References: []string{"<a@x>", "b@x", "<c@x>"},
	})
	if got != "<a@x> <b@x> <c@x>" {
		t.Errorf("references = %q", got)
	}

	got = referencesHeader(OutgoingReply{
		InReplyTo:  "c@x",
		References: []string{"<a@x>"},
	})
	if got != "<a@x> <c@x>" {
		t.Errorf("references = %q", got)
	}
}
