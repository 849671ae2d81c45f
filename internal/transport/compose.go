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
	"fmt"
	"strings"
	"time"
)

// bracketID normalises a Message-ID to its bracketed wire form.
func bracketID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "<") {
		id = "<" + id
	}
	if !strings.HasSuffix(id, ">") {
		id = id + ">"
	}
	return id
}

// composeRFC822 renders an outgoing reply as a raw RFC 2822 message with
// threading headers.
func composeRFC822(reply OutgoingReply) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", reply.From)
	fmt.Fprintf(&b, "To: %s\r\n", reply.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", reply.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if reply.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", bracketID(reply.InReplyTo))
	}
	if refs := referencesHeader(reply); refs != "" {
		fmt.Fprintf(&b, "References: %s\r\n", refs)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(reply.Body)

	return []byte(b.String())
}

// referencesHeader builds the References chain, appending the answered
// message's id when the chain does not already end with it.
func referencesHeader(reply OutgoingReply) string {
	var refs []string
	for _, r := range reply.References {
		if r = bracketID(r); r != "" {
			refs = append(refs, r)
		}
	}
	if irt := bracketID(reply.InReplyTo); irt != "" {
		if len(refs) == 0 || refs[len(refs)-1] != irt {
			refs = append(refs, irt)
		}
	}
	return strings.Join(refs, " ")
}
