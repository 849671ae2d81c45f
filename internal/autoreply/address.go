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

// Package autoreply decides whether an analysed message gets an
// autonomous reply and dispatches the reply when it does.
package autoreply

import (
	"regexp"
	"strings"
)

var addressRe = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w+`)

// NormalizeAddress extracts the bare lowercase address from a header value
// like "Jane Doe <jane@example.com>". A value without a recognisable
// address comes back lowercased and trimmed.
func NormalizeAddress(header string) string {
	lower := strings.ToLower(strings.TrimSpace(header))
	if m := addressRe.FindString(lower); m != "" {
		return m
	}
	return lower
}

// IsNoReplyAddress reports whether the sender is an unattended address
// that must never receive an autonomous reply.
func IsNoReplyAddress(header string) bool {
	lower := strings.ToLower(header)
	return strings.Contains(lower, "noreply") || strings.Contains(lower, "no-reply")
}
