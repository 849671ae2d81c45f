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

package autoreply

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jane Doe <jane@example.com>", "jane@example.com"},
		{"jane@example.com", "jane@example.com"},
		{"JANE@EXAMPLE.COM", "jane@example.com"},
		{"  Jane <Jane.Doe+tag@Example.co.uk>  ", "jane.doe+tag@example.co.uk"},
		{"not an address", "not an address"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeAddress(c.in); got != c.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsNoReplyAddress(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"noreply@example.com", true},
		{"no-reply@example.com", true},
		{"Support <NoReply@example.com>", true},
		{"Newsletter <no-reply+news@example.com>", true},
		{"jane@example.com", false},
		{"reply@example.com", false},
	}
	for _, c := range cases {
		if got := IsNoReplyAddress(c.in); got != c.want {
			t.Errorf("IsNoReplyAddress(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"jane.doe@example.com", "Jane Doe"},
		{"jane_doe@example.com", "Jane Doe"},
		{"jane@example.com", "Jane"},
	}
	for _, c := range cases {
		if got := displayName(c.in); got != c.want {
			t.Errorf("displayName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
