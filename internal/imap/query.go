// Copyright 2026 The julesnotify Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package imap

import (
	"strings"
	"unicode"

	goimap "github.com/emersion/go-imap/v2"
)

// Criteria translates a GMail search query into IMAP search
// criteria, so that one query setting serves both providers.
//
// Supported: from:, to:, subject:, is:unread, is:read, is:starred,
// in:<mailbox> (ignored; the configured mailbox is searched), and
// bare words, which match anywhere in the message.  Values may be
// double quoted.  Other operators are treated as bare words.
func Criteria(query string) *goimap.SearchCriteria {
	c := &goimap.SearchCriteria{}
	for _, tok := range tokenize(query) {
		key, value, ok := strings.Cut(tok, ":")
		if !ok || value == "" {
			c.Text = append(c.Text, tok)
			continue
		}
		value = strings.Trim(value, `"`)
		switch strings.ToLower(key) {
		case "from", "to", "subject", "cc":
			c.Header = append(c.Header, goimap.SearchCriteriaHeaderField{
				Key:   headerName(key),
				Value: value,
			})
		case "is":
			switch strings.ToLower(value) {
			case "unread":
				c.NotFlag = append(c.NotFlag, goimap.FlagSeen)
			case "read":
				c.Flag = append(c.Flag, goimap.FlagSeen)
			case "starred":
				c.Flag = append(c.Flag, goimap.FlagFlagged)
			default:
				c.Text = append(c.Text, tok)
			}
		case "in":
		default:
			c.Text = append(c.Text, tok)
		}
	}
	return c
}

func headerName(key string) string {
	switch strings.ToLower(key) {
	case "from":
		return "From"
	case "to":
		return "To"
	case "cc":
		return "Cc"
	}
	return "Subject"
}

// tokenize splits on white space outside double quotes.
func tokenize(query string) []string {
	var toks []string
	var sb strings.Builder
	quoted := false
	for _, r := range query {
		switch {
		case r == '"':
			quoted = !quoted
			sb.WriteRune(r)
		case unicode.IsSpace(r) && !quoted:
			if sb.Len() > 0 {
				toks = append(toks, sb.String())
				sb.Reset()
			}
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		toks = append(toks, sb.String())
	}
	for i, tok := range toks {
		if !strings.Contains(tok, ":") {
			toks[i] = strings.Trim(tok, `"`)
		}
	}
	return toks
}
