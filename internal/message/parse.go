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

package message

import (
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	// Registers decoders for non UTF-8 charsets.
	_ "github.com/emersion/go-message/charset"
)

// Parsed is the decoded view of a raw RFC 2822 message.
type Parsed struct {
	Subject string
	From    string

	// The last text/html part, or empty.
	HTML string

	// The last text/plain part, or empty.
	Text string
}

// Parse decodes the MIME structure of a raw message.
//
// Parse always returns a usable *Parsed.  A non-nil error reports
// that the message could not be decoded, in which case the raw text
// is returned as the plain text body.
func Parse(raw string) (*Parsed, error) {
	// The GMail API delivers messages with \r\n line endings, IMAP
	// servers usually do too.  go-message accepts both.
	mr, err := mail.CreateReader(strings.NewReader(raw))
	if mr == nil {
		return &Parsed{Text: raw}, errors.Wrap(err, "parsing message header")
	}
	defer mr.Close()

	p := &Parsed{}
	if subject, err := mr.Header.Subject(); err == nil {
		p.Subject = subject
	} else {
		p.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.From = from[0].Address
	} else {
		p.From = mr.Header.Get("From")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if p.HTML == "" && p.Text == "" {
				p.Text = raw
				return p, errors.Wrap(err, "reading message part")
			}
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachment
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/html"):
			p.HTML = string(body)
		case strings.HasPrefix(contentType, "text/plain"), contentType == "":
			p.Text = string(body)
		}
	}
	return p, nil
}
