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

/*
Package status turns the HTML body of an agent notification email into
a typed status record.

Extraction never fails.  Bodies that carry no recognized marker
produce an Unknown outcome with a plain text summary, and fields that
cannot be found are left empty.
*/
package status

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/matta/julesnotify/internal/message"
)

// Outcome is the classified result of a status notification.
type Outcome int

const (
	Unknown Outcome = iota
	Completed
	Failed
	NeedsReview
)

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case NeedsReview:
		return "needs-review"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Record is the structured form of one notification email.  Records
// are plain values; two extractions of the same input compare equal.
type Record struct {
	Outcome Outcome

	// "owner/name", or empty when no repository was found.
	Repository string

	// A short plain text rendering of the body.
	Summary string

	// A link to the task or repository, or empty.
	Link string

	// The cleaned subject line.  Empty when extracted from a bare
	// body with Extract.
	Title string

	// Set for messages carrying the test marker.  They are
	// disposed of but never dispatched.
	Suppressed bool
}

const (
	// TestMarker in a subject or body suppresses dispatch.
	TestMarker = "julesnotify-test"

	maxSummaryRunes = 300
	defaultSummary  = "New notification"
	defaultTitle    = "Jules Notification"
)

var (
	// Checked in precedence order: failures are the most
	// actionable, so they win over everything else.
	markers = []struct {
		outcome Outcome
		re      *regexp.Regexp
	}{
		{Failed, regexp.MustCompile(`(?i)\b(failed|failure|errors?|unable to|could\s*n[o'’]t|unsuccessful(ly)?)\b|❌|⚠`)},
		{NeedsReview, regexp.MustCompile(`(?i)\b(review|reviews|needs? your input|needs input|waiting for|awaiting|pending|pull request|changes? ready)\b|👀`)},
		{Completed, regexp.MustCompile(`(?i)\b(completed?|finished|done|merged|successfully|succeeded)\b|✅`)},
	}

	subjectPrefixes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*\[jules\]\s*`),
		regexp.MustCompile(`(?i)^\s*jules:\s*`),
		regexp.MustCompile(`(?i)^\s*google jules\s*[-–—:]\s*`),
	}
)

// Extract classifies a raw HTML body.
func Extract(rawHTML string) Record {
	doc := render(rawHTML)
	return build("", rawHTML, doc)
}

// ExtractMessage classifies a decoded message.  The HTML part is
// preferred; a plain text part is used when there is none.  The
// subject takes part in classification and becomes the Title.
func ExtractMessage(p *message.Parsed) Record {
	var doc document
	raw := p.HTML
	if strings.TrimSpace(raw) != "" {
		doc = render(raw)
	} else {
		raw = p.Text
		doc = document{text: p.Text}
	}
	rec := build(p.Subject, raw, doc)
	rec.Title = CleanSubject(p.Subject)
	if rec.Repository == "" {
		rec.Repository = repoFromSubject(p.Subject)
	}
	return rec
}

func build(subject, raw string, doc document) Record {
	return Record{
		Outcome:    classify(subject + "\n" + doc.text),
		Repository: findRepository(doc),
		Summary:    summarize(doc.text),
		Link:       findLink(doc),
		Suppressed: strings.Contains(strings.ToLower(subject+raw), TestMarker),
	}
}

func classify(text string) Outcome {
	for _, m := range markers {
		if m.re.MatchString(text) {
			return m.outcome
		}
	}
	return Unknown
}

// CleanSubject strips the agent's prefixes from a subject line.
func CleanSubject(subject string) string {
	for _, re := range subjectPrefixes {
		subject = re.ReplaceAllString(subject, "")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return defaultTitle
	}
	return subject
}

func summarize(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	if len(lines) == 0 {
		return defaultSummary
	}
	s := strings.Join(lines, " ")
	if r := []rune(s); len(r) > maxSummaryRunes {
		s = string(r[:maxSummaryRunes-1]) + "…"
	}
	return s
}
