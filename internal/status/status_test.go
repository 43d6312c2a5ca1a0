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

package status

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/matta/julesnotify/internal/message"
)

func TestExtractCompletedWithRepoLink(t *testing.T) {
	body := `<html><head><style>p { color: red }</style></head><body>
<p>Task completed successfully</p>
<p><a href="https://github.com/org/repo">https://github.com/org/repo</a></p>
</body></html>`
	want := Record{
		Outcome:    Completed,
		Repository: "org/repo",
		Summary:    "Task completed successfully https://github.com/org/repo",
		Link:       "https://github.com/org/repo",
	}
	if diff := cmp.Diff(want, Extract(body)); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractOutcome(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Outcome
	}{
		{"completed", `<p>Your task is complete.</p>`, Completed},
		{"merged", `<p>The change was merged.</p>`, Completed},
		{"icon image", `<img src="x.png" alt="✅"> All set`, Completed},
		{"failed", `<p>Jules failed to run the tests.</p>`, Failed},
		{"could not", `<p>Jules couldn't apply the patch.</p>`, Failed},
		{"error", `<div>An error occurred</div>`, Failed},
		{"review", `<p>Your plan is ready for review.</p>`, NeedsReview},
		{"input", `<p>Jules needs your input to continue.</p>`, NeedsReview},
		{"nothing", `<p>Hello there.</p>`, Unknown},
		{"empty", ``, Unknown},
		{"incomplete is not complete", `<p>Incomplete notes</p>`, Unknown},
		{"style text ignored", `<style>.done{}</style><p>Hello</p>`, Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extract(tc.body).Outcome; got != tc.want {
				t.Errorf("Extract(%q).Outcome = %v, want %v", tc.body, got, tc.want)
			}
		})
	}
}

func TestExtractPrecedence(t *testing.T) {
	cases := []struct {
		body string
		want Outcome
	}{
		{`<p>Task completed</p><p>Build failed</p>`, Failed},
		{`<p>✅ Step one done</p><p>❌ Step two</p>`, Failed},
		{`<p>Completed the plan</p><p>Waiting for review</p>`, NeedsReview},
		{`<p>Review requested</p><p>Tests failed</p>`, Failed},
		{`<p>failed</p><p>needs your input</p><p>completed</p>`, Failed},
	}
	for _, tc := range cases {
		if got := Extract(tc.body).Outcome; got != tc.want {
			t.Errorf("Extract(%q).Outcome = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestExtractUnknownSummary(t *testing.T) {
	body := "<p>" + strings.Repeat("word ", 200) + "</p>"
	got := Extract(body)
	if got.Outcome != Unknown {
		t.Fatalf("Outcome = %v, want %v", got.Outcome, Unknown)
	}
	if n := utf8.RuneCountInString(got.Summary); n != maxSummaryRunes {
		t.Errorf("len(Summary) = %d runes, want %d", n, maxSummaryRunes)
	}
	if !strings.HasSuffix(got.Summary, "…") {
		t.Errorf("Summary = %q, want ellipsis suffix", got.Summary)
	}
	if got.Repository != "" || got.Link != "" {
		t.Errorf("Repository, Link = %q, %q; want empty", got.Repository, got.Link)
	}

	if got := Extract(""); got.Summary != defaultSummary {
		t.Errorf("Extract(\"\").Summary = %q, want %q", got.Summary, defaultSummary)
	}
}

func TestExtractMalformedHTML(t *testing.T) {
	for _, body := range []string{
		"<p>unterminated <b>bold",
		"<<<>>>&&&;",
		"\x00\xff\xfe",
		"</div></div></div>",
	} {
		got := Extract(body)
		if got.Outcome != Unknown {
			t.Errorf("Extract(%q).Outcome = %v, want %v", body, got.Outcome, Unknown)
		}
		if got.Summary == "" {
			t.Errorf("Extract(%q).Summary is empty", body)
		}
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	body := `<p>Jules failed on <a href="https://jules.google.com/task/123">task 123</a></p>
<p>Repository: acme/widgets</p>`
	first, second := Extract(body), Extract(body)
	if first != second {
		t.Errorf("Extract() not deterministic: %+v != %+v", first, second)
	}
}

func TestExtractRepository(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"github link", `<a href="https://github.com/acme/widgets/pull/7">PR</a>`, "acme/widgets"},
		{"git suffix", `<a href="git@github.com:acme/widgets.git">clone</a>`, "acme/widgets"},
		{"labeled", `<p>Repository: acme/widgets.</p>`, "acme/widgets"},
		{"anchor text", `<a href="https://jules.google.com/x">acme/widgets</a>`, "acme/widgets"},
		{"trailing label", `<p>Working in acme/widgets repository</p>`, "acme/widgets"},
		{"reserved path", `<a href="https://github.com/settings/notifications">prefs</a>`, ""},
		{"none", `<p>No repository here</p>`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extract(tc.body).Repository; got != tc.want {
				t.Errorf("Extract(%q).Repository = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}

func TestExtractLink(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`<a href="https://example.com">x</a><a href="https://jules.google.com/task/1">task</a>`, "https://jules.google.com/task/1"},
		{`<p>See https://github.com/acme/widgets/pull/3.</p>`, "https://github.com/acme/widgets/pull/3"},
		{`<a href="mailto:jules@google.com">mail</a>`, ""},
	}
	for _, tc := range cases {
		if got := Extract(tc.body).Link; got != tc.want {
			t.Errorf("Extract(%q).Link = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestExtractMessage(t *testing.T) {
	p := &message.Parsed{
		Subject: "[Jules] Plan ready in acme/widgets",
		Text:    "Jules has a plan for you.\nOpen it at https://jules.google.com/task/9\nPlease review it.",
	}
	want := Record{
		Outcome:    NeedsReview,
		Repository: "acme/widgets",
		Summary:    "Jules has a plan for you. Open it at https://jules.google.com/task/9 Please review it.",
		Link:       "https://jules.google.com/task/9",
		Title:      "Plan ready in acme/widgets",
	}
	if diff := cmp.Diff(want, ExtractMessage(p)); diff != "" {
		t.Errorf("ExtractMessage() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractMessageSubjectClassifies(t *testing.T) {
	p := &message.Parsed{Subject: "Jules: task failed", HTML: "<p>See details.</p>"}
	if got := ExtractMessage(p).Outcome; got != Failed {
		t.Errorf("ExtractMessage().Outcome = %v, want %v", got, Failed)
	}
}

func TestSuppressedTestMarker(t *testing.T) {
	if !Extract(`<p data-x="julesnotify-test">Task completed</p>`).Suppressed {
		t.Errorf("Suppressed = false for body with test marker")
	}
	if Extract(`<p>Task completed</p>`).Suppressed {
		t.Errorf("Suppressed = true for body without test marker")
	}
	p := &message.Parsed{Subject: "julesnotify-test", HTML: "<p>hi</p>"}
	if !ExtractMessage(p).Suppressed {
		t.Errorf("Suppressed = false for subject with test marker")
	}
}

func TestCleanSubject(t *testing.T) {
	cases := []struct{ in, want string }{
		{"[Jules] Task done", "Task done"},
		{"Jules: Task done", "Task done"},
		{"Google Jules - Task done", "Task done"},
		{"Task done", "Task done"},
		{"  ", defaultTitle},
		{"[Jules]", defaultTitle},
	}
	for _, tc := range cases {
		if got := CleanSubject(tc.in); got != tc.want {
			t.Errorf("CleanSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
