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
	"regexp"
	"strings"

	giturls "github.com/whilp/git-urls"
)

const repoPath = `([A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+)`

var (
	labeledRepo  = regexp.MustCompile(`(?i)\brepo(?:sitory)?[:\s]+` + repoPath)
	trailingRepo = regexp.MustCompile(`(?i)` + repoPath + `\s+repository\b`)
	githubRepo   = regexp.MustCompile(`(?i)github\.com/` + repoPath)
	bareRepo     = regexp.MustCompile(`^` + repoPath + `$`)
	subjectRepo  = regexp.MustCompile(repoPath)
	textURL      = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	hasLetter    = regexp.MustCompile(`[A-Za-z]`)

	// First path segments on github.com that are not owners.
	githubReserved = map[string]bool{
		"about": true, "apps": true, "features": true, "login": true,
		"marketplace": true, "notifications": true, "orgs": true,
		"settings": true, "sponsors": true, "pricing": true,
	}
)

// findRepository tries, in order: a github.com link, a labeled field,
// a link whose text looks like owner/name, and any github.com path in
// the text.
func findRepository(doc document) string {
	for _, a := range doc.anchors {
		if repo := repoFromURL(a.href); repo != "" {
			return repo
		}
	}
	if m := labeledRepo.FindStringSubmatch(doc.text); m != nil {
		if repo := cleanRepo(m[1]); repo != "" {
			return repo
		}
	}
	for _, a := range doc.anchors {
		if m := bareRepo.FindStringSubmatch(a.text); m != nil {
			if repo := cleanRepo(m[1]); repo != "" {
				return repo
			}
		}
	}
	if m := trailingRepo.FindStringSubmatch(doc.text); m != nil {
		if repo := cleanRepo(m[1]); repo != "" {
			return repo
		}
	}
	if m := githubRepo.FindStringSubmatch(doc.text); m != nil {
		return cleanRepo(m[1])
	}
	return ""
}

// repoFromURL returns owner/name for GitHub repository URLs in any of
// the forms git understands (https, ssh, scp-like).
func repoFromURL(raw string) string {
	if !strings.Contains(strings.ToLower(raw), "github.com") {
		return ""
	}
	u, err := giturls.Parse(raw)
	if err != nil || !strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), "github.com") {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" || githubReserved[strings.ToLower(parts[0])] {
		return ""
	}
	return cleanRepo(parts[0] + "/" + parts[1])
}

func cleanRepo(repo string) string {
	repo = strings.TrimRight(repo, ".")
	repo = strings.TrimSuffix(repo, ".git")
	owner, name, ok := strings.Cut(repo, "/")
	// GitHub owner names never contain dots, host names always do.
	if !ok || owner == "" || name == "" || strings.Contains(owner, ".") {
		return ""
	}
	return repo
}

func repoFromSubject(subject string) string {
	for _, m := range subjectRepo.FindAllStringSubmatch(subject, -1) {
		if strings.HasPrefix(strings.ToLower(m[1]), "http") || !hasLetter.MatchString(m[1]) {
			continue // a URL or a date
		}
		if repo := cleanRepo(m[1]); repo != "" {
			return repo
		}
	}
	return ""
}

func isTaskLink(u string) bool {
	l := strings.ToLower(u)
	if !strings.HasPrefix(l, "http://") && !strings.HasPrefix(l, "https://") {
		return false
	}
	return strings.Contains(l, "jules") || strings.Contains(l, "github.com")
}

// findLink returns the first link to the agent or to GitHub.
func findLink(doc document) string {
	for _, a := range doc.anchors {
		if isTaskLink(a.href) {
			return a.href
		}
	}
	for _, u := range textURL.FindAllString(doc.text, -1) {
		u = strings.TrimRight(u, ".,;:")
		if isTaskLink(u) {
			return u
		}
	}
	return ""
}
