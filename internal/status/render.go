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

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// anchor is an <a> element found in the body.
type anchor struct {
	href string
	text string
}

// document is the plain text rendering of a body plus its links.
type document struct {
	text    string
	anchors []anchor
}

var (
	// Elements whose content never reaches the reader.
	skipped = map[atom.Atom]bool{
		atom.Head:     true,
		atom.Script:   true,
		atom.Style:    true,
		atom.Noscript: true,
		atom.Template: true,
	}

	// Elements rendered on a line of their own.
	blocks = map[atom.Atom]bool{
		atom.Address: true, atom.Article: true, atom.Blockquote: true,
		atom.Br: true, atom.Div: true, atom.Footer: true, atom.H1: true,
		atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true,
		atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
		atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true,
		atom.Table: true, atom.Td: true, atom.Th: true, atom.Tr: true,
		atom.Ul: true,
	}

	blankLines = regexp.MustCompile(`\n{3,}`)
)

// render converts HTML into text.  Image alt text is kept so that
// status icons rendered as images still count as markers.
func render(raw string) document {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// Only reader errors are reported and a strings.Reader
		// has none; keep the raw text just in case.
		return document{text: raw}
	}

	var doc document
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			switch n.DataAtom {
			case atom.Img:
				if alt := attr(n, "alt"); alt != "" {
					sb.WriteString(" " + alt + " ")
				}
			case atom.A:
				if href := strings.TrimSpace(attr(n, "href")); href != "" {
					doc.anchors = append(doc.anchors, anchor{
						href: href,
						text: strings.Join(strings.Fields(textOf(n)), " "),
					})
				}
			}
		}
		block := n.Type == html.ElementNode && blocks[n.DataAtom]
		if block {
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			sb.WriteByte('\n')
		}
	}
	walk(root)

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	doc.text = strings.TrimSpace(text)
	return doc
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			sb.WriteString(attr(n, "alt"))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
