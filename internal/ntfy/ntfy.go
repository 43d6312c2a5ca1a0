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
Package ntfy publishes status notifications to an ntfy push gateway.

A topic is an unauthenticated routing key: anyone who knows it can
publish to it and subscribe to it, so topics should be hard to guess.

Messages are published with ntfy's JSON API, a single POST to the
server root, which keeps UTF-8 titles intact.
*/
package ntfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/matta/julesnotify/internal/status"
	"github.com/pkg/errors"
)

// ntfy priorities used for status notifications.
const (
	PriorityLow     = 2
	PriorityDefault = 3
	PriorityHigh    = 4
)

const (
	DefaultServer  = "https://ntfy.sh"
	defaultTimeout = 10 * time.Second

	// Response bodies are only read for error messages.
	maxErrorBody = 512
)

type style struct {
	icon     string
	priority int
	tags     []string
}

var styles = map[status.Outcome]style{
	status.Completed:   {"✅", PriorityLow, []string{"white_check_mark", "jules"}},
	status.Failed:      {"❌", PriorityHigh, []string{"x", "jules", "warning"}},
	status.NeedsReview: {"👀", PriorityDefault, []string{"eyes", "jules"}},
	status.Unknown:     {"🔔", PriorityDefault, []string{"bell", "jules"}},
}

func styleOf(o status.Outcome) style {
	if s, ok := styles[o]; ok {
		return s
	}
	return styles[status.Unknown]
}

// Action is an ntfy action button.
type Action struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
	Clear  bool   `json:"clear,omitempty"`
}

// Notification is the JSON body accepted by ntfy's publish endpoint.
type Notification struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Click    string   `json:"click,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// Client publishes to one topic on one server.
type Client struct {
	server string
	topic  string
	http   *http.Client
}

// New returns a client for the given server base URL and topic.  A
// nil httpClient selects a client with a ten second timeout.
func New(server, topic string, httpClient *http.Client) *Client {
	if server == "" {
		server = DefaultServer
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		server: strings.TrimRight(server, "/"),
		topic:  topic,
		http:   httpClient,
	}
}

// Build formats a status record as a notification.
func (c *Client) Build(rec status.Record) Notification {
	st := styleOf(rec.Outcome)
	title := rec.Title
	if title == "" {
		title = "Task " + rec.Outcome.String()
	}

	var parts []string
	if rec.Repository != "" {
		parts = append(parts, "📦 Repo: "+rec.Repository)
	}
	if rec.Summary != "" {
		parts = append(parts, rec.Summary)
	}
	if rec.Link != "" {
		parts = append(parts, "\n🔗 "+rec.Link)
	}
	body := strings.Join(parts, "\n")
	if body == "" {
		body = "New update from Jules"
	}

	n := Notification{
		Topic:    c.topic,
		Title:    fmt.Sprintf("%s Jules: %s", st.icon, title),
		Message:  body,
		Priority: st.priority,
		Tags:     st.tags,
	}
	if rec.Link != "" {
		n.Click = rec.Link
		n.Actions = []Action{{Action: "view", Label: "Open in Browser", URL: rec.Link}}
	}
	return n
}

// Dispatch publishes one record.  Any transport failure or non-2xx
// response is returned as an error; nothing is retried.
func (c *Client) Dispatch(ctx context.Context, rec status.Record) error {
	return c.Publish(ctx, c.Build(rec))
}

// SendTest publishes a synthetic notification to check delivery.
func (c *Client) SendTest(ctx context.Context) error {
	return c.Dispatch(ctx, status.Record{
		Outcome: status.Completed,
		Title:   "Connection Test",
		Summary: "Jules Notifier is connected and working!\n" +
			"You will receive notifications here when Jules updates arrive.",
	})
}

// Publish sends a notification as a single POST request.
func (c *Client) Publish(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server, bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "building request for %s", c.server)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "could not reach ntfy server at %s", c.server)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return errors.Errorf("ntfy publish failed: HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	// Drain so the connection can be reused.
	io.Copy(io.Discard, res.Body)
	log.Printf("ntfy: notification sent: %s", n.Title)
	return nil
}
