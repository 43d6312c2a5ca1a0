// Copyright 2019 Google LLC
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
Package poll drives the notifier: search the inbox, turn each message
into a status record, dispatch it, and dispose of the message.

Each message is an independent unit of failure.  A message that was
fetched is always disposed of, whether or not it parsed or its
notification was delivered; a message whose disposal fails is simply
found again by the next cycle.  Delivery is therefore at least once.

Cancellation is only observed between messages.  The calls made for
one message run on a context detached from cancellation, bounded by
their own timeout, so an interrupt never leaves a message notified
but not disposed of.
*/
package poll

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/matta/julesnotify/internal/message"
	"github.com/matta/julesnotify/internal/status"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultMessageTimeout = 2 * time.Minute

	// Ceiling for the wait between cycles after authentication
	// failures.
	maxAuthBackoff = 30 * time.Minute
)

// Options configure a Loop.
type Options struct {
	Query    string
	Action   message.Disposition
	Interval time.Duration

	// Bounds each inbox or dispatcher call.
	MessageTimeout time.Duration
}

// Stats count what happened to the messages of one or more cycles.
type Stats struct {
	Fetched        int
	Notified       int
	Suppressed     int
	DispatchFailed int
	Disposed       int
	DisposeFailed  int

	// Messages whose body could not be fetched.  They are left
	// in place.
	Skipped int
}

func (s *Stats) add(o Stats) {
	s.Fetched += o.Fetched
	s.Notified += o.Notified
	s.Suppressed += o.Suppressed
	s.DispatchFailed += o.DispatchFailed
	s.Disposed += o.Disposed
	s.DisposeFailed += o.DisposeFailed
	s.Skipped += o.Skipped
}

func (s Stats) String() string {
	return fmt.Sprintf("fetched %d, notified %d, suppressed %d, dispatch failed %d, "+
		"disposed %d, dispose failed %d, skipped %d",
		s.Fetched, s.Notified, s.Suppressed, s.DispatchFailed,
		s.Disposed, s.DisposeFailed, s.Skipped)
}

// FetchError reports that the inbox could not be searched.  No
// message was processed in that cycle.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching messages: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Loop processes notification mail.  A Loop runs one cycle at a time;
// it is not safe for concurrent use.
type Loop struct {
	inbox      Inbox
	dispatcher Dispatcher
	markers    MarkerStore
	opts       Options

	session Stats
}

// New returns a loop.  markers may be nil, in which case every cycle
// searches the inbox.
func New(inbox Inbox, dispatcher Dispatcher, markers MarkerStore, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = DefaultMessageTimeout
	}
	return &Loop{
		inbox:      inbox,
		dispatcher: dispatcher,
		markers:    markers,
		opts:       opts,
	}
}

// Session returns the totals of every cycle run so far.
func (l *Loop) Session() Stats {
	return l.session
}

// call runs f on a context that ignores ctx's cancellation but keeps
// its values, with the per-message timeout.
func (l *Loop) call(ctx context.Context, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.MessageTimeout)
	defer cancel()
	return f(ctx)
}

// profile returns the mailbox profile, or nil when the inbox or the
// loop has no use for one.
func (l *Loop) profile(ctx context.Context) (*message.Profile, error) {
	profiler, ok := l.inbox.(MessageProfiler)
	if !ok || l.markers == nil {
		return nil, nil
	}
	var p *message.Profile
	err := l.call(ctx, func(ctx context.Context) (err error) {
		p, err = profiler.GetProfile(ctx)
		return
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// unchanged reports whether the mailbox is known to hold nothing new
// for the configured query.
func (l *Loop) unchanged(ctx context.Context, p *message.Profile) bool {
	if p == nil || p.HistoryID == 0 {
		return false
	}
	var stored uint64
	err := l.call(ctx, func(ctx context.Context) (err error) {
		stored, err = l.markers.Marker(ctx, p.EmailAddress, l.opts.Query)
		return
	})
	if err != nil {
		log.Printf("poll: reading marker: %v", err)
		return false
	}
	return stored == p.HistoryID
}

// RunOnce runs a single cycle.  It returns a *FetchError when the
// search fails, and ctx's error when cancelled before every message
// was handled.
func (l *Loop) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	defer func() { l.session.add(stats) }()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	p, err := l.profile(ctx)
	if err != nil {
		if message.IsAuthError(err) {
			return stats, &FetchError{Err: err}
		}
		log.Printf("poll: reading mailbox profile: %v", err)
	}
	if l.unchanged(ctx, p) {
		log.Printf("poll: mailbox unchanged since history %d; nothing to do", p.HistoryID)
		return stats, nil
	}

	var ids []message.ID
	err = l.call(ctx, func(ctx context.Context) (err error) {
		ids, err = l.inbox.Search(ctx, l.opts.Query)
		return
	})
	if err != nil {
		return stats, &FetchError{Err: err}
	}
	if len(ids) == 0 {
		log.Printf("poll: no new notifications")
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			log.Printf("poll: stopping with %d of %d messages unprocessed", len(ids)-i, len(ids))
			return stats, err
		}
		l.process(ctx, id, &stats)
	}

	if len(ids) > 0 {
		log.Printf("poll: cycle done: %v", stats)
	}
	if p != nil && stats.DisposeFailed == 0 && stats.Skipped == 0 {
		err := l.call(ctx, func(ctx context.Context) error {
			return l.markers.SetMarker(ctx, p.EmailAddress, l.opts.Query, p.HistoryID)
		})
		if err != nil {
			log.Printf("poll: writing marker: %v", err)
		}
	}
	return stats, nil
}

// process handles one message: fetch, extract, dispatch, dispose.
func (l *Loop) process(ctx context.Context, id message.ID, stats *Stats) {
	var body *message.Body
	err := l.call(ctx, func(ctx context.Context) (err error) {
		body, err = l.inbox.GetMessageFull(ctx, id.PermID)
		return
	})
	if err != nil {
		// Not fetched, so not disposed of: the next cycle retries.
		log.Printf("poll: skipping message %v: %v", id.PermID, err)
		stats.Skipped++
		return
	}
	stats.Fetched++

	parsed, err := message.Parse(body.Raw)
	if err != nil {
		log.Printf("poll: message %v is not valid MIME, using raw text: %v", id.PermID, err)
	}
	rec := status.ExtractMessage(parsed)

	switch {
	case rec.Suppressed:
		log.Printf("poll: message %v is a test message; not notifying", id.PermID)
		stats.Suppressed++
	default:
		err := l.call(ctx, func(ctx context.Context) error {
			return l.dispatcher.Dispatch(ctx, rec)
		})
		if err != nil {
			log.Printf("poll: notifying for message %v: %v", id.PermID, err)
			stats.DispatchFailed++
		} else {
			log.Printf("poll: notified %v for message %v", rec.Outcome, id.PermID)
			stats.Notified++
		}
	}

	err = l.call(ctx, func(ctx context.Context) error {
		return l.inbox.Dispose(ctx, id, l.opts.Action)
	})
	if err != nil {
		log.Printf("poll: %v", err)
		stats.DisposeFailed++
		return
	}
	stats.Disposed++
}

// Run repeats RunOnce every interval until ctx is cancelled, which is
// not an error.  Authentication failures back off exponentially up to
// thirty minutes; any other failure waits for the next interval.
func (l *Loop) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.opts.Interval
	bo.MaxInterval = maxAuthBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		_, err := l.RunOnce(ctx)
		wait := l.opts.Interval
		switch {
		case ctx.Err() != nil:
			return nil
		case message.IsAuthError(err):
			wait = bo.NextBackOff()
			log.Printf("poll: %v; fix the credentials, retrying in %v", err, wait)
		case err != nil:
			bo.Reset()
			log.Printf("poll: %v; retrying in %v", err, wait)
		default:
			bo.Reset()
		}
		timer.Reset(wait)
	}
}
