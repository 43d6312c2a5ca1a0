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

package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matta/julesnotify/internal/message"
	"github.com/matta/julesnotify/internal/status"
	"github.com/pkg/errors"
)

func rawMessage(subject, html string) string {
	return "From: Jules <jules-notifications@google.com>\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" + html
}

// fakeInbox is an in-memory mailbox that records every call.
type fakeInbox struct {
	mu sync.Mutex

	bodies     map[string]string
	order      []string
	searchErr  error
	getErr     map[string]error
	disposeErr map[string]error
	onDispose  func(id string)
	onSearch   func()
	profile    *message.Profile
	profileErr error

	searches     int
	disposed     []string
	dispositions []message.Disposition
}

func newFakeInbox(ids ...string) *fakeInbox {
	f := &fakeInbox{
		bodies:     map[string]string{},
		getErr:     map[string]error{},
		disposeErr: map[string]error{},
	}
	for _, id := range ids {
		f.order = append(f.order, id)
		f.bodies[id] = rawMessage("[Jules] Task "+id, "<p>Task "+id+" completed</p>")
	}
	return f
}

func (f *fakeInbox) Search(ctx context.Context, query string) ([]message.ID, error) {
	f.mu.Lock()
	f.searches++
	onSearch := f.onSearch
	f.mu.Unlock()
	if onSearch != nil {
		onSearch()
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var ids []message.ID
	for _, id := range f.order {
		ids = append(ids, message.ID{PermID: id})
	}
	return ids, nil
}

func (f *fakeInbox) GetMessageFull(ctx context.Context, id string) (*message.Body, error) {
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	return &message.Body{Header: message.Header{ID: message.ID{PermID: id}}, Raw: f.bodies[id]}, nil
}

func (f *fakeInbox) Dispose(ctx context.Context, id message.ID, d message.Disposition) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.onDispose != nil {
		f.onDispose(id.PermID)
	}
	if err := f.disposeErr[id.PermID]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = append(f.disposed, id.PermID)
	f.dispositions = append(f.dispositions, d)
	return nil
}

// profiledInbox adds GetProfile to a fakeInbox.
type profiledInbox struct {
	*fakeInbox
}

func (f profiledInbox) GetProfile(ctx context.Context) (*message.Profile, error) {
	return f.profile, f.profileErr
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []status.Record
	fail bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, rec status.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, rec)
	if d.fail {
		return errors.New("gateway unreachable")
	}
	return nil
}

type fakeMarkers struct {
	m      map[string]uint64
	writes int
}

func (f *fakeMarkers) Marker(ctx context.Context, mailbox, query string) (uint64, error) {
	return f.m[mailbox+" "+query], nil
}

func (f *fakeMarkers) SetMarker(ctx context.Context, mailbox, query string, id uint64) error {
	if f.m == nil {
		f.m = map[string]uint64{}
	}
	f.m[mailbox+" "+query] = id
	f.writes++
	return nil
}

func titles(recs []status.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Title)
	}
	return out
}

func TestRunOnceDisposeFailureDoesNotStopCycle(t *testing.T) {
	inbox := newFakeInbox("A", "B", "C")
	inbox.disposeErr["B"] = errors.New("server said no")
	d := &fakeDispatcher{}
	l := New(inbox, d, nil, Options{Query: "q", Action: message.Archive})

	got, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	want := Stats{Fetched: 3, Notified: 3, Disposed: 2, DisposeFailed: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RunOnce() stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Task A", "Task B", "Task C"}, titles(d.sent)); diff != "" {
		t.Errorf("dispatched titles mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "C"}, inbox.disposed); diff != "" {
		t.Errorf("disposed mismatch (-want +got):\n%s", diff)
	}
	for _, d := range inbox.dispositions {
		if d != message.Archive {
			t.Errorf("disposition = %v, want %v", d, message.Archive)
		}
	}

	// B is still in the inbox and is notified again next cycle.
	inbox.order = []string{"B"}
	delete(inbox.disposeErr, "B")
	if _, err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce() failed: %v", err)
	}
	if n := len(d.sent); n != 4 {
		t.Errorf("dispatched %d notifications over two cycles, want 4", n)
	}
	if got := l.Session(); got.Notified != 4 || got.Disposed != 3 {
		t.Errorf("Session() = %+v", got)
	}
}

func TestRunOnceEmptyInbox(t *testing.T) {
	inbox := newFakeInbox()
	d := &fakeDispatcher{}
	got, err := New(inbox, d, nil, Options{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if got != (Stats{}) {
		t.Errorf("RunOnce() = %+v, want zero stats", got)
	}
	if inbox.searches != 1 {
		t.Errorf("searches = %d, want 1", inbox.searches)
	}
	if len(d.sent) != 0 {
		t.Errorf("dispatched %d notifications, want 0", len(d.sent))
	}
}

func TestRunOnceDispatchFailureStillDisposes(t *testing.T) {
	inbox := newFakeInbox("A", "B")
	d := &fakeDispatcher{fail: true}
	got, err := New(inbox, d, nil, Options{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	want := Stats{Fetched: 2, DispatchFailed: 2, Disposed: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RunOnce() stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnceUnparseableMessageIsDisposed(t *testing.T) {
	inbox := newFakeInbox("A")
	inbox.bodies["A"] = "\x00 not a message at all"
	d := &fakeDispatcher{}
	got, err := New(inbox, d, nil, Options{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if got.Disposed != 1 || got.Notified != 1 {
		t.Errorf("RunOnce() = %+v, want one notified and disposed message", got)
	}
	if len(d.sent) == 1 && d.sent[0].Outcome != status.Unknown {
		t.Errorf("Outcome = %v, want %v", d.sent[0].Outcome, status.Unknown)
	}
}

func TestRunOnceFetchFailureSkipsDisposal(t *testing.T) {
	inbox := newFakeInbox("A", "B")
	inbox.getErr["A"] = errors.New("timeout")
	got, err := New(inbox, &fakeDispatcher{}, nil, Options{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	want := Stats{Fetched: 1, Notified: 1, Disposed: 1, Skipped: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RunOnce() stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, inbox.disposed); diff != "" {
		t.Errorf("disposed mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnceSuppressesTestMessages(t *testing.T) {
	inbox := newFakeInbox("A")
	inbox.bodies["A"] = rawMessage("julesnotify-test", "<p>done</p>")
	d := &fakeDispatcher{}
	got, err := New(inbox, d, nil, Options{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if got.Suppressed != 1 || got.Disposed != 1 || len(d.sent) != 0 {
		t.Errorf("RunOnce() = %+v with %d dispatched; want suppressed and disposed", got, len(d.sent))
	}
}

func TestRunOnceSearchFailure(t *testing.T) {
	inbox := newFakeInbox("A")
	inbox.searchErr = errors.New("503")
	d := &fakeDispatcher{}
	_, err := New(inbox, d, nil, Options{}).RunOnce(context.Background())
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("RunOnce() = %v, want a *FetchError", err)
	}
	if len(d.sent) != 0 || len(inbox.disposed) != 0 {
		t.Errorf("messages were processed after a failed search")
	}

	inbox.searchErr = &message.AuthError{Provider: "test", Err: errors.New("revoked")}
	_, err = New(inbox, d, nil, Options{}).RunOnce(context.Background())
	if !message.IsAuthError(err) {
		t.Errorf("RunOnce() = %v, want an AuthError", err)
	}
}

func TestRunOnceCancelledAfterDisposal(t *testing.T) {
	inbox := newFakeInbox("A", "B", "C")
	d := &fakeDispatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The interrupt arrives while A is being disposed of.
	inbox.onDispose = func(id string) {
		if id == "A" {
			cancel()
		}
	}
	got, err := New(inbox, d, nil, Options{}).RunOnce(ctx)
	if err != context.Canceled {
		t.Errorf("RunOnce() error = %v, want %v", err, context.Canceled)
	}
	want := Stats{Fetched: 1, Notified: 1, Disposed: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RunOnce() stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A"}, inbox.disposed); diff != "" {
		t.Errorf("disposed mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnceMarkerSkipsUnchangedMailbox(t *testing.T) {
	inbox := profiledInbox{newFakeInbox()}
	inbox.profile = &message.Profile{EmailAddress: "me@example.com", HistoryID: 100}
	markers := &fakeMarkers{}
	l := New(inbox, &fakeDispatcher{}, markers, Options{Query: "is:unread"})

	for i := 0; i < 3; i++ {
		if _, err := l.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() #%d failed: %v", i, err)
		}
	}
	if inbox.searches != 1 {
		t.Errorf("searches = %d, want 1", inbox.searches)
	}
	if markers.m["me@example.com is:unread"] != 100 || markers.writes != 1 {
		t.Errorf("markers = %+v, want one write of 100", markers)
	}

	inbox.profile = &message.Profile{EmailAddress: "me@example.com", HistoryID: 101}
	if _, err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if inbox.searches != 2 {
		t.Errorf("searches after mailbox change = %d, want 2", inbox.searches)
	}
}

func TestRunOnceMarkerIsPerQuery(t *testing.T) {
	inbox := profiledInbox{newFakeInbox()}
	inbox.profile = &message.Profile{EmailAddress: "me", HistoryID: 7}
	markers := &fakeMarkers{}
	if _, err := New(inbox, &fakeDispatcher{}, markers, Options{Query: "from:a"}).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce(from:a) failed: %v", err)
	}

	// Same history, new query: mail the old query ignored must be found.
	inbox.order = []string{"A"}
	inbox.bodies["A"] = rawMessage("[Jules] Task A", "<p>Task A completed</p>")
	d := &fakeDispatcher{}
	stats, err := New(inbox, d, markers, Options{Query: "from:b"}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce(from:b) failed: %v", err)
	}
	if inbox.searches != 2 || stats.Fetched != 1 || stats.Disposed != 1 {
		t.Errorf("searches = %d, stats = %v; want 2 searches and one message handled", inbox.searches, stats)
	}
	if markers.m["me from:a"] != 7 || markers.m["me from:b"] != 7 {
		t.Errorf("markers = %v, want both queries at 7", markers.m)
	}
}

func TestRunOnceMarkerNotWrittenAfterFailures(t *testing.T) {
	inbox := profiledInbox{newFakeInbox("A")}
	inbox.profile = &message.Profile{EmailAddress: "me", HistoryID: 7}
	inbox.disposeErr["A"] = errors.New("nope")
	markers := &fakeMarkers{}
	if _, err := New(inbox, &fakeDispatcher{}, markers, Options{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if markers.writes != 0 {
		t.Errorf("marker written after a failed disposal")
	}
}

func TestRunOnceProfileAuthError(t *testing.T) {
	inbox := profiledInbox{newFakeInbox("A")}
	inbox.profileErr = &message.AuthError{Provider: "test", Err: errors.New("expired")}
	_, err := New(inbox, &fakeDispatcher{}, &fakeMarkers{}, Options{}).RunOnce(context.Background())
	if !message.IsAuthError(err) {
		t.Errorf("RunOnce() = %v, want an AuthError", err)
	}
	if inbox.searches != 0 {
		t.Errorf("searched despite an authentication failure")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	inbox := newFakeInbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox.onSearch = func() {
		if inbox.searches == 3 {
			cancel()
		}
	}
	l := New(inbox, &fakeDispatcher{}, nil, Options{Interval: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Run() did not return after cancellation")
	}
	if inbox.searches != 3 {
		t.Errorf("searches = %d, want 3", inbox.searches)
	}
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	inbox := newFakeInbox()
	inbox.searchErr = &message.AuthError{Provider: "test", Err: errors.New("revoked")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox.onSearch = func() {
		if inbox.searches == 2 {
			cancel()
		}
	}
	// The first backoff step equals the interval.
	l := New(inbox, &fakeDispatcher{}, nil, Options{Interval: time.Millisecond})
	if err := l.Run(ctx); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if inbox.searches != 2 {
		t.Errorf("searches = %d, want 2", inbox.searches)
	}
}
