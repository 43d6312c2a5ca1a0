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

package poll

// This file declares what the loop needs from the systems around it.

import (
	"context"

	"github.com/matta/julesnotify/internal/message"
	"github.com/matta/julesnotify/internal/status"
)

// MessageSearcher lists the messages matching a query, across all
// result pages.
type MessageSearcher interface {
	Search(ctx context.Context, query string) ([]message.ID, error)
}

// MessageGetter fetches the full text of a message.
type MessageGetter interface {
	GetMessageFull(ctx context.Context, id string) (*message.Body, error)
}

// MessageDisposer applies the terminal operation to a processed
// message.
type MessageDisposer interface {
	Dispose(ctx context.Context, id message.ID, d message.Disposition) error
}

// Inbox provides all the actions the loop takes on a mailbox.
type Inbox interface {
	MessageSearcher
	MessageGetter
	MessageDisposer
}

// MessageProfiler gets per account metadata from a message storage
// system.  Inboxes that implement it let the loop skip searches of
// an unchanged mailbox.
type MessageProfiler interface {
	GetProfile(ctx context.Context) (*message.Profile, error)
}

// Dispatcher delivers one status record to the user.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec status.Record) error
}

// MarkerStore remembers, per mailbox and search query, the mailbox
// history ID after the last cycle that left nothing behind.
type MarkerStore interface {
	Marker(ctx context.Context, mailbox, query string) (uint64, error)
	SetMarker(ctx context.Context, mailbox, query string, historyID uint64) error
}
