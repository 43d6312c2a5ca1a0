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

package message

// This file provides the common data objects used by the rest of the
// program.

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ID defines the properties that uniquely identify a message.
type ID struct {
	// The permanent and unique ID of a message in a storage
	// system.  Stable for as long as the message stays in the
	// mailbox.
	PermID string

	// The permanent and unique ID of a thread associated with the
	// message.  May be empty in storage systems that do not
	// support this concept.
	ThreadID string
}

// Header defines the metadata associated with a message.
type Header struct {
	// The message's permanent unique identifiers.
	ID

	// The current set of label identifiers associated with the
	// message.  These identifiers are not the user visible label
	// names!
	LabelIDs []string

	// An estimated size of the message (bytes).
	SizeEstimate int64

	// An opaque identifier naming the snapshot in time at which
	// this record was taken.  Values need not be monotonic.
	HistoryID uint64
}

// Body defines a complete message, including the message body.
type Body struct {
	Header

	// The entire email message in an RFC 2822 formatted string.
	Raw string
}

// Profile defines per-account information in a message mailbox.
type Profile struct {
	EmailAddress string

	// The ID of the mailbox's current history record.  Zero when
	// the storage system has no such concept.
	HistoryID uint64
}

// Disposition is the terminal operation applied to a processed
// message.
type Disposition int

const (
	Delete Disposition = iota
	Archive
	MarkRead
)

func (d Disposition) String() string {
	switch d {
	case Delete:
		return "delete"
	case Archive:
		return "archive"
	case MarkRead:
		return "mark-read"
	}
	return fmt.Sprintf("Disposition(%d)", int(d))
}

// ParseDisposition accepts the names used in configuration files.
// "trash" is an alias of delete and "read" an alias of mark-read.
func ParseDisposition(s string) (Disposition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delete", "trash":
		return Delete, nil
	case "archive":
		return Archive, nil
	case "read", "mark-read", "mark_read", "markread":
		return MarkRead, nil
	}
	return Delete, errors.Errorf("unknown disposition %q (want delete, archive or read)", s)
}

// AuthError reports that a mailbox rejected or lacks credentials.
// Retrying without operator action will not help.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err, or any error it wraps, is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
