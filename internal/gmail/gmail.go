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

package gmail

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"time"

	"github.com/matta/julesnotify/internal/message"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// Reading, labeling and trashing messages.
	ModifyScope = gmail.GmailModifyScope

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsMessagesModify  = 5
	quotaUnitsMessagesTrash   = 5
	quotaUnitsPerGetProfile   = 1
	quotaUnitsPerMessagesList = 5

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond

	// Retries of a call rejected for exceeding the quota before
	// giving up, and the first wait between them.
	maxRateLimitRetries = 5
	rateLimitRetryWait  = time.Second

	provider = "gmail"
)

var (
	ErrMessageNotFound = errors.New("gmail message not found")
)

// GmailService provides access to messages stored in Google's GMail
// system.
type GmailService struct {
	service   *gmail.Service
	limiter   *rate.Limiter
	retryWait time.Duration
}

// New returns a service that makes requests with client, which must
// attach credentials to them.  Extra options are applied after
// client; tests use them to point the service at a fake endpoint.
func New(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*GmailService, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	s, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	l := rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
	return &GmailService{service: s, limiter: l, retryWait: rateLimitRetryWait}, nil
}

// authError converts errors that no retry can fix into
// message.AuthError.  Other errors are returned unchanged.
func authError(err error) error {
	if err == nil {
		return nil
	}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return &message.AuthError{Provider: provider, Err: err}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return &message.AuthError{Provider: provider, Err: err}
		case http.StatusForbidden:
			if !isRateLimited(gerr) {
				return &message.AuthError{Provider: provider, Err: err}
			}
		}
	}
	return err
}

// isRateLimited reports whether err asks the caller to slow down.
// GMail reports per-user limits as 403 as well as 429.
func isRateLimited(gerr *googleapi.Error) bool {
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// call runs do under the rate limiter.  Calls rejected for exceeding
// the quota are retried after an exponentially growing wait; any
// other error ends the call.
func (s *GmailService) call(ctx context.Context, units int, do func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryWait
	bo.MaxElapsedTime = 0

	op := func() error {
		if err := s.limiter.WaitN(ctx, units); err != nil {
			return backoff.Permanent(err)
		}
		err := do()
		var gerr *googleapi.Error
		if err != nil && !(errors.As(err, &gerr) && isRateLimited(gerr)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("gmail: rate limited, retrying in %v", wait)
	}
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, maxRateLimitRetries), ctx), notify)
	return authError(err)
}

// Search returns every message matching query, across all result
// pages.
func (s *GmailService) Search(ctx context.Context, query string) ([]message.ID, error) {
	var ids []message.ID
	err := s.call(ctx, quotaUnitsPerMessagesList, func() error {
		// A retry starts over from the first page.
		ids = nil
		req := s.service.Users.Messages.List("me").Q(query)
		return req.Pages(ctx, func(page *gmail.ListMessagesResponse) (err error) {
			for _, msg := range page.Messages {
				ids = append(ids, message.ID{PermID: msg.Id, ThreadID: msg.ThreadId})
			}
			if page.NextPageToken != "" {
				err = s.limiter.WaitN(ctx, quotaUnitsPerMessagesList)
			}
			return
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to search messages")
	}
	log.Printf("gmail: found %d messages matching %q", len(ids), query)
	return ids, nil
}

func (s *GmailService) getMessage(ctx context.Context, call *gmail.UsersMessagesGetCall) (*gmail.Message, error) {
	var msg *gmail.Message
	err := s.call(ctx, quotaUnitsMessagesGet, func() (err error) {
		msg, err = call.Do()
		return
	})
	if err == nil {
		return msg, nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		err = ErrMessageNotFound
	}
	return nil, err
}

// GetMessageFull fetches the complete RFC 2822 text of a message.
func (s *GmailService) GetMessageFull(ctx context.Context, id string) (*message.Body, error) {
	msg, err := s.getMessage(ctx, s.service.Users.Messages.Get("me", id).
		Context(ctx).Format("raw"))
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding message %v from gmail", id)
	}
	m := &message.Body{
		Header: message.Header{
			ID:           message.ID{PermID: msg.Id, ThreadID: msg.ThreadId},
			LabelIDs:     msg.LabelIds,
			HistoryID:    msg.HistoryId,
			SizeEstimate: msg.SizeEstimate},
		Raw: string(raw)}
	return m, nil
}

// decodeRaw accepts the URL safe base64 alphabet with or without
// padding.
func decodeRaw(s string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(s)
	}
	return raw, err
}

// Dispose trashes, archives or marks a message read.  Trashed
// messages are recoverable for thirty days.
func (s *GmailService) Dispose(ctx context.Context, id message.ID, d message.Disposition) error {
	msgs := s.service.Users.Messages
	var err error
	switch d {
	case message.Delete:
		err = s.call(ctx, quotaUnitsMessagesTrash, func() error {
			_, err := msgs.Trash("me", id.PermID).Context(ctx).Do()
			return err
		})
	case message.Archive, message.MarkRead:
		label := "INBOX"
		if d == message.MarkRead {
			label = "UNREAD"
		}
		req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{label}}
		err = s.call(ctx, quotaUnitsMessagesModify, func() error {
			_, err := msgs.Modify("me", id.PermID, req).Context(ctx).Do()
			return err
		})
	default:
		return errors.Errorf("unsupported disposition %v", d)
	}
	if err != nil {
		return errors.Wrapf(err, "%v of message %v failed", d, id.PermID)
	}
	return nil
}

func (s *GmailService) GetProfile(ctx context.Context) (*message.Profile, error) {
	var u *gmail.Profile
	err := s.call(ctx, quotaUnitsPerGetProfile, func() (err error) {
		u, err = s.service.Users.GetProfile("me").Context(ctx).Do()
		return
	})
	if err != nil {
		return nil, errors.Wrap(err, "getting gmail profile")
	}
	return &message.Profile{
		EmailAddress: u.EmailAddress,
		HistoryID:    u.HistoryId,
	}, nil
}
