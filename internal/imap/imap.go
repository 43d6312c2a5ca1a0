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

// Package imap reads notification mail from any IMAP server.
//
// Each operation opens its own connection, selects the mailbox, and
// logs out.  Polls are infrequent and small, so there is no session
// to keep alive or recover.
package imap

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/matta/julesnotify/internal/message"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/pkg/errors"
)

const (
	provider = "imap"

	DefaultPort    = 993
	DefaultMailbox = "INBOX"
	DefaultArchive = "Archive"

	dialTimeout = 30 * time.Second
)

var (
	ErrMessageNotFound = errors.New("imap message not found")
)

// Config names an IMAP account.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Implicit TLS when true, STARTTLS otherwise.
	TLS bool

	// Mailbox searched for notifications.
	Mailbox string

	// Destination of archived messages.
	Archive string
}

// Service provides access to messages in one IMAP mailbox.
// Message IDs are UIDs in decimal.
type Service struct {
	cfg Config
}

func New(cfg Config) *Service {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = DefaultMailbox
	}
	if cfg.Archive == "" {
		cfg.Archive = DefaultArchive
	}
	return &Service{cfg: cfg}
}

func (s *Service) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// connect dials, logs in and selects the mailbox.  The connection
// inherits ctx's deadline.
func (s *Service) connect(ctx context.Context) (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var conn net.Conn
	var err error
	if s.cfg.TLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", s.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.addr())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to IMAP %s", s.addr())
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var client *imapclient.Client
	if s.cfg.TLS {
		client = imapclient.New(conn, nil)
	} else {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "starting TLS with %s", s.addr())
		}
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, &message.AuthError{
			Provider: provider,
			Err:      errors.Wrapf(err, "login as %s", s.cfg.Username),
		}
	}
	if _, err := client.Select(s.cfg.Mailbox, nil).Wait(); err != nil {
		logout(client)
		return nil, errors.Wrapf(err, "selecting %s", s.cfg.Mailbox)
	}
	return client, nil
}

func logout(client *imapclient.Client) {
	if err := client.Logout().Wait(); err != nil {
		log.Printf("imap: logout failed: %v", err)
	}
	client.Close()
}

func parseUID(id string) (goimap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, errors.Errorf("invalid IMAP message id %q", id)
	}
	return goimap.UID(n), nil
}

// Search returns the UIDs of messages matching a GMail style query.
// See Criteria for the supported operators.
func (s *Service) Search(ctx context.Context, query string) ([]message.ID, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer logout(client)

	data, err := client.UIDSearch(Criteria(query), nil).Wait()
	if err != nil {
		return nil, errors.Wrap(err, "searching messages")
	}
	var ids []message.ID
	for _, uid := range data.AllUIDs() {
		ids = append(ids, message.ID{PermID: strconv.FormatUint(uint64(uid), 10)})
	}
	log.Printf("imap: found %d messages matching %q", len(ids), query)
	return ids, nil
}

// GetMessageFull fetches the complete RFC 2822 text of a message
// without setting \Seen.
func (s *Service) GetMessageFull(ctx context.Context, id string) (*message.Body, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer logout(client)

	section := &goimap.FetchItemBodySection{Peek: true}
	msgs, err := client.Fetch(goimap.UIDSetNum(uid), &goimap.FetchOptions{
		UID:         true,
		RFC822Size:  true,
		BodySection: []*goimap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, errors.Wrapf(err, "fetching message %v", id)
	}
	if len(msgs) == 0 {
		return nil, errors.Wrapf(ErrMessageNotFound, "fetching message %v", id)
	}
	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, errors.Errorf("fetching message %v: server returned no body", id)
	}
	return &message.Body{
		Header: message.Header{
			ID:           message.ID{PermID: id},
			SizeEstimate: msgs[0].RFC822Size,
		},
		Raw: string(raw),
	}, nil
}

// Dispose expunges, moves to the archive mailbox, or sets \Seen.
func (s *Service) Dispose(ctx context.Context, id message.ID, d message.Disposition) error {
	uid, err := parseUID(id.PermID)
	if err != nil {
		return err
	}
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer logout(client)

	set := goimap.UIDSetNum(uid)
	switch d {
	case message.Delete:
		err = s.store(client, set, goimap.FlagDeleted)
		if err == nil {
			// Without UIDPLUS, EXPUNGE also removes any other
			// message already flagged \Deleted.
			if client.Caps().Has(goimap.CapUIDPlus) {
				err = client.UIDExpunge(set).Close()
			} else {
				err = client.Expunge().Close()
			}
		}
	case message.Archive:
		_, err = client.Move(set, s.cfg.Archive).Wait()
	case message.MarkRead:
		err = s.store(client, set, goimap.FlagSeen)
	default:
		return errors.Errorf("unsupported disposition %v", d)
	}
	if err != nil {
		return errors.Wrapf(err, "%v of message %v failed", d, id.PermID)
	}
	return nil
}

func (s *Service) store(client *imapclient.Client, set goimap.UIDSet, flag goimap.Flag) error {
	return client.Store(set, &goimap.StoreFlags{
		Op:     goimap.StoreFlagsAdd,
		Silent: true,
		Flags:  []goimap.Flag{flag},
	}, nil).Close()
}
