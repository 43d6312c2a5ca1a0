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

// Command julesnotify watches a mailbox for Jules task notifications
// and forwards each one to an ntfy topic as a push notification.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matta/julesnotify/internal/config"
	"github.com/matta/julesnotify/internal/credential"
	"github.com/matta/julesnotify/internal/gmail"
	"github.com/matta/julesnotify/internal/gmailhttp"
	"github.com/matta/julesnotify/internal/homedir"
	"github.com/matta/julesnotify/internal/imap"
	"github.com/matta/julesnotify/internal/message"
	"github.com/matta/julesnotify/internal/ntfy"
	"github.com/matta/julesnotify/internal/persist"
	"github.com/matta/julesnotify/internal/poll"
	"github.com/matta/julesnotify/internal/tracehttp"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

const (
	// Encrypted file keyring used when the OS has no native one.
	keyringDir = "~/.config/julesnotify/keyring"

	gmailTokenKey = "gmail-token"
)

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "julesnotify",
		Usage: "forward Jules notification emails to ntfy",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "test",
				Usage: "send one test notification and exit",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "run a single poll cycle and exit",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:    "trace",
				Aliases: []string{"T"},
				Usage:   "log HTTP requests and responses",
			},
		},
		Action: run,
	}
}

func openKeyring() (*credential.Store, error) {
	dir, err := homedir.Expand(keyringDir)
	if err != nil {
		return nil, err
	}
	return credential.Open(dir)
}

func openGmail(ctx context.Context, cfg *config.Config, base http.RoundTripper) (poll.Inbox, error) {
	var store gmailhttp.TokenStore = gmailhttp.FileTokenStore{Path: cfg.TokenPath}
	if cfg.TokenStore == config.TokenStoreKeyring {
		ring, err := openKeyring()
		if err != nil {
			return nil, err
		}
		store = gmailhttp.KeyringTokenStore{Store: ring, Key: gmailTokenKey}
	}
	client, err := gmailhttp.New(ctx, gmailhttp.Options{
		CredentialsPath: cfg.GmailCredentials,
		Store:           store,
		Base:            base,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize GMail HTTP client")
	}
	s, err := gmail.New(ctx, client)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize GMail")
	}
	return s, nil
}

func openIMAP(cfg *config.Config) (poll.Inbox, error) {
	c := cfg.IMAP
	if c.Password == "" {
		ring, err := openKeyring()
		if err != nil {
			return nil, err
		}
		c.Password, err = ring.Get("imap:" + c.Username)
		if err != nil {
			return nil, &message.AuthError{
				Provider: "imap",
				Err: errors.Wrapf(err, "no password: set %s or store one in the keyring under %q",
					config.KeyIMAPPassword, "imap:"+c.Username),
			}
		}
	}
	return imap.New(c), nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return err
	}

	var base http.RoundTripper = http.DefaultTransport
	if cmd.Bool("trace") {
		base = tracehttp.Wrap(base)
	}
	notifier := ntfy.New(cfg.NtfyServer, cfg.NtfyTopic, &http.Client{
		Transport: base,
		Timeout:   10 * time.Second,
	})

	if cmd.Bool("test") {
		log.Printf("sending test notification to %s/%s", cfg.NtfyServer, cfg.NtfyTopic)
		if err := notifier.SendTest(ctx); err != nil {
			return errors.Wrap(err, "test notification failed")
		}
		log.Printf("test notification sent; check your ntfy app")
		return nil
	}

	var inbox poll.Inbox
	switch cfg.Provider {
	case config.ProviderIMAP:
		inbox, err = openIMAP(cfg)
	default:
		inbox, err = openGmail(ctx, cfg, base)
	}
	if err != nil {
		return err
	}

	var markers poll.MarkerStore
	if cfg.StatePath != "" {
		db, err := persist.Open(ctx, cfg.StatePath)
		if err != nil {
			return errors.Wrap(err, "unable to initialize database")
		}
		defer db.Close()
		markers = db
	}

	loop := poll.New(inbox, notifier, markers, poll.Options{
		Query:    cfg.Query,
		Action:   cfg.Action,
		Interval: cfg.PollInterval,
	})

	if cmd.Bool("once") {
		stats, err := loop.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "poll cycle failed")
		}
		log.Printf("processed %d emails", stats.Fetched)
		return nil
	}

	log.Printf("watching for %q every %v; notifications go to %s/%s",
		cfg.Query, cfg.PollInterval, cfg.NtfyServer, cfg.NtfyTopic)
	err = loop.Run(ctx)
	log.Printf("shutting down; processed %d emails this session", loop.Session().Fetched)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand().Run(ctx, os.Args)
	stop()
	if err != nil {
		log.Fatalf("Failed: %v", err)
	}
}
