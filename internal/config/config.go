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

// Package config reads the notifier's settings from the environment
// and an optional .env file.  Settings are read once at startup and
// never change afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matta/julesnotify/internal/homedir"
	"github.com/matta/julesnotify/internal/imap"
	"github.com/matta/julesnotify/internal/message"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Keys, as environment variable names.
const (
	KeyNtfyTopic        = "NTFY_TOPIC"
	KeyNtfyServer       = "NTFY_SERVER"
	KeyPollInterval     = "POLL_INTERVAL"
	KeyEmailAction      = "EMAIL_ACTION"
	KeyGmailQuery       = "GMAIL_QUERY"
	KeyInboxProvider    = "INBOX_PROVIDER"
	KeyGmailCredentials = "GMAIL_CREDENTIALS"
	KeyTokenStore       = "TOKEN_STORE"
	KeyTokenPath        = "TOKEN_PATH"
	KeyStatePath        = "STATE_PATH"
	KeyIMAPHost         = "IMAP_HOST"
	KeyIMAPPort         = "IMAP_PORT"
	KeyIMAPUsername     = "IMAP_USERNAME"
	KeyIMAPPassword     = "IMAP_PASSWORD"
	KeyIMAPMailbox      = "IMAP_MAILBOX"
	KeyIMAPTLS          = "IMAP_TLS"
	KeyIMAPArchive      = "IMAP_ARCHIVE"
)

const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"

	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"

	// The topic shipped in the example .env file.
	PlaceholderTopic = "jules-notify-CHANGE-ME"

	// STATE_PATH value that disables the state database.
	StateDisabled = "none"
)

var defaults = map[string]interface{}{
	KeyNtfyServer:       "https://ntfy.sh",
	KeyPollInterval:     "30",
	KeyEmailAction:      "delete",
	KeyGmailQuery:       "from:jules-notifications@google.com is:unread",
	KeyInboxProvider:    ProviderGmail,
	KeyGmailCredentials: "credentials.json",
	KeyTokenStore:       TokenStoreFile,
	KeyTokenPath:        "token.json",
	KeyStatePath:        "~/.julesnotify.db",
	KeyIMAPPort:         strconv.Itoa(imap.DefaultPort),
	KeyIMAPMailbox:      imap.DefaultMailbox,
	KeyIMAPTLS:          "true",
	KeyIMAPArchive:      imap.DefaultArchive,
}

// Error is a setting that is missing or invalid.  Its text tells the
// operator what to change.
type Error struct {
	Key     string
	Problem string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Key, e.Problem)
}

// Config holds every setting.
type Config struct {
	NtfyTopic  string
	NtfyServer string

	PollInterval time.Duration
	Action       message.Disposition
	Query        string

	Provider string

	GmailCredentials string
	TokenStore       string
	TokenPath        string

	// Path of the state database, or empty when disabled.
	StatePath string

	// Used when Provider is ProviderIMAP.  An empty password is
	// looked up in the keyring.
	IMAP imap.Config
}

// SetDefaults installs the default of every key into v.
func SetDefaults(v *viper.Viper) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
}

// Load reads envFile, if it exists, then the environment.  Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "loading %s", envFile)
		}
	}
	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)
	return FromViper(v)
}

// FromViper validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	get := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}
	cfg := &Config{
		NtfyTopic:        get(KeyNtfyTopic),
		NtfyServer:       strings.TrimRight(get(KeyNtfyServer), "/"),
		Query:            get(KeyGmailQuery),
		Provider:         strings.ToLower(get(KeyInboxProvider)),
		GmailCredentials: get(KeyGmailCredentials),
		TokenStore:       strings.ToLower(get(KeyTokenStore)),
		TokenPath:        get(KeyTokenPath),
	}

	switch cfg.NtfyTopic {
	case "":
		return nil, &Error{KeyNtfyTopic, "is not configured: set it to a unique, hard-to-guess " +
			"topic name and subscribe to the same topic in the ntfy app"}
	case PlaceholderTopic:
		return nil, &Error{KeyNtfyTopic, "is still the example value " + PlaceholderTopic +
			": anyone could read your notifications; choose a unique, hard-to-guess topic"}
	}
	if strings.ContainsAny(cfg.NtfyTopic, "/ ") {
		return nil, &Error{KeyNtfyTopic, "must not contain spaces or slashes"}
	}

	u, err := url.Parse(cfg.NtfyServer)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{KeyNtfyServer, fmt.Sprintf("%q is not an http(s) URL", cfg.NtfyServer)}
	}

	secs, err := strconv.Atoi(get(KeyPollInterval))
	if err != nil || secs <= 0 {
		return nil, &Error{KeyPollInterval, fmt.Sprintf("%q is not a positive number of seconds", get(KeyPollInterval))}
	}
	cfg.PollInterval = time.Duration(secs) * time.Second

	cfg.Action, err = message.ParseDisposition(get(KeyEmailAction))
	if err != nil {
		return nil, &Error{KeyEmailAction, fmt.Sprintf("%q is not one of delete, archive or read", get(KeyEmailAction))}
	}

	if cfg.Query == "" {
		return nil, &Error{KeyGmailQuery, "must not be empty"}
	}

	switch cfg.TokenStore {
	case TokenStoreFile, TokenStoreKeyring:
	default:
		return nil, &Error{KeyTokenStore, fmt.Sprintf("%q is not one of file or keyring", cfg.TokenStore)}
	}

	if sp := get(KeyStatePath); sp != "" && sp != StateDisabled {
		if cfg.StatePath, err = homedir.Expand(sp); err != nil {
			return nil, &Error{KeyStatePath, err.Error()}
		}
	}

	switch cfg.Provider {
	case ProviderGmail:
	case ProviderIMAP:
		if err := imapConfig(cfg, get); err != nil {
			return nil, err
		}
	default:
		return nil, &Error{KeyInboxProvider, fmt.Sprintf("%q is not one of gmail or imap", cfg.Provider)}
	}
	return cfg, nil
}

func imapConfig(cfg *Config, get func(string) string) error {
	port, err := strconv.Atoi(get(KeyIMAPPort))
	if err != nil || port <= 0 || port > 65535 {
		return &Error{KeyIMAPPort, fmt.Sprintf("%q is not a port number", get(KeyIMAPPort))}
	}
	tls, err := strconv.ParseBool(get(KeyIMAPTLS))
	if err != nil {
		return &Error{KeyIMAPTLS, fmt.Sprintf("%q is not true or false", get(KeyIMAPTLS))}
	}
	cfg.IMAP = imap.Config{
		Host:     get(KeyIMAPHost),
		Port:     port,
		Username: get(KeyIMAPUsername),
		Password: get(KeyIMAPPassword),
		TLS:      tls,
		Mailbox:  get(KeyIMAPMailbox),
		Archive:  get(KeyIMAPArchive),
	}
	if cfg.IMAP.Host == "" {
		return &Error{KeyIMAPHost, "is required when " + KeyInboxProvider + " is imap"}
	}
	if cfg.IMAP.Username == "" {
		return &Error{KeyIMAPUsername, "is required when " + KeyInboxProvider + " is imap"}
	}
	return nil
}
