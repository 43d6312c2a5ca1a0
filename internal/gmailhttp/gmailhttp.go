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
Package gmailhttp builds an HTTP client authorized to call the GMail
API on behalf of one user.

The OAuth 2.0 client secrets come from a credentials.json file
downloaded from the Google Cloud console (application type "Desktop
app").  On first run no token is stored, so the user is sent through
the installed-app flow: a browser visit that redirects back to a
server listening on the loopback interface.  The resulting token is
saved, and saved again every time it is refreshed.

BUGS:

Like all golang.org/x/oauth2 clients this one trusts the token's
expiry time.  A token revoked early surfaces as a 401 from the API,
which callers treat as an authentication failure.
*/
package gmailhttp

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/matta/julesnotify/internal/gmail"
	"github.com/matta/julesnotify/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	provider = "gmail"

	// Bounds every API request, including token refreshes.
	requestTimeout = time.Minute
)

// Options configure New.
type Options struct {
	// Path to the OAuth client secrets file.
	CredentialsPath string

	// Where tokens are loaded from and saved to.
	Store TokenStore

	// Transport for API and token requests.  Nil selects
	// http.DefaultTransport.
	Base http.RoundTripper

	// Obtains a token when none is stored.  Nil selects the
	// loopback flow, Authorize.
	Authorize func(context.Context, *oauth2.Config) (*oauth2.Token, error)
}

// LoadConfig reads OAuth client secrets from path.
func LoadConfig(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &message.AuthError{
			Provider: provider,
			Err: errors.Wrapf(err, "reading OAuth client secrets; download "+
				"credentials.json for a Desktop app from the Google Cloud "+
				"console and save it at %q", path),
		}
	}
	cfg, err := google.ConfigFromJSON(b, gmail.ModifyScope)
	if err != nil {
		return nil, &message.AuthError{
			Provider: provider,
			Err:      errors.Wrapf(err, "parsing OAuth client secrets in %q", path),
		}
	}
	return cfg, nil
}

// savingTokenSource writes every new token it sees to a store, so
// that refreshed tokens survive restarts.
type savingTokenSource struct {
	src   oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

// Token satisfies oauth2.TokenSource.  Only a refresh the token
// endpoint rejected is an AuthError; network failures are returned
// as they are so the next poll retries them.
func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return nil, &message.AuthError{Provider: provider, Err: err}
		}
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.Save(tok); err != nil {
			return nil, errors.Wrap(err, "saving refreshed token")
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// New returns an HTTP client capable of using the GMail API.  It may
// block while the user authorizes the application.
func New(ctx context.Context, opts Options) (*http.Client, error) {
	cfg, err := LoadConfig(opts.CredentialsPath)
	if err != nil {
		return nil, err
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	authorize := opts.Authorize
	if authorize == nil {
		authorize = Authorize
	}

	// Token refreshes go through the same transport as API calls.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient,
		&http.Client{Transport: base, Timeout: requestTimeout})

	tok, err := opts.Store.Load()
	switch {
	case errors.Cause(err) == ErrNoToken:
		tok, err = authorize(context.WithValue(ctx, oauth2.HTTPClient,
			&http.Client{Transport: base, Timeout: requestTimeout}), cfg)
		if err != nil {
			return nil, err
		}
		if err := opts.Store.Save(tok); err != nil {
			return nil, errors.Wrap(err, "saving new token")
		}
	case err != nil:
		return nil, errors.Wrap(err, "loading token")
	}

	src := &savingTokenSource{
		src:   cfg.TokenSource(tokenCtx, tok),
		store: opts.Store,
		last:  tok.AccessToken,
	}
	trans := &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(tok, src),
		Base:   base,
	}
	return &http.Client{Transport: trans, Timeout: requestTimeout}, nil
}
