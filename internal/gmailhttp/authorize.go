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

package gmailhttp

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/matta/julesnotify/internal/message"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// How long the user has to complete the browser flow.
const authorizeTimeout = 5 * time.Minute

// Authorize runs the installed-app flow and logs the URL the user
// must visit.
func Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	return authorize(ctx, cfg, func(url string) {
		log.Printf("gmail: authorize this program by visiting:\n\n%s\n", url)
	})
}

// authorize serves the OAuth redirect on a loopback port, hands the
// consent URL to visit, and exchanges the returned code for a token.
func authorize(ctx context.Context, cfg *oauth2.Config, visit func(url string)) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, authorizeTimeout)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "listening for the OAuth redirect")
	}
	c := *cfg
	c.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr())
	state := uuid.NewString()

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var res result
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return // not ours; keep waiting
			case q.Get("error") != "":
				res.err = errors.Errorf("authorization denied: %s", q.Get("error"))
			case q.Get("code") == "":
				res.err = errors.New("authorization response has no code")
			default:
				res.code = q.Get("code")
			}
			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
			} else {
				fmt.Fprintln(w, "Authorization complete. You may close this window.")
			}
			select {
			case results <- res:
			default:
			}
		}),
	}

	var tok *oauth2.Token
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer srv.Close()
		visit(c.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))
		select {
		case res := <-results:
			if res.err != nil {
				return res.err
			}
			var err error
			tok, err = c.Exchange(gctx, res.code)
			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return nil, &message.AuthError{Provider: provider, Err: errors.Wrap(err, "authorizing")}
	}
	log.Printf("gmail: authorization complete")
	return tok, nil
}
