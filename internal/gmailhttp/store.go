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
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/matta/julesnotify/internal/credential"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenStore.Load when nothing is stored.
var ErrNoToken = errors.New("no stored OAuth token")

// TokenStore persists the user's OAuth token.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
}

// FileTokenStore keeps the token as JSON in a file readable only by
// its owner.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (*oauth2.Token, error) {
	b, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading token file %q", s.Path)
	}
	return decodeToken(b)
}

func (s FileTokenStore) Save(tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return errors.Wrap(err, "encoding token")
	}
	// Write then rename so a crash never leaves a truncated token.
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".token-*")
	if err != nil {
		return errors.Wrap(err, "creating token file")
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "creating token file")
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing token file %q", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing token file %q", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), s.Path), "replacing token file %q", s.Path)
}

// KeyringTokenStore keeps the token in the system keyring.
type KeyringTokenStore struct {
	Store *credential.Store
	Key   string
}

func (s KeyringTokenStore) Load() (*oauth2.Token, error) {
	v, err := s.Store.Get(s.Key)
	if errors.Cause(err) == credential.ErrNotFound {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	return decodeToken([]byte(v))
}

func (s KeyringTokenStore) Save(tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return errors.Wrap(err, "encoding token")
	}
	return s.Store.Set(s.Key, string(b))
}

func decodeToken(b []byte) (*oauth2.Token, error) {
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, errors.Wrap(err, "decoding stored token")
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return tok, nil
}
