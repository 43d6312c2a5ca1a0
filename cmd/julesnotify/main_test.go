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

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/matta/julesnotify/internal/config"
	"github.com/matta/julesnotify/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup points every setting at a temporary directory and at server,
// and returns the path of a .env file that does not exist.
func setup(t *testing.T, server string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.KeyNtfyTopic, "julesnotify-test-topic")
	t.Setenv(config.KeyNtfyServer, server)
	t.Setenv(config.KeyInboxProvider, config.ProviderGmail)
	t.Setenv(config.KeyGmailCredentials, filepath.Join(dir, "credentials.json"))
	t.Setenv(config.KeyTokenStore, config.TokenStoreFile)
	t.Setenv(config.KeyTokenPath, filepath.Join(dir, "token.json"))
	t.Setenv(config.KeyStatePath, config.StateDisabled)
	return filepath.Join(dir, "missing.env")
}

func gateway(t *testing.T, code int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func runArgs(args ...string) error {
	return newCommand().Run(context.Background(), append([]string{"julesnotify"}, args...))
}

func TestSendTest(t *testing.T) {
	srv, hits := gateway(t, http.StatusOK)
	env := setup(t, srv.URL)

	require.NoError(t, runArgs("--test", "--env", env))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestSendTestRejected(t *testing.T) {
	srv, hits := gateway(t, http.StatusForbidden)
	env := setup(t, srv.URL)

	err := runArgs("--test", "--env", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestSendTestUnreachable(t *testing.T) {
	srv, _ := gateway(t, http.StatusOK)
	url := srv.URL
	srv.Close()
	env := setup(t, url)

	err := runArgs("--test", "--env", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not reach ntfy server")
}

func TestMissingTopic(t *testing.T) {
	srv, hits := gateway(t, http.StatusOK)
	env := setup(t, srv.URL)
	t.Setenv(config.KeyNtfyTopic, "")

	err := runArgs("--test", "--env", env)
	var cerr *config.Error
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, config.KeyNtfyTopic, cerr.Key)
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestOnceWithoutCredentials(t *testing.T) {
	srv, hits := gateway(t, http.StatusOK)
	env := setup(t, srv.URL)

	err := runArgs("--once", "--env", env)
	require.Error(t, err)
	assert.True(t, message.IsAuthError(err), "got %v", err)
	assert.Zero(t, atomic.LoadInt32(hits))
}
