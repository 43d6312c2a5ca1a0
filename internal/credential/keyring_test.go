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

package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
)

func TestStore(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))

	if _, err := s.Get("token"); errors.Cause(err) != ErrNotFound {
		t.Errorf("Get() of missing key = %v, want ErrNotFound", err)
	}
	if err := s.Set("token", "secret"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := s.Get("token")
	if err != nil || got != "secret" {
		t.Errorf("Get() = %q, %v; want \"secret\", nil", got, err)
	}
	if err := s.Set("token", "rotated"); err != nil {
		t.Fatalf("Set() over an existing key failed: %v", err)
	}
	if got, _ := s.Get("token"); got != "rotated" {
		t.Errorf("Get() after overwrite = %q, want \"rotated\"", got)
	}
}
