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

// Package tracehttp logs HTTP traffic for debugging.
package tracehttp

import (
	"log"
	"net/http"
	"net/http/httputil"
)

// Headers whose values never reach the log.
var redacted = []string{"Authorization", "Cookie", "Set-Cookie"}

// traceTransport is an http.RoundTripper that logs the request and
// response while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
}

func redact(h http.Header) http.Header {
	c := h.Clone()
	for _, k := range redacted {
		if c.Get(k) != "" {
			c.Set(k, "REDACTED")
		}
	}
	return c
}

// RoundTrip logs a dump of the request and response while delegating
// the round trip to the delegate.
func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	// DumpRequestOut restores the body it reads.
	shown := req.Clone(req.Context())
	shown.Header = redact(req.Header)
	shown.Body = req.Body
	dump, dumpErr := httputil.DumpRequestOut(shown, true)
	req.Body = shown.Body
	if dumpErr == nil {
		log.Printf("tracehttp: request:\n%s", dump)
	}
	resp, err = t.delegate.RoundTrip(req)
	if err != nil {
		log.Printf("tracehttp: %s %s: %v", req.Method, req.URL, err)
		return resp, err
	}
	header := resp.Header
	resp.Header = redact(header)
	dump, dumpErr = httputil.DumpResponse(resp, true)
	resp.Header = header
	if dumpErr == nil {
		log.Printf("tracehttp: response:\n%s", dump)
	}
	return resp, err
}

// Wrap returns a transport that traces d.  A nil d traces
// http.DefaultTransport.
func Wrap(d http.RoundTripper) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{d}
}
