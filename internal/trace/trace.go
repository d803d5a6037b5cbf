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

// Package trace logs protocol traffic for debugging.
package trace

import (
	"net/http"
	"net/http/httputil"

	"github.com/rs/zerolog"
)

// transport is an http.RoundTripper that logs the request and response
// while delegating the real work to another http.RoundTripper.
type transport struct {
	delegate http.RoundTripper
	log      zerolog.Logger
}

// RoundTrip logs a dump of the request and response while delegating
// the round trip to the delegate.  Authorization headers are dropped
// from the dump.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	dumpReq := req
	if req.Header.Get("Authorization") != "" {
		dumpReq = req.Clone(req.Context())
		dumpReq.Header.Set("Authorization", "[redacted]")
	}
	if dump, err := httputil.DumpRequestOut(dumpReq, false); err == nil {
		t.log.Trace().Str("http", string(dump)).Msg("request")
	}
	resp, err := t.delegate.RoundTrip(req)
	if err != nil {
		t.log.Trace().Err(err).Str("url", req.URL.String()).Msg("round trip failed")
		return resp, err
	}
	if dump, err := httputil.DumpResponse(resp, false); err == nil {
		t.log.Trace().Str("http", string(dump)).Msg("response")
	}
	return resp, nil
}

// Wrap returns a RoundTripper tracing d.  A nil d means
// http.DefaultTransport.
func Wrap(d http.RoundTripper, log zerolog.Logger) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &transport{delegate: d, log: log}
}

// Client returns an http.Client whose requests are traced.
func Client(log zerolog.Logger) *http.Client {
	return &http.Client{Transport: Wrap(nil, log)}
}
