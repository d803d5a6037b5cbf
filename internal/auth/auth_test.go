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

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCommandTokenSource(t *testing.T) {
	now := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &commandTokenSource{
		ctx:  context.Background(),
		argv: []string{"echo", " tok123 "},
		now:  func() time.Time { return now },
	}
	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.AccessToken != "tok123" {
		t.Errorf("AccessToken = %q, want %q", tok.AccessToken, "tok123")
	}
	if want := now.Add(CommandLifetime); !tok.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, want)
	}

	s.argv = []string{"true"}
	if _, err := s.Token(); err == nil {
		t.Error("Token() from silent program = nil error, want failure")
	}
	s.argv = []string{"false"}
	if _, err := s.Token(); err == nil {
		t.Error("Token() from failing program = nil error, want failure")
	}
}

func TestCommandSource(t *testing.T) {
	if _, err := CommandSource(context.Background(), nil); err == nil {
		t.Error("CommandSource(nil) = nil error, want failure")
	}
	src, err := CommandSource(context.Background(), []string{"echo", "abc"})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := src.Token()
	if err != nil || tok.AccessToken != "abc" {
		t.Errorf("Token() = %v, %v; want abc", tok, err)
	}
}

func TestRefreshSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := RefreshConfig{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL, RefreshToken: "rt"}
	src, err := c.Source(context.Background(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, want %q", tok.AccessToken, "fresh")
	}

	if _, err := (RefreshConfig{TokenURL: srv.URL}).Source(context.Background(), nil); err == nil {
		t.Error("Source without refresh token = nil error, want failure")
	}
}
