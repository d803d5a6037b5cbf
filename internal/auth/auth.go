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
Package auth provides OAuth 2.0 token sources for SASL OAUTHBEARER.

Tokens come either from an external program or from a stored refresh
token.  The external program is run with the configured arguments and
must print a bearer token on standard output, in the manner of
https://github.com/google/oauth2l's SSO helper.

BUGS:

An external program does not report the token's real expire time, so
such tokens are treated as valid for five minutes.  A server may
still reject a token early; the sync pass then fails with an
authentication error and the next pass fetches a fresh one.
*/
package auth

import (
	"bytes"
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// CommandLifetime is how long a token printed by an external program is
// reused.
const CommandLifetime = 5 * time.Minute

// commandTokenSource runs an external program to retrieve an OAuth 2.0
// bearer token.
type commandTokenSource struct {
	ctx  context.Context
	argv []string
	now  func() time.Time
}

// Token runs the program and returns its output as a token.  Satisfies
// oauth2.TokenSource.
func (s *commandTokenSource) Token() (*oauth2.Token, error) {
	cmd := exec.CommandContext(s.ctx, s.argv[0], s.argv[1:]...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "running %s: %s", s.argv[0], strings.TrimSpace(stderr.String()))
	}

	accessToken := strings.TrimSpace(out.String())
	if accessToken == "" {
		return nil, errors.Errorf("%s printed no token", s.argv[0])
	}
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(CommandLifetime),
	}, nil
}

// CommandSource returns a token source running argv and reusing each
// token until it expires.
func CommandSource(ctx context.Context, argv []string) (oauth2.TokenSource, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty token command")
	}
	src := &commandTokenSource{ctx: ctx, argv: argv, now: time.Now}
	return oauth2.ReuseTokenSource(nil, src), nil
}

// RefreshConfig describes an OAuth 2.0 client holding a long lived
// refresh token.
type RefreshConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RefreshToken string
}

// Source returns a token source that exchanges the refresh token for
// access tokens.  A non-nil client is used for the token endpoint.
func (c RefreshConfig) Source(ctx context.Context, client *http.Client) (oauth2.TokenSource, error) {
	if c.RefreshToken == "" {
		return nil, errors.New("no refresh token configured")
	}
	if c.TokenURL == "" {
		return nil, errors.New("no token URL configured")
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
		Scopes: c.Scopes,
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}), nil
}
