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

package main

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/matta/mailsync/internal/auth"
	"github.com/matta/mailsync/internal/bodystore"
	"github.com/matta/mailsync/internal/config"
	"github.com/matta/mailsync/internal/credential"
	"github.com/matta/mailsync/internal/imapremote"
	"github.com/matta/mailsync/internal/persist"
	"github.com/matta/mailsync/internal/sync"
	"github.com/matta/mailsync/internal/trace"
)

// session holds the local state shared by the accounts of one run.
type session struct {
	a      *app
	db     *persist.DB
	bodies *bodystore.Store
	creds  *credential.Store
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	bodies, err := bodystore.New(a.cfg.Bodies)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize body store")
	}
	db, err := persist.Open(ctx, a.cfg.Database, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize database")
	}
	return &session{a: a, db: db, bodies: bodies}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

func (s *session) credentials() (*credential.Store, error) {
	if s.creds != nil {
		return s.creds, nil
	}
	creds, err := credential.Open(s.a.credentialDir())
	if err != nil {
		return nil, err
	}
	s.creds = creds
	return creds, nil
}

// credentialDir holds the keyring's file backend, next to the database.
func (a *app) credentialDir() string {
	return filepath.Join(filepath.Dir(a.cfg.Database), "credentials")
}

func (s *session) httpClient() *http.Client {
	if s.a.trace {
		return trace.Client(s.a.log)
	}
	return nil
}

// remote returns the remote store for acct.
func (s *session) remote(ctx context.Context, acct *config.Account) (*imapremote.Store, error) {
	sec, err := imapremote.ParseSecurity(acct.Security)
	if err != nil {
		return nil, err
	}
	cfg := imapremote.Config{
		Host:              acct.Host,
		Port:              acct.Port,
		Security:          sec,
		Username:          acct.Username,
		CommandsPerSecond: acct.CommandsPerSecond,
	}
	log := s.a.log.With().Str("account", acct.Name).Logger()
	if s.a.trace {
		cfg.Debug = trace.NewIMAPWriter(log)
	}

	o := acct.OAuth
	switch {
	case len(o.TokenCommand) > 0:
		cfg.TokenSource, err = auth.CommandSource(ctx, o.TokenCommand)
	case o.RefreshToken != "":
		rc := auth.RefreshConfig{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			AuthURL:      o.AuthURL,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
			RefreshToken: o.RefreshToken,
		}
		cfg.TokenSource, err = rc.Source(ctx, s.httpClient())
	case acct.PasswordSource == config.PasswordKeyring:
		var creds *credential.Store
		if creds, err = s.credentials(); err == nil {
			cfg.Password, err = creds.Get(acct.Name)
		}
	default:
		cfg.Password = acct.Password
	}
	if err != nil {
		return nil, errors.Wrapf(err, "account %q credentials", acct.Name)
	}
	return imapremote.New(cfg, log), nil
}

// engine returns a sync engine for acct.
func (s *session) engine(ctx context.Context, acct *config.Account) (*sync.Engine, *imapremote.Store, error) {
	remote, err := s.remote(ctx, acct)
	if err != nil {
		return nil, nil, err
	}
	local := s.db.Account(acct.Name, s.bodies)
	log := s.a.log.With().Str("account", acct.Name).Logger()
	return sync.New(local, remote, acct.Options(timeNow()), log), remote, nil
}

// accounts returns the named account, or every account when name is
// empty.
func (a *app) accounts(name string) ([]*config.Account, error) {
	if name != "" {
		acct, err := a.cfg.Account(name)
		if err != nil {
			return nil, err
		}
		return []*config.Account{acct}, nil
	}
	if len(a.cfg.Accounts) == 0 {
		return nil, errors.Errorf("no accounts configured in %s", a.configPath)
	}
	var out []*config.Account
	for i := range a.cfg.Accounts {
		out = append(out, &a.cfg.Accounts[i])
	}
	return out, nil
}

func listener(log zerolog.Logger, extra ...sync.Listener) sync.Listener {
	return append(sync.Multi{sync.LogListener{Log: log}}, extra...)
}
