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

// Package imapremote implements the remote message store over IMAP.
package imapremote

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/matta/mailsync/internal/sync"
)

const (
	DefaultCommandsPerSecond = 20
	commandBurst             = 10

	dialTimeout = 30 * time.Second
)

// Security selects how the connection is protected.
type Security string

const (
	TLS      Security = "tls"
	StartTLS Security = "starttls"
	Insecure Security = "insecure"
)

// ParseSecurity maps a configuration value to a Security.
func ParseSecurity(s string) (Security, error) {
	switch Security(s) {
	case TLS, StartTLS, Insecure:
		return Security(s), nil
	case "":
		return TLS, nil
	}
	return "", errors.Errorf("unknown connection security %q", s)
}

// Config describes how to reach and log in to one account.
type Config struct {
	Host     string
	Port     int
	Security Security

	Username string
	Password string

	// TokenSource, when set, is used for SASL OAUTHBEARER instead
	// of LOGIN with Password.
	TokenSource oauth2.TokenSource

	TLSConfig *tls.Config

	// CommandsPerSecond paces commands; 0 means
	// DefaultCommandsPerSecond, negative means unlimited.
	CommandsPerSecond float64

	// Debug receives the raw protocol stream.
	Debug io.Writer
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) limiter() *rate.Limiter {
	switch {
	case c.CommandsPerSecond < 0:
		return rate.NewLimiter(rate.Inf, 0)
	case c.CommandsPerSecond == 0:
		return rate.NewLimiter(DefaultCommandsPerSecond, commandBurst)
	}
	return rate.NewLimiter(rate.Limit(c.CommandsPerSecond), commandBurst)
}

// Store hands out folders of one account.  It implements
// sync.RemoteStore; every folder uses its own connection.
type Store struct {
	cfg Config
	log zerolog.Logger
}

var _ sync.RemoteStore = (*Store)(nil)

func New(cfg Config, log zerolog.Logger) *Store {
	return &Store{cfg: cfg, log: log}
}

// Folder returns an unopened folder.
func (s *Store) Folder(ctx context.Context, name string) (sync.RemoteFolder, error) {
	return s.folder(name), nil
}

// OpenFolder returns the named folder, opened in mode.
func (s *Store) OpenFolder(ctx context.Context, name string, mode sync.OpenMode) (*Folder, error) {
	f := s.folder(name)
	if err := f.Open(ctx, mode); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) folder(name string) *Folder {
	return &Folder{
		s:       s,
		name:    name,
		limiter: s.cfg.limiter(),
		log:     s.log.With().Str("folder", name).Logger(),
	}
}

// Dial connects and logs in, returning a client with no folder selected.
func (s *Store) Dial(ctx context.Context) (*imapclient.Client, error) {
	cfg := s.cfg
	opts := &imapclient.Options{
		TLSConfig:   cfg.TLSConfig,
		DebugWriter: cfg.Debug,
	}
	if opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.addr())
	}

	var c *imapclient.Client
	switch cfg.Security {
	case Insecure:
		c = imapclient.New(conn, opts)
	case StartTLS:
		c, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "STARTTLS failed")
		}
	default:
		tlsConn := tls.Client(conn, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "TLS handshake with %s", cfg.addr())
		}
		c = imapclient.New(tlsConn, opts)
	}

	if err := s.login(c); err != nil {
		c.Close()
		return nil, err
	}
	s.log.Debug().Str("addr", cfg.addr()).Str("user", cfg.Username).Msg("logged in")
	return c, nil
}

func (s *Store) login(c *imapclient.Client) error {
	cfg := s.cfg
	var err error
	if cfg.TokenSource != nil {
		tok, terr := cfg.TokenSource.Token()
		if terr != nil {
			return &sync.AuthError{Err: errors.Wrap(terr, "obtaining OAuth token")}
		}
		err = c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: cfg.Username,
			Token:    tok.AccessToken,
			Host:     cfg.Host,
			Port:     cfg.Port,
		}))
	} else {
		err = c.Login(cfg.Username, cfg.Password).Wait()
	}
	if err == nil {
		return nil
	}
	// A tagged NO is the server refusing the credentials; anything
	// else is a transport problem worth retrying.
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &sync.AuthError{Err: err}
	}
	return errors.Wrap(err, "login failed")
}
