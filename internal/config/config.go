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

// Package config loads the program's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/matta/mailsync/internal/homedir"
	"github.com/matta/mailsync/internal/sync"
)

const (
	DefaultVisibleLimit    = 250
	DefaultMaxDownloadSize = 32 * 1024
	DefaultConcurrency     = 4
)

// Password sources.
const (
	PasswordInline  = "inline"
	PasswordKeyring = "keyring"
)

// OAuth holds the settings for SASL OAUTHBEARER login.  Either
// TokenCommand or the refresh token fields are used.
type OAuth struct {
	TokenCommand []string `mapstructure:"token_command" yaml:"token_command"`

	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
	RefreshToken string   `mapstructure:"refresh_token" yaml:"refresh_token"`
}

// Enabled reports whether any OAuth setting is present.
func (o OAuth) Enabled() bool {
	return len(o.TokenCommand) > 0 || o.RefreshToken != ""
}

// Account is one remote mail account.
type Account struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Security string `mapstructure:"security" yaml:"security"` // tls, starttls, insecure
	Username string `mapstructure:"username" yaml:"username"`

	// PasswordSource is "inline" (Password) or "keyring".
	PasswordSource string `mapstructure:"password_source" yaml:"password_source"`
	Password       string `mapstructure:"password" yaml:"password"`

	OAuth OAuth `mapstructure:"oauth" yaml:"oauth"`

	Folders      []string `mapstructure:"folders" yaml:"folders"`
	OutboxFolder string   `mapstructure:"outbox_folder" yaml:"outbox_folder"`

	VisibleLimit        int     `mapstructure:"visible_limit" yaml:"visible_limit"`
	MaxDownloadSize     int64   `mapstructure:"max_download_size" yaml:"max_download_size"`
	EarliestPollDays    int     `mapstructure:"earliest_poll_days" yaml:"earliest_poll_days"`
	SyncRemoteDeletions bool    `mapstructure:"sync_remote_deletions" yaml:"sync_remote_deletions"`
	CommandsPerSecond   float64 `mapstructure:"commands_per_second" yaml:"commands_per_second"`
}

// Options returns the sync options for the account as of now.
func (a *Account) Options(now time.Time) sync.Options {
	opts := sync.Options{
		VisibleLimit:        a.VisibleLimit,
		MaxDownloadSize:     a.MaxDownloadSize,
		SyncRemoteDeletions: a.SyncRemoteDeletions,
		OutboxFolder:        a.OutboxFolder,
	}
	if a.EarliestPollDays > 0 {
		opts.EarliestPollDate = now.AddDate(0, 0, -a.EarliestPollDays)
	}
	return opts
}

// Config is the top-level configuration.
type Config struct {
	// Database is the SQLite file holding folder state and envelopes.
	Database string `mapstructure:"database" yaml:"database"`

	// Bodies is the directory holding message content.
	Bodies string `mapstructure:"bodies" yaml:"bodies"`

	// Concurrency bounds how many folders are synchronized at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// MetricsAddr, when set, is the listen address of the
	// Prometheus endpoint.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	Accounts []Account `mapstructure:"accounts" yaml:"accounts"`
}

// Account returns the named account.
func (c *Config) Account(name string) (*Account, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, errors.Errorf("no account named %q", name)
}

// DefaultPath returns ~/.config/mailsync/config.yaml.
func DefaultPath() string {
	return filepath.Join(homedir.Get(), ".config", "mailsync", "config.yaml")
}

// New returns a viper instance with the global defaults set and
// MAILSYNC_* environment overrides enabled.  Callers may bind command
// line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database", "~/.mailsync/mailsync.db")
	v.SetDefault("bodies", "~/.mailsync/bodies")
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("metrics_addr", "")
	return v
}

// Load reads path into v (a fresh instance from New when nil).  A
// missing file yields the defaults with no accounts.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	v.SetConfigFile(homedir.Expand(path))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	cfg.Database = homedir.Expand(cfg.Database)
	cfg.Bodies = homedir.Expand(cfg.Bodies)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	seen := make(map[string]bool)
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if err := a.applyDefaults(v, i); err != nil {
			return nil, err
		}
		if seen[a.Name] {
			return nil, errors.Errorf("account %q defined twice", a.Name)
		}
		seen[a.Name] = true
	}
	return cfg, nil
}

// applyDefaults fills unset fields of the i'th account and checks the
// rest.
func (a *Account) applyDefaults(v *viper.Viper, i int) error {
	if a.Name == "" {
		return errors.Errorf("account %d has no name", i)
	}
	if a.Host == "" {
		return errors.Errorf("account %q has no host", a.Name)
	}
	if a.Security == "" {
		a.Security = "tls"
	}
	switch a.Security {
	case "tls", "starttls", "insecure":
	default:
		return errors.Errorf("account %q: unknown security %q", a.Name, a.Security)
	}
	if a.Port == 0 {
		a.Port = 993
		if a.Security != "tls" {
			a.Port = 143
		}
	}
	if a.PasswordSource == "" {
		a.PasswordSource = PasswordInline
		if a.Password == "" && !a.OAuth.Enabled() {
			a.PasswordSource = PasswordKeyring
		}
	}
	if a.PasswordSource != PasswordInline && a.PasswordSource != PasswordKeyring {
		return errors.Errorf("account %q: unknown password source %q", a.Name, a.PasswordSource)
	}
	if len(a.Folders) == 0 {
		a.Folders = []string{"INBOX"}
	}

	// Unmarshalled zero values cannot be told apart from explicit
	// ones, so consult viper for the keys whose default is not zero.
	if !isSet(v, i, "visible_limit") {
		a.VisibleLimit = DefaultVisibleLimit
	}
	if !isSet(v, i, "max_download_size") {
		a.MaxDownloadSize = DefaultMaxDownloadSize
	}
	if !isSet(v, i, "sync_remote_deletions") {
		a.SyncRemoteDeletions = true
	}
	return nil
}

func isSet(v *viper.Viper, i int, key string) bool {
	return v.IsSet(fmt.Sprintf("accounts.%d.%s", i, key))
}
