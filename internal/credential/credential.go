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

// Package credential keeps account passwords in the system keyring.
package credential

import (
	"github.com/99designs/keyring"
	"github.com/pkg/errors"
)

const serviceName = "mailsync"

// ErrNotFound is returned by Get when no password is stored.
var ErrNotFound = keyring.ErrKeyNotFound

// Store reads and writes passwords keyed by account name.
type Store struct {
	ring keyring.Keyring
}

// Open opens the platform keyring.  fileDir holds the encrypted file
// backend used when no system keyring is available.
func Open(fileDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.TerminalPrompt,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return &Store{ring: ring}, nil
}

// New wraps an already open keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func key(account string) string {
	return "account:" + account
}

// Get returns the password stored for account.
func (s *Store) Get(account string) (string, error) {
	item, err := s.ring.Get(key(account))
	if err != nil {
		return "", errors.Wrapf(err, "getting password for %q", account)
	}
	return string(item.Data), nil
}

// Set stores password for account, replacing any previous one.
func (s *Store) Set(account, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key(account),
		Data:  []byte(password),
		Label: serviceName + " " + account,
	})
	return errors.Wrapf(err, "storing password for %q", account)
}

// Delete removes the password for account.  Deleting a missing
// password is not an error.
func (s *Store) Delete(account string) error {
	err := s.ring.Remove(key(account))
	if errors.Cause(err) == keyring.ErrKeyNotFound {
		return nil
	}
	return errors.Wrapf(err, "deleting password for %q", account)
}
