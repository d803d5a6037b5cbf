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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/matta/mailsync/internal/credential"
)

func newPasswordCmd(a *app) *cobra.Command {
	var (
		account string
		remove  bool
	)
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Store an account password in the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.singleAccount(account)
			if err != nil {
				return err
			}
			creds, err := credential.Open(a.credentialDir())
			if err != nil {
				return err
			}
			if remove {
				return creds.Delete(acct.Name)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s (%s@%s): ", acct.Name, acct.Username, acct.Host)
			pw, err := readPassword()
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if pw == "" {
				return errors.New("empty password")
			}
			return creds.Set(acct.Name, pw)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account (default: the only one configured)")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the stored password")
	return cmd
}

// readPassword reads a line from stdin, without echo when it is a
// terminal.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", errors.Wrap(err, "reading password")
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "reading password")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
