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
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matta/mailsync/internal/persist"
)

func newStatusCmd(a *app) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local state of synchronized folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accts, err := a.accounts(account)
			if err != nil {
				return err
			}
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tFOLDER\tMESSAGES\tUNREAD\tLAST CHECKED\tSTATUS")
			for _, acct := range accts {
				infos, err := s.db.Account(acct.Name, s.bodies).Folders(cmd.Context())
				if err != nil {
					return err
				}
				writeStatus(w, acct.Name, infos)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	return cmd
}

func writeStatus(w io.Writer, account string, infos []persist.FolderInfo) {
	for _, fi := range infos {
		checked := "never"
		if !fi.LastChecked.IsZero() {
			checked = fi.LastChecked.Local().Format(time.DateTime)
		}
		status := fi.Status
		if status == "" {
			status = "ok"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", account, fi.Name, fi.Messages, fi.Unread, checked, status)
	}
}
