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
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/matta/mailsync/internal/config"
	"github.com/matta/mailsync/internal/imapremote"
	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/sync"
	"github.com/matta/mailsync/internal/uidset"
)

// target names the messages a remote command acts on.
type target struct {
	account string
	folder  string
	uids    string
}

func (t *target) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.account, "account", "", "account (default: the only one configured)")
	cmd.Flags().StringVar(&t.folder, "folder", "INBOX", "folder")
	cmd.Flags().StringVar(&t.uids, "uid", "", "UIDs, e.g. 1,4,7:9")
}

func (t *target) set() (uidset.Set, error) {
	if t.uids == "" {
		return uidset.Set{}, errors.New("--uid is required")
	}
	s, err := uidset.Parse(t.uids)
	if err != nil {
		return uidset.Set{}, errors.Wrapf(err, "bad --uid %q", t.uids)
	}
	return s.Compact(), nil
}

// remoteOp opens t's folder read-write, runs fn and then refreshes the
// local copy of the folder over the same connection.
func (a *app) remoteOp(ctx context.Context, t *target, fn func(*imapremote.Folder) error) error {
	acct, err := a.singleAccount(t.account)
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	e, remote, err := s.engine(ctx, acct)
	if err != nil {
		return err
	}
	f, err := remote.OpenFolder(ctx, t.folder, sync.ReadWrite)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	log := a.log.With().Str("account", acct.Name).Logger()
	return e.Synchronize(ctx, t.folder, listener(log), f)
}

func (a *app) singleAccount(name string) (*config.Account, error) {
	accts, err := a.accounts(name)
	if err != nil {
		return nil, err
	}
	if len(accts) > 1 {
		return nil, errors.New("several accounts configured; pick one with --account")
	}
	return accts[0], nil
}

func newMarkCmd(a *app) *cobra.Command {
	var (
		t         target
		flag      string
		clearFlag bool
		expunge   bool
	)
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Set or clear a flag on messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := t.set()
			if err != nil {
				return err
			}
			fl, ok := message.LookupFlag(flag)
			if !ok {
				return errors.Errorf("unknown flag %q", flag)
			}
			return a.remoteOp(cmd.Context(), &t, func(f *imapremote.Folder) error {
				ctx := cmd.Context()
				if err := f.SetFlags(ctx, set, fl, !clearFlag); err != nil {
					return err
				}
				if !expunge {
					return nil
				}
				err := f.ExpungeUIDs(ctx, set)
				if errors.Cause(err) == imapremote.ErrNoUIDPlus {
					a.log.Warn().Msg("server lacks UIDPLUS; expunging every deleted message")
					return f.Expunge(ctx)
				}
				return err
			})
		},
	}
	t.addFlags(cmd)
	cmd.Flags().StringVar(&flag, "flag", "seen", "seen, flagged, answered, deleted, draft or forwarded")
	cmd.Flags().BoolVar(&clearFlag, "clear", false, "clear the flag instead of setting it")
	cmd.Flags().BoolVar(&expunge, "expunge", false, "expunge the messages afterwards")
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	var (
		t        target
		to       string
		copyOnly bool
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move or copy messages to another folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := t.set()
			if err != nil {
				return err
			}
			if to == "" {
				return errors.New("--to is required")
			}
			return a.remoteOp(cmd.Context(), &t, func(f *imapremote.Folder) error {
				if copyOnly {
					return f.CopyTo(cmd.Context(), set, to)
				}
				return f.MoveTo(cmd.Context(), set, to)
			})
		},
	}
	t.addFlags(cmd)
	cmd.Flags().StringVar(&to, "to", "", "destination folder")
	cmd.Flags().BoolVar(&copyOnly, "copy", false, "copy instead of moving")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		t      target
		since  string
		unseen bool
		flag   string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List the UIDs of matching messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var set uidset.Set
			if t.uids != "" {
				var err error
				if set, err = t.set(); err != nil {
					return err
				}
			}
			var cr imapremote.Criteria
			if since != "" {
				d, err := time.Parse("2006-01-02", since)
				if err != nil {
					return errors.Wrapf(err, "bad --since %q", since)
				}
				cr.Since = d
			}
			if unseen {
				cr.NoFlags |= message.Seen
			}
			if flag != "" {
				fl, ok := message.LookupFlag(flag)
				if !ok {
					return errors.Errorf("unknown flag %q", flag)
				}
				cr.Flags |= fl
			}

			acct, err := a.singleAccount(t.account)
			if err != nil {
				return err
			}
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			remote, err := s.remote(cmd.Context(), acct)
			if err != nil {
				return err
			}
			f, err := remote.OpenFolder(cmd.Context(), t.folder, sync.ReadOnly)
			if err != nil {
				return err
			}
			defer f.Close()

			uids, err := f.Search(cmd.Context(), set, cr)
			if err != nil {
				return err
			}
			var found uidset.Set
			for _, u := range uids {
				found.AddID(u)
			}
			out := found.Compact().String()
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(out))
			return nil
		},
	}
	t.addFlags(cmd)
	cmd.Flags().StringVar(&since, "since", "", "only messages received on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&unseen, "unseen", false, "only unread messages")
	cmd.Flags().StringVar(&flag, "flag", "", "only messages with this flag")
	return cmd
}
