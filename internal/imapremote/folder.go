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

package imapremote

import (
	"context"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/matta/mailsync/internal/command"
	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/sync"
	"github.com/matta/mailsync/internal/uidset"
)

var (
	// ErrNotOpen is returned by folder operations issued before Open.
	ErrNotOpen = errors.New("folder is not open")

	// ErrNoUIDPlus is returned by ExpungeUIDs when the server lacks
	// UIDPLUS.
	ErrNoUIDPlus = errors.New("server does not support UID EXPUNGE")
)

// Folder is one mailbox on the server.  It implements sync.RemoteFolder.
// A Folder is not safe for concurrent use.
type Folder struct {
	s       *Store
	name    string
	limiter *rate.Limiter
	log     zerolog.Logger

	c        *imapclient.Client
	extended bool
	uidPlus  bool
	selected uint32 // message count reported by SELECT
}

var _ sync.RemoteFolder = (*Folder)(nil)

func (f *Folder) Name() string { return f.name }

// Open connects, logs in and selects the folder.
func (f *Folder) Open(ctx context.Context, mode sync.OpenMode) error {
	if f.c != nil {
		return nil
	}
	c, err := f.s.Dial(ctx)
	if err != nil {
		return err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		c.Close()
		return err
	}
	opts := &imap.SelectOptions{ReadOnly: mode == sync.ReadOnly}
	data, err := c.Select(f.name, opts).Wait()
	if err != nil {
		c.Logout().Wait()
		c.Close()
		return errors.Wrapf(err, "selecting %q", f.name)
	}
	caps := c.Caps()
	f.c = c
	f.selected = data.NumMessages
	f.extended = caps.Has(imap.CapCondStore)
	f.uidPlus = caps.Has(imap.CapUIDPlus)
	f.log.Debug().Bool("extended", f.extended).Bool("uidplus", f.uidPlus).Msg("selected")
	return nil
}

// Close logs out.  Closing a closed folder does nothing.
func (f *Folder) Close() error {
	if f.c == nil {
		return nil
	}
	c := f.c
	f.c = nil
	f.selected = 0
	if err := c.Logout().Wait(); err != nil {
		f.log.Debug().Err(err).Msg("logout")
	}
	return c.Close()
}

// SupportsExtendedCommandLength reports whether the server advertised
// CONDSTORE, whose RFC raises the command line limit to 8192 octets.
func (f *Folder) SupportsExtendedCommandLength() bool {
	return f.extended
}

func (f *Folder) client(ctx context.Context) (*imapclient.Client, error) {
	if f.c == nil {
		return nil, errors.Wrapf(ErrNotOpen, "%q", f.name)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.c, nil
}

func (f *Folder) MessageCount(ctx context.Context) (int, error) {
	c, err := f.client(ctx)
	if err != nil {
		return 0, err
	}
	// NOOP collects EXISTS and EXPUNGE responses sent since SELECT.
	if err := c.Noop().Wait(); err != nil {
		return 0, errors.Wrapf(err, "NOOP %q", f.name)
	}
	return selectedCount(c.Mailbox(), f.selected), nil
}

// selectedCount returns the size of the selected mailbox as tracked by
// the client, or the count SELECT reported if the client has none.
func selectedCount(mbox *imapclient.SelectedMailbox, selected uint32) int {
	if mbox == nil {
		return int(selected)
	}
	return int(mbox.NumMessages)
}

// searchSeq returns the UIDs of undeleted messages with sequence
// numbers start..end that arrived no earlier than earliest.
func (f *Folder) searchSeq(ctx context.Context, start, end int, earliest time.Time) ([]imap.UID, error) {
	if start < 1 {
		start = 1
	}
	if end < start {
		return nil, nil
	}
	c, err := f.client(ctx)
	if err != nil {
		return nil, err
	}
	criteria := &imap.SearchCriteria{
		SeqNum:  []imap.SeqSet{{imap.SeqRange{Start: uint32(start), Stop: uint32(end)}}},
		NotFlag: []imap.Flag{imap.FlagDeleted},
		Since:   earliest,
	}
	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, errors.Wrapf(err, "searching %d:%d", start, end)
	}
	return data.AllUIDs(), nil
}

func (f *Folder) Messages(ctx context.Context, start, end int, earliest time.Time) ([]*message.Message, error) {
	uids, err := f.searchSeq(ctx, start, end, earliest)
	if err != nil || len(uids) == 0 {
		return nil, err
	}
	var set uidset.Set
	for _, u := range uids {
		set.AddID(uint64(u))
	}
	cmds, err := command.Prepare(command.NewFetch(set.Compact(), command.Profile{Flags: true, InternalDate: true}), f)
	if err != nil {
		return nil, err
	}
	var out []*message.Message
	err = command.Run(ctx, cmds, func(ctx context.Context, cmd command.Command) error {
		for m, err := range f.Fetch(ctx, cmd) {
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].Num()
		b, _ := out[j].Num()
		return a < b
	})
	return out, nil
}

func (f *Folder) AreMoreMessagesAvailable(ctx context.Context, start int, earliest time.Time) (bool, error) {
	uids, err := f.searchSeq(ctx, 1, start-1, earliest)
	return len(uids) > 0, err
}

// Fetch runs cmd, which must be a FETCH, and yields the messages it
// returns.  Unsolicited responses for UIDs outside the command's set
// are dropped.
func (f *Folder) Fetch(ctx context.Context, cmd command.Command) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		if cmd.Kind() != command.Fetch {
			yield(nil, errors.Errorf("Fetch called with %s", cmd.Kind()))
			return
		}
		set := cmd.Set()
		uids, err := toUIDSet(set)
		if err != nil {
			yield(nil, err)
			return
		}
		req, err := newFetchRequest(cmd.Profile())
		if err != nil {
			yield(nil, err)
			return
		}
		c, err := f.client(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		fc := c.Fetch(uids, req.opts)
		defer fc.Close()
		for {
			md := fc.Next()
			if md == nil {
				break
			}
			buf, err := md.Collect()
			if err != nil {
				yield(nil, errors.Wrap(err, "reading FETCH response"))
				return
			}
			if buf.UID == 0 || !set.Contains(uint64(buf.UID)) {
				continue
			}
			m, err := req.message(buf)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := fc.Close(); err != nil {
			yield(nil, errors.Wrap(err, "FETCH"))
		}
	}
}

// SetFlags adds (value true) or removes flags on every message in set.
func (f *Folder) SetFlags(ctx context.Context, set uidset.Set, flags message.Flags, value bool) error {
	return f.run(ctx, command.NewStore(set, flags, value), func(c *imapclient.Client, uids imap.UIDSet) error {
		op := imap.StoreFlagsDel
		if value {
			op = imap.StoreFlagsAdd
		}
		return c.Store(uids, &imap.StoreFlags{Op: op, Silent: true, Flags: toIMAPFlags(flags)}, nil).Close()
	})
}

// CopyTo copies the messages in set into mailbox.
func (f *Folder) CopyTo(ctx context.Context, set uidset.Set, mailbox string) error {
	return f.run(ctx, command.NewCopy(set, mailbox), func(c *imapclient.Client, uids imap.UIDSet) error {
		_, err := c.Copy(uids, mailbox).Wait()
		return err
	})
}

// MoveTo moves the messages in set into mailbox.
func (f *Folder) MoveTo(ctx context.Context, set uidset.Set, mailbox string) error {
	return f.run(ctx, command.NewMove(set, mailbox), func(c *imapclient.Client, uids imap.UIDSet) error {
		_, err := c.Move(uids, mailbox).Wait()
		return err
	})
}

// ExpungeUIDs permanently removes the deleted messages in set.  It
// needs the server to support UIDPLUS.
func (f *Folder) ExpungeUIDs(ctx context.Context, set uidset.Set) error {
	if f.c != nil && !f.uidPlus {
		return errors.Wrapf(ErrNoUIDPlus, "%q", f.name)
	}
	return f.run(ctx, command.NewExpunge(set), func(c *imapclient.Client, uids imap.UIDSet) error {
		return c.UIDExpunge(uids).Close()
	})
}

// Expunge permanently removes every message flagged deleted.
func (f *Folder) Expunge(ctx context.Context) error {
	c, err := f.client(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.Expunge().Close(), "EXPUNGE %q", f.name)
}

// Search returns the UIDs within set matching criteria, ascending.  An
// empty set searches the whole folder.
func (f *Folder) Search(ctx context.Context, set uidset.Set, criteria Criteria) ([]uint64, error) {
	var out []uint64
	err := f.run(ctx, command.NewSearch(set, criteria.String()), func(c *imapclient.Client, uids imap.UIDSet) error {
		sc := criteria.imap()
		if len(uids) > 0 {
			sc.UID = []imap.UIDSet{uids}
		}
		data, err := c.UIDSearch(sc, nil).Wait()
		if err != nil {
			return err
		}
		for _, u := range data.AllUIDs() {
			out = append(out, uint64(u))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, err
}

// run splits cmd to fit the connection and issues the pieces through
// exec in order.
func (f *Folder) run(ctx context.Context, cmd command.Command, exec func(*imapclient.Client, imap.UIDSet) error) error {
	cmds, err := command.Prepare(cmd, f)
	if err != nil {
		return err
	}
	return command.Run(ctx, cmds, func(ctx context.Context, sub command.Command) error {
		uids, err := toUIDSet(sub.Set())
		if err != nil {
			return err
		}
		c, err := f.client(ctx)
		if err != nil {
			return err
		}
		f.log.Trace().Str("command", sub.String()).Msg("issuing")
		return exec(c, uids)
	})
}

// Criteria narrows a Search.
type Criteria struct {
	Since   time.Time
	Flags   message.Flags // all must be set
	NoFlags message.Flags // none may be set
}

func (cr Criteria) imap() *imap.SearchCriteria {
	return &imap.SearchCriteria{
		Since:   cr.Since,
		Flag:    toIMAPFlags(cr.Flags),
		NotFlag: toIMAPFlags(cr.NoFlags),
	}
}

// String renders the criteria in protocol syntax.
func (cr Criteria) String() string {
	var keys []string
	if !cr.Since.IsZero() {
		keys = append(keys, "SINCE "+cr.Since.Format("2-Jan-2006"))
	}
	for _, n := range cr.Flags.Names() {
		keys = append(keys, searchKey(n, false))
	}
	for _, n := range cr.NoFlags.Names() {
		keys = append(keys, searchKey(n, true))
	}
	return strings.Join(keys, " ")
}

func searchKey(flag string, not bool) string {
	var k string
	if strings.HasPrefix(flag, `\`) {
		k = strings.ToUpper(flag[1:])
	} else {
		k = "KEYWORD " + flag
	}
	if not {
		return "UN" + k
	}
	return k
}
