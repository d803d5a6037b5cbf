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

package sync

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/matta/mailsync/internal/command"
	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/uidset"
)

// pass is the state of one Synchronize call.
type pass struct {
	e      *Engine
	folder string
	l      Listener
	log    zerolog.Logger
	state  State

	local      LocalFolder
	remote     RemoteFolder
	ownsRemote bool

	localDates  map[string]time.Time
	lastUID     uint64
	remoteCount int
	remoteStart int
	remoteUIDs  map[string]*message.Message

	toDestroy []string
	unsynced  []*message.Message
	flagOnly  []*message.Message

	pushState string
	progress  int
	todo      int
	newCount  int
}

func (p *pass) run(ctx context.Context) error {
	p.enter(Opening)
	if err := p.open(ctx); err != nil {
		return err
	}
	p.enter(Diffing)
	if err := p.diff(ctx); err != nil {
		return err
	}
	p.enter(Classifying)
	if err := p.classify(ctx); err != nil {
		return err
	}
	p.enter(FetchingHeaders)
	small, large, err := p.fetchHeaders(ctx)
	if err != nil {
		return err
	}
	p.enter(FetchingBodies)
	if err := p.fetchSmall(ctx, small); err != nil {
		return err
	}
	if err := p.fetchLarge(ctx, large); err != nil {
		return err
	}
	p.enter(RefreshingFlags)
	if err := p.refreshFlags(ctx); err != nil {
		return err
	}
	p.enter(Purging)
	if err := p.purge(ctx); err != nil {
		return err
	}
	return p.finish(ctx)
}

func (p *pass) open(ctx context.Context) error {
	local, err := p.e.Local.Folder(ctx, p.folder)
	if err != nil {
		return errors.Wrap(err, "finding local folder")
	}
	if err := local.Open(ctx); err != nil {
		return errors.Wrap(err, "opening local folder")
	}
	p.local = local

	if p.remote == nil {
		remote, err := p.e.Remote.Folder(ctx, p.folder)
		if err != nil {
			return errors.Wrap(err, "finding remote folder")
		}
		p.remote = remote
		p.ownsRemote = true
		if err := remote.Open(ctx, ReadOnly); err != nil {
			return errors.Wrap(err, "opening remote folder")
		}
	}
	p.l.SyncAuthenticationSuccess(p.folder)
	return nil
}

func (p *pass) diff(ctx context.Context) error {
	var err error
	if p.localDates, err = p.local.MessagesAndDates(ctx); err != nil {
		return errors.Wrap(err, "listing local messages")
	}
	if p.lastUID, err = p.local.LastUID(ctx); err != nil {
		return errors.Wrap(err, "reading last local UID")
	}
	if p.pushState, err = p.local.PushState(ctx); err != nil {
		return errors.Wrap(err, "reading push state")
	}

	count, err := p.remote.MessageCount(ctx)
	if err != nil {
		return errors.Wrap(err, "counting remote messages")
	}
	if count < 0 {
		return ErrNegativeCount
	}
	p.remoteCount = count
	p.remoteStart = 1
	if limit := p.e.Options.VisibleLimit; limit > 0 && count > limit {
		p.remoteStart = count - limit + 1
	}

	p.l.SyncHeadersStarted(p.folder)
	p.remoteUIDs = make(map[string]*message.Message)
	if count > 0 {
		msgs, err := p.remote.Messages(ctx, p.remoteStart, count, p.e.Options.EarliestPollDate)
		if err != nil {
			return errors.Wrapf(err, "listing remote messages %d:%d", p.remoteStart, count)
		}
		for i, m := range msgs {
			p.l.SyncHeadersProgress(p.folder, i+1, len(msgs))
			if p.inWindow(m) {
				p.remoteUIDs[m.UID] = m
			}
		}
	}
	p.l.SyncHeadersFinished(p.folder, count, len(p.remoteUIDs))
	p.log.Debug().Int("remote", count).Int("start", p.remoteStart).
		Int("kept", len(p.remoteUIDs)).Int("local", len(p.localDates)).Msg("diffed folder")
	return nil
}

// inWindow applies the earliest poll date.  A local copy's date wins over
// the remote's, so a message already known to be old stays excluded.
func (p *pass) inWindow(m *message.Message) bool {
	earliest := p.e.Options.EarliestPollDate
	if earliest.IsZero() {
		return true
	}
	if ts, ok := p.localDates[m.UID]; ok {
		return !ts.Before(earliest)
	}
	return m.InternalDate.IsZero() || !m.InternalDate.Before(earliest)
}

func (p *pass) classify(ctx context.Context) error {
	if p.e.Options.SyncRemoteDeletions {
		for uid := range p.localDates {
			if message.IsLocalUID(uid) {
				continue
			}
			if _, ok := p.remoteUIDs[uid]; !ok {
				p.toDestroy = append(p.toDestroy, uid)
			}
		}
		sort.Strings(p.toDestroy)
	}

	uids := make([]string, 0, len(p.remoteUIDs))
	for uid := range p.remoteUIDs {
		uids = append(uids, uid)
	}
	sortUIDs(uids)
	for _, uid := range uids {
		m := p.remoteUIDs[uid]
		if m.Flags.Has(message.Deleted) {
			p.flagOnly = append(p.flagOnly, m)
			continue
		}
		local, err := p.local.Message(ctx, uid)
		if err != nil {
			return errors.Wrapf(err, "reading local message %s", uid)
		}
		switch {
		case local == nil:
			p.unsynced = append(p.unsynced, m)
		case !local.Download.Downloaded():
			p.unsynced = append(p.unsynced, m)
		default:
			p.flagOnly = append(p.flagOnly, m)
		}
	}
	p.log.Debug().Int("destroy", len(p.toDestroy)).Int("unsynced", len(p.unsynced)).
		Int("flags", len(p.flagOnly)).Msg("classified messages")
	return nil
}

func (p *pass) fetchHeaders(ctx context.Context) (small, large []*message.Message, err error) {
	if len(p.toDestroy) > 0 {
		if err := p.local.DestroyMessages(ctx, p.toDestroy); err != nil {
			return nil, nil, errors.Wrap(err, "destroying local messages")
		}
		for _, uid := range p.toDestroy {
			p.l.SyncRemovedMessage(p.folder, uid)
		}
		if err := p.local.SetMoreMessages(ctx, MoreUnknown); err != nil {
			return nil, nil, errors.Wrap(err, "resetting more messages")
		}
	}
	if err := p.updateMoreMessages(ctx); err != nil {
		return nil, nil, err
	}

	// Newest first, so a truncated pass still shows recent mail.
	sort.Slice(p.unsynced, func(i, j int) bool {
		return uidLess(p.unsynced[j].UID, p.unsynced[i].UID)
	})
	if limit := p.e.Options.VisibleLimit; limit > 0 && len(p.unsynced) > limit {
		p.unsynced = p.unsynced[:limit]
	}
	p.todo = len(p.unsynced) + len(p.flagOnly)
	if len(p.unsynced) == 0 {
		return nil, nil, nil
	}

	maxSize := p.e.Options.MaxDownloadSize
	earliest := p.e.Options.EarliestPollDate
	err = p.fetch(ctx, uidsOf(p.unsynced), command.Profile{Flags: true, Envelope: true}, func(m *message.Message) error {
		if num, ok := m.Num(); ok {
			p.pushState = NextPushState(p.pushState, num)
		}
		if m.Flags.Has(message.Deleted) || (!earliest.IsZero() && m.InternalDate.Before(earliest)) {
			p.progressed()
			return nil
		}
		if maxSize > 0 && m.Size > maxSize {
			large = append(large, m)
		} else {
			small = append(small, m)
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetching headers")
	}
	if err := p.local.SetPushState(ctx, p.pushState); err != nil {
		return nil, nil, errors.Wrap(err, "saving push state")
	}
	p.log.Debug().Int("small", len(small)).Int("large", len(large)).Msg("fetched headers")
	return small, large, nil
}

// updateMoreMessages recomputes the more messages marker when it is
// unknown.  A window starting at the first message has nothing before it.
func (p *pass) updateMoreMessages(ctx context.Context) error {
	more, err := p.local.MoreMessages(ctx)
	if err != nil {
		return errors.Wrap(err, "reading more messages")
	}
	if more != MoreUnknown {
		return nil
	}
	more = MoreFalse
	if p.remoteStart > 1 {
		ok, err := p.remote.AreMoreMessagesAvailable(ctx, p.remoteStart, p.e.Options.EarliestPollDate)
		if err != nil {
			return errors.Wrap(err, "checking for older messages")
		}
		if ok {
			more = MoreTrue
		}
	}
	return errors.Wrap(p.local.SetMoreMessages(ctx, more), "saving more messages")
}

func (p *pass) fetchSmall(ctx context.Context, small []*message.Message) error {
	if len(small) == 0 {
		return nil
	}
	byUID := index(small)
	err := p.fetch(ctx, uidsOf(small), command.Profile{Body: true}, func(m *message.Message) error {
		hdr, ok := byUID[m.UID]
		if !ok {
			p.log.Warn().Str("uid", m.UID).Msg("server sent unrequested message")
			return nil
		}
		hdr.Body = m.Body
		hdr.Download = message.Full
		return p.store(ctx, hdr)
	})
	return errors.Wrap(err, "fetching small messages")
}

func (p *pass) fetchLarge(ctx context.Context, large []*message.Message) error {
	if len(large) == 0 {
		return nil
	}
	byUID := index(large)
	err := p.fetch(ctx, uidsOf(large), command.Profile{Structure: true}, func(m *message.Message) error {
		if hdr, ok := byUID[m.UID]; ok {
			hdr.Structure = m.Structure
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "fetching structure")
	}

	maxSize := p.e.Options.MaxDownloadSize
	for _, hdr := range large {
		set := uidsOf([]*message.Message{hdr})
		if hdr.Structure == nil {
			err = p.fetch(ctx, set, command.Profile{BodySane: true, MaxBodySize: maxSize}, func(m *message.Message) error {
				hdr.Body = m.Body
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "fetching message %s", hdr.UID)
			}
			hdr.Download = message.Partial
			if maxSize <= 0 || hdr.Size <= maxSize {
				hdr.Download = message.Full
			}
		} else {
			var sections []string
			for _, part := range message.Viewables(hdr.Structure) {
				sections = append(sections, part.Path())
			}
			if len(sections) > 0 {
				err = p.fetch(ctx, set, command.Profile{Sections: sections}, func(m *message.Message) error {
					hdr.Parts = m.Parts
					return nil
				})
				if err != nil {
					return errors.Wrapf(err, "fetching parts of message %s", hdr.UID)
				}
			}
			hdr.Download = message.Partial
		}
		if err := p.store(ctx, hdr); err != nil {
			return err
		}
	}
	return nil
}

// store saves a downloaded message and announces it.
func (p *pass) store(ctx context.Context, m *message.Message) error {
	if err := p.local.AppendMessages(ctx, []*message.Message{m}); err != nil {
		return errors.Wrapf(err, "storing message %s", m.UID)
	}
	isOld := false
	if num, ok := m.Num(); ok && num <= p.lastUID {
		isOld = true
	}
	if !m.Flags.Has(message.Seen) {
		p.newCount++
	}
	p.l.SyncNewMessage(p.folder, m, isOld)
	p.progressed()
	return nil
}

func (p *pass) refreshFlags(ctx context.Context) error {
	locals := make(map[string]*message.Message)
	var refresh []*message.Message
	for _, m := range p.flagOnly {
		local, err := p.local.Message(ctx, m.UID)
		if err != nil {
			return errors.Wrapf(err, "reading local message %s", m.UID)
		}
		if local == nil {
			continue
		}
		locals[m.UID] = local
		refresh = append(refresh, m)
	}
	if len(refresh) == 0 {
		return nil
	}

	err := p.fetch(ctx, uidsOf(refresh), command.Profile{Flags: true}, func(m *message.Message) error {
		local, ok := locals[m.UID]
		if !ok {
			return nil
		}
		if err := p.applyFlags(ctx, local, m.Flags); err != nil {
			return err
		}
		p.progressed()
		return nil
	})
	return errors.Wrap(err, "refreshing flags")
}

// applyFlags copies remote flag state onto a local message and announces
// the change, if any. Changes to a locally deleted message are stored but
// announced as a removal, since the message is no longer visible.
func (p *pass) applyFlags(ctx context.Context, local *message.Message, remote message.Flags) error {
	suppressed := local.Flags.Has(message.Deleted)
	if remote.Has(message.Deleted) && p.e.Options.SyncRemoteDeletions && !suppressed {
		local.Flags = local.Flags.With(message.Deleted, true)
		if err := p.local.SetFlags(ctx, local.UID, local.Flags); err != nil {
			return errors.Wrapf(err, "deleting message %s", local.UID)
		}
		p.l.SyncRemovedMessage(p.folder, local.UID)
		return nil
	}

	updated := local.Flags
	for _, f := range message.SyncedFlags {
		updated = updated.With(f, remote.Has(f))
	}
	if updated == local.Flags {
		return nil
	}
	local.Flags = updated
	if err := p.local.SetFlags(ctx, local.UID, updated); err != nil {
		return errors.Wrapf(err, "updating flags of %s", local.UID)
	}
	if suppressed {
		p.l.SyncRemovedMessage(p.folder, local.UID)
		return nil
	}
	p.l.SyncFlagChanged(p.folder, local)
	return nil
}

func (p *pass) purge(ctx context.Context) error {
	limit := p.e.Options.VisibleLimit
	if limit <= 0 {
		return nil
	}
	purged, err := p.local.PurgeToVisibleLimit(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "purging local messages")
	}
	for _, uid := range purged {
		p.l.SyncRemovedMessage(p.folder, uid)
	}
	return nil
}

func (p *pass) finish(ctx context.Context) error {
	if err := p.local.SetLastChecked(ctx, p.e.now()); err != nil {
		return errors.Wrap(err, "recording last checked time")
	}
	if err := p.local.SetStatus(ctx, ""); err != nil {
		return errors.Wrap(err, "clearing folder status")
	}
	p.enter(Finished)
	p.l.SyncFinished(p.folder, p.remoteCount, p.newCount)
	return nil
}

func (p *pass) progressed() {
	p.progress++
	p.l.SyncProgress(p.folder, p.progress, p.todo)
}

// fetch runs a FETCH for set, split to fit the connection, passing each
// result to fn.
func (p *pass) fetch(ctx context.Context, set uidset.Set, prof command.Profile, fn func(*message.Message) error) error {
	cmds, err := command.Prepare(command.NewFetch(set, prof), p.remote)
	if err != nil {
		return err
	}
	return command.Run(ctx, cmds, func(ctx context.Context, c command.Command) error {
		for m, err := range p.remote.Fetch(ctx, c) {
			if err != nil {
				return err
			}
			if err := fn(m); err != nil {
				return err
			}
		}
		return nil
	})
}

func uidsOf(msgs []*message.Message) uidset.Set {
	var set uidset.Set
	for _, m := range msgs {
		if num, ok := m.Num(); ok {
			set.AddID(num)
		}
	}
	return set
}

func index(msgs []*message.Message) map[string]*message.Message {
	byUID := make(map[string]*message.Message, len(msgs))
	for _, m := range msgs {
		byUID[m.UID] = m
	}
	return byUID
}

// uidLess orders numeric UIDs numerically and puts them before
// local-only ones.
func uidLess(a, b string) bool {
	na, aok := message.ParseUID(a)
	nb, bok := message.ParseUID(b)
	switch {
	case aok && bok:
		return na < nb
	case aok != bok:
		return aok
	}
	return a < b
}

func sortUIDs(uids []string) {
	sort.Slice(uids, func(i, j int) bool { return uidLess(uids[i], uids[j]) })
}
