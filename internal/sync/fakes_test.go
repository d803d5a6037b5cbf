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
	"fmt"
	"iter"
	"sort"
	gosync "sync"
	"time"

	"github.com/pkg/errors"

	"github.com/matta/mailsync/internal/command"
	"github.com/matta/mailsync/internal/message"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return base.Add(time.Duration(hours) * time.Hour)
}

func clone(m *message.Message) *message.Message {
	c := *m
	c.Body = append([]byte(nil), m.Body...)
	if m.Parts != nil {
		c.Parts = make(map[string][]byte, len(m.Parts))
		for k, v := range m.Parts {
			c.Parts[k] = v
		}
	}
	return &c
}

type fakeLocal struct {
	folders map[string]*fakeLocalFolder
}

func (s *fakeLocal) Folder(ctx context.Context, name string) (LocalFolder, error) {
	f, ok := s.folders[name]
	if !ok {
		return nil, errors.Errorf("no local folder %q", name)
	}
	return f, nil
}

type fakeLocalFolder struct {
	name        string
	msgs        map[string]*message.Message
	pushState   string
	more        MoreMessages
	lastChecked time.Time
	status      string
	opened      bool
	closed      bool
}

func newLocalFolder(name string, msgs ...*message.Message) *fakeLocalFolder {
	f := &fakeLocalFolder{name: name, msgs: make(map[string]*message.Message)}
	for _, m := range msgs {
		f.msgs[m.UID] = clone(m)
	}
	return f
}

func (f *fakeLocalFolder) Name() string { return f.name }

func (f *fakeLocalFolder) Open(ctx context.Context) error {
	f.opened = true
	return nil
}

func (f *fakeLocalFolder) Close() error {
	f.closed = true
	return nil
}

func (f *fakeLocalFolder) MessagesAndDates(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(f.msgs))
	for uid, m := range f.msgs {
		out[uid] = m.InternalDate
	}
	return out, nil
}

func (f *fakeLocalFolder) Message(ctx context.Context, uid string) (*message.Message, error) {
	m, ok := f.msgs[uid]
	if !ok {
		return nil, nil
	}
	return clone(m), nil
}

func (f *fakeLocalFolder) LastUID(ctx context.Context) (uint64, error) {
	var last uint64
	for uid := range f.msgs {
		if n, ok := message.ParseUID(uid); ok && n > last {
			last = n
		}
	}
	return last, nil
}

func (f *fakeLocalFolder) AppendMessages(ctx context.Context, msgs []*message.Message) error {
	for _, m := range msgs {
		f.msgs[m.UID] = clone(m)
	}
	return nil
}

func (f *fakeLocalFolder) SetFlags(ctx context.Context, uid string, flags message.Flags) error {
	m, ok := f.msgs[uid]
	if !ok {
		return errors.Errorf("no message %s", uid)
	}
	m.Flags = flags
	return nil
}

func (f *fakeLocalFolder) DestroyMessages(ctx context.Context, uids []string) error {
	for _, uid := range uids {
		delete(f.msgs, uid)
	}
	return nil
}

func (f *fakeLocalFolder) PurgeToVisibleLimit(ctx context.Context, limit int) ([]string, error) {
	var all []*message.Message
	for _, m := range f.msgs {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].InternalDate.Equal(all[j].InternalDate) {
			return all[i].InternalDate.Before(all[j].InternalDate)
		}
		return uidLess(all[i].UID, all[j].UID)
	})
	var purged []string
	for len(all) > limit {
		purged = append(purged, all[0].UID)
		delete(f.msgs, all[0].UID)
		all = all[1:]
	}
	return purged, nil
}

func (f *fakeLocalFolder) PushState(ctx context.Context) (string, error) { return f.pushState, nil }

func (f *fakeLocalFolder) SetPushState(ctx context.Context, state string) error {
	f.pushState = state
	return nil
}

func (f *fakeLocalFolder) MoreMessages(ctx context.Context) (MoreMessages, error) { return f.more, nil }

func (f *fakeLocalFolder) SetMoreMessages(ctx context.Context, more MoreMessages) error {
	f.more = more
	return nil
}

func (f *fakeLocalFolder) SetLastChecked(ctx context.Context, t time.Time) error {
	f.lastChecked = t
	return nil
}

func (f *fakeLocalFolder) SetStatus(ctx context.Context, status string) error {
	f.status = status
	return nil
}

type fakeRemote struct {
	folders map[string]*fakeRemoteFolder
}

func (s *fakeRemote) Folder(ctx context.Context, name string) (RemoteFolder, error) {
	f, ok := s.folders[name]
	if !ok {
		return nil, errors.Errorf("no remote folder %q", name)
	}
	return f, nil
}

type fakeRemoteFolder struct {
	name     string
	msgs     []*message.Message // ascending UID; index+1 is the sequence number
	extended bool

	openErr   error
	count     *int
	failFetch func(command.Command) error

	opened  bool
	closed  bool
	fetched []command.Command
}

func newRemoteFolder(name string, msgs ...*message.Message) *fakeRemoteFolder {
	f := &fakeRemoteFolder{name: name}
	for _, m := range msgs {
		f.msgs = append(f.msgs, clone(m))
	}
	sort.Slice(f.msgs, func(i, j int) bool { return uidLess(f.msgs[i].UID, f.msgs[j].UID) })
	return f
}

func (f *fakeRemoteFolder) SupportsExtendedCommandLength() bool { return f.extended }

func (f *fakeRemoteFolder) Name() string { return f.name }

func (f *fakeRemoteFolder) Open(ctx context.Context, mode OpenMode) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeRemoteFolder) Close() error {
	f.closed = true
	return nil
}

func (f *fakeRemoteFolder) MessageCount(ctx context.Context) (int, error) {
	if f.count != nil {
		return *f.count, nil
	}
	return len(f.msgs), nil
}

func (f *fakeRemoteFolder) Messages(ctx context.Context, start, end int, earliest time.Time) ([]*message.Message, error) {
	if start < 1 || end > len(f.msgs) || start > end {
		return nil, errors.Errorf("bad range %d:%d", start, end)
	}
	var out []*message.Message
	for _, m := range f.msgs[start-1 : end] {
		if m.Flags.Has(message.Deleted) {
			continue
		}
		if !earliest.IsZero() && m.InternalDate.Before(earliest) {
			continue
		}
		out = append(out, &message.Message{UID: m.UID, Flags: m.Flags, InternalDate: m.InternalDate})
	}
	return out, nil
}

func (f *fakeRemoteFolder) byUID(id uint64) *message.Message {
	for _, m := range f.msgs {
		if n, ok := m.Num(); ok && n == id {
			return m
		}
	}
	return nil
}

func (f *fakeRemoteFolder) Fetch(ctx context.Context, cmd command.Command) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		f.fetched = append(f.fetched, cmd)
		if limit := command.LimitFor(f); len(cmd.String()) > limit {
			yield(nil, errors.Errorf("command longer than %d bytes", limit))
			return
		}
		if f.failFetch != nil {
			if err := f.failFetch(cmd); err != nil {
				yield(nil, err)
				return
			}
		}
		ids, err := cmd.Set().Values()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			m := f.byUID(id)
			if m == nil {
				continue
			}
			if !yield(render(m, cmd.Profile()), nil) {
				return
			}
		}
	}
}

// render returns the parts of m that prof asks for.
func render(m *message.Message, prof command.Profile) *message.Message {
	out := &message.Message{UID: m.UID}
	if prof.Flags {
		out.Flags = m.Flags
	}
	if prof.Envelope {
		out.InternalDate = m.InternalDate
		out.Size = m.Size
		out.Header = m.Header
	}
	if prof.Structure {
		out.Structure = m.Structure
	}
	switch {
	case prof.Body:
		out.Body = append([]byte(nil), m.Body...)
	case prof.BodySane:
		body := m.Body
		if prof.MaxBodySize > 0 && int64(len(body)) > prof.MaxBodySize {
			body = body[:prof.MaxBodySize]
		}
		out.Body = append([]byte(nil), body...)
	}
	for _, s := range prof.Sections {
		if out.Parts == nil {
			out.Parts = make(map[string][]byte)
		}
		out.Parts[s] = m.Parts[s]
	}
	return out
}

func (f *fakeRemoteFolder) AreMoreMessagesAvailable(ctx context.Context, start int, earliest time.Time) (bool, error) {
	for _, m := range f.msgs[:start-1] {
		if earliest.IsZero() || !m.InternalDate.Before(earliest) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRemoteFolder) Expunge(ctx context.Context) error { return nil }

// recorder keeps the events a test cares about, per folder.
type recorder struct {
	NopListener
	mu     gosync.Mutex
	events map[string][]string
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]string)}
}

func (r *recorder) add(folder, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[folder] = append(r.events[folder], fmt.Sprintf(format, args...))
}

func (r *recorder) get(folder string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[folder]
}

func (r *recorder) SyncStarted(folder string) { r.add(folder, "started") }

func (r *recorder) SyncAuthenticationSuccess(folder string) { r.add(folder, "open") }

func (r *recorder) SyncNewMessage(folder string, msg *message.Message, isOld bool) {
	r.add(folder, "new %s old=%v", msg.UID, isOld)
}

func (r *recorder) SyncFlagChanged(folder string, msg *message.Message) {
	r.add(folder, "flags %s %v", msg.UID, msg.Flags)
}

func (r *recorder) SyncRemovedMessage(folder string, uid string) {
	r.add(folder, "removed %s", uid)
}

func (r *recorder) SyncFinished(folder string, remoteCount, newCount int) {
	r.add(folder, "finished %d %d", remoteCount, newCount)
}

func (r *recorder) SyncFailed(folder string, reason string, err error) {
	r.add(folder, "failed %s", reason)
}

func (r *recorder) SyncAuthFailed(folder string, err error) {
	r.add(folder, "authfailed")
}
