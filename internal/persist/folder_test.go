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

package persist

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/matta/mailsync/internal/bodystore"
	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/sync"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return base.Add(time.Duration(hours) * time.Hour)
}

func openFolder(t *testing.T, name string) (*Store, *Folder) {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(dir, "mailsync.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	bodies, err := bodystore.New(filepath.Join(dir, "bodies"))
	if err != nil {
		t.Fatalf("bodystore.New() = %v", err)
	}
	s := db.Account("me@example.com", bodies)
	lf, err := s.Folder(ctx, name)
	if err != nil {
		t.Fatalf("Folder() = %v", err)
	}
	f := lf.(*Folder)
	if err := f.Open(ctx); err != nil {
		t.Fatalf("Open(%s) = %v", name, err)
	}
	return s, f
}

func TestAppendAndRead(t *testing.T) {
	ctx := context.Background()
	_, f := openFolder(t, "INBOX")

	structure := &message.Part{
		Type: "multipart", Subtype: "alternative",
		Children: []*message.Part{
			{Number: []int{1}, Type: "text", Subtype: "plain", Size: 5},
			{Number: []int{2}, Type: "text", Subtype: "html", Size: 20},
		},
	}
	msgs := []*message.Message{
		{
			UID:          "7",
			Flags:        message.Seen | message.Flagged,
			InternalDate: at(1),
			Size:         123,
			Header: message.Header{
				Date:       at(0),
				Subject:    "Hello",
				From:       []string{"Ann <ann@example.com>"},
				To:         []string{"me@example.com", "you@example.com"},
				MessageID:  "<1@example.com>",
				References: []string{"<0@example.com>"},
				Identity:   "work",
			},
			Body:     []byte("Subject: Hello\r\n\r\nHi there\r\n"),
			Download: message.Full,
		},
		{
			UID:          "12",
			InternalDate: at(2),
			Size:         99999,
			Structure:    structure,
			Parts:        map[string][]byte{"1": []byte("plain"), "2": []byte("<p>html</p>")},
			Download:     message.Partial,
		},
	}
	if err := f.AppendMessages(ctx, msgs); err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}

	got, err := f.Message(ctx, "7")
	if err != nil {
		t.Fatalf("Message(7) = %v", err)
	}
	want := *msgs[0]
	want.Body = nil
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("Message(7) mismatch (-want +got):\n%s", diff)
	}
	if body, err := f.Body(ctx, "7"); err != nil || string(body) != string(msgs[0].Body) {
		t.Errorf("Body(7) = %q, %v, want %q", body, err, msgs[0].Body)
	}

	got, err = f.Message(ctx, "12")
	if err != nil {
		t.Fatalf("Message(12) = %v", err)
	}
	if diff := cmp.Diff(structure, got.Structure); diff != "" {
		t.Errorf("Message(12).Structure mismatch (-want +got):\n%s", diff)
	}
	if part, err := f.Part(ctx, "12", "2"); err != nil || string(part) != "<p>html</p>" {
		t.Errorf("Part(12, 2) = %q, %v", part, err)
	}

	if m, err := f.Message(ctx, "99"); m != nil || err != nil {
		t.Errorf("Message(99) = %v, %v, want nil, nil", m, err)
	}

	dates, err := f.MessagesAndDates(ctx)
	if err != nil {
		t.Fatalf("MessagesAndDates() = %v", err)
	}
	wantDates := map[string]time.Time{"7": at(1), "12": at(2)}
	if diff := cmp.Diff(wantDates, dates); diff != "" {
		t.Errorf("MessagesAndDates() mismatch (-want +got):\n%s", diff)
	}

	if last, err := f.LastUID(ctx); err != nil || last != 12 {
		t.Errorf("LastUID() = %d, %v, want 12", last, err)
	}
}

func TestLastUIDEmptyAndLocal(t *testing.T) {
	ctx := context.Background()
	_, f := openFolder(t, "Drafts")
	if last, err := f.LastUID(ctx); err != nil || last != 0 {
		t.Errorf("LastUID() = %d, %v, want 0", last, err)
	}
	uid, err := f.AppendLocal(ctx, &message.Message{InternalDate: at(1), Body: []byte("draft")})
	if err != nil {
		t.Fatalf("AppendLocal() = %v", err)
	}
	if !message.IsLocalUID(uid) {
		t.Errorf("AppendLocal() = %q, want a local UID", uid)
	}
	if last, err := f.LastUID(ctx); err != nil || last != 0 {
		t.Errorf("LastUID() with only local messages = %d, %v, want 0", last, err)
	}
	m, err := f.Message(ctx, uid)
	if err != nil || m == nil || m.Download != message.Full {
		t.Errorf("Message(%s) = %v, %v, want a full message", uid, m, err)
	}
}

func TestSetFlagsAndDestroy(t *testing.T) {
	ctx := context.Background()
	_, f := openFolder(t, "INBOX")
	err := f.AppendMessages(ctx, []*message.Message{
		{UID: "1", InternalDate: at(1), Body: []byte("one"), Download: message.Full},
		{UID: "2", InternalDate: at(2), Body: []byte("two"), Download: message.Full},
	})
	if err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}
	if err := f.SetFlags(ctx, "2", message.Seen|message.Answered); err != nil {
		t.Fatalf("SetFlags() = %v", err)
	}
	if m, _ := f.Message(ctx, "2"); m.Flags != message.Seen|message.Answered {
		t.Errorf("flags = %v, want %v", m.Flags, message.Seen|message.Answered)
	}
	if err := f.SetFlags(ctx, "3", message.Seen); err == nil {
		t.Errorf("SetFlags(missing) succeeded")
	}

	if err := f.DestroyMessages(ctx, []string{"1", "3"}); err != nil {
		t.Fatalf("DestroyMessages() = %v", err)
	}
	if m, _ := f.Message(ctx, "1"); m != nil {
		t.Errorf("message 1 still present")
	}
	if _, err := f.Body(ctx, "1"); err == nil {
		t.Errorf("body of message 1 still present")
	}
	if m, _ := f.Message(ctx, "2"); m == nil {
		t.Errorf("message 2 destroyed")
	}
}

func TestDestroyManyMessages(t *testing.T) {
	ctx := context.Background()
	_, f := openFolder(t, "INBOX")
	n := 3*maxDeleteBatch + 7
	var msgs []*message.Message
	var uids []string
	for i := 1; i <= n; i++ {
		uid := message.FormatUID(uint64(i))
		msgs = append(msgs, &message.Message{UID: uid, InternalDate: at(i), Body: []byte("x"), Download: message.Full})
		uids = append(uids, uid)
	}
	if err := f.AppendMessages(ctx, msgs); err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}

	if err := f.DestroyMessages(ctx, uids[:n-2]); err != nil {
		t.Fatalf("DestroyMessages(%d) = %v", n-2, err)
	}
	dates, err := f.MessagesAndDates(ctx)
	if err != nil {
		t.Fatalf("MessagesAndDates() = %v", err)
	}
	var left []string
	for uid := range dates {
		left = append(left, uid)
	}
	sort.Strings(left)
	if diff := cmp.Diff(uids[n-2:], left); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	for _, uid := range []string{uids[0], uids[maxDeleteBatch], uids[n-3]} {
		if _, err := f.Body(ctx, uid); err == nil {
			t.Errorf("body of message %s still present", uid)
		}
	}
	if body, err := f.Body(ctx, uids[n-1]); err != nil || string(body) != "x" {
		t.Errorf("Body(%s) = %q, %v, want %q", uids[n-1], body, err, "x")
	}
}

func TestPurgeManyMessages(t *testing.T) {
	ctx := context.Background()
	_, f := openFolder(t, "INBOX")
	n := 2*maxDeleteBatch + 1
	var msgs []*message.Message
	for i := 1; i <= n; i++ {
		msgs = append(msgs, &message.Message{UID: message.FormatUID(uint64(i)), InternalDate: at(i), Download: message.Full})
	}
	if err := f.AppendMessages(ctx, msgs); err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}
	purged, err := f.PurgeToVisibleLimit(ctx, 1)
	if err != nil {
		t.Fatalf("PurgeToVisibleLimit(1) = %v", err)
	}
	if len(purged) != n-1 {
		t.Errorf("PurgeToVisibleLimit(1) purged %d, want %d", len(purged), n-1)
	}
	if dates, _ := f.MessagesAndDates(ctx); len(dates) != 1 {
		t.Errorf("remaining = %d, want 1", len(dates))
	}
}

func TestPurgeToVisibleLimit(t *testing.T) {
	ctx := context.Background()
	_, f := openFolder(t, "INBOX")
	var msgs []*message.Message
	for i, uid := range []string{"5", "3", "9", "4"} {
		msgs = append(msgs, &message.Message{UID: uid, InternalDate: at(i), Download: message.Full})
	}
	if err := f.AppendMessages(ctx, msgs); err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}

	purged, err := f.PurgeToVisibleLimit(ctx, 2)
	if err != nil {
		t.Fatalf("PurgeToVisibleLimit() = %v", err)
	}
	if diff := cmp.Diff([]string{"5", "3"}, purged); diff != "" {
		t.Errorf("purged mismatch (-want +got):\n%s", diff)
	}
	dates, _ := f.MessagesAndDates(ctx)
	var left []string
	for uid := range dates {
		left = append(left, uid)
	}
	sort.Strings(left)
	if diff := cmp.Diff([]string{"4", "9"}, left); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}

	if purged, err := f.PurgeToVisibleLimit(ctx, 5); err != nil || len(purged) != 0 {
		t.Errorf("PurgeToVisibleLimit(5) = %v, %v, want nothing", purged, err)
	}
}

func TestFolderState(t *testing.T) {
	ctx := context.Background()
	s, f := openFolder(t, "INBOX")

	if more, err := f.MoreMessages(ctx); err != nil || more != sync.MoreUnknown {
		t.Errorf("MoreMessages() = %v, %v, want unknown", more, err)
	}
	if err := f.SetMoreMessages(ctx, sync.MoreTrue); err != nil {
		t.Fatalf("SetMoreMessages() = %v", err)
	}
	if more, _ := f.MoreMessages(ctx); more != sync.MoreTrue {
		t.Errorf("MoreMessages() = %v, want true", more)
	}

	if err := f.SetPushState(ctx, "uidNext=10"); err != nil {
		t.Fatalf("SetPushState() = %v", err)
	}
	if ps, _ := f.PushState(ctx); ps != "uidNext=10" {
		t.Errorf("PushState() = %q, want uidNext=10", ps)
	}

	if err := f.SetLastChecked(ctx, at(5)); err != nil {
		t.Fatalf("SetLastChecked() = %v", err)
	}
	if lc, _ := f.LastChecked(ctx); !lc.Equal(at(5)) {
		t.Errorf("LastChecked() = %v, want %v", lc, at(5))
	}

	if err := f.SetStatus(ctx, "connection reset"); err != nil {
		t.Fatalf("SetStatus() = %v", err)
	}
	if st, _ := f.Status(ctx); st != "connection reset" {
		t.Errorf("Status() = %q", st)
	}

	// Opening again keeps the state.
	if err := f.Open(ctx); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if ps, _ := f.PushState(ctx); ps != "uidNext=10" {
		t.Errorf("PushState() after reopen = %q", ps)
	}

	unopened := s.folder("Archive")
	if err := unopened.SetStatus(ctx, "x"); err == nil {
		t.Errorf("SetStatus() on an unopened folder succeeded")
	}

	if err := f.AppendMessages(ctx, []*message.Message{
		{UID: "1", Flags: message.Seen, InternalDate: at(1)},
		{UID: "2", InternalDate: at(2)},
	}); err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}
	infos, err := s.Folders(ctx)
	if err != nil {
		t.Fatalf("Folders() = %v", err)
	}
	want := []FolderInfo{{
		Name:              "INBOX",
		Messages:          2,
		Unread:            1,
		LastChecked:       at(5),
		Status:            "connection reset",
		PushState:         "uidNext=10",
		LastCheckedMillis: at(5).UnixMilli(),
	}}
	if diff := cmp.Diff(want, infos); diff != "" {
		t.Errorf("Folders() mismatch (-want +got):\n%s", diff)
	}
}
