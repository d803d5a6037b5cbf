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

package command

import (
	"testing"

	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/uidset"
)

func TestString(t *testing.T) {
	ids := uidset.Set{Singles: []uint64{9, 3}, Ranges: []uidset.Range{{Start: 20, End: uidset.LastID}}}
	cases := []struct {
		cmd  Command
		want string
	}{
		{
			cmd:  NewSearch(ids, "UNSEEN"),
			want: "UID SEARCH UID 3,9,20:* UNSEEN",
		},
		{
			cmd:  NewSearch(uidset.Set{}, "SINCE 1-Feb-2024 NOT DELETED"),
			want: "UID SEARCH SINCE 1-Feb-2024 NOT DELETED",
		},
		{
			cmd:  NewSearch(uidset.New(1), ""),
			want: "UID SEARCH UID 1 ALL",
		},
		{
			cmd:  NewFetch(uidset.New(5), Profile{Flags: true}),
			want: "UID FETCH 5 (UID FLAGS)",
		},
		{
			cmd:  NewStore(uidset.New(1, 2), message.Seen|message.Flagged, true),
			want: `UID STORE 1,2 +FLAGS.SILENT (\Seen \Flagged)`,
		},
		{
			cmd:  NewStore(uidset.New(7), message.Deleted, false),
			want: `UID STORE 7 -FLAGS.SILENT (\Deleted)`,
		},
		{
			cmd:  NewCopy(uidset.New(4), `Archive "2024"`),
			want: `UID COPY 4 "Archive \"2024\""`,
		},
		{
			cmd:  NewMove(uidset.Set{Ranges: []uidset.Range{{Start: uidset.LastID, End: uidset.LastID}}}, "Trash"),
			want: `UID MOVE *:* "Trash"`,
		},
		{
			cmd:  NewExpunge(uidset.New(8, 6)),
			want: "UID EXPUNGE 6,8",
		},
	}
	for _, tc := range cases {
		if got := tc.cmd.String(); got != tc.want {
			t.Errorf("%v.String() = %q, want %q", tc.cmd.Kind(), got, tc.want)
		}
	}
}

func TestProfileItems(t *testing.T) {
	cases := []struct {
		p    Profile
		want string
	}{
		{Profile{}, "UID FETCH 1 (UID)"},
		{
			Profile{Flags: true, Envelope: true},
			"UID FETCH 1 (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER.FIELDS " +
				"(date subject from content-type to cc reply-to message-id references in-reply-to " +
				"X-Mailsync-Identity)])",
		},
		{Profile{Structure: true, BodySane: true, MaxBodySize: 32768}, "UID FETCH 1 (UID BODYSTRUCTURE BODY.PEEK[]<0.32768>)"},
		{Profile{BodySane: true}, "UID FETCH 1 (UID BODY.PEEK[])"},
		{Profile{Flags: true, InternalDate: true}, "UID FETCH 1 (UID FLAGS INTERNALDATE)"},
		{Profile{Body: true, BodySane: true, MaxBodySize: 10}, "UID FETCH 1 (UID BODY.PEEK[])"},
		{Profile{Sections: []string{"1.1", "2"}}, "UID FETCH 1 (UID BODY.PEEK[1.1] BODY.PEEK[2])"},
	}
	for _, tc := range cases {
		if got := NewFetch(uidset.New(1), tc.p).String(); got != tc.want {
			t.Errorf("NewFetch(%+v).String() = %q, want %q", tc.p, got, tc.want)
		}
	}
}

func TestWithSetKeepsParameters(t *testing.T) {
	orig := NewStore(uidset.New(1, 2, 3), message.Flagged, true)
	sub := orig.WithSet(uidset.New(10))
	if got, want := sub.String(), `UID STORE 10 +FLAGS.SILENT (\Flagged)`; got != want {
		t.Errorf("WithSet().String() = %q, want %q", got, want)
	}
	if got, want := orig.String(), `UID STORE 1,2,3 +FLAGS.SILENT (\Flagged)`; got != want {
		t.Errorf("original changed: String() = %q, want %q", got, want)
	}
}
