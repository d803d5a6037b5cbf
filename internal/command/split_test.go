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
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matta/mailsync/internal/uidset"
	"github.com/pkg/errors"
)

type capability bool

func (p capability) SupportsExtendedCommandLength() bool { return bool(p) }

func TestLimitFor(t *testing.T) {
	if got := LimitFor(capability(false)); got != 980 {
		t.Errorf("LimitFor(false) = %d, want 980", got)
	}
	if got := LimitFor(capability(true)); got != 8172 {
		t.Errorf("LimitFor(true) = %d, want 8172", got)
	}
}

// checkSplit verifies that subs partition want with every rendering
// within limit, and that no range of the compacted input was divided.
func checkSplit(t *testing.T, orig Command, subs []Command, limit int) {
	t.Helper()
	seen := make(map[uint64]int)
	for i, sub := range subs {
		if n := len(sub.String()); n > limit {
			t.Errorf("sub-command %d is %d bytes, limit %d: %q", i, n, limit, sub.String())
		}
		if sub.Set().IsEmpty() {
			t.Errorf("sub-command %d has no identifiers", i)
		}
		ids, err := sub.Set().Values()
		if err != nil {
			t.Fatalf("Values() = %v", err)
		}
		for _, id := range ids {
			seen[id]++
		}
	}

	want, err := orig.Set().Values()
	if err != nil {
		t.Fatalf("Values() = %v", err)
	}
	if len(seen) != len(want) {
		t.Errorf("split covers %d identifiers, want %d", len(seen), len(want))
	}
	for _, id := range want {
		if seen[id] != 1 {
			t.Errorf("identifier %d appears %d times, want 1", id, seen[id])
		}
	}

	for _, r := range orig.Set().Compact().Ranges {
		found := 0
		for _, sub := range subs {
			for _, sr := range sub.Set().Ranges {
				if sr == r {
					found++
				}
			}
		}
		if found != 1 {
			t.Errorf("range %v found intact in %d sub-commands, want 1", r, found)
		}
	}
}

func TestSplitManyIdentifiers(t *testing.T) {
	// 2000 non-adjacent identifiers of one to four digits.
	var set uidset.Set
	for id := uint64(2); id <= 4000; id += 2 {
		set.AddID(id)
	}
	cmd := NewFetch(set, Profile{Flags: true})
	subs, err := Split(cmd, LengthLimit)
	if err != nil {
		t.Fatalf("Split() = %v, want nil", err)
	}
	if len(subs) < 3 {
		t.Errorf("Split() returned %d commands, want at least 3", len(subs))
	}
	checkSplit(t, cmd, subs, LengthLimit)

	total := 0
	for _, sub := range subs {
		total += len(sub.Set().Singles)
	}
	if total != 2000 {
		t.Errorf("split carries %d identifiers, want 2000", total)
	}
}

func TestSplitRandom(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		var set uidset.Set
		for j := 0; j < 50+r.Intn(1500); j++ {
			id := uint64(r.Intn(100000)) + 1
			if r.Intn(5) == 0 {
				set.AddRange(id, id+uint64(r.Intn(50)))
			} else {
				set.AddID(id)
			}
		}
		limit := 80 + r.Intn(1000)
		cmd := NewStore(set, 0, true)
		if i%2 == 0 {
			cmd = NewExpunge(set)
		}
		subs, err := Split(cmd, limit)
		if err != nil {
			t.Fatalf("Split(limit=%d) = %v, want nil", limit, err)
		}
		checkSplit(t, cmd, subs, limit)
	}
}

func TestSplitKeepsOrder(t *testing.T) {
	var set uidset.Set
	for id := uint64(100); id < 700; id += 3 {
		set.AddID(id)
	}
	set.AddRange(1000, 1999)
	set.AddRange(5000, 5001)
	subs, err := Split(NewExpunge(set), 100)
	if err != nil {
		t.Fatalf("Split() = %v, want nil", err)
	}
	var last uint64
	for i, sub := range subs {
		ids, err := sub.Set().Values()
		if err != nil {
			t.Fatal(err)
		}
		if ids[0] <= last {
			t.Errorf("sub-command %d starts at %d, not after %d", i, ids[0], last)
		}
		last = ids[len(ids)-1]
	}
	if got := subs[len(subs)-1].String(); !strings.HasSuffix(got, "1000:1999,5000:5001") {
		t.Errorf("last sub-command = %q, want the ranges", got)
	}
}

func TestSplitFits(t *testing.T) {
	cmd := NewFetch(uidset.New(1, 2, 3), Profile{Flags: true})
	subs, err := Split(cmd, LengthLimit)
	if err != nil {
		t.Fatalf("Split() = %v, want nil", err)
	}
	if diff := cmp.Diff([]string{cmd.String()}, []string{subs[0].String()}); diff != "" || len(subs) != 1 {
		t.Errorf("Split() of a short command mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitWithoutIdentifiers(t *testing.T) {
	cmd := NewSearch(uidset.Set{}, "TEXT "+strings.Repeat("x", 2000))
	if _, err := Split(cmd, LengthLimit); errors.Cause(err) != ErrNoIdentifiers {
		t.Errorf("Split() = %v, want %v", err, ErrNoIdentifiers)
	}
}

func TestSplitItemTooLong(t *testing.T) {
	var set uidset.Set
	set.AddRange(1000000, 2000000)
	for id := uint64(1); id < 100; id += 2 {
		set.AddID(id)
	}
	cmd := NewExpunge(set)
	// "UID EXPUNGE " is 12 bytes; the range needs 16 more.
	if _, err := Split(cmd, 20); errors.Cause(err) != ErrItemTooLong {
		t.Errorf("Split() = %v, want %v", err, ErrItemTooLong)
	}
}

func TestRun(t *testing.T) {
	var set uidset.Set
	for id := uint64(1); id < 2000; id += 2 {
		set.AddID(id)
	}
	subs, err := Split(NewExpunge(set), LengthLimit)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = Run(context.Background(), subs, func(_ context.Context, c Command) error {
		got = append(got, c.String())
		return nil
	})
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	var want []string
	for _, s := range subs {
		want = append(want, s.String())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Run() order mismatch (-want +got):\n%s", diff)
	}

	boom := errors.New("boom")
	calls := 0
	err = Run(context.Background(), subs, func(context.Context, Command) error {
		calls++
		return boom
	})
	if errors.Cause(err) != boom || calls != 1 {
		t.Errorf("Run() = %v after %d calls, want %v after 1", err, calls, boom)
	}
}
