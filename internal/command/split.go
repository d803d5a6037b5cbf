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
	"sort"
	"strconv"

	"github.com/matta/mailsync/internal/uidset"
	"github.com/pkg/errors"
)

// Command length budgets.  RFC 2683 recommends clients keep lines under
// 1000 octets; RFC 7162 raises that to 8192 for servers advertising
// CONDSTORE.  Both leave 20 octets for the tag, its separating space and
// CRLF, which the splitter does not count.
const (
	LengthLimit         = 1000 - 20
	ExtendedLengthLimit = 8192 - 20
)

var (
	// ErrNoIdentifiers is returned when a command is too long but has
	// no identifiers that could be spread over several commands.
	ErrNoIdentifiers = errors.New("command too long but addresses no identifiers")

	// ErrItemTooLong is returned when a single identifier or range
	// does not fit into a command by itself.
	ErrItemTooLong = errors.New("identifier does not fit within the command length limit")
)

// Prober reports facts about the active connection.
type Prober interface {
	SupportsExtendedCommandLength() bool
}

// LimitFor returns the length budget for commands sent over p.
func LimitFor(p Prober) int {
	if p.SupportsExtendedCommandLength() {
		return ExtendedLengthLimit
	}
	return LengthLimit
}

// Prepare returns the commands to issue for c on a connection described
// by p: c itself when it fits, otherwise the result of Split.
func Prepare(c Command, p Prober) ([]Command, error) {
	return Split(c, LimitFor(p))
}

// Split partitions c into commands whose renderings are at most limit
// bytes long.  The identifiers are compacted first, then consumed
// greedily in rendering order (singles, then ranges) into as few
// sub-commands as the greedy fill produces.  Every identifier lands in
// exactly one sub-command and ranges are never divided.  A command that
// already fits is returned unchanged.
func Split(c Command, limit int) ([]Command, error) {
	if len(c.String()) <= limit {
		return []Command{c}, nil
	}
	if c.set.IsEmpty() {
		return nil, errors.Wrapf(ErrNoIdentifiers, "%s command of %d bytes exceeds %d",
			c.kind, len(c.String()), limit)
	}

	set := c.set.Compact()
	sort.Slice(set.Singles, func(i, j int) bool { return set.Singles[i] < set.Singles[j] })
	sort.Slice(set.Ranges, func(i, j int) bool { return set.Ranges[i].Start < set.Ranges[j].Start })

	base := c.overhead()
	var (
		out    []Command
		cur    uidset.Set
		length = base
	)
	take := func(tok string, add func()) error {
		n := len(tok) + 1 // the token plus its comma or trailing space
		if length+n > limit && !cur.IsEmpty() {
			out = append(out, c.WithSet(cur))
			cur = uidset.Set{}
			length = base
		}
		if length+n > limit {
			return errors.Wrapf(ErrItemTooLong, "%q needs %d bytes, limit %d", tok, base+n, limit)
		}
		add()
		length += n
		return nil
	}

	for _, id := range set.Singles {
		id := id
		if err := take(strconv.FormatUint(id, 10), func() { cur.AddID(id) }); err != nil {
			return nil, err
		}
	}
	for _, r := range set.Ranges {
		r := r
		if err := take(r.String(), func() { cur.Ranges = append(cur.Ranges, r) }); err != nil {
			return nil, err
		}
	}
	if !cur.IsEmpty() {
		out = append(out, c.WithSet(cur))
	}
	return out, nil
}

// Run issues cmds through exec strictly in order, stopping at the first
// failure.  The protocol correlates responses per connection, so
// sub-commands are never interleaved.
func Run(ctx context.Context, cmds []Command, exec func(context.Context, Command) error) error {
	for i, c := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := exec(ctx, c); err != nil {
			return errors.Wrapf(err, "%s command %d of %d", c.kind, i+1, len(cmds))
		}
	}
	return nil
}
